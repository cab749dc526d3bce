package engine

import (
	"sync"

	"github.com/wesleyorama2/rpcbench/internal/rpc"
)

// collector holds every attempt of one run, keyed by endpoint and method.
// Recorders are bounded and shared across runs, so run statistics are built
// from here instead.
type collector struct {
	mu       sync.Mutex
	attempts map[string]map[string][]rpc.RequestAttempt
}

func newCollector() *collector {
	return &collector{attempts: make(map[string]map[string][]rpc.RequestAttempt)}
}

func (c *collector) add(endpoint, method string, attempts ...rpc.RequestAttempt) {
	c.mu.Lock()
	defer c.mu.Unlock()

	byMethod, ok := c.attempts[endpoint]
	if !ok {
		byMethod = make(map[string][]rpc.RequestAttempt)
		c.attempts[endpoint] = byMethod
	}
	byMethod[method] = append(byMethod[method], attempts...)
}

// get returns the attempts recorded for endpoint and method in completion
// order.
func (c *collector) get(endpoint, method string) []rpc.RequestAttempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts[endpoint][method]
}
