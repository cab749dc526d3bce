// Command test-server is a mock JSON-RPC node for trying rpcbench locally.
//
//	go run ./scripts/test-server --addr :8545 --latency 20ms --error-rate 0.05
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"log"
	"math/rand/v2"
	"net/http"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
)

type serverConfig struct {
	latency   time.Duration
	jitter    time.Duration
	errorRate float64

	// unknownMethods answer with -32601
	unknownMethods map[string]bool
}

type rpcHandler struct {
	cfg    serverConfig
	height atomic.Uint64
}

func newHandler(cfg serverConfig) *rpcHandler {
	h := &rpcHandler{cfg: cfg}
	h.height.Store(0x100000)
	return h
}

func (h *rpcHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var body bytes.Buffer
	if _, err := body.ReadFrom(http.MaxBytesReader(w, r.Body, 1<<20)); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	req := body.String()
	if !gjson.Valid(req) {
		writeRPC(w, nil, nil, &rpcError{Code: -32700, Message: "parse error"})
		return
	}
	id := json.RawMessage(gjson.Get(req, "id").Raw)
	method := gjson.Get(req, "method").String()

	delay := h.cfg.latency
	if h.cfg.jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(h.cfg.jitter)))
	}
	time.Sleep(delay)

	switch {
	case method == "" || h.cfg.unknownMethods[method]:
		writeRPC(w, id, nil, &rpcError{Code: -32601, Message: "method not found"})
	case h.cfg.errorRate > 0 && rand.Float64() < h.cfg.errorRate:
		w.WriteHeader(http.StatusServiceUnavailable)
	case method == "eth_blockNumber":
		writeRPC(w, id, hexQuantity(h.height.Add(1)), nil)
	case method == "eth_chainId" || method == "net_version":
		writeRPC(w, id, "0x1", nil)
	default:
		writeRPC(w, id, nil, nil)
	}
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func writeRPC(w http.ResponseWriter, id json.RawMessage, result any, rpcErr *rpcError) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	w.Header().Set("Content-Type", "application/json")
	if result == nil && rpcErr == nil {
		// result must be present on success, even when null
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(id) + `,"result":null}`))
		return
	}
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: id, Result: result, Error: rpcErr})
}

func hexQuantity(n uint64) string {
	const digits = "0123456789abcdef"
	if n == 0 {
		return "0x0"
	}
	var buf [16]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = digits[n&0xf]
		n >>= 4
	}
	return "0x" + string(buf[i:])
}

func main() {
	addr := flag.String("addr", ":8545", "listen address")
	latency := flag.Duration("latency", 0, "base response latency")
	jitter := flag.Duration("jitter", 0, "random extra latency up to this much")
	errorRate := flag.Float64("error-rate", 0, "fraction of calls answered with HTTP 503")
	unknown := flag.String("unknown-methods", "", "comma-separated methods answered with -32601")
	flag.Parse()

	cfg := serverConfig{latency: *latency, jitter: *jitter, errorRate: *errorRate, unknownMethods: map[string]bool{}}
	for _, m := range strings.Split(*unknown, ",") {
		if m = strings.TrimSpace(m); m != "" {
			cfg.unknownMethods[m] = true
		}
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           newHandler(cfg),
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	log.Printf("Starting mock JSON-RPC node on %s", *addr)
	log.Printf("Using %d CPU cores", runtime.NumCPU())

	if err := server.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}
