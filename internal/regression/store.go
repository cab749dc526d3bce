package regression

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// BaselineStore holds baselines keyed by endpoint and method.
type BaselineStore interface {
	Put(b Baseline) error

	// Latest returns the newest baseline for endpoint+method whose window
	// ended at or before before. A zero before accepts any baseline.
	Latest(endpoint, method string, before time.Time) (Baseline, bool)

	All() []Baseline
}

// MemoryStore is an in-memory BaselineStore.
//
// MemoryStore is safe for concurrent use.
type MemoryStore struct {
	mu        sync.RWMutex
	baselines map[string][]Baseline // sorted by Stats.End
}

// NewMemoryStore creates a store seeded with baselines.
func NewMemoryStore(baselines ...Baseline) *MemoryStore {
	s := &MemoryStore{baselines: make(map[string][]Baseline)}
	for _, b := range baselines {
		_ = s.Put(b)
	}
	return s
}

func key(endpoint, method string) string {
	return endpoint + "\x00" + method
}

// Put adds b.
func (s *MemoryStore) Put(b Baseline) error {
	if b.Endpoint == "" || b.Method == "" {
		return fmt.Errorf("baseline needs an endpoint and method")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(b.Endpoint, b.Method)
	list := append(s.baselines[k], b)
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Stats.End.Before(list[j].Stats.End)
	})
	s.baselines[k] = list
	return nil
}

// Latest implements BaselineStore.
func (s *MemoryStore) Latest(endpoint, method string, before time.Time) (Baseline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.baselines[key(endpoint, method)]
	for i := len(list) - 1; i >= 0; i-- {
		if before.IsZero() || !list[i].Stats.End.After(before) {
			return list[i], true
		}
	}
	return Baseline{}, false
}

// All returns every baseline ordered by endpoint, method and window end.
func (s *MemoryStore) All() []Baseline {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.baselines))
	for k := range s.baselines {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []Baseline
	for _, k := range keys {
		out = append(out, s.baselines[k]...)
	}
	return out
}

// baselineFile is the on-disk document.
type baselineFile struct {
	Baselines []Baseline `json:"baselines" yaml:"baselines"`
}

// LoadBaselines reads a YAML or JSON baseline file, chosen by extension.
func LoadBaselines(path string) ([]Baseline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read baseline file: %w", err)
	}

	var file baselineFile
	if isYAML(path) {
		err = yaml.Unmarshal(data, &file)
	} else {
		err = json.Unmarshal(data, &file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse baseline file: %w", err)
	}
	return file.Baselines, nil
}

// SaveBaselines writes baselines to path as YAML or JSON, chosen by extension.
func SaveBaselines(path string, baselines []Baseline) error {
	file := baselineFile{Baselines: baselines}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(file)
	} else {
		data, err = json.MarshalIndent(file, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode baselines: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write baseline file: %w", err)
	}
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
