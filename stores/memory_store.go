package stores

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oarkflow/permission"
)

// MemoryDefinitionStore holds definitions in-memory for testing/demo
type MemoryDefinitionStore struct {
	mu          sync.RWMutex
	definitions map[string]*Definition
	histories   map[string][]*Definition
}

func NewMemoryDefinitionStore() *MemoryDefinitionStore {
	return &MemoryDefinitionStore{
		definitions: make(map[string]*Definition),
		histories:   make(map[string][]*Definition),
	}
}

func (s *MemoryDefinitionStore) Save(ctx context.Context, name string, cfg *permission.Config) (*Definition, error) {
	payload, checksum, err := encodeConfig(cfg)
	if err != nil {
		return nil, err
	}
	// decode back so the stored document never aliases caller memory
	stored, err := decodeConfig(payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// revisions continue from the history, so a deleted name never reuses one
	rev := 1
	if h := s.histories[name]; len(h) > 0 {
		rev = h[len(h)-1].Revision + 1
	}
	def := &Definition{
		Name:      name,
		Config:    stored,
		Revision:  rev,
		Checksum:  checksum,
		UpdatedAt: time.Now(),
	}
	s.definitions[name] = def
	s.histories[name] = append(s.histories[name], def)
	return cloneDefinition(def), nil
}

func (s *MemoryDefinitionStore) Get(ctx context.Context, name string) (*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.definitions[name]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDefinition(def), nil
}

func (s *MemoryDefinitionStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.definitions))
	for name := range s.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryDefinitionStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.definitions, name)
	return nil
}

func (s *MemoryDefinitionStore) History(ctx context.Context, name string, limit int) ([]*Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.histories[name]
	if !ok || len(h) == 0 {
		return nil, ErrNotFound
	}
	if n := historyLimit(limit); len(h) > n {
		h = h[len(h)-n:]
	}
	out := make([]*Definition, len(h))
	for i, def := range h {
		out[i] = cloneDefinition(def)
	}
	return out, nil
}

func cloneDefinition(def *Definition) *Definition {
	if def == nil {
		return nil
	}
	dup := *def
	return &dup
}
