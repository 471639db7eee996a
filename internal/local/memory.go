package local

import (
	"encoding/json"
	"fmt"
	"sync"

	"classdesk/api/internal/schema"
)

// MemoryStore keeps the serialized blob in process memory. It is used by tests
// and by devices that run without a data directory.
type MemoryStore struct {
	mu     sync.Mutex
	data   []byte
	saves  int
	clears int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (schema.Partial, error) {
	s.mu.Lock()
	data := s.data
	s.mu.Unlock()
	if data == nil {
		return nil, ErrNotFound
	}
	partial, err := schema.ParsePartial(data)
	if err != nil {
		return nil, &CorruptedError{Path: "memory", Err: err}
	}
	return partial, nil
}

func (s *MemoryStore) Save(doc schema.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal local document: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.saves++
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	s.clears++
	return nil
}

// SetRaw replaces the blob with arbitrary bytes.
func (s *MemoryStore) SetRaw(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append([]byte(nil), data...)
}

// Raw returns a copy of the stored blob and whether one exists.
func (s *MemoryStore) Raw() ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, false
	}
	return append([]byte(nil), s.data...), true
}

// Saves returns how many times Save succeeded.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Clears returns how many times Clear was called.
func (s *MemoryStore) Clears() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}
