package durable

import (
	"context"
	"sync"
)

// MemoryStore keeps step memos in process memory. It is intended for
// development and test environments where Postgres is not available; it
// loses checkpoints on restart and must not back a production worker.
type MemoryStore struct {
	mu    sync.Mutex
	steps map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{steps: map[string][]byte{}}
}

func (s *MemoryStore) GetStep(_ context.Context, runID, name string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload, ok := s.steps[runID+"\x00"+name]
	return payload, ok, nil
}

func (s *MemoryStore) PutStep(_ context.Context, runID, name string, payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runID + "\x00" + name
	if existing, ok := s.steps[key]; ok {
		return existing, nil
	}
	cp := append([]byte(nil), payload...)
	s.steps[key] = cp
	return cp, nil
}
