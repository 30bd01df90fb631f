package store

import (
	"context"
	"sync"

	"modsmith/internal/artifact"
)

// MemoryStore keeps trees in process. Trees are immutable, so they are
// stored without copying.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]artifact.Tree
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: map[string]artifact.Tree{}}
}

func (s *MemoryStore) Save(_ context.Context, runID string, tree artifact.Tree) error {
	id, err := saveKey(runID, tree)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.runs[id] = tree
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, runID string) (artifact.Tree, error) {
	id, err := runKey(runID)
	if err != nil {
		return artifact.Tree{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	tree, ok := s.runs[id]
	if !ok {
		return artifact.Tree{}, ErrNotFound
	}
	return tree, nil
}

func (s *MemoryStore) Link(_ context.Context, runID, path string) (string, error) {
	_, _, err := fileKey(runID, path)
	return "", err
}
