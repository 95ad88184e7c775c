package storage

import (
	"context"
	"sort"
	"sync"
)

type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints = make(map[string]Checkpoint)
	return nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp.Document = append([]byte(nil), cp.Document...)
	s.checkpoints[cp.ID] = cp
	return nil
}

func (s *MemoryStore) GetCheckpoint(_ context.Context, id string) (Checkpoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[id]
	if !ok {
		return Checkpoint{}, false, nil
	}
	cp.Document = append([]byte(nil), cp.Document...)
	return cp, true, nil
}

func (s *MemoryStore) ListCheckpoints(_ context.Context) ([]Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]Checkpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		cp.Document = append([]byte(nil), cp.Document...)
		list = append(list, cp)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	return list, nil
}

func (s *MemoryStore) DeleteCheckpoint(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.checkpoints, id)
	return nil
}
