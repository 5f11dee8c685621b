package repository

import (
	"sync"

	"doc-smart-go/internal/model"
)

type memoryEntry struct {
	docStem string
	parent  model.ParentChunk
}

// MemoryParentStore 是 ParentRepository 的内存实现，供单元测试与轻量部署使用。
type MemoryParentStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryParentStore 创建一个空的内存父块存储。
func NewMemoryParentStore() *MemoryParentStore {
	return &MemoryParentStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryParentStore) Put(docStem string, parent model.ParentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[parent.ID] = memoryEntry{docStem: docStem, parent: parent}
	return nil
}

func (s *MemoryParentStore) PutBatch(docStem string, parents []model.ParentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, parent := range parents {
		s.entries[parent.ID] = memoryEntry{docStem: docStem, parent: parent}
	}
	return nil
}

func (s *MemoryParentStore) Load(parentID string) (*model.ParentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[parentID]
	if !ok {
		return nil, nil
	}
	parent := entry.parent
	return &parent, nil
}

func (s *MemoryParentStore) LoadMany(parentIDs []string) ([]model.ParentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	results := make([]model.ParentChunk, 0, len(parentIDs))
	for _, id := range parentIDs {
		if entry, ok := s.entries[id]; ok {
			results = append(results, entry.parent)
		}
	}
	return results, nil
}

func (s *MemoryParentStore) Delete(parentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, parentID)
	return nil
}

func (s *MemoryParentStore) DeleteByDocStem(docStem string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.entries {
		if entry.docStem == docStem {
			delete(s.entries, id)
		}
	}
	return nil
}

func (s *MemoryParentStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]memoryEntry)
	return nil
}
