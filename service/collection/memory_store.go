package collection

import (
	"context"
	"sync"
	"time"

	"knowledge-base-backend/model"
)

// MemoryStore 单进程模式与测试使用的知识库元数据存储
type MemoryStore struct {
	mu          sync.Mutex
	collections []*model.Collection
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) CreateCollection(_ context.Context, c *model.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = uint(len(s.collections) + 1)
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	stored := *c
	s.collections = append(s.collections, &stored)
	return nil
}

func (s *MemoryStore) CheckNameConflicts(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.collections {
		if c.Name == name && !c.IsDeleted {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) GetCollectionsByTeam(_ context.Context, teamID string) ([]model.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Collection
	for i := len(s.collections) - 1; i >= 0; i-- {
		if c := s.collections[i]; c.TeamID == teamID && !c.IsDeleted {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *MemoryStore) find(teamID, name string) *model.Collection {
	for _, c := range s.collections {
		if c.TeamID == teamID && c.Name == name && !c.IsDeleted {
			return c
		}
	}
	return nil
}

func (s *MemoryStore) FindCollectionByName(_ context.Context, teamID, name string) (*model.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.find(teamID, name)
	if c == nil {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) DeleteCollectionByName(_ context.Context, teamID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.find(teamID, name); c != nil {
		c.IsDeleted = true
	}
	return nil
}

func (s *MemoryStore) UpdateCollectionByName(_ context.Context, teamID, name string, update model.CollectionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.find(teamID, name)
	if c == nil {
		return ErrCollectionNotFound
	}
	c.Apply(update)
	c.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) RegisterMetadataFieldsIfAbsent(_ context.Context, teamID, name string, fieldNames []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.find(teamID, name)
	if c == nil {
		return nil, ErrCollectionNotFound
	}
	fields, err := c.Fields()
	if err != nil {
		return nil, err
	}

	existing := make(map[string]bool, len(fields))
	for _, f := range fields {
		existing[f.Name] = true
	}
	var added []string
	for _, n := range fieldNames {
		if n == "" || existing[n] {
			continue
		}
		existing[n] = true
		added = append(added, n)
		fields = append(fields, model.MetadataField{Name: n, DisplayName: n})
	}
	if len(added) == 0 {
		return nil, nil
	}
	return added, c.SetFields(fields)
}
