package service

import (
	"context"
	"sort"
	"sync"

	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/GoPolymarket/settlegate/internal/repository"
)

// MemoryPlatformRepo backs the registry when no database is configured.
type MemoryPlatformRepo struct {
	mu        sync.RWMutex
	platforms map[string]*model.Platform
}

func NewMemoryPlatformRepo() *MemoryPlatformRepo {
	return &MemoryPlatformRepo{platforms: make(map[string]*model.Platform)}
}

func (m *MemoryPlatformRepo) GetByID(_ context.Context, id string) (*model.Platform, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.platforms[id]
	if !ok {
		return nil, repository.ErrPlatformNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryPlatformRepo) List(_ context.Context, limit, offset int) ([]*model.Platform, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]*model.Platform, 0, len(m.platforms))
	for _, p := range m.platforms {
		all = append(all, p.Clone())
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return []*model.Platform{}, nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *MemoryPlatformRepo) Create(_ context.Context, p *model.Platform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.platforms[p.ID]; ok {
		return repository.ErrPlatformExists
	}
	m.platforms[p.ID] = p.Clone()
	return nil
}

func (m *MemoryPlatformRepo) Update(_ context.Context, p *model.Platform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.platforms[p.ID]; !ok {
		return repository.ErrPlatformNotFound
	}
	m.platforms[p.ID] = p.Clone()
	return nil
}
