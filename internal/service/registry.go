package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/GoPolymarket/settlegate/internal/config"
	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/GoPolymarket/settlegate/internal/repository"
	"golang.org/x/sync/singleflight"
)

// ErrPlatformNotFound is returned by Lookup for unknown platform ids.
var ErrPlatformNotFound = repository.ErrPlatformNotFound

// PlatformRepo is the durable platform store behind the registry cache.
type PlatformRepo interface {
	GetByID(ctx context.Context, id string) (*model.Platform, error)
	List(ctx context.Context, limit, offset int) ([]*model.Platform, error)
	Create(ctx context.Context, p *model.Platform) error
	Update(ctx context.Context, p *model.Platform) error
}

type cachedPlatform struct {
	platform  *model.Platform
	expiresAt time.Time
	version   int64
}

// PlatformVersions is a per-platform change counter shared by every instance.
// Invalidate bumps it; Lookup drops cache entries loaded under an older value,
// so a write made on one instance is seen by all of them at once.
type PlatformVersions interface {
	Version(ctx context.Context, id string) (int64, error)
	Bump(ctx context.Context, id string) error
}

// PlatformRegistry 是平台配置的读穿缓存 (secret / budget / active 每个请求都要读)
//
// Every administrative write must call Invalidate; a rotated secret stops
// verifying from that call on.
type PlatformRegistry struct {
	repo  PlatformRepo
	ttl   time.Duration
	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedPlatform
	// gen is bumped by Invalidate so that a load started before the
	// invalidation can neither be joined nor stored afterwards.
	gen map[string]uint64
	now func() time.Time

	versions PlatformVersions
}

func NewPlatformRegistry(repo PlatformRepo, ttl time.Duration) *PlatformRegistry {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &PlatformRegistry{
		repo:  repo,
		ttl:   ttl,
		cache: make(map[string]cachedPlatform),
		gen:   make(map[string]uint64),
		now:   time.Now,
	}
}

// WithSharedVersions makes the cache honour invalidations from other
// instances. Needed whenever more than one instance shares the platform repo.
func (r *PlatformRegistry) WithSharedVersions(v PlatformVersions) *PlatformRegistry {
	r.versions = v
	return r
}

// Lookup returns a copy of the platform; callers may not mutate registry state.
func (r *PlatformRegistry) Lookup(ctx context.Context, id string) (*model.Platform, error) {
	if id == "" {
		return nil, ErrPlatformNotFound
	}
	var version int64
	if r.versions != nil {
		v, err := r.versions.Version(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("platform version %s: %w", id, err)
		}
		version = v
	}
	r.mu.RLock()
	entry, ok := r.cache[id]
	gen := r.gen[id]
	r.mu.RUnlock()
	if ok && entry.version == version && r.now().Before(entry.expiresAt) {
		return entry.platform.Clone(), nil
	}

	key := id + "#" + strconv.FormatUint(gen, 10) + "#" + strconv.FormatInt(version, 10)
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		p, err := r.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		if r.gen[id] == gen {
			r.cache[id] = cachedPlatform{platform: p.Clone(), expiresAt: r.now().Add(r.ttl), version: version}
		}
		r.mu.Unlock()
		return p, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrPlatformNotFound) {
			return nil, ErrPlatformNotFound
		}
		return nil, err
	}
	return v.(*model.Platform).Clone(), nil
}

// Invalidate drops the local entry and, with shared versions, every other
// instance's entry too. An error means other instances may serve the old
// platform until their TTL runs out.
func (r *PlatformRegistry) Invalidate(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.cache, id)
	r.gen[id]++
	r.mu.Unlock()
	if r.versions == nil {
		return nil
	}
	if err := r.versions.Bump(ctx, id); err != nil {
		return fmt.Errorf("invalidate platform %s: %w", id, err)
	}
	return nil
}

// SeedFromConfig writes the configured platforms into repo, skipping ids that
// already exist. Used to bootstrap a fresh database or the in-memory repo.
func SeedFromConfig(ctx context.Context, repo PlatformRepo, platforms []config.PlatformConfig) error {
	for _, pc := range platforms {
		if pc.ID == "" {
			continue
		}
		if _, err := repo.GetByID(ctx, pc.ID); err == nil {
			continue
		} else if !errors.Is(err, repository.ErrPlatformNotFound) {
			return err
		}
		now := time.Now().UTC()
		p := &model.Platform{
			ID:         pc.ID,
			Name:       pc.Name,
			Secret:     pc.Secret,
			Active:     pc.Active,
			Public:     pc.Public,
			RateBudget: pc.RateBudget,
			WebhookURL: pc.WebhookURL,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := repo.Create(ctx, p); err != nil && !errors.Is(err, repository.ErrPlatformExists) {
			return err
		}
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrTransactionNotFound) || errors.Is(err, repository.ErrPlatformNotFound)
}
