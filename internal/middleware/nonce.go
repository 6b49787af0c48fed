package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/GoPolymarket/settlegate/internal/pkg/apperrors"
	"github.com/GoPolymarket/settlegate/internal/pkg/logger"
	"github.com/GoPolymarket/settlegate/internal/signer"
	"github.com/gin-gonic/gin"
)

const HeaderNonceReplayed = "X-Nonce-Replayed"

// NonceStore caches the first response per (platform, nonce).
type NonceStore interface {
	// GetOrLock returns (record, true) if the key exists; (nil, false) if the
	// caller now owns it.
	GetOrLock(ctx context.Context, key string, ttl time.Duration) (*model.NonceRecord, bool, error)
	Save(ctx context.Context, key string, status int, body []byte, ttl time.Duration) error
	Unlock(ctx context.Context, key string) error
}

// MemoryNonceStore 单实例使用；多实例部署请用 Redis
type MemoryNonceStore struct {
	mu      sync.Mutex
	records map[string]*memNonce // Key: PlatformID + ":" + Nonce
	now     func() time.Time
}

type memNonce struct {
	rec       model.NonceRecord
	expiresAt time.Time
}

func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{
		records: make(map[string]*memNonce),
		now:     time.Now,
	}
}

// GetOrLock 尝试获取记录。如果不存在或已过期，则锁定并返回 nil（表示你是第一个）。
func (s *MemoryNonceStore) GetOrLock(_ context.Context, key string, ttl time.Duration) (*model.NonceRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.records[key]; ok && now.Before(e.expiresAt) {
		rec := e.rec
		return &rec, true, nil
	}
	s.records[key] = &memNonce{
		rec:       model.NonceRecord{Processing: true, CreatedAt: now},
		expiresAt: now.Add(ttl),
	}
	return nil, false, nil
}

func (s *MemoryNonceStore) Save(_ context.Context, key string, status int, body []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.records[key] = &memNonce{
		rec:       model.NonceRecord{Status: status, Body: body, CreatedAt: now},
		expiresAt: now.Add(ttl),
	}
	return nil
}

func (s *MemoryNonceStore) Unlock(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// Sweep drops expired records and reports how many were removed.
func (s *MemoryNonceStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, e := range s.records {
		if !now.Before(e.expiresAt) {
			delete(s.records, k)
			n++
		}
	}
	return n
}

// NonceMiddleware replays the first response for a repeated nonce within ttl.
// A duplicate still in flight gets 409; 5xx outcomes are not cached so the
// caller may retry.
func NonceMiddleware(store NonceStore, ttl time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		platform := PlatformFrom(c)
		nonce := c.GetHeader(signer.HeaderNonce)
		if platform == nil || nonce == "" {
			c.Next()
			return
		}
		key := platform.ID + ":" + nonce
		ctx := c.Request.Context()

		record, hit, err := store.GetOrLock(ctx, key, ttl)
		if err != nil {
			c.Error(apperrors.New(apperrors.ErrInternal, "nonce store unavailable", err))
			c.Abort()
			return
		}
		if hit {
			if record.Processing {
				c.Error(apperrors.New(apperrors.ErrInProgress, "request with this nonce is in progress", nil))
				c.Abort()
				return
			}
			c.Header(HeaderNonceReplayed, "true")
			c.Data(record.Status, "application/json; charset=utf-8", record.Body)
			c.Abort()
			return
		}

		w := &responseBodyWriter{ResponseWriter: c.Writer}
		c.Writer = w

		c.Next()

		// Render pending errors here so the envelope is captured and cached.
		RenderError(c)

		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if c.Writer.Status() < http.StatusInternalServerError {
			err = store.Save(saveCtx, key, c.Writer.Status(), w.body, ttl)
		} else {
			err = store.Unlock(saveCtx, key)
		}
		if err != nil {
			logger.LogError(ctx, err, "nonce store write failed", "platform_id", platform.ID)
		}
	}
}

type responseBodyWriter struct {
	gin.ResponseWriter
	body []byte
}

func (w *responseBodyWriter) Write(b []byte) (int, error) {
	w.body = append(w.body, b...)
	return w.ResponseWriter.Write(b)
}

func (w *responseBodyWriter) WriteString(s string) (int, error) {
	w.body = append(w.body, s...)
	return w.ResponseWriter.WriteString(s)
}
