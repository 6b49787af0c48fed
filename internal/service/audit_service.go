package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/GoPolymarket/settlegate/internal/pkg/logger"
)

const auditQueueSize = 1000

// AuditService writes audit records off the request path: to a daily JSONL
// file, to an optional repo, and to an in-memory ring used when the repo is
// unavailable.
type AuditService struct {
	logChan chan *model.AuditLog
	logFile *os.File
	buffer  *auditBuffer
	repo    AuditRepo
	done    chan struct{}
	dropped *logger.Throttled
}

type AuditRepo interface {
	Insert(ctx context.Context, entry *model.AuditLog) error
	List(ctx context.Context, platformID string, limit int, from, to *time.Time) ([]*model.AuditLog, error)
}

func NewAuditService(logDir string, repo AuditRepo) (*AuditService, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}

	filename := filepath.Join(logDir, "audit-"+time.Now().UTC().Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	svc := &AuditService{
		logChan: make(chan *model.AuditLog, auditQueueSize),
		logFile: f,
		buffer:  newAuditBuffer(auditQueueSize),
		repo:    repo,
		done:    make(chan struct{}),
		dropped: logger.NewThrottled(10 * time.Second),
	}
	go svc.processLogs()
	return svc, nil
}

// Log never blocks; when the queue is full the record only reaches the ring.
func (s *AuditService) Log(entry *model.AuditLog) {
	s.buffer.Add(entry)
	select {
	case s.logChan <- entry:
	default:
		s.dropped.Warn("audit queue full, record kept in memory only", "request_id", entry.ID)
	}
}

func (s *AuditService) List(ctx context.Context, platformID string, limit int, from, to *time.Time) ([]*model.AuditLog, error) {
	if s.repo != nil {
		records, err := s.repo.List(ctx, platformID, limit, from, to)
		if err == nil {
			return records, nil
		}
		logger.LogError(ctx, err, "audit repo list failed, serving from memory")
	}
	return s.buffer.List(platformID, limit, from, to), nil
}

func (s *AuditService) processLogs() {
	defer close(s.done)
	encoder := json.NewEncoder(s.logFile)
	for entry := range s.logChan {
		if s.repo != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.repo.Insert(ctx, entry); err != nil {
				logger.Error("failed to write audit record to repo", "request_id", entry.ID, "error", err.Error())
			}
			cancel()
		}
		if err := encoder.Encode(entry); err != nil {
			logger.Error("failed to write audit record to file", "request_id", entry.ID, "error", err.Error())
		}
	}
}

// Close drains the queue and closes the file.
func (s *AuditService) Close() {
	close(s.logChan)
	<-s.done
	_ = s.logFile.Close()
}

type auditBuffer struct {
	mu        sync.Mutex
	maxSize   int
	records   []*model.AuditLog
	nextIndex int
}

func newAuditBuffer(maxSize int) *auditBuffer {
	if maxSize <= 0 {
		maxSize = auditQueueSize
	}
	return &auditBuffer{
		maxSize: maxSize,
		records: make([]*model.AuditLog, 0, maxSize),
	}
}

func (b *auditBuffer) Add(entry *model.AuditLog) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, entry)
		return
	}
	b.records[b.nextIndex] = entry
	b.nextIndex = (b.nextIndex + 1) % b.maxSize
}

// List walks newest first.
func (b *auditBuffer) List(platformID string, limit int, from, to *time.Time) []*model.AuditLog {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > b.maxSize {
		limit = b.maxSize
	}
	results := make([]*model.AuditLog, 0, limit)
	total := len(b.records)
	for i := 0; i < total && len(results) < limit; i++ {
		entry := b.records[(b.nextIndex+total-1-i)%total]
		if entry == nil {
			continue
		}
		if platformID != "" && entry.PlatformID != platformID {
			continue
		}
		if from != nil && entry.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && entry.CreatedAt.After(*to) {
			continue
		}
		results = append(results, entry)
	}
	return results
}
