package service

import (
	"sync"
	"sync/atomic"

	"github.com/GoPolymarket/settlegate/internal/model"
	"github.com/GoPolymarket/settlegate/internal/pkg/logger"
)

// EventBus fans settlement events out to in-process subscribers (webhooks,
// the admin live feed). Publish never blocks the ledger: a subscriber whose
// buffer is full misses the event.
type EventBus struct {
	mu      sync.RWMutex
	subs    map[int]chan *model.SettlementEvent
	nextID  int
	buffer  int
	dropped atomic.Int64
}

func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &EventBus{
		subs:   make(map[int]chan *model.SettlementEvent),
		buffer: buffer,
	}
}

// Subscribe returns a receive channel and a cancel func that closes it.
func (b *EventBus) Subscribe() (<-chan *model.SettlementEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan *model.SettlementEvent, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *EventBus) Publish(ev *model.SettlementEvent) {
	if b == nil || ev == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			if b.dropped.Add(1)%100 == 1 {
				logger.Warn("settlement event dropped, subscriber too slow", "dropped_total", b.dropped.Load())
			}
		}
	}
}

func (b *EventBus) Dropped() int64 {
	return b.dropped.Load()
}
