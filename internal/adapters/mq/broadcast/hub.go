// Package broadcast fans processed results out to every live stream consumer.
package broadcast

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/pkg/logger"
	"github.com/okian/racefeed/pkg/metrics"
)

const (
	defaultBuffer    = 256
	defaultHeartbeat = time.Second
)

// Item is one element of a consumer's stream: a result, or a heartbeat when
// nothing arrived within the heartbeat interval.
type Item struct {
	Result    model.ProcessedResult
	Heartbeat bool
}

// Hub delivers every published result to every subscriber. Each subscriber
// owns a bounded queue; a full queue drops the result for that subscriber
// only.
type Hub struct {
	mu        sync.RWMutex
	subs      map[string]*Subscription
	closed    bool
	buffer    int
	heartbeat time.Duration
	published atomic.Int64
	dropped   atomic.Int64
	log       logger.Logger
}

// NewHub creates a hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		subs:      make(map[string]*Subscription),
		buffer:    defaultBuffer,
		heartbeat: defaultHeartbeat,
		log:       logger.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Publish hands res to every subscriber without blocking.
func (h *Hub) Publish(res model.ProcessedResult) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.published.Add(1)
	metrics.RecordPublished()
	for _, s := range h.subs {
		select {
		case s.ch <- res:
		default:
			s.dropped.Add(1)
			h.dropped.Add(1)
			metrics.RecordDropped()
		}
	}
}

// Subscribe registers a new consumer. After Close it returns an already
// closed subscription.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{
		id:        uuid.NewString(),
		ch:        make(chan model.ProcessedResult, h.buffer),
		done:      make(chan struct{}),
		heartbeat: h.heartbeat,
		hub:       h,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(s.done)
		return s
	}
	h.subs[s.id] = s
	metrics.UpdateSubscribers(len(h.subs))
	h.log.Debug(context.Background(), "subscriber added", logger.String("subscriber", s.id))
	return s
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; !ok {
		return
	}
	delete(h.subs, id)
	metrics.UpdateSubscribers(len(h.subs))
	h.log.Debug(context.Background(), "subscriber removed", logger.String("subscriber", id))
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Stats returns the published and dropped counters.
func (h *Hub) Stats() (published, dropped int64) {
	return h.published.Load(), h.dropped.Load()
}

// Close ends every subscription. Publish becomes a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := h.subs
	h.subs = make(map[string]*Subscription)
	h.mu.Unlock()

	for _, s := range subs {
		s.closeOnce.Do(func() { close(s.done) })
	}
	metrics.UpdateSubscribers(0)
}

// Subscription is one consumer's view of the hub.
type Subscription struct {
	id        string
	ch        chan model.ProcessedResult
	done      chan struct{}
	closeOnce sync.Once
	heartbeat time.Duration
	dropped   atomic.Int64
	hub       *Hub
}

// ID returns the subscriber id.
func (s *Subscription) ID() string { return s.id }

// Dropped returns how many results this subscriber missed on a full queue.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Next waits for the next result. If none arrives within the heartbeat
// interval it returns a heartbeat item. It fails only when the subscription
// is closed or ctx ends.
func (s *Subscription) Next(ctx context.Context) (Item, error) {
	// queued results are delivered before a close is observed
	select {
	case res := <-s.ch:
		return Item{Result: res}, nil
	default:
	}

	timer := time.NewTimer(s.heartbeat)
	defer timer.Stop()
	select {
	case res := <-s.ch:
		return Item{Result: res}, nil
	case <-timer.C:
		metrics.RecordHeartbeat()
		return Item{Heartbeat: true}, nil
	case <-s.done:
		return Item{}, ErrClosed
	case <-ctx.Done():
		return Item{}, ctx.Err()
	}
}

// Items yields results and heartbeats until the subscription closes, ctx
// ends or the consumer stops iterating. It cannot be restarted.
func (s *Subscription) Items(ctx context.Context) iter.Seq[Item] {
	return func(yield func(Item) bool) {
		for {
			it, err := s.Next(ctx)
			if err != nil || !yield(it) {
				return
			}
		}
	}
}

// Close detaches the subscription from the hub.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	s.hub.remove(s.id)
}
