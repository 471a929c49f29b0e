// Package dedupe remembers recently seen reads so that a device replaying its
// buffer after a reconnect does not re-broadcast the same result.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/okian/racefeed/internal/domain/model"
)

const defaultMaxSize = 100000

// Deduper records seen read keys.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen.
	SeenAndRecord(ctx context.Context, id string) bool

	// Reset forgets every recorded id.
	Reset()

	Size() int64
}

// Key identifies a read across device replays.
func Key(rec model.TimingRecord) string {
	return rec.Location + "|" + rec.Sequence + "|" + rec.Bib
}

// inMemoryDeduper keeps ids in a map plus an insertion-ordered list. When the
// bound is reached the oldest id is evicted first.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List
	maxSize int // 0 or negative means unbounded
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
		seen:    make(map[string]*list.Element),
		order:   list.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.seen[id]; exists {
		return true
	}
	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.evictOldest()
	}
	d.seen[id] = d.order.PushBack(id)
	d.size.Store(int64(len(d.seen)))
	return false
}

func (d *inMemoryDeduper) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]*list.Element)
	d.order.Init()
	d.size.Store(0)
}

// evictOldest must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	front := d.order.Front()
	if front == nil {
		return
	}
	d.order.Remove(front)
	delete(d.seen, front.Value.(string))
}

func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}

// Nop never reports a duplicate.
type Nop struct{}

func (Nop) SeenAndRecord(context.Context, string) bool { return false }
func (Nop) Reset()                                     {}
func (Nop) Size() int64                                { return 0 }
