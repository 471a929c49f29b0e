package roster

import (
	"sync"

	"github.com/okian/racefeed/internal/domain/model"
)

// Progress tracks a roster load for polling clients.
type Progress struct {
	mu sync.Mutex
	p  model.LoginProgress
}

// Reset zeroes the progress.
func (p *Progress) Reset() {
	p.mu.Lock()
	p.p = model.LoginProgress{}
	p.mu.Unlock()
}

// SetTotal records the row count reported by the first page.
func (p *Progress) SetTotal(total int) {
	p.mu.Lock()
	p.p.Total = total
	p.mu.Unlock()
}

// SetLoaded records how many entries have been merged so far.
func (p *Progress) SetLoaded(loaded int) {
	p.mu.Lock()
	p.p.Loaded = loaded
	p.mu.Unlock()
}

// Complete marks the load finished.
func (p *Progress) Complete() {
	p.mu.Lock()
	p.p.Complete = true
	p.mu.Unlock()
}

// Fail marks the load finished without a roster.
func (p *Progress) Fail() {
	p.mu.Lock()
	p.p.Complete = true
	p.p.Failed = true
	p.mu.Unlock()
}

// Snapshot returns a copy of the current progress.
func (p *Progress) Snapshot() model.LoginProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.p
}
