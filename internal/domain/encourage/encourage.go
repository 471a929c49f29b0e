// Package encourage picks the cheer message attached to each matched read.
package encourage

import (
	"math/rand"
	"sync"
	"time"
)

// DefaultMessages are used when no messages are configured.
var DefaultMessages = []string{ //nolint:gochecknoglobals // default message set
	"Great job!",
	"Keep it up!",
	"You're doing amazing!",
	"Almost there!",
	"Looking strong!",
}

// Option applies a configuration option to the Picker.
type Option func(*Picker)

// WithMessages replaces the message set. Empty messages are dropped; an
// empty result keeps the defaults.
func WithMessages(messages []string) Option {
	return func(p *Picker) {
		kept := make([]string, 0, len(messages))
		for _, m := range messages {
			if m != "" {
				kept = append(kept, m)
			}
		}
		if len(kept) > 0 {
			p.messages = kept
		}
	}
}

// WithSeed makes the picker deterministic.
func WithSeed(seed int64) Option {
	return func(p *Picker) {
		p.rng = rand.New(rand.NewSource(seed)) //nolint:gosec // message choice is not security sensitive
	}
}

// Picker draws messages uniformly at random. Safe for concurrent use.
type Picker struct {
	mu       sync.Mutex
	messages []string
	rng      *rand.Rand
}

// NewPicker creates a picker with the default messages.
func NewPicker(opts ...Option) *Picker {
	p := &Picker{
		messages: DefaultMessages,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // message choice is not security sensitive
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Pick returns one message.
func (p *Picker) Pick() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messages[p.rng.Intn(len(p.messages))]
}

// Messages returns a copy of the message set.
func (p *Picker) Messages() []string {
	return append([]string(nil), p.messages...)
}
