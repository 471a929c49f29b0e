// Package correlate joins parsed reads with the roster and hands the result
// to live consumers and storage.
package correlate

import (
	"context"

	"github.com/okian/racefeed/internal/domain/dedupe"
	"github.com/okian/racefeed/internal/domain/failure"
	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/internal/domain/protocol"
	"github.com/okian/racefeed/pkg/logger"
	"github.com/okian/racefeed/pkg/metrics"
)

// Outcome is what happened to one record.
type Outcome int

const (
	// OutcomeDiscarded means the record was a gun time pulse.
	OutcomeDiscarded Outcome = iota
	// OutcomeMatched means the record was enriched and published.
	OutcomeMatched
	// OutcomeUnmatched means the bib is not in the roster.
	OutcomeUnmatched
	// OutcomeReplayed means the record matched but was already published.
	OutcomeReplayed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDiscarded:
		return "discarded"
	case OutcomeMatched:
		return "matched"
	case OutcomeUnmatched:
		return "unmatched"
	case OutcomeReplayed:
		return "replayed"
	default:
		return "unknown"
	}
}

// Roster looks up participants by bib.
type Roster interface {
	Lookup(bib string) (model.RosterEntry, bool)
}

// Publisher delivers processed results to live consumers. It must not block.
type Publisher interface {
	Publish(res model.ProcessedResult)
}

// Recorder stores raw records.
type Recorder interface {
	Record(ctx context.Context, rec model.TimingRecord, matched bool) error
}

// Picker supplies the message attached to a result.
type Picker interface {
	Pick() string
}

// Correlator routes records. Safe for concurrent use by connection handlers.
type Correlator struct {
	roster    Roster
	publisher Publisher
	recorder  Recorder
	picker    Picker
	replay    dedupe.Deduper
	log       logger.Logger
}

// Option applies a configuration option to the Correlator.
type Option func(*Correlator)

// WithRecorder sets where raw records are stored.
func WithRecorder(r Recorder) Option {
	return func(c *Correlator) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithReplayGuard enables suppression of replayed reads.
func WithReplayGuard(d dedupe.Deduper) Option {
	return func(c *Correlator) {
		if d != nil {
			c.replay = d
		}
	}
}

// WithLogger sets the correlator's logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Correlator) {
		if l != nil {
			c.log = l
		}
	}
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, model.TimingRecord, bool) error { return nil }

// New creates a correlator.
func New(r Roster, p Publisher, picker Picker, opts ...Option) *Correlator {
	c := &Correlator{
		roster:    r,
		publisher: p,
		picker:    picker,
		recorder:  nopRecorder{},
		replay:    dedupe.Nop{},
		log:       logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle routes one record and reports the outcome. Recorder failures are
// logged and never change the outcome.
func (c *Correlator) Handle(ctx context.Context, rec model.TimingRecord) Outcome {
	if rec.Bib == protocol.GunTimeBib {
		metrics.RecordGunTime()
		c.log.Debug(ctx, "guntime discarded", logger.String("location", rec.Location))
		return OutcomeDiscarded
	}

	entry, ok := c.roster.Lookup(rec.Bib)
	if !ok {
		metrics.RecordUnmatched()
		c.log.Debug(ctx, "bib not in roster", logger.String("bib", rec.Bib), logger.String("kind", string(failure.CorrelationMiss)))
		c.record(ctx, rec, false)
		return OutcomeUnmatched
	}

	outcome := OutcomeMatched
	if c.replay.SeenAndRecord(ctx, dedupe.Key(rec)) {
		metrics.RecordReplayed()
		outcome = OutcomeReplayed
	} else {
		c.publisher.Publish(model.NewProcessedResult(rec, entry, c.picker.Pick()))
		metrics.RecordMatched()
	}
	c.record(ctx, rec, true)
	return outcome
}

// ResetReplay forgets every read seen so far.
func (c *Correlator) ResetReplay() {
	c.replay.Reset()
}

func (c *Correlator) record(ctx context.Context, rec model.TimingRecord, matched bool) {
	if err := c.recorder.Record(ctx, rec, matched); err != nil {
		metrics.RecordErrorByComponent("correlate", string(failure.PersistenceFailure))
		c.log.Warn(ctx, "record not persisted",
			logger.String("bib", rec.Bib),
			logger.String("sequence", rec.Sequence),
			logger.Error(failure.Wrap("correlate.record", failure.PersistenceFailure, err)))
	}
}
