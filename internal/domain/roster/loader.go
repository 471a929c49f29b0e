package roster

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/racefeed/internal/domain/failure"
	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/pkg/logger"
	"github.com/okian/racefeed/pkg/metrics"
)

const defaultPageSize = 100

// Page is one page of roster entries with the totals reported alongside it.
type Page struct {
	Entries    []model.RosterEntry
	TotalPages int
	TotalRows  int
}

// PageFetcher retrieves a single roster page.
type PageFetcher interface {
	FetchPage(ctx context.Context, eventID string, creds model.Credentials, page, size int) (Page, error)
}

// Result summarizes a completed load.
type Result struct {
	RaceName    string
	Loaded      int
	TotalRows   int
	TotalPages  int
	FailedPages []int
}

// Loader fills a Store from a PageFetcher.
type Loader struct {
	store    *Store
	fetcher  PageFetcher
	progress *Progress
	pageSize int
	log      logger.Logger
}

// NewLoader creates a loader writing into store.
func NewLoader(store *Store, fetcher PageFetcher, progress *Progress, opts ...Option) *Loader {
	if progress == nil {
		progress = &Progress{}
	}
	ld := &Loader{
		store:    store,
		fetcher:  fetcher,
		progress: progress,
		pageSize: defaultPageSize,
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Progress returns the progress tracker updated by Load.
func (ld *Loader) Progress() *Progress { return ld.progress }

// Load replaces the roster with the entries of eventID. The store is cleared
// first and only receives the merged result once every page was attempted.
// A failing first page leaves the store empty; later failing pages are
// skipped.
func (ld *Loader) Load(ctx context.Context, eventID string, creds model.Credentials) (Result, error) {
	const op = "roster.load"
	started := time.Now()

	ld.store.Clear()
	ld.progress.Reset()
	metrics.UpdateRosterEntries(0)

	if ld.fetcher == nil {
		ld.progress.Fail()
		return Result{}, failure.Wrap(op, failure.RosterLoadFailure, ErrNoFetcher)
	}
	if eventID == "" {
		ld.progress.Fail()
		return Result{}, failure.Wrap(op, failure.RosterLoadFailure, ErrEmptyEvent)
	}

	first, err := ld.fetcher.FetchPage(ctx, eventID, creds, 1, ld.pageSize)
	if err != nil {
		ld.progress.Fail()
		metrics.RecordRosterLoadFailure()
		return Result{}, failure.Wrap(op, failure.RosterLoadFailure, fmt.Errorf("%w: %w", ErrFirstPage, err))
	}

	totalPages := max(first.TotalPages, 1)
	res := Result{TotalRows: first.TotalRows, TotalPages: totalPages}
	ld.progress.SetTotal(first.TotalRows)
	ld.log.Info(ctx, "roster load started",
		logger.String("event_id", eventID),
		logger.Int("total_pages", totalPages),
		logger.Int("total_rows", first.TotalRows))

	entries := make(map[string]model.RosterEntry, max(first.TotalRows, len(first.Entries)))
	merge := func(page []model.RosterEntry) {
		for _, e := range page {
			key := e.Key()
			if key == "" {
				continue
			}
			entries[key] = e
			if res.RaceName == "" && e.RaceName != "" {
				res.RaceName = e.RaceName
			}
		}
		ld.progress.SetLoaded(len(entries))
	}
	merge(first.Entries)

	for page := 2; page <= totalPages; page++ {
		if ctx.Err() != nil {
			ld.progress.Fail()
			return res, failure.Wrap(op, failure.RosterLoadFailure, ctx.Err())
		}
		p, err := ld.fetcher.FetchPage(ctx, eventID, creds, page, ld.pageSize)
		if err != nil {
			res.FailedPages = append(res.FailedPages, page)
			metrics.RecordRosterPageError()
			ld.log.Warn(ctx, "roster page skipped",
				logger.Int("page", page),
				logger.Error(failure.Wrap(op, failure.RosterPagePartialFailure, fmt.Errorf("%w: %w", ErrPage, err))))
			continue
		}
		merge(p.Entries)
	}

	res.Loaded = len(entries)
	ld.store.Replace(&Snapshot{EventID: eventID, RaceName: res.RaceName, Entries: entries})
	ld.progress.Complete()
	metrics.UpdateRosterEntries(res.Loaded)
	metrics.RecordRosterLoad(time.Since(started))

	if res.Loaded != res.TotalRows {
		ld.log.Warn(ctx, "roster count mismatch",
			logger.Int("loaded", res.Loaded),
			logger.Int("total_rows", res.TotalRows),
			logger.Error(ErrRowMismatch))
	}
	ld.log.Info(ctx, "roster loaded",
		logger.String("race_name", res.RaceName),
		logger.Int("loaded", res.Loaded),
		logger.Int("failed_pages", len(res.FailedPages)),
		logger.Duration("took", time.Since(started)))
	return res, nil
}
