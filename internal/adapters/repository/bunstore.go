package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"github.com/okian/racefeed/internal/domain/failure"
	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/pkg/logger"
)

const (
	defaultSessionLayout = "Session_20060102_150405"
	defaultEventName     = "Live Event"
	maxVersionLen        = 50
)

// BunStore implements Store on bun, for Postgres and SQLite.
type BunStore struct {
	db            *bun.DB
	driver        string
	sessionLayout string
	autoCreate    bool
	log           logger.Logger

	// mu serializes session and location resolution.
	mu        sync.Mutex
	sessionID int64
	locations map[string]int64
}

var _ Store = (*BunStore)(nil)

// NewBunStore wraps db. Call CreateTables first on a fresh database.
func NewBunStore(db *bun.DB, opts ...Option) *BunStore {
	s := &BunStore{
		db:            db,
		sessionLayout: defaultSessionLayout,
		autoCreate:    true,
		log:           logger.NewNop(),
		locations:     make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSession returns the cached session id, reusing the most recent
// active session or creating one named name (or a timestamped default).
func (s *BunStore) EnsureSession(ctx context.Context, name, eventName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureSessionLocked(ctx, name, eventName, true)
}

// ensureSessionLocked resolves the active session; without create a missing
// session is ErrNoSession.
func (s *BunStore) ensureSessionLocked(ctx context.Context, name, eventName string, create bool) (int64, error) {
	const op = "repository.ensure_session"
	if s.sessionID != 0 {
		return s.sessionID, nil
	}

	var row sessionRow
	err := s.db.NewSelect().Model(&row).
		Where("s.status = ?", sessionActive).
		OrderExpr("s.created_at DESC, s.id DESC").
		Limit(1).
		Scan(ctx)
	switch {
	case err == nil:
		s.sessionID = row.ID
		s.log.Info(ctx, "using existing timing session", logger.Int64("session_id", row.ID))
		return row.ID, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, failure.Wrap(op, failure.PersistenceFailure, fmt.Errorf("select session: %w", err))
	case !create:
		return 0, failure.Wrap(op, failure.PersistenceFailure, ErrNoSession)
	}

	now := time.Now().UTC()
	if name == "" {
		name = now.Local().Format(s.sessionLayout)
	}
	if eventName == "" {
		eventName = defaultEventName
	}
	row = sessionRow{Name: name, EventName: eventName, Status: sessionActive, CreatedAt: now}
	if _, err := s.db.NewInsert().Model(&row).Returning("id").Exec(ctx); err != nil {
		return 0, failure.Wrap(op, failure.PersistenceFailure, fmt.Errorf("insert session: %w", err))
	}
	s.sessionID = row.ID
	s.log.Info(ctx, "created timing session",
		logger.Int64("session_id", row.ID),
		logger.String("session_name", name),
		logger.String("event_name", eventName))
	return row.ID, nil
}

// EnsureLocation gets or creates the named location of a session.
func (s *BunStore) EnsureLocation(ctx context.Context, sessionID int64, name, readerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocationLocked(ctx, sessionID, name, readerID)
}

func (s *BunStore) ensureLocationLocked(ctx context.Context, sessionID int64, name, readerID string) (int64, error) {
	const op = "repository.ensure_location"
	if name == "" {
		return 0, failure.Wrap(op, failure.PersistenceFailure, ErrEmptyLocation)
	}
	key := strconv.FormatInt(sessionID, 10) + "|" + name
	if id, ok := s.locations[key]; ok {
		return id, nil
	}

	row := locationRow{SessionID: sessionID, Name: name, ReaderID: readerID}
	if _, err := s.db.NewInsert().Model(&row).
		On("CONFLICT (session_id, location_name) DO NOTHING").
		Returning("NULL").
		Exec(ctx); err != nil {
		return 0, failure.Wrap(op, failure.PersistenceFailure, fmt.Errorf("insert location: %w", err))
	}

	var id int64
	if err := s.db.NewSelect().Model((*locationRow)(nil)).
		Column("id").
		Where("l.session_id = ?", sessionID).
		Where("l.location_name = ?", name).
		Scan(ctx, &id); err != nil {
		return 0, failure.Wrap(op, failure.PersistenceFailure, fmt.Errorf("select location: %w", err))
	}
	s.locations[key] = id
	s.log.Debug(ctx, "timing location resolved", logger.String("location", name), logger.Int64("location_id", id))
	return id, nil
}

// StoreRead upserts rec. A repeat of the same session, sequence number and
// location only refreshes processed_at and raw_data.
func (s *BunStore) StoreRead(ctx context.Context, rec model.TimingRecord, matched bool) error {
	const op = "repository.store_read"

	seq, err := coerce("sequence", rec.Sequence)
	if err != nil {
		return failure.Wrap(op, failure.PersistenceFailure, err)
	}
	gator, err := coerce("gator", rec.Gator)
	if err != nil {
		return failure.Wrap(op, failure.PersistenceFailure, err)
	}
	lap, err := coerce("lap", rec.Lap)
	if err != nil {
		return failure.Wrap(op, failure.PersistenceFailure, err)
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return failure.Wrap(op, failure.PersistenceFailure, err)
	}

	s.mu.Lock()
	sessionID := s.sessionID
	if sessionID == 0 {
		if sessionID, err = s.ensureSessionLocked(ctx, "", "", s.autoCreate); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	locationID, err := s.ensureLocationLocked(ctx, sessionID, rec.Location, rec.Gator)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	row := readRow{
		SessionID:      sessionID,
		LocationID:     locationID,
		SequenceNumber: seq,
		LocationName:   rec.Location,
		TagCode:        rec.TagCode,
		Bib:            rec.Bib,
		ReadTime:       rec.Time,
		LapCount:       lap,
		ReaderID:       rec.Gator,
		GatorNumber:    gator,
		Matched:        matched,
		RawData:        string(raw),
		ProcessedAt:    time.Now().UTC(),
	}
	if _, err := s.db.NewInsert().Model(&row).
		On("CONFLICT (session_id, sequence_number, location_name) DO UPDATE").
		Set("processed_at = EXCLUDED.processed_at").
		Set("raw_data = EXCLUDED.raw_data").
		Returning("NULL").
		Exec(ctx); err != nil {
		return failure.Wrap(op, failure.PersistenceFailure, fmt.Errorf("upsert read: %w", err))
	}
	return nil
}

func coerce(field, v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrCoerce, field, v)
	}
	return n, nil
}

// CurrentSession returns the resolved session id, or 0.
func (s *BunStore) CurrentSession() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Status pings the database and reports its version.
func (s *BunStore) Status(ctx context.Context) Status {
	st := Status{Enabled: true, Driver: s.driver}
	if id := s.CurrentSession(); id != 0 {
		st.CurrentSession = &id
	}

	q := "SELECT version()"
	if s.db.Dialect().Name() == dialect.SQLite {
		q = "SELECT sqlite_version()"
	}
	var version string
	if err := s.db.NewRaw(q).Scan(ctx, &version); err != nil {
		st.Error = err.Error()
		return st
	}
	if len(version) > maxVersionLen {
		version = version[:maxVersionLen]
	}
	st.Connected = true
	st.Version = version
	return st
}

type sessionSummary struct {
	ID        int64     `bun:"id"`
	Name      string    `bun:"session_name"`
	EventName string    `bun:"event_name"`
	Status    string    `bun:"status"`
	CreatedAt time.Time `bun:"created_at"`
	ReadCount int64     `bun:"read_count"`
}

// Sessions lists the most recent sessions with their read counts.
func (s *BunStore) Sessions(ctx context.Context, limit int) ([]model.Session, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	var rows []sessionSummary
	err := s.db.NewSelect().
		TableExpr("timing_sessions AS s").
		ColumnExpr("s.id, s.session_name, s.event_name, s.status, s.created_at").
		ColumnExpr("COUNT(r.id) AS read_count").
		Join("LEFT JOIN timing_reads AS r ON r.session_id = s.id").
		GroupExpr("s.id, s.session_name, s.event_name, s.status, s.created_at").
		OrderExpr("s.created_at DESC, s.id DESC").
		Limit(limit).
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]model.Session, len(rows))
	for i, r := range rows {
		out[i] = model.Session{
			ID: r.ID, Name: r.Name, EventName: r.EventName,
			Status: r.Status, CreatedAt: r.CreatedAt, ReadCount: r.ReadCount,
		}
	}
	return out, nil
}

type overallRow struct {
	OverallStats
	First bun.NullTime `bun:"first_read"`
	Last  bun.NullTime `bun:"last_read"`
}

type locationStatsRow struct {
	LocationStats
	Last bun.NullTime `bun:"last_read"`
}

func nullTime(t bun.NullTime) *time.Time {
	if t.IsZero() {
		return nil
	}
	v := t.Time
	return &v
}

// Stats aggregates reads of active sessions overall and per location.
func (s *BunStore) Stats(ctx context.Context) (Stats, error) {
	var overall overallRow
	err := s.db.NewSelect().
		TableExpr("timing_reads AS r").
		ColumnExpr("COUNT(*) AS total_reads").
		ColumnExpr("COUNT(DISTINCT r.tag_code) AS unique_tags").
		ColumnExpr("COUNT(DISTINCT r.location_name) AS total_locations").
		ColumnExpr("MIN(r.processed_at) AS first_read").
		ColumnExpr("MAX(r.processed_at) AS last_read").
		Join("JOIN timing_sessions AS s ON s.id = r.session_id").
		Where("s.status = ?", sessionActive).
		Scan(ctx, &overall)
	if err != nil {
		return Stats{}, fmt.Errorf("overall stats: %w", err)
	}

	var byLocation []locationStatsRow
	err = s.db.NewSelect().
		TableExpr("timing_reads AS r").
		ColumnExpr("r.location_name").
		ColumnExpr("COUNT(*) AS read_count").
		ColumnExpr("COUNT(DISTINCT r.tag_code) AS unique_tags").
		ColumnExpr("MAX(r.processed_at) AS last_read").
		Join("JOIN timing_sessions AS s ON s.id = r.session_id").
		Where("s.status = ?", sessionActive).
		GroupExpr("r.location_name").
		OrderExpr("read_count DESC, r.location_name ASC").
		Scan(ctx, &byLocation)
	if err != nil {
		return Stats{}, fmt.Errorf("location stats: %w", err)
	}

	st := Stats{Overall: overall.OverallStats, GeneratedAt: time.Now().UTC()}
	st.Overall.FirstRead = nullTime(overall.First)
	st.Overall.LastRead = nullTime(overall.Last)
	st.ByLocation = make([]LocationStats, len(byLocation))
	for i, l := range byLocation {
		st.ByLocation[i] = l.LocationStats
		st.ByLocation[i].LastRead = nullTime(l.Last)
	}
	return st, nil
}

// RecentReads returns the newest reads of active sessions.
func (s *BunStore) RecentReads(ctx context.Context, limit int) ([]model.PersistedRead, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	var rows []readRow
	err := s.db.NewSelect().Model(&rows).
		Join("JOIN timing_sessions AS s ON s.id = r.session_id").
		Where("s.status = ?", sessionActive).
		OrderExpr("r.processed_at DESC, r.id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("recent reads: %w", err)
	}
	out := make([]model.PersistedRead, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// Close closes the database.
func (s *BunStore) Close() error {
	return s.db.Close()
}
