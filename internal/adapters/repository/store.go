// Package repository stores raw timing reads grouped into sessions and
// locations, and serves the read models behind the timing endpoints.
package repository

import (
	"context"
	"time"

	"github.com/okian/racefeed/internal/domain/model"
)

// Store persists timing reads. Implementations are safe for concurrent use.
type Store interface {
	// EnsureSession resolves the session reads are stored under. The most
	// recent active session is reused; otherwise one is created.
	EnsureSession(ctx context.Context, name, eventName string) (int64, error)
	// EnsureLocation gets or creates a location of a session.
	EnsureLocation(ctx context.Context, sessionID int64, name, readerID string) (int64, error)
	// StoreRead upserts a read keyed by session, sequence number and location.
	StoreRead(ctx context.Context, rec model.TimingRecord, matched bool) error

	Status(ctx context.Context) Status
	Sessions(ctx context.Context, limit int) ([]model.Session, error)
	Stats(ctx context.Context) (Stats, error)
	RecentReads(ctx context.Context, limit int) ([]model.PersistedRead, error)

	Close() error
}

// Status describes the storage backend.
type Status struct {
	Enabled        bool   `json:"database_enabled"`
	Connected      bool   `json:"connected"`
	Driver         string `json:"driver,omitempty"`
	CurrentSession *int64 `json:"current_session"`
	Version        string `json:"database_version,omitempty"`
	Error          string `json:"error,omitempty"`
}

// Stats summarizes reads of active sessions.
type Stats struct {
	Overall     OverallStats    `json:"overall"`
	ByLocation  []LocationStats `json:"by_location"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// OverallStats aggregates every read of active sessions.
type OverallStats struct {
	TotalReads     int64      `json:"total_reads" bun:"total_reads"`
	UniqueTags     int64      `json:"unique_tags" bun:"unique_tags"`
	TotalLocations int64      `json:"total_locations" bun:"total_locations"`
	FirstRead      *time.Time `json:"first_read" bun:"-"`
	LastRead       *time.Time `json:"last_read" bun:"-"`
}

// LocationStats aggregates reads of one location.
type LocationStats struct {
	LocationName string     `json:"location_name" bun:"location_name"`
	ReadCount    int64      `json:"read_count" bun:"read_count"`
	UniqueTags   int64      `json:"unique_tags" bun:"unique_tags"`
	LastRead     *time.Time `json:"last_read" bun:"-"`
}
