package repository

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/okian/racefeed/internal/domain/model"
)

const sessionActive = "active"

type sessionRow struct {
	bun.BaseModel `bun:"table:timing_sessions,alias:s"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Name      string    `bun:"session_name,notnull"`
	EventName string    `bun:"event_name,notnull"`
	Status    string    `bun:"status,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

type locationRow struct {
	bun.BaseModel `bun:"table:timing_locations,alias:l"`

	ID        int64  `bun:"id,pk,autoincrement"`
	SessionID int64  `bun:"session_id,notnull,unique:timing_locations_session_name"`
	Name      string `bun:"location_name,notnull,unique:timing_locations_session_name"`
	ReaderID  string `bun:"reader_id"`
}

type readRow struct {
	bun.BaseModel `bun:"table:timing_reads,alias:r"`

	ID             int64     `bun:"id,pk,autoincrement"`
	SessionID      int64     `bun:"session_id,notnull,unique:timing_reads_session_seq_location"`
	LocationID     int64     `bun:"location_id,notnull"`
	SequenceNumber int       `bun:"sequence_number,notnull,unique:timing_reads_session_seq_location"`
	LocationName   string    `bun:"location_name,notnull,unique:timing_reads_session_seq_location"`
	TagCode        string    `bun:"tag_code"`
	Bib            string    `bun:"bib"`
	ReadTime       string    `bun:"read_time"`
	LapCount       int       `bun:"lap_count"`
	ReaderID       string    `bun:"reader_id"`
	GatorNumber    int       `bun:"gator_number"`
	Matched        bool      `bun:"matched,notnull"`
	RawData        string    `bun:"raw_data"`
	ProcessedAt    time.Time `bun:"processed_at,notnull"`
}

func (r *readRow) toModel() model.PersistedRead {
	return model.PersistedRead{
		SessionID:      r.SessionID,
		LocationID:     r.LocationID,
		SequenceNumber: r.SequenceNumber,
		LocationName:   r.LocationName,
		TagCode:        r.TagCode,
		Bib:            r.Bib,
		ReadTime:       r.ReadTime,
		LapCount:       r.LapCount,
		ReaderID:       r.ReaderID,
		GatorNumber:    r.GatorNumber,
		Matched:        r.Matched,
		RawData:        r.RawData,
		ProcessedAt:    r.ProcessedAt,
	}
}

// tables in dependency order.
var tables = []any{ //nolint:gochecknoglobals // schema table list
	(*sessionRow)(nil),
	(*locationRow)(nil),
	(*readRow)(nil),
}
