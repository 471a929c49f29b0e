// Package model contains domain models passed between layers.
package model

import "time"

// TimingRecord is one parsed read line from a timing device. Values are kept
// verbatim as the device sent them.
type TimingRecord struct {
	Format   string `json:"format"`
	Sequence string `json:"sequence"`
	Location string `json:"location"`
	Bib      string `json:"bib"`
	Time     string `json:"time"`
	Gator    string `json:"gator"`
	TagCode  string `json:"tagcode"`
	Lap      string `json:"lap"`
}

// ProcessedResult is a read enriched with the matching roster entry, as
// delivered to stream consumers.
type ProcessedResult struct {
	Name      string `json:"name"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Age       string `json:"age"`
	Gender    string `json:"gender"`
	City      string `json:"city"`
	State     string `json:"state"`
	Country   string `json:"country"`
	Division  string `json:"division"`
	RaceName  string `json:"race_name"`
	RegChoice string `json:"reg_choice"`
	Wave      string `json:"wave"`
	TeamName  string `json:"team_name"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Location  string `json:"location"`
	Lap       string `json:"lap"`
	Bib       string `json:"bib"`
}

// NewProcessedResult joins a read with its roster entry.
func NewProcessedResult(rec TimingRecord, e RosterEntry, message string) ProcessedResult {
	return ProcessedResult{
		Name:      e.Name,
		FirstName: e.FirstName,
		LastName:  e.LastName,
		Age:       e.Age,
		Gender:    e.Gender,
		City:      e.City,
		State:     e.State,
		Country:   e.Country,
		Division:  e.Division,
		RaceName:  e.RaceName,
		RegChoice: e.RegChoice,
		Wave:      e.Wave,
		TeamName:  e.TeamName,
		Message:   message,
		Timestamp: rec.Time,
		Location:  rec.Location,
		Lap:       rec.Lap,
		Bib:       rec.Bib,
	}
}

// Session groups stored reads of one timing run.
type Session struct {
	ID        int64     `json:"id"`
	Name      string    `json:"session_name"`
	EventName string    `json:"event_name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ReadCount int64     `json:"read_count"`
}

// Location is a timing point within a session.
type Location struct {
	ID        int64  `json:"id"`
	SessionID int64  `json:"session_id"`
	Name      string `json:"location_name"`
	ReaderID  string `json:"reader_id"`
}

// PersistedRead is a stored timing read.
type PersistedRead struct {
	SessionID      int64     `json:"session_id"`
	LocationID     int64     `json:"location_id"`
	SequenceNumber int       `json:"sequence_number"`
	LocationName   string    `json:"location_name"`
	TagCode        string    `json:"tag_code"`
	Bib            string    `json:"bib"`
	ReadTime       string    `json:"timestamp"`
	LapCount       int       `json:"lap_count"`
	ReaderID       string    `json:"reader_id"`
	GatorNumber    int       `json:"gator_number"`
	Matched        bool      `json:"matched"`
	RawData        string    `json:"raw_data"`
	ProcessedAt    time.Time `json:"processed_at"`
}
