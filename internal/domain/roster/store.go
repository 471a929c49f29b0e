// Package roster holds the participant roster used to enrich reads and loads
// it page by page from the registration service.
package roster

import (
	"sync/atomic"

	"github.com/okian/racefeed/internal/domain/model"
)

// Snapshot is one complete, immutable roster.
type Snapshot struct {
	EventID  string
	RaceName string
	Entries  map[string]model.RosterEntry
}

var emptySnapshot = &Snapshot{Entries: map[string]model.RosterEntry{}} //nolint:gochecknoglobals // shared immutable value

// Store serves lookups from the current snapshot. Readers never see a
// partially loaded roster because snapshots are swapped whole.
type Store struct {
	snap atomic.Pointer[Snapshot]
}

// NewStore returns an empty store.
func NewStore() *Store {
	s := &Store{}
	s.snap.Store(emptySnapshot)
	return s
}

// Lookup returns the entry for bib.
func (s *Store) Lookup(bib string) (model.RosterEntry, bool) {
	e, ok := s.snap.Load().Entries[bib]
	return e, ok
}

// Replace swaps in a new snapshot. The caller must not mutate it afterwards.
func (s *Store) Replace(snap *Snapshot) {
	if snap == nil || snap.Entries == nil {
		snap = emptySnapshot
	}
	s.snap.Store(snap)
}

// Clear swaps in the empty snapshot.
func (s *Store) Clear() {
	s.snap.Store(emptySnapshot)
}

// Len returns the number of entries in the current snapshot.
func (s *Store) Len() int {
	return len(s.snap.Load().Entries)
}

// RaceName returns the race name of the current snapshot.
func (s *Store) RaceName() string {
	return s.snap.Load().RaceName
}

// EventID returns the event the current snapshot was loaded for.
func (s *Store) EventID() string {
	return s.snap.Load().EventID
}
