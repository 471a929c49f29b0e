package feedsim

import "time"

// Device defaults.
const (
	DefaultGreeting = "SimDevice~1.0"
	defaultTimeout  = 5 * time.Second
	defaultRunners  = 50
)

// DefaultLocations are the timing points used when none are configured.
var DefaultLocations = []string{"start", "5k", "finish"} //nolint:gochecknoglobals // fixed default table

// Roster generation tables.
//
//nolint:gochecknoglobals // generator tables
var (
	firstNames = []string{"Ada", "Alan", "Grace", "Edsger", "Barbara", "Ken", "Margaret", "Dennis", "Frances", "Linus"}
	lastNames  = []string{"Lovelace", "Turing", "Hopper", "Dijkstra", "Liskov", "Thompson", "Hamilton", "Ritchie", "Allen", "Torvalds"}
	cities     = []string{"Portland", "Austin", "Denver", "Boston", "Madison"}
	states     = []string{"OR", "TX", "CO", "MA", "WI"}
	waves      = []string{"A", "B", "C"}
)
