// Package feedsim simulates the peers of the racefeed service: a timing
// device streaming reads over TCP, and the registration service serving
// roster pages.
package feedsim

import "time"

// DeviceConfig holds configuration for a simulated device run.
type DeviceConfig struct {
	Addr       string        // Listener address of the service
	Greeting   string        // First line sent after connecting
	FormatID   string        // Record format id
	Separator  string        // Field separator
	Terminator string        // Line terminator
	Reads      int           // Number of reads to send
	Interval   time.Duration // Pause between reads
	PingEvery  int           // Send a ping every n reads; 0 disables
	GunEvery   int           // Send a guntime pulse every n reads; 0 disables
	Bibs       []string      // Bibs to read; empty means 1..Runners
	Runners    int           // Number of bibs when Bibs is empty
	Locations  []string      // Timing points
	Seed       int64         // Generator seed
	Timeout    time.Duration // Dial and ping timeout
}

// RosterConfig holds configuration for the simulated registration service.
type RosterConfig struct {
	Addr     string // HTTP listen address
	EventID  string // Event served under /event/{id}/entry
	RaceName string // Race name of generated entries
	Runners  int    // Number of generated entries
	UserID   string // Required user id; empty accepts any
	Password string // Required password; empty accepts any
	Seed     int64  // Generator seed
}

// DeviceStats holds statistics of a device run.
type DeviceStats struct {
	Reads     int
	Pings     int
	GunTimes  int
	Handshake []string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
}
