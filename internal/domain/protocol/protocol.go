// Package protocol implements the line protocol spoken by timing devices:
// record parsing, outbound command encoding and the fixed handshake.
package protocol

import (
	"fmt"
	"strings"

	"github.com/okian/racefeed/internal/domain/failure"
	"github.com/okian/racefeed/internal/domain/model"
)

// Protocol defaults.
const (
	DefaultFormatID       = "CT01_33"
	DefaultSeparator      = "~"
	DefaultLineTerminator = "\r\n"

	// RecordFields is the minimum number of fields in a read line.
	RecordFields = 8

	// GunTimeBib marks a start pulse rather than a participant read.
	GunTimeBib = "guntime"
	// Ping is a keepalive line sent by the device.
	Ping = "ping"
	// AckPrefix starts device acknowledgments of our commands.
	AckPrefix = "ack"
)

// Handshake constants sent to the device after its greeting.
const (
	displayName    = "RaceDisplay"
	displayVersion = "Version 1.0 Level 2024.02"
)

// Settings are the capability settings sent during negotiation, in order.
var Settings = []string{ //nolint:gochecknoglobals // fixed protocol table
	"location=multi",
	"guntimes=true",
	"newlocations=true",
	"authentication=none",
	"stream-mode=push",
	"time-format=iso",
}

// Commands issued after the settings, in order.
var Commands = []string{"geteventinfo", "getlocations", "start"} //nolint:gochecknoglobals // fixed protocol table

// Parser turns read lines into timing records.
type Parser struct {
	Separator string
	FormatID  string
}

// NewParser returns a parser with the given separator and format id, using
// defaults for empty values.
func NewParser(separator, formatID string) Parser {
	if separator == "" {
		separator = DefaultSeparator
	}
	if formatID == "" {
		formatID = DefaultFormatID
	}
	return Parser{Separator: separator, FormatID: formatID}
}

// Parse splits a line into a TimingRecord. Fields past the eighth are ignored.
func (p Parser) Parse(line string) (model.TimingRecord, error) {
	parts := strings.Split(line, p.Separator)
	if len(parts) < RecordFields {
		return model.TimingRecord{}, failure.Wrap("protocol.parse", failure.MalformedRecord,
			fmt.Errorf("%w: %w: got %d, want %d", ErrMalformedRecord, ErrTooFewFields, len(parts), RecordFields))
	}
	if parts[0] != p.FormatID {
		return model.TimingRecord{}, failure.Wrap("protocol.parse", failure.MalformedRecord,
			fmt.Errorf("%w: %w: %q", ErrMalformedRecord, ErrFormatMismatch, parts[0]))
	}
	return model.TimingRecord{
		Format:   parts[0],
		Sequence: parts[1],
		Location: parts[2],
		Bib:      parts[3],
		Time:     parts[4],
		Gator:    parts[5],
		TagCode:  parts[6],
		Lap:      parts[7],
	}, nil
}

// Encode renders a record back into a read line without terminator.
func (p Parser) Encode(rec model.TimingRecord) string {
	return Command(p.Separator, rec.Format, rec.Sequence, rec.Location, rec.Bib,
		rec.Time, rec.Gator, rec.TagCode, rec.Lap)
}

// Command joins fields with the separator.
func Command(sep string, fields ...string) string {
	return strings.Join(fields, sep)
}

// Greeting is the identification line we send first.
func Greeting(sep string) string {
	return Command(sep, displayName, displayVersion, fmt.Sprint(len(Settings)))
}

// Handshake returns every line of the negotiation phase in send order.
func Handshake(sep string) []string {
	lines := make([]string, 0, 1+len(Settings)+len(Commands))
	lines = append(lines, Greeting(sep))
	lines = append(lines, Settings...)
	lines = append(lines, Commands...)
	return lines
}

// PingAck is the reply to a device ping.
func PingAck(sep string) string {
	return Command(sep, AckPrefix, Ping)
}

// IsAck reports whether line is a device acknowledgment.
func IsAck(sep, line string) bool {
	return strings.HasPrefix(line, AckPrefix+sep)
}
