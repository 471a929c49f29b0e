package feedsim

import (
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/internal/domain/protocol"
)

// Generator produces plausible reads: increasing sequence numbers, one tag
// per bib and a lap counter per bib and location.
type Generator struct {
	mu        sync.Mutex
	rng       *rand.Rand
	formatID  string
	bibs      []string
	locations []string
	seq       int
	laps      map[string]int
	tags      map[string]string
}

// readTimeLayout is the clock format devices report reads in.
const readTimeLayout = "15:04:05.00"

// NewGenerator creates a generator over bibs and locations.
func NewGenerator(formatID string, bibs, locations []string, seed int64) *Generator {
	if formatID == "" {
		formatID = protocol.DefaultFormatID
	}
	if len(locations) == 0 {
		locations = DefaultLocations
	}
	g := &Generator{
		rng:       rand.New(rand.NewSource(seed)), //nolint:gosec // simulation data
		formatID:  formatID,
		bibs:      bibs,
		locations: locations,
		laps:      make(map[string]int),
		tags:      make(map[string]string, len(bibs)),
	}
	for _, b := range bibs {
		g.tags[b] = uuid.NewString()[:8]
	}
	return g
}

// Bibs returns n sequential bibs starting at 1.
func Bibs(n int) []string {
	out := make([]string, n)
	for i := range n {
		out[i] = strconv.Itoa(i + 1)
	}
	return out
}

// Next returns the next read of a random bib at a random location.
func (g *Generator) Next() model.TimingRecord {
	g.mu.Lock()
	defer g.mu.Unlock()

	bib := g.bibs[g.rng.Intn(len(g.bibs))]
	loc := g.rng.Intn(len(g.locations))
	key := bib + "@" + g.locations[loc]
	g.laps[key]++
	return g.record(bib, g.locations[loc], loc+1, g.tags[bib], g.laps[key])
}

// GunTime returns a start pulse at location.
func (g *Generator) GunTime(location string) model.TimingRecord {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.record(protocol.GunTimeBib, location, 0, "", 0)
}

func (g *Generator) record(bib, location string, gator int, tag string, lap int) model.TimingRecord {
	g.seq++
	return model.TimingRecord{
		Format:   g.formatID,
		Sequence: strconv.Itoa(g.seq),
		Location: location,
		Bib:      bib,
		Time:     time.Now().Format(readTimeLayout),
		Gator:    strconv.Itoa(gator),
		TagCode:  tag,
		Lap:      strconv.Itoa(lap),
	}
}
