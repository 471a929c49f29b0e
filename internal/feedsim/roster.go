package feedsim

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"

	"github.com/okian/racefeed/internal/adapters/rosterapi"
	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/pkg/logger"
)

const defaultPageSize = 100

// GenerateRoster returns n entries with bibs 1..n.
func GenerateRoster(n int, raceName string, seed int64) []model.RosterEntry {
	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // simulation data
	entries := make([]model.RosterEntry, n)
	for i := range n {
		first := firstNames[rng.Intn(len(firstNames))]
		last := lastNames[rng.Intn(len(lastNames))]
		place := rng.Intn(len(cities))
		gender := "F"
		if rng.Intn(2) == 0 {
			gender = "M"
		}
		age := 18 + rng.Intn(50)
		entries[i] = model.RosterEntry{
			Bib:         strconv.Itoa(i + 1),
			Name:        first + " " + last,
			FirstName:   first,
			LastName:    last,
			Age:         strconv.Itoa(age),
			Gender:      gender,
			City:        cities[place],
			State:       states[place],
			Country:     "USA",
			Division:    fmt.Sprintf("%s %d-%d", gender, age/10*10, age/10*10+9),
			RaceName:    raceName,
			RegChoice:   raceName,
			Wave:        waves[rng.Intn(len(waves))],
			EntryStatus: "complete",
			EntryType:   "registration",
			EntryID:     strconv.Itoa(100000 + i),
			AthleteID:   strconv.Itoa(500000 + i),
		}
	}
	return entries
}

// entryWire is the registration service's entry shape.
type entryWire struct {
	Bib         string `json:"entry_bib"`
	EntryID     string `json:"entry_id"`
	Name        string `json:"entry_name"`
	FirstName   string `json:"athlete_first_name"`
	LastName    string `json:"athlete_last_name"`
	Age         int    `json:"entry_race_age"`
	Gender      string `json:"athlete_sex"`
	City        string `json:"location_city"`
	State       string `json:"location_region"`
	Country     string `json:"location_country"`
	Division    string `json:"bracket_name"`
	RaceName    string `json:"race_name"`
	RegChoice   string `json:"reg_choice_name"`
	Wave        string `json:"wave_name"`
	TeamName    string `json:"team_name"`
	EntryStatus string `json:"entry_status"`
	EntryType   string `json:"entry_type"`
	AthleteID   string `json:"athlete_id"`
}

func toWire(e model.RosterEntry) entryWire {
	// ages go out as numbers, the way the real service sends them
	age, _ := strconv.Atoi(e.Age)
	return entryWire{
		Bib: e.Bib, EntryID: e.EntryID, Name: e.Name, FirstName: e.FirstName, LastName: e.LastName,
		Age: age, Gender: e.Gender, City: e.City, State: e.State, Country: e.Country,
		Division: e.Division, RaceName: e.RaceName, RegChoice: e.RegChoice, Wave: e.Wave,
		TeamName: e.TeamName, EntryStatus: e.EntryStatus, EntryType: e.EntryType, AthleteID: e.AthleteID,
	}
}

// RosterServer serves roster pages the way the registration service does.
type RosterServer struct {
	eventID  string
	entries  []model.RosterEntry
	userID   string
	passHash string
	log      logger.Logger

	// failPages answer 500 for the listed page numbers.
	failPages map[int]bool
}

// NewRosterServer serves entries under eventID. When userID is set every
// request must carry it and the password digest.
func NewRosterServer(eventID string, entries []model.RosterEntry, userID, password string) *RosterServer {
	s := &RosterServer{
		eventID:   eventID,
		entries:   entries,
		userID:    userID,
		failPages: make(map[int]bool),
		log:       logger.NewNop(),
	}
	if userID != "" {
		s.passHash = rosterapi.PassHash(password)
	}
	return s
}

// WithLogger sets the request logger.
func (s *RosterServer) WithLogger(l logger.Logger) *RosterServer {
	if l != nil {
		s.log = l
	}
	return s
}

// FailPage makes page answer with a server error.
func (s *RosterServer) FailPage(page int) *RosterServer {
	s.failPages[page] = true
	return s
}

// Handler returns the HTTP routes of the server.
func (s *RosterServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /event/{event}/entry", s.handleEntries)
	return mux
}

func (s *RosterServer) handleEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.PathValue("event") != s.eventID {
		http.Error(w, "unknown event", http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	if s.userID != "" && (q.Get("user_id") != s.userID || q.Get("user_pass") != s.passHash) {
		s.log.Warn(ctx, "rejected credentials", logger.String("user_id", q.Get("user_id")))
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	page := intParam(q.Get("page"), 1)
	size := intParam(q.Get("size"), defaultPageSize)
	if s.failPages[page] {
		http.Error(w, "page unavailable", http.StatusInternalServerError)
		return
	}

	pages := max((len(s.entries)+size-1)/size, 1)
	start := min((page-1)*size, len(s.entries))
	end := min(start+size, len(s.entries))
	wire := make([]entryWire, 0, end-start)
	for _, e := range s.entries[start:end] {
		wire = append(wire, toWire(e))
	}

	w.Header().Set(rosterapi.HeaderPageCount, strconv.Itoa(pages))
	w.Header().Set(rosterapi.HeaderRowCount, strconv.Itoa(len(s.entries)))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"event_entry": wire})
	s.log.Debug(ctx, "roster page served", logger.Int("page", page), logger.Int("entries", len(wire)))
}

func intParam(v string, def int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return def
	}
	return n
}
