package model

// RosterEntry is one registered participant. Bib is the join key for reads.
type RosterEntry struct {
	Bib         string `json:"bib"`
	Name        string `json:"name"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Age         string `json:"age"`
	Gender      string `json:"gender"`
	City        string `json:"city"`
	State       string `json:"state"`
	Country     string `json:"country"`
	Division    string `json:"division"`
	RaceName    string `json:"race_name"`
	RegChoice   string `json:"reg_choice"`
	Wave        string `json:"wave"`
	TeamName    string `json:"team_name"`
	EntryStatus string `json:"entry_status"`
	EntryType   string `json:"entry_type"`
	EntryID     string `json:"entry_id"`
	AthleteID   string `json:"athlete_id"`
}

// Key returns the bib, or the entry id when the bib is empty.
func (e RosterEntry) Key() string {
	if e.Bib != "" {
		return e.Bib
	}
	return e.EntryID
}

// LoginProgress reports how far a roster load has come.
type LoginProgress struct {
	Total    int  `json:"total"`
	Loaded   int  `json:"loaded"`
	Complete bool `json:"complete"`
	Failed   bool `json:"failed"`
}

// Credentials authenticate against the roster service. PassHash is a
// 40-character hex SHA-1 digest.
type Credentials struct {
	UserID   string
	PassHash string
}
