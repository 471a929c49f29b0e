package rosterapi

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/okian/racefeed/internal/domain/model"
)

// flexString accepts JSON strings, numbers, booleans and null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		*f = ""
	case len(b) > 0 && b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
	case bytes.Equal(b, []byte("true")), bytes.Equal(b, []byte("false")):
		*f = flexString(b)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		if i, err := n.Int64(); err == nil {
			*f = flexString(strconv.FormatInt(i, 10))
			return nil
		}
		*f = flexString(n.String())
	}
	return nil
}

type entryJSON struct {
	Bib         flexString `json:"entry_bib"`
	EntryID     flexString `json:"entry_id"`
	Name        flexString `json:"entry_name"`
	FirstName   flexString `json:"athlete_first_name"`
	LastName    flexString `json:"athlete_last_name"`
	Age         flexString `json:"entry_race_age"`
	Gender      flexString `json:"athlete_sex"`
	City        flexString `json:"location_city"`
	State       flexString `json:"location_region"`
	Country     flexString `json:"location_country"`
	Division    flexString `json:"bracket_name"`
	RaceName    flexString `json:"race_name"`
	RegChoice   flexString `json:"reg_choice_name"`
	Wave        flexString `json:"wave_name"`
	TeamName    flexString `json:"team_name"`
	EntryStatus flexString `json:"entry_status"`
	EntryType   flexString `json:"entry_type"`
	AthleteID   flexString `json:"athlete_id"`
}

func (e entryJSON) toModel() model.RosterEntry {
	return model.RosterEntry{
		Bib:         string(e.Bib),
		Name:        string(e.Name),
		FirstName:   string(e.FirstName),
		LastName:    string(e.LastName),
		Age:         string(e.Age),
		Gender:      string(e.Gender),
		City:        string(e.City),
		State:       string(e.State),
		Country:     string(e.Country),
		Division:    string(e.Division),
		RaceName:    string(e.RaceName),
		RegChoice:   string(e.RegChoice),
		Wave:        string(e.Wave),
		TeamName:    string(e.TeamName),
		EntryStatus: string(e.EntryStatus),
		EntryType:   string(e.EntryType),
		EntryID:     string(e.EntryID),
		AthleteID:   string(e.AthleteID),
	}
}
