// Package types contains the result shapes the service hands to its callers.
package types

import "github.com/okian/racefeed/internal/domain/model"

// LoginStages is the number of stages a login cycle reports against.
const LoginStages = 4

// Login stages.
const (
	StageAuthenticating = 1
	StageRosterLoaded   = 2
	StageListening      = 3
)

// LoginResult reports how far a login cycle got.
type LoginResult struct {
	Success             bool   `json:"success"`
	Status              string `json:"status"`
	Stage               int    `json:"stage"`
	TotalStages         int    `json:"total_stages"`
	RaceName            string `json:"race_name,omitempty"`
	RunnersLoaded       int    `json:"runners_loaded"`
	CredentialsValid    bool   `json:"credentials_valid"`
	MiddlewareConnected bool   `json:"middleware_connected"`
	DisplayActive       bool   `json:"display_active"`
	FailedPages         []int  `json:"failed_pages,omitempty"`
	Listener            string `json:"listener,omitempty"`
	Error               string `json:"error,omitempty"`
}

// ConnectionCheck is the outcome of probing the roster service with a
// single-entry page.
type ConnectionCheck struct {
	Success    bool               `json:"success"`
	EntryCount int                `json:"entry_count"`
	TotalRows  int                `json:"total_rows"`
	TotalPages int                `json:"total_pages"`
	FirstEntry *model.RosterEntry `json:"first_entry,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// ListenerStatus reports the device listener state.
type ListenerStatus struct {
	Running     bool   `json:"running"`
	Result      string `json:"result,omitempty"`
	Addr        string `json:"addr,omitempty"`
	Connections int    `json:"connections"`
}
