package api

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/okian/racefeed/pkg/logger"
)

// loginRequest carries the login form. Form and JSON bodies are accepted.
type loginRequest struct {
	EventID  string `json:"event_id"`
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (l loginRequest) validate() error {
	if strings.TrimSpace(l.EventID) == "" {
		return fmt.Errorf("%w: missing event_id", ErrBadRequest)
	}
	return nil
}

func decodeLogin(r *http.Request) (loginRequest, error) {
	var req loginRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
	} else {
		req = loginRequest{
			EventID:  r.FormValue("event_id"),
			UserID:   r.FormValue("user_id"),
			Password: r.FormValue("password"),
		}
	}
	return req, req.validate()
}

// LoginHandler handles login requests.
type LoginHandler struct {
	deps LoginDependencies
	log  logger.Logger
}

// NewLoginHandler creates a new login handler.
func NewLoginHandler(deps LoginDependencies, log logger.Logger) *LoginHandler {
	return &LoginHandler{deps: deps, log: log}
}

// HandleLogin handles POST /api/login. The outcome of the cycle is always
// reported with 200; transport-level problems use error statuses.
func (h *LoginHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLogin(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	res := h.deps.TriggerLogin(r.Context(), req.EventID, req.UserID, req.Password)
	h.log.Info(r.Context(), "login handled",
		logger.String("event_id", req.EventID),
		logger.Bool("success", res.Success),
		logger.Int("stage", res.Stage))
	writeJSON(w, http.StatusOK, res)
}

// HandleTestConnection handles POST /api/test-connection.
func (h *LoginHandler) HandleTestConnection(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLogin(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.TestConnection(r.Context(), req.EventID, req.UserID, req.Password))
}

// HandleProgress handles GET /api/login-progress.
func (h *LoginHandler) HandleProgress(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.LoginProgress())
}
