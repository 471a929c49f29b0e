// Package rosterapi fetches roster pages from the registration service.
package rosterapi

import (
	"context"
	"crypto/sha1" //nolint:gosec // the registration service expects SHA-1 digests
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/internal/domain/roster"
	"github.com/okian/racefeed/pkg/logger"
)

// Response headers carrying pagination totals.
const (
	HeaderPageCount = "X-Ctlive-Page-Count"
	HeaderRowCount  = "X-Ctlive-Row-Count"
)

const (
	defaultFormat  = "json"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

// Client implements roster.PageFetcher over HTTP.
type Client struct {
	base     string
	format   string
	clientID string
	http     *http.Client
	log      logger.Logger
}

var _ roster.PageFetcher = (*Client)(nil)

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		format: defaultFormat,
		http:   &http.Client{Timeout: defaultTimeout},
		log:    logger.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// PassHash returns the SHA-1 hex digest of password, unless password already
// is a 40 character hex digest.
func PassHash(password string) string {
	if len(password) == sha1.Size*2 {
		if _, err := hex.DecodeString(password); err == nil {
			return strings.ToLower(password)
		}
	}
	sum := sha1.Sum([]byte(password)) //nolint:gosec // required by the registration service
	return hex.EncodeToString(sum[:])
}

// NewCredentials builds credentials from a plain or pre-hashed password.
func NewCredentials(userID, password string) model.Credentials {
	return model.Credentials{UserID: userID, PassHash: PassHash(password)}
}

// PageURL returns the request URL for one page.
func (c *Client) PageURL(eventID string, creds model.Credentials, page, size int) string {
	q := url.Values{}
	q.Set("format", c.format)
	q.Set("client_id", c.clientID)
	q.Set("user_id", creds.UserID)
	q.Set("user_pass", creds.PassHash)
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	q.Set("include_test_entries", "true")
	q.Set("elide_json", "false")
	return c.base + "/event/" + url.PathEscape(eventID) + "/entry?" + q.Encode()
}

// FetchPage requests one page. Non-200 answers and bodies without an
// event_entry list are errors.
func (c *Client) FetchPage(ctx context.Context, eventID string, creds model.Credentials, page, size int) (roster.Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.PageURL(eventID, creds, page, size), nil)
	if err != nil {
		return roster.Page{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return roster.Page{}, fmt.Errorf("get page %d: %w", page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return roster.Page{}, fmt.Errorf("%w: page %d: %d %s", ErrStatus, page, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var body struct {
		EventEntry *[]entryJSON `json:"event_entry"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return roster.Page{}, fmt.Errorf("%w: page %d: %w", ErrBody, page, err)
	}
	if body.EventEntry == nil {
		return roster.Page{}, fmt.Errorf("%w: page %d", ErrMissingEntry, page)
	}

	pages, err := headerInt(resp.Header, HeaderPageCount, 1)
	if err != nil {
		return roster.Page{}, err
	}
	rows, err := headerInt(resp.Header, HeaderRowCount, 0)
	if err != nil {
		return roster.Page{}, err
	}

	entries := make([]model.RosterEntry, 0, len(*body.EventEntry))
	for _, e := range *body.EventEntry {
		entries = append(entries, e.toModel())
	}
	c.log.Debug(ctx, "roster page fetched",
		logger.Int("page", page),
		logger.Int("entries", len(entries)),
		logger.Int("total_pages", pages))
	return roster.Page{Entries: entries, TotalPages: pages, TotalRows: rows}, nil
}

func headerInt(h http.Header, name string, def int) (int, error) {
	v := strings.TrimSpace(h.Get(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrHeader, name, v)
	}
	return n, nil
}
