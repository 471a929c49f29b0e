package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/racefeed/internal/adapters/http/api"
	"github.com/okian/racefeed/internal/adapters/mq/broadcast"
	"github.com/okian/racefeed/internal/adapters/repository"
	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

// mockDeps records calls and answers with canned values.
type mockDeps struct {
	mu sync.Mutex

	hub       *broadcast.Hub
	noStream  bool
	login     types.LoginResult
	loginArgs []string
	check     types.ConnectionCheck
	progress  model.LoginProgress

	listener    types.ListenerStatus
	listenerErr error

	status      repository.Status
	sessions    []model.Session
	stats       repository.Stats
	reads       []model.PersistedRead
	storeErr    error
	lastLimit   int
	serviceStat map[string]interface{}
}

func newMockDeps() *mockDeps {
	return &mockDeps{
		hub:         broadcast.NewHub(broadcast.WithHeartbeat(30 * time.Millisecond)),
		serviceStat: map[string]interface{}{"started": true},
	}
}

func (m *mockDeps) TriggerLogin(_ context.Context, eventID, userID, password string) types.LoginResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginArgs = []string{eventID, userID, password}
	return m.login
}

func (m *mockDeps) TestConnection(_ context.Context, eventID, userID, password string) types.ConnectionCheck {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loginArgs = []string{eventID, userID, password}
	return m.check
}

func (m *mockDeps) LoginProgress() model.LoginProgress { return m.progress }

func (m *mockDeps) StartListener(context.Context) (types.ListenerStatus, error) {
	return m.listener, m.listenerErr
}

func (m *mockDeps) ListenerStatus() types.ListenerStatus { return m.listener }

func (m *mockDeps) Subscribe() (*broadcast.Subscription, error) {
	if m.noStream {
		return nil, errors.New("service not started")
	}
	return m.hub.Subscribe(), nil
}

func (m *mockDeps) DatabaseStatus(context.Context) repository.Status { return m.status }

func (m *mockDeps) Sessions(_ context.Context, limit int) ([]model.Session, error) {
	m.lastLimit = limit
	return m.sessions, m.storeErr
}

func (m *mockDeps) Stats(context.Context) (repository.Stats, error) { return m.stats, m.storeErr }

func (m *mockDeps) RecentReads(_ context.Context, limit int) ([]model.PersistedRead, error) {
	m.lastLimit = limit
	return m.reads, m.storeErr
}

func (m *mockDeps) GetStats() map[string]interface{} { return m.serviceStat }

func newMux(deps *mockDeps) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, nil).Register(context.Background(), mux)
	return mux
}

func serve(mux *http.ServeMux, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var m map[string]any
	So(json.Unmarshal(w.Body.Bytes(), &m), ShouldBeNil)
	return m
}

func waitForSubscribers(hub *broadcast.Hub, n int) {
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() != n && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	So(hub.Subscribers(), ShouldEqual, n)
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := newMockDeps()
		defer deps.hub.Close()
		mux := newMux(deps)

		Convey("Then the health endpoint serves request metrics", func() {
			serve(mux, httptest.NewRequest(http.MethodGet, "/stats", nil))
			w := serve(mux, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "http_requests_total")
		})

		Convey("Then the stats endpoint serves service stats", func() {
			w := serve(mux, httptest.NewRequest(http.MethodGet, "/stats", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["started"], ShouldEqual, true)
		})

		Convey("Then routes reject the wrong method", func() {
			w := serve(mux, httptest.NewRequest(http.MethodGet, "/api/login", nil))
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestLoginHandler(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := newMockDeps()
		defer deps.hub.Close()
		deps.login = types.LoginResult{Success: true, Stage: types.StageListening, TotalStages: types.LoginStages, RaceName: "Harbor 10K", RunnersLoaded: 5}
		mux := newMux(deps)

		Convey("When a login form is posted", func() {
			form := url.Values{"event_id": {"42"}, "user_id": {"timer"}, "password": {"secret"}}
			req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := serve(mux, req)

			Convey("Then the cycle runs with the form values", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.loginArgs, ShouldResemble, []string{"42", "timer", "secret"})
				body := decode(w)
				So(body["success"], ShouldEqual, true)
				So(body["race_name"], ShouldEqual, "Harbor 10K")
				So(body["runners_loaded"], ShouldEqual, float64(5))
			})
		})

		Convey("When a login is posted as JSON", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"event_id":"7","user_id":"u","password":"p"}`))
			req.Header.Set("Content-Type", "application/json")
			w := serve(mux, req)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.loginArgs, ShouldResemble, []string{"7", "u", "p"})
		})

		Convey("When the event id is missing", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader("user_id=u"))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := serve(mux, req)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(deps.loginArgs, ShouldBeNil)
		})

		Convey("When the JSON body is broken", func() {
			req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"event_id":`))
			req.Header.Set("Content-Type", "application/json")
			So(serve(mux, req).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the connection is tested", func() {
			deps.check = types.ConnectionCheck{Success: true, EntryCount: 1, TotalRows: 5}
			req := httptest.NewRequest(http.MethodPost, "/api/test-connection", strings.NewReader("event_id=42&user_id=u&password=p"))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := serve(mux, req)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["total_rows"], ShouldEqual, float64(5))
		})

		Convey("When progress is polled", func() {
			deps.progress = model.LoginProgress{Total: 10, Loaded: 4}
			w := serve(mux, httptest.NewRequest(http.MethodGet, "/api/login-progress", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decode(w)
			So(body["total"], ShouldEqual, float64(10))
			So(body["loaded"], ShouldEqual, float64(4))
			So(body["complete"], ShouldEqual, false)
		})
	})
}

func TestListenerHandler(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := newMockDeps()
		defer deps.hub.Close()
		mux := newMux(deps)

		Convey("When the listener starts", func() {
			deps.listener = types.ListenerStatus{Running: true, Result: "started", Addr: "127.0.0.1:61611"}
			w := serve(mux, httptest.NewRequest(http.MethodPost, "/api/listener/start", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["result"], ShouldEqual, "started")
		})

		Convey("When the listener cannot bind", func() {
			deps.listenerErr = errors.New("address in use")
			w := serve(mux, httptest.NewRequest(http.MethodPost, "/api/listener/start", nil))
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(decode(w)["error"], ShouldContainSubstring, "address in use")
		})

		Convey("When the status is requested", func() {
			deps.listener = types.ListenerStatus{Running: true, Connections: 2}
			w := serve(mux, httptest.NewRequest(http.MethodGet, "/api/listener/status", nil))
			So(decode(w)["connections"], ShouldEqual, float64(2))
		})
	})
}

func TestTimingHandler(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := newMockDeps()
		defer deps.hub.Close()
		mux := newMux(deps)

		Convey("When the database status is requested", func() {
			deps.status = repository.Status{Enabled: true, Connected: true, Driver: "sqlite"}
			w := serve(mux, httptest.NewRequest(http.MethodGet, "/api/timing/database-status", nil))
			body := decode(w)
			So(body["database_enabled"], ShouldEqual, true)
			So(body["driver"], ShouldEqual, "sqlite")
		})

		Convey("When sessions are listed without a limit", func() {
			deps.sessions = []model.Session{{ID: 1, Name: "Session_1", Status: "active"}}
			w := serve(mux, httptest.NewRequest(http.MethodGet, "/api/timing/sessions", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.lastLimit, ShouldEqual, 20)
			So(decode(w)["sessions"], ShouldHaveLength, 1)
		})

		Convey("When recent reads are listed with a limit", func() {
			deps.reads = []model.PersistedRead{{Bib: "7"}, {Bib: "8"}}
			w := serve(mux, httptest.NewRequest(http.MethodGet, "/api/timing/recent-reads?limit=2", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.lastLimit, ShouldEqual, 2)
			So(decode(w)["reads"], ShouldHaveLength, 2)
		})

		Convey("When the limit is invalid", func() {
			for _, q := range []string{"0", "abc", "100000"} {
				w := serve(mux, httptest.NewRequest(http.MethodGet, "/api/timing/recent-reads?limit="+q, nil))
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			}
		})

		Convey("When storage is disabled", func() {
			deps.storeErr = repository.ErrNotConnected
			w := serve(mux, httptest.NewRequest(http.MethodGet, "/api/timing/stats", nil))
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(decode(w)["code"], ShouldEqual, "database_disabled")
		})

		Convey("When storage fails", func() {
			deps.storeErr = errors.New("disk full")
			w := serve(mux, httptest.NewRequest(http.MethodGet, "/api/timing/sessions", nil))
			So(w.Code, ShouldEqual, http.StatusInternalServerError)
		})
	})
}

func TestStreamHandler(t *testing.T) {
	Convey("Given an API server behind a real listener", t, func() {
		deps := newMockDeps()
		defer deps.hub.Close()
		srv := httptest.NewServer(newMux(deps))
		defer srv.Close()

		Convey("When a consumer opens the event stream", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream", nil)
			So(err, ShouldBeNil)
			resp, err := srv.Client().Do(req)
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			waitForSubscribers(deps.hub, 1)
			sc := bufio.NewScanner(resp.Body)
			nextData := func() string {
				for sc.Scan() {
					if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
						return data
					}
				}
				return ""
			}

			Convey("Then idle periods produce keepalives", func() {
				So(resp.Header.Get("Content-Type"), ShouldEqual, "text/event-stream")
				So(nextData(), ShouldEqual, `{"keepalive":true}`)
			})

			Convey("Then published results are pushed", func() {
				deps.hub.Publish(model.ProcessedResult{Bib: "7", Name: "Ada Byron"})
				var got map[string]any
				for got == nil || got["keepalive"] == true {
					got = nil
					So(json.Unmarshal([]byte(nextData()), &got), ShouldBeNil)
				}
				So(got["bib"], ShouldEqual, "7")
				So(got["name"], ShouldEqual, "Ada Byron")
			})
		})

		Convey("When a consumer connects over websocket", func() {
			wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
			So(err, ShouldBeNil)
			defer conn.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusSwitchingProtocols)

			waitForSubscribers(deps.hub, 1)
			deps.hub.Publish(model.ProcessedResult{Bib: "8", Location: "finish"})

			Convey("Then results arrive as text messages", func() {
				_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
				var got map[string]any
				for got == nil || got["keepalive"] == true {
					got = nil
					_, data, err := conn.ReadMessage()
					So(err, ShouldBeNil)
					So(json.Unmarshal(data, &got), ShouldBeNil)
				}
				So(got["bib"], ShouldEqual, "8")
				So(got["location"], ShouldEqual, "finish")
			})

			Convey("And closing the socket releases the subscription", func() {
				_ = conn.Close()
				waitForSubscribers(deps.hub, 0)
			})
		})

		Convey("When the service cannot stream", func() {
			deps.noStream = true
			resp, err := srv.Client().Get(srv.URL + "/stream")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}
