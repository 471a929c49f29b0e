// Package service composes the ingestion pipeline and exposes the operations
// the HTTP API and the binaries call.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/racefeed/internal/adapters/mq/broadcast"
	persistqueue "github.com/okian/racefeed/internal/adapters/mq/queue"
	writerpool "github.com/okian/racefeed/internal/adapters/mq/worker"
	"github.com/okian/racefeed/internal/adapters/repository"
	"github.com/okian/racefeed/internal/adapters/rosterapi"
	"github.com/okian/racefeed/internal/adapters/tcp"
	"github.com/okian/racefeed/internal/domain/correlate"
	"github.com/okian/racefeed/internal/domain/dedupe"
	"github.com/okian/racefeed/internal/domain/encourage"
	"github.com/okian/racefeed/internal/domain/failure"
	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/internal/domain/protocol"
	"github.com/okian/racefeed/internal/domain/roster"
	"github.com/okian/racefeed/internal/domain/types"
	"github.com/okian/racefeed/pkg/logger"
	"github.com/okian/racefeed/pkg/metrics"
)

// ErrNotStarted is returned by operations that need a started service.
var ErrNotStarted = errors.New("service not started")

// queueRecorder hands records to the persistence writers without blocking
// the connection goroutine.
type queueRecorder struct {
	queue persistqueue.Queue
}

func (r *queueRecorder) Record(ctx context.Context, rec model.TimingRecord, matched bool) error {
	if !r.queue.Enqueue(ctx, persistqueue.Job{Record: rec, Matched: matched, ReceivedAt: time.Now()}) {
		return failure.Wrap("service.record", failure.PersistenceFailure, persistqueue.ErrQueueFull)
	}
	return nil
}

// Service owns one timing session: the roster, the device listener, the
// broadcast hub and the persistence pipeline.
type Service struct {
	mu sync.RWMutex

	// Core components
	roster     *roster.Store
	progress   *roster.Progress
	loader     *roster.Loader
	fetcher    roster.PageFetcher
	hub        *broadcast.Hub
	picker     *encourage.Picker
	replay     dedupe.Deduper
	correlator *correlate.Correlator
	listener   *tcp.Listener
	store      repository.Store
	queue      *persistqueue.InMemoryQueue
	pool       *writerpool.Pool

	// Configuration
	listenAddr       string
	parser           protocol.Parser
	terminator       string
	rosterPageSize   int
	messages         []string
	subscriberBuffer int
	heartbeat        time.Duration
	replayWindow     int
	persistQueueSize int
	persistWorkers   int
	defaultUserID    string
	defaultPassword  string

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithListenAddr sets the device listener address.
func WithListenAddr(addr string) Option {
	return func(s *Service) {
		if addr != "" {
			s.listenAddr = addr
		}
	}
}

// WithProtocol sets the record format id, field separator and line terminator.
func WithProtocol(formatID, separator, terminator string) Option {
	return func(s *Service) {
		s.parser = protocol.NewParser(separator, formatID)
		if terminator != "" {
			s.terminator = terminator
		}
	}
}

// WithRosterFetcher sets the source of roster pages.
func WithRosterFetcher(f roster.PageFetcher) Option {
	return func(s *Service) {
		if f != nil {
			s.fetcher = f
		}
	}
}

// WithRosterPageSize sets the roster page size.
func WithRosterPageSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.rosterPageSize = size
		}
	}
}

// WithDefaultCredentials sets the credentials used when a login omits them.
func WithDefaultCredentials(userID, password string) Option {
	return func(s *Service) {
		s.defaultUserID = userID
		s.defaultPassword = password
	}
}

// WithMessages sets the encouragement messages.
func WithMessages(messages []string) Option {
	return func(s *Service) {
		if len(messages) > 0 {
			s.messages = messages
		}
	}
}

// WithSubscriberBuffer bounds each stream consumer's backlog.
func WithSubscriberBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.subscriberBuffer = n
		}
	}
}

// WithHeartbeat sets the keepalive interval of idle consumers.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// WithReplayWindow bounds the replay guard. Zero disables it.
func WithReplayWindow(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.replayWindow = n
		}
	}
}

// WithStore sets the persistence backend. Without it reads are not stored.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithPersistQueueSize bounds the queue between handlers and writers.
func WithPersistQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.persistQueueSize = size
		}
	}
}

// WithPersistWorkers sets the number of writer goroutines.
func WithPersistWorkers(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.persistWorkers = count
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		listenAddr:       ":61611",
		parser:           protocol.NewParser("", ""),
		terminator:       protocol.DefaultLineTerminator,
		rosterPageSize:   100,
		messages:         encourage.DefaultMessages,
		subscriberBuffer: 256,
		heartbeat:        time.Second,
		replayWindow:     0,
		store:            repository.NopStore{},
		persistQueueSize: 10_000,
		persistWorkers:   1,
		logger:           nil, // replaced when the service starts
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// persisting reports whether reads go to a real backend.
func (s *Service) persisting() bool {
	_, nop := s.store.(repository.NopStore)
	return !nop
}

// Start initializes and starts the service components. The device listener
// is not started; see StartListener.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get()
	}

	s.logger.Info(ctx, "starting racefeed service...")

	s.roster = roster.NewStore()
	s.progress = &roster.Progress{}
	s.loader = roster.NewLoader(s.roster, s.fetcher, s.progress,
		roster.WithPageSize(s.rosterPageSize),
		roster.WithLogger(s.logger.Named("roster")),
	)
	s.hub = broadcast.NewHub(
		broadcast.WithBuffer(s.subscriberBuffer),
		broadcast.WithHeartbeat(s.heartbeat),
		broadcast.WithLogger(s.logger.Named("hub")),
	)
	s.picker = encourage.NewPicker(encourage.WithMessages(s.messages))

	s.replay = dedupe.Nop{}
	if s.replayWindow > 0 {
		s.replay = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.replayWindow))
	}

	copts := []correlate.Option{
		correlate.WithReplayGuard(s.replay),
		correlate.WithLogger(s.logger.Named("correlate")),
	}
	if s.persisting() {
		s.queue = persistqueue.NewInMemoryQueue(persistqueue.WithCapacity(s.persistQueueSize))
		s.pool = writerpool.NewPool(s.persistWorkers, s.queue, s.store,
			writerpool.WithLogger(s.logger.Named("writer")))
		// Writers drain the queue on Stop, not on request cancellation.
		s.pool.Start(context.WithoutCancel(ctx))
		copts = append(copts, correlate.WithRecorder(&queueRecorder{queue: s.queue}))
	}
	s.correlator = correlate.New(s.roster, s.hub, s.picker, copts...)

	handler := tcp.NewHandler(s.correlator,
		tcp.WithParser(s.parser),
		tcp.WithLineTerminator(s.terminator),
		tcp.WithHandlerLogger(s.logger.Named("tcp")),
	)
	s.listener = tcp.NewListener(s.listenAddr, handler, tcp.WithListenerLogger(s.logger.Named("listener")))

	s.started = true
	s.logger.Info(ctx, "racefeed service started",
		logger.String("listen_addr", s.listenAddr),
		logger.Bool("persisting", s.persisting()),
		logger.Int("replay_window", s.replayWindow),
	)

	return nil
}

// Stop shuts the listener, the stream consumers and the writers down. Queued
// reads are written before Stop returns unless ctx expires first.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.logger.Info(ctx, "stopping racefeed service...")

	var errs []error
	if err := s.listener.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop listener: %w", err))
	}
	s.hub.Close()
	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain writers: %w", err))
		}
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}

	s.started = false
	s.logger.Info(ctx, "racefeed service stopped")
	return errors.Join(errs...)
}

func (s *Service) credentials(userID, password string) model.Credentials {
	if userID == "" {
		userID = s.defaultUserID
	}
	if password == "" {
		password = s.defaultPassword
	}
	return rosterapi.NewCredentials(userID, password)
}

// TriggerLogin loads the roster of eventID and, when that succeeds, starts
// the device listener. The result reports the stage the cycle reached.
func (s *Service) TriggerLogin(ctx context.Context, eventID, userID, password string) types.LoginResult {
	res := types.LoginResult{
		Status:      "Authenticating...",
		Stage:       types.StageAuthenticating,
		TotalStages: types.LoginStages,
	}

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		res.Error = fmt.Sprintf("Login failed: %v", ErrNotStarted)
		return res
	}

	loaded, err := s.loader.Load(ctx, eventID, s.credentials(userID, password))
	if err != nil {
		s.logger.Error(ctx, "roster load failed", logger.String("event_id", eventID), logger.Error(err))
		res.Stage = types.StageRosterLoaded
		res.Error = "Failed to fetch roster"
		return res
	}
	// A new roster starts a new replay window.
	s.correlator.ResetReplay()
	s.resolveSession(ctx, loaded.RaceName)

	res.Status = "Roster loaded successfully"
	res.Stage = types.StageRosterLoaded
	res.RaceName = loaded.RaceName
	res.RunnersLoaded = loaded.Loaded
	res.CredentialsValid = true
	res.FailedPages = loaded.FailedPages

	lres, err := s.listener.Start(ctx)
	if err != nil {
		s.logger.Error(ctx, "listener start failed", logger.Error(err))
		res.Error = fmt.Sprintf("Listener failed: %v", err)
		return res
	}

	res.Success = true
	res.Status = "Ready to receive timing data"
	res.Stage = types.StageListening
	res.MiddlewareConnected = true
	res.DisplayActive = true
	res.Listener = lres.String()
	s.logger.Info(ctx, "login complete",
		logger.String("event_id", eventID),
		logger.String("race_name", loaded.RaceName),
		logger.Int("runners", loaded.Loaded),
		logger.String("listener", lres.String()),
	)
	return res
}

// resolveSession opens or resumes the timing session of the loaded race so
// the session row carries its race name. Failures only cost persistence.
func (s *Service) resolveSession(ctx context.Context, raceName string) {
	if !s.persisting() {
		return
	}
	id, err := s.store.EnsureSession(ctx, "", raceName)
	if err != nil {
		s.logger.Error(ctx, "timing session not resolved", logger.String("race_name", raceName), logger.Error(err))
		return
	}
	s.logger.Info(ctx, "timing session ready", logger.Int64("session_id", id), logger.String("race_name", raceName))
}

// TestConnection fetches a single-entry page to check the credentials
// without touching the loaded roster.
func (s *Service) TestConnection(ctx context.Context, eventID, userID, password string) types.ConnectionCheck {
	if s.fetcher == nil {
		return types.ConnectionCheck{Error: roster.ErrNoFetcher.Error()}
	}
	page, err := s.fetcher.FetchPage(ctx, eventID, s.credentials(userID, password), 1, 1)
	if err != nil {
		return types.ConnectionCheck{Error: err.Error()}
	}
	check := types.ConnectionCheck{
		Success:    true,
		EntryCount: len(page.Entries),
		TotalRows:  page.TotalRows,
		TotalPages: page.TotalPages,
	}
	if len(page.Entries) > 0 {
		first := page.Entries[0]
		check.FirstEntry = &first
	}
	return check
}

// StartListener starts accepting device connections. Calling it while a
// listener runs reports AlreadyRunning.
func (s *Service) StartListener(ctx context.Context) (types.ListenerStatus, error) {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return types.ListenerStatus{}, ErrNotStarted
	}

	res, err := s.listener.Start(ctx)
	if err != nil {
		return types.ListenerStatus{}, err
	}
	st := s.ListenerStatus()
	st.Result = res.String()
	return st, nil
}

// ListenerStatus reports whether devices can connect.
func (s *Service) ListenerStatus() types.ListenerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return types.ListenerStatus{}
	}
	st := types.ListenerStatus{
		Running:     s.listener.Running(),
		Connections: s.listener.Connections(),
	}
	if addr := s.listener.Addr(); addr != nil {
		st.Addr = addr.String()
	}
	return st
}

// Subscribe registers a stream consumer. The caller must Close it.
func (s *Service) Subscribe() (*broadcast.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return nil, ErrNotStarted
	}
	return s.hub.Subscribe(), nil
}

// LoginProgress reports roster loading progress.
func (s *Service) LoginProgress() model.LoginProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.progress == nil {
		return model.LoginProgress{}
	}
	return s.progress.Snapshot()
}

// DatabaseStatus describes the persistence backend.
func (s *Service) DatabaseStatus(ctx context.Context) repository.Status {
	return s.store.Status(ctx)
}

// Sessions lists stored sessions, newest first.
func (s *Service) Sessions(ctx context.Context, limit int) ([]model.Session, error) {
	return s.store.Sessions(ctx, limit)
}

// Stats aggregates reads of active sessions.
func (s *Service) Stats(ctx context.Context) (repository.Stats, error) {
	return s.store.Stats(ctx)
}

// RecentReads returns the latest stored reads.
func (s *Service) RecentReads(ctx context.Context, limit int) ([]model.PersistedRead, error) {
	return s.store.RecentReads(ctx, limit)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := context.Background()
	stats := map[string]interface{}{
		"started":        s.started,
		"listenAddr":     s.listenAddr,
		"persisting":     s.persisting(),
		"persistWorkers": s.persistWorkers,
		"replayWindow":   s.replayWindow,
	}

	if s.started {
		published, dropped := s.hub.Stats()
		subscribers := s.hub.Subscribers()
		stats["listenerRunning"] = s.listener.Running()
		stats["connections"] = s.listener.Connections()
		stats["subscribers"] = subscribers
		stats["published"] = published
		stats["dropped"] = dropped
		stats["rosterEntries"] = s.roster.Len()
		stats["raceName"] = s.roster.RaceName()
		stats["eventId"] = s.roster.EventID()
		stats["replaySize"] = s.replay.Size()

		metrics.UpdateSubscribers(subscribers)
		metrics.UpdateRosterEntries(s.roster.Len())
		if s.queue != nil {
			queueLen := s.queue.Len(ctx)
			stats["queueLength"] = queueLen
			metrics.UpdatePersistQueue(queueLen, s.queue.Capacity())
		}
	}

	return stats
}
