package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/racefeed/internal/adapters/http/api"
	"github.com/okian/racefeed/internal/adapters/repository"
	"github.com/okian/racefeed/internal/adapters/rosterapi"
	service "github.com/okian/racefeed/internal/app"
	"github.com/okian/racefeed/internal/config"
	"github.com/okian/racefeed/pkg/logger"
	"github.com/okian/racefeed/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants. WriteTimeout stays zero so /stream and /ws
// consumers are not cut off.
const (
	readTimeout       = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics
	// We collect our own custom system metrics instead
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		// logger isn't available yet
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.InitWithOptions(logger.Options{Format: cfg.LogFormat}); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	loggerInstance := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		loggerInstance.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	if err := run(ctx, cfg, loggerInstance); err != nil {
		loggerInstance.Error(ctx, "racefeed stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

// run wires the service and serves HTTP until ctx ends.
func run(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	svc := newService(cfg, store, log)
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Error(ctx, "service stop failed", logger.Error(err))
		}
	}()

	if cfg.AutoStartListener {
		st, err := svc.StartListener(ctx)
		if err != nil {
			return err
		}
		log.Info(ctx, "device listener started at boot", logger.String("addr", st.Addr))
	}

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	mux := http.NewServeMux()
	api.NewServer(svc, log.Named("api")).Register(ctx, mux)
	srv := newHTTPServer(cfg.Addr, mux)

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}
	log.Info(ctx, "server stopped")
	return nil
}

// openStore returns the configured timing store. Persistence off yields a
// NopStore so the service skips the write path entirely.
func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (repository.Store, error) {
	if !cfg.StoreToDatabase {
		log.Info(ctx, "persistence disabled")
		return repository.NopStore{}, nil
	}
	db, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL, cfg.DatabaseDebug)
	if err != nil {
		return nil, err
	}
	if err := repository.CreateTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info(ctx, "persistence enabled", logger.String("driver", cfg.DatabaseDriver))
	return repository.NewBunStore(db,
		repository.WithLogger(log.Named("store")),
		repository.WithDriverName(cfg.DatabaseDriver),
		repository.WithSessionNameLayout(cfg.SessionNameFormat),
		repository.WithAutoCreateSession(cfg.AutoCreateSession),
	), nil
}

// newService maps configuration onto service options.
func newService(cfg *config.Config, store repository.Store, log logger.Logger) *service.Service {
	client := rosterapi.New(cfg.RosterBaseURL,
		rosterapi.WithTimeout(cfg.RosterTimeout()),
		rosterapi.WithFormat(cfg.RosterFormat),
		rosterapi.WithClientID(cfg.ClientID),
		rosterapi.WithLogger(log.Named("roster")),
	)
	return service.New(
		service.WithLogger(log),
		service.WithListenAddr(cfg.ListenAddr),
		service.WithProtocol(cfg.FormatID, cfg.FieldSeparator, cfg.LineTerminator),
		service.WithRosterFetcher(client),
		service.WithRosterPageSize(cfg.RosterPageSize),
		service.WithDefaultCredentials(cfg.RosterUserID, cfg.RosterPassword),
		service.WithMessages(cfg.Messages),
		service.WithSubscriberBuffer(cfg.SubscriberBuffer),
		service.WithHeartbeat(cfg.Heartbeat()),
		service.WithReplayWindow(cfg.ReplayWindow),
		service.WithStore(store),
		service.WithPersistQueueSize(cfg.PersistQueueSize),
		service.WithPersistWorkers(cfg.PersistWorkers),
	)
}

func newHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// startSystemMetricsUpdater refreshes the system gauges every metrics
// refresh interval until ctx ends.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater starts a background goroutine that updates service metrics.
func startServiceMetricsUpdater(ctx context.Context, svc *service.Service) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateServiceMetrics(svc)
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
}

// updateServiceMetrics refreshes the service gauges; GetStats sets them as
// a side effect.
func updateServiceMetrics(svc *service.Service) {
	_ = svc.GetStats()
}
