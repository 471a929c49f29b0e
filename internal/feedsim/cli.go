package feedsim

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/racefeed/internal/domain/protocol"
	"github.com/okian/racefeed/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel  string
	LogFormat string
}

// NewRootCommand creates the feed-sim command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "feed-sim",
		Short: "Simulate the peers of a racefeed service",
		Long: `feed-sim plays the timing device and the registration service so a
racefeed server can be exercised end to end without race-day hardware.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if err := logger.InitWithOptions(logger.Options{Format: opts.LogFormat, Output: os.Stderr}); err != nil {
				return err
			}
			return logger.SetLevelString(opts.LogLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log format (text|json)")

	cmd.AddCommand(newDeviceCommand())
	cmd.AddCommand(newRosterCommand())
	cmd.AddCommand(newWatchCommand())
	return cmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newDeviceCommand() *cobra.Command {
	cfg := DeviceConfig{}

	cmd := &cobra.Command{
		Use:   "device",
		Short: "Connect as a timing device and stream reads",
		Long: `Connect to the racefeed device listener, complete the handshake and
stream generated reads with periodic pings and guntime pulses.

Example:
  feed-sim device --addr 127.0.0.1:61611 --reads 500 --interval 50ms`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			stats, err := RunDevice(ctx, cfg)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "reads=%d pings=%d guntimes=%d duration=%s\n",
				stats.Reads, stats.Pings, stats.GunTimes, stats.Duration)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Addr, "addr", "127.0.0.1:61611", "device listener address")
	f.StringVar(&cfg.Greeting, "greeting", DefaultGreeting, "greeting line")
	f.StringVar(&cfg.FormatID, "format-id", protocol.DefaultFormatID, "record format id")
	f.StringVar(&cfg.Separator, "separator", protocol.DefaultSeparator, "field separator")
	f.IntVar(&cfg.Reads, "reads", 100, "number of reads to send")
	f.DurationVar(&cfg.Interval, "interval", 100*time.Millisecond, "pause between reads")
	f.IntVar(&cfg.PingEvery, "ping-every", 20, "send a ping every n reads (0 disables)")
	f.IntVar(&cfg.GunEvery, "gun-every", 0, "send a guntime pulse every n reads (0 disables)")
	f.IntVar(&cfg.Runners, "runners", defaultRunners, "number of bibs to read")
	f.StringSliceVar(&cfg.Locations, "locations", DefaultLocations, "timing points")
	f.Int64Var(&cfg.Seed, "seed", time.Now().UnixNano(), "generator seed")
	f.DurationVar(&cfg.Timeout, "timeout", defaultTimeout, "dial and reply timeout")
	return cmd
}

func newRosterCommand() *cobra.Command {
	cfg := RosterConfig{}

	cmd := &cobra.Command{
		Use:   "roster",
		Short: "Serve a generated roster like the registration service",
		Long: `Serve GET /event/{id}/entry with paginated generated entries and the
page and row count headers.

Example:
  feed-sim roster --addr :8081 --event 1234 --runners 500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return ServeRoster(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Addr, "addr", ":8081", "HTTP listen address")
	f.StringVar(&cfg.EventID, "event", "1234", "event id")
	f.StringVar(&cfg.RaceName, "race", "Simulated 10K", "race name")
	f.IntVar(&cfg.Runners, "runners", defaultRunners, "number of entries")
	f.StringVar(&cfg.UserID, "user", "", "required user id (empty accepts any)")
	f.StringVar(&cfg.Password, "password", "", "required password")
	f.Int64Var(&cfg.Seed, "seed", 1, "generator seed")
	return cmd
}

func newWatchCommand() *cobra.Command {
	var (
		url   string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print results from a racefeed stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			seen := 0
			err := Watch(ctx, http.DefaultClient, url, func(ev StreamEvent) bool {
				if ev.Keepalive {
					return true
				}
				seen++
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%v %v %v %v\n",
					ev.Result["bib"], ev.Result["name"], ev.Result["location"], ev.Result["message"])
				return limit <= 0 || seen < limit
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://127.0.0.1:5000/stream", "stream url")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after n results (0 runs until interrupted)")
	return cmd
}

// ServeRoster runs the simulated registration service until ctx ends.
func ServeRoster(ctx context.Context, cfg RosterConfig) error {
	entries := GenerateRoster(cfg.Runners, cfg.RaceName, cfg.Seed)
	rs := NewRosterServer(cfg.EventID, entries, cfg.UserID, cfg.Password).
		WithLogger(logger.Get().Named("roster"))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           rs.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Get().Info(ctx, "serving roster",
			logger.String("addr", cfg.Addr),
			logger.String("event_id", cfg.EventID),
			logger.Int("entries", len(entries)))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
