package feedsim

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/racefeed/pkg/logger"
)

// RunDevice connects a simulated device and streams cfg.Reads reads,
// interleaving pings and guntime pulses.
func RunDevice(ctx context.Context, cfg DeviceConfig) (DeviceStats, error) {
	stats := DeviceStats{StartTime: time.Now()}

	bibs := cfg.Bibs
	if len(bibs) == 0 {
		n := cfg.Runners
		if n <= 0 {
			n = defaultRunners
		}
		bibs = Bibs(n)
	}
	locations := cfg.Locations
	if len(locations) == 0 {
		locations = DefaultLocations
	}

	logger.Get().Info(ctx, "starting simulated device",
		logger.String("addr", cfg.Addr),
		logger.Int("reads", cfg.Reads),
		logger.Int("bibs", len(bibs)),
		logger.Duration("interval", cfg.Interval))

	dev, err := Dial(ctx, cfg)
	if err != nil {
		return stats, err
	}
	defer func() { _ = dev.Close() }()
	stats.Handshake = dev.Handshake()

	gen := NewGenerator(cfg.FormatID, bibs, locations, cfg.Seed)
	for i := 1; i <= cfg.Reads; i++ {
		if err := ctx.Err(); err != nil {
			return finish(stats), err
		}
		if cfg.GunEvery > 0 && i%cfg.GunEvery == 1 {
			if err := dev.Send(gen.GunTime(locations[0])); err != nil {
				return finish(stats), fmt.Errorf("send guntime: %w", err)
			}
			stats.GunTimes++
		}
		if err := dev.Send(gen.Next()); err != nil {
			return finish(stats), fmt.Errorf("send read %d: %w", i, err)
		}
		stats.Reads++
		if cfg.PingEvery > 0 && i%cfg.PingEvery == 0 {
			if err := dev.Ping(); err != nil {
				return finish(stats), fmt.Errorf("ping: %w", err)
			}
			stats.Pings++
		}
		if cfg.Interval > 0 {
			select {
			case <-ctx.Done():
				return finish(stats), ctx.Err()
			case <-time.After(cfg.Interval):
			}
		}
	}

	stats = finish(stats)
	logger.Get().Info(ctx, "simulated device finished",
		logger.Int("reads", stats.Reads),
		logger.Int("pings", stats.Pings),
		logger.Int("guntimes", stats.GunTimes),
		logger.Duration("duration", stats.Duration))
	return stats, nil
}

func finish(stats DeviceStats) DeviceStats {
	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	return stats
}
