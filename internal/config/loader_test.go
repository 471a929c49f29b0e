package config_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/okian/racefeed/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":5000")
				convey.So(cfg.ListenAddr, convey.ShouldEqual, ":61611")
				convey.So(cfg.PersistWorkers, convey.ShouldEqual, 1)
				convey.So(cfg.ReplayWindow, convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("RACEFEED_ADDR", ":8080")
			_ = os.Setenv("RACEFEED_LISTEN_ADDR", "127.0.0.1:7000")
			_ = os.Setenv("RACEFEED_ROSTER_PAGE_SIZE", "25")
			_ = os.Setenv("RACEFEED_AUTO_START_LISTENER", "true")
			_ = os.Setenv("RACEFEED_MESSAGES", "Go, go, go!| Nice pace ")

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.ListenAddr, convey.ShouldEqual, "127.0.0.1:7000")
				convey.So(cfg.RosterPageSize, convey.ShouldEqual, 25)
				convey.So(cfg.AutoStartListener, convey.ShouldBeTrue)
				convey.So(cfg.Messages, convey.ShouldResemble, []string{"Go, go, go!", "Nice pace"})
			})
		})

		convey.Convey("When loading config with YAML file", func() {
			tmpFile := createTempConfigFile(`
addr: ":9090"
listen_addr: ":61612"
field_separator: "|"
store_to_database: true
database_driver: sqlite
database_url: "file:race.db"
persist_workers: 4
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("RACEFEED_CONFIG", tmpFile)

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from YAML file", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.ListenAddr, convey.ShouldEqual, ":61612")
				convey.So(cfg.FieldSeparator, convey.ShouldEqual, "|")
				convey.So(cfg.StoreToDatabase, convey.ShouldBeTrue)
				convey.So(cfg.DatabaseDriver, convey.ShouldEqual, "sqlite")
				convey.So(cfg.PersistWorkers, convey.ShouldEqual, 4)
			})

			convey.Convey("And env vars take precedence over the file", func() {
				_ = os.Setenv("RACEFEED_ADDR", ":7070")
				cfg, err := config.Load(ctx)
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":7070")
				convey.So(cfg.ListenAddr, convey.ShouldEqual, ":61612")
			})
		})

		convey.Convey("When the config file does not exist", func() {
			_ = os.Setenv("RACEFEED_CONFIG", "/nonexistent/racefeed.yaml")

			_, err := config.Load(ctx)

			convey.Convey("Then it fails with a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When the config file is not valid YAML", func() {
			tmpFile := createTempConfigFile("addr: [unterminated\n")
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("RACEFEED_CONFIG", tmpFile)

			_, err := config.Load(ctx)

			convey.Convey("Then it fails with a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func TestConfigLoaderValidation(t *testing.T) {
	convey.Convey("Given invalid values", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()
		defer clearConfigEnvVars()

		cases := map[string]string{
			"RACEFEED_ADDR":               "",
			"RACEFEED_ROSTER_PAGE_SIZE":   "0",
			"RACEFEED_PERSIST_WORKERS":    "-1",
			"RACEFEED_HEARTBEAT_MS":       "0",
			"RACEFEED_SUBSCRIBER_BUFFER":  "0",
			"RACEFEED_PERSIST_QUEUE_SIZE": "0",
			"RACEFEED_REPLAY_WINDOW":      "-5",
		}
		for key, value := range cases {
			convey.Convey("When "+key+" is "+value, func() {
				_ = os.Setenv(key, value)
				_, err := config.Load(ctx)
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}

		convey.Convey("When storage is enabled without a database url", func() {
			_ = os.Setenv("RACEFEED_STORE_TO_DATABASE", "true")
			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When storage uses an unknown driver", func() {
			_ = os.Setenv("RACEFEED_STORE_TO_DATABASE", "true")
			_ = os.Setenv("RACEFEED_DATABASE_URL", "mysql://x")
			_ = os.Setenv("RACEFEED_DATABASE_DRIVER", "mysql")
			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("When a number does not parse", func() {
			_ = os.Setenv("RACEFEED_PERSIST_WORKERS", "many")
			_, err := config.Load(ctx)
			convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
		})
	})
}

// clearConfigEnvVars removes all RACEFEED_ environment variables.
func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, "RACEFEED_") {
			_ = os.Unsetenv(key)
		}
	}
}

// createTempConfigFile creates a temporary YAML file with the given content.
func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "racefeed-config-*.yaml")
	if err != nil {
		panic(err)
	}
	defer func() { _ = tmpFile.Close() }()

	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
