package feedsim_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/okian/racefeed/internal/adapters/rosterapi"
	"github.com/okian/racefeed/internal/adapters/tcp"
	"github.com/okian/racefeed/internal/domain/correlate"
	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/internal/domain/protocol"
	"github.com/okian/racefeed/internal/feedsim"
	"github.com/okian/racefeed/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

func TestGenerator(t *testing.T) {
	Convey("Given a generator over three bibs", t, func() {
		gen := feedsim.NewGenerator("", feedsim.Bibs(3), []string{"start", "finish"}, 7)

		Convey("When reads are generated", func() {
			first := gen.Next()
			second := gen.Next()

			Convey("Then sequence numbers increase and fields parse", func() {
				So(first.Format, ShouldEqual, protocol.DefaultFormatID)
				So(first.Sequence, ShouldEqual, "1")
				So(second.Sequence, ShouldEqual, "2")
				So([]string{"1", "2", "3"}, ShouldContain, first.Bib)
				So([]string{"start", "finish"}, ShouldContain, first.Location)
				So(first.TagCode, ShouldHaveLength, 8)
				So(first.Lap, ShouldNotEqual, "0")

				line := protocol.NewParser("", "").Encode(first)
				rec, err := protocol.NewParser("", "").Parse(line)
				So(err, ShouldBeNil)
				So(rec, ShouldResemble, first)
			})
		})

		Convey("When a guntime pulse is generated", func() {
			rec := gen.GunTime("start")
			So(rec.Bib, ShouldEqual, protocol.GunTimeBib)
			So(rec.Location, ShouldEqual, "start")
			So(rec.Gator, ShouldEqual, "0")
		})
	})
}

func TestRosterServer(t *testing.T) {
	Convey("Given a simulated registration service with 250 entries", t, func() {
		ctx := context.Background()
		entries := feedsim.GenerateRoster(250, "Harbor 10K", 3)
		rs := feedsim.NewRosterServer("1234", entries, "timer", "secret")
		srv := httptest.NewServer(rs.Handler())
		defer srv.Close()
		client := rosterapi.New(srv.URL)

		Convey("Then generated entries are complete", func() {
			So(entries, ShouldHaveLength, 250)
			So(entries[0].Bib, ShouldEqual, "1")
			So(entries[249].Bib, ShouldEqual, "250")
			So(entries[0].RaceName, ShouldEqual, "Harbor 10K")
			So(entries[0].Name, ShouldEqual, entries[0].FirstName+" "+entries[0].LastName)
		})

		Convey("When a page is fetched with valid credentials", func() {
			page, err := client.FetchPage(ctx, "1234", rosterapi.NewCredentials("timer", "secret"), 3, 100)

			Convey("Then the last partial page comes with the totals", func() {
				So(err, ShouldBeNil)
				So(page.Entries, ShouldHaveLength, 50)
				So(page.TotalPages, ShouldEqual, 3)
				So(page.TotalRows, ShouldEqual, 250)
				So(page.Entries[0].Bib, ShouldEqual, "201")
				So(page.Entries[0].Age, ShouldEqual, entries[200].Age)
			})
		})

		Convey("When the password digest is wrong", func() {
			_, err := client.FetchPage(ctx, "1234", rosterapi.NewCredentials("timer", "guess"), 1, 100)
			So(errors.Is(err, rosterapi.ErrStatus), ShouldBeTrue)
		})

		Convey("When the event is unknown", func() {
			_, err := client.FetchPage(ctx, "999", rosterapi.NewCredentials("timer", "secret"), 1, 100)
			So(errors.Is(err, rosterapi.ErrStatus), ShouldBeTrue)
		})

		Convey("When a page is configured to fail", func() {
			rs.FailPage(2)
			_, err := client.FetchPage(ctx, "1234", rosterapi.NewCredentials("timer", "secret"), 2, 100)
			So(errors.Is(err, rosterapi.ErrStatus), ShouldBeTrue)
		})
	})
}

type countingSink struct {
	mu   sync.Mutex
	bibs []string
}

func (s *countingSink) Handle(_ context.Context, rec model.TimingRecord) correlate.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bibs = append(s.bibs, rec.Bib)
	return correlate.OutcomeMatched
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bibs)
}

func TestRunDevice(t *testing.T) {
	Convey("Given a running device listener", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		sink := &countingSink{}
		ln := tcp.NewListener("127.0.0.1:0", tcp.NewHandler(sink))
		_, err := ln.Start(ctx)
		So(err, ShouldBeNil)
		defer func() { _ = ln.Stop(ctx) }()

		Convey("When a simulated device streams reads with pings and guntimes", func() {
			stats, err := feedsim.RunDevice(ctx, feedsim.DeviceConfig{
				Addr:      ln.Addr().String(),
				Reads:     10,
				PingEvery: 5,
				GunEvery:  5,
				Runners:   4,
				Seed:      1,
			})

			Convey("Then every line reaches the service", func() {
				So(err, ShouldBeNil)
				So(stats.Reads, ShouldEqual, 10)
				So(stats.Pings, ShouldEqual, 2)
				So(stats.GunTimes, ShouldEqual, 2)
				So(stats.Handshake, ShouldResemble, protocol.Handshake(protocol.DefaultSeparator))
				So(stats.Duration, ShouldBeGreaterThan, 0)

				deadline := time.Now().Add(2 * time.Second)
				for sink.count() < 12 && time.Now().Before(deadline) {
					time.Sleep(10 * time.Millisecond)
				}
				So(sink.count(), ShouldEqual, 12)
			})
		})
	})

	Convey("Dialing a closed port fails", t, func() {
		_, err := feedsim.RunDevice(context.Background(), feedsim.DeviceConfig{
			Addr: "127.0.0.1:1", Reads: 1, Timeout: 200 * time.Millisecond,
		})
		So(err, ShouldNotBeNil)
	})
}

func TestWatch(t *testing.T) {
	Convey("Given a stream with a keepalive and two results", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = fmt.Fprint(w, "data: {\"keepalive\": true}\n\n")
			_, _ = fmt.Fprint(w, "data: {\"bib\": \"7\", \"name\": \"Ada Byron\"}\n\n")
			_, _ = fmt.Fprint(w, "data: {\"bib\": \"8\", \"name\": \"Alan Turing\"}\n\n")
		}))
		defer srv.Close()

		Convey("When it is watched to the end", func() {
			var events []feedsim.StreamEvent
			err := feedsim.Watch(context.Background(), srv.Client(), srv.URL, func(ev feedsim.StreamEvent) bool {
				events = append(events, ev)
				return true
			})

			Convey("Then keepalives and results are told apart", func() {
				So(err, ShouldBeNil)
				So(events, ShouldHaveLength, 3)
				So(events[0].Keepalive, ShouldBeTrue)
				So(events[1].Result["bib"], ShouldEqual, "7")
				So(events[2].Result["name"], ShouldEqual, "Alan Turing")
			})
		})

		Convey("When the callback stops early", func() {
			n := 0
			err := feedsim.Watch(context.Background(), srv.Client(), srv.URL, func(feedsim.StreamEvent) bool {
				n++
				return false
			})
			So(err, ShouldBeNil)
			So(n, ShouldEqual, 1)
		})
	})

	Convey("A non-200 stream is an error", t, func() {
		srv := httptest.NewServer(http.NotFoundHandler())
		defer srv.Close()
		err := feedsim.Watch(context.Background(), srv.Client(), srv.URL, func(feedsim.StreamEvent) bool { return true })
		So(errors.Is(err, feedsim.ErrUnexpectedReply), ShouldBeTrue)
	})
}

func TestRootCommand(t *testing.T) {
	Convey("The feed-sim command tree has its subcommands", t, func() {
		root := feedsim.NewRootCommand()
		names := make([]string, 0)
		for _, c := range root.Commands() {
			names = append(names, c.Name())
		}
		So(names, ShouldContain, "device")
		So(names, ShouldContain, "roster")
		So(names, ShouldContain, "watch")

		Convey("And an unknown log format fails before running", func() {
			var out strings.Builder
			root.SetOut(&out)
			root.SetErr(&out)
			root.SetArgs([]string{"--log-format", "xml", "watch", "--url", "http://127.0.0.1:1/stream"})
			So(root.Execute(), ShouldNotBeNil)
			So(logger.Init(), ShouldBeNil)
		})
	})
}
