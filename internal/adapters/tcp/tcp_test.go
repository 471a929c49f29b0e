package tcp_test

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/okian/racefeed/internal/adapters/tcp"
	"github.com/okian/racefeed/internal/domain/correlate"
	"github.com/okian/racefeed/internal/domain/failure"
	"github.com/okian/racefeed/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

type captureSink struct {
	mu   sync.Mutex
	recs []model.TimingRecord
	got  chan model.TimingRecord
}

func newSink() *captureSink {
	return &captureSink{got: make(chan model.TimingRecord, 64)}
}

func (s *captureSink) Handle(_ context.Context, rec model.TimingRecord) correlate.Outcome {
	s.mu.Lock()
	s.recs = append(s.recs, rec)
	s.mu.Unlock()
	s.got <- rec
	if rec.Bib == "guntime" {
		return correlate.OutcomeDiscarded
	}
	return correlate.OutcomeMatched
}

// device plays the timing device side of a connection.
type device struct {
	conn net.Conn
	r    *bufio.Reader
}

func newDevice(c net.Conn) *device {
	return &device{conn: c, r: bufio.NewReader(c)}
}

func (d *device) send(line string) {
	_, err := d.conn.Write([]byte(line + "\r\n"))
	So(err, ShouldBeNil)
}

func (d *device) readLine() string {
	_ = d.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := d.r.ReadString('\n')
	So(err, ShouldBeNil)
	return line
}

func (d *device) handshake() []string {
	d.send("CT01_33~ChronoTrack Controller~Version 1.0")
	lines := make([]string, 10)
	for i := range lines {
		lines[i] = d.readLine()
	}
	return lines
}

// faultyListener fails the first failures Accept calls with err, then
// behaves like the wrapped listener.
type faultyListener struct {
	net.Listener
	err      error
	failures atomic.Int32
	closed   atomic.Bool
}

func (f *faultyListener) Accept() (net.Conn, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, f.err
	}
	return f.Listener.Accept()
}

func (f *faultyListener) Close() error {
	f.closed.Store(true)
	return f.Listener.Close()
}

// faultyListen binds a real loopback socket; the first socket fails n
// accepts, later ones none.
func faultyListen(err error, n int32, last **faultyListener) tcp.ListenFunc {
	var binds atomic.Int32
	return func(ctx context.Context, addr string) (net.Listener, error) {
		var lc net.ListenConfig
		ln, lerr := lc.Listen(ctx, "tcp", addr)
		if lerr != nil {
			return nil, lerr
		}
		f := &faultyListener{Listener: ln, err: err}
		if binds.Add(1) == 1 {
			f.failures.Store(n)
		}
		*last = f
		return f, nil
	}
}

func TestHandlerProtocol(t *testing.T) {
	Convey("Given a handler serving one end of a pipe", t, func() {
		server, client := net.Pipe()
		sink := newSink()
		h := tcp.NewHandler(sink)

		type served struct {
			stats tcp.ConnStats
			err   error
		}
		done := make(chan served, 1)
		go func() {
			st, err := h.Serve(context.Background(), server)
			done <- served{st, err}
		}()
		dev := newDevice(client)

		Convey("When the device greets", func() {
			lines := dev.handshake()

			Convey("Then the negotiation bytes are sent in order with CRLF", func() {
				So(lines, ShouldResemble, []string{
					"RaceDisplay~Version 1.0 Level 2024.02~6\r\n",
					"location=multi\r\n",
					"guntimes=true\r\n",
					"newlocations=true\r\n",
					"authentication=none\r\n",
					"stream-mode=push\r\n",
					"time-format=iso\r\n",
					"geteventinfo\r\n",
					"getlocations\r\n",
					"start\r\n",
				})
				client.Close()
				So((<-done).err, ShouldBeNil)
			})

			Convey("And then streams a mix of lines", func() {
				dev.send("ack~start~ok")
				dev.send("")
				dev.send("CT01_33~1~finish~101~10:00:00.00~1~TAG~1")
				dev.send("ping")
				ack := dev.readLine()
				dev.send("garbage")
				dev.send("CT01_33~2~finish~guntime~10:00:01.00~1~~0")
				first := <-sink.got
				second := <-sink.got
				client.Close()
				res := <-done

				Convey("Then pings are answered and records reach the sink", func() {
					So(ack, ShouldEqual, "ack~ping\r\n")
					So(first.Bib, ShouldEqual, "101")
					So(first.Time, ShouldEqual, "10:00:00.00")
					So(second.Bib, ShouldEqual, "guntime")
				})

				Convey("Then the connection survives malformed lines and ends cleanly", func() {
					So(res.err, ShouldBeNil)
					So(res.stats.Malformed, ShouldEqual, 1)
					So(res.stats.Pings, ShouldEqual, 1)
					So(res.stats.Acks, ShouldEqual, 1)
					So(res.stats.Lines, ShouldEqual, 5)
					So(res.stats.Outcomes[correlate.OutcomeMatched], ShouldEqual, 1)
					So(res.stats.Outcomes[correlate.OutcomeDiscarded], ShouldEqual, 1)
				})
			})
		})

		Convey("When the device hangs up before greeting", func() {
			client.Close()

			Convey("Then the handler closes without error", func() {
				res := <-done
				So(res.err, ShouldBeNil)
				So(res.stats.Lines, ShouldEqual, 0)
			})
		})
	})

	Convey("Given a handler whose context is cancelled mid-stream", t, func() {
		server, client := net.Pipe()
		h := tcp.NewHandler(newSink())
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			_, err := h.Serve(ctx, server)
			done <- err
		}()
		newDevice(client).handshake()
		cancel()

		Convey("Then Serve returns", func() {
			select {
			case err := <-done:
				So(err, ShouldBeNil)
			case <-time.After(2 * time.Second):
				So("serve did not return", ShouldBeEmpty)
			}
			client.Close()
		})
	})
}

func TestHandlerTransportError(t *testing.T) {
	Convey("Given a device that stops reading during negotiation", t, func() {
		server, client := net.Pipe()
		h := tcp.NewHandler(newSink())
		done := make(chan error, 1)
		go func() {
			_, err := h.Serve(context.Background(), server)
			done <- err
		}()
		dev := newDevice(client)
		dev.send("hello")
		dev.readLine()
		client.Close()

		Convey("Then Serve reports a transport error", func() {
			err := <-done
			So(err, ShouldNotBeNil)
			So(errors.Is(err, tcp.ErrHandshakeWrite), ShouldBeTrue)
			kind, _ := failure.KindOf(err)
			So(kind, ShouldEqual, failure.TransportError)
		})
	})
}

func TestListener(t *testing.T) {
	ctx := context.Background()

	Convey("Given a listener on a free port", t, func() {
		sink := newSink()
		l := tcp.NewListener("127.0.0.1:0", tcp.NewHandler(sink))
		res, err := l.Start(ctx)
		So(err, ShouldBeNil)
		So(res, ShouldEqual, tcp.Started)
		So(l.Running(), ShouldBeTrue)
		defer func() { _ = l.Stop(ctx) }()

		Convey("When Start is called again", func() {
			again, err := l.Start(ctx)

			Convey("Then it reports the loop already running", func() {
				So(err, ShouldBeNil)
				So(again, ShouldEqual, tcp.AlreadyRunning)
				So(again.String(), ShouldEqual, "already_running")
			})
		})

		Convey("When many callers start it concurrently", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			results := map[tcp.StartResult]int{}
			for range 10 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					r, err := l.Start(ctx)
					if err == nil {
						mu.Lock()
						results[r]++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			Convey("Then no second loop starts", func() {
				So(results[tcp.AlreadyRunning], ShouldEqual, 10)
			})
		})

		Convey("When two devices connect", func() {
			a, err := net.Dial("tcp", l.Addr().String())
			So(err, ShouldBeNil)
			b, err := net.Dial("tcp", l.Addr().String())
			So(err, ShouldBeNil)
			da, db := newDevice(a), newDevice(b)
			da.handshake()
			db.handshake()
			da.send("CT01_33~1~start~7~t~1~x~1")
			db.send("CT01_33~1~finish~8~t~2~y~1")

			Convey("Then both streams reach the sink", func() {
				bibs := []string{(<-sink.got).Bib, (<-sink.got).Bib}
				So(strings.Join(bibs, ","), ShouldBeIn, []string{"7,8", "8,7"})
				So(l.Connections(), ShouldEqual, 2)
			})

			Convey("Then Stop closes live connections", func() {
				So(l.Stop(ctx), ShouldBeNil)
				So(l.Running(), ShouldBeFalse)
				_ = a.SetReadDeadline(time.Now().Add(2 * time.Second))
				_, err := bufio.NewReader(a).ReadString('\n')
				So(err, ShouldNotBeNil)
				So(l.Connections(), ShouldEqual, 0)
			})
		})

		Convey("When it is stopped and started again", func() {
			So(l.Stop(ctx), ShouldBeNil)
			res, err := l.Start(ctx)
			So(err, ShouldBeNil)
			So(res, ShouldEqual, tcp.Started)
		})
	})

	Convey("Given an address already in use", t, func() {
		busy, err := net.Listen("tcp", "127.0.0.1:0")
		So(err, ShouldBeNil)
		defer busy.Close()
		l := tcp.NewListener(busy.Addr().String(), tcp.NewHandler(newSink()))

		Convey("Then Start fails with a listener start failure", func() {
			_, err := l.Start(ctx)
			So(errors.Is(err, tcp.ErrListen), ShouldBeTrue)
			So(failure.IsFatal(err), ShouldBeTrue)
			So(l.Running(), ShouldBeFalse)
		})
	})
}

func TestListenerStartRace(t *testing.T) {
	ctx := context.Background()

	Convey("Given a stopped listener started by many callers at once", t, func() {
		l := tcp.NewListener("127.0.0.1:0", tcp.NewHandler(newSink()))
		defer func() { _ = l.Stop(ctx) }()

		var wg sync.WaitGroup
		var mu sync.Mutex
		results := map[tcp.StartResult]int{}
		var failed atomic.Int32
		start := make(chan struct{})
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				r, err := l.Start(ctx)
				if err != nil {
					failed.Add(1)
					return
				}
				mu.Lock()
				results[r]++
				mu.Unlock()
			}()
		}
		close(start)
		wg.Wait()

		Convey("Then exactly one loop starts", func() {
			So(failed.Load(), ShouldEqual, 0)
			So(results[tcp.Started], ShouldEqual, 1)
			So(results[tcp.AlreadyRunning], ShouldEqual, 9)
			So(l.Running(), ShouldBeTrue)
		})
	})
}

func TestListenerAcceptErrors(t *testing.T) {
	ctx := context.Background()

	Convey("Given a listener whose accepts hit descriptor exhaustion", t, func() {
		var fl *faultyListener
		emfile := &net.OpError{Op: "accept", Net: "tcp", Err: os.NewSyscallError("accept", syscall.EMFILE)}
		sink := newSink()
		l := tcp.NewListener("127.0.0.1:0", tcp.NewHandler(sink),
			tcp.WithListenFunc(faultyListen(emfile, 3, &fl)))
		_, err := l.Start(ctx)
		So(err, ShouldBeNil)
		defer func() { _ = l.Stop(ctx) }()

		Convey("Then the loop retries and still serves devices", func() {
			conn, err := net.Dial("tcp", l.Addr().String())
			So(err, ShouldBeNil)
			defer conn.Close()
			d := newDevice(conn)
			d.handshake()
			d.send("CT01_33~1~finish~9~t~1~x~1")

			select {
			case rec := <-sink.got:
				So(rec.Bib, ShouldEqual, "9")
			case <-time.After(2 * time.Second):
				So("no record", ShouldBeEmpty)
			}
			So(l.Running(), ShouldBeTrue)
			So(fl.closed.Load(), ShouldBeFalse)
		})
	})

	Convey("Given a listener on a fixed port whose accept fails for good", t, func() {
		free, err := net.Listen("tcp", "127.0.0.1:0")
		So(err, ShouldBeNil)
		addr := free.Addr().String()
		So(free.Close(), ShouldBeNil)

		var fl *faultyListener
		l := tcp.NewListener(addr, tcp.NewHandler(newSink()),
			tcp.WithListenFunc(faultyListen(errors.New("socket gone"), 1, &fl)))
		_, err = l.Start(ctx)
		So(err, ShouldBeNil)
		defer func() { _ = l.Stop(ctx) }()

		deadline := time.Now().Add(2 * time.Second)
		for l.Running() && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}

		Convey("Then the loop ends and releases the socket", func() {
			So(l.Running(), ShouldBeFalse)
			So(fl.closed.Load(), ShouldBeTrue)
		})

		Convey("Then the listener can be started again on the same port", func() {
			res, err := l.Start(ctx)
			So(err, ShouldBeNil)
			So(res, ShouldEqual, tcp.Started)
			So(l.Running(), ShouldBeTrue)
			So(l.Addr().String(), ShouldEqual, addr)
		})
	})
}
