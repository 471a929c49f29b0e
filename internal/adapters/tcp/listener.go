package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/okian/racefeed/internal/domain/failure"
	"github.com/okian/racefeed/pkg/logger"
	"github.com/okian/racefeed/pkg/metrics"
)

// Accept retry delays for resource exhaustion and aborted handshakes.
const (
	acceptBackoffMin = 5 * time.Millisecond
	acceptBackoffMax = time.Second
)

// ListenFunc binds the device socket.
type ListenFunc func(ctx context.Context, addr string) (net.Listener, error)

func listenTCP(ctx context.Context, addr string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, "tcp", addr)
}

// StartResult tells a caller what Start did.
type StartResult int

const (
	// Started means a new accept loop is running.
	Started StartResult = iota
	// AlreadyRunning means an accept loop was running before the call.
	AlreadyRunning
)

func (r StartResult) String() string {
	if r == AlreadyRunning {
		return "already_running"
	}
	return "started"
}

// task is one supervised run of the accept loop.
type task struct {
	ln      net.Listener
	cancel  context.CancelFunc
	running atomic.Bool
	done    chan struct{}

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
}

// Listener guards the device listener so at most one accept loop runs.
type Listener struct {
	addr    string
	handler *Handler
	listen  ListenFunc
	log     logger.Logger

	// mu is held only around the start check and stop.
	mu   sync.Mutex
	task atomic.Pointer[task]
}

// NewListener creates a listener for addr, e.g. ":61611".
func NewListener(addr string, handler *Handler, opts ...ListenerOption) *Listener {
	l := &Listener{
		addr:    addr,
		handler: handler,
		listen:  listenTCP,
		log:     logger.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start binds the socket and runs the accept loop in the background. The
// loop is not tied to ctx; only Stop ends it. A second Start while running
// reports AlreadyRunning. A loop that died may be started again.
func (l *Listener) Start(ctx context.Context) (StartResult, error) {
	if l.handler == nil {
		return Started, failure.Wrap("tcp.start", failure.ListenerStartFailure, ErrNoHandler)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if t := l.task.Load(); t != nil && t.running.Load() {
		return AlreadyRunning, nil
	}

	ln, err := l.listen(ctx, l.addr)
	if err != nil {
		return Started, failure.Wrap("tcp.start", failure.ListenerStartFailure, fmt.Errorf("%w: %s: %w", ErrListen, l.addr, err))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &task{
		ln:     ln,
		cancel: cancel,
		done:   make(chan struct{}),
		conns:  make(map[net.Conn]struct{}),
	}
	t.running.Store(true)
	l.task.Store(t)
	metrics.UpdateListenerRunning(true)

	go l.accept(runCtx, t)
	l.log.Info(ctx, "device listener started", logger.String("addr", ln.Addr().String()))
	return Started, nil
}

func (l *Listener) accept(ctx context.Context, t *task) {
	defer func() {
		t.running.Store(false)
		metrics.UpdateListenerRunning(false)
		// a loop that died on its own must not keep the port bound
		_ = t.ln.Close()
		t.closeConns()
		close(t.done)
	}()

	var backoff time.Duration
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			if !retryable(err) {
				l.log.Error(ctx, "accept failed; listener stopped",
					logger.Error(failure.Wrap("tcp.accept", failure.TransportError, err)))
				return
			}
			backoff = min(max(2*backoff, acceptBackoffMin), acceptBackoffMax)
			metrics.RecordConnectionError()
			l.log.Warn(ctx, "accept failed; retrying",
				logger.Duration("backoff", backoff),
				logger.Error(failure.Wrap("tcp.accept", failure.TransportError, err)))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		t.connMu.Lock()
		t.conns[conn] = struct{}{}
		t.wg.Add(1)
		t.connMu.Unlock()
		metrics.RecordConnectionAccepted()

		go func() {
			defer func() {
				t.connMu.Lock()
				delete(t.conns, conn)
				t.connMu.Unlock()
				metrics.RecordConnectionClosed()
				t.wg.Done()
			}()
			// errors are logged by the handler and stay with this connection
			_, _ = l.handler.Serve(ctx, conn)
		}()
	}
}

func (t *task) closeConns() {
	t.connMu.Lock()
	defer t.connMu.Unlock()
	for c := range t.conns {
		_ = c.Close()
	}
}

// retryable reports accept errors that pass once load drops: descriptor or
// buffer exhaustion, aborted handshakes and timeouts.
func retryable(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.EMFILE, syscall.ENFILE, syscall.ENOBUFS, syscall.ENOMEM, syscall.ECONNABORTED, syscall.ECONNRESET} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// Running reports whether the accept loop is alive.
func (l *Listener) Running() bool {
	t := l.task.Load()
	return t != nil && t.running.Load()
}

// Addr returns the bound address while running.
func (l *Listener) Addr() net.Addr {
	t := l.task.Load()
	if t == nil || !t.running.Load() {
		return nil
	}
	return t.ln.Addr()
}

// Connections returns the number of live device connections.
func (l *Listener) Connections() int {
	t := l.task.Load()
	if t == nil {
		return 0
	}
	t.connMu.Lock()
	defer t.connMu.Unlock()
	return len(t.conns)
}

// Stop closes the socket and every live connection and waits for their
// goroutines, or for ctx to end.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := l.task.Load()
	if t == nil {
		return nil
	}
	t.cancel()
	_ = t.ln.Close()
	t.closeConns()

	finished := make(chan struct{})
	go func() {
		<-t.done
		t.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		l.log.Info(ctx, "device listener stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop listener: %w", ctx.Err())
	}
}
