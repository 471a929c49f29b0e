package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/racefeed/internal/adapters/mq/queue"
	"github.com/okian/racefeed/internal/adapters/mq/worker"
	"github.com/okian/racefeed/internal/domain/model"
	"github.com/okian/racefeed/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type mockWriter struct {
	mu     sync.Mutex
	stored []model.TimingRecord
	fail   map[string]error
	delay  time.Duration
}

func (m *mockWriter) StoreRead(_ context.Context, rec model.TimingRecord, _ bool) error {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[rec.Sequence]; err != nil {
		return err
	}
	m.stored = append(m.stored, rec)
	return nil
}

func (m *mockWriter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stored)
}

func job(seq string) queue.Job {
	return queue.Job{Record: model.TimingRecord{Sequence: seq, Location: "finish", Bib: "1"}, Matched: true}
}

func TestWorker(t *testing.T) {
	Convey("Given a worker on a queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		w := &mockWriter{fail: map[string]error{"bad": errors.New("boom")}}
		wk := worker.NewInMemoryWorker(q, w, worker.WithName("w1"), worker.WithLogger(logger.NewNop()))
		ctx := context.Background()
		go wk.Run(ctx)

		Convey("When jobs arrive including a failing one", func() {
			So(q.Enqueue(ctx, job("1")), ShouldBeTrue)
			So(q.Enqueue(ctx, job("bad")), ShouldBeTrue)
			So(q.Enqueue(ctx, job("2")), ShouldBeTrue)
			So(q.Close(), ShouldBeNil)

			Convey("Then the rest are stored and the worker stops when drained", func() {
				sctx, cancel := context.WithTimeout(ctx, time.Second)
				defer cancel()
				So(wk.Shutdown(sctx), ShouldBeNil)
				So(w.count(), ShouldEqual, 2)
			})
		})
	})

	Convey("Given a worker whose context is cancelled", t, func() {
		q := queue.NewInMemoryQueue()
		wk := worker.NewInMemoryWorker(q, &mockWriter{})
		ctx, cancel := context.WithCancel(context.Background())
		go wk.Run(ctx)
		cancel()

		Convey("Then it stops without the queue closing", func() {
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()
			So(wk.Shutdown(sctx), ShouldBeNil)
		})
	})
}

func TestPool(t *testing.T) {
	Convey("Given a pool of writers", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(100))
		w := &mockWriter{delay: time.Millisecond}
		p := worker.NewPool(3, q, w)
		ctx := context.Background()
		p.Start(ctx)
		p.Start(ctx)

		So(p.Size(), ShouldEqual, 3)

		Convey("When jobs are queued and the pool shuts down", func() {
			for i := range 50 {
				So(q.Enqueue(ctx, job(string(rune('a'+i%26))+string(rune('0'+i/26)))), ShouldBeTrue)
			}
			err := p.Shutdown(ctx)

			Convey("Then every queued job is stored first", func() {
				So(err, ShouldBeNil)
				So(w.count(), ShouldEqual, 50)
				So(q.IsClosed(), ShouldBeTrue)
			})
		})
	})

	Convey("A zero-size pool falls back to the default", t, func() {
		p := worker.NewPool(0, queue.NewInMemoryQueue(), &mockWriter{})
		So(p.Size(), ShouldBeGreaterThan, 0)
	})
}
