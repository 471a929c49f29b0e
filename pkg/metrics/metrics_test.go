package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given a fresh registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When a manager is built with custom options", func() {
			m := NewManager(
				WithNamespace("test"),
				WithSubsystem("feed"),
				WithMetricPrefix("x_"),
				WithHistogramBuckets([]float64{1, 5, 10}),
				WithRefreshInterval(5*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the refresh interval is reported", func() {
				So(m.RefreshInterval(), ShouldEqual, 5*time.Second)
			})

			Convey("Then its metrics land in that registry", func() {
				So(m, ShouldNotBeNil)
				m.linesReceived.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				names := map[string]bool{}
				for _, f := range families {
					names[f.GetName()] = true
				}
				So(names["test_feed_x_lines_received_total"], ShouldBeTrue)
			})
		})

		Convey("When empty options are passed", func() {
			m := NewManager(WithNamespace(""), WithSubsystem(""), WithPrometheusRegistry(registry))

			Convey("Then defaults are kept", func() {
				So(m.namespace, ShouldEqual, "racefeed")
				So(m.subsystem, ShouldEqual, "pipeline")
				So(m.RefreshInterval(), ShouldEqual, defaultRefreshInterval)
				So(RefreshInterval(), ShouldEqual, defaultRefreshInterval)
			})
		})
	})
}

func TestPipelineCounters(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When read outcomes are recorded", func() {
			before := testutil.ToFloat64(globalManager.readsMatched)
			RecordMatched()
			RecordMatched()

			Convey("Then the counter advances", func() {
				So(testutil.ToFloat64(globalManager.readsMatched), ShouldEqual, before+2)
			})
		})

		Convey("When connections open and close", func() {
			active := testutil.ToFloat64(globalManager.connectionsActive)
			RecordConnectionAccepted()
			So(testutil.ToFloat64(globalManager.connectionsActive), ShouldEqual, active+1)
			RecordConnectionClosed()

			Convey("Then the active gauge returns to where it was", func() {
				So(testutil.ToFloat64(globalManager.connectionsActive), ShouldEqual, active)
			})
		})

		Convey("When the listener state flips", func() {
			UpdateListenerRunning(true)
			So(testutil.ToFloat64(globalManager.listenerRunning), ShouldEqual, 1)
			UpdateListenerRunning(false)
			So(testutil.ToFloat64(globalManager.listenerRunning), ShouldEqual, 0)
		})

		Convey("When gauges are updated", func() {
			UpdateSubscribers(3)
			UpdatePersistQueue(4, 16)
			UpdateRosterEntries(250)

			Convey("Then they hold the latest values", func() {
				So(testutil.ToFloat64(globalManager.subscribers), ShouldEqual, 3)
				So(testutil.ToFloat64(globalManager.persistQueueSize), ShouldEqual, 4)
				So(testutil.ToFloat64(globalManager.persistQueueCap), ShouldEqual, 16)
				So(testutil.ToFloat64(globalManager.rosterEntries), ShouldEqual, 250)
			})
		})

		Convey("When labelled metrics are recorded", func() {
			So(func() {
				RecordPersistenceError("store")
				RecordHTTPRequest("/api/login", "POST", "200")
				RecordHTTPRequestDuration("/api/login", "POST", "200", 12)
				RecordErrorByComponent("tcp", "transport")
				RecordRosterLoad(2 * time.Second)
				RecordReadStored(3.5)
			}, ShouldNotPanic)
			So(testutil.ToFloat64(globalManager.persistenceErrors.WithLabelValues("store")), ShouldBeGreaterThanOrEqualTo, 1)
		})

		Convey("Then the registry is exposed", func() {
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}
