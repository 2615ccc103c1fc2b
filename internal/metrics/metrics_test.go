package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManager(t *testing.T) {
	Convey("Given a manager on a private registry", t, func() {
		registry := prometheus.NewRegistry()
		m := NewManager(WithRegistry(registry), WithNamespace("test"))

		Convey("When cycles and drops are recorded", func() {
			m.RecordCycle("ok", 20*time.Millisecond)
			m.RecordCycle("fetch_error", time.Second)
			m.RecordSchemaDrop("live")
			m.SetPollInterval(300 * time.Second)

			Convey("Then the counters reflect them", func() {
				So(testutil.ToFloat64(m.pollCycles.WithLabelValues("ok")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.schemaDrops.WithLabelValues("live")), ShouldEqual, 1)
				So(testutil.ToFloat64(m.pollInterval), ShouldEqual, 300)
			})

			Convey("Then the handler exposes the namespace", func() {
				rec := httptest.NewRecorder()
				m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
				So(rec.Code, ShouldEqual, 200)
				So(strings.Contains(rec.Body.String(), "test_poller_cycles_total"), ShouldBeTrue)
			})
		})
	})

	Convey("Given a nil manager", t, func() {
		var m *Manager

		Convey("Then recording is a no-op", func() {
			So(func() {
				m.RecordCycle("ok", time.Second)
				m.RecordCorrection()
				m.SetSeriesCounts(1, 2)
				m.ObserveHTTP("/health", "200", time.Millisecond)
			}, ShouldNotPanic)
		})
	})
}
