package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/fortuna/aegis/internal/cache"
	"github.com/fortuna/aegis/internal/store"
)

type memorySaver struct {
	mu    sync.Mutex
	saves []cache.Documents
	err   error
}

func (m *memorySaver) Save(_ context.Context, docs cache.Documents) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves = append(m.saves, docs)
	return nil
}

func (m *memorySaver) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saves)
}

func TestJobs(t *testing.T) {
	Convey("Given a store with one live series", t, func() {
		s := cache.NewStore()
		So(s.UpsertLive(&store.Series{Key: "50", SeriesType: store.SeriesBo3}), ShouldBeNil)
		saver := &memorySaver{}

		Convey("When the snapshot job runs on its interval", func() {
			jobs, err := NewJobs(s, saver, 20*time.Millisecond, zerolog.New(io.Discard), nil)
			So(err, ShouldBeNil)
			So(jobs.Start(), ShouldBeNil)

			deadline := time.Now().Add(2 * time.Second)
			for saver.count() == 0 && time.Now().Before(deadline) {
				time.Sleep(10 * time.Millisecond)
			}
			So(jobs.Stop(context.Background()), ShouldBeNil)

			Convey("Then the live document is persisted, including a final save on stop", func() {
				So(saver.count(), ShouldBeGreaterThanOrEqualTo, 2)
				So(saver.saves[0].Live, ShouldContainKey, "50")
			})
		})

		Convey("When saving fails", func() {
			saver.err = errors.New("redis down")
			jobs, err := NewJobs(s, saver, time.Minute, zerolog.New(io.Discard), nil)
			So(err, ShouldBeNil)

			err = jobs.SnapshotNow(context.Background())
			So(err, ShouldNotBeNil)
		})

		Convey("When no saver is configured", func() {
			jobs, err := NewJobs(s, nil, time.Minute, zerolog.New(io.Discard), nil)
			So(err, ShouldBeNil)
			So(jobs.Start(), ShouldBeNil)
			So(jobs.Stop(context.Background()), ShouldBeNil)
		})
	})
}
