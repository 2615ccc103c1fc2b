package scheduler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/fortuna/aegis/internal/cache"
	"github.com/fortuna/aegis/internal/ingest"
	"github.com/fortuna/aegis/internal/reconciliation"
	"github.com/fortuna/aegis/internal/store"
)

type fakeSource struct {
	mu         sync.Mutex
	batches    []ingest.Batch
	errs       []error
	calls      int
	historical map[int64]store.Match
	lookups    []int64
}

func (f *fakeSource) Collect(context.Context) (ingest.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return ingest.Batch{}, f.errs[i]
	}
	if i < len(f.batches) {
		return f.batches[i], nil
	}
	return ingest.Batch{}, nil
}

func (f *fakeSource) Historical(_ context.Context, matchID int64) (store.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups = append(f.lookups, matchID)
	m, ok := f.historical[matchID]
	if !ok {
		return store.Match{}, &ingest.FetchError{Provider: ingest.ProviderHistorical, Op: "match", Err: errors.New("not found")}
	}
	return m, nil
}

type recordingSink struct {
	events []reconciliation.Event
}

func (s *recordingSink) Publish(events []reconciliation.Event) {
	s.events = append(s.events, events...)
}

func liveMatch(matchID, seriesID int64, state store.MatchState, winner store.Side) store.Match {
	st := store.SeriesBo3
	m := store.Match{
		MatchID:  matchID,
		LeagueID: 17911,
		Radiant:  store.Team{TeamID: store.Int64Ptr(1), Name: "Alpha"},
		Dire:     store.Team{TeamID: store.Int64Ptr(2), Name: "Bravo"},
		State:    state,
		Winner:   winner,
	}
	if seriesID > 0 {
		m.SeriesID = store.Int64Ptr(seriesID)
		m.SeriesType = &st
	}
	m.SetScore(3, 4)
	return m
}

func newTestPoller(src Source, buf *bytes.Buffer, opts ...Option) (*Poller, *cache.Store, *reconciliation.Tracker) {
	s := cache.NewStore()
	logger := zerolog.New(buf)
	tr := reconciliation.NewTracker(s, logger, reconciliation.Options{UnresolvedTimeout: time.Hour})
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	return NewPoller(src, tr, s, cfg, logger, nil, opts...), s, tr
}

func countLines(buf *bytes.Buffer, needle string) int {
	n := 0
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, needle) {
			n++
		}
	}
	return n
}

func TestNextInterval(t *testing.T) {
	Convey("Given a poller with default intervals", t, func() {
		var buf bytes.Buffer
		p, _, _ := newTestPoller(&fakeSource{}, &buf)

		Convey("When series are live", func() {
			seen := map[time.Duration]bool{}
			for range 500 {
				d := p.NextInterval(true)
				So(d, ShouldBeBetweenOrEqual, 8*time.Second, 11*time.Second)
				So(d%time.Second, ShouldEqual, time.Duration(0))
				seen[d] = true
			}

			Convey("Then the whole range is used", func() {
				So(len(seen), ShouldEqual, 4)
			})
		})

		Convey("When nothing is live", func() {
			So(p.NextInterval(false), ShouldEqual, 300*time.Second)
		})
	})

	Convey("Given a pinned jitter source", t, func() {
		var buf bytes.Buffer
		low, _, _ := newTestPoller(&fakeSource{}, &buf, WithRand(func(int) int { return 0 }))
		high, _, _ := newTestPoller(&fakeSource{}, &buf, WithRand(func(n int) int { return n - 1 }))

		So(low.NextInterval(true), ShouldEqual, 8*time.Second)
		So(high.NextInterval(true), ShouldEqual, 11*time.Second)
	})
}

func TestRunCycle(t *testing.T) {
	Convey("Given a source reporting a live game", t, func() {
		var buf bytes.Buffer
		sink := &recordingSink{}
		src := &fakeSource{batches: []ingest.Batch{
			{Matches: []store.Match{liveMatch(100, 50, store.StateInProgress, "")}},
		}}
		p, s, _ := newTestPoller(src, &buf, WithSink(sink))

		res := p.RunCycle(context.Background())

		Convey("Then the match is stored and the loop goes active", func() {
			So(res.Outcome, ShouldEqual, OutcomeOK)
			So(res.Applied, ShouldEqual, 1)
			So(res.Active, ShouldBeTrue)
			So(res.Next, ShouldBeBetweenOrEqual, 8*time.Second, 11*time.Second)
			So(len(s.ListLive()), ShouldEqual, 1)
		})

		Convey("Then the events reach the sink", func() {
			So(len(sink.events), ShouldBeGreaterThan, 0)
			So(sink.events[0].Type, ShouldEqual, reconciliation.EventSeriesStarted)
		})

		Convey("Then the status reflects the cycle", func() {
			st := p.Status()
			So(st.Cycles, ShouldEqual, 1)
			So(st.Active, ShouldBeTrue)
			So(st.LastOutcome, ShouldEqual, OutcomeOK)
			So(st.Reconciliation.Applied, ShouldEqual, 1)
		})
	})

	Convey("Given a source with nothing live", t, func() {
		var buf bytes.Buffer
		p, _, _ := newTestPoller(&fakeSource{}, &buf)
		res := p.RunCycle(context.Background())

		So(res.Active, ShouldBeFalse)
		So(res.Next, ShouldEqual, 300*time.Second)
	})
}

func TestRunCycleFetchTimeout(t *testing.T) {
	Convey("Given a live series and a provider that times out", t, func() {
		var buf bytes.Buffer
		timeout := &ingest.FetchError{Provider: ingest.ProviderLive, Op: "GetLiveLeagueGames", Err: context.DeadlineExceeded}
		src := &fakeSource{
			batches: []ingest.Batch{{Matches: []store.Match{liveMatch(100, 50, store.StateInProgress, "")}}},
			errs:    []error{nil, timeout, timeout},
		}
		p, s, _ := newTestPoller(src, &buf)

		first := p.RunCycle(context.Background())
		So(first.Active, ShouldBeTrue)
		before := s.Snapshot()
		buf.Reset()

		res := p.RunCycle(context.Background())

		Convey("Then the cycle fails without mutating the cache", func() {
			So(res.Outcome, ShouldEqual, OutcomeFailed)
			So(errors.Is(res.Err, context.DeadlineExceeded), ShouldBeTrue)
			So(s.Snapshot(), ShouldResemble, before)
		})

		Convey("Then the previous activity state picks the interval", func() {
			So(res.Active, ShouldBeTrue)
			So(res.Next, ShouldBeBetweenOrEqual, 8*time.Second, 11*time.Second)
		})

		Convey("Then exactly one anomaly is logged after retries", func() {
			So(src.calls, ShouldEqual, 3)
			So(countLines(&buf, `"level":"warn"`), ShouldEqual, 1)
			So(p.Status().Failures, ShouldEqual, 1)
		})
	})

	Convey("Given a provider that recovers on retry", t, func() {
		var buf bytes.Buffer
		src := &fakeSource{
			errs:    []error{errors.New("connection reset")},
			batches: []ingest.Batch{{}, {Matches: []store.Match{liveMatch(100, 50, store.StateInProgress, "")}}},
		}
		p, _, _ := newTestPoller(src, &buf)
		res := p.RunCycle(context.Background())

		So(res.Outcome, ShouldEqual, OutcomeOK)
		So(res.Applied, ShouldEqual, 1)
		So(src.calls, ShouldEqual, 2)
	})

	Convey("Given a restored live series and a provider that is down from the start", t, func() {
		var buf bytes.Buffer
		down := errors.New("connection refused")
		src := &fakeSource{errs: []error{down, down, down, down}}
		p, s, _ := newTestPoller(src, &buf)
		So(s.UpsertLive(&store.Series{Key: "50", SeriesID: store.Int64Ptr(50), SeriesType: store.SeriesBo3}), ShouldBeNil)

		first := p.RunCycle(context.Background())
		second := p.RunCycle(context.Background())

		Convey("Then every failed cycle keeps the active interval", func() {
			So(first.Outcome, ShouldEqual, OutcomeFailed)
			So(first.Active, ShouldBeTrue)
			So(first.Next, ShouldBeBetweenOrEqual, 8*time.Second, 11*time.Second)
			So(second.Outcome, ShouldEqual, OutcomeFailed)
			So(second.Next, ShouldBeBetweenOrEqual, 8*time.Second, 11*time.Second)
			So(p.Status().Active, ShouldBeTrue)
		})
	})
}

func TestIntervalAnnouncements(t *testing.T) {
	Convey("Given cycles that go idle, idle, active, active, idle", t, func() {
		var buf bytes.Buffer
		live := liveMatch(100, 0, store.StateInProgress, "")
		done := liveMatch(100, 0, store.StateFinished, store.SideRadiant)
		src := &fakeSource{batches: []ingest.Batch{
			{},
			{},
			{Matches: []store.Match{live}},
			{Matches: []store.Match{live}},
			{Matches: []store.Match{done}},
		}}
		p, _, _ := newTestPoller(src, &buf)

		for range 5 {
			p.RunCycle(context.Background())
		}

		Convey("Then the interval is announced only on flips", func() {
			So(countLines(&buf, "poll interval changed"), ShouldEqual, 3)
		})
	})
}

func TestVanishedMatchResolution(t *testing.T) {
	Convey("Given a live match that leaves the feed", t, func() {
		var buf bytes.Buffer
		src := &fakeSource{
			batches: []ingest.Batch{
				{Matches: []store.Match{liveMatch(100, 0, store.StateInProgress, "")}},
				{},
			},
			historical: map[int64]store.Match{
				100: liveMatch(100, 0, store.StateFinished, store.SideDire),
			},
		}
		p, s, _ := newTestPoller(src, &buf)

		p.RunCycle(context.Background())
		res := p.RunCycle(context.Background())

		Convey("Then the historical provider resolves it and the series completes", func() {
			So(src.lookups, ShouldResemble, []int64{100})
			So(res.Resolved, ShouldEqual, 1)
			So(s.HasLive(), ShouldBeFalse)
			done, ok := s.Get("s_100")
			So(ok, ShouldBeTrue)
			So(done.Completed, ShouldBeTrue)
			So(done.DireScore, ShouldEqual, 1)
		})
	})

	Convey("Given more pending matches than the lookup budget", t, func() {
		var buf bytes.Buffer
		var matches []store.Match
		for id := int64(1); id <= 8; id++ {
			m := liveMatch(id, 0, store.StateInProgress, "")
			m.Radiant = store.Team{TeamID: store.Int64Ptr(id * 10), Name: "R"}
			m.Dire = store.Team{TeamID: store.Int64Ptr(id*10 + 1), Name: "D"}
			matches = append(matches, m)
		}
		src := &fakeSource{batches: []ingest.Batch{{Matches: matches}, {}}}
		p, _, _ := newTestPoller(src, &buf)

		p.RunCycle(context.Background())
		p.RunCycle(context.Background())

		Convey("Then only the budget is spent this cycle", func() {
			So(len(src.lookups), ShouldEqual, 5)
		})
	})
}

func TestStartStop(t *testing.T) {
	Convey("Given a started poller", t, func() {
		var buf bytes.Buffer
		p, _, _ := newTestPoller(&fakeSource{}, &buf)
		p.Start()

		Convey("When stopped", func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err := p.Stop(ctx)

			Convey("Then the idle sleep is interrupted", func() {
				So(err, ShouldBeNil)
				So(p.Status().Running, ShouldBeFalse)
			})
		})
	})
}
