// Package scheduler drives the fetch/reconcile loop and periodic jobs.
package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/fortuna/aegis/internal/ingest"
	"github.com/fortuna/aegis/internal/ingest/opendota"
	"github.com/fortuna/aegis/internal/metrics"
	"github.com/fortuna/aegis/internal/reconciliation"
	"github.com/fortuna/aegis/internal/store"
)

// Source produces one batch of live matches per call and resolves
// vanished matches by id.
type Source interface {
	Collect(ctx context.Context) (ingest.Batch, error)
	Historical(ctx context.Context, matchID int64) (store.Match, error)
}

// Reconciler applies matches to series state.
type Reconciler interface {
	Apply(m store.Match) ([]reconciliation.Event, error)
	MarkVanished(observed map[int64]struct{}, skip map[int64]bool) ([]int64, error)
	Sweep() ([]reconciliation.Event, error)
	Stats() reconciliation.Stats
}

// Activity reports whether any live series is held.
type Activity interface {
	HasLive() bool
	Counts() (live, completed int)
}

// EventSink receives the events of a cycle. Publish must not block.
type EventSink interface {
	Publish(events []reconciliation.Event)
}

// Config holds poller configuration.
type Config struct {
	ActiveMin         time.Duration // Default: 8s
	ActiveMax         time.Duration // Default: 11s
	Idle              time.Duration // Default: 300s
	Attempts          int           // Default: 2
	RetryDelay        time.Duration // Default: 2s
	HistoricalLookups int           // Default: 5
}

// DefaultConfig returns default poller configuration.
func DefaultConfig() Config {
	return Config{
		ActiveMin:         8 * time.Second,
		ActiveMax:         11 * time.Second,
		Idle:              300 * time.Second,
		Attempts:          2,
		RetryDelay:        2 * time.Second,
		HistoricalLookups: 5,
	}
}

// Cycle outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "fetch_failed"
)

// CycleResult summarizes one fetch/reconcile pass.
type CycleResult struct {
	Outcome  string
	Applied  int
	Events   int
	Resolved int
	Active   bool
	Next     time.Duration
	Err      error
}

// Status is the externally visible poller state.
type Status struct {
	Running     bool          `json:"running"`
	Active      bool          `json:"active"`
	Interval    time.Duration `json:"interval_ns"`
	IntervalSec float64       `json:"interval_seconds"`
	Cycles      int           `json:"cycles"`
	Failures    int           `json:"failures"`
	LastCycle   time.Time     `json:"last_cycle"`
	LastOutcome string        `json:"last_outcome"`
	LastError   string        `json:"last_error,omitempty"`
	NextCycle   time.Time     `json:"next_cycle"`

	Reconciliation reconciliation.Stats `json:"reconciliation"`
}

// Poller is the single writer of series state.
type Poller struct {
	source   Source
	tracker  Reconciler
	activity Activity
	sink     EventSink
	cfg      Config
	logger   zerolog.Logger
	metrics  *metrics.Manager
	randIntN func(n int) int

	// lastActive and announced belong to the loop goroutine.
	lastActive bool
	announced  bool

	mu     sync.RWMutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

// Option customizes a Poller.
type Option func(*Poller)

// WithRand replaces the interval jitter source.
func WithRand(fn func(n int) int) Option {
	return func(p *Poller) { p.randIntN = fn }
}

// WithSink attaches the event fanout.
func WithSink(sink EventSink) Option {
	return func(p *Poller) { p.sink = sink }
}

// NewPoller creates a poller.
func NewPoller(source Source, tracker Reconciler, activity Activity, cfg Config, logger zerolog.Logger, m *metrics.Manager, opts ...Option) *Poller {
	def := DefaultConfig()
	if cfg.ActiveMin <= 0 {
		cfg.ActiveMin = def.ActiveMin
	}
	if cfg.ActiveMax < cfg.ActiveMin {
		cfg.ActiveMax = cfg.ActiveMin
	}
	if cfg.Idle <= 0 {
		cfg.Idle = def.Idle
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Millisecond
	}
	p := &Poller{
		source:   source,
		tracker:  tracker,
		activity: activity,
		cfg:      cfg,
		logger:   logger.With().Str("component", "poller").Logger(),
		metrics:  m,
		randIntN: rand.IntN,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start runs the loop in the background until Stop.
func (p *Poller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.mu.Lock()
	p.cancel = cancel
	p.done = make(chan struct{})
	p.status.Running = true
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		p.Run(ctx)
	}()
}

// Stop cancels the loop and waits for the current cycle to finish.
func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.mu.Lock()
	p.status.Running = false
	p.mu.Unlock()
	return nil
}

// Run executes cycles until ctx is cancelled. The sleep between cycles is
// the only intentional wait.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info().Msg("poller started")
	for {
		res := p.RunCycle(ctx)
		if ctx.Err() != nil {
			p.logger.Info().Msg("poller stopped")
			return
		}

		timer := time.NewTimer(res.Next)
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info().Msg("poller stopped")
			return
		case <-timer.C:
		}
	}
}

// RunCycle performs one fetch/normalize/reconcile pass and chooses the
// next interval. It never returns an error: failures are recorded in the
// result and status.
func (p *Poller) RunCycle(ctx context.Context) CycleResult {
	start := time.Now()
	res := CycleResult{Outcome: OutcomeOK}

	batch, err := p.fetch(ctx)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		// A failed fetch leaves the store untouched, so it still reflects
		// the last known activity, including series restored at startup.
		res.Active = p.activity.HasLive()
		p.logger.Warn().
			Err(err).
			Str("provider", providerOf(err)).
			Int("attempts", p.cfg.Attempts).
			Msg("fetch cycle failed; no updates this cycle")
	} else {
		var events []reconciliation.Event
		events, res.Applied, res.Resolved = p.reconcile(ctx, batch)
		res.Events = len(events)
		if p.sink != nil && len(events) > 0 {
			p.sink.Publish(events)
		}
		res.Active = p.activity.HasLive()
	}

	res.Next = p.NextInterval(res.Active)
	p.announce(res.Active, res.Next)
	p.lastActive = res.Active

	took := time.Since(start)
	p.metrics.RecordCycle(res.Outcome, took)
	p.metrics.SetPollInterval(res.Next)
	live, completed := p.activity.Counts()
	p.metrics.SetSeriesCounts(live, completed)

	p.record(res, start, p.tracker.Stats())
	p.logger.Debug().
		Str("outcome", res.Outcome).
		Int("applied", res.Applied).
		Int("events", res.Events).
		Int("resolved", res.Resolved).
		Dur("took", took).
		Dur("next", res.Next).
		Msg("cycle complete")
	return res
}

// NextInterval applies the activity policy: a random whole number of
// seconds in [ActiveMin, ActiveMax] while any series is live, Idle
// otherwise.
func (p *Poller) NextInterval(active bool) time.Duration {
	if !active {
		return p.cfg.Idle
	}
	lo := int(p.cfg.ActiveMin / time.Second)
	hi := int(p.cfg.ActiveMax / time.Second)
	if hi <= lo {
		return p.cfg.ActiveMin
	}
	return time.Duration(lo+p.randIntN(hi-lo+1)) * time.Second
}

// Status returns a copy of the poller state.
func (p *Poller) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

func (p *Poller) fetch(ctx context.Context) (ingest.Batch, error) {
	var batch ingest.Batch
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(p.cfg.Attempts-1), retry.NewConstant(p.cfg.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		b, err := p.source.Collect(ctx)
		if err != nil {
			p.logger.Debug().Err(err).Int("attempt", attempt).Msg("fetch attempt failed")
			return retry.RetryableError(err)
		}
		batch = b
		return nil
	})
	return batch, err
}

func (p *Poller) reconcile(ctx context.Context, batch ingest.Batch) ([]reconciliation.Event, int, int) {
	var events []reconciliation.Event
	applied := 0
	for _, m := range batch.Matches {
		evs, err := p.tracker.Apply(m)
		if err != nil {
			p.logger.Error().Err(err).Int64("match_id", m.MatchID).Msg("failed to apply match")
			continue
		}
		applied++
		events = append(events, evs...)
	}

	pending, err := p.tracker.MarkVanished(batch.Observed(), batch.Failed())
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to mark vanished matches")
	}

	resolved := 0
	for i, matchID := range pending {
		if i >= p.cfg.HistoricalLookups || ctx.Err() != nil {
			break
		}
		m, err := p.source.Historical(ctx, matchID)
		if err != nil {
			if errors.Is(err, opendota.ErrNotParsed) {
				p.logger.Debug().Int64("match_id", matchID).Msg("historical result not available yet")
			} else {
				p.logger.Warn().Err(err).Str("provider", ingest.ProviderHistorical).Int64("match_id", matchID).Msg("historical lookup failed")
			}
			continue
		}
		if !m.Finished() {
			continue
		}
		evs, err := p.tracker.Apply(m)
		if err != nil {
			p.logger.Error().Err(err).Int64("match_id", matchID).Msg("failed to apply historical match")
			continue
		}
		resolved++
		events = append(events, evs...)
	}

	evs, err := p.tracker.Sweep()
	if err != nil {
		p.logger.Error().Err(err).Msg("sweep failed")
	}
	events = append(events, evs...)
	return events, applied, resolved
}

// announce logs the interval only when activity flips.
func (p *Poller) announce(active bool, next time.Duration) {
	if p.announced && active == p.lastActive {
		return
	}
	p.announced = true
	mode := "idle"
	if active {
		mode = "active"
	}
	p.logger.Info().
		Str("mode", mode).
		Dur("interval", next).
		Msg("poll interval changed")
}

func (p *Poller) record(res CycleResult, at time.Time, stats reconciliation.Stats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status.Cycles++
	p.status.Reconciliation = stats
	p.status.Active = res.Active
	p.status.Interval = res.Next
	p.status.IntervalSec = res.Next.Seconds()
	p.status.LastCycle = at
	p.status.LastOutcome = res.Outcome
	p.status.NextCycle = time.Now().Add(res.Next)
	p.status.LastError = ""
	if res.Err != nil {
		p.status.Failures++
		p.status.LastError = res.Err.Error()
	}
}

func providerOf(err error) string {
	var fe *ingest.FetchError
	if errors.As(err, &fe) {
		return fe.Provider
	}
	return ingest.ProviderLive
}
