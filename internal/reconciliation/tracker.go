// Package reconciliation groups canonical matches into series and drives
// each series through NoSeries -> LiveOpen -> Completed.
package reconciliation

import (
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/fortuna/aegis/internal/cache"
	"github.com/fortuna/aegis/internal/metrics"
	"github.com/fortuna/aegis/internal/store"
)

// SeriesStore is the subset of the cache store the tracker writes through.
type SeriesStore interface {
	Get(key string) (*store.Series, bool)
	FindByMatch(matchID int64) (*store.Series, bool)
	ListLive() []*store.Series
	UpsertLive(series *store.Series) error
	Replace(oldKey string, series *store.Series) error
	MoveToCompleted(key string, at time.Time) error
	RefineCompleted(series *store.Series) error
	EvictStale(cutoff time.Time) []string
	EvictSettled(cutoff time.Time) []string
}

// Stats tracks reconciliation counters for status reporting.
type Stats struct {
	Applied     int       `json:"applied"`
	Conflicts   int       `json:"conflicts"`
	Completed   int       `json:"completed"`
	Unresolved  int       `json:"unresolved"`
	Evicted     int       `json:"evicted"`
	LastApplied time.Time `json:"last_applied"`
}

// Options tunes timeouts. Zero values disable the matching sweep.
// SettledTTL applies to live series with no open game left and should
// exceed the usual break between games of a series.
type Options struct {
	UnresolvedTimeout time.Duration
	StaleTTL          time.Duration
	SettledTTL        time.Duration
	Metrics           *metrics.Manager
	Clock             func() time.Time
}

// Tracker owns series state transitions. It is not safe for concurrent
// use: the poller loop is its only caller.
type Tracker struct {
	store   SeriesStore
	logger  zerolog.Logger
	metrics *metrics.Manager
	opts    Options
	now     func() time.Time
	stats   Stats
}

// NewTracker creates a tracker writing through s.
func NewTracker(s SeriesStore, logger zerolog.Logger, opts Options) *Tracker {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		store:   s,
		logger:  logger.With().Str("component", "tracker").Logger(),
		metrics: opts.Metrics,
		opts:    opts,
		now:     now,
	}
}

// Stats returns a copy of the counters.
func (t *Tracker) Stats() Stats {
	return t.stats
}

// Apply reconciles one normalized match. Conflicts are resolved and logged
// here; the returned error only reports store failures.
func (t *Tracker) Apply(m store.Match) ([]Event, error) {
	now := t.now()
	t.stats.Applied++
	t.stats.LastApplied = now
	t.metrics.RecordMatchApplied()

	series, replaces, created := t.resolve(m, now)

	if series.Completed {
		return t.applyCompleted(series, m, now)
	}

	var events []Event
	if created {
		t.logger.Info().
			Str("series_id", series.Key).
			Int64("match_id", m.MatchID).
			Str("format", series.SeriesType.String()).
			Str("radiant", series.RadiantTeamName).
			Str("dire", series.DireTeamName).
			Msg("series opened")
	}

	isSwapped := swapped(series, m)
	enrichTeams(series, m, isSwapped)
	evType, changed := t.merge(series, m, isSwapped, now)
	series.UpdatedAt = now

	var err error
	if replaces != "" {
		err = t.store.Replace(replaces, series)
	} else {
		err = t.store.UpsertLive(series)
	}
	if err != nil {
		return nil, err
	}

	if created {
		events = append(events, t.event(EventSeriesStarted, series, m.MatchID, now))
	}
	if changed {
		events = append(events, t.event(evType, series, m.MatchID, now))
	}

	if series.Decided() {
		if ev, ok := t.complete(series, now); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// resolve finds or creates the series a match belongs to. replaces is set
// when a provisional series must be rekeyed under a provider id.
func (t *Tracker) resolve(m store.Match, now time.Time) (series *store.Series, replaces string, created bool) {
	if m.SeriesID != nil {
		key := store.SeriesKey(*m.SeriesID)
		if s, ok := t.store.Get(key); ok {
			return s, "", false
		}
		prov, ok := t.store.FindByMatch(m.MatchID)
		if ok && prov.Completed {
			// The match already counted toward a finished series.
			return prov, "", false
		}
		if ok && prov.Provisional {
			promoted := prov
			oldKey := prov.Key
			promoted.Key = key
			promoted.SeriesID = store.Int64Ptr(*m.SeriesID)
			promoted.Provisional = false
			promoted.SeriesType = seriesTypeOf(m, store.SeriesBo3)
			t.logger.Info().
				Str("series_id", key).
				Str("provisional", oldKey).
				Msg("provisional series promoted")
			return promoted, oldKey, true
		}
		s := newSeries(key, m, seriesTypeOf(m, store.SeriesBo3), now)
		s.SeriesID = store.Int64Ptr(*m.SeriesID)
		return s, "", true
	}

	if s, ok := t.store.FindByMatch(m.MatchID); ok {
		return s, "", false
	}
	if s, ok := findLiveByTeams(t.store.ListLive(), m); ok {
		return s, "", false
	}
	s := newSeries(store.ProvisionalKey(m.MatchID), m, store.SeriesBo1, now)
	s.Provisional = true
	return s, "", true
}

func seriesTypeOf(m store.Match, fallback store.SeriesType) store.SeriesType {
	if m.SeriesType != nil {
		return *m.SeriesType
	}
	return fallback
}

func newSeries(key string, m store.Match, t store.SeriesType, now time.Time) *store.Series {
	return &store.Series{
		Key:             key,
		LeagueID:        m.LeagueID,
		LeagueName:      m.LeagueName,
		SeriesType:      t,
		RadiantTeamID:   cloneID(m.Radiant.TeamID),
		RadiantTeamName: m.Radiant.Name,
		DireTeamID:      cloneID(m.Dire.TeamID),
		DireTeamName:    m.Dire.Name,
		ScoredMatches:   make(map[int64]store.Side),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// merge folds the observation into series.Matches and adjusts the series
// score. It returns the event type to emit and whether anything changed.
func (t *Tracker) merge(series *store.Series, m store.Match, isSwapped bool, now time.Time) (EventType, bool) {
	idx := series.MatchIndex(m.MatchID)
	var prev *store.Match
	if idx >= 0 {
		p := series.Matches[idx]
		prev = &p
	}

	// A finished record only accepts refinements.
	if prev != nil && prev.Finished() {
		if !m.Finished() || !m.Winner.Known() {
			return "", false
		}
	}

	next := m.Clone()
	if prev != nil {
		next.GameNumber = prev.GameNumber
		if len(next.Players) == 0 {
			next.Players = prev.Players
		}
	} else if last := series.LastGameNumber(); next.GameNumber <= last {
		next.GameNumber = last + 1
	}

	if next.Finished() && !next.Winner.Known() {
		// Limbo: keep it open until a winner shows up or the sweep gives up.
		next.State = store.StateInProgress
		next.Winner = ""
		since := now
		if prev != nil && prev.UnresolvedSince != nil {
			since = *prev.UnresolvedSince
		}
		next.UnresolvedSince = &since
	} else {
		next.UnresolvedSince = nil
	}

	if idx >= 0 {
		series.Matches[idx] = next
	} else {
		series.Matches = append(series.Matches, next)
	}

	if !next.Resolved() {
		changed := prev == nil ||
			prev.TotalKills != next.TotalKills ||
			prev.DurationSeconds != next.DurationSeconds ||
			prev.State != next.State
		return EventMatchUpdated, changed
	}

	if series.ScoredMatches == nil {
		series.ScoredMatches = make(map[int64]store.Side)
	}
	side := seriesSide(next.Winner, isSwapped)
	previous, scored := series.ScoredMatches[next.MatchID]
	switch {
	case !scored:
		series.ScoredMatches[next.MatchID] = side
		addWin(series, side, 1)
		t.logger.Info().
			Str("series_id", series.Key).
			Int64("match_id", next.MatchID).
			Str("winner", string(side)).
			Int("radiant_score", series.RadiantScore).
			Int("dire_score", series.DireScore).
			Msg("match finished")
		return EventMatchFinished, true
	case previous == side:
		return "", false
	default:
		conflict := &ConflictError{SeriesKey: series.Key, MatchID: next.MatchID, Previous: previous, Current: side}
		addWin(series, previous, -1)
		addWin(series, side, 1)
		series.ScoredMatches[next.MatchID] = side
		t.stats.Conflicts++
		t.metrics.RecordCorrection()
		t.logger.Warn().
			Err(conflict).
			Str("series_id", series.Key).
			Int64("match_id", next.MatchID).
			Int("radiant_score", series.RadiantScore).
			Int("dire_score", series.DireScore).
			Msg("series score corrected")
		return EventScoreCorrected, true
	}
}

func addWin(series *store.Series, side store.Side, delta int) {
	switch side {
	case store.SideRadiant:
		series.RadiantScore = max(series.RadiantScore+delta, 0)
	case store.SideDire:
		series.DireScore = max(series.DireScore+delta, 0)
	}
}

// complete moves a decided series out of the live projection.
func (t *Tracker) complete(series *store.Series, now time.Time) (Event, bool) {
	if err := t.store.MoveToCompleted(series.Key, now); err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			t.logger.Debug().Str("series_id", series.Key).Msg("series already moved")
			return Event{}, false
		}
		t.logger.Error().Err(err).Str("series_id", series.Key).Msg("failed to complete series")
		return Event{}, false
	}
	t.stats.Completed++
	t.metrics.RecordSeriesCompleted()

	done, ok := t.store.Get(series.Key)
	if !ok {
		done = series
	}
	t.logger.Info().
		Str("series_id", series.Key).
		Str("winner", string(done.Leader())).
		Int("radiant_score", done.RadiantScore).
		Int("dire_score", done.DireScore).
		Msg("series completed")
	return Event{Type: EventSeriesCompleted, SeriesKey: done.Key, Series: done, At: now}, true
}

// applyCompleted handles observations for a terminal series. Scores and
// completion time stay frozen except for a one-time back-fill of a match
// that finished without ever being scored.
func (t *Tracker) applyCompleted(series *store.Series, m store.Match, now time.Time) ([]Event, error) {
	idx := series.MatchIndex(m.MatchID)
	if idx < 0 {
		t.logger.Warn().
			Str("series_id", series.Key).
			Int64("match_id", m.MatchID).
			Msg("match observed for completed series; ignored")
		return nil, nil
	}
	if !m.Resolved() {
		return nil, nil
	}

	side := seriesSide(m.Winner, swapped(series, m))
	if previous, scored := series.ScoredMatches[m.MatchID]; scored {
		if previous != side {
			t.stats.Conflicts++
			t.metrics.RecordCorrection()
			t.logger.Warn().
				Err(&ConflictError{SeriesKey: series.Key, MatchID: m.MatchID, Previous: previous, Current: side}).
				Str("series_id", series.Key).
				Msg("winner changed after series completed; score kept")
		}
		return nil, nil
	}

	prev := series.Matches[idx]
	next := m.Clone()
	next.GameNumber = prev.GameNumber
	next.UnresolvedSince = nil
	if len(next.Players) == 0 {
		next.Players = prev.Players
	}
	series.Matches[idx] = next

	need := series.SeriesType.WinsNeeded()
	wins := series.RadiantScore
	if side == store.SideDire {
		wins = series.DireScore
	}
	if wins < need && series.RadiantScore+series.DireScore < series.SeriesType.MaxGames() {
		if series.ScoredMatches == nil {
			series.ScoredMatches = make(map[int64]store.Side)
		}
		series.ScoredMatches[m.MatchID] = side
		addWin(series, side, 1)
	} else {
		t.logger.Warn().
			Str("series_id", series.Key).
			Int64("match_id", m.MatchID).
			Msg("late result would exceed series format; recorded without score")
	}

	series.UpdatedAt = now
	if err := t.store.RefineCompleted(series); err != nil {
		return nil, err
	}
	return []Event{t.event(EventMatchFinished, series, m.MatchID, now)}, nil
}

// MarkVanished flags open matches of live series that were not part of
// the latest successful fetch. Series from leagues listed in skip are left
// alone. It returns every match still waiting for a winner, oldest first.
func (t *Tracker) MarkVanished(observed map[int64]struct{}, skip map[int64]bool) ([]int64, error) {
	now := t.now()
	type pending struct {
		id    int64
		since time.Time
	}
	var waiting []pending

	for _, series := range t.store.ListLive() {
		if skip[series.LeagueID] {
			continue
		}
		dirty := false
		for i := range series.Matches {
			m := &series.Matches[i]
			if m.Finished() {
				continue
			}
			if _, seen := observed[m.MatchID]; !seen && m.UnresolvedSince == nil {
				since := now
				m.UnresolvedSince = &since
				dirty = true
				t.logger.Debug().
					Str("series_id", series.Key).
					Int64("match_id", m.MatchID).
					Msg("match left the live feed")
			}
			if m.UnresolvedSince != nil {
				waiting = append(waiting, pending{id: m.MatchID, since: *m.UnresolvedSince})
			}
		}
		if dirty {
			if err := t.store.UpsertLive(series); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(waiting, func(i, j int) bool { return waiting[i].since.Before(waiting[j].since) })
	ids := make([]int64, len(waiting))
	for i, p := range waiting {
		ids[i] = p.id
	}
	return ids, nil
}

// Sweep finalizes matches stuck without a winner past the timeout and
// evicts live series that stopped receiving updates.
func (t *Tracker) Sweep() ([]Event, error) {
	now := t.now()
	var events []Event

	if t.opts.UnresolvedTimeout > 0 {
		for _, series := range t.store.ListLive() {
			dirty := false
			for i := range series.Matches {
				m := &series.Matches[i]
				if m.Finished() || m.UnresolvedSince == nil {
					continue
				}
				if now.Sub(*m.UnresolvedSince) < t.opts.UnresolvedTimeout {
					continue
				}
				m.State = store.StateFinished
				m.Winner = store.SideUnknown
				m.UnresolvedSince = nil
				dirty = true
				t.stats.Unresolved++
				t.metrics.RecordUnresolved()
				t.logger.Warn().
					Str("series_id", series.Key).
					Int64("match_id", m.MatchID).
					Dur("timeout", t.opts.UnresolvedTimeout).
					Msg("winner unresolved past timeout; finalized without result")
				events = append(events, Event{Type: EventMatchUnresolved, SeriesKey: series.Key, MatchID: m.MatchID, At: now})
			}
			if dirty {
				series.UpdatedAt = now
				if err := t.store.UpsertLive(series); err != nil {
					return events, err
				}
				for i := range events {
					if events[i].SeriesKey == series.Key && events[i].Series == nil {
						events[i].Series = series.Clone()
					}
				}
			}
		}
	}

	if t.opts.SettledTTL > 0 {
		events = append(events, t.evict(t.store.EvictSettled(now.Add(-t.opts.SettledTTL)), t.opts.SettledTTL, "settled live series evicted", now)...)
	}
	if t.opts.StaleTTL > 0 {
		events = append(events, t.evict(t.store.EvictStale(now.Add(-t.opts.StaleTTL)), t.opts.StaleTTL, "stale live series evicted", now)...)
	}
	return events, nil
}

func (t *Tracker) evict(keys []string, ttl time.Duration, msg string, now time.Time) []Event {
	events := make([]Event, 0, len(keys))
	for _, key := range keys {
		t.logger.Warn().Str("series_id", key).Dur("ttl", ttl).Msg(msg)
		events = append(events, Event{Type: EventSeriesEvicted, SeriesKey: key, At: now})
	}
	t.stats.Evicted += len(keys)
	t.metrics.RecordEvictions(len(keys))
	return events
}

func (t *Tracker) event(typ EventType, series *store.Series, matchID int64, now time.Time) Event {
	return Event{Type: typ, SeriesKey: series.Key, MatchID: matchID, Series: series.Clone(), At: now}
}

func cloneID(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
