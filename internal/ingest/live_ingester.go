// Package ingest fetches provider payloads and turns them into canonical
// matches. It owns no state between cycles.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fortuna/aegis/internal/ingest/normalize"
	"github.com/fortuna/aegis/internal/metrics"
	"github.com/fortuna/aegis/internal/store"
)

// LiveSource lists in-progress games for one league.
type LiveSource interface {
	LiveLeagueGames(ctx context.Context, leagueID int64) ([]map[string]any, error)
}

// HistoricalSource returns the finalized document of one match.
type HistoricalSource interface {
	Match(ctx context.Context, matchID int64) (map[string]any, error)
}

// LeagueNamer labels a league id.
type LeagueNamer func(leagueID int64) string

// Batch is the normalized result of one live fetch.
type Batch struct {
	Matches []store.Match
	// FailedLeagues holds the error of every league that could not be
	// fetched this cycle. Their series must not be treated as vanished.
	FailedLeagues map[int64]error
	Dropped       int
}

// Observed returns the set of match ids present in the batch.
func (b Batch) Observed() map[int64]struct{} {
	seen := make(map[int64]struct{}, len(b.Matches))
	for _, m := range b.Matches {
		seen[m.MatchID] = struct{}{}
	}
	return seen
}

// Failed reports whether league fetch failed this cycle.
func (b Batch) Failed() map[int64]bool {
	out := make(map[int64]bool, len(b.FailedLeagues))
	for id := range b.FailedLeagues {
		out[id] = true
	}
	return out
}

// LiveIngester polls every configured league and normalizes the results.
type LiveIngester struct {
	live       LiveSource
	historical HistoricalSource
	leagues    []int64
	leagueName LeagueNamer
	logger     zerolog.Logger
	metrics    *metrics.Manager
}

// NewLiveIngester creates an ingester. historical may be nil, in which
// case Historical always fails.
func NewLiveIngester(live LiveSource, historical HistoricalSource, leagues []int64, namer LeagueNamer, logger zerolog.Logger, m *metrics.Manager) *LiveIngester {
	if namer == nil {
		namer = func(id int64) string { return fmt.Sprintf("League %d", id) }
	}
	return &LiveIngester{
		live:       live,
		historical: historical,
		leagues:    leagues,
		leagueName: namer,
		logger:     logger.With().Str("component", "ingest").Logger(),
		metrics:    m,
	}
}

// Collect fetches all leagues concurrently. A league that fails is
// recorded in the batch; only when every league fails is a FetchError
// returned.
func (li *LiveIngester) Collect(ctx context.Context) (Batch, error) {
	results := make([][]map[string]any, len(li.leagues))
	errs := make([]error, len(li.leagues))

	var g errgroup.Group
	g.SetLimit(4)
	for i, league := range li.leagues {
		g.Go(func() error {
			games, err := li.live.LiveLeagueGames(ctx, league)
			results[i], errs[i] = games, err
			return nil
		})
	}
	_ = g.Wait()

	batch := Batch{FailedLeagues: make(map[int64]error)}
	seen := make(map[int64]bool)
	for i, league := range li.leagues {
		if errs[i] != nil {
			batch.FailedLeagues[league] = errs[i]
			li.metrics.RecordFetchFailure(ProviderLive)
			li.logger.Warn().
				Err(errs[i]).
				Str("provider", ProviderLive).
				Int64("league_id", league).
				Msg("league fetch failed")
			continue
		}
		for _, raw := range results[i] {
			m, err := normalize.Normalize(normalize.ProviderLive, raw)
			if err != nil {
				batch.Dropped++
				li.drop(ProviderLive, err)
				continue
			}
			if seen[m.MatchID] {
				continue
			}
			seen[m.MatchID] = true
			li.stampLeague(&m, league)
			batch.Matches = append(batch.Matches, m)
		}
	}

	if len(li.leagues) > 0 && len(batch.FailedLeagues) == len(li.leagues) {
		return batch, &FetchError{
			Provider: ProviderLive,
			Op:       "GetLiveLeagueGames",
			Err:      errors.Join(errs...),
		}
	}
	return batch, nil
}

// Historical fetches and normalizes one finalized match.
func (li *LiveIngester) Historical(ctx context.Context, matchID int64) (store.Match, error) {
	if li.historical == nil {
		return store.Match{}, &FetchError{Provider: ProviderHistorical, Op: "match", Err: errors.New("no historical provider configured")}
	}
	raw, err := li.historical.Match(ctx, matchID)
	if err != nil {
		li.metrics.RecordFetchFailure(ProviderHistorical)
		return store.Match{}, &FetchError{Provider: ProviderHistorical, Op: fmt.Sprintf("match %d", matchID), Err: err}
	}
	m, err := normalize.Normalize(normalize.ProviderHistorical, raw)
	if err != nil {
		li.drop(ProviderHistorical, err)
		return store.Match{}, err
	}
	if m.LeagueID != 0 && m.LeagueName == "" {
		m.LeagueName = li.leagueName(m.LeagueID)
	}
	return m, nil
}

func (li *LiveIngester) stampLeague(m *store.Match, league int64) {
	if m.LeagueID == 0 {
		m.LeagueID = league
	}
	if m.LeagueName == "" {
		m.LeagueName = li.leagueName(m.LeagueID)
	}
}

func (li *LiveIngester) drop(provider string, err error) {
	var se *normalize.SchemaError
	if errors.As(err, &se) {
		li.metrics.RecordSchemaDrop(provider)
		li.logger.Warn().
			Str("provider", provider).
			Strs("missing", se.Missing).
			Strs("keys", se.Keys).
			Msg("payload dropped")
		return
	}
	li.logger.Error().Err(err).Str("provider", provider).Msg("payload rejected")
}
