// Package backfill rebuilds completed series from historical matches and
// writes them to the archive, either from the CLI or as queued jobs.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/rs/zerolog"

	"github.com/fortuna/aegis/internal/cache"
	"github.com/fortuna/aegis/internal/reconciliation"
	"github.com/fortuna/aegis/internal/store"
)

// MatchSource returns a normalized historical match.
type MatchSource interface {
	Historical(ctx context.Context, matchID int64) (store.Match, error)
}

// LeagueLister lists the match ids of a league.
type LeagueLister interface {
	LeagueMatchIDs(ctx context.Context, leagueID int64) ([]int64, error)
}

// SeriesSaver persists a completed series.
type SeriesSaver interface {
	Save(ctx context.Context, series *store.Series) error
}

// Runner replays historical matches through a private tracker and store,
// so the live cache is never touched.
type Runner struct {
	source  MatchSource
	leagues LeagueLister
	saver   SeriesSaver
	logger  zerolog.Logger
}

// NewRunner constructs a runner. leagues and saver may be nil; without a
// saver every run behaves as a dry run.
func NewRunner(source MatchSource, leagues LeagueLister, saver SeriesSaver, logger zerolog.Logger) *Runner {
	return &Runner{
		source:  source,
		leagues: leagues,
		saver:   saver,
		logger:  logger.With().Str("component", "backfill").Logger(),
	}
}

// Run executes the job spec, reporting progress via the Reporter if provided.
func (r *Runner) Run(ctx context.Context, spec JobSpec, reporter Reporter) (Result, error) {
	if reporter == nil {
		reporter = nopReporter{}
	}
	var res Result

	ids, err := r.matchIDs(ctx, spec)
	if err != nil {
		reporter.OnJobError(err)
		return res, err
	}
	reporter.OnJobStart(spec, len(ids))

	st := cache.NewStore()
	tracker := reconciliation.NewTracker(st, r.logger, reconciliation.Options{})

	for idx, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		m, err := r.source.Historical(ctx, id)
		if err == nil {
			_, err = tracker.Apply(m)
		}
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Skipped++
			reporter.OnMatchSkipped(id, err)
			r.logger.Warn().Err(err).Int64("match_id", id).Msg("backfill match skipped")
			continue
		}
		res.Matches++
		reporter.OnMatchProcessed(id, idx, len(ids))
	}

	if len(ids) > 0 && res.Matches == 0 {
		err := fmt.Errorf("backfill: none of %d matches could be replayed", len(ids))
		reporter.OnJobError(err)
		return res, err
	}

	for _, series := range st.ListLive() {
		res.Incomplete = append(res.Incomplete, series.Key)
	}
	completed := st.ListCompleted(cache.CompletedFilter{})
	res.Completed = len(completed)

	if spec.DryRun || r.saver == nil {
		reporter.OnJobComplete(res)
		return res, nil
	}
	for _, series := range completed {
		if err := r.saver.Save(ctx, series); err != nil {
			err = fmt.Errorf("archiving series %s: %w", series.Key, err)
			reporter.OnJobError(err)
			return res, err
		}
		res.Archived++
		reporter.OnSeriesArchived(series.Key)
	}
	reporter.OnJobComplete(res)
	return res, nil
}

// matchIDs resolves a JobSpec to an ascending, duplicate-free id list.
// Ascending match ids replay games in the order they were played.
func (r *Runner) matchIDs(ctx context.Context, spec JobSpec) ([]int64, error) {
	var ids []int64
	switch spec.Type {
	case JobTypeMatches:
		if len(spec.MatchIDs) == 0 {
			return nil, errors.New("matches job requires at least one match id")
		}
		ids = slices.Clone(spec.MatchIDs)
	case JobTypeLeague:
		if spec.LeagueID == 0 {
			return nil, errors.New("league job requires a league id")
		}
		if r.leagues == nil {
			return nil, errors.New("league listing not available")
		}
		listed, err := r.leagues.LeagueMatchIDs(ctx, spec.LeagueID)
		if err != nil {
			return nil, fmt.Errorf("listing league %d: %w", spec.LeagueID, err)
		}
		ids = listed
	default:
		return nil, fmt.Errorf("unsupported job type %q", spec.Type)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}

type nopReporter struct{}

func (nopReporter) OnJobStart(JobSpec, int) {}
func (nopReporter) OnMatchProcessed(int64, int, int) {}
func (nopReporter) OnMatchSkipped(int64, error) {}
func (nopReporter) OnSeriesArchived(string) {}
func (nopReporter) OnJobComplete(Result) {}
func (nopReporter) OnJobError(error) {}
