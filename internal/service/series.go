// Package service builds the read-only views served to dashboards: series
// from the cache store, falling back to the archive, annotated with
// derived stats and odds.
package service

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fortuna/aegis/internal/cache"
	"github.com/fortuna/aegis/internal/odds"
	"github.com/fortuna/aegis/internal/store"
)

// DefaultHistoryLimit caps history queries without an explicit limit.
const DefaultHistoryLimit = 50

// SeriesReader is the read side of the cache store.
type SeriesReader interface {
	Get(key string) (*store.Series, bool)
	FindByMatch(matchID int64) (*store.Series, bool)
	ListLive() []*store.Series
	ListCompleted(filter cache.CompletedFilter) []*store.Series
}

// Archive holds completed series evicted from memory. Misses are reported
// as cache.NotFoundError.
type Archive interface {
	Get(ctx context.Context, key string) (*store.Series, error)
	FindByMatch(ctx context.Context, matchID int64) (*store.Series, error)
	List(ctx context.Context, filter cache.CompletedFilter) ([]*store.Series, error)
}

// Annotator attaches odds and alerts to a match.
type Annotator interface {
	Annotate(ctx context.Context, m store.Match) odds.Annotation
}

// TeamView is one side of a series.
type TeamView struct {
	ID    *int64 `json:"id,omitempty"`
	Name  string `json:"name"`
	Score int    `json:"score"`
}

// MatchView is a match with its derived stats and annotations.
type MatchView struct {
	store.Match
	Stats MatchStats `json:"stats"`
	odds.Annotation
}

// SeriesView is the presentation shape of a series.
type SeriesView struct {
	Key            string      `json:"key"`
	SeriesID       *int64      `json:"series_id,omitempty"`
	Provisional    bool        `json:"provisional,omitempty"`
	Status         string      `json:"status"`
	LeagueID       int64       `json:"league_id"`
	LeagueName     string      `json:"league_name,omitempty"`
	Format         string      `json:"format"`
	Radiant        TeamView    `json:"radiant"`
	Dire           TeamView    `json:"dire"`
	Matches        []MatchView `json:"matches"`
	Stats          SeriesStats `json:"stats"`
	CompletionTime *time.Time  `json:"completion_time,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// SeriesService answers series queries. It never writes.
type SeriesService struct {
	reader    SeriesReader
	archive   Archive
	annotator Annotator
	logger    zerolog.Logger
}

// NewSeriesService creates the service. archive and annotator may be nil.
func NewSeriesService(reader SeriesReader, archive Archive, annotator Annotator, logger zerolog.Logger) *SeriesService {
	return &SeriesService{
		reader:    reader,
		archive:   archive,
		annotator: annotator,
		logger:    logger.With().Str("component", "series_service").Logger(),
	}
}

// Live returns every live series, most recently updated first.
func (s *SeriesService) Live(ctx context.Context) []SeriesView {
	list := s.reader.ListLive()
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	return s.views(ctx, list)
}

// History returns completed series, most recent completion first. The
// archive fills in what memory no longer holds; archive failures degrade
// to the in-memory answer.
func (s *SeriesService) History(ctx context.Context, filter cache.CompletedFilter) []SeriesView {
	if filter.Limit <= 0 {
		filter.Limit = DefaultHistoryLimit
	}
	list := s.reader.ListCompleted(filter)

	if s.archive != nil && len(list) < filter.Limit {
		archived, err := s.archive.List(ctx, filter)
		if err != nil {
			s.logger.Warn().Err(err).Msg("archive history query failed")
		}
		seen := make(map[string]bool, len(list))
		for _, series := range list {
			seen[series.Key] = true
		}
		for _, series := range archived {
			if !seen[series.Key] {
				seen[series.Key] = true
				list = append(list, series)
			}
		}
		sort.SliceStable(list, func(i, j int) bool {
			return completedAt(list[i]).After(completedAt(list[j]))
		})
		if len(list) > filter.Limit {
			list = list[:filter.Limit]
		}
	}
	return s.views(ctx, list)
}

// Series returns one series by key, live or completed.
func (s *SeriesService) Series(ctx context.Context, key string) (*SeriesView, error) {
	if series, ok := s.reader.Get(key); ok {
		v := s.view(ctx, series)
		return &v, nil
	}
	if s.archive == nil {
		return nil, &cache.NotFoundError{Key: key}
	}
	series, err := s.archive.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	v := s.view(ctx, series)
	return &v, nil
}

// SeriesByMatch returns the series containing a match.
func (s *SeriesService) SeriesByMatch(ctx context.Context, matchID int64) (*SeriesView, error) {
	if series, ok := s.reader.FindByMatch(matchID); ok {
		v := s.view(ctx, series)
		return &v, nil
	}
	missing := &cache.NotFoundError{Key: "match " + strconv.FormatInt(matchID, 10)}
	if s.archive == nil {
		return nil, missing
	}
	series, err := s.archive.FindByMatch(ctx, matchID)
	if errors.Is(err, cache.ErrNotFound) {
		return nil, missing
	}
	if err != nil {
		return nil, err
	}
	v := s.view(ctx, series)
	return &v, nil
}

func (s *SeriesService) views(ctx context.Context, list []*store.Series) []SeriesView {
	out := make([]SeriesView, len(list))
	var g errgroup.Group
	g.SetLimit(8)
	for i, series := range list {
		g.Go(func() error {
			out[i] = s.view(ctx, series)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *SeriesService) view(ctx context.Context, series *store.Series) SeriesView {
	v := SeriesView{
		Key:         series.Key,
		SeriesID:    series.SeriesID,
		Provisional: series.Provisional,
		Status:      cache.Live.String(),
		LeagueID:    series.LeagueID,
		LeagueName:  series.LeagueName,
		Format:      series.SeriesType.String(),
		Radiant: TeamView{
			ID:    series.RadiantTeamID,
			Name:  series.RadiantTeamName,
			Score: series.RadiantScore,
		},
		Dire: TeamView{
			ID:    series.DireTeamID,
			Name:  series.DireTeamName,
			Score: series.DireScore,
		},
		Matches:        make([]MatchView, 0, len(series.Matches)),
		Stats:          ComputeSeriesStats(series),
		CompletionTime: series.CompletionTime,
		UpdatedAt:      series.UpdatedAt,
	}
	if series.Completed {
		v.Status = cache.Completed.String()
	}
	for _, m := range series.Matches {
		mv := MatchView{Match: m, Stats: ComputeMatchStats(m)}
		if s.annotator != nil {
			mv.Annotation = s.annotator.Annotate(ctx, m)
		}
		v.Matches = append(v.Matches, mv)
	}
	return v
}

func completedAt(series *store.Series) time.Time {
	if series.CompletionTime != nil {
		return *series.CompletionTime
	}
	return series.UpdatedAt
}
