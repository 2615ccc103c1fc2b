package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/fortuna/aegis/internal/cache"
	"github.com/fortuna/aegis/internal/store"
)

// SeriesRepository handles the completed-series archive
type SeriesRepository struct {
	db *store.Database
}

// NewSeriesRepository creates a new series repository
func NewSeriesRepository(db *store.Database) *SeriesRepository {
	return &SeriesRepository{db: db}
}

// Save upserts a completed series. The first archived completion time is
// kept on later refinements.
func (r *SeriesRepository) Save(ctx context.Context, series *store.Series) error {
	if series == nil || !series.Completed {
		return fmt.Errorf("archiving series: only completed series are archived")
	}
	doc, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("encoding series %s: %w", series.Key, err)
	}

	completedAt := series.UpdatedAt
	if series.CompletionTime != nil {
		completedAt = *series.CompletionTime
	}
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}

	matchIDs := make([]int64, 0, len(series.Matches))
	for _, m := range series.Matches {
		matchIDs = append(matchIDs, m.MatchID)
	}

	query := `
		INSERT INTO series_archive (
			series_key, series_id, league_id, league_name, series_type,
			radiant_team_id, radiant_team_name, dire_team_id, dire_team_name,
			radiant_score, dire_score, match_ids, document, completed_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (series_key) DO UPDATE SET
			league_name = EXCLUDED.league_name,
			radiant_team_id = EXCLUDED.radiant_team_id,
			radiant_team_name = EXCLUDED.radiant_team_name,
			dire_team_id = EXCLUDED.dire_team_id,
			dire_team_name = EXCLUDED.dire_team_name,
			radiant_score = EXCLUDED.radiant_score,
			dire_score = EXCLUDED.dire_score,
			match_ids = EXCLUDED.match_ids,
			document = EXCLUDED.document,
			archived_at = NOW()
	`

	_, err = r.db.DB().ExecContext(ctx, query,
		series.Key, series.SeriesID, series.LeagueID, series.LeagueName, int(series.SeriesType),
		series.RadiantTeamID, series.RadiantTeamName, series.DireTeamID, series.DireTeamName,
		series.RadiantScore, series.DireScore, pq.Array(matchIDs), doc, completedAt,
	)
	if err != nil {
		return fmt.Errorf("archiving series %s: %w", series.Key, err)
	}
	return nil
}

// Get finds an archived series by key
func (r *SeriesRepository) Get(ctx context.Context, key string) (*store.Series, error) {
	row := r.db.DB().QueryRowContext(ctx, `SELECT document FROM series_archive WHERE series_key = $1`, key)
	return scanDocument(row, key)
}

// FindByMatch finds the archived series containing a match
func (r *SeriesRepository) FindByMatch(ctx context.Context, matchID int64) (*store.Series, error) {
	query := `
		SELECT document
		FROM series_archive
		WHERE $1 = ANY(match_ids)
		ORDER BY completed_at DESC
		LIMIT 1
	`
	row := r.db.DB().QueryRowContext(ctx, query, matchID)
	return scanDocument(row, "match "+strconv.FormatInt(matchID, 10))
}

// List returns archived series, most recent completion first
func (r *SeriesRepository) List(ctx context.Context, filter cache.CompletedFilter) ([]*store.Series, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.LeagueID != 0 {
		args = append(args, filter.LeagueID)
		where = append(where, fmt.Sprintf("league_id = $%d", len(args)))
	}
	if team := strings.TrimSpace(filter.Team); team != "" {
		args = append(args, "%"+team+"%")
		where = append(where, fmt.Sprintf("(radiant_team_name ILIKE $%d OR dire_team_name ILIKE $%d)", len(args), len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("completed_at >= $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	query := "SELECT document FROM series_archive"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY completed_at DESC LIMIT $%d", len(args))

	rows, err := r.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying series archive: %w", err)
	}
	defer rows.Close()

	var out []*store.Series
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scanning series: %w", err)
		}
		series := &store.Series{}
		if err := json.Unmarshal(doc, series); err != nil {
			return nil, fmt.Errorf("decoding archived series: %w", err)
		}
		out = append(out, series)
	}
	return out, rows.Err()
}

func scanDocument(row *sql.Row, key string) (*store.Series, error) {
	var doc []byte
	err := row.Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &cache.NotFoundError{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("querying series archive: %w", err)
	}

	series := &store.Series{}
	if err := json.Unmarshal(doc, series); err != nil {
		return nil, fmt.Errorf("decoding archived series %s: %w", key, err)
	}
	return series, nil
}
