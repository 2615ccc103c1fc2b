package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/fortuna/aegis/internal/cache"
	"github.com/fortuna/aegis/internal/store"
)

func completedSeries() *store.Series {
	done := time.Date(2025, 5, 1, 20, 0, 0, 0, time.UTC)
	return &store.Series{
		Key:             "555",
		SeriesID:        store.Int64Ptr(555),
		LeagueID:        17911,
		SeriesType:      store.SeriesBo3,
		RadiantTeamID:   store.Int64Ptr(1),
		RadiantTeamName: "Alpha",
		DireTeamName:    "Bravo",
		RadiantScore:    2,
		Matches:         []store.Match{{MatchID: 10}, {MatchID: 11}},
		Completed:       true,
		CompletionTime:  &done,
	}
}

func TestSeriesRepository(t *testing.T) {
	Convey("Given a repository over a mocked connection", t, func() {
		db, mock, err := sqlmock.New()
		So(err, ShouldBeNil)
		defer db.Close()
		repo := NewSeriesRepository(store.NewDatabaseFromDB(db, zerolog.New(io.Discard)))
		ctx := context.Background()

		Convey("When a completed series is saved", func() {
			s := completedSeries()
			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO series_archive")).
				WithArgs("555", int64(555), int64(17911), "", 1,
					int64(1), "Alpha", nil, "Bravo",
					2, 0, sqlmock.AnyArg(), sqlmock.AnyArg(), *s.CompletionTime).
				WillReturnResult(sqlmock.NewResult(0, 1))

			So(repo.Save(ctx, s), ShouldBeNil)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("When a live series is saved", func() {
			s := completedSeries()
			s.Completed = false
			So(repo.Save(ctx, s), ShouldNotBeNil)
		})

		Convey("When an archived series is read", func() {
			doc, _ := json.Marshal(completedSeries())
			mock.ExpectQuery(regexp.QuoteMeta("SELECT document FROM series_archive WHERE series_key = $1")).
				WithArgs("555").
				WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(doc))

			got, err := repo.Get(ctx, "555")
			So(err, ShouldBeNil)
			So(got.RadiantScore, ShouldEqual, 2)
			So(*got.RadiantTeamID, ShouldEqual, 1)
			So(len(got.Matches), ShouldEqual, 2)
		})

		Convey("When the key is unknown", func() {
			mock.ExpectQuery("SELECT document FROM series_archive").
				WithArgs("404").
				WillReturnRows(sqlmock.NewRows([]string{"document"}))

			_, err := repo.Get(ctx, "404")
			So(errors.Is(err, cache.ErrNotFound), ShouldBeTrue)
		})

		Convey("When a series is found by match", func() {
			doc, _ := json.Marshal(completedSeries())
			mock.ExpectQuery(regexp.QuoteMeta("WHERE $1 = ANY(match_ids)")).
				WithArgs(int64(11)).
				WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(doc))

			got, err := repo.FindByMatch(ctx, 11)
			So(err, ShouldBeNil)
			So(got.Key, ShouldEqual, "555")
		})

		Convey("When history is filtered", func() {
			doc, _ := json.Marshal(completedSeries())
			since := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
			mock.ExpectQuery(regexp.QuoteMeta(
				"SELECT document FROM series_archive WHERE league_id = $1 AND (radiant_team_name ILIKE $2 OR dire_team_name ILIKE $2) AND completed_at >= $3 ORDER BY completed_at DESC LIMIT $4")).
				WithArgs(int64(17911), "%alp%", since, 10).
				WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(doc))

			list, err := repo.List(ctx, cache.CompletedFilter{LeagueID: 17911, Team: "alp", Since: since, Limit: 10})
			So(err, ShouldBeNil)
			So(len(list), ShouldEqual, 1)
			So(mock.ExpectationsWereMet(), ShouldBeNil)
		})

		Convey("When the archive is unreachable", func() {
			mock.ExpectQuery("SELECT document FROM series_archive").
				WillReturnError(errors.New("connection refused"))

			_, err := repo.List(ctx, cache.CompletedFilter{})
			So(err, ShouldNotBeNil)
		})
	})
}
