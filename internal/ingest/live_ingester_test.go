package ingest

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/fortuna/aegis/internal/ingest/normalize"
	"github.com/fortuna/aegis/internal/store"
)

type fakeLive struct {
	games map[int64][]map[string]any
	fail  map[int64]error
}

func (f *fakeLive) LiveLeagueGames(_ context.Context, leagueID int64) ([]map[string]any, error) {
	if err := f.fail[leagueID]; err != nil {
		return nil, err
	}
	return f.games[leagueID], nil
}

type fakeHistorical struct {
	docs map[int64]map[string]any
}

func (f *fakeHistorical) Match(_ context.Context, matchID int64) (map[string]any, error) {
	doc, ok := f.docs[matchID]
	if !ok {
		return nil, errors.New("not found")
	}
	return doc, nil
}

func liveGame(matchID int64) map[string]any {
	return map[string]any{
		"match_id":     matchID,
		"radiant_team": map[string]any{"team_id": 1, "team_name": "Alpha"},
		"dire_team":    map[string]any{"team_id": 2, "team_name": "Bravo"},
		"scoreboard": map[string]any{
			"duration": 700.4,
			"radiant":  map[string]any{"score": 4},
			"dire":     map[string]any{"score": 2},
		},
	}
}

func TestCollect(t *testing.T) {
	namer := func(id int64) string {
		if id == 10 {
			return "Mad Dogs League"
		}
		return "League X"
	}

	Convey("Given two leagues with live games", t, func() {
		live := &fakeLive{games: map[int64][]map[string]any{
			10: {liveGame(100), {"lobby_id": 5}},
			20: {liveGame(200), liveGame(100)},
		}}
		li := NewLiveIngester(live, nil, []int64{10, 20}, namer, zerolog.New(io.Discard), nil)

		Convey("When collecting", func() {
			batch, err := li.Collect(context.Background())
			So(err, ShouldBeNil)

			Convey("Then valid games are normalized once and stamped with their league", func() {
				So(len(batch.Matches), ShouldEqual, 2)
				So(batch.Matches[0].MatchID, ShouldEqual, 100)
				So(batch.Matches[0].LeagueID, ShouldEqual, 10)
				So(batch.Matches[0].LeagueName, ShouldEqual, "Mad Dogs League")
				So(batch.Matches[0].DurationSeconds, ShouldEqual, 700)
				So(batch.Matches[0].TotalKills, ShouldEqual, 6)
				So(batch.Matches[1].MatchID, ShouldEqual, 200)
			})

			Convey("Then payloads without required fields are dropped", func() {
				So(batch.Dropped, ShouldEqual, 1)
			})

			Convey("Then the observed set covers every match", func() {
				seen := batch.Observed()
				So(seen, ShouldContainKey, int64(100))
				So(seen, ShouldContainKey, int64(200))
			})
		})
	})

	Convey("Given one league failing", t, func() {
		live := &fakeLive{
			games: map[int64][]map[string]any{10: {liveGame(100)}},
			fail:  map[int64]error{20: errors.New("timeout")},
		}
		li := NewLiveIngester(live, nil, []int64{10, 20}, namer, zerolog.New(io.Discard), nil)

		batch, err := li.Collect(context.Background())

		Convey("Then the cycle still succeeds and the failure is recorded", func() {
			So(err, ShouldBeNil)
			So(len(batch.Matches), ShouldEqual, 1)
			So(batch.Failed()[20], ShouldBeTrue)
			So(batch.Failed()[10], ShouldBeFalse)
		})
	})

	Convey("Given every league failing", t, func() {
		live := &fakeLive{fail: map[int64]error{
			10: context.DeadlineExceeded,
			20: errors.New("status 503"),
		}}
		li := NewLiveIngester(live, nil, []int64{10, 20}, namer, zerolog.New(io.Discard), nil)

		_, err := li.Collect(context.Background())

		Convey("Then a FetchError is returned", func() {
			var fe *FetchError
			So(errors.As(err, &fe), ShouldBeTrue)
			So(fe.Provider, ShouldEqual, ProviderLive)
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
		})
	})

	Convey("Given a league with no live games", t, func() {
		li := NewLiveIngester(&fakeLive{}, nil, []int64{10}, namer, zerolog.New(io.Discard), nil)
		batch, err := li.Collect(context.Background())

		Convey("Then the empty list is not an error", func() {
			So(err, ShouldBeNil)
			So(batch.Matches, ShouldBeEmpty)
		})
	})
}

func TestHistorical(t *testing.T) {
	Convey("Given a historical provider", t, func() {
		hist := &fakeHistorical{docs: map[int64]map[string]any{
			300: {
				"match_id":        300,
				"leagueid":        10,
				"radiant_team_id": 1,
				"dire_team_id":    2,
				"radiant_score":   30,
				"dire_score":      20,
				"duration":        2400,
				"radiant_win":     true,
			},
			301: {"leagueid": 10},
		}}
		namer := func(int64) string { return "Mad Dogs League" }
		li := NewLiveIngester(&fakeLive{}, hist, []int64{10}, namer, zerolog.New(io.Discard), nil)

		Convey("When the match is finalized", func() {
			m, err := li.Historical(context.Background(), 300)
			So(err, ShouldBeNil)

			Convey("Then it is normalized as finished with its winner", func() {
				So(m.State, ShouldEqual, store.StateFinished)
				So(m.Winner, ShouldEqual, store.SideRadiant)
				So(m.LeagueName, ShouldEqual, "Mad Dogs League")
				So(m.TotalKills, ShouldEqual, 50)
			})
		})

		Convey("When the provider fails", func() {
			_, err := li.Historical(context.Background(), 999)
			var fe *FetchError
			So(errors.As(err, &fe), ShouldBeTrue)
			So(fe.Provider, ShouldEqual, ProviderHistorical)
		})

		Convey("When the document is malformed", func() {
			_, err := li.Historical(context.Background(), 301)
			var se *normalize.SchemaError
			So(errors.As(err, &se), ShouldBeTrue)
		})
	})

	Convey("Given no historical provider", t, func() {
		li := NewLiveIngester(&fakeLive{}, nil, nil, nil, zerolog.New(io.Discard), nil)
		_, err := li.Historical(context.Background(), 1)
		So(err, ShouldNotBeNil)
	})
}
