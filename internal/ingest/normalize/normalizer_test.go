package normalize

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/fortuna/aegis/internal/store"
)

func mustDecode(t *testing.T, body string) map[string]any {
	t.Helper()
	raw, err := Decode([]byte(body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return raw
}

func TestNormalizeLivePayload(t *testing.T) {
	Convey("Given a live league game payload", t, func() {
		raw := mustDecode(t, `{
			"match_id": 7712345678,
			"series_id": 900,
			"series_type": 1,
			"league_id": 17911,
			"radiant_series_wins": 1,
			"dire_series_wins": 0,
			"radiant_team": {"team_id": 15, "team_name": "PSG.LGD"},
			"dire_team": {"team_id": 2163, "team_name": "Team Liquid"},
			"scoreboard": {
				"duration": 1234.7,
				"radiant": {"score": 12, "players": [
					{"account_id": 1, "hero_id": 10, "net_worth": 15000},
					{"account_id": 2, "hero_id": 11, "net_worth": "N/A"}
				]},
				"dire": {"score": 9, "players": [
					{"account_id": 3, "hero_id": 12, "net_worth": 9000}
				]}
			}
		}`)

		m, err := Normalize(ProviderLive, raw)

		Convey("Then the canonical match is populated", func() {
			So(err, ShouldBeNil)
			So(m.MatchID, ShouldEqual, 7712345678)
			So(*m.SeriesID, ShouldEqual, 900)
			So(*m.SeriesType, ShouldEqual, store.SeriesBo3)
			So(m.LeagueID, ShouldEqual, 17911)
			So(*m.Radiant.TeamID, ShouldEqual, 15)
			So(m.Dire.Name, ShouldEqual, "Team Liquid")
		})

		Convey("Then duration is truncated to whole seconds", func() {
			So(m.DurationSeconds, ShouldEqual, 1234)
		})

		Convey("Then total kills equals the sum of both scores", func() {
			So(m.RadiantScore, ShouldEqual, 12)
			So(m.DireScore, ShouldEqual, 9)
			So(m.TotalKills, ShouldEqual, m.RadiantScore+m.DireScore)
		})

		Convey("Then the game number is derived from series wins", func() {
			So(m.GameNumber, ShouldEqual, 2)
		})

		Convey("Then the match is in progress without a winner", func() {
			So(m.State, ShouldEqual, store.StateInProgress)
			So(m.Winner, ShouldEqual, store.Side(""))
		})

		Convey("Then players keep their sides and placeholder net worth is invalid", func() {
			So(len(m.Players), ShouldEqual, 3)
			So(m.Players[0].Side, ShouldEqual, store.SideRadiant)
			So(m.Players[1].NetWorth.Valid, ShouldBeFalse)
			So(m.Players[2].Side, ShouldEqual, store.SideDire)
		})
	})
}

func TestNormalizeFieldPrecedence(t *testing.T) {
	Convey("Given a payload using flat aliases", t, func() {
		Convey("When the nested id is null the next alias wins", func() {
			raw := mustDecode(t, `{
				"match_id": 1,
				"radiant_team": {"team_id": null},
				"team_id_radiant": 44,
				"radiant_team_id": 55
			}`)
			m, err := Normalize(ProviderLive, raw)
			So(err, ShouldBeNil)
			So(*m.Radiant.TeamID, ShouldEqual, 44)
		})

		Convey("When only radiant_id is present it is used", func() {
			raw := mustDecode(t, `{"match_id": 1, "radiant_id": 77, "dire_id": 78}`)
			m, err := Normalize(ProviderLive, raw)
			So(err, ShouldBeNil)
			So(*m.Radiant.TeamID, ShouldEqual, 77)
			So(*m.Dire.TeamID, ShouldEqual, 78)
		})

		Convey("When a team has only an id the name is synthesized", func() {
			raw := mustDecode(t, `{"match_id": 1, "radiant_team_id": 8255888}`)
			m, err := Normalize(ProviderLive, raw)
			So(err, ShouldBeNil)
			So(m.Radiant.Name, ShouldEqual, "Team 8255888")
			So(m.Dire.HasReference(), ShouldBeFalse)
		})

		Convey("When the duration is a numeric string it is parsed", func() {
			raw := mustDecode(t, `{"match_id": 1, "radiant_name": "A", "duration": "601.9"}`)
			m, err := Normalize(ProviderLive, raw)
			So(err, ShouldBeNil)
			So(m.DurationSeconds, ShouldEqual, 601)
		})

		Convey("When the duration is a formatted clock it is not a primary field", func() {
			raw := mustDecode(t, `{"match_id": 1, "radiant_name": "A", "duration": "10:01"}`)
			m, err := Normalize(ProviderLive, raw)
			So(err, ShouldBeNil)
			So(m.DurationSeconds, ShouldEqual, 0)
		})
	})
}

func TestNormalizeStates(t *testing.T) {
	Convey("Given live payloads at different phases", t, func() {
		Convey("When no kills happened in the first minute the match is drafting", func() {
			raw := mustDecode(t, `{"match_id": 3, "radiant_name": "A", "dire_name": "B",
				"scoreboard": {"duration": 30, "radiant": {"score": 0}, "dire": {"score": 0}}}`)
			m, err := Normalize(ProviderLive, raw)
			So(err, ShouldBeNil)
			So(m.State, ShouldEqual, store.StateDraft)
		})

		Convey("When radiant_win is reported the match is finished", func() {
			raw := mustDecode(t, `{"match_id": 3, "radiant_name": "A", "dire_name": "B", "radiant_win": false}`)
			m, err := Normalize(ProviderLive, raw)
			So(err, ShouldBeNil)
			So(m.State, ShouldEqual, store.StateFinished)
			So(m.Winner, ShouldEqual, store.SideDire)
		})

		Convey("When an explicit finished state has no winner it stays unknown", func() {
			raw := mustDecode(t, `{"match_id": 3, "radiant_name": "A", "state": "finished"}`)
			m, err := Normalize(ProviderLive, raw)
			So(err, ShouldBeNil)
			So(m.State, ShouldEqual, store.StateFinished)
			So(m.Winner, ShouldEqual, store.SideUnknown)
		})
	})

	Convey("Given a historical match document", t, func() {
		raw := mustDecode(t, `{
			"match_id": 8001, "leagueid": 17211, "start_time": 1730000000,
			"duration": 2405, "radiant_score": 31, "dire_score": 22, "radiant_win": true,
			"radiant_team": {"team_id": 1, "name": "Tundra"},
			"dire_team": {"team_id": 2, "name": "Falcons"},
			"league": {"name": "Riyadh Masters"},
			"players": [
				{"account_id": 10, "player_slot": 0, "net_worth": 21000},
				{"account_id": 11, "player_slot": 128, "net_worth": 18000}
			]
		}`)
		m, err := Normalize(ProviderHistorical, raw)

		Convey("Then it is finished with the reported winner and league name", func() {
			So(err, ShouldBeNil)
			So(m.State, ShouldEqual, store.StateFinished)
			So(m.Winner, ShouldEqual, store.SideRadiant)
			So(m.LeagueID, ShouldEqual, 17211)
			So(m.LeagueName, ShouldEqual, "Riyadh Masters")
			So(m.TotalKills, ShouldEqual, 53)
		})

		Convey("Then player sides come from the slot", func() {
			So(m.Players[0].Side, ShouldEqual, store.SideRadiant)
			So(m.Players[1].Side, ShouldEqual, store.SideDire)
		})
	})
}

func TestNormalizeSchemaErrors(t *testing.T) {
	Convey("Given payloads missing required fields", t, func() {
		Convey("When match_id is absent a SchemaError lists the keys", func() {
			raw := mustDecode(t, `{"radiant_name": "A", "lobby_id": 5}`)
			_, err := Normalize(ProviderLive, raw)
			var schemaErr *SchemaError
			So(errors.As(err, &schemaErr), ShouldBeTrue)
			So(schemaErr.Provider, ShouldEqual, ProviderLive)
			So(schemaErr.Missing, ShouldResemble, []string{"match_id"})
			So(schemaErr.Keys, ShouldResemble, []string{"lobby_id", "radiant_name"})
		})

		Convey("When no team reference exists the payload is rejected", func() {
			raw := mustDecode(t, `{"match_id": 5, "radiant_team": {"team_id": null}}`)
			_, err := Normalize(ProviderHistorical, raw)
			var schemaErr *SchemaError
			So(errors.As(err, &schemaErr), ShouldBeTrue)
			So(schemaErr.Missing, ShouldResemble, []string{"team"})
		})
	})
}
