package store

import (
	"encoding/json"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNetWorth(t *testing.T) {
	Convey("Given provider net worth values", t, func() {
		var players []Player
		raw := `[{"hero_id":1,"net_worth":15400},{"hero_id":2,"net_worth":"N/A"},
			{"hero_id":3,"net_worth":"9800"},{"hero_id":4,"net_worth":null},{"hero_id":5,"net_worth":1234.9}]`
		So(json.Unmarshal([]byte(raw), &players), ShouldBeNil)

		Convey("Then numbers and numeric strings are valid", func() {
			So(players[0].NetWorth, ShouldResemble, NewNetWorth(15400))
			So(players[2].NetWorth, ShouldResemble, NewNetWorth(9800))
			So(players[4].NetWorth.Int64(), ShouldEqual, 1234)
		})

		Convey("Then placeholders count as zero", func() {
			So(players[1].NetWorth.Valid, ShouldBeFalse)
			So(players[1].NetWorth.Int64(), ShouldEqual, 0)
			So(players[3].NetWorth.Int64(), ShouldEqual, 0)
		})

		Convey("Then invalid values are written back as N/A", func() {
			data, err := json.Marshal(players[1].NetWorth)
			So(err, ShouldBeNil)
			So(string(data), ShouldEqual, `"N/A"`)
		})
	})
}

func TestSeriesType(t *testing.T) {
	Convey("Given the best-of codes", t, func() {
		So(SeriesBo1.MaxGames(), ShouldEqual, 1)
		So(SeriesBo3.MaxGames(), ShouldEqual, 3)
		So(SeriesBo5.MaxGames(), ShouldEqual, 5)
		So(SeriesBo1.WinsNeeded(), ShouldEqual, 1)
		So(SeriesBo3.WinsNeeded(), ShouldEqual, 2)
		So(SeriesBo5.WinsNeeded(), ShouldEqual, 3)
		So(SeriesType(7).String(), ShouldEqual, "Bo3")
	})
}

func TestSeriesDocuments(t *testing.T) {
	Convey("Given a cached series written with the older id names", t, func() {
		raw := `{"key":"50","series_id":50,"series_type":1,"radiant_id":111,"dire_id":222,
			"radiant_team_name":"Alpha","dire_team_name":"Bravo","radiant_score":1,"dire_score":0,"matches":[]}`
		var s Series
		So(json.Unmarshal([]byte(raw), &s), ShouldBeNil)

		Convey("Then the ids land on the team id fields", func() {
			So(*s.RadiantTeamID, ShouldEqual, 111)
			So(*s.DireTeamID, ShouldEqual, 222)
			So(s.SeriesType, ShouldEqual, SeriesBo3)
		})

		Convey("Then it is written back with the team id names only", func() {
			data, err := json.Marshal(&s)
			So(err, ShouldBeNil)
			So(string(data), ShouldContainSubstring, `"radiant_team_id":111`)
			So(string(data), ShouldNotContainSubstring, `"radiant_id"`)
		})
	})

	Convey("Given both namings at once", t, func() {
		raw := `{"key":"51","radiant_team_id":1,"radiant_id":9,"dire_id":2}`
		var s Series
		So(json.Unmarshal([]byte(raw), &s), ShouldBeNil)
		So(*s.RadiantTeamID, ShouldEqual, 1)
		So(*s.DireTeamID, ShouldEqual, 2)
	})
}

func TestSeriesState(t *testing.T) {
	Convey("Given a Bo3 with one game each", t, func() {
		m := Match{MatchID: 10, Radiant: Team{TeamID: Int64Ptr(1)}}
		m.SetScore(12, 7)
		s := &Series{Key: SeriesKey(50), SeriesType: SeriesBo3, RadiantScore: 1, DireScore: 1,
			Matches: []Match{m}, ScoredMatches: map[int64]Side{10: SideRadiant}}

		Convey("Then it is undecided and level", func() {
			So(s.Decided(), ShouldBeFalse)
			So(s.Leader(), ShouldEqual, SideUnknown)
			So(s.MatchIndex(10), ShouldEqual, 0)
			So(s.MatchIndex(11), ShouldEqual, -1)
			So(s.Matches[0].TotalKills, ShouldEqual, 19)
		})

		Convey("Then a clone shares no memory", func() {
			c := s.Clone()
			c.Matches[0].SetScore(0, 0)
			*c.Matches[0].Radiant.TeamID = 99
			c.ScoredMatches[11] = SideDire
			So(s.Matches[0].TotalKills, ShouldEqual, 19)
			So(*s.Matches[0].Radiant.TeamID, ShouldEqual, 1)
			So(len(s.ScoredMatches), ShouldEqual, 1)
		})

		Convey("Then one more radiant win decides it", func() {
			s.RadiantScore++
			So(s.Decided(), ShouldBeTrue)
			So(s.Leader(), ShouldEqual, SideRadiant)
		})
	})

	Convey("Given keys", t, func() {
		So(SeriesKey(50), ShouldEqual, "50")
		So(ProvisionalKey(8100), ShouldEqual, "s_8100")
		So(SideRadiant.Opposite(), ShouldEqual, SideDire)
		So(SideUnknown.Opposite(), ShouldEqual, SideUnknown)
	})
}
