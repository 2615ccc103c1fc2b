package reconciliation

import (
	"github.com/fortuna/aegis/internal/store"
)

// sameTeam compares a match-side team with a series-side team.
func sameTeam(a, b store.Team) bool {
	return store.SameTeam(a.TeamID, a.Name, b.TeamID, b.Name)
}

// swapped reports whether the match has the series teams on opposite
// sides from the game that opened the series.
func swapped(series *store.Series, m store.Match) bool {
	radiant, dire := series.RadiantTeam(), series.DireTeam()
	if sameTeam(m.Radiant, radiant) || sameTeam(m.Dire, dire) {
		return false
	}
	return sameTeam(m.Radiant, dire) || sameTeam(m.Dire, radiant)
}

// samePair reports whether the match is played by the series teams, in
// either orientation.
func samePair(series *store.Series, m store.Match) bool {
	radiant, dire := series.RadiantTeam(), series.DireTeam()
	direct := sameTeam(m.Radiant, radiant) && sameTeam(m.Dire, dire)
	reversed := sameTeam(m.Radiant, dire) && sameTeam(m.Dire, radiant)
	return direct || reversed
}

// seriesSide maps a match winner onto the side the team held when the
// series opened.
func seriesSide(winner store.Side, isSwapped bool) store.Side {
	if isSwapped {
		return winner.Opposite()
	}
	return winner
}

// findLiveByTeams returns the open series the match most likely belongs
// to when the provider gave no series id: same league, same two teams,
// room for another game.
func findLiveByTeams(live []*store.Series, m store.Match) (*store.Series, bool) {
	for _, series := range live {
		if series.Provisional || series.Completed {
			continue
		}
		if series.LeagueID != 0 && m.LeagueID != 0 && series.LeagueID != m.LeagueID {
			continue
		}
		if len(series.Matches) >= series.SeriesType.MaxGames() {
			continue
		}
		if samePair(series, m) {
			return series, true
		}
	}
	return nil, false
}

// enrichTeams fills missing team metadata on the series from the match.
// Known ids are never replaced and real names are never replaced by
// synthesized ones.
func enrichTeams(series *store.Series, m store.Match, isSwapped bool) bool {
	radiant, dire := m.Radiant, m.Dire
	if isSwapped {
		radiant, dire = dire, radiant
	}
	changed := enrichSide(&series.RadiantTeamID, &series.RadiantTeamName, radiant)
	if enrichSide(&series.DireTeamID, &series.DireTeamName, dire) {
		changed = true
	}
	if series.LeagueID == 0 && m.LeagueID != 0 {
		series.LeagueID = m.LeagueID
		changed = true
	}
	if series.LeagueName == "" && m.LeagueName != "" {
		series.LeagueName = m.LeagueName
		changed = true
	}
	return changed
}

func enrichSide(id **int64, name *string, team store.Team) bool {
	changed := false
	if *id == nil && team.TeamID != nil {
		v := *team.TeamID
		*id = &v
		changed = true
	}
	if team.Name == "" {
		return changed
	}
	if *name == "" || (store.IsFallbackName(*name) && !store.IsFallbackName(team.Name)) {
		*name = team.Name
		changed = true
	}
	return changed
}
