// Package normalize maps provider payloads onto the canonical match model.
//
// Each provider owns one precedence Table. Normalize is a pure function of
// its input: it never consults caches, clocks or the network.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/fortuna/aegis/internal/store"
)

// SchemaError reports a payload that lacks a required field.
type SchemaError struct {
	Provider Provider
	Missing  []string
	Keys     []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s payload missing %s (keys: %s)",
		e.Provider, strings.Join(e.Missing, ", "), strings.Join(e.Keys, ","))
}

// draftWindowSeconds bounds the pick phase: a game with no kills inside
// it is still drafting.
const draftWindowSeconds = 60

// Normalize converts one raw payload into a canonical Match.
func Normalize(provider Provider, raw map[string]any) (store.Match, error) {
	table, ok := TableFor(provider)
	if !ok {
		return store.Match{}, fmt.Errorf("unknown provider %q", provider)
	}

	var missing []string

	matchID, ok := table.int64Field(raw, FieldMatchID)
	if !ok || matchID <= 0 {
		missing = append(missing, string(FieldMatchID))
	}

	radiant := table.team(raw, FieldRadiantTeamID, FieldRadiantTeamName)
	dire := table.team(raw, FieldDireTeamID, FieldDireTeamName)
	if !radiant.HasReference() && !dire.HasReference() {
		missing = append(missing, "team")
	}

	if len(missing) > 0 {
		return store.Match{}, &SchemaError{Provider: provider, Missing: missing, Keys: Keys(raw)}
	}

	m := store.Match{
		MatchID: matchID,
		Radiant: radiant,
		Dire:    dire,
	}

	if id, ok := table.positiveID(raw, FieldSeriesID); ok {
		m.SeriesID = &id
	}
	if v, ok := table.int64Field(raw, FieldSeriesType); ok && v >= 0 && v <= 2 {
		t := store.SeriesType(v)
		m.SeriesType = &t
	}
	if v, ok := table.int64Field(raw, FieldLeagueID); ok {
		m.LeagueID = v
	}
	if v, _, ok := table.Resolve(raw, FieldLeagueName); ok {
		m.LeagueName, _ = asString(v)
	}
	if v, ok := table.int64Field(raw, FieldStartTime); ok {
		m.StartTime = v
	}
	if v, _, ok := table.resolveWhere(raw, FieldDuration, func(v any) bool { _, ok := asSeconds(v); return ok }); ok {
		m.DurationSeconds, _ = asSeconds(v)
	}

	radiantKills, _ := table.int64Field(raw, FieldRadiantScore)
	direKills, _ := table.int64Field(raw, FieldDireScore)
	m.SetScore(int(max(radiantKills, 0)), int(max(direKills, 0)))

	m.GameNumber = table.gameNumber(raw)
	m.State, m.Winner = table.outcome(provider, raw, m)
	m.Players = table.players(raw)

	return m, nil
}

// Decode parses a JSON object keeping numbers exact.
func Decode(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Keys returns the sorted top-level keys of a payload, for anomaly logs.
func Keys(raw map[string]any) []string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t Table) int64Field(raw map[string]any, f Field) (int64, bool) {
	v, _, ok := t.resolveWhere(raw, f, func(v any) bool { _, ok := asInt64(v); return ok })
	if !ok {
		return 0, false
	}
	return asInt64(v)
}

// positiveID treats zero and negative ids as absent so that a later path
// in the precedence list can still supply the value.
func (t Table) positiveID(raw map[string]any, f Field) (int64, bool) {
	v, _, ok := t.resolveWhere(raw, f, func(v any) bool {
		id, ok := asInt64(v)
		return ok && id > 0
	})
	if !ok {
		return 0, false
	}
	return asInt64(v)
}

func (t Table) team(raw map[string]any, idField, nameField Field) store.Team {
	var team store.Team
	if id, ok := t.positiveID(raw, idField); ok {
		team.TeamID = &id
	}
	if v, _, ok := t.resolveWhere(raw, nameField, func(v any) bool { _, ok := asString(v); return ok }); ok {
		team.Name, _ = asString(v)
	}
	if team.Name == "" && team.TeamID != nil {
		team.Name = store.FallbackTeamName(*team.TeamID)
	}
	return team
}

func (t Table) gameNumber(raw map[string]any) int {
	if n, ok := t.int64Field(raw, FieldGameNumber); ok && n > 0 {
		return int(n)
	}
	rw, rok := t.int64Field(raw, FieldRadiantSeriesWins)
	dw, dok := t.int64Field(raw, FieldDireSeriesWins)
	if rok || dok {
		return int(max(rw, 0)+max(dw, 0)) + 1
	}
	return 0
}

func (t Table) outcome(provider Provider, raw map[string]any, m store.Match) (store.MatchState, store.Side) {
	winner := store.SideUnknown
	decided := false
	if v, _, ok := t.resolveWhere(raw, FieldRadiantWin, func(v any) bool { _, ok := asBool(v); return ok }); ok {
		radiantWon, _ := asBool(v)
		decided = true
		if radiantWon {
			winner = store.SideRadiant
		} else {
			winner = store.SideDire
		}
	} else if v, _, ok := t.Resolve(raw, FieldWinner); ok {
		s, _ := asString(v)
		switch store.Side(strings.ToLower(s)) {
		case store.SideRadiant:
			winner, decided = store.SideRadiant, true
		case store.SideDire:
			winner, decided = store.SideDire, true
		}
	}

	state, explicit := t.explicitState(raw)
	switch {
	case explicit:
	case decided:
		state = store.StateFinished
	case provider == ProviderHistorical:
		state = store.StateFinished
	case m.TotalKills == 0 && m.DurationSeconds < draftWindowSeconds:
		state = store.StateDraft
	default:
		state = store.StateInProgress
	}

	if state != store.StateFinished {
		return state, ""
	}
	return state, winner
}

func (t Table) explicitState(raw map[string]any) (store.MatchState, bool) {
	v, _, ok := t.Resolve(raw, FieldState)
	if !ok {
		return "", false
	}
	s, ok := asString(v)
	if !ok {
		return "", false
	}
	switch strings.ToLower(s) {
	case "finished", "completed", "post_game", "postgame":
		return store.StateFinished, true
	case "in_progress", "live", "playing":
		return store.StateInProgress, true
	case "draft", "hero_selection", "strategy_time":
		return store.StateDraft, true
	default:
		return "", false
	}
}

func (t Table) players(raw map[string]any) []store.Player {
	var out []store.Player
	if v, _, ok := t.Resolve(raw, FieldRadiantPlayers); ok {
		for _, p := range asObjects(v) {
			out = append(out, player(p, store.SideRadiant))
		}
	}
	if v, _, ok := t.Resolve(raw, FieldDirePlayers); ok {
		for _, p := range asObjects(v) {
			out = append(out, player(p, store.SideDire))
		}
	}
	if len(out) > 0 {
		return out
	}

	v, _, ok := t.Resolve(raw, FieldPlayers)
	if !ok {
		return nil
	}
	for _, p := range asObjects(v) {
		side, ok := playerSide(p)
		if !ok {
			continue
		}
		out = append(out, player(p, side))
	}
	return out
}

func playerSide(p map[string]any) (store.Side, bool) {
	if v, ok := lookup(p, "isRadiant"); ok {
		if b, ok := asBool(v); ok {
			if b {
				return store.SideRadiant, true
			}
			return store.SideDire, true
		}
	}
	if v, ok := lookup(p, "team"); ok {
		switch n, _ := asInt64(v); n {
		case 0:
			return store.SideRadiant, true
		case 1:
			return store.SideDire, true
		default:
			return "", false
		}
	}
	if v, ok := lookup(p, "player_slot"); ok {
		if slot, ok := asInt64(v); ok {
			if slot < 128 {
				return store.SideRadiant, true
			}
			return store.SideDire, true
		}
	}
	return "", false
}

func player(p map[string]any, side store.Side) store.Player {
	out := store.Player{Side: side}
	if v, ok := lookup(p, "account_id"); ok {
		if id, ok := asInt64(v); ok && id > 0 {
			out.AccountID = &id
		}
	}
	for _, key := range []string{"name", "personaname"} {
		if v, ok := lookup(p, key); ok {
			if s, ok := asString(v); ok {
				out.Name = s
				break
			}
		}
	}
	if v, ok := lookup(p, "hero_id"); ok {
		if id, ok := asInt64(v); ok {
			out.HeroID = int(id)
		}
	}
	if v, ok := lookup(p, "net_worth"); ok {
		if nw, ok := asInt64(v); ok {
			out.NetWorth = store.NewNetWorth(nw)
		}
	}
	return out
}
