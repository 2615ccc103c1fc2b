package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Side identifies one of the two factions of a Dota 2 match.
type Side string

const (
	SideRadiant Side = "radiant"
	SideDire    Side = "dire"
	SideUnknown Side = "unknown"
)

// Opposite returns the other faction. Unknown stays unknown.
func (s Side) Opposite() Side {
	switch s {
	case SideRadiant:
		return SideDire
	case SideDire:
		return SideRadiant
	default:
		return SideUnknown
	}
}

// Known reports whether the side is radiant or dire.
func (s Side) Known() bool {
	return s == SideRadiant || s == SideDire
}

// MatchState is the lifecycle of a single game.
type MatchState string

const (
	StateDraft      MatchState = "draft"
	StateInProgress MatchState = "in_progress"
	StateFinished   MatchState = "finished"
)

// SeriesType is the best-of format as reported by the providers.
type SeriesType int

const (
	SeriesBo1 SeriesType = 0
	SeriesBo3 SeriesType = 1
	SeriesBo5 SeriesType = 2
)

// MaxGames returns the number of games the format allows. Unknown codes
// are treated as Bo3, the most common professional format.
func (t SeriesType) MaxGames() int {
	switch t {
	case SeriesBo1:
		return 1
	case SeriesBo5:
		return 5
	default:
		return 3
	}
}

// WinsNeeded is the win count that ends the series.
func (t SeriesType) WinsNeeded() int {
	return t.MaxGames()/2 + 1
}

func (t SeriesType) String() string {
	return fmt.Sprintf("Bo%d", t.MaxGames())
}

// NetWorth is a player's gold total. Providers occasionally send
// placeholders such as "N/A"; those decode as invalid rather than failing.
type NetWorth struct {
	Value int64
	Valid bool
}

// NewNetWorth returns a valid net worth value.
func NewNetWorth(v int64) NetWorth {
	return NetWorth{Value: v, Valid: true}
}

// Int64 returns the value, or 0 when the provider sent nothing usable.
func (n NetWorth) Int64() int64 {
	if !n.Valid {
		return 0
	}
	return n.Value
}

func (n NetWorth) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte(`"N/A"`), nil
	}
	return []byte(strconv.FormatInt(n.Value, 10)), nil
}

func (n *NetWorth) UnmarshalJSON(data []byte) error {
	*n = NetWorth{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		data = []byte(strings.TrimSpace(s))
	}
	if v, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*n = NewNetWorth(v)
		return nil
	}
	if f, err := strconv.ParseFloat(string(data), 64); err == nil {
		*n = NewNetWorth(int64(f))
	}
	return nil
}

// Player is a per-cycle snapshot of one hero in a match.
type Player struct {
	AccountID *int64   `json:"account_id,omitempty"`
	Name      string   `json:"name,omitempty"`
	HeroID    int      `json:"hero_id"`
	NetWorth  NetWorth `json:"net_worth"`
	Side      Side     `json:"side"`
}

// Team is a team snapshot as seen in one match.
type Team struct {
	TeamID *int64 `json:"team_id,omitempty"`
	Name   string `json:"name"`
	Score  int    `json:"score"`
}

// FallbackTeamName synthesizes a display name for a team known only by id.
func FallbackTeamName(id int64) string {
	return fmt.Sprintf("Team %d", id)
}

// IsFallbackName reports whether name was synthesized from an id.
func IsFallbackName(name string) bool {
	rest, ok := strings.CutPrefix(name, "Team ")
	if !ok {
		return false
	}
	_, err := strconv.ParseInt(rest, 10, 64)
	return err == nil
}

// SameTeam compares two team references. Ids win when both sides carry
// one; otherwise names are compared case-insensitively.
func SameTeam(aID *int64, aName string, bID *int64, bName string) bool {
	if aID != nil && bID != nil {
		return *aID == *bID
	}
	a := strings.TrimSpace(aName)
	b := strings.TrimSpace(bName)
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}

// HasReference reports whether the team can be identified at all.
func (t Team) HasReference() bool {
	return t.TeamID != nil || strings.TrimSpace(t.Name) != ""
}

// Match is the canonical record of one game.
type Match struct {
	MatchID         int64       `json:"match_id"`
	SeriesID        *int64      `json:"series_id,omitempty"`
	SeriesType      *SeriesType `json:"series_type,omitempty"`
	LeagueID        int64       `json:"league_id"`
	LeagueName      string      `json:"league_name,omitempty"`
	StartTime       int64       `json:"start_time,omitempty"`
	DurationSeconds int         `json:"duration_seconds"`
	Radiant         Team        `json:"radiant"`
	Dire            Team        `json:"dire"`
	RadiantScore    int         `json:"radiant_score"`
	DireScore       int         `json:"dire_score"`
	TotalKills      int         `json:"total_kills"`
	State           MatchState  `json:"state"`
	GameNumber      int         `json:"game_number"`
	Winner          Side        `json:"winner,omitempty"`
	Players         []Player    `json:"players,omitempty"`

	// UnresolvedSince is set while a match waits for a winner, either
	// because it vanished from the live feed or finished without one.
	UnresolvedSince *time.Time `json:"unresolved_since,omitempty"`
}

// SetScore assigns both kill counts and keeps TotalKills in sync.
func (m *Match) SetScore(radiant, dire int) {
	m.RadiantScore = radiant
	m.DireScore = dire
	m.Radiant.Score = radiant
	m.Dire.Score = dire
	m.TotalKills = radiant + dire
}

// Finished reports whether the match reached its terminal state.
func (m *Match) Finished() bool {
	return m.State == StateFinished
}

// Resolved reports whether the match is finished with a known winner.
func (m *Match) Resolved() bool {
	return m.State == StateFinished && m.Winner.Known()
}

// Clone returns a deep copy.
func (m Match) Clone() Match {
	out := m
	out.SeriesID = cloneInt64(m.SeriesID)
	out.Radiant.TeamID = cloneInt64(m.Radiant.TeamID)
	out.Dire.TeamID = cloneInt64(m.Dire.TeamID)
	if m.SeriesType != nil {
		t := *m.SeriesType
		out.SeriesType = &t
	}
	if m.UnresolvedSince != nil {
		t := *m.UnresolvedSince
		out.UnresolvedSince = &t
	}
	if m.Players != nil {
		out.Players = make([]Player, len(m.Players))
		for i, p := range m.Players {
			p.AccountID = cloneInt64(p.AccountID)
			out.Players[i] = p
		}
	}
	return out
}

// ProvisionalPrefix marks series keyed by their first match id.
const ProvisionalPrefix = "s_"

// SeriesKey returns the cache key for a provider series id.
func SeriesKey(seriesID int64) string {
	return strconv.FormatInt(seriesID, 10)
}

// ProvisionalKey returns the cache key for a series known only by a match.
func ProvisionalKey(matchID int64) string {
	return ProvisionalPrefix + strconv.FormatInt(matchID, 10)
}

// Series groups the games two teams play in one best-of-N.
type Series struct {
	Key             string     `json:"key"`
	SeriesID        *int64     `json:"series_id,omitempty"`
	Provisional     bool       `json:"provisional,omitempty"`
	LeagueID        int64      `json:"league_id"`
	LeagueName      string     `json:"league_name,omitempty"`
	SeriesType      SeriesType `json:"series_type"`
	RadiantTeamID   *int64     `json:"radiant_team_id"`
	RadiantTeamName string     `json:"radiant_team_name"`
	DireTeamID      *int64     `json:"dire_team_id"`
	DireTeamName    string     `json:"dire_team_name"`
	RadiantScore    int        `json:"radiant_score"`
	DireScore       int        `json:"dire_score"`
	Matches         []Match    `json:"matches"`
	Completed       bool       `json:"completed"`
	CompletionTime  *time.Time `json:"completion_time,omitempty"`

	// ScoredMatches records which series side each counted match went to.
	ScoredMatches map[int64]Side `json:"scored_matches,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UnmarshalJSON accepts both the current *_team_id layout and the older
// radiant_id/dire_id naming.
func (s *Series) UnmarshalJSON(data []byte) error {
	type plain Series
	var doc struct {
		plain
		LegacyRadiantID *int64 `json:"radiant_id"`
		LegacyDireID    *int64 `json:"dire_id"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	*s = Series(doc.plain)
	if s.RadiantTeamID == nil {
		s.RadiantTeamID = doc.LegacyRadiantID
	}
	if s.DireTeamID == nil {
		s.DireTeamID = doc.LegacyDireID
	}
	return nil
}

// RadiantTeam returns the team that held radiant when the series opened.
func (s *Series) RadiantTeam() Team {
	return Team{TeamID: cloneInt64(s.RadiantTeamID), Name: s.RadiantTeamName, Score: s.RadiantScore}
}

// DireTeam returns the team that held dire when the series opened.
func (s *Series) DireTeam() Team {
	return Team{TeamID: cloneInt64(s.DireTeamID), Name: s.DireTeamName, Score: s.DireScore}
}

// MatchIndex returns the position of matchID in Matches, or -1.
func (s *Series) MatchIndex(matchID int64) int {
	for i := range s.Matches {
		if s.Matches[i].MatchID == matchID {
			return i
		}
	}
	return -1
}

// LastGameNumber returns the highest game number recorded so far.
func (s *Series) LastGameNumber() int {
	last := 0
	for i := range s.Matches {
		if s.Matches[i].GameNumber > last {
			last = s.Matches[i].GameNumber
		}
	}
	return last
}

// Decided reports whether either side reached the winning count.
func (s *Series) Decided() bool {
	need := s.SeriesType.WinsNeeded()
	return s.RadiantScore >= need || s.DireScore >= need
}

// Leader returns the side with more series wins.
func (s *Series) Leader() Side {
	switch {
	case s.RadiantScore > s.DireScore:
		return SideRadiant
	case s.DireScore > s.RadiantScore:
		return SideDire
	default:
		return SideUnknown
	}
}

// Clone returns a deep copy so callers never share memory with the store.
func (s *Series) Clone() *Series {
	if s == nil {
		return nil
	}
	out := *s
	out.SeriesID = cloneInt64(s.SeriesID)
	out.RadiantTeamID = cloneInt64(s.RadiantTeamID)
	out.DireTeamID = cloneInt64(s.DireTeamID)
	if s.CompletionTime != nil {
		t := *s.CompletionTime
		out.CompletionTime = &t
	}
	if s.Matches != nil {
		out.Matches = make([]Match, len(s.Matches))
		for i := range s.Matches {
			out.Matches[i] = s.Matches[i].Clone()
		}
	}
	if s.ScoredMatches != nil {
		out.ScoredMatches = make(map[int64]Side, len(s.ScoredMatches))
		for k, v := range s.ScoredMatches {
			out.ScoredMatches[k] = v
		}
	}
	return &out
}

// Int64Ptr is a small helper for optional ids.
func Int64Ptr(v int64) *int64 {
	return &v
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
