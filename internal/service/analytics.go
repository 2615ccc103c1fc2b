package service

import (
	"fmt"
	"math"

	"github.com/fortuna/aegis/internal/store"
)

// Display weights of the net worth bar never leave this range so the
// trailing side stays visible.
const (
	MinNetWorthWeight = 30.0
	MaxNetWorthWeight = 70.0
)

// Duration categories.
const (
	DurationShort    = "short"
	DurationStandard = "standard"
	DurationLong     = "long"
)

// Pace and balance commentary.
const (
	PaceBloody   = "bloody"
	PaceActive   = "active"
	PaceMeasured = "measured"

	BalanceClose     = "close"
	BalanceContested = "contested"
	BalanceOneSided  = "one_sided"
)

// MatchStats are presentation figures derived from a match snapshot.
type MatchStats struct {
	RadiantNetWorth int64      `json:"radiant_net_worth"`
	DireNetWorth    int64      `json:"dire_net_worth"`
	NetWorthDiff    int64      `json:"net_worth_diff"`
	NetWorthLeader  store.Side `json:"net_worth_leader,omitempty"`
	RadiantWeight   float64    `json:"radiant_weight"`
	DireWeight      float64    `json:"dire_weight"`

	DurationMinutes  float64 `json:"duration_minutes"`
	Duration         string  `json:"duration"`
	DurationCategory string  `json:"duration_category"`

	// KillRate is kills per minute; nil before the clock starts.
	KillRate *float64 `json:"kill_rate,omitempty"`
	Pace     string   `json:"pace,omitempty"`

	ScoreDiff int    `json:"score_diff"`
	Balance   string `json:"balance"`
}

// SeriesStats aggregate the games of a series.
type SeriesStats struct {
	GamesPlayed int `json:"games_played"`
	// GamesRemaining is the most games still to be played.
	GamesRemaining   int        `json:"games_remaining"`
	TotalKills       int        `json:"total_kills"`
	AvgDuration      float64    `json:"avg_duration_minutes"`
	AvgKillRate      *float64   `json:"avg_kill_rate,omitempty"`
	Leader           store.Side `json:"leader"`
	LongestMatchID   int64      `json:"longest_match_id,omitempty"`
	BloodiestMatchID int64      `json:"bloodiest_match_id,omitempty"`
}

// NetWorthBySide sums player net worth per side. Players without a usable
// value contribute 0.
func NetWorthBySide(players []store.Player) (radiant, dire int64) {
	for _, p := range players {
		switch p.Side {
		case store.SideRadiant:
			radiant += p.NetWorth.Int64()
		case store.SideDire:
			dire += p.NetWorth.Int64()
		}
	}
	return radiant, dire
}

// NetWorthWeights splits 100% between the sides proportionally to their
// net worth, clamped to [MinNetWorthWeight, MaxNetWorthWeight]. With no
// net worth on either side both get 50.
func NetWorthWeights(radiant, dire int64) (float64, float64) {
	total := radiant + dire
	if total <= 0 {
		return 50, 50
	}
	r := safeDiv(float64(radiant), float64(total)) * 100
	r = math.Max(MinNetWorthWeight, math.Min(MaxNetWorthWeight, r))
	return r, 100 - r
}

// KillRate returns kills per minute, or false when the duration is not
// positive.
func KillRate(totalKills, durationSeconds int) (float64, bool) {
	if durationSeconds <= 0 {
		return 0, false
	}
	return float64(totalKills) / (float64(durationSeconds) / 60), true
}

// DurationCategory buckets a game length: under 30 minutes is short,
// under 45 standard, anything longer long.
func DurationCategory(minutes float64) string {
	switch {
	case minutes < 30:
		return DurationShort
	case minutes < 45:
		return DurationStandard
	default:
		return DurationLong
	}
}

// Pace describes a kill rate.
func Pace(killRate float64) string {
	switch {
	case killRate > 1.3:
		return PaceBloody
	case killRate > 1.0:
		return PaceActive
	default:
		return PaceMeasured
	}
}

// Balance describes the absolute kill score difference.
func Balance(scoreDiff int) string {
	if scoreDiff < 0 {
		scoreDiff = -scoreDiff
	}
	switch {
	case scoreDiff < 5:
		return BalanceClose
	case scoreDiff < 15:
		return BalanceContested
	default:
		return BalanceOneSided
	}
}

// FormatDuration renders seconds as MM:SS. Minutes are not capped at 59.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// ComputeMatchStats derives presentation figures from a match. It never
// fails: missing inputs produce zero values or omitted fields.
func ComputeMatchStats(m store.Match) MatchStats {
	radiant, dire := NetWorthBySide(m.Players)
	rw, dw := NetWorthWeights(radiant, dire)

	stats := MatchStats{
		RadiantNetWorth: radiant,
		DireNetWorth:    dire,
		NetWorthDiff:    radiant - dire,
		RadiantWeight:   rw,
		DireWeight:      dw,
		DurationMinutes: float64(m.DurationSeconds) / 60,
		Duration:        FormatDuration(m.DurationSeconds),
		ScoreDiff:       m.RadiantScore - m.DireScore,
		Balance:         Balance(m.RadiantScore - m.DireScore),
	}
	switch {
	case radiant > dire:
		stats.NetWorthLeader = store.SideRadiant
	case dire > radiant:
		stats.NetWorthLeader = store.SideDire
	}
	stats.DurationCategory = DurationCategory(stats.DurationMinutes)

	if rate, ok := KillRate(m.TotalKills, m.DurationSeconds); ok {
		stats.KillRate = &rate
		stats.Pace = Pace(rate)
	}
	return stats
}

// ComputeSeriesStats aggregates the games of a series that have a clock.
func ComputeSeriesStats(s *store.Series) SeriesStats {
	stats := SeriesStats{Leader: s.Leader()}
	var seconds, longest, bloodiest int
	for _, m := range s.Matches {
		stats.TotalKills += m.TotalKills
		if m.Finished() {
			stats.GamesPlayed++
		}
		if m.DurationSeconds > 0 {
			seconds += m.DurationSeconds
		}
		if m.DurationSeconds > longest {
			longest = m.DurationSeconds
			stats.LongestMatchID = m.MatchID
		}
		if m.TotalKills > bloodiest {
			bloodiest = m.TotalKills
			stats.BloodiestMatchID = m.MatchID
		}
	}
	if !s.Completed {
		needed := s.SeriesType.WinsNeeded()
		stats.GamesRemaining = max(0, needed-s.RadiantScore+needed-s.DireScore-1)
	}
	if n := len(s.Matches); n > 0 {
		stats.AvgDuration = safeDiv(float64(seconds)/60, float64(n))
	}
	if rate, ok := KillRate(stats.TotalKills, seconds); ok {
		stats.AvgKillRate = &rate
	}
	return stats
}

// safeDiv performs division, returning 0 if denominator is 0
func safeDiv(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}
