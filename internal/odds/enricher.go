package odds

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/fortuna/aegis/internal/store"
)

// AlertConfig configures the presentation alerts.
type AlertConfig struct {
	// WindowStart and WindowEnd bound the game clock, inclusive. A game
	// inside it with fewer than LowKillMax total kills raises the alert.
	WindowStart time.Duration
	WindowEnd   time.Duration
	LowKillMax  int
	// WatchPair holds two team names or ids whose meeting is flagged.
	WatchPair []string
}

// DefaultAlertConfig returns the 10:00-11:00, fewer than 10 kills window.
func DefaultAlertConfig() AlertConfig {
	return AlertConfig{
		WindowStart: 600 * time.Second,
		WindowEnd:   660 * time.Second,
		LowKillMax:  10,
	}
}

// Alerts are the flags shown next to a live match.
type Alerts struct {
	LowKill      bool `json:"low_kill_alert"`
	SpecialMatch bool `json:"special_match"`
}

// Annotation is everything the enricher attaches to a match view.
type Annotation struct {
	KillThreshold *float64 `json:"kill_threshold"`
	Alerts
}

// EvaluateAlerts computes the alert flags of a match.
func EvaluateAlerts(m store.Match, cfg AlertConfig) Alerts {
	d := time.Duration(m.DurationSeconds) * time.Second
	return Alerts{
		LowKill:      !m.Finished() && d >= cfg.WindowStart && d <= cfg.WindowEnd && m.TotalKills < cfg.LowKillMax,
		SpecialMatch: isWatchPair(m.Radiant, m.Dire, cfg.WatchPair),
	}
}

func isWatchPair(radiant, dire store.Team, pair []string) bool {
	if len(pair) != 2 {
		return false
	}
	return (refersTo(pair[0], radiant) && refersTo(pair[1], dire)) ||
		(refersTo(pair[0], dire) && refersTo(pair[1], radiant))
}

func refersTo(ref string, t store.Team) bool {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return false
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil && t.TeamID != nil {
		return *t.TeamID == id
	}
	return strings.EqualFold(ref, t.Name)
}

// Enricher annotates match views at read time. It never writes to the
// store.
type Enricher struct {
	session *Session
	cfg     AlertConfig
}

// NewEnricher creates an enricher. session may be nil, in which case no
// thresholds are looked up.
func NewEnricher(session *Session, cfg AlertConfig) *Enricher {
	return &Enricher{session: session, cfg: cfg}
}

// Config returns the alert configuration.
func (e *Enricher) Config() AlertConfig {
	return e.cfg
}

// Annotate evaluates alerts and, for unfinished games between two named
// teams, the kill threshold.
func (e *Enricher) Annotate(ctx context.Context, m store.Match) Annotation {
	a := Annotation{Alerts: EvaluateAlerts(m, e.cfg)}
	if e.session == nil || m.Finished() {
		return a
	}
	if store.IsFallbackName(m.Radiant.Name) || store.IsFallbackName(m.Dire.Name) {
		return a
	}
	a.KillThreshold = e.session.Threshold(ctx, m.Radiant.Name, m.Dire.Name)
	return a
}
