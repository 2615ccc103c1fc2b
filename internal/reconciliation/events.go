package reconciliation

import (
	"fmt"
	"time"

	"github.com/fortuna/aegis/internal/store"
)

// EventType names a series lifecycle change.
type EventType string

const (
	EventSeriesStarted   EventType = "series_started"
	EventMatchUpdated    EventType = "match_updated"
	EventMatchFinished   EventType = "match_finished"
	EventScoreCorrected  EventType = "score_corrected"
	EventSeriesCompleted EventType = "series_completed"
	EventMatchUnresolved EventType = "match_unresolved"
	EventSeriesEvicted   EventType = "series_evicted"
)

// Event is emitted by the tracker after a state change. Series is a
// snapshot taken at emission time and may be nil for evictions.
type Event struct {
	Type      EventType     `json:"type"`
	SeriesKey string        `json:"series_key"`
	MatchID   int64         `json:"match_id,omitempty"`
	Series    *store.Series `json:"series,omitempty"`
	At        time.Time     `json:"at"`
}

// ConflictError records a finished match whose winner changed between
// observations. The latest observation is kept.
type ConflictError struct {
	SeriesKey string
	MatchID   int64
	Previous  store.Side
	Current   store.Side
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("series %s match %d: winner changed from %s to %s",
		e.SeriesKey, e.MatchID, e.Previous, e.Current)
}
