package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/fortuna/aegis/internal/cache"
	"github.com/fortuna/aegis/internal/scheduler"
	"github.com/fortuna/aegis/internal/service"
)

// SeriesQuerier answers the series queries.
type SeriesQuerier interface {
	Live(ctx context.Context) []service.SeriesView
	History(ctx context.Context, filter cache.CompletedFilter) []service.SeriesView
	Series(ctx context.Context, key string) (*service.SeriesView, error)
	SeriesByMatch(ctx context.Context, matchID int64) (*service.SeriesView, error)
}

// PollerStatus reports the poll loop state.
type PollerStatus interface {
	Status() scheduler.Status
}

// Counter reports the sizes of the live and completed projections.
type Counter interface {
	Counts() (live, completed int)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Handler contains dependencies for HTTP handlers
type Handler struct {
	series  SeriesQuerier
	poller  PollerStatus
	counter Counter
	checks  map[string]HealthCheck
	logger  zerolog.Logger
}

// NewHandler creates a new handler. poller, counter and checks may be nil.
func NewHandler(series SeriesQuerier, poller PollerStatus, counter Counter, checks map[string]HealthCheck, logger zerolog.Logger) *Handler {
	return &Handler{
		series:  series,
		poller:  poller,
		counter: counter,
		checks:  checks,
		logger:  logger,
	}
}

// HealthCheck reports process health and each dependency probe. A failed
// probe degrades the status but still answers 200 so the poller keeps
// serving from memory.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]interface{}{
		"status":       status,
		"service":      "aegis",
		"dependencies": deps,
	}
	if h.counter != nil {
		live, completed := h.counter.Counts()
		body["live_series"] = live
		body["completed_series"] = completed
	}
	respondJSON(w, http.StatusOK, body)
}

// GetLiveSeries returns every live series with enriched match views
func (h *Handler) GetLiveSeries(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.series.Live(r.Context()))
}

// GetSeriesHistory returns completed series, most recent first
func (h *Handler) GetSeriesHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := cache.CompletedFilter{Team: strings.TrimSpace(q.Get("team"))}

	if v := q.Get("league_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid league_id", err)
			return
		}
		filter.LeagueID = id
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			respondError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		filter.Limit = min(limit, 500)
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid since, expected RFC3339", err)
			return
		}
		filter.Since = since
	}

	respondJSON(w, http.StatusOK, h.series.History(r.Context(), filter))
}

// GetSeries returns one series, live or completed
func (h *Handler) GetSeries(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["seriesID"]
	view, err := h.series.Series(r.Context(), key)
	if err != nil {
		h.respondLookupError(w, r, "Series not found", err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// GetMatch returns the series view containing the match
func (h *Handler) GetMatch(w http.ResponseWriter, r *http.Request) {
	matchID, err := strconv.ParseInt(mux.Vars(r)["matchID"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid match ID", err)
		return
	}
	view, err := h.series.SeriesByMatch(r.Context(), matchID)
	if err != nil {
		h.respondLookupError(w, r, "Match not found", err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// GetPollerStatus returns the poll loop state
func (h *Handler) GetPollerStatus(w http.ResponseWriter, r *http.Request) {
	if h.poller == nil {
		respondError(w, http.StatusServiceUnavailable, "Poller not running", nil)
		return
	}
	respondJSON(w, http.StatusOK, h.poller.Status())
}

func (h *Handler) respondLookupError(w http.ResponseWriter, r *http.Request, message string, err error) {
	if errors.Is(err, cache.ErrNotFound) {
		respondError(w, http.StatusNotFound, message, err)
		return
	}
	h.logger.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("series lookup failed")
	respondError(w, http.StatusInternalServerError, "Lookup failed", err)
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]interface{}{
		"error":  message,
		"status": status,
	}

	if err != nil {
		response["details"] = err.Error()
	}

	json.NewEncoder(w).Encode(response)
}
