package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/fortuna/aegis/internal/backfill"
)

// BackfillService queues archive backfills and reports on them.
type BackfillService interface {
	Enqueue(ctx context.Context, req backfill.Request) (*backfill.Job, error)
	GetStatus(ctx context.Context) (*backfill.StatusSummary, error)
}

// BackfillHandler exposes archive backfills over HTTP.
type BackfillHandler struct {
	service BackfillService
}

func NewBackfillHandler(service BackfillService) *BackfillHandler {
	return &BackfillHandler{service: service}
}

// backfillRequest accepts a single match_id for convenience next to the
// match_ids list.
type backfillRequest struct {
	LeagueID int64   `json:"league_id"`
	MatchID  int64   `json:"match_id"`
	MatchIDs []int64 `json:"match_ids"`
	DryRun   bool    `json:"dry_run"`
}

func (r backfillRequest) toRequest() backfill.Request {
	ids := append([]int64(nil), r.MatchIDs...)
	if r.MatchID != 0 {
		ids = append(ids, r.MatchID)
	}
	return backfill.Request{LeagueID: r.LeagueID, MatchIDs: ids, DryRun: r.DryRun}
}

type jobView struct {
	JobID           string             `json:"job_id"`
	JobType         backfill.JobType   `json:"job_type"`
	Status          backfill.JobStatus `json:"status"`
	Message         string             `json:"status_message,omitempty"`
	LeagueID        int64              `json:"league_id,omitempty"`
	MatchIDs        []int64            `json:"match_ids,omitempty"`
	DryRun          bool               `json:"dry_run"`
	ProgressCurrent int                `json:"progress_current"`
	ProgressTotal   int                `json:"progress_total"`
	SeriesArchived  int                `json:"series_archived"`
	LastError       string             `json:"last_error,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	CompletedAt     *time.Time         `json:"completed_at,omitempty"`
}

func newJobView(job *backfill.Job) *jobView {
	if job == nil {
		return nil
	}
	v := &jobView{
		JobID:           job.JobID,
		JobType:         job.JobType,
		Status:          job.Status,
		Message:         job.StatusMessage.String,
		LeagueID:        job.LeagueID.Int64,
		MatchIDs:        []int64(job.MatchIDs),
		DryRun:          job.DryRun,
		ProgressCurrent: job.ProgressCurrent,
		ProgressTotal:   job.ProgressTotal,
		SeriesArchived:  job.SeriesArchived,
		LastError:       job.LastError.String,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
	if job.StartedAt.Valid {
		v.StartedAt = &job.StartedAt.Time
	}
	if job.CompletedAt.Valid {
		v.CompletedAt = &job.CompletedAt.Time
	}
	return v
}

type backfillStatus struct {
	Status    string     `json:"status"`
	Message   string     `json:"message"`
	ActiveJob *jobView   `json:"active_job,omitempty"`
	History   []*jobView `json:"history"`
}

func newBackfillStatus(summary *backfill.StatusSummary) backfillStatus {
	out := backfillStatus{
		Status:  "idle",
		Message: "No active jobs",
		History: make([]*jobView, 0, len(summary.History)),
	}
	if active := summary.ActiveJob; active != nil {
		out.Status = string(active.Status)
		if active.StatusMessage.Valid {
			out.Message = active.StatusMessage.String
		}
		out.ActiveJob = newJobView(active)
	}
	for _, job := range summary.History {
		out.History = append(out.History, newJobView(job))
	}
	return out
}

// HandleBackfillRequest handles POST /api/v1/backfill
func (h *BackfillHandler) HandleBackfillRequest(w http.ResponseWriter, r *http.Request) {
	var body backfillRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	job, err := h.service.Enqueue(r.Context(), body.toRequest())
	if err != nil {
		respondError(w, http.StatusBadRequest, "Failed to enqueue backfill job", err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]*jobView{"job": newJobView(job)})
}

// HandleBackfillStatus handles GET /api/v1/backfill/status
func (h *BackfillHandler) HandleBackfillStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GetStatus(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch status", err)
		return
	}
	respondJSON(w, http.StatusOK, newBackfillStatus(summary))
}
