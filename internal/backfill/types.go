package backfill

import (
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// JobType enumerates the supported backfill job variants.
type JobType string

const (
	// JobTypeMatches replays an explicit list of match ids.
	JobTypeMatches JobType = "matches"
	// JobTypeLeague replays every match the historical provider lists
	// for a league.
	JobTypeLeague JobType = "league"
)

// JobStatus represents the lifecycle state for a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Job models the database representation of a backfill job.
type Job struct {
	JobID           string
	JobType         JobType
	LeagueID        sql.NullInt64
	MatchIDs        pq.Int64Array
	DryRun          bool
	Status          JobStatus
	StatusMessage   sql.NullString
	ProgressCurrent int
	ProgressTotal   int
	SeriesArchived  int
	LastError       sql.NullString
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       sql.NullTime
	CompletedAt     sql.NullTime
}

// Spec returns the work the job describes.
func (j *Job) Spec() JobSpec {
	spec := JobSpec{Type: j.JobType, DryRun: j.DryRun}
	if j.LeagueID.Valid {
		spec.LeagueID = j.LeagueID.Int64
	}
	spec.MatchIDs = append(spec.MatchIDs, j.MatchIDs...)
	return spec
}

// JobSpec describes the work to be performed by the runner.
type JobSpec struct {
	Type     JobType
	LeagueID int64
	MatchIDs []int64
	DryRun   bool
}

// Result summarizes one run.
type Result struct {
	Matches   int `json:"matches"`
	Skipped   int `json:"skipped"`
	Completed int `json:"completed_series"`
	Archived  int `json:"archived_series"`
	// Incomplete lists series keys that did not reach a decision.
	Incomplete []string `json:"incomplete_series,omitempty"`
}

// Reporter receives lifecycle callbacks from the runner.
type Reporter interface {
	OnJobStart(spec JobSpec, total int)
	OnMatchProcessed(matchID int64, index, total int)
	OnMatchSkipped(matchID int64, err error)
	OnSeriesArchived(key string)
	OnJobComplete(res Result)
	OnJobError(err error)
}

// StatusSummary is returned to API callers.
type StatusSummary struct {
	ActiveJob *Job   `json:"active_job,omitempty"`
	History   []*Job `json:"recent_jobs,omitempty"`
}
