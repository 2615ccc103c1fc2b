package backfill

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Request represents a backfill invocation request.
type Request struct {
	LeagueID int64
	MatchIDs []int64
	DryRun   bool
}

// DeriveType infers the job type based on populated fields.
func (r Request) DeriveType() (JobType, error) {
	if len(r.MatchIDs) > 0 {
		return JobTypeMatches, nil
	}
	if r.LeagueID != 0 {
		return JobTypeLeague, nil
	}
	return "", errors.New("unable to determine job type: provide match_ids or league_id")
}

// JobStore persists jobs. *Repository satisfies it.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) (*Job, error)
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, message string, lastErr error) error
	UpdateProgress(ctx context.Context, jobID string, current, total, archived int, message string) error
	AppendEvent(ctx context.Context, jobID string, eventType, message string) error
	ResetStuckJobs(ctx context.Context) error
	MarkNextJobRunning(ctx context.Context) (*Job, error)
	GetActiveJob(ctx context.Context) (*Job, error)
	ListRecentJobs(ctx context.Context, limit int) ([]*Job, error)
}

// Service coordinates job persistence, execution, and status reporting.
type Service struct {
	repo   JobStore
	runner *Runner

	historyLimit int
	pollEvery    time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger zerolog.Logger
}

// NewService constructs a Service. Call Start to launch workers.
func NewService(repo JobStore, runner *Runner, logger zerolog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		repo:         repo,
		runner:       runner,
		historyLimit: 10,
		pollEvery:    3 * time.Second,
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger.With().Str("component", "backfill_service").Logger(),
	}
}

// Start launches the background worker loop.
func (s *Service) Start() {
	if err := s.repo.ResetStuckJobs(s.ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to reset jobs")
	}

	s.wg.Add(1)
	go s.worker()
}

// Shutdown stops workers and waits for completion.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Enqueue creates a new job from the provided request.
func (s *Service) Enqueue(ctx context.Context, req Request) (*Job, error) {
	jobType, err := req.DeriveType()
	if err != nil {
		return nil, err
	}

	job := &Job{
		JobType:       jobType,
		DryRun:        req.DryRun,
		Status:        JobStatusQueued,
		StatusMessage: sql.NullString{String: "Queued", Valid: true},
		MatchIDs:      pq.Int64Array{},
	}

	switch jobType {
	case JobTypeMatches:
		ids := slices.Clone(req.MatchIDs)
		slices.Sort(ids)
		job.MatchIDs = pq.Int64Array(slices.Compact(ids))
		job.ProgressTotal = len(job.MatchIDs)
	case JobTypeLeague:
		job.LeagueID = sql.NullInt64{Int64: req.LeagueID, Valid: true}
	}

	stored, err := s.repo.CreateJob(ctx, job)
	if err != nil {
		return nil, err
	}

	_ = s.repo.AppendEvent(ctx, stored.JobID, "queued", "Job queued")
	s.logger.Info().Str("job_id", stored.JobID).Str("job_type", string(jobType)).Msg("backfill job queued")

	return stored, nil
}

// GetStatus returns the currently running job plus recent history.
func (s *Service) GetStatus(ctx context.Context) (*StatusSummary, error) {
	active, err := s.repo.GetActiveJob(ctx)
	if err != nil {
		return nil, err
	}

	history, err := s.repo.ListRecentJobs(ctx, s.historyLimit)
	if err != nil {
		return nil, err
	}

	return &StatusSummary{
		ActiveJob: active,
		History:   history,
	}, nil
}

func (s *Service) worker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		if s.ctx.Err() != nil {
			return
		}
		job, err := s.repo.MarkNextJobRunning(s.ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("claim job error")
		}
		if job == nil {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				continue
			}
		}

		s.executeJob(job)
	}
}

func (s *Service) executeJob(job *Job) {
	reporter := &jobReporter{
		ctx:   s.ctx,
		repo:  s.repo,
		jobID: job.JobID,
		total: job.ProgressTotal,
	}

	res, err := s.runner.Run(s.ctx, job.Spec(), reporter)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("backfill job failed")
		_ = s.repo.UpdateStatus(s.ctx, job.JobID, JobStatusFailed, "Job failed", err)
		return
	}

	msg := fmt.Sprintf("Job completed: %d matches, %d series archived", res.Matches, res.Archived)
	_ = s.repo.UpdateStatus(s.ctx, job.JobID, JobStatusCompleted, msg, nil)
}

type jobReporter struct {
	ctx      context.Context
	repo     JobStore
	jobID    string
	total    int
	archived int
}

func (r *jobReporter) OnJobStart(spec JobSpec, total int) {
	r.total = total
	_ = r.repo.UpdateProgress(r.ctx, r.jobID, 0, r.total, 0, "Job starting")
}

func (r *jobReporter) OnMatchProcessed(matchID int64, index, total int) {
	msg := fmt.Sprintf("Processed match %d (%d/%d)", matchID, index+1, total)
	_ = r.repo.UpdateProgress(r.ctx, r.jobID, index+1, total, r.archived, msg)
}

func (r *jobReporter) OnMatchSkipped(matchID int64, err error) {
	_ = r.repo.AppendEvent(r.ctx, r.jobID, "skipped", fmt.Sprintf("Match %d skipped: %v", matchID, err))
}

func (r *jobReporter) OnSeriesArchived(key string) {
	r.archived++
	_ = r.repo.AppendEvent(r.ctx, r.jobID, "archived", fmt.Sprintf("Series %s archived", key))
}

func (r *jobReporter) OnJobComplete(res Result) {
	_ = r.repo.UpdateProgress(r.ctx, r.jobID, r.total, r.total, res.Archived, "Job complete")
}

func (r *jobReporter) OnJobError(err error) {
	_ = r.repo.AppendEvent(r.ctx, r.jobID, "error", err.Error())
}
