package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/fortuna/aegis/internal/cache"
	"github.com/fortuna/aegis/internal/metrics"
)

// Snapshotter produces the persisted cache documents.
type Snapshotter interface {
	Snapshot() cache.Documents
}

// DocumentSaver writes cache documents somewhere durable.
type DocumentSaver interface {
	Save(ctx context.Context, docs cache.Documents) error
}

// Jobs runs periodic maintenance next to the poller.
type Jobs struct {
	s        gocron.Scheduler
	source   Snapshotter
	saver    DocumentSaver
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
	metrics  *metrics.Manager
}

// NewJobs creates the job scheduler. saver may be nil, in which case no
// job is registered.
func NewJobs(source Snapshotter, saver DocumentSaver, interval time.Duration, logger zerolog.Logger, m *metrics.Manager) (*Jobs, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Jobs{
		s:        s,
		source:   source,
		saver:    saver,
		interval: interval,
		timeout:  10 * time.Second,
		logger:   logger.With().Str("component", "jobs").Logger(),
		metrics:  m,
	}, nil
}

// Start registers the snapshot job and starts the scheduler.
func (j *Jobs) Start() error {
	if j.saver != nil {
		_, err := j.s.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(j.snapshotTask),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to create snapshot job: %w", err)
		}
	}
	j.s.Start()
	j.logger.Info().Dur("snapshot_interval", j.interval).Bool("persistence", j.saver != nil).Msg("jobs started")
	return nil
}

// Stop shuts the scheduler down and writes one final snapshot.
func (j *Jobs) Stop(ctx context.Context) error {
	if err := j.s.Shutdown(); err != nil {
		j.logger.Error().Err(err).Msg("scheduler shutdown failed")
	}
	if j.saver == nil {
		return nil
	}
	return j.SnapshotNow(ctx)
}

// SnapshotNow persists the current cache documents.
func (j *Jobs) SnapshotNow(ctx context.Context) error {
	start := time.Now()
	docs := j.source.Snapshot()
	if err := j.saver.Save(ctx, docs); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	j.metrics.ObserveSnapshot(time.Since(start))
	j.logger.Debug().
		Int("live", len(docs.Live)).
		Int("completed", len(docs.Completed)).
		Dur("took", time.Since(start)).
		Msg("snapshot saved")
	return nil
}

func (j *Jobs) snapshotTask() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	if err := j.SnapshotNow(ctx); err != nil {
		j.logger.Error().Err(err).Msg("snapshot job failed")
	}
}
