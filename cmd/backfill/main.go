package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/fortuna/aegis/internal/backfill"
	"github.com/fortuna/aegis/internal/ingest"
	"github.com/fortuna/aegis/internal/ingest/opendota"
	"github.com/fortuna/aegis/internal/ingest/upstream"
	"github.com/fortuna/aegis/internal/logger"
	"github.com/fortuna/aegis/internal/store"
	"github.com/fortuna/aegis/internal/store/repository"
)

const (
	appName    = "aegis-backfill"
	appVersion = "1.0.0"
)

func main() {
	var (
		dsn       = flag.String("dsn", getEnv("AEGIS_ARCHIVE_DSN", ""), "Archive Postgres DSN")
		baseURL   = flag.String("opendota-url", getEnv("AEGIS_OPENDOTA_BASE_URL", "https://api.opendota.com/api"), "Historical provider base URL")
		matches   = flag.String("matches", "", "Comma separated match ids")
		league    = flag.Int64("league", 0, "League id to replay in full")
		dryRun    = flag.Bool("dry-run", false, "Reconcile without writing to the archive")
		rateLimit = flag.Duration("rate-limit", time.Second, "Minimum spacing between historical requests")
		level     = flag.String("log-level", getEnv("AEGIS_LOG_LEVEL", "info"), "Log level")
	)
	flag.Parse()

	log := logger.NewWithWriter(zerolog.ConsoleWriter{Out: os.Stderr}, *level)
	log.Info().Str("version", appVersion).Msg(appName)

	spec, err := buildSpec(*matches, *league)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid arguments")
	}
	spec.DryRun = *dryRun

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var saver backfill.SeriesSaver
	if !*dryRun {
		if *dsn == "" {
			log.Fatal().Msg("--dsn is required unless --dry-run is set")
		}
		db, err := store.NewDatabase(ctx, *dsn, log)
		if err != nil {
			log.Fatal().Err(err).Msg("connect archive")
		}
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}
		saver = repository.NewSeriesRepository(db)
	}

	hist := opendota.New(*baseURL, upstream.New(15*time.Second), *rateLimit)
	source := ingest.NewLiveIngester(nil, hist, nil, nil, log, nil)
	runner := backfill.NewRunner(source, hist, saver, log)

	res, err := runner.Run(ctx, spec, &consoleReporter{log: log, dryRun: *dryRun})
	if err != nil {
		log.Fatal().Err(err).Msg("backfill failed")
	}

	fmt.Printf("matches=%d skipped=%d completed=%d archived=%d incomplete=%s\n",
		res.Matches, res.Skipped, res.Completed, res.Archived, strings.Join(res.Incomplete, ","))
}

func buildSpec(matches string, league int64) (backfill.JobSpec, error) {
	switch {
	case matches != "":
		var ids []int64
		for _, part := range strings.Split(matches, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return backfill.JobSpec{}, fmt.Errorf("invalid match id %q: %w", part, err)
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return backfill.JobSpec{}, fmt.Errorf("--matches has no ids")
		}
		return backfill.JobSpec{Type: backfill.JobTypeMatches, MatchIDs: ids}, nil
	case league != 0:
		return backfill.JobSpec{Type: backfill.JobTypeLeague, LeagueID: league}, nil
	default:
		return backfill.JobSpec{}, fmt.Errorf("specify --matches or --league")
	}
}

type consoleReporter struct {
	log    zerolog.Logger
	dryRun bool
}

func (c *consoleReporter) OnJobStart(spec backfill.JobSpec, total int) {
	c.log.Info().Str("type", string(spec.Type)).Int("matches", total).Bool("dry_run", c.dryRun).Msg("starting job")
}

func (c *consoleReporter) OnMatchProcessed(matchID int64, index, total int) {
	c.log.Info().Int64("match_id", matchID).Msgf("[%d/%d] processed", index+1, total)
}

func (c *consoleReporter) OnMatchSkipped(matchID int64, err error) {
	c.log.Warn().Err(err).Int64("match_id", matchID).Msg("skipped")
}

func (c *consoleReporter) OnSeriesArchived(key string) {
	c.log.Info().Str("series_id", key).Msg("archived")
}

func (c *consoleReporter) OnJobComplete(res backfill.Result) {
	c.log.Info().Int("completed", res.Completed).Int("archived", res.Archived).Msg("job complete")
}

func (c *consoleReporter) OnJobError(err error) {
	c.log.Error().Err(err).Msg("job error")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
