// Package app composes the aegis process with fx.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/fortuna/aegis/internal/api/rest"
	"github.com/fortuna/aegis/internal/api/websocket"
	"github.com/fortuna/aegis/internal/backfill"
	"github.com/fortuna/aegis/internal/cache"
	"github.com/fortuna/aegis/internal/config"
	"github.com/fortuna/aegis/internal/ingest"
	"github.com/fortuna/aegis/internal/ingest/opendota"
	"github.com/fortuna/aegis/internal/ingest/steam"
	"github.com/fortuna/aegis/internal/ingest/upstream"
	"github.com/fortuna/aegis/internal/logger"
	"github.com/fortuna/aegis/internal/metrics"
	"github.com/fortuna/aegis/internal/notify"
	"github.com/fortuna/aegis/internal/odds"
	"github.com/fortuna/aegis/internal/publisher"
	"github.com/fortuna/aegis/internal/reconciliation"
	"github.com/fortuna/aegis/internal/scheduler"
	"github.com/fortuna/aegis/internal/service"
	"github.com/fortuna/aegis/internal/store"
	"github.com/fortuna/aegis/internal/store/repository"
)

const shutdownTimeout = 15 * time.Second

// Module provides every component of the service and registers their
// lifecycle hooks.
var Module = fx.Options(
	config.Module,
	logger.Module,
	fx.Provide(provideMetrics),
	// upstream clients
	fx.Provide(provideUpstream),
	fx.Provide(provideSteam),
	fx.Provide(provideOpenDota),
	fx.Provide(provideIngester),
	// state
	fx.Provide(provideStore),
	fx.Provide(providePersister),
	fx.Provide(provideTracker),
	// archive
	fx.Provide(provideDatabase),
	fx.Provide(provideArchive),
	// read side
	fx.Provide(provideEnricher),
	fx.Provide(provideSeriesService),
	// fanout
	fx.Provide(provideWebsocket),
	fx.Provide(provideDispatcher),
	// loop
	fx.Provide(providePoller),
	fx.Provide(provideJobs),
	fx.Provide(provideBackfill),
	fx.Provide(provideREST),
	fx.Invoke(register),
)

func provideMetrics() *metrics.Manager {
	return metrics.NewManager()
}

func provideUpstream(cfg *config.Config) *upstream.Client {
	return upstream.New(cfg.RequestTimeout)
}

func provideSteam(cfg *config.Config, http *upstream.Client) *steam.Client {
	return steam.New(cfg.SteamBaseURL, cfg.SteamAPIKey, http)
}

func provideOpenDota(cfg *config.Config, http *upstream.Client) *opendota.Client {
	return opendota.New(cfg.OpenDotaBaseURL, http, cfg.HistoricalRateLimit)
}

func provideIngester(cfg *config.Config, live *steam.Client, hist *opendota.Client, log zerolog.Logger, m *metrics.Manager) *ingest.LiveIngester {
	return ingest.NewLiveIngester(live, hist, cfg.LeagueIDs, cfg.LeagueName, log, m)
}

func provideStore(cfg *config.Config) *cache.Store {
	return cache.NewStore(cache.WithCompletedRetention(cfg.CompletedRetention))
}

// providePersister returns nil when no Redis is configured.
func providePersister(lc fx.Lifecycle, cfg *config.Config) (*cache.RedisPersister, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	p, err := cache.NewRedisPersister(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	lc.Append(fx.StopHook(p.Close))
	return p, nil
}

func provideTracker(cfg *config.Config, st *cache.Store, log zerolog.Logger, m *metrics.Manager) *reconciliation.Tracker {
	return reconciliation.NewTracker(st, log, reconciliation.Options{
		UnresolvedTimeout: cfg.UnknownWinnerTimeout,
		StaleTTL:          cfg.StaleLiveTTL,
		SettledTTL:        cfg.SettledLiveTTL,
		Metrics:           m,
	})
}

// provideDatabase returns nil when no archive is configured.
func provideDatabase(lc fx.Lifecycle, cfg *config.Config, log zerolog.Logger) (*store.Database, error) {
	if cfg.ArchiveDSN == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := store.NewDatabase(ctx, cfg.ArchiveDSN, log)
	if err != nil {
		return nil, fmt.Errorf("archive database: %w", err)
	}
	if err := db.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("archive migrations: %w", err)
	}
	lc.Append(fx.StopHook(db.Close))
	return db, nil
}

func provideArchive(db *store.Database) *repository.SeriesRepository {
	if db == nil {
		return nil
	}
	return repository.NewSeriesRepository(db)
}

func provideEnricher(lc fx.Lifecycle, cfg *config.Config, http *upstream.Client, log zerolog.Logger, m *metrics.Manager) *odds.Enricher {
	var renderer odds.PageRenderer
	if cfg.OddsRenderFallback {
		r := odds.NewRenderer(cfg.OddsTimeout)
		lc.Append(fx.StopHook(r.Close))
		renderer = r
	}
	scraper := odds.NewScraper(cfg.OddsMirrors, http, renderer, log)
	session := odds.NewSession(scraper, cfg.OddsCacheTTL, cfg.OddsTimeout, log, m)
	return odds.NewEnricher(session, odds.AlertConfig{
		WindowStart: cfg.LowKillWindowStart,
		WindowEnd:   cfg.LowKillWindowEnd,
		LowKillMax:  cfg.LowKillThreshold,
		WatchPair:   cfg.WatchPair,
	})
}

func provideSeriesService(st *cache.Store, archive *repository.SeriesRepository, enricher *odds.Enricher, log zerolog.Logger) *service.SeriesService {
	var arch service.Archive
	if archive != nil {
		arch = archive
	}
	return service.NewSeriesService(st, arch, enricher, log)
}

func provideWebsocket(cfg *config.Config, series *service.SeriesService, log zerolog.Logger) *websocket.Server {
	if cfg.WSAddr == "" {
		return nil
	}
	return websocket.NewServer(cfg.WSAddr, series, log)
}

func provideDispatcher(
	cfg *config.Config,
	persister *cache.RedisPersister,
	ws *websocket.Server,
	archive *repository.SeriesRepository,
	enricher *odds.Enricher,
	log zerolog.Logger,
	m *metrics.Manager,
) (*publisher.Dispatcher, error) {
	var handlers []publisher.Handler
	if persister != nil {
		handlers = append(handlers, publisher.NewRedisStreamPublisher(persister.Client(), cfg.EventStream))
	}
	if ws != nil {
		handlers = append(handlers, ws)
	}
	if archive != nil {
		handlers = append(handlers, publisher.NewArchiveHandler(archive))
	}
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, enricher, log)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		handlers = append(handlers, tg)
	}
	return publisher.NewDispatcher(log, m, handlers), nil
}

func providePoller(cfg *config.Config, src *ingest.LiveIngester, tracker *reconciliation.Tracker, st *cache.Store, d *publisher.Dispatcher, log zerolog.Logger, m *metrics.Manager) *scheduler.Poller {
	return scheduler.NewPoller(src, tracker, st, scheduler.Config{
		ActiveMin:         cfg.ActiveIntervalMin,
		ActiveMax:         cfg.ActiveIntervalMax,
		Idle:              cfg.IdleInterval,
		Attempts:          cfg.FetchRetries,
		RetryDelay:        cfg.RetryDelay,
		HistoricalLookups: cfg.HistoricalLookupsPerCycle,
	}, log, m, scheduler.WithSink(d))
}

func provideJobs(cfg *config.Config, st *cache.Store, persister *cache.RedisPersister, log zerolog.Logger, m *metrics.Manager) (*scheduler.Jobs, error) {
	var saver scheduler.DocumentSaver
	if persister != nil {
		saver = persister
	}
	return scheduler.NewJobs(st, saver, cfg.SnapshotInterval, log, m)
}

// provideBackfill returns nil when no archive is configured.
func provideBackfill(db *store.Database, archive *repository.SeriesRepository, src *ingest.LiveIngester, hist *opendota.Client, log zerolog.Logger) *backfill.Service {
	if db == nil {
		return nil
	}
	runner := backfill.NewRunner(src, hist, archive, log)
	return backfill.NewService(backfill.NewRepository(db), runner, log)
}

func provideREST(
	cfg *config.Config,
	series *service.SeriesService,
	poller *scheduler.Poller,
	st *cache.Store,
	persister *cache.RedisPersister,
	db *store.Database,
	bf *backfill.Service,
	log zerolog.Logger,
	m *metrics.Manager,
) *rest.Server {
	checks := map[string]rest.HealthCheck{}
	if persister != nil {
		checks["redis"] = persister.HealthCheck
	}
	if db != nil {
		checks["archive"] = db.HealthCheck
	}
	var bfHandler *rest.BackfillHandler
	if bf != nil {
		bfHandler = rest.NewBackfillHandler(bf)
	}
	handler := rest.NewHandler(series, poller, st, checks, log)
	return rest.NewServer(cfg.RESTAddr, handler, bfHandler, m, log)
}

type components struct {
	fx.In

	Log        zerolog.Logger
	Store      *cache.Store
	Persister  *cache.RedisPersister
	Dispatcher *publisher.Dispatcher
	Poller     *scheduler.Poller
	Jobs       *scheduler.Jobs
	REST       *rest.Server
	WS         *websocket.Server
	Backfill   *backfill.Service
}

// register appends hooks in start order. fx stops them in reverse, so the
// poller halts before the final snapshot and the dispatcher drains last.
func register(lc fx.Lifecycle, c components) {
	log := c.Log.With().Str("component", "app").Logger()

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c.Dispatcher.Start()
			return nil
		},
		OnStop: c.Dispatcher.Stop,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if c.Persister != nil {
				docs, err := c.Persister.Load(ctx)
				if err != nil {
					log.Warn().Err(err).Msg("cache restore failed; starting empty")
				} else {
					n := c.Store.Restore(docs)
					live, completed := c.Store.Counts()
					log.Info().Int("series", n).Int("live", live).Int("completed", completed).Msg("cache restored")
				}
			}
			return c.Jobs.Start()
		},
		OnStop: c.Jobs.Stop,
	})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c.Poller.Start()
			return nil
		},
		OnStop: c.Poller.Stop,
	})

	if c.Backfill != nil {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				c.Backfill.Start()
				return nil
			},
			OnStop: c.Backfill.Shutdown,
		})
	}

	if c.WS != nil {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error { return c.WS.Start() },
			OnStop:  shutdown(c.WS.Shutdown),
		})
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return c.REST.Start() },
		OnStop:  shutdown(c.REST.Shutdown),
	})
}

// shutdown bounds a server shutdown independently of the fx stop context.
func shutdown(fn func(context.Context) error) func(context.Context) error {
	return func(context.Context) error {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return fn(ctx)
	}
}
