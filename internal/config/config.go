// Package config defines process configuration and its loading.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// RESTAddr and WSAddr are the listen addresses of the query API and
	// the push feed.
	RESTAddr string `koanf:"rest_addr"`
	WSAddr   string `koanf:"ws_addr"`

	SteamAPIKey     string `koanf:"steam_api_key"`
	SteamBaseURL    string `koanf:"steam_base_url"`
	OpenDotaBaseURL string `koanf:"opendota_base_url"`

	// LeagueIDs are polled on the live provider each cycle. LeagueNames
	// labels them; keys are league ids as strings.
	LeagueIDs   []int64           `koanf:"league_ids"`
	LeagueNames map[string]string `koanf:"league_names"`

	RequestTimeout time.Duration `koanf:"request_timeout"`

	ActiveIntervalMin time.Duration `koanf:"active_interval_min"`
	ActiveIntervalMax time.Duration `koanf:"active_interval_max"`
	IdleInterval      time.Duration `koanf:"idle_interval"`

	FetchRetries int           `koanf:"fetch_retries"`
	RetryDelay   time.Duration `koanf:"retry_delay"`

	UnknownWinnerTimeout      time.Duration `koanf:"unknown_winner_timeout"`
	StaleLiveTTL              time.Duration `koanf:"stale_live_ttl"`
	SettledLiveTTL            time.Duration `koanf:"settled_live_ttl"`
	CompletedRetention        int           `koanf:"completed_retention"`
	HistoricalLookupsPerCycle int           `koanf:"historical_lookups_per_cycle"`
	HistoricalRateLimit       time.Duration `koanf:"historical_rate_limit"`

	// RedisURL enables cache persistence and event streams when set.
	RedisURL         string        `koanf:"redis_url"`
	SnapshotInterval time.Duration `koanf:"redis_snapshot_interval"`
	EventStream      string        `koanf:"event_stream"`

	// ArchiveDSN enables the Postgres archive of completed series.
	ArchiveDSN string `koanf:"archive_dsn"`

	OddsMirrors        []string      `koanf:"odds_mirrors"`
	OddsCacheTTL       time.Duration `koanf:"odds_cache_ttl"`
	OddsTimeout        time.Duration `koanf:"odds_timeout"`
	OddsRenderFallback bool          `koanf:"odds_render_fallback"`

	// WatchPair names the two teams whose meeting is flagged as special.
	WatchPair []string `koanf:"watch_pair"`

	LowKillWindowStart time.Duration `koanf:"low_kill_window_start"`
	LowKillWindowEnd   time.Duration `koanf:"low_kill_window_end"`
	LowKillThreshold   int           `koanf:"low_kill_threshold"`

	TelegramToken  string `koanf:"telegram_token"`
	TelegramChatID int64  `koanf:"telegram_chat_id"`
}

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:        "info",
		RESTAddr:        ":8080",
		WSAddr:          ":8081",
		SteamBaseURL:    "https://api.steampowered.com",
		OpenDotaBaseURL: "https://api.opendota.com/api",
		LeagueIDs:       []int64{17911, 17211},
		LeagueNames: map[string]string{
			"17911": "Mad Dogs League",
			"17211": "Space League",
		},
		RequestTimeout:            10 * time.Second,
		ActiveIntervalMin:         8 * time.Second,
		ActiveIntervalMax:         11 * time.Second,
		IdleInterval:              300 * time.Second,
		FetchRetries:              2,
		RetryDelay:                2 * time.Second,
		UnknownWinnerTimeout:      15 * time.Minute,
		StaleLiveTTL:              6 * time.Hour,
		SettledLiveTTL:            90 * time.Minute,
		CompletedRetention:        500,
		HistoricalLookupsPerCycle: 5,
		HistoricalRateLimit:       time.Second,
		SnapshotInterval:          30 * time.Second,
		EventStream:               "series.events.dota2",
		OddsMirrors: []string{
			"https://1xbet.sg/en/live/esports/2431462-dota-2-mad-dogs-league",
			"https://1xsinga.com/en/live/esports/2431462-dota-2-mad-dogs-league",
			"https://1xbet.com/en/live/esports/2431462-dota-2-mad-dogs-league",
		},
		OddsCacheTTL:       5 * time.Minute,
		OddsTimeout:        10 * time.Second,
		LowKillWindowStart: 600 * time.Second,
		LowKillWindowEnd:   660 * time.Second,
		LowKillThreshold:   10,
	}
}

// Validate checks the invariants the rest of the process relies on.
func (c *Config) Validate() error {
	switch {
	case c.SteamAPIKey == "":
		return fmt.Errorf("%w: steam_api_key is required", ErrInvalidConfig)
	case len(c.LeagueIDs) == 0:
		return fmt.Errorf("%w: league_ids must not be empty", ErrInvalidConfig)
	case c.RESTAddr == "":
		return fmt.Errorf("%w: rest_addr must not be empty", ErrInvalidConfig)
	case c.ActiveIntervalMin <= 0 || c.ActiveIntervalMax < c.ActiveIntervalMin:
		return fmt.Errorf("%w: active interval range %s..%s", ErrInvalidConfig, c.ActiveIntervalMin, c.ActiveIntervalMax)
	case c.IdleInterval <= 0:
		return fmt.Errorf("%w: idle_interval must be positive", ErrInvalidConfig)
	case c.RequestTimeout <= 0:
		return fmt.Errorf("%w: request_timeout must be positive", ErrInvalidConfig)
	case c.FetchRetries < 1:
		return fmt.Errorf("%w: fetch_retries must be at least 1", ErrInvalidConfig)
	case c.LowKillWindowEnd < c.LowKillWindowStart:
		return fmt.Errorf("%w: low kill window %s..%s", ErrInvalidConfig, c.LowKillWindowStart, c.LowKillWindowEnd)
	case len(c.WatchPair) != 0 && len(c.WatchPair) != 2:
		return fmt.Errorf("%w: watch_pair needs exactly two teams", ErrInvalidConfig)
	}
	return nil
}

// LeagueName returns the configured label for a league.
func (c *Config) LeagueName(id int64) string {
	if name, ok := c.LeagueNames[strconv.FormatInt(id, 10)]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("League %d", id)
}
