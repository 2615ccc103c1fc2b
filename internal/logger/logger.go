package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"go.uber.org/fx"

	"github.com/fortuna/aegis/internal/config"
)

// New builds the root logger at the configured level.
func New(cfg *config.Config) zerolog.Logger {
	return NewWithWriter(os.Stdout, cfg.LogLevel)
}

// NewWithWriter builds a logger writing to w. Unknown levels fall back
// to info.
func NewWithWriter(w io.Writer, level string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).
		With().
		Timestamp().
		Caller().
		Logger().
		Level(lvl)
}

// Component derives a sub-logger tagged with a component name.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

var Module = fx.Provide(New)
