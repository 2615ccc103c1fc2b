package odds

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/fortuna/aegis/internal/metrics"
)

// Lookup resolves a kill threshold by team names.
type Lookup interface {
	KillThreshold(ctx context.Context, radiant, dire string) (float64, bool, error)
}

// Lookup outcomes, as recorded in metrics.
const (
	OutcomeHit      = "cache_hit"
	OutcomeFound    = "found"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

type entry struct {
	value   *float64
	expires time.Time
}

// Session owns the last known threshold per team pair. Answers, including
// "not found", are kept for ttl; failures for a shorter back-off.
type Session struct {
	lookup  Lookup
	ttl     time.Duration
	backoff time.Duration
	timeout time.Duration
	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Manager

	group   singleflight.Group
	mu      sync.Mutex
	entries map[string]entry
}

// NewSession creates a session over lookup.
func NewSession(lookup Lookup, ttl, timeout time.Duration, logger zerolog.Logger, m *metrics.Manager) *Session {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Session{
		lookup:  lookup,
		ttl:     ttl,
		backoff: min(ttl, time.Minute),
		timeout: timeout,
		now:     time.Now,
		logger:  logger.With().Str("component", "odds_session").Logger(),
		metrics: m,
		entries: make(map[string]entry),
	}
}

// Threshold returns the kill line for the pair, or nil when unknown.
// Concurrent callers for the same pair share one lookup.
func (s *Session) Threshold(ctx context.Context, radiant, dire string) *float64 {
	if strings.TrimSpace(radiant) == "" || strings.TrimSpace(dire) == "" {
		return nil
	}
	key := pairKey(radiant, dire)

	if v, ok := s.cached(key); ok {
		s.metrics.RecordOddsLookup(OutcomeHit)
		return v
	}

	res, _, _ := s.group.Do(key, func() (any, error) {
		if v, ok := s.cached(key); ok {
			return v, nil
		}
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		value, found, err := s.lookup.KillThreshold(lctx, radiant, dire)
		switch {
		case err != nil:
			s.metrics.RecordOddsLookup(OutcomeError)
			s.logger.Warn().Err(err).Str("radiant", radiant).Str("dire", dire).Msg("odds lookup failed")
			s.store(key, nil, s.backoff)
			return (*float64)(nil), nil
		case !found:
			s.metrics.RecordOddsLookup(OutcomeNotFound)
			s.store(key, nil, s.ttl)
			return (*float64)(nil), nil
		default:
			s.metrics.RecordOddsLookup(OutcomeFound)
			s.store(key, &value, s.ttl)
			return &value, nil
		}
	})
	v, _ := res.(*float64)
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func (s *Session) cached(key string) (*float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expires) {
		return nil, false
	}
	if e.value == nil {
		return nil, true
	}
	v := *e.value
	return &v, true
}

func (s *Session) store(key string, v *float64, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = entry{value: v, expires: now.Add(ttl)}
}

func pairKey(a, b string) string {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}
