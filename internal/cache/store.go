package cache

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fortuna/aegis/internal/store"
)

var (
	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("series not found")

	// ErrCompleted is returned when a live write targets a completed series.
	ErrCompleted = errors.New("series already completed")
)

// NotFoundError reports a lookup or move that missed.
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("series %s: not found", e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Lifecycle tags a series as live or completed.
type Lifecycle int

const (
	Live Lifecycle = iota
	Completed
)

func (l Lifecycle) String() string {
	if l == Completed {
		return "completed"
	}
	return "live"
}

type entry struct {
	series    *store.Series
	lifecycle Lifecycle
}

// Store is the single authoritative series collection. The live and
// completed views are projections over the lifecycle tag, so a series is
// never visible in both. Writes are expected from one goroutine; reads may
// come from anywhere and always receive deep copies.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	byMatch   map[int64]string
	retention int
}

// Option configures a Store.
type Option func(*Store)

// WithCompletedRetention caps the completed projection. The oldest
// completions are dropped first. Zero keeps everything.
func WithCompletedRetention(n int) Option {
	return func(s *Store) {
		s.retention = n
	}
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		byMatch: make(map[int64]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the series under key from the master index.
func (s *Store) Get(key string) (*store.Series, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return e.series.Clone(), true
}

// Lookup is Get with a NotFoundError for callers that prefer errors.
func (s *Store) Lookup(key string) (*store.Series, error) {
	series, ok := s.Get(key)
	if !ok {
		return nil, &NotFoundError{Key: key}
	}
	return series, nil
}

// LifecycleOf reports which projection currently holds key.
func (s *Store) LifecycleOf(key string) (Lifecycle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok {
		return Live, false
	}
	return e.lifecycle, true
}

// FindByMatch returns the series that contains matchID.
func (s *Store) FindByMatch(matchID int64) (*store.Series, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byMatch[matchID]
	if !ok {
		return nil, false
	}
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return e.series.Clone(), true
}

// UpsertLive writes a series into the live projection.
func (s *Store) UpsertLive(series *store.Series) error {
	if series == nil || series.Key == "" {
		return errors.New("series key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[series.Key]; ok && e.lifecycle == Completed {
		return fmt.Errorf("upsert %s: %w", series.Key, ErrCompleted)
	}
	s.putLocked(series.Clone(), Live)
	return nil
}

// Replace swaps the series under oldKey for series in one step. It is used
// when a provisional series learns its provider id.
func (s *Store) Replace(oldKey string, series *store.Series) error {
	if series == nil || series.Key == "" {
		return errors.New("series key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.entries[oldKey]
	if !ok {
		return &NotFoundError{Key: oldKey}
	}
	if old.lifecycle == Completed {
		return fmt.Errorf("replace %s: %w", oldKey, ErrCompleted)
	}
	if e, ok := s.entries[series.Key]; ok && e.lifecycle == Completed {
		return fmt.Errorf("replace into %s: %w", series.Key, ErrCompleted)
	}
	s.removeLocked(oldKey)
	s.putLocked(series.Clone(), Live)
	return nil
}

// MoveToCompleted flips a live series to completed. completion_time is
// stamped once and kept on every later call.
func (s *Store) MoveToCompleted(key string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.lifecycle != Live {
		return &NotFoundError{Key: key}
	}
	e.lifecycle = Completed
	e.series.Completed = true
	if e.series.CompletionTime == nil {
		t := at
		e.series.CompletionTime = &t
	}
	s.enforceRetentionLocked()
	return nil
}

// RefineCompleted back-fills match details of a completed series. The
// completion flag and time are kept from the stored copy.
func (s *Store) RefineCompleted(series *store.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[series.Key]
	if !ok || e.lifecycle != Completed {
		return &NotFoundError{Key: series.Key}
	}
	next := series.Clone()
	next.Completed = true
	next.CompletionTime = e.series.CompletionTime
	s.putLocked(next, Completed)
	return nil
}

// Remove drops a series from every projection.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return &NotFoundError{Key: key}
	}
	s.removeLocked(key)
	return nil
}

// ListLive returns the live projection ordered by key.
func (s *Store) ListLive() []*store.Series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*store.Series, 0, len(s.entries))
	for _, e := range s.entries {
		if e.lifecycle == Live {
			out = append(out, e.series.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// HasLive reports whether any series is live.
func (s *Store) HasLive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.lifecycle == Live {
			return true
		}
	}
	return false
}

// CompletedFilter narrows ListCompleted.
type CompletedFilter struct {
	LeagueID int64
	Team     string
	Since    time.Time
	Limit    int
}

func (f CompletedFilter) match(series *store.Series) bool {
	if f.LeagueID != 0 && series.LeagueID != f.LeagueID {
		return false
	}
	if f.Team != "" {
		team := strings.ToLower(f.Team)
		if !strings.Contains(strings.ToLower(series.RadiantTeamName), team) &&
			!strings.Contains(strings.ToLower(series.DireTeamName), team) {
			return false
		}
	}
	if !f.Since.IsZero() && series.CompletionTime != nil && series.CompletionTime.Before(f.Since) {
		return false
	}
	return true
}

// ListCompleted returns completed series, most recent completion first.
func (s *Store) ListCompleted(filter CompletedFilter) []*store.Series {
	s.mu.RLock()
	out := make([]*store.Series, 0)
	for _, e := range s.entries {
		if e.lifecycle == Completed && filter.match(e.series) {
			out = append(out, e.series.Clone())
		}
	}
	s.mu.RUnlock()

	sortByRecency(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

// Counts returns the sizes of both projections.
func (s *Store) Counts() (live, completed int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if e.lifecycle == Live {
			live++
		} else {
			completed++
		}
	}
	return live, completed
}

// EvictStale removes live series not updated since cutoff and returns
// their keys.
func (s *Store) EvictStale(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted []string
	for key, e := range s.entries {
		if e.lifecycle == Live && e.series.UpdatedAt.Before(cutoff) {
			evicted = append(evicted, key)
		}
	}
	sort.Strings(evicted)
	for _, key := range evicted {
		s.removeLocked(key)
	}
	return evicted
}

// EvictSettled removes live series that have no open game left and were
// not updated since cutoff.
func (s *Store) EvictSettled(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted []string
	for key, e := range s.entries {
		if e.lifecycle != Live || !e.series.UpdatedAt.Before(cutoff) || len(e.series.Matches) == 0 {
			continue
		}
		open := false
		for _, m := range e.series.Matches {
			if !m.Finished() {
				open = true
				break
			}
		}
		if !open {
			evicted = append(evicted, key)
		}
	}
	sort.Strings(evicted)
	for _, key := range evicted {
		s.removeLocked(key)
	}
	return evicted
}

func (s *Store) putLocked(series *store.Series, lifecycle Lifecycle) {
	if prev, ok := s.entries[series.Key]; ok {
		for i := range prev.series.Matches {
			if s.byMatch[prev.series.Matches[i].MatchID] == series.Key {
				delete(s.byMatch, prev.series.Matches[i].MatchID)
			}
		}
	}
	s.entries[series.Key] = &entry{series: series, lifecycle: lifecycle}
	for i := range series.Matches {
		s.byMatch[series.Matches[i].MatchID] = series.Key
	}
}

func (s *Store) removeLocked(key string) {
	e, ok := s.entries[key]
	if !ok {
		return
	}
	for i := range e.series.Matches {
		if s.byMatch[e.series.Matches[i].MatchID] == key {
			delete(s.byMatch, e.series.Matches[i].MatchID)
		}
	}
	delete(s.entries, key)
}

func (s *Store) enforceRetentionLocked() {
	if s.retention <= 0 {
		return
	}
	var completed []*store.Series
	for _, e := range s.entries {
		if e.lifecycle == Completed {
			completed = append(completed, e.series)
		}
	}
	if len(completed) <= s.retention {
		return
	}
	sortByRecency(completed)
	for _, series := range completed[s.retention:] {
		s.removeLocked(series.Key)
	}
}

func sortByRecency(list []*store.Series) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].CompletionTime, list[j].CompletionTime
		switch {
		case a == nil && b == nil:
			return list[i].Key > list[j].Key
		case a == nil:
			return false
		case b == nil:
			return true
		case a.Equal(*b):
			return list[i].Key > list[j].Key
		default:
			return a.After(*b)
		}
	})
}
