package cache

import (
	"github.com/fortuna/aegis/internal/store"
)

// Documents is the persisted form of the store: the live and completed
// projections plus the master index, each keyed by series key.
type Documents struct {
	Live      map[string]*store.Series `json:"live"`
	Completed map[string]*store.Series `json:"completed"`
	Master    map[string]*store.Series `json:"master"`
}

// Snapshot captures all three documents under one read lock.
func (s *Store) Snapshot() Documents {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := Documents{
		Live:      make(map[string]*store.Series),
		Completed: make(map[string]*store.Series),
		Master:    make(map[string]*store.Series, len(s.entries)),
	}
	for key, e := range s.entries {
		series := e.series.Clone()
		docs.Master[key] = series
		if e.lifecycle == Completed {
			docs.Completed[key] = series
		} else {
			docs.Live[key] = series
		}
	}
	return docs
}

// Restore replaces the store content with previously persisted documents.
// The completed document and the completed flag both mark a series as
// completed; a key present anywhere lands in the master index. It returns
// the number of series restored.
func (s *Store) Restore(docs Documents) int {
	merged := make(map[string]*store.Series)
	completed := make(map[string]bool)
	for _, doc := range []map[string]*store.Series{docs.Master, docs.Live, docs.Completed} {
		for key, series := range doc {
			if series == nil {
				continue
			}
			if series.Key == "" {
				series.Key = key
			}
			merged[key] = series
			if series.Completed {
				completed[key] = true
			}
		}
	}
	for key := range docs.Completed {
		completed[key] = true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry, len(merged))
	s.byMatch = make(map[int64]string)
	for key, series := range merged {
		lifecycle := Live
		if completed[key] {
			lifecycle = Completed
			series.Completed = true
		}
		s.putLocked(series.Clone(), lifecycle)
	}
	s.enforceRetentionLocked()
	return len(s.entries)
}
