package catalog

import (
	"time"

	"invoicematch/internal/model"
)

// Snapshot is an immutable point-in-time copy of the catalog. It must not be
// modified after it is published, so readers need no locking.
type Snapshot struct {
	Entries []model.CatalogEntry
	// Normalized holds the preprocessed description of Entries[i], or is nil
	// when the cache has no preprocessor.
	Normalized []string
	LoadedAt   time.Time
	Generation uint64

	byKey            map[string]int
	invalidationSeen uint64
}

func newSnapshot(entries []model.CatalogEntry, preprocess func(string) string, loadedAt time.Time, generation, invalidations uint64) *Snapshot {
	s := &Snapshot{
		Entries:          entries,
		LoadedAt:         loadedAt,
		Generation:       generation,
		byKey:            make(map[string]int, len(entries)),
		invalidationSeen: invalidations,
	}
	if preprocess != nil {
		s.Normalized = make([]string, len(entries))
	}
	for i, e := range entries {
		s.byKey[e.Key] = i
		if preprocess != nil {
			s.Normalized[i] = preprocess(e.Description)
		}
	}
	return s
}

// NewSnapshot builds a standalone snapshot, mainly for callers that rank
// against a fixed entry list.
func NewSnapshot(entries []model.CatalogEntry, preprocess func(string) string) *Snapshot {
	return newSnapshot(filterEntries(entries), preprocess, time.Now(), 1, 0)
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}

// Lookup returns the entry with key.
func (s *Snapshot) Lookup(key string) (model.CatalogEntry, bool) {
	if s == nil {
		return model.CatalogEntry{}, false
	}
	i, ok := s.byKey[key]
	if !ok {
		return model.CatalogEntry{}, false
	}
	return s.Entries[i], true
}
