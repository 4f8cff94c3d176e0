package timeseries

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store and StationRegistry. It is safe for
// concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]Measurement
	stations map[SeriesKey]time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Measurement)}
}

// Find returns the records matching filter.
func (s *MemoryStore) Find(ctx context.Context, filter Filter) ([]Measurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Measurement
	for _, m := range s.records {
		if filter.Matches(m) {
			out = append(out, m)
		}
	}
	return out, nil
}

// Insert stores m under a new ID and returns the stored copy.
func (s *MemoryStore) Insert(ctx context.Context, m Measurement) (Measurement, error) {
	if err := ctx.Err(); err != nil {
		return Measurement{}, err
	}

	m.ID = uuid.NewString()
	m.MeasuredAt = m.MeasuredAt.UTC()

	s.mu.Lock()
	s.records[m.ID] = m
	s.mu.Unlock()

	return m, nil
}

// DeleteMany removes the records with the given IDs and reports how many existed.
func (s *MemoryStore) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Series lists the distinct station/location pairs holding records at g.
func (s *MemoryStore) Series(ctx context.Context, g Granularity) ([]SeriesKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[SeriesKey]struct{})
	var keys []SeriesKey
	for _, m := range s.records {
		if m.Granularity != g {
			continue
		}
		k := m.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys, nil
}

// Extent reports the earliest and latest matching records.
func (s *MemoryStore) Extent(ctx context.Context, filter Filter) (Extent, error) {
	if err := ctx.Err(); err != nil {
		return Extent{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var ext Extent
	for _, m := range s.records {
		if !filter.Matches(m) {
			continue
		}
		if ext.Count == 0 || m.MeasuredAt.Before(ext.First) {
			ext.First = m.MeasuredAt
		}
		if ext.Count == 0 || m.MeasuredAt.After(ext.Last) {
			ext.Last = m.MeasuredAt
		}
		ext.Count++
	}
	return ext, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// TouchStation records at as the last activity of key.
func (s *MemoryStore) TouchStation(ctx context.Context, key SeriesKey, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stations == nil {
		s.stations = make(map[SeriesKey]time.Time)
	}
	s.stations[key] = at.UTC()
	return nil
}

// ListStations returns every touched station ordered by ID.
func (s *MemoryStore) ListStations(ctx context.Context) ([]Station, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Station, 0, len(s.stations))
	for k, at := range s.stations {
		out = append(out, Station{StationID: k.StationID, LocationID: k.LocationID, LastActiveAt: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StationID != out[j].StationID {
			return out[i].StationID < out[j].StationID
		}
		return out[i].LocationID < out[j].LocationID
	})
	return out, nil
}
