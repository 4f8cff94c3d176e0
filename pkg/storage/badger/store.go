// Package badger implements the measurement store on an embedded BadgerDB.
package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/google/uuid"

	"github.com/team13Uni/wedro/pkg/timeseries"
)

// Key prefixes.
//
//	m | series hash (8) | tier (1) | time (8) | id  -> measurement JSON
//	i | id                                          -> measurement key
//	k | series hash (8)                             -> series key JSON
//	s | station \x00 location                       -> station JSON
const (
	prefixMeasurement byte = 'm'
	prefixID          byte = 'i'
	prefixSeries      byte = 'k'
	prefixStation     byte = 's'
)

const (
	hashLen       = 8
	seriesPrefix  = 1 + hashLen
	tierPrefixLen = seriesPrefix + 1
	timeKeyLen    = tierPrefixLen + 8

	// ctxCheckEvery is how many iterations pass between context checks.
	ctxCheckEvery = 1000
)

// Config holds the BadgerDB configuration.
type Config struct {
	// Path to the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM, for tests.
	InMemory bool

	// MaxMemoryMB caps the memtable and caches. 0 uses 48 MB in total.
	MaxMemoryMB int64
}

// Store is a timeseries.Store and timeseries.StationRegistry on BadgerDB.
type Store struct {
	db *badger.DB
}

// New opens a BadgerDB store.
func New(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path cannot be empty")
	}

	opts := badger.DefaultOptions(cfg.Path).WithLogger(nil)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}

	memTableSize := int64(16 << 20)
	if cfg.MaxMemoryMB > 0 {
		memTableSize = cfg.MaxMemoryMB << 20 / 3
	}

	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(memTableSize).
		WithNumMemtables(3).
		WithBlockCacheSize(memTableSize / 2).
		WithIndexCacheSize(memTableSize / 4).
		WithMaxLevels(4).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC rewrites value log files until a pass reclaims nothing.
func (s *Store) RunGC(discardRatio float64) error {
	for {
		err := s.db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Find returns the records matching filter in time order per series.
func (s *Store) Find(ctx context.Context, filter timeseries.Filter) ([]timeseries.Measurement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []timeseries.Measurement
	err := s.db.View(func(txn *badger.Txn) error {
		hashes, err := seriesHashes(ctx, txn, filter.StationID, filter.LocationID)
		if err != nil {
			return err
		}
		for _, h := range hashes {
			err := scanSeries(ctx, txn, h, filter, true, func(item *badger.Item) error {
				return item.Value(func(val []byte) error {
					var m timeseries.Measurement
					if err := json.Unmarshal(val, &m); err != nil {
						return fmt.Errorf("decode measurement: %w", err)
					}
					// Guards against series hash collisions.
					if filter.Matches(m) {
						out = append(out, m)
					}
					return nil
				})
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	return out, nil
}

// Insert stores m under a new ID.
func (s *Store) Insert(ctx context.Context, m timeseries.Measurement) (timeseries.Measurement, error) {
	if err := ctx.Err(); err != nil {
		return timeseries.Measurement{}, err
	}

	if !m.Granularity.IsStored() {
		return timeseries.Measurement{}, fmt.Errorf("cannot store %s measurements", m.Granularity)
	}

	m.ID = uuid.NewString()
	m.MeasuredAt = m.MeasuredAt.UTC()

	value, err := json.Marshal(m)
	if err != nil {
		return timeseries.Measurement{}, fmt.Errorf("encode measurement: %w", err)
	}
	series, err := json.Marshal(m.Key())
	if err != nil {
		return timeseries.Measurement{}, fmt.Errorf("encode series: %w", err)
	}

	hash := seriesHash(m.StationID, m.LocationID)
	key := measurementKey(hash, m.Granularity, m.MeasuredAt, m.ID)

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, value); err != nil {
			return err
		}
		if err := txn.Set(idKey(m.ID), key); err != nil {
			return err
		}
		return txn.Set(seriesKey(hash), series)
	})
	if err != nil {
		return timeseries.Measurement{}, fmt.Errorf("failed to write measurement: %w", err)
	}
	return m, nil
}

// DeleteMany removes the records with the given IDs. Unknown IDs are skipped.
func (s *Store) DeleteMany(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get(idKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			key, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			keys = append(keys, key, idKey(id))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to resolve measurement ids: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("failed to delete measurements: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("failed to delete measurements: %w", err)
	}
	return int64(len(keys) / 2), nil
}

// Series lists the station/location pairs holding records at tier g.
func (s *Store) Series(ctx context.Context, g timeseries.Granularity) ([]timeseries.SeriesKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []timeseries.SeriesKey
	err := s.db.View(func(txn *badger.Txn) error {
		return iterateSeries(ctx, txn, func(hash uint64, key timeseries.SeriesKey) error {
			prefix := tierPrefix(hash, g)
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = prefix

			it := txn.NewIterator(opts)
			defer it.Close()
			it.Seek(prefix)
			if it.ValidForPrefix(prefix) {
				out = append(out, key)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list series: %w", err)
	}
	return out, nil
}

// Extent reports the earliest and latest records matching filter. It reads
// timestamps from keys only.
func (s *Store) Extent(ctx context.Context, filter timeseries.Filter) (timeseries.Extent, error) {
	var ext timeseries.Extent
	if err := ctx.Err(); err != nil {
		return ext, err
	}

	err := s.db.View(func(txn *badger.Txn) error {
		hashes, err := seriesHashes(ctx, txn, filter.StationID, filter.LocationID)
		if err != nil {
			return err
		}
		for _, h := range hashes {
			err := scanSeries(ctx, txn, h, filter, false, func(item *badger.Item) error {
				t := keyTime(item.Key())
				if ext.Count == 0 || t.Before(ext.First) {
					ext.First = t
				}
				if ext.Count == 0 || t.After(ext.Last) {
					ext.Last = t
				}
				ext.Count++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return timeseries.Extent{}, fmt.Errorf("failed to read extent: %w", err)
	}
	return ext, nil
}

// TouchStation records at as the last activity of key.
func (s *Store) TouchStation(ctx context.Context, key timeseries.SeriesKey, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(timeseries.Station{
		StationID:    key.StationID,
		LocationID:   key.LocationID,
		LastActiveAt: at.UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode station: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stationKey(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to upsert station %s: %w", key.StationID, err)
	}
	return nil
}

// ListStations returns every known station location ordered by ID.
func (s *Store) ListStations(ctx context.Context) ([]timeseries.Station, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []timeseries.Station
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{prefixStation}

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var st timeseries.Station
				if err := json.Unmarshal(val, &st); err != nil {
					return fmt.Errorf("decode station: %w", err)
				}
				out = append(out, st)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list stations: %w", err)
	}

	// Key order already sorts by station then location; keep it explicit.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StationID != out[j].StationID {
			return out[i].StationID < out[j].StationID
		}
		return out[i].LocationID < out[j].LocationID
	})
	return out, nil
}

// seriesHashes resolves the series hashes a filter can touch. A fully
// specified series needs no lookup.
func seriesHashes(ctx context.Context, txn *badger.Txn, stationID, locationID string) ([]uint64, error) {
	if stationID != "" && locationID != "" {
		return []uint64{seriesHash(stationID, locationID)}, nil
	}

	var hashes []uint64
	err := iterateSeries(ctx, txn, func(hash uint64, key timeseries.SeriesKey) error {
		if stationID != "" && key.StationID != stationID {
			return nil
		}
		if locationID != "" && key.LocationID != locationID {
			return nil
		}
		hashes = append(hashes, hash)
		return nil
	})
	return hashes, err
}

func iterateSeries(ctx context.Context, txn *badger.Txn, fn func(hash uint64, key timeseries.SeriesKey) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte{prefixSeries}

	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		if n++; n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		item := it.Item()
		hash := binary.BigEndian.Uint64(item.Key()[1:seriesPrefix])
		var key timeseries.SeriesKey
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &key) }); err != nil {
			return fmt.Errorf("decode series: %w", err)
		}
		if err := fn(hash, key); err != nil {
			return err
		}
	}
	return nil
}

// scanSeries visits the keys of one series and tier inside the filter range.
func scanSeries(ctx context.Context, txn *badger.Txn, hash uint64, filter timeseries.Filter, values bool, fn func(*badger.Item) error) error {
	prefix := tierPrefix(hash, filter.Granularity)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = values
	opts.PrefetchSize = 100
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	start := prefix
	var until []byte
	if filter.Range != nil {
		if !filter.Range.From.IsZero() {
			start = timeKey(hash, filter.Granularity, filter.Range.From)
		}
		if !filter.Range.To.IsZero() {
			until = timeKey(hash, filter.Granularity, filter.Range.To)
		}
	}

	n := 0
	for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
		if n++; n%ctxCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		item := it.Item()
		if until != nil && bytes.Compare(item.Key()[:timeKeyLen], until) > 0 {
			break
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

func seriesHash(stationID, locationID string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(stationID)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(locationID)
	return d.Sum64()
}

func seriesKey(hash uint64) []byte {
	key := make([]byte, seriesPrefix)
	key[0] = prefixSeries
	binary.BigEndian.PutUint64(key[1:], hash)
	return key
}

func tierPrefix(hash uint64, g timeseries.Granularity) []byte {
	key := make([]byte, tierPrefixLen, timeKeyLen)
	key[0] = prefixMeasurement
	binary.BigEndian.PutUint64(key[1:seriesPrefix], hash)
	key[seriesPrefix] = byte(g)
	return key
}

func timeKey(hash uint64, g timeseries.Granularity, t time.Time) []byte {
	key := tierPrefix(hash, g)
	return binary.BigEndian.AppendUint64(key, encodeTime(t))
}

func measurementKey(hash uint64, g timeseries.Granularity, t time.Time, id string) []byte {
	return append(timeKey(hash, g, t), id...)
}

func idKey(id string) []byte {
	return append([]byte{prefixID}, id...)
}

func stationKey(key timeseries.SeriesKey) []byte {
	out := make([]byte, 0, 2+len(key.StationID)+len(key.LocationID))
	out = append(out, prefixStation)
	out = append(out, key.StationID...)
	out = append(out, 0)
	return append(out, key.LocationID...)
}

// encodeTime flips the sign bit so pre-1970 times still sort first.
func encodeTime(t time.Time) uint64 {
	return uint64(t.UnixNano()) ^ (1 << 63)
}

func keyTime(key []byte) time.Time {
	n := binary.BigEndian.Uint64(key[tierPrefixLen:timeKeyLen]) ^ (1 << 63)
	return time.Unix(0, int64(n)).UTC()
}

var (
	_ timeseries.Store           = (*Store)(nil)
	_ timeseries.StationRegistry = (*Store)(nil)
)
