package series

import (
	"sort"
	"sync"
	"time"

	"github.com/serversentry/agent/internal/stats"
)

// Persister is the store's durability collaborator. Implementations must
// never cause Append to fail: I/O errors are reported via ErrFunc and
// otherwise swallowed (spec §4.2 "Failure semantics").
type Persister interface {
	// AppendRecord appends one reading to the SeriesKey's backing file.
	AppendRecord(key SeriesKey, r MetricReading) error
	// Load returns up to maxPoints most recent readings previously
	// persisted for key (used at startup).
	Load(key SeriesKey, maxPoints int) ([]MetricReading, error)
	// Archive writes readings as a new archive segment named
	// "<plugin>_<metric>.<UTC-timestamp>".
	Archive(key SeriesKey, readings []MetricReading, at time.Time) error
	// Cleanup deletes raw files older than rawDays and archive segments
	// older than archiveDays (by mtime). Idempotent.
	Cleanup(rawDays, archiveDays int) error
	// ExportKeys lists every SeriesKey known to the persistence layer
	// (used to rehydrate the Store at startup).
	ExportKeys() ([]SeriesKey, error)
}

// ErrHandler receives persistence errors for logging; never fails Append.
type ErrHandler func(key SeriesKey, op string, err error)

// Store is the time-series store: a read-mostly map of SeriesKey to Series,
// guarded by a read-write lock, each Series independently mutex-guarded.
type Store struct {
	mu        sync.RWMutex
	series    map[SeriesKey]*Series
	maxPoints int
	persist   Persister
	onErr     ErrHandler
}

// New creates a Store. persist may be nil (in-memory only, no durability).
func New(maxPoints int, persist Persister, onErr ErrHandler) *Store {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	if onErr == nil {
		onErr = func(SeriesKey, string, error) {}
	}
	return &Store{
		series:    make(map[SeriesKey]*Series),
		maxPoints: maxPoints,
		persist:   persist,
		onErr:     onErr,
	}
}

// LoadFromDisk rehydrates every series known to the persistence layer with
// up to maxPoints most recent readings (process-restart recovery).
func (st *Store) LoadFromDisk() error {
	if st.persist == nil {
		return nil
	}
	keys, err := st.persist.ExportKeys()
	if err != nil {
		return err
	}
	for _, key := range keys {
		readings, err := st.persist.Load(key, st.maxPoints)
		if err != nil {
			st.onErr(key, "load", err)
			continue
		}
		s := st.getOrCreate(key)
		s.buf = append(s.buf[:0], readings...)
		if n := len(readings); n > 0 {
			s.lastTS = readings[n-1].Timestamp
			s.hasData = true
		}
	}
	return nil
}

func (st *Store) getOrCreate(key SeriesKey) *Series {
	st.mu.RLock()
	s, ok := st.series[key]
	st.mu.RUnlock()
	if ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok = st.series[key]; ok {
		return s
	}
	s = newSeries(key, st.maxPoints)
	st.series[key] = s
	return s
}

func (st *Store) lookup(key SeriesKey) (*Series, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.series[key]
	return s, ok
}

// Append validates and appends a reading, rotating and persisting as
// needed. Persistence errors are reported via onErr and never fail Append
// (the in-memory view is authoritative during the process lifetime).
func (st *Store) Append(r MetricReading) error {
	key := r.Key()
	if !key.Valid() {
		return &Error{Op: "append", Key: key, Err: errInvalidKey}
	}

	s := st.getOrCreate(key)

	s.mu().Lock()
	if err := s.validateReading(r); err != nil {
		s.mu().Unlock()
		return &Error{Op: "append", Key: key, Err: err}
	}
	archived := s.append(r)
	s.mu().Unlock()

	if st.persist != nil {
		if err := st.persist.AppendRecord(key, r); err != nil {
			st.onErr(key, "append-record", err)
		}
		if len(archived) > 0 {
			if err := st.persist.Archive(key, archived, time.Unix(r.Timestamp, 0).UTC()); err != nil {
				st.onErr(key, "archive", err)
			}
		}
	}
	return nil
}

// Recent returns the last n readings for key, newest last. Errors if the
// series does not exist or is empty.
func (st *Store) Recent(key SeriesKey, n int) ([]MetricReading, error) {
	s, ok := st.lookup(key)
	if !ok {
		return nil, &Error{Op: "recent", Key: key, Err: errNoSuchSeries}
	}
	s.mu().Lock()
	defer s.mu().Unlock()
	if s.len() == 0 {
		return nil, &Error{Op: "recent", Key: key, Err: errEmptySeries}
	}
	return s.recent(n), nil
}

// Range returns readings with t0 <= Timestamp <= t1. An empty result is not
// an error; absence of the series is.
func (st *Store) Range(key SeriesKey, t0, t1 int64) ([]MetricReading, error) {
	s, ok := st.lookup(key)
	if !ok {
		return nil, &Error{Op: "range", Key: key, Err: errNoSuchSeries}
	}
	s.mu().Lock()
	defer s.mu().Unlock()
	return s.rangeBetween(t0, t1), nil
}

// Statistics delegates to the stats kernel over the last n points.
func (st *Store) Statistics(key SeriesKey, n int) (stats.Summary, error) {
	readings, err := st.Recent(key, n)
	if err != nil {
		return stats.Summary{}, err
	}
	values := make([]float64, len(readings))
	for i, r := range readings {
		values[i] = r.Value
	}
	return stats.Compute(values), nil
}

// Cleanup deletes persisted files by mtime. Idempotent: calling twice in a
// row yields the same post-state as once.
func (st *Store) Cleanup(rawDays, archiveDays int) error {
	if st.persist == nil {
		return nil
	}
	return st.persist.Cleanup(rawDays, archiveDays)
}

// ExportSnapshot is a serializable snapshot of one or all series, optionally
// filtered by metric and time range, for inspection (§4.2 Export).
type ExportSnapshot struct {
	Plugin   string                        `json:"plugin"`
	Series   map[string][]MetricReading    `json:"series"`
	Ranges   map[string][2]int64           `json:"ranges,omitempty"`
}

// Export returns a snapshot of all metrics for plugin (optionally one
// metric), optionally restricted to [t0,t1].
func (st *Store) Export(plugin string, metric string, t0, t1 *int64) ExportSnapshot {
	st.mu.RLock()
	keys := make([]SeriesKey, 0, len(st.series))
	for k := range st.series {
		if k.Plugin != plugin {
			continue
		}
		if metric != "" && k.Metric != metric {
			continue
		}
		keys = append(keys, k)
	}
	st.mu.RUnlock()

	sort.Slice(keys, func(i, j int) bool { return keys[i].Metric < keys[j].Metric })

	out := ExportSnapshot{Plugin: plugin, Series: make(map[string][]MetricReading, len(keys))}
	for _, k := range keys {
		s, ok := st.lookup(k)
		if !ok {
			continue
		}
		s.mu().Lock()
		var readings []MetricReading
		if t0 != nil && t1 != nil {
			readings = s.rangeBetween(*t0, *t1)
		} else {
			readings = s.all()
		}
		s.mu().Unlock()
		out.Series[k.Metric] = readings
	}
	return out
}

// Keys returns every SeriesKey currently tracked in memory.
func (st *Store) Keys() []SeriesKey {
	st.mu.RLock()
	defer st.mu.RUnlock()
	keys := make([]SeriesKey, 0, len(st.series))
	for k := range st.series {
		keys = append(keys, k)
	}
	return keys
}

// Len reports the in-memory length of a series (0 if it does not exist).
func (st *Store) Len(key SeriesKey) int {
	s, ok := st.lookup(key)
	if !ok {
		return 0
	}
	s.mu().Lock()
	defer s.mu().Unlock()
	return s.len()
}
