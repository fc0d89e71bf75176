package feedback

import (
	"sort"
	"sync"
	"time"

	"github.com/evolveworks/aiekit/errors"
	"github.com/evolveworks/aiekit/logging"
)

// DefaultWindowSize is the per-module outcome window used when the
// configuration does not set one.
const DefaultWindowSize = 256

// MemoryConfig configures the in-memory collector.
type MemoryConfig struct {
	// WindowSize bounds each module's outcome ring. Default: DefaultWindowSize.
	WindowSize int

	// Logger for collector events. Nil means silent.
	Logger *logging.Logger
}

// MemoryCollector is an in-memory Collector keeping a bounded ring of
// outcomes per module. Writers evict the oldest record once the ring is
// full, so memory use is fixed regardless of traffic volume.
type MemoryCollector struct {
	mu      sync.RWMutex
	windows map[string]*window
	size    int
	closed  bool

	log *logging.Logger
}

// window is a fixed-size ring of outcome records.
type window struct {
	mu    sync.Mutex
	recs  []Record
	next  int
	count int
}

func (w *window) append(rec Record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recs[w.next] = rec
	w.next = (w.next + 1) % len(w.recs)
	if w.count < len(w.recs) {
		w.count++
	}
}

// ordered returns the window's records oldest-first.
func (w *window) ordered() []Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]Record, 0, w.count)
	if w.count == len(w.recs) {
		out = append(out, w.recs[w.next:]...)
		out = append(out, w.recs[:w.next]...)
	} else {
		out = append(out, w.recs[:w.count]...)
	}
	return out
}

// NewMemoryCollector creates a new in-memory collector.
func NewMemoryCollector(cfg MemoryConfig) *MemoryCollector {
	size := cfg.WindowSize
	if size <= 0 {
		size = DefaultWindowSize
	}
	var log *logging.Logger
	if cfg.Logger != nil {
		log = cfg.Logger.WithComponent("feedback")
	}
	return &MemoryCollector{
		windows: make(map[string]*window),
		size:    size,
		log:     log,
	}
}

// Record appends an outcome to the module's window.
func (c *MemoryCollector) Record(rec Record) error {
	if rec.ModuleID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "outcome record requires a module ID")
	}
	if !rec.Outcome.Valid() {
		return errors.Newf(errors.ErrCodeInvalidInput, "unknown outcome %q", rec.Outcome)
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}

	c.mu.RLock()
	w, ok := c.windows[rec.ModuleID]
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return errors.FromCode(errors.ErrCodeClosed)
	}

	if !ok {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return errors.FromCode(errors.ErrCodeClosed)
		}
		w, ok = c.windows[rec.ModuleID]
		if !ok {
			w = &window{recs: make([]Record, c.size)}
			c.windows[rec.ModuleID] = w
		}
		c.mu.Unlock()
	}

	w.append(rec)
	return nil
}

// Snapshot aggregates the module's current window.
func (c *MemoryCollector) Snapshot(moduleID string) (Stats, error) {
	return c.SnapshotSince(moduleID, time.Time{})
}

// SnapshotSince aggregates records observed at or after the cutoff.
func (c *MemoryCollector) SnapshotSince(moduleID string, cutoff time.Time) (Stats, error) {
	if moduleID == "" {
		return Stats{}, errors.New(errors.ErrCodeInvalidInput, "empty module ID")
	}

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return Stats{}, errors.FromCode(errors.ErrCodeClosed)
	}
	w, ok := c.windows[moduleID]
	c.mu.RUnlock()

	if !ok {
		return Stats{ModuleID: moduleID}, nil
	}
	return aggregate(moduleID, w.ordered(), cutoff), nil
}

// Snapshots aggregates every module with recorded outcomes.
func (c *MemoryCollector) Snapshots() ([]Stats, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, errors.FromCode(errors.ErrCodeClosed)
	}
	ids := make([]string, 0, len(c.windows))
	wins := make([]*window, 0, len(c.windows))
	for id, w := range c.windows {
		ids = append(ids, id)
		wins = append(wins, w)
	}
	c.mu.RUnlock()

	stats := make([]Stats, 0, len(ids))
	for i, w := range wins {
		stats = append(stats, aggregate(ids[i], w.ordered(), time.Time{}))
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].ModuleID < stats[j].ModuleID
	})
	return stats, nil
}

// Forget drops a module's window.
func (c *MemoryCollector) Forget(moduleID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.FromCode(errors.ErrCodeClosed)
	}
	delete(c.windows, moduleID)
	return nil
}

// Close shuts down the collector.
func (c *MemoryCollector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.windows = nil
	return nil
}

// aggregate folds ordered records into a Stats snapshot.
func aggregate(moduleID string, recs []Record, cutoff time.Time) Stats {
	s := Stats{ModuleID: moduleID}
	var latencies []time.Duration
	var latencySum time.Duration

	for _, rec := range recs {
		if !cutoff.IsZero() && rec.At.Before(cutoff) {
			continue
		}
		s.Total++
		if s.OldestAt.IsZero() || rec.At.Before(s.OldestAt) {
			s.OldestAt = rec.At
		}
		if rec.At.After(s.NewestAt) {
			s.NewestAt = rec.At
		}

		switch rec.Outcome {
		case OutcomeDelivered:
			s.Delivered++
		case OutcomeResponded:
			s.Responded++
		case OutcomeRejectedBusy:
			s.RejectedBusy++
		case OutcomeRejectedOffline:
			s.RejectedOffline++
		case OutcomeTimedOut:
			s.TimedOut++
		case OutcomeErrored:
			s.Errored++
		}

		if rec.Latency > 0 {
			latencies = append(latencies, rec.Latency)
			latencySum += rec.Latency
		}
	}

	if s.Total > 0 {
		s.SuccessRate = float64(s.Delivered+s.Responded) / float64(s.Total)
		s.ErrorRate = float64(s.Errored+s.TimedOut) / float64(s.Total)
	}
	if len(latencies) > 0 {
		s.MeanLatency = latencySum / time.Duration(len(latencies))
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		idx := (95*len(latencies) + 99) / 100
		if idx > 0 {
			idx--
		}
		s.P95Latency = latencies[idx]
	}
	return s
}
