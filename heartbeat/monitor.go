package heartbeat

import (
	"sync"
	"time"

	"github.com/evolveworks/aiekit/errors"
	"github.com/evolveworks/aiekit/logging"
	"github.com/evolveworks/aiekit/registry"
)

// MonitorConfig configures liveness monitoring.
type MonitorConfig struct {
	// Registry is inspected for last-activity recency and receives status
	// recommendations. Required.
	Registry registry.Registry

	// Interval between sweeps. Also the expected beacon interval.
	// Default: DefaultInterval.
	Interval time.Duration

	// Misses is how many silent intervals put a module in error.
	// Default: DefaultMisses.
	Misses int

	// OfflineAfter is the silence after which a module is taken offline.
	// Default: DefaultOfflineAfter.
	OfflineAfter time.Duration

	// Logger for liveness decisions. Nil means silent.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *MonitorConfig) Validate() error {
	if c.Registry == nil {
		return errors.New(errors.ErrCodeInvalidInput, "monitor requires a registry")
	}
	return nil
}

// Monitor sweeps the registry for modules that stopped beating. A module
// silent for Misses intervals is recommended for error; one silent past
// OfflineAfter is taken offline. Recommendations go through UpdateStatus, so
// the registry's state machine still arbitrates every transition.
type Monitor struct {
	cfg MonitorConfig
	log *logging.Logger

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewMonitor creates a monitor.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Misses <= 0 {
		cfg.Misses = DefaultMisses
	}
	if cfg.OfflineAfter <= 0 {
		cfg.OfflineAfter = DefaultOfflineAfter
	}
	var log *logging.Logger
	if cfg.Logger != nil {
		log = cfg.Logger.WithComponent("heartbeat")
	}
	return &Monitor{cfg: cfg, log: log}, nil
}

// Start begins sweeping at the configured interval.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New(errors.ErrCodeInvalidInput, "monitor already started")
	}
	m.started = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.run(m.stop, m.done)
	return nil
}

// Stop halts the sweep loop.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	<-done
}

func (m *Monitor) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Sweep inspects every module once and applies liveness recommendations.
// Returns the number of modules whose status changed.
func (m *Monitor) Sweep() int {
	records, err := m.cfg.Registry.List(nil)
	if err != nil {
		return 0
	}

	now := time.Now().UTC()
	errAfter := time.Duration(m.cfg.Misses) * m.cfg.Interval
	changed := 0

	for _, rec := range records {
		if rec.Status == registry.StatusOffline {
			continue
		}
		silence := now.Sub(rec.LastActivity)

		switch {
		case silence >= m.cfg.OfflineAfter:
			if m.cfg.Registry.UpdateStatus(rec.ModuleID, registry.StatusOffline) == nil {
				m.log.Warn("module presumed dead", map[string]interface{}{
					"module":  rec.ModuleID,
					"silence": silence.Round(time.Millisecond).String(),
				})
				changed++
			}
		case silence >= errAfter && rec.Status != registry.StatusError:
			if m.cfg.Registry.UpdateStatus(rec.ModuleID, registry.StatusError) == nil {
				m.log.Warn("module missed heartbeats", map[string]interface{}{
					"module":  rec.ModuleID,
					"silence": silence.Round(time.Millisecond).String(),
					"misses":  m.cfg.Misses,
				})
				changed++
			}
		}
	}
	return changed
}
