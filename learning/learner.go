package learning

import (
	"sync"
	"time"

	"github.com/evolveworks/aiekit/errors"
	"github.com/evolveworks/aiekit/feedback"
	"github.com/evolveworks/aiekit/logging"
	"github.com/evolveworks/aiekit/registry"
)

// DefaultInterval is the learning pass cadence when the configuration does
// not set one.
const DefaultInterval = 5 * time.Second

// Config configures a learner.
type Config struct {
	// Interval between learning passes. Default: DefaultInterval.
	Interval time.Duration

	// Policy scores modules. Default: NewSmoothedPolicy with defaults.
	Policy Policy

	// Logger for pass and adjustment events. Nil means silent.
	Logger *logging.Logger
}

// Learner runs the feedback-to-routing loop: on its own cadence it reads
// outcome snapshots from the collector and writes weight deltas and status
// recommendations back through the registry's single mutation paths. Routing
// itself never mutates weights, so the loop stays one-directional.
type Learner struct {
	reg    registry.Registry
	col    feedback.Collector
	policy Policy
	log    *logging.Logger

	interval time.Duration

	mu      sync.Mutex
	started bool
	kick    chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

// NewLearner creates a learner over the given registry and collector.
func NewLearner(reg registry.Registry, col feedback.Collector, cfg Config) *Learner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Policy == nil {
		cfg.Policy = NewSmoothedPolicy(SmoothedPolicyConfig{})
	}
	var log *logging.Logger
	if cfg.Logger != nil {
		log = cfg.Logger.WithComponent("learning")
	}
	return &Learner{
		reg:      reg,
		col:      col,
		policy:   cfg.Policy,
		log:      log,
		interval: cfg.Interval,
		kick:     make(chan struct{}, 1),
	}
}

// Start launches the cadence loop.
func (l *Learner) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started {
		return errors.New(errors.ErrCodeInvalidInput, "learner already started")
	}
	l.started = true
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.run(l.stop, l.done)
	return nil
}

// Stop halts the cadence loop and waits for an in-flight pass to finish.
func (l *Learner) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	l.started = false
	stop, done := l.stop, l.done
	l.mu.Unlock()

	close(stop)
	<-done
}

// Kick requests an immediate pass ahead of the next tick, used after a batch
// of fresh outcomes. Coalesces when a kick is already queued.
func (l *Learner) Kick() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

func (l *Learner) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		case <-l.kick:
		}
		l.RunPass()
	}
}

// RunPass executes one synchronous learning pass over every module with
// recorded outcomes. Returns the number of modules evaluated.
func (l *Learner) RunPass() (int, error) {
	start := time.Now()

	snapshots, err := l.col.Snapshots()
	if err != nil {
		return 0, errors.Wrap(err, "snapshot read failed")
	}

	for _, stats := range snapshots {
		l.apply(stats)
	}

	l.log.LearningPass(len(snapshots), time.Since(start))
	return len(snapshots), nil
}

// apply carries one module's adjustment through the registry.
func (l *Learner) apply(stats feedback.Stats) {
	adj := l.policy.Evaluate(stats)

	if adj.WeightDelta != 0 {
		if _, err := l.reg.ApplyWeightDelta(stats.ModuleID, adj.WeightDelta); err != nil {
			// Module may have deregistered between snapshot and apply.
			l.log.Debug("weight delta not applied", map[string]interface{}{
				"module": stats.ModuleID,
				"error":  err.Error(),
			})
			return
		}
	}

	if adj.RecommendStatus == "" {
		return
	}
	rec, err := l.reg.Resolve(stats.ModuleID)
	if err != nil || rec.Status == adj.RecommendStatus {
		return
	}
	// A ready recommendation is recovery guidance: it only applies to a
	// module currently sitting in error.
	if adj.RecommendStatus == registry.StatusReady && rec.Status != registry.StatusError {
		return
	}
	// The registry's state machine has final authority over the
	// recommendation.
	if err := l.reg.UpdateStatus(stats.ModuleID, adj.RecommendStatus); err != nil {
		l.log.Debug("status recommendation rejected", map[string]interface{}{
			"module":      stats.ModuleID,
			"recommended": adj.RecommendStatus.String(),
			"reason":      adj.Reason,
			"error":       err.Error(),
		})
	}
}
