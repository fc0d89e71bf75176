package learning

import (
	"fmt"

	"github.com/evolveworks/aiekit/feedback"
	"github.com/evolveworks/aiekit/registry"
)

// Adjustment is a policy's verdict for one module after a learning pass.
type Adjustment struct {
	// WeightDelta is the routing-weight change to apply through the
	// registry. Zero means leave the weight alone.
	WeightDelta float64

	// RecommendStatus optionally recommends a status transition. The
	// registry's state machine has final authority; an illegal
	// recommendation is rejected there, not here. Empty means no
	// recommendation.
	RecommendStatus registry.ModuleStatus

	// Reason explains the verdict for logs and telemetry.
	Reason string
}

// Policy turns a module's outcome statistics into an adjustment. The scoring
// formula is deliberately pluggable; the coordination loop only depends on
// this contract.
type Policy interface {
	Evaluate(stats feedback.Stats) Adjustment
}

// Default smoothed-policy parameters.
const (
	// DefaultSmoothing is the exponential smoothing factor applied to the
	// success score. Lower values react slower, damping oscillation from
	// short bursts.
	DefaultSmoothing = 0.3

	// DefaultMaxDelta bounds the per-pass weight change in either
	// direction so routing preference shifts gradually.
	DefaultMaxDelta = 0.25

	// DefaultErrorThreshold is the error rate above which the policy
	// recommends the error status.
	DefaultErrorThreshold = 0.5

	// DefaultRecoveryThreshold is the success rate above which the policy
	// recommends recovery back to ready.
	DefaultRecoveryThreshold = 0.8

	// DefaultMinSamples is the window size below which the policy stays
	// neutral rather than judging on noise.
	DefaultMinSamples = 5
)

// SmoothedPolicyConfig configures the default policy.
type SmoothedPolicyConfig struct {
	// Smoothing in (0, 1]. Default: DefaultSmoothing.
	Smoothing float64

	// MaxDelta bounds the per-pass weight change. Default: DefaultMaxDelta.
	MaxDelta float64

	// ErrorThreshold triggers an error recommendation. Default:
	// DefaultErrorThreshold.
	ErrorThreshold float64

	// RecoveryThreshold triggers a ready recommendation. Default:
	// DefaultRecoveryThreshold.
	RecoveryThreshold float64

	// MinSamples below which the policy stays neutral. Default:
	// DefaultMinSamples.
	MinSamples int
}

// SmoothedPolicy is the default learning policy. It tracks an exponentially
// smoothed success score per module and emits bounded weight deltas: sustained
// success earns a small positive delta, rising error rates a negative one.
// Modules breaching the error threshold are recommended for the error status;
// modules recovering above the recovery threshold are recommended back to
// ready.
type SmoothedPolicy struct {
	cfg SmoothedPolicyConfig

	// scores holds the smoothed success score per module. The learner
	// drives evaluation from a single goroutine, so no lock is needed.
	scores map[string]float64
}

// NewSmoothedPolicy creates the default policy.
func NewSmoothedPolicy(cfg SmoothedPolicyConfig) *SmoothedPolicy {
	if cfg.Smoothing <= 0 || cfg.Smoothing > 1 {
		cfg.Smoothing = DefaultSmoothing
	}
	if cfg.MaxDelta <= 0 {
		cfg.MaxDelta = DefaultMaxDelta
	}
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = DefaultErrorThreshold
	}
	if cfg.RecoveryThreshold <= 0 {
		cfg.RecoveryThreshold = DefaultRecoveryThreshold
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	return &SmoothedPolicy{
		cfg:    cfg,
		scores: make(map[string]float64),
	}
}

// Evaluate folds the snapshot into the module's smoothed score and derives
// an adjustment.
func (p *SmoothedPolicy) Evaluate(stats feedback.Stats) Adjustment {
	if stats.Total < p.cfg.MinSamples {
		return Adjustment{Reason: "insufficient samples"}
	}

	score, seen := p.scores[stats.ModuleID]
	if !seen {
		score = stats.SuccessRate
	} else {
		score += p.cfg.Smoothing * (stats.SuccessRate - score)
	}
	p.scores[stats.ModuleID] = score

	// Center the score: 0.5 is neutral, above earns preference, below
	// loses it. The delta is bounded so a single pass never swings routing.
	delta := (score - 0.5) * 2 * p.cfg.MaxDelta
	if delta > p.cfg.MaxDelta {
		delta = p.cfg.MaxDelta
	}
	if delta < -p.cfg.MaxDelta {
		delta = -p.cfg.MaxDelta
	}

	adj := Adjustment{
		WeightDelta: delta,
		Reason:      fmt.Sprintf("smoothed score %.3f over %d outcomes", score, stats.Total),
	}

	switch {
	case stats.ErrorRate > p.cfg.ErrorThreshold:
		adj.RecommendStatus = registry.StatusError
		adj.Reason = fmt.Sprintf("error rate %.2f over threshold %.2f", stats.ErrorRate, p.cfg.ErrorThreshold)
	case stats.SuccessRate >= p.cfg.RecoveryThreshold:
		adj.RecommendStatus = registry.StatusReady
	}

	return adj
}

// Forget drops a module's smoothed score, typically after deregistration.
func (p *SmoothedPolicy) Forget(moduleID string) {
	delete(p.scores, moduleID)
}
