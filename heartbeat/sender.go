package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/evolveworks/aiekit/bus"
	"github.com/evolveworks/aiekit/errors"
	"github.com/evolveworks/aiekit/logging"
	"github.com/evolveworks/aiekit/registry"
)

// SenderConfig configures a beacon sender for one module.
type SenderConfig struct {
	// Registry receives the last-activity bump each beat. Required.
	Registry registry.Registry

	// ModuleID is the module this sender beats for. Required.
	ModuleID string

	// Bus optionally carries beacons as fan-out status_update envelopes.
	// Nil restricts the sender to registry activity bumps.
	Bus bus.Bus

	// Capability addresses bus beacons to observers declaring this tag.
	// Default: "heartbeat".
	Capability string

	// Interval between beacons. Default: DefaultInterval.
	Interval time.Duration

	// Logger for beacon events. Nil means silent.
	Logger *logging.Logger
}

// Validate checks the configuration.
func (c *SenderConfig) Validate() error {
	if c.Registry == nil {
		return errors.New(errors.ErrCodeInvalidInput, "sender requires a registry")
	}
	if c.ModuleID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "sender requires a module ID")
	}
	return nil
}

// Sender emits periodic liveness beacons for an in-process module: each beat
// bumps the module's last-activity in the registry and, when a bus is
// configured, fans out a status_update envelope to observers.
type Sender struct {
	cfg SenderConfig
	log *logging.Logger

	mu      sync.Mutex
	started bool
	stop    chan struct{}
	done    chan struct{}
}

// NewSender creates a sender.
func NewSender(cfg SenderConfig) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Capability == "" {
		cfg.Capability = "heartbeat"
	}
	var log *logging.Logger
	if cfg.Logger != nil {
		log = cfg.Logger.WithComponent("heartbeat")
	}
	return &Sender{cfg: cfg, log: log}, nil
}

// Start begins beating at the configured interval.
func (s *Sender) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New(errors.ErrCodeInvalidInput, "sender already started")
	}
	s.started = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.stop, s.done)
	return nil
}

// Stop halts the beacon loop.
func (s *Sender) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	<-done
}

func (s *Sender) run(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.Beat()
		}
	}
}

// Beat emits one beacon immediately.
func (s *Sender) Beat() {
	if err := s.cfg.Registry.Touch(s.cfg.ModuleID); err != nil {
		s.log.Warn("activity bump failed", map[string]interface{}{
			"module": s.cfg.ModuleID,
			"error":  err.Error(),
		})
		return
	}

	if s.cfg.Bus == nil {
		return
	}

	status := ""
	if rec, err := s.cfg.Registry.Resolve(s.cfg.ModuleID); err == nil {
		status = rec.Status.String()
	}
	beacon := Beacon{ModuleID: s.cfg.ModuleID, Status: status, At: time.Now().UTC()}

	// Nobody listening is the steady state, not a fault.
	err := s.cfg.Bus.Submit(context.Background(), beacon.Envelope(s.cfg.Capability))
	if err != nil && !errors.Is(err, errors.ErrCodeNoCapableModule) {
		s.log.Debug("beacon not published", map[string]interface{}{
			"module": s.cfg.ModuleID,
			"error":  err.Error(),
		})
	}
}
