package ecosystem

import (
	"context"

	"github.com/evolveworks/aiekit/bus"
	"github.com/evolveworks/aiekit/config"
	"github.com/evolveworks/aiekit/envelope"
	"github.com/evolveworks/aiekit/errors"
	"github.com/evolveworks/aiekit/feedback"
	"github.com/evolveworks/aiekit/heartbeat"
	"github.com/evolveworks/aiekit/learning"
	"github.com/evolveworks/aiekit/logging"
	"github.com/evolveworks/aiekit/module"
	"github.com/evolveworks/aiekit/registry"
	"github.com/evolveworks/aiekit/shutdown"
	"github.com/evolveworks/aiekit/telemetry"
	"github.com/evolveworks/aiekit/transport"
)

// Ecosystem assembles the coordination core: registry, bus, feedback
// collector, learning loop, and liveness monitor, all built from one
// configuration. Modules enter through Join and traffic flows through Send
// and Request; Close tears everything down in phases.
type Ecosystem struct {
	cfg *config.Config
	log *logging.Logger

	reg      *registry.MemoryRegistry
	col      *feedback.MemoryCollector
	bus      *bus.MemoryBus
	learner  *learning.Learner
	monitor  *heartbeat.Monitor
	exporter telemetry.Exporter
	provider *telemetry.Provider
	coord    *shutdown.Coordinator

	eventsDone chan struct{}
}

// New builds and starts an ecosystem from the given configuration. A nil
// configuration uses the defaults.
func New(cfg *config.Config) (*Ecosystem, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logging.New()
	log.SetLevel(logging.ParseLevel(cfg.Logging.Level))

	reg := registry.NewMemoryRegistry(registry.MemoryConfig{Logger: log})
	col := feedback.NewMemoryCollector(feedback.MemoryConfig{
		WindowSize: cfg.Feedback.WindowSize,
		Logger:     log,
	})
	b := bus.NewMemoryBus(
		bus.Dependencies{Registry: reg, Collector: col},
		bus.Config{
			InboxCapacity:      cfg.Bus.InboxCapacity,
			ResponseTimeout:    cfg.Bus.ResponseTimeout.Duration,
			DeadLetterCapacity: cfg.Bus.DeadLetterCapacity,
			Logger:             log,
		},
	)
	learner := learning.NewLearner(reg, col, learning.Config{
		Interval: cfg.Learning.Interval.Duration,
		Policy: learning.NewSmoothedPolicy(learning.SmoothedPolicyConfig{
			Smoothing:      cfg.Learning.Smoothing,
			MaxDelta:       cfg.Learning.MaxDelta,
			ErrorThreshold: cfg.Learning.ErrorThreshold,
		}),
		Logger: log,
	})
	monitor, err := heartbeat.NewMonitor(heartbeat.MonitorConfig{
		Registry:     reg,
		Interval:     cfg.Heartbeat.Interval.Duration,
		Misses:       cfg.Heartbeat.Misses,
		OfflineAfter: cfg.Heartbeat.OfflineAfter.Duration,
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}

	e := &Ecosystem{
		cfg:        cfg,
		log:        log.WithComponent("ecosystem"),
		reg:        reg,
		col:        col,
		bus:        b,
		learner:    learner,
		monitor:    monitor,
		coord:      shutdown.NewCoordinator(shutdown.Config{Logger: log}),
		eventsDone: make(chan struct{}),
	}

	if err := e.initTelemetry(); err != nil {
		return nil, err
	}

	events, err := reg.Watch()
	if err != nil {
		return nil, err
	}
	go e.pumpEvents(events)

	if err := learner.Start(); err != nil {
		return nil, err
	}
	if err := monitor.Start(); err != nil {
		learner.Stop()
		return nil, err
	}
	e.registerTeardown()
	return e, nil
}

// initTelemetry wires the configured exporter, or the OTLP trace provider
// when tracing is requested instead of event export.
func (e *Ecosystem) initTelemetry() error {
	tcfg := e.cfg.Telemetry
	switch tcfg.Exporter {
	case "otlp":
		provider, err := telemetry.InitProvider(context.Background(), telemetry.ProviderConfig{
			ServiceName: tcfg.ServiceName,
			Endpoint:    tcfg.Endpoint,
			Insecure:    true,
		})
		if err != nil {
			return err
		}
		e.provider = provider
		e.exporter = telemetry.NewNoopExporter()
	case "file":
		exp, err := telemetry.NewFileExporter(tcfg.Path)
		if err != nil {
			return err
		}
		e.exporter = exp
	default:
		exp, err := telemetry.NewExporter(tcfg.Exporter, tcfg.Endpoint)
		if err != nil {
			return err
		}
		e.exporter = exp
	}
	return nil
}

// registerTeardown arranges the phased close: intake first, then drain,
// background loops, core components, telemetry last.
func (e *Ecosystem) registerTeardown() {
	e.coord.RegisterFuncPhase("bus-drain", func(ctx context.Context) error {
		return e.bus.Drain(ctx)
	}, shutdown.PhaseDrain)

	e.coord.RegisterFuncPhase("learner", func(ctx context.Context) error {
		e.learner.Stop()
		return nil
	}, shutdown.PhaseBackground)
	e.coord.RegisterFuncPhase("monitor", func(ctx context.Context) error {
		e.monitor.Stop()
		return nil
	}, shutdown.PhaseBackground)

	e.coord.RegisterFuncPhase("bus", func(ctx context.Context) error {
		return e.bus.Close()
	}, shutdown.PhaseCore)
	e.coord.RegisterFuncPhase("collector", func(ctx context.Context) error {
		return e.col.Close()
	}, shutdown.PhaseCore)

	// The registry closes after the bus so drain-time status updates still
	// land; closing it also ends the event pump.
	e.coord.RegisterFuncPhase("registry", func(ctx context.Context) error {
		err := e.reg.Close()
		<-e.eventsDone
		return err
	}, shutdown.PhaseCore+1)

	e.coord.RegisterFuncPhase("telemetry", func(ctx context.Context) error {
		if err := e.exporter.Flush(); err != nil {
			return err
		}
		if err := e.exporter.Close(); err != nil {
			return err
		}
		if e.provider != nil {
			return e.provider.Shutdown(ctx)
		}
		return nil
	}, shutdown.PhaseTelemetry)
}

// pumpEvents exports registry events until the watch channel closes.
func (e *Ecosystem) pumpEvents(events <-chan registry.Event) {
	defer close(e.eventsDone)
	for ev := range events {
		e.exporter.LogEvent(string(ev.Type), map[string]interface{}{
			"module": ev.Record.ModuleID,
			"status": ev.Record.Status.String(),
			"weight": ev.Record.RoutingWeight,
		})
	}
}

// Registry exposes the module registry.
func (e *Ecosystem) Registry() registry.Registry { return e.reg }

// Collector exposes the feedback collector.
func (e *Ecosystem) Collector() feedback.Collector { return e.col }

// Bus exposes the communication bus.
func (e *Ecosystem) Bus() bus.Bus { return e.bus }

// Learner exposes the learning loop, mainly so callers can Kick it after a
// burst of outcomes.
func (e *Ecosystem) Learner() *learning.Learner { return e.learner }

// Join admits a module: register, initialize, attach, announce ready. Any
// failure rolls the module back out, so a module is either fully present or
// absent. Returns the module's assigned ID.
func (e *Ecosystem) Join(ctx context.Context, m module.Module) (string, error) {
	if m == nil {
		return "", errors.New(errors.ErrCodeInvalidInput, "nil module")
	}

	id, err := e.reg.Register(registry.Registration{
		ModuleID:     m.ID(),
		Name:         m.Name(),
		Version:      m.Version(),
		Capabilities: m.Capabilities(),
	})
	if err != nil {
		return "", err
	}

	if err := m.Initialize(ctx); err != nil {
		e.reg.Deregister(id)
		return "", errors.Initialization(id, err)
	}

	if err := e.bus.Attach(id, m); err != nil {
		e.reg.Deregister(id)
		return "", err
	}

	if err := e.reg.AnnounceReady(id, m.Capabilities()); err != nil {
		e.bus.Detach(id)
		e.reg.Deregister(id)
		return "", err
	}

	e.log.ModuleJoined(id, m.Name(), len(m.Capabilities()))
	return id, nil
}

// Leave removes a module. Queued deliveries are dead-lettered and later
// envelopes addressed to it fail fast.
func (e *Ecosystem) Leave(moduleID string) error {
	detachErr := e.bus.Detach(moduleID)
	deregErr := e.reg.Deregister(moduleID)
	if detachErr != nil {
		return detachErr
	}
	if deregErr != nil {
		return deregErr
	}
	e.log.ModuleLeft(moduleID)
	return nil
}

// Send routes an envelope without waiting for a response.
func (e *Ecosystem) Send(ctx context.Context, env *envelope.Envelope) error {
	return e.bus.Submit(ctx, env)
}

// Request routes an envelope and waits for the response resolving it.
func (e *Ecosystem) Request(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	return e.bus.Request(ctx, env)
}

// Gateway creates a WebSocket gateway over this ecosystem and registers it
// for the intake phase of teardown.
func (e *Ecosystem) Gateway() (*transport.Listener, error) {
	lis, err := transport.NewListener(transport.Config{
		Registry: e.reg,
		Bus:      e.bus,
		Logger:   e.log,
	})
	if err != nil {
		return nil, err
	}
	e.coord.RegisterFuncPhase("gateway", func(ctx context.Context) error {
		return lis.Close()
	}, shutdown.PhaseIntake)
	return lis, nil
}

// Close tears the ecosystem down in phases. Safe to call more than once;
// later calls return the first result.
func (e *Ecosystem) Close(ctx context.Context) error {
	return e.coord.Run(ctx)
}
