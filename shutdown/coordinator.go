package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/evolveworks/aiekit/errors"
	"github.com/evolveworks/aiekit/logging"
)

// Coordinator runs registered handlers phase by phase during teardown.
// Handlers in the same phase run concurrently; a phase finishes before the
// next begins. Run is idempotent: later calls return the first result.
type Coordinator struct {
	cfg Config
	log *logging.Logger

	mu       sync.Mutex
	handlers []registration

	once    sync.Once
	done    chan struct{}
	err     error
	result  *Result
	signals chan os.Signal
}

// NewCoordinator creates a teardown coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	def := DefaultConfig()
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.DefaultPhase == 0 {
		cfg.DefaultPhase = def.DefaultPhase
	}
	var log *logging.Logger
	if cfg.Logger != nil {
		log = cfg.Logger.WithComponent("shutdown")
	}
	return &Coordinator{
		cfg:     cfg,
		log:     log,
		done:    make(chan struct{}),
		signals: make(chan os.Signal, 1),
	}
}

// Register adds a handler at the default phase.
func (c *Coordinator) Register(name string, h Handler) {
	c.RegisterPhase(name, h, c.cfg.DefaultPhase)
}

// RegisterPhase adds a handler at a specific phase.
func (c *Coordinator) RegisterPhase(name string, h Handler, phase int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{name: name, handler: h, phase: phase})
}

// RegisterFunc adds a plain function at the default phase.
func (c *Coordinator) RegisterFunc(name string, fn func(ctx context.Context) error) {
	c.Register(name, Func(fn))
}

// RegisterFuncPhase adds a plain function at a specific phase.
func (c *Coordinator) RegisterFuncPhase(name string, fn func(ctx context.Context) error, phase int) {
	c.RegisterPhase(name, Func(fn), phase)
}

// Run executes the teardown once and returns its overall error.
func (c *Coordinator) Run(ctx context.Context) error {
	c.once.Do(func() {
		c.err = c.run(ctx)
		close(c.done)
	})
	<-c.done
	return c.err
}

// RunWithTimeout executes the teardown bounded by the given timeout,
// falling back to the configured default when zero.
func (c *Coordinator) RunWithTimeout(timeout time.Duration) error {
	if timeout == 0 {
		timeout = c.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Run(ctx)
}

// HandleSignals triggers teardown on SIGTERM or SIGINT.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-c.signals
		c.RunWithTimeout(c.cfg.DefaultTimeout)
	}()
}

// Trigger feeds a synthetic signal, as if SIGTERM arrived.
func (c *Coordinator) Trigger() {
	select {
	case c.signals <- syscall.SIGTERM:
	default:
	}
}

// Done is closed when teardown has completed.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the teardown error, nil before completion.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Result returns the detailed teardown result, nil before completion.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	start := time.Now()

	c.mu.Lock()
	handlers := append([]registration(nil), c.handlers...)
	c.mu.Unlock()

	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	result := &Result{Results: make([]HandlerResult, 0, len(handlers))}
	finish := func(err error) error {
		result.Err = err
		result.TotalDuration = time.Since(start)
		c.result = result
		return err
	}

	var overallErr error
	for _, group := range groupByPhase(handlers) {
		if ctx.Err() != nil {
			return finish(errors.WrapWithCode(ctx.Err(), errors.ErrCodeTimeout, "teardown deadline exceeded"))
		}

		phaseResults := c.runPhase(ctx, group)
		result.Results = append(result.Results, phaseResults...)

		for _, hr := range phaseResults {
			if hr.Err == nil {
				continue
			}
			if overallErr == nil {
				overallErr = errors.Wrap(hr.Err, "teardown handler "+hr.Name+" failed")
			}
			if !c.cfg.ContinueOnError {
				return finish(overallErr)
			}
		}
	}
	return finish(overallErr)
}

// runPhase executes one phase's handlers concurrently.
func (c *Coordinator) runPhase(ctx context.Context, handlers []registration) []HandlerResult {
	results := make([]HandlerResult, len(handlers))
	var wg sync.WaitGroup

	for i, reg := range handlers {
		wg.Add(1)
		go func(idx int, r registration) {
			defer wg.Done()

			start := time.Now()
			err := r.handler.OnShutdown(ctx)
			hr := HandlerResult{
				Name:     r.name,
				Phase:    r.phase,
				Duration: time.Since(start),
				Err:      err,
			}
			results[idx] = hr

			if err != nil {
				c.log.Warn("teardown handler failed", map[string]interface{}{
					"handler": hr.Name,
					"phase":   hr.Phase,
					"error":   err.Error(),
				})
			} else {
				c.log.Debug("teardown handler done", map[string]interface{}{
					"handler":  hr.Name,
					"phase":    hr.Phase,
					"duration": hr.Duration.String(),
				})
			}
		}(i, reg)
	}

	wg.Wait()
	return results
}

// groupByPhase splits sorted registrations into per-phase groups.
func groupByPhase(handlers []registration) [][]registration {
	var groups [][]registration
	var current []registration
	for _, h := range handlers {
		if len(current) > 0 && h.phase != current[0].phase {
			groups = append(groups, current)
			current = nil
		}
		current = append(current, h)
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}
