package bus

import (
	"context"
	"sync"
	"time"

	"github.com/evolveworks/aiekit/envelope"
	"github.com/evolveworks/aiekit/errors"
	"github.com/evolveworks/aiekit/feedback"
	"github.com/evolveworks/aiekit/logging"
	"github.com/evolveworks/aiekit/module"
	"github.com/evolveworks/aiekit/registry"
)

// MemoryBus is the in-process Bus implementation. Each attached module gets a
// bounded priority inbox and one delivery worker; routing resolves receivers
// through the registry and reports every outcome to the collector without
// blocking delivery.
type MemoryBus struct {
	cfg Config
	reg registry.Registry
	col feedback.Collector
	log *logging.Logger

	mu       sync.RWMutex
	workers  map[string]*worker
	draining bool
	closed   bool

	pending *pendingTable

	// outcomes feeds the collector asynchronously. The pump goroutine is
	// the only reader; report never blocks on it.
	outcomes chan feedback.Record
	pumpDone chan struct{}

	dlMu        sync.Mutex
	deadLetters []DeadLetter
}

// worker drives deliveries for one attached module.
type worker struct {
	moduleID string
	mod      module.Module
	inbox    *inbox
	stop     chan struct{}
	done     chan struct{}
}

// NewMemoryBus creates a bus routing through the given registry and
// reporting outcomes to the given collector.
func NewMemoryBus(deps Dependencies, cfg Config) *MemoryBus {
	def := DefaultConfig()
	if cfg.InboxCapacity <= 0 {
		cfg.InboxCapacity = def.InboxCapacity
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = def.ResponseTimeout
	}
	if cfg.OutcomeBuffer <= 0 {
		cfg.OutcomeBuffer = def.OutcomeBuffer
	}
	if cfg.DeadLetterCapacity <= 0 {
		cfg.DeadLetterCapacity = def.DeadLetterCapacity
	}
	var log *logging.Logger
	if cfg.Logger != nil {
		log = cfg.Logger.WithComponent("bus")
	}

	b := &MemoryBus{
		cfg:      cfg,
		reg:      deps.Registry,
		col:      deps.Collector,
		log:      log,
		workers:  make(map[string]*worker),
		pending:  newPendingTable(),
		outcomes: make(chan feedback.Record, cfg.OutcomeBuffer),
		pumpDone: make(chan struct{}),
	}
	go b.pumpOutcomes()
	return b
}

// Attach gives a module an inbox and starts its delivery worker.
func (b *MemoryBus) Attach(moduleID string, m module.Module) error {
	if moduleID == "" || m == nil {
		return errors.New(errors.ErrCodeInvalidInput, "attach requires a module ID and a module")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.FromCode(errors.ErrCodeClosed)
	}
	if _, ok := b.workers[moduleID]; ok {
		return errors.DuplicateRegistration(moduleID)
	}

	w := &worker{
		moduleID: moduleID,
		mod:      m,
		inbox:    newInbox(b.cfg.InboxCapacity),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	b.workers[moduleID] = w
	go b.runWorker(w)
	return nil
}

// Detach stops the module's worker and dead-letters its queued envelopes.
func (b *MemoryBus) Detach(moduleID string) error {
	b.mu.Lock()
	w, ok := b.workers[moduleID]
	if !ok {
		b.mu.Unlock()
		return errors.UnknownModule(moduleID)
	}
	delete(b.workers, moduleID)
	b.mu.Unlock()

	close(w.stop)
	<-w.done

	for _, env := range w.inbox.drain() {
		b.deadLetter(env, "receiver detached")
	}
	return nil
}

// Submit routes an envelope. See the Bus contract for the outcome guarantees.
func (b *MemoryBus) Submit(ctx context.Context, env *envelope.Envelope) error {
	if env == nil {
		return errors.New(errors.ErrCodeInvalidInput, "nil envelope")
	}
	if err := env.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "submit aborted")
	}

	b.mu.RLock()
	closed, draining := b.closed, b.draining
	b.mu.RUnlock()
	if closed || draining {
		return errors.New(errors.ErrCodeClosed, "bus not accepting envelopes")
	}

	// Replies resolve their pending entry and travel no further.
	if env.ResponseTo != "" {
		b.resolveReply(env)
		return nil
	}

	if env.RequiresResponse {
		b.registerPending(env, b.cfg.ResponseTimeout)
	}

	if env.ReceiverID != "" {
		return b.submitDirect(env)
	}
	return b.submitByCapability(env)
}

// Request submits a RequiresResponse envelope and waits for its resolution.
func (b *MemoryBus) Request(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error) {
	if env == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "nil envelope")
	}
	if !env.RequiresResponse {
		return nil, errors.New(errors.ErrCodeInvalidInput, "request envelope must require a response")
	}

	timeout := b.cfg.ResponseTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	entry := b.registerPending(env, timeout)

	if err := b.Submit(ctx, env); err != nil {
		b.pending.cancel(env.ID)
		return nil, err
	}

	select {
	case res := <-entry.done:
		return res.resp, res.err
	case <-ctx.Done():
		if b.pending.cancel(env.ID) {
			return nil, errors.Wrap(ctx.Err(), "request abandoned")
		}
		// Lost the race: the entry resolved concurrently, take its result.
		res := <-entry.done
		return res.resp, res.err
	}
}

// DeadLetters returns retained dead letters, oldest first.
func (b *MemoryBus) DeadLetters() []DeadLetter {
	b.dlMu.Lock()
	defer b.dlMu.Unlock()
	return append([]DeadLetter(nil), b.deadLetters...)
}

// Drain stops intake, waits for inboxes to empty, and cancels remaining
// pending responses. On context expiry, still-queued envelopes are
// dead-lettered rather than dropped.
func (b *MemoryBus) Drain(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.FromCode(errors.ErrCodeClosed)
	}
	b.draining = true
	workers := make([]*worker, 0, len(b.workers))
	for _, w := range b.workers {
		workers = append(workers, w)
	}
	b.mu.Unlock()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for !allIdle(workers) {
		select {
		case <-ctx.Done():
			for _, w := range workers {
				for _, env := range w.inbox.drain() {
					b.deadLetter(env, "drain deadline exceeded")
				}
			}
			b.pending.failAll(errors.FromCode(errors.ErrCodeCanceled))
			return errors.Wrap(ctx.Err(), "drain incomplete")
		case <-ticker.C:
		}
	}

	b.pending.failAll(errors.FromCode(errors.ErrCodeCanceled))
	return nil
}

// Close drains with a grace period, stops every worker, and releases the
// outcome pump.
func (b *MemoryBus) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b.Drain(ctx)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	workers := make([]*worker, 0, len(b.workers))
	for _, w := range b.workers {
		workers = append(workers, w)
	}
	b.workers = make(map[string]*worker)
	b.mu.Unlock()

	for _, w := range workers {
		close(w.stop)
		<-w.done
		for _, env := range w.inbox.drain() {
			b.deadLetter(env, "bus closed")
		}
	}

	close(b.outcomes)
	<-b.pumpDone
	return nil
}

// --- Routing ---

func (b *MemoryBus) submitDirect(env *envelope.Envelope) error {
	rec, err := b.reg.Resolve(env.ReceiverID)
	if err != nil || rec.Status == registry.StatusOffline {
		uerr := errors.UnreachableReceiver(env.ReceiverID)
		b.failFast(env, uerr)
		b.report(feedback.Record{
			ModuleID:   env.ReceiverID,
			EnvelopeID: env.ID,
			Outcome:    feedback.OutcomeRejectedOffline,
		})
		b.log.Rejected(env.ID, env.ReceiverID, "unreachable")
		return uerr
	}

	b.pending.setTarget(env.ID, rec.ModuleID)
	return b.enqueue(env, rec.ModuleID)
}

func (b *MemoryBus) submitByCapability(env *envelope.Envelope) error {
	tag, ok := env.Capability()
	if !ok {
		merr := errors.MalformedEnvelope("no receiver and no capability key", errors.WithEnvelopeID(env.ID))
		b.failFast(env, merr)
		return merr
	}

	candidates, err := b.reg.ResolveByCapability(tag)
	if err != nil {
		werr := errors.Wrap(err, "capability resolution failed")
		b.failFast(env, werr)
		return werr
	}
	if len(candidates) == 0 {
		nerr := errors.NoCapableModule(tag)
		b.failFast(env, nerr)
		b.log.Rejected(env.ID, "", "no capable module for "+tag)
		return nerr
	}

	if env.Kind.FansOut() {
		var firstErr error
		for _, c := range candidates {
			if err := b.enqueue(env, c.ModuleID); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	top := candidates[0].ModuleID
	b.pending.setTarget(env.ID, top)
	return b.enqueue(env, top)
}

// enqueue hands an envelope to a module's inbox, applying backpressure.
func (b *MemoryBus) enqueue(env *envelope.Envelope, moduleID string) error {
	b.mu.RLock()
	w, ok := b.workers[moduleID]
	b.mu.RUnlock()
	if !ok {
		uerr := errors.UnreachableReceiver(moduleID)
		b.failFast(env, uerr)
		b.deadLetter(env, "receiver "+moduleID+" has no inbox")
		return uerr
	}

	evicted := w.inbox.push(env)
	if evicted != nil {
		b.report(feedback.Record{
			ModuleID:   moduleID,
			EnvelopeID: evicted.ID,
			Outcome:    feedback.OutcomeRejectedBusy,
		})
		b.log.Rejected(evicted.ID, moduleID, "inbox_full")
		if evicted.RequiresResponse {
			b.pending.fail(evicted.ID, errors.New(errors.ErrCodeInboxFull, "shed from "+moduleID))
		}
		if evicted == env {
			return errors.New(errors.ErrCodeInboxFull, "inbox of "+moduleID+" full")
		}
	}

	b.report(feedback.Record{
		ModuleID:   moduleID,
		EnvelopeID: env.ID,
		Outcome:    feedback.OutcomeDelivered,
	})
	b.log.Delivered(env.ID, moduleID, w.inbox.depth())
	b.reg.Touch(moduleID)
	b.reg.RecordMetrics(moduleID, registry.MetricsDelta{Received: 1})
	b.reg.RecordMetrics(env.SenderID, registry.MetricsDelta{Sent: 1})
	return nil
}

// resolveReply completes the pending entry a reply answers. A reply whose
// entry already resolved is discarded and logged, never delivered twice.
func (b *MemoryBus) resolveReply(env *envelope.Envelope) {
	entry := b.pending.resolve(env.ResponseTo, env)
	if entry == nil {
		b.log.DuplicateResponse(env.ResponseTo, env.ID)
		return
	}

	latency := time.Since(entry.createdAt)
	outcome := feedback.OutcomeResponded
	if env.Kind == envelope.KindError {
		outcome = feedback.OutcomeErrored
	}
	b.report(feedback.Record{
		ModuleID:   env.SenderID,
		EnvelopeID: env.ResponseTo,
		Outcome:    outcome,
		Latency:    latency,
	})
	b.reg.RecordMetrics(env.SenderID, registry.MetricsDelta{Sent: 1, ResponseLatency: latency})
}

// failFast resolves the envelope's own pending entry when routing fails, so
// the sender is not left waiting out the timeout.
func (b *MemoryBus) failFast(env *envelope.Envelope, err error) {
	if env.RequiresResponse {
		b.pending.fail(env.ID, err)
	}
}

// registerPending registers (or finds) the pending entry for a
// RequiresResponse envelope.
func (b *MemoryBus) registerPending(env *envelope.Envelope, timeout time.Duration) *pendingEntry {
	return b.pending.add(env, timeout, func(entry *pendingEntry) {
		b.report(feedback.Record{
			ModuleID:   entry.targetID,
			EnvelopeID: entry.envelopeID,
			Outcome:    feedback.OutcomeTimedOut,
			Latency:    time.Since(entry.createdAt),
		})
		b.log.Rejected(entry.envelopeID, entry.targetID, "response timeout")
	})
}

// --- Delivery ---

func (b *MemoryBus) runWorker(w *worker) {
	defer close(w.done)
	for {
		select {
		case <-w.stop:
			return
		default:
		}

		env := w.inbox.pop()
		if env == nil {
			select {
			case <-w.inbox.notify:
			case <-w.stop:
				return
			}
			continue
		}
		b.deliver(w, env)
	}
}

// deliver invokes the module's handler for one envelope.
func (b *MemoryBus) deliver(w *worker, env *envelope.Envelope) {
	ctx := context.Background()

	resp, err := b.handle(ctx, w, env)
	if err != nil {
		b.report(feedback.Record{
			ModuleID:   w.moduleID,
			EnvelopeID: env.ID,
			Outcome:    feedback.OutcomeErrored,
		})
		b.reg.RecordMetrics(w.moduleID, registry.MetricsDelta{Errors: 1})

		if env.RequiresResponse {
			ecoErr := errors.AsEcosystemError(err)
			var structured *errors.Error
			if e, ok := ecoErr.(*errors.Error); ok {
				structured = e
			} else {
				structured = errors.Wrap(err, "handler failed")
			}
			b.Submit(ctx, envelope.NewErrorResponse(env, w.moduleID, structured))
		}
		return
	}

	if resp != nil {
		if serr := b.Submit(ctx, resp); serr != nil {
			b.log.Warn("response submission failed", map[string]interface{}{
				"module":   w.moduleID,
				"envelope": resp.ID,
				"error":    serr.Error(),
			})
		}
	}
}

// handle calls the module's Handle with panic isolation, so one misbehaving
// handler never halts routing for others.
func (b *MemoryBus) handle(ctx context.Context, w *worker, env *envelope.Envelope) (resp *envelope.Envelope, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.RecoverPanic(r)
			b.log.HandlerPanic(w.moduleID, env.ID, err)
		}
	}()
	return w.mod.Handle(ctx, env)
}

// --- Outcomes and dead letters ---

// report queues an outcome for the collector without blocking delivery.
// Reports are shed when the pump falls behind.
func (b *MemoryBus) report(rec feedback.Record) {
	if b.col == nil {
		return
	}
	rec.At = time.Now().UTC()

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.outcomes <- rec:
	default:
		b.log.Debug("outcome report shed", map[string]interface{}{
			"envelope": rec.EnvelopeID,
			"outcome":  string(rec.Outcome),
		})
	}
}

// pumpOutcomes drains the outcome channel into the collector.
func (b *MemoryBus) pumpOutcomes() {
	defer close(b.pumpDone)
	for rec := range b.outcomes {
		if b.col != nil {
			b.col.Record(rec)
		}
	}
}

// deadLetter retains an undeliverable envelope, evicting the oldest entry
// past capacity.
func (b *MemoryBus) deadLetter(env *envelope.Envelope, reason string) {
	b.dlMu.Lock()
	if len(b.deadLetters) >= b.cfg.DeadLetterCapacity {
		b.deadLetters = b.deadLetters[1:]
	}
	b.deadLetters = append(b.deadLetters, DeadLetter{
		Envelope: env,
		Reason:   reason,
		At:       time.Now().UTC(),
	})
	b.dlMu.Unlock()

	b.log.DeadLetter(env.ID, reason)
}

func allIdle(workers []*worker) bool {
	for _, w := range workers {
		if w.inbox.depth() > 0 {
			return false
		}
	}
	return true
}
