package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evolveworks/aiekit/errors"
	"github.com/evolveworks/aiekit/logging"
)

// MemoryRegistry is an in-memory implementation of Registry.
//
// The module map is guarded by one RWMutex; each record additionally carries
// its own lock so status and weight updates for one module never serialize
// against unrelated modules.
type MemoryRegistry struct {
	mu       sync.RWMutex
	modules  map[string]*moduleEntry
	watchers []chan Event
	closed   bool

	log *logging.Logger
}

type moduleEntry struct {
	mu  sync.Mutex
	rec Record
}

// snapshot returns a copy of the record safe to hand to callers.
func (e *moduleEntry) snapshot() Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec := e.rec
	rec.Capabilities = append([]Capability(nil), e.rec.Capabilities...)
	return rec
}

// MemoryConfig configures the in-memory registry.
type MemoryConfig struct {
	// Logger for status and weight events. Nil means silent.
	Logger *logging.Logger
}

// NewMemoryRegistry creates a new in-memory registry.
func NewMemoryRegistry(cfg MemoryConfig) *MemoryRegistry {
	var log *logging.Logger
	if cfg.Logger != nil {
		log = cfg.Logger.WithComponent("registry")
	}
	return &MemoryRegistry{
		modules: make(map[string]*moduleEntry),
		log:     log,
	}
}

// Register creates a record in status initializing.
func (r *MemoryRegistry) Register(reg Registration) (string, error) {
	if err := ValidateRegistration(reg); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", errors.FromCode(errors.ErrCodeClosed)
	}

	id := reg.ModuleID
	if id == "" {
		id = uuid.NewString()
	} else if existing, ok := r.modules[id]; ok {
		// Re-registering an identity is legal only once the previous
		// incarnation has gone offline.
		if existing.snapshot().Status != StatusOffline {
			return "", errors.DuplicateRegistration(id)
		}
	}

	now := time.Now().UTC()
	entry := &moduleEntry{
		rec: Record{
			ModuleID:      id,
			Name:          reg.Name,
			Version:       reg.Version,
			Status:        StatusInitializing,
			Capabilities:  append([]Capability(nil), reg.Capabilities...),
			RegisteredAt:  now,
			LastActivity:  now,
			RoutingWeight: DefaultWeight,
		},
	}
	r.modules[id] = entry
	r.notifyWatchers(Event{Type: EventRegistered, Record: entry.snapshot()})

	return id, nil
}

// AnnounceReady transitions initializing -> ready and finalizes capabilities.
func (r *MemoryRegistry) AnnounceReady(moduleID string, capabilities []Capability) error {
	entry, err := r.entry(moduleID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	if !entry.rec.Status.CanTransitionTo(StatusReady) || entry.rec.Status != StatusInitializing {
		from := entry.rec.Status
		entry.mu.Unlock()
		return errors.InvalidTransition(moduleID, from.String(), StatusReady.String())
	}
	entry.rec.Status = StatusReady
	if capabilities != nil {
		entry.rec.Capabilities = append([]Capability(nil), capabilities...)
	}
	entry.rec.LastActivity = time.Now().UTC()
	entry.mu.Unlock()

	r.log.StatusChanged(moduleID, StatusInitializing.String(), StatusReady.String())
	r.emit(Event{Type: EventReady, Record: entry.snapshot()})
	return nil
}

// UpdateStatus validates and applies a status transition.
func (r *MemoryRegistry) UpdateStatus(moduleID string, status ModuleStatus) error {
	entry, err := r.entry(moduleID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	from := entry.rec.Status
	if !from.CanTransitionTo(status) {
		entry.mu.Unlock()
		return errors.InvalidTransition(moduleID, from.String(), status.String())
	}
	entry.rec.Status = status
	entry.rec.LastActivity = time.Now().UTC()
	entry.mu.Unlock()

	r.log.StatusChanged(moduleID, from.String(), status.String())
	r.emit(Event{Type: EventStatusChanged, Record: entry.snapshot()})
	return nil
}

// Deregister marks the module offline and removes it from routing.
func (r *MemoryRegistry) Deregister(moduleID string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.FromCode(errors.ErrCodeClosed)
	}
	entry, ok := r.modules[moduleID]
	if !ok {
		r.mu.Unlock()
		return errors.UnknownModule(moduleID)
	}
	delete(r.modules, moduleID)
	r.mu.Unlock()

	entry.mu.Lock()
	from := entry.rec.Status
	entry.rec.Status = StatusOffline
	entry.mu.Unlock()

	r.log.StatusChanged(moduleID, from.String(), StatusOffline.String())
	r.emit(Event{Type: EventDeregistered, Record: entry.snapshot()})
	return nil
}

// Resolve returns the record for a module ID.
func (r *MemoryRegistry) Resolve(moduleID string) (*Record, error) {
	entry, err := r.entry(moduleID)
	if err != nil {
		return nil, err
	}
	rec := entry.snapshot()
	return &rec, nil
}

// ResolveByCapability returns work-accepting modules declaring the tag,
// ordered by descending routing weight, then ascending last activity. The
// tie-break favors less-recently-used modules, spreading load.
func (r *MemoryRegistry) ResolveByCapability(tag string) ([]Record, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, errors.FromCode(errors.ErrCodeClosed)
	}
	entries := make([]*moduleEntry, 0, len(r.modules))
	for _, e := range r.modules {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var result []Record
	for _, e := range entries {
		rec := e.snapshot()
		if rec.Status.CanAcceptWork() && rec.HasCapability(tag) {
			result = append(result, rec)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].RoutingWeight != result[j].RoutingWeight {
			return result[i].RoutingWeight > result[j].RoutingWeight
		}
		return result[i].LastActivity.Before(result[j].LastActivity)
	})

	return result, nil
}

// ApplyWeightDelta adjusts a module's routing weight, clamped to
// [MinWeight, MaxWeight].
func (r *MemoryRegistry) ApplyWeightDelta(moduleID string, delta float64) (float64, error) {
	entry, err := r.entry(moduleID)
	if err != nil {
		return 0, err
	}

	entry.mu.Lock()
	entry.rec.RoutingWeight = ClampWeight(entry.rec.RoutingWeight + delta)
	weight := entry.rec.RoutingWeight
	entry.mu.Unlock()

	r.log.WeightAdjusted(moduleID, delta, weight)
	r.emit(Event{Type: EventWeightChanged, Record: entry.snapshot()})
	return weight, nil
}

// Touch bumps the module's last-activity timestamp.
func (r *MemoryRegistry) Touch(moduleID string) error {
	entry, err := r.entry(moduleID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	entry.rec.LastActivity = time.Now().UTC()
	entry.mu.Unlock()
	return nil
}

// RecordMetrics applies counter deltas submitted by the bus.
func (r *MemoryRegistry) RecordMetrics(moduleID string, delta MetricsDelta) error {
	entry, err := r.entry(moduleID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	m := &entry.rec.Metrics
	m.MessagesSent += delta.Sent
	m.MessagesReceived += delta.Received
	m.ErrorCount += delta.Errors
	if delta.ResponseLatency > 0 {
		m.latencySamples++
		m.AvgResponseLatency += (delta.ResponseLatency - m.AvgResponseLatency) / time.Duration(m.latencySamples)
	}
	entry.mu.Unlock()
	return nil
}

// List returns records matching the optional filter.
func (r *MemoryRegistry) List(filter *Filter) ([]Record, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, errors.FromCode(errors.ErrCodeClosed)
	}
	entries := make([]*moduleEntry, 0, len(r.modules))
	for _, e := range r.modules {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var result []Record
	for _, e := range entries {
		rec := e.snapshot()
		if matchesFilter(rec, filter) {
			result = append(result, rec)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ModuleID < result[j].ModuleID
	})

	return result, nil
}

// matchesFilter checks if a record matches the filter criteria.
func matchesFilter(rec Record, filter *Filter) bool {
	if filter == nil {
		return true
	}
	if filter.Status != "" && rec.Status != filter.Status {
		return false
	}
	if filter.Capability != "" && !rec.HasCapability(filter.Capability) {
		return false
	}
	if filter.AcceptingWork && !rec.Status.CanAcceptWork() {
		return false
	}
	return true
}

// Watch returns a channel of registry events.
func (r *MemoryRegistry) Watch() (<-chan Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, errors.FromCode(errors.ErrCodeClosed)
	}

	ch := make(chan Event, 64)
	r.watchers = append(r.watchers, ch)
	return ch, nil
}

// Close shuts down the registry.
func (r *MemoryRegistry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	for _, ch := range r.watchers {
		close(ch)
	}
	r.watchers = nil
	return nil
}

// entry looks up a live module entry.
func (r *MemoryRegistry) entry(moduleID string) (*moduleEntry, error) {
	if moduleID == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "empty module ID")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, errors.FromCode(errors.ErrCodeClosed)
	}
	entry, ok := r.modules[moduleID]
	if !ok {
		return nil, errors.UnknownModule(moduleID)
	}
	return entry, nil
}

// emit sends an event to all watchers.
func (r *MemoryRegistry) emit(event Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	r.notifyWatchers(event)
}

// notifyWatchers sends an event to all watchers.
// Must be called with at least a read lock held.
func (r *MemoryRegistry) notifyWatchers(event Event) {
	for _, ch := range r.watchers {
		select {
		case ch <- event:
		default:
			// Watcher fell behind, skip
		}
	}
}
