package bus

import (
	"sync"

	"github.com/evolveworks/aiekit/envelope"
)

// inbox is a bounded per-module priority queue. Higher priority dequeues
// first; equal priorities keep arrival order. Each inbox has its own lock so
// deliveries to one module never serialize against another's.
type inbox struct {
	mu       sync.Mutex
	entries  []inboxEntry
	capacity int
	seq      uint64

	// notify wakes the delivery worker. Buffered by one so enqueue never
	// blocks on a worker mid-delivery.
	notify chan struct{}
}

type inboxEntry struct {
	env *envelope.Envelope
	seq uint64
}

func newInbox(capacity int) *inbox {
	return &inbox{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// push enqueues an envelope, evicting to stay within capacity. The returned
// envelope is the one shed by backpressure, nil when nothing was evicted.
// When the incoming envelope itself is the lowest-priority candidate it is
// rejected outright and returned as the eviction victim.
func (in *inbox) push(env *envelope.Envelope) (evicted *envelope.Envelope) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if len(in.entries) >= in.capacity {
		// Shed the newest lowest-priority envelope, counting the incoming
		// one as a candidate. The incoming envelope is the newest of all,
		// so it loses any tie at its own priority.
		victim := -1 // -1 means the incoming envelope
		lowest := env.Priority
		for i, e := range in.entries {
			if e.env.Priority < lowest {
				lowest = e.env.Priority
				victim = i
			} else if victim >= 0 && e.env.Priority == lowest {
				// Equal-priority entries are queued oldest first; keep
				// walking to land on the newest.
				victim = i
			}
		}
		if victim == -1 {
			return env
		}
		evicted = in.entries[victim].env
		in.entries = append(in.entries[:victim], in.entries[victim+1:]...)
	}

	in.seq++
	entry := inboxEntry{env: env, seq: in.seq}

	// Insert before the first queued entry with strictly lower priority,
	// keeping arrival order within a priority band.
	pos := len(in.entries)
	for i, e := range in.entries {
		if e.env.Priority < env.Priority {
			pos = i
			break
		}
	}
	in.entries = append(in.entries, inboxEntry{})
	copy(in.entries[pos+1:], in.entries[pos:])
	in.entries[pos] = entry

	select {
	case in.notify <- struct{}{}:
	default:
	}
	return evicted
}

// pop removes and returns the highest-priority envelope, or nil when empty.
func (in *inbox) pop() *envelope.Envelope {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.entries) == 0 {
		return nil
	}
	env := in.entries[0].env
	in.entries = in.entries[1:]
	return env
}

// drain removes and returns every queued envelope in delivery order.
func (in *inbox) drain() []*envelope.Envelope {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make([]*envelope.Envelope, len(in.entries))
	for i, e := range in.entries {
		out[i] = e.env
	}
	in.entries = nil
	return out
}

// depth returns the number of queued envelopes.
func (in *inbox) depth() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.entries)
}
