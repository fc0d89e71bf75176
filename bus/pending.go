package bus

import (
	"sync"
	"time"

	"github.com/evolveworks/aiekit/envelope"
	"github.com/evolveworks/aiekit/errors"
)

// pendingResult carries the terminal outcome of one pending wait.
type pendingResult struct {
	resp *envelope.Envelope
	err  error
}

// pendingEntry is one outstanding request awaiting its response.
type pendingEntry struct {
	envelopeID string
	senderID   string
	targetID   string
	createdAt  time.Time
	timer      *time.Timer

	// done is buffered by one so whichever of response, timeout, or
	// cancellation resolves the entry never blocks on the waiter.
	done chan pendingResult
}

// pendingTable tracks outstanding requests. Each entry resolves exactly once:
// whichever of response arrival, timeout expiry, or cancellation observes the
// entry first removes it; the others become no-ops.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingEntry)}
}

// add registers a pending entry for an envelope ID. Re-registering an ID with
// an entry already outstanding is a no-op returning the existing entry.
func (t *pendingTable) add(env *envelope.Envelope, timeout time.Duration, onTimeout func(*pendingEntry)) *pendingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.entries[env.ID]; ok {
		return existing
	}

	entry := &pendingEntry{
		envelopeID: env.ID,
		senderID:   env.SenderID,
		createdAt:  time.Now().UTC(),
		done:       make(chan pendingResult, 1),
	}
	entry.timer = time.AfterFunc(timeout, func() {
		if t.removeIf(env.ID, entry) {
			entry.done <- pendingResult{err: errors.Timeout("no response to " + env.ID)}
			if onTimeout != nil {
				onTimeout(entry)
			}
		}
	})
	t.entries[env.ID] = entry
	return entry
}

// setTarget records which module the request was routed to, for outcome
// attribution when the entry later times out.
func (t *pendingTable) setTarget(envelopeID, targetID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.entries[envelopeID]; ok {
		entry.targetID = targetID
	}
}

// resolve completes the entry for response_to with a response envelope.
// Returns the resolved entry, or nil if the entry was already resolved or
// never existed (a duplicate or stray response).
func (t *pendingTable) resolve(responseTo string, resp *envelope.Envelope) *pendingEntry {
	entry := t.remove(responseTo)
	if entry == nil {
		return nil
	}
	entry.timer.Stop()
	entry.done <- pendingResult{resp: resp}
	return entry
}

// fail completes the entry with an error, used for fast-fail rejection and
// drain cancellation.
func (t *pendingTable) fail(envelopeID string, err error) *pendingEntry {
	entry := t.remove(envelopeID)
	if entry == nil {
		return nil
	}
	entry.timer.Stop()
	entry.done <- pendingResult{err: err}
	return entry
}

// cancel removes the entry if it has not already resolved; otherwise a no-op.
func (t *pendingTable) cancel(envelopeID string) bool {
	entry := t.remove(envelopeID)
	if entry == nil {
		return false
	}
	entry.timer.Stop()
	entry.done <- pendingResult{err: errors.FromCode(errors.ErrCodeCanceled)}
	return true
}

// failAll resolves every outstanding entry with the given error.
func (t *pendingTable) failAll(err error) {
	t.mu.Lock()
	entries := make([]*pendingEntry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.entries = make(map[string]*pendingEntry)
	t.mu.Unlock()

	for _, e := range entries {
		e.timer.Stop()
		e.done <- pendingResult{err: err}
	}
}

// removeIf takes the entry out of the table only if it is still the one
// registered under the ID, guarding timer callbacks against an ID reused
// after resolution.
func (t *pendingTable) removeIf(envelopeID string, entry *pendingEntry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries[envelopeID] != entry {
		return false
	}
	delete(t.entries, envelopeID)
	return true
}

// remove takes an entry out of the table, returning nil if absent.
func (t *pendingTable) remove(envelopeID string) *pendingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[envelopeID]
	if !ok {
		return nil
	}
	delete(t.entries, envelopeID)
	return entry
}

// depth returns the number of outstanding entries.
func (t *pendingTable) depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
