package registry

// ModuleStatus represents a module's operational state.
type ModuleStatus string

const (
	StatusInitializing ModuleStatus = "initializing"
	StatusReady        ModuleStatus = "ready"
	StatusBusy         ModuleStatus = "busy"
	StatusLearning     ModuleStatus = "learning"
	StatusIntegrating  ModuleStatus = "integrating"
	StatusError        ModuleStatus = "error"
	StatusOffline      ModuleStatus = "offline"
)

// String returns the string representation of the status.
func (s ModuleStatus) String() string {
	return string(s)
}

// Valid returns true if the status is a known value.
func (s ModuleStatus) Valid() bool {
	switch s {
	case StatusInitializing, StatusReady, StatusBusy, StatusLearning,
		StatusIntegrating, StatusError, StatusOffline:
		return true
	default:
		return false
	}
}

// Terminal returns true if no transition leaves this status.
func (s ModuleStatus) Terminal() bool {
	return s == StatusOffline
}

// CanAcceptWork returns true for statuses eligible for capability routing.
func (s ModuleStatus) CanAcceptWork() bool {
	switch s {
	case StatusReady, StatusLearning, StatusIntegrating:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the state machine permits s -> next.
//
//	initializing -> ready
//	ready <-> busy, ready <-> learning, ready <-> integrating
//	any non-terminal -> error, error -> ready
//	any -> offline
func (s ModuleStatus) CanTransitionTo(next ModuleStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	// Offline is terminal but reaching it is always legal, including the
	// idempotent offline -> offline.
	if next == StatusOffline {
		return true
	}
	if s.Terminal() {
		return false
	}

	switch s {
	case StatusInitializing:
		return next == StatusReady || next == StatusError
	case StatusReady:
		switch next {
		case StatusBusy, StatusLearning, StatusIntegrating, StatusError:
			return true
		}
		return false
	case StatusBusy, StatusLearning, StatusIntegrating:
		return next == StatusReady || next == StatusError
	case StatusError:
		return next == StatusReady
	default:
		return false
	}
}
