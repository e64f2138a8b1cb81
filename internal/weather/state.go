package weather

import "sync/atomic"

// State is where a coordinator is in its cycle.
type State int32

const (
	StateIdle State = iota
	StateAuthenticating
	StateDiscovering
	StateFetching
	StateAggregating
	// StateHalted is terminal: the credential cannot produce tokens.
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthenticating:
		return "authenticating"
	case StateDiscovering:
		return "discovering"
	case StateFetching:
		return "fetching"
	case StateAggregating:
		return "aggregating"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// cycleGuard enforces at most one cycle in flight per subject.
type cycleGuard struct {
	state    atomic.Int32
	inFlight atomic.Bool
	cycles   atomic.Int64
}

func (g *cycleGuard) acquire() error {
	if g.current() == StateHalted {
		return ErrHalted
	}
	if !g.inFlight.CompareAndSwap(false, true) {
		return ErrCycleInProgress
	}
	g.cycles.Add(1)
	return nil
}

func (g *cycleGuard) release() {
	if g.current() != StateHalted {
		g.state.Store(int32(StateIdle))
	}
	g.inFlight.Store(false)
}

func (g *cycleGuard) enter(s State) {
	if g.current() != StateHalted {
		g.state.Store(int32(s))
	}
}

func (g *cycleGuard) halt() { g.state.Store(int32(StateHalted)) }

func (g *cycleGuard) current() State { return State(g.state.Load()) }
