package rooms

import (
	"sync"
)

// Registry is the single source of truth for in-flight negotiations, shared
// by the room-creation endpoint and all negotiation connections. Callers
// obtain the mutable *State by reference and never a copy; every participant
// observing a room observes the same state.
type Registry interface {
	// Insert registers a freshly created room under its id.
	Insert(id string, state *State)

	// Get returns the state for id, or false if the room was never created.
	// Closed rooms stay readable for post-mortem queries but reject all
	// protocol input.
	Get(id string) (*State, bool)
}

// NewRegistry returns an empty concurrency-safe in-memory Registry.
func NewRegistry() Registry {
	return &registry{
		states: make(map[string]*State),
	}
}

type registry struct {
	mtx    sync.RWMutex
	states map[string]*State
}

func (r *registry) Insert(id string, state *State) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.states[id] = state
}

func (r *registry) Get(id string) (*State, bool) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	state, ok := r.states[id]
	return state, ok
}
