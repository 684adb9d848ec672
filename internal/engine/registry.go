package engine

import (
	"sync"
	"time"
)

// userState is the per-user runtime state. The mutex serializes every
// holding-mutating path for that user: signal processing, position
// monitoring, and holding sync.
type userState struct {
	mu            sync.Mutex
	running       bool
	lastCheckTime time.Time
}

// registry tracks per-user state, created lazily.
type registry struct {
	mu     sync.Mutex
	states map[string]*userState
}

func newRegistry() *registry {
	return &registry{states: make(map[string]*userState)}
}

func (r *registry) get(userID string) *userState {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.states[userID]
	if !ok {
		state = &userState{}
		r.states[userID] = state
	}
	return state
}
