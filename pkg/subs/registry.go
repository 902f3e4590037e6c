// Package subs holds the subscription registry and the engine that
// orchestrates subscription lifecycle between the wire protocol and the
// event bus.
package subs

import (
	"sync"

	"github.com/chattyapp/chatty-server/pkg/bus"
)

// State is the lifecycle state of a subscription instance.
type State int32

const (
	StatePending State = iota
	StateActive
	StateStopping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Instance is one live binding of a subscription name to a connection and
// a client-chosen id, with its installed bus handlers.
//
// mu guards state and is also the delivery gate: a bus handler enqueues a
// data frame only while holding mu with the state Active, and the stop
// path enqueues the complete frame under the same lock after leaving
// Active. That linearizes delivery against stop, so no data frame can
// follow the complete frame.
type Instance struct {
	ConnID string
	SubID  string
	Name   string

	mu       sync.Mutex
	state    State
	handlers []bus.Token
}

// State returns the current lifecycle state.
func (in *Instance) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// deliver runs fn under the gate iff the instance is Active.
func (in *Instance) deliver(fn func()) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.state == StateActive {
		fn()
	}
}

// activate moves Pending -> Active.
func (in *Instance) activate() {
	in.mu.Lock()
	in.state = StateActive
	in.mu.Unlock()
}

// stop leaves Active and runs fn (typically the complete-frame enqueue)
// under the gate, so fn is ordered after the last delivered data frame.
func (in *Instance) stop(fn func()) {
	in.mu.Lock()
	in.state = StateStopping
	if fn != nil {
		fn()
	}
	in.mu.Unlock()
}

// terminate marks the instance Terminated and returns the handlers to
// detach, clearing them so the instance holds no dangling references.
func (in *Instance) terminate() []bus.Token {
	in.mu.Lock()
	in.state = StateTerminated
	handlers := in.handlers
	in.handlers = nil
	in.mu.Unlock()
	return handlers
}

// Registry is the authority for subscription instances, keyed by
// connection id and client subscription id. Structural operations are
// serialized under one mutex held only for the map manipulation.
type Registry struct {
	mu    sync.Mutex
	conns map[string]map[string]*Instance
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[string]*Instance)}
}

// Insert binds inst under its (ConnID, SubID) key. It fails with
// DUPLICATE_SUBSCRIPTION when a non-terminated instance already holds the
// key.
func (r *Registry) Insert(inst *Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.conns[inst.ConnID]
	if !ok {
		subs = make(map[string]*Instance)
		r.conns[inst.ConnID] = subs
	}
	if existing, ok := subs[inst.SubID]; ok && existing.State() != StateTerminated {
		return &Error{Code: "DUPLICATE_SUBSCRIPTION", Message: "subscription id already active: " + inst.SubID}
	}
	subs[inst.SubID] = inst
	return nil
}

// Remove unbinds and returns the instance for (connID, subID), or nil if
// none is bound.
func (r *Registry) Remove(connID, subID string) *Instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.conns[connID]
	if !ok {
		return nil
	}
	inst, ok := subs[subID]
	if !ok {
		return nil
	}
	delete(subs, subID)
	if len(subs) == 0 {
		delete(r.conns, connID)
	}
	return inst
}

// RemoveAll atomically snapshots and clears every instance bound to
// connID.
func (r *Registry) RemoveAll(connID string) []*Instance {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.conns[connID]
	if !ok {
		return nil
	}
	delete(r.conns, connID)
	out := make([]*Instance, 0, len(subs))
	for _, inst := range subs {
		out = append(out, inst)
	}
	return out
}

// Count reports the number of bound instances across all connections.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, subs := range r.conns {
		n += len(subs)
	}
	return n
}

// Error is a subscription error with a stable code matching the wire
// error codes.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
