package routing

import (
	"sort"
	"sync"
	"time"
)

// Leg identifies which side of a call a channel plays.
type Leg string

const (
	LegIncoming Leg = "incoming"
	LegOutgoing Leg = "outgoing"
)

// Call is an established pairing: both legs are members of Bridge.
type Call struct {
	Incoming string `json:"incoming"`
	Outgoing string `json:"outgoing"`
	Bridge   string `json:"bridge"`

	Agent     string    `json:"-"`
	StartedAt time.Time `json:"-"`
}

// Other returns the peer of channelID and whether channelID is a leg of c.
func (c Call) Other(channelID string) (string, bool) {
	switch channelID {
	case c.Incoming:
		return c.Outgoing, true
	case c.Outgoing:
		return c.Incoming, true
	}
	return "", false
}

// PendingBridge is a bridge holding the inbound leg while the agent leg is dialed.
// Outgoing is empty until the originate request returns.
type PendingBridge struct {
	Bridge   string `json:"bridge"`
	Incoming string `json:"incoming"`
	Outgoing string `json:"outgoing"`
	Agent    string `json:"-"`
}

func (p PendingBridge) references(channelID string) bool {
	return p.Incoming == channelID || (p.Outgoing != "" && p.Outgoing == channelID)
}

// Registry tracks pending bridges and active calls in memory.
// Both maps are keyed by call id; a key lives in at most one of them.
type Registry struct {
	calls   map[string]Call
	pending map[string]PendingBridge
	mu      sync.RWMutex
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		calls:   make(map[string]Call),
		pending: make(map[string]PendingBridge),
		now:     time.Now,
	}
}

// AddPending registers a pending bridge under id.
func (r *Registry) AddPending(id string, p PendingBridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[id] = p
}

// SetPendingOutgoing records the originated channel on a pending bridge.
// It returns false when the pending bridge is gone (e.g. the inbound leg hung up).
func (r *Registry) SetPendingOutgoing(id, channelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return false
	}
	p.Outgoing = channelID
	r.pending[id] = p
	return true
}

// PendingByOutgoing finds the pending bridge expecting channelID as its outgoing leg.
func (r *Registry) PendingByOutgoing(channelID string) (string, PendingBridge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, p := range r.pending {
		if p.Outgoing != "" && p.Outgoing == channelID {
			return id, p, true
		}
	}
	return "", PendingBridge{}, false
}

// Pending returns the pending bridge stored under id.
func (r *Registry) Pending(id string) (PendingBridge, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pending[id]
	return p, ok
}

// Promote turns the pending bridge id into a Call with outgoing as its agent leg.
// The pending entry is deleted under the same lock that creates the call.
func (r *Registry) Promote(id, outgoing string) (Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return Call{}, false
	}
	call := Call{
		Incoming:  p.Incoming,
		Outgoing:  outgoing,
		Bridge:    p.Bridge,
		Agent:     p.Agent,
		StartedAt: r.now(),
	}
	r.calls[id] = call
	delete(r.pending, id)
	return call, true
}

// ReplaceLeg rewrites the leg equal to oldID with newID in place.
// Call id and bridge are preserved.
func (r *Registry) ReplaceLeg(oldID, newID string) (string, Call, Leg, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.calls {
		var leg Leg
		switch oldID {
		case c.Incoming:
			c.Incoming = newID
			leg = LegIncoming
		case c.Outgoing:
			c.Outgoing = newID
			leg = LegOutgoing
		default:
			continue
		}
		r.calls[id] = c
		return id, c, leg, true
	}
	return "", Call{}, "", false
}

// RemoveCallByChannel removes the first call having channelID as either leg.
func (r *Registry) RemoveCallByChannel(channelID string) (string, Call, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.calls {
		if _, ok := c.Other(channelID); ok {
			delete(r.calls, id)
			return id, c, true
		}
	}
	return "", Call{}, false
}

// RemovePendingByChannel removes every pending bridge referencing channelID
// and returns their ids.
func (r *Registry) RemovePendingByChannel(channelID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id, p := range r.pending {
		if p.references(channelID) {
			delete(r.pending, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// FindByAgent returns the call handled by agent. The agent id must match
// exactly; when an agent has several calls the oldest one wins.
func (r *Registry) FindByAgent(agent string) (string, Call, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		foundID string
		found   Call
		ok      bool
	)
	for id, c := range r.calls {
		if c.Agent != agent {
			continue
		}
		if !ok || c.StartedAt.Before(found.StartedAt) ||
			(c.StartedAt.Equal(found.StartedAt) && id < foundID) {
			foundID, found, ok = id, c, true
		}
	}
	return foundID, found, ok
}

// Get returns the call stored under id.
func (r *Registry) Get(id string) (Call, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calls[id]
	return c, ok
}

// Calls returns a copy of every active call keyed by call id.
func (r *Registry) Calls() map[string]Call {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Call, len(r.calls))
	for id, c := range r.calls {
		out[id] = c
	}
	return out
}

// Count returns the number of active calls and pending bridges.
func (r *Registry) Count() (calls, pending int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calls), len(r.pending)
}

// GetActiveCallCount returns the number of established calls.
func (r *Registry) GetActiveCallCount() int {
	calls, _ := r.Count()
	return calls
}

// GetPendingBridgeCount returns the number of bridges waiting for their agent leg.
func (r *Registry) GetPendingBridgeCount() int {
	_, pending := r.Count()
	return pending
}
