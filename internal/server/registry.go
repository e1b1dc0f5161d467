package server

import (
	"net"
	"sync"

	"github.com/netmon/nettask/internal/nettask"
)

// Registry is the AgentRegistry of spec.md section 3: AgentID to most
// recently observed Endpoint, populated only after a complete three-way
// handshake (spec.md section 4.2) and cleared on EXIT (section 4.7).
type Registry struct {
	mu     sync.RWMutex
	agents map[nettask.AgentID]net.Addr
	byAddr map[string]nettask.AgentID
}

func NewRegistry() *Registry {
	return &Registry{
		agents: make(map[nettask.AgentID]net.Addr),
		byAddr: make(map[string]nettask.AgentID),
	}
}

// Put records or updates the endpoint for id.
func (r *Registry) Put(id nettask.AgentID, addr net.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[id] = addr
	r.byAddr[addr.String()] = id
}

// LookupByAddr returns the AgentID registered against addr, if any. Used
// to attribute task-level ACKs and EXIT PDUs, which do not themselves
// carry an agent_id on the wire (spec.md section 4.1), to a registered
// agent.
func (r *Registry) LookupByAddr(addr net.Addr) (nettask.AgentID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byAddr[addr.String()]
	return id, ok
}

// Lookup returns the endpoint for id and whether it is registered.
func (r *Registry) Lookup(id nettask.AgentID) (net.Addr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	addr, ok := r.agents[id]
	return addr, ok
}

// Remove drops id from the registry, per the EXIT handler (spec.md 4.7)
// and scenario S6.
func (r *Registry) Remove(id nettask.AgentID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if addr, ok := r.agents[id]; ok {
		delete(r.byAddr, addr.String())
	}
	delete(r.agents, id)
}

// List returns a snapshot of the currently registered agents, for the
// operator's "list agents" menu entry (spec.md section 6).
func (r *Registry) List() map[nettask.AgentID]net.Addr {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[nettask.AgentID]net.Addr, len(r.agents))
	for id, addr := range r.agents {
		out[id] = addr
	}
	return out
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
