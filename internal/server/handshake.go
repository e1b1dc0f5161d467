package server

import (
	"net"
	"sync"

	"github.com/netmon/nettask/internal/nettask"
	"github.com/netmon/nettask/pkg/logger"
)

// pendingHandshake tracks an in-progress three-way registration (spec.md
// section 4.2) between the initial REGISTER and the Agent's confirming
// ACK. The Server's single shared socket serves every Agent concurrently,
// so "blocks for a second datagram" from spec.md's single-client source
// becomes "remembers this source until its confirming ACK arrives",
// guarded by handshakes.mu like every other shared collection (spec.md
// section 5).
type pendingHandshake struct {
	addr net.Addr
}

type handshakes struct {
	mu      sync.Mutex
	pending map[nettask.AgentID]pendingHandshake
}

func newHandshakes() *handshakes {
	return &handshakes{pending: make(map[nettask.AgentID]pendingHandshake)}
}

// HandleRegister implements spec.md section 4.2 steps 1-2: record the
// proposed agent as pending and ACK it back to the source.
func (h *handshakes) HandleRegister(conn net.PacketConn, addr net.Addr, id nettask.AgentID) {
	h.mu.Lock()
	h.pending[id] = pendingHandshake{addr: addr}
	h.mu.Unlock()

	if _, err := conn.WriteTo(nettask.EncodeHandshakeACK(1, id), addr); err != nil {
		logger.Error("handshake ACK to %s failed: %v", addr, err)
	}
}

// HandleConfirm implements spec.md section 4.2 steps 4-5: validate the
// Agent's confirming ACK (type==2, echoed agent_id matches, same source),
// insert into the registry, and send the final ACK. Any validation
// failure abandons the handshake without registering the agent.
func (h *handshakes) HandleConfirm(conn net.PacketConn, addr net.Addr, registry *Registry, id nettask.AgentID) {
	h.mu.Lock()
	pending, ok := h.pending[id]
	if ok {
		delete(h.pending, id)
	}
	h.mu.Unlock()

	if !ok || pending.addr.String() != addr.String() {
		logger.Warn("handshake confirm from %s for %s has no matching pending registration, dropping", addr, id)
		return
	}

	registry.Put(id, addr)
	if _, err := conn.WriteTo(nettask.EncodeHandshakeACK(1, id), addr); err != nil {
		logger.Error("final handshake ACK to %s failed: %v", addr, err)
		return
	}
	logger.Success("agent %s registered from %s", id, addr)
}
