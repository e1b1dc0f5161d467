package server

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/netmon/nettask/internal/nettask"
)

// newTestEndpoint wires an Endpoint (and its collaborators) on an
// ephemeral loopback UDP port, returning it alongside a second socket
// standing in for an Agent.
func newTestEndpoint(t *testing.T) (*Endpoint, *Dispatcher, *Registry, *Store, net.PacketConn, *net.UDPConn) {
	t.Helper()
	serverConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { serverConn.Close() })

	agentConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen agent: %v", err)
	}
	t.Cleanup(func() { agentConn.Close() })

	registry := NewRegistry()
	queue := NewQueue()
	store := NewStore()
	instr := newInstrumentation(prometheus.NewRegistry(), registry, queue)
	dispatcher := NewDispatcher(serverConn, registry, queue, instr)
	endpoint := NewEndpoint(serverConn, registry, queue, dispatcher, store, instr)

	return endpoint, dispatcher, registry, store, serverConn, agentConn
}

func runEndpoint(t *testing.T, e *Endpoint) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go e.Run(ctx)
	return cancel
}

// TestRegistrationHandshake exercises scenario S1 from spec.md section 8:
// REGISTER -> ACK -> confirm ACK -> final ACK, ending with the agent
// present in the registry.
func TestRegistrationHandshake(t *testing.T) {
	endpoint, _, registry, _, serverConn, agentConn := newTestEndpoint(t)
	cancel := runEndpoint(t, endpoint)
	defer cancel()

	serverAddr := serverConn.LocalAddr()
	id, _ := nettask.ParseAgentID("A01")

	// Step 1: Agent -> Server REGISTER(seq=1, "A01")
	agentConn.WriteTo(nettask.EncodeRegister(1, id), serverAddr)

	// Step 2: Server -> Agent ACK(1, "A01")
	buf := make([]byte, 64)
	agentConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := agentConn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("reading handshake ACK: %v", err)
	}
	seq, gotID, err := nettask.DecodeHandshakeACK(buf[:n])
	if err != nil || seq != 1 || gotID != id {
		t.Fatalf("handshake ACK = (%d, %q, %v), want (1, %q, nil)", seq, gotID, err, id)
	}

	// Step 3: Agent -> Server confirming ACK(1, "A01")
	agentConn.WriteTo(nettask.EncodeHandshakeACK(1, id), serverAddr)

	// Step 4: Server -> Agent final ACK(1, "A01")
	n, _, err = agentConn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("reading final ACK: %v", err)
	}
	if _, _, err := nettask.DecodeHandshakeACK(buf[:n]); err != nil {
		t.Fatalf("final ACK decode: %v", err)
	}

	// Postcondition: registry contains the agent.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, ok := registry.Lookup(id); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("agent never appeared in registry")
}

// TestResultAlwaysAcked exercises testable property 4 from spec.md
// section 8: a RESULT always triggers exactly one ACK back to its source.
func TestResultAlwaysAcked(t *testing.T) {
	endpoint, _, _, store, serverConn, agentConn := newTestEndpoint(t)
	cancel := runEndpoint(t, endpoint)
	defer cancel()

	id, _ := nettask.ParseAgentID("A01")
	serverAddr := serverConn.LocalAddr()
	agentConn.WriteTo(nettask.EncodeResult(42, id, []byte("42.00%")), serverAddr)

	buf := make([]byte, 64)
	agentConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := agentConn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("reading RESULT ACK: %v", err)
	}
	seq, err := nettask.DecodeACK(buf[:n])
	if err != nil || seq != 42 {
		t.Fatalf("ACK = (%d, %v), want (42, nil)", seq, err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if v, ok := store.Latest(id, 42); ok && v == "42.00%" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("result never appeared in the metric store")
}

// TestDispatchRetriesThenDrops exercises the dispatch retry budget from
// spec.md section 4.3: an agent that never ACKs a TASK causes exactly
// maxDispatchRetries attempts, ending DROPPED.
func TestDispatchRetriesThenDrops(t *testing.T) {
	_, dispatcher, registry, _, serverConn, agentConn := newTestEndpoint(t)
	_ = serverConn

	id, _ := nettask.ParseAgentID("A01")
	registry.Put(id, agentConn.LocalAddr())

	queue := NewQueue()
	rec := queue.Enqueue(nettask.Task{AgentID: id, TaskID: 1, Type: nettask.TaskCPU, Frequency: 1, Duration: 1})
	dispatcher.queue = queue

	start := time.Now()
	dispatcher.dispatchOne(context.Background(), rec)
	elapsed := time.Since(start)

	if rec.State != Dropped {
		t.Errorf("state = %v, want Dropped", rec.State)
	}
	if rec.Attempt != maxDispatchRetries {
		t.Errorf("attempt = %d, want %d", rec.Attempt, maxDispatchRetries)
	}
	if elapsed < dispatchAckTimeout*time.Duration(maxDispatchRetries-1) {
		t.Errorf("elapsed = %v, expected at least %d timeouts", elapsed, maxDispatchRetries-1)
	}
}
