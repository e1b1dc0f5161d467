package agent

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/netmon/nettask/internal/nettask"
)

func TestSubmitResultSucceedsOnAck(t *testing.T) {
	agentConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen agent: %v", err)
	}
	defer agentConn.Close()

	serverConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen server: %v", err)
	}
	defer serverConn.Close()

	go func() {
		buf := make([]byte, 1024)
		n, addr, err := serverConn.ReadFrom(buf)
		if err != nil {
			return
		}
		taskID, _, _, err := nettask.DecodeResult(buf[:n])
		if err != nil {
			return
		}
		serverConn.WriteTo(nettask.EncodeACK(taskID), addr)
	}()

	id, _ := nettask.ParseAgentID("A01")
	err = SubmitResult(context.Background(), agentConn, serverConn.LocalAddr(), 42, id, []byte("result"))
	if err != nil {
		t.Fatalf("SubmitResult: %v", err)
	}
}

// TestSubmitResultSkipsStaleAck reproduces the shared-socket race where a
// dispatch's confirming task-level ACK (a different sequence number) is
// still buffered on the agent socket when SubmitResult starts reading:
// it must keep reading within the same attempt's deadline rather than
// treating the mismatch as a reason to retransmit the RESULT.
func TestSubmitResultSkipsStaleAck(t *testing.T) {
	agentConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen agent: %v", err)
	}
	defer agentConn.Close()

	serverConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen server: %v", err)
	}
	defer serverConn.Close()

	resultWrites := 0
	go func() {
		// A stale confirming ACK for an unrelated dispatch sequence,
		// already sitting on the wire before the RESULT is even sent.
		serverConn.WriteTo(nettask.EncodeACK(7), agentConn.LocalAddr())

		buf := make([]byte, 1024)
		for {
			n, addr, err := serverConn.ReadFrom(buf)
			if err != nil {
				return
			}
			taskID, _, _, err := nettask.DecodeResult(buf[:n])
			if err != nil {
				continue
			}
			resultWrites++
			serverConn.WriteTo(nettask.EncodeACK(taskID), addr)
		}
	}()

	id, _ := nettask.ParseAgentID("A01")
	err = SubmitResult(context.Background(), agentConn, serverConn.LocalAddr(), 42, id, []byte("result"))
	if err != nil {
		t.Fatalf("SubmitResult: %v", err)
	}
	if resultWrites != 1 {
		t.Errorf("server observed %d RESULT submissions, want exactly 1", resultWrites)
	}
}

func TestSubmitResultExhaustsRetriesWithoutAck(t *testing.T) {
	agentConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen agent: %v", err)
	}
	defer agentConn.Close()

	// An address nothing listens on: every attempt times out.
	deadConn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen dead: %v", err)
	}
	deadAddr := deadConn.LocalAddr()
	deadConn.Close()

	id, _ := nettask.ParseAgentID("A01")
	start := time.Now()
	err = SubmitResult(context.Background(), agentConn, deadAddr, 42, id, []byte("result"))
	if err == nil {
		t.Fatal("expected an error after exhausting submit retries")
	}
	if elapsed := time.Since(start); elapsed < submitAckTimeout*(maxSubmitRetries-1) {
		t.Errorf("elapsed = %v, expected at least %d timeouts", elapsed, maxSubmitRetries-1)
	}
}
