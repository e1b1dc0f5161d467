package agent

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/netmon/nettask/internal/nettask"
	"github.com/netmon/nettask/pkg/logger"
)

const (
	readTimeout     = 1 * time.Second
	maxDatagramSize = 1024
	minDatagramLen  = 6
)

// Endpoint is the Agent NetTask Endpoint of spec.md section 4.4: a single
// receive loop enforcing sequence ordering and handing accepted Tasks to
// the Measurement Engine, synchronously, one at a time.
type Endpoint struct {
	conn       net.PacketConn
	serverAddr net.Addr
	engine     *Engine

	mu       sync.Mutex
	expected uint16
}

// NewEndpoint constructs an Endpoint with ExpectedSequence initialised to 1
// (spec.md section 3).
func NewEndpoint(conn net.PacketConn, serverAddr net.Addr, engine *Engine) *Endpoint {
	return &Endpoint{conn: conn, serverAddr: serverAddr, engine: engine, expected: 1}
}

// Run reads datagrams until ctx is cancelled, per SPEC_FULL.md section 5's
// translation of the shared `running` flag to context cancellation: a
// 1-second read deadline lets the loop notice cancellation between reads.
func (e *Endpoint) Run(ctx context.Context) error {
	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := e.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return err
		}
		n, addr, err := e.conn.ReadFrom(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("NetTask read failed: %v", err)
			continue
		}

		if n < minDatagramLen {
			logger.Warn("datagram from %s shorter than %d bytes, rejecting", addr, minDatagramLen)
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		e.handle(ctx, data)
	}
}

// handle performs a single decode of the datagram's header and, for a TASK
// PDU whose sequence matches ExpectedSequence, the single full decode and
// Measurement Engine dispatch described by the normative resolution of the
// Open Question in spec.md section 9 (one decode, one counter advance).
func (e *Endpoint) handle(ctx context.Context, data []byte) {
	msgType, seq, err := nettask.PeekHeader(data)
	if err != nil {
		logger.Warn("malformed datagram: %v", err)
		return
	}
	if msgType != nettask.MsgTask {
		// ACKs confirming a dispatch and any other out-of-band message kind
		// require no action on the Agent's receive loop (spec.md 4.4 step 3).
		return
	}

	e.mu.Lock()
	expected := e.expected
	e.mu.Unlock()

	if seq != expected {
		if seq < expected {
			// A retransmitted, already-processed Task: re-ACK so the Server
			// stops retransmitting, per spec.md section 8 scenario S4's
			// "implementations should re-ACK" guidance.
			e.conn.WriteTo(nettask.EncodeACK(seq), e.serverAddr)
		}
		logger.Warn("task sequence %d != expected %d, discarding", seq, expected)
		return
	}

	if _, err := e.conn.WriteTo(nettask.EncodeACK(seq), e.serverAddr); err != nil {
		logger.Error("ACK(seq=%d) failed: %v", seq, err)
	}

	_, task, err := nettask.DecodeTask(data)
	if err != nil {
		logger.Warn("malformed TASK(seq=%d): %v", seq, err)
		return
	}

	e.mu.Lock()
	e.expected = expected + 1
	e.mu.Unlock()

	e.engine.Run(ctx, task)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
