package server

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/netmon/nettask/internal/errs"
	"github.com/netmon/nettask/internal/nettask"
	"github.com/netmon/nettask/pkg/logger"
)

const (
	maxDatagramSize = 1024
	readTimeout     = 1 * time.Second
)

// Endpoint is the Server NetTask Endpoint of spec.md section 4.7: a
// single receive loop demultiplexing on the leading message type byte.
type Endpoint struct {
	conn       net.PacketConn
	registry   *Registry
	handshakes *handshakes
	queue      *Queue
	dispatcher *Dispatcher
	store      *Store
	instr      *instrumentation
}

func NewEndpoint(conn net.PacketConn, registry *Registry, queue *Queue, dispatcher *Dispatcher, store *Store, instr *instrumentation) *Endpoint {
	return &Endpoint{
		conn:       conn,
		registry:   registry,
		handshakes: newHandshakes(),
		queue:      queue,
		dispatcher: dispatcher,
		store:      store,
		instr:      instr,
	}
}

// Run reads datagrams until ctx is cancelled. Reads use a short deadline
// so the loop can notice cancellation promptly (spec.md section 5: "the
// Agent's receive loop polls a shared running flag... allows the loop to
// drain within one socket timeout" — the Server applies the same pattern).
func (e *Endpoint) Run(ctx context.Context) error {
	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		setReadDeadline(e.conn)
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

		data := make([]byte, n)
		copy(data, buf[:n])
		e.handle(data, addr)
	}
}

// handle performs exactly one decode of the datagram and dispatches it,
// per the normative resolution of the Open Question in spec.md section 9
// (no re-unpacking of the header, no double retry-counter advancement).
func (e *Endpoint) handle(data []byte, addr net.Addr) {
	msgType, _, err := nettask.PeekHeader(data)
	if err != nil {
		logger.Warn("malformed datagram from %s: %v", addr, err)
		return
	}

	switch msgType {
	case nettask.MsgRegister:
		e.handleRegister(data, addr)
	case nettask.MsgACK:
		e.handleAck(data, addr)
	case nettask.MsgTask: // RESULT, from this direction
		e.handleResult(data, addr)
	case nettask.MsgExit:
		e.handleExit(data, addr)
	default:
		logger.Warn("dropping datagram from %s with unknown type 0x%02x", addr, byte(msgType))
	}
}

func (e *Endpoint) handleRegister(data []byte, addr net.Addr) {
	_, id, err := nettask.DecodeRegister(data)
	if err != nil {
		logger.Warn("malformed REGISTER from %s: %v", addr, err)
		return
	}
	e.handshakes.HandleRegister(e.conn, addr, id)
}

func (e *Endpoint) handleAck(data []byte, addr net.Addr) {
	if len(data) == 6 {
		_, id, err := nettask.DecodeHandshakeACK(data)
		if err != nil {
			logger.Warn("malformed handshake ACK from %s: %v", addr, err)
			return
		}
		e.handshakes.HandleConfirm(e.conn, addr, e.registry, id)
		return
	}

	seq, err := nettask.DecodeACK(data)
	if err != nil {
		logger.Warn("malformed ACK from %s: %v", addr, err)
		return
	}
	agent, ok := e.registry.LookupByAddr(addr)
	if !ok {
		logger.Warn("ACK(seq=%d) from unregistered source %s, dropping", seq, addr)
		return
	}
	e.dispatcher.NotifyAck(agent, seq)
}

func (e *Endpoint) handleResult(data []byte, addr net.Addr) {
	taskID, id, result, err := nettask.DecodeResult(data)
	if err != nil {
		logger.Warn("malformed RESULT from %s: %v", addr, err)
		return
	}

	// A RESULT always triggers exactly one ACK back to its source
	// (spec.md section 8, property 4), regardless of store outcome.
	if _, err := e.conn.WriteTo(nettask.EncodeACK(taskID), addr); err != nil {
		logger.Error("ACK for RESULT(task=%d) to %s failed: %v", taskID, addr, err)
	}

	e.store.Append(id, taskID, string(result))
	e.instr.resultsReceived.Inc()
	logger.Info("result for agent=%s task=%d: %s", id, taskID, result)
}

func (e *Endpoint) handleExit(data []byte, addr net.Addr) {
	if _, err := nettask.DecodeExit(data); err != nil {
		logger.Warn("malformed EXIT from %s: %v", addr, err)
		return
	}
	id, ok := e.registry.LookupByAddr(addr)
	if !ok {
		return
	}
	e.registry.Remove(id)
	logger.Info("agent %s exited, removed from registry", id)
}

func setReadDeadline(conn net.PacketConn) {
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, errs.ErrTimeout)
}
