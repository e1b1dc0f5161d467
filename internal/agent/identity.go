// Package agent implements the Agent side of the NetTask/AlertFlow stack:
// identity and registration, the NetTask receive loop and reliable result
// submission, the Measurement Engine, and the Threshold Evaluator (spec.md
// sections 4.2, 4.4, 4.5, 4.6).
package agent

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/netmon/nettask/internal/errs"
	"github.com/netmon/nettask/internal/nettask"
	"github.com/netmon/nettask/pkg/logger"
)

// DeriveAgentID derives the three-octet AgentID from a hostname, taking its
// first three characters upper-cased (spec.md section 3: "typically the
// first three characters of a host name").
func DeriveAgentID(hostname string) (nettask.AgentID, error) {
	if len(hostname) < 3 {
		return nettask.AgentID{}, fmt.Errorf("hostname %q shorter than 3 characters: %w", hostname, errs.ErrMalformed)
	}
	runes := []rune(hostname)
	id := make([]byte, 3)
	for i := 0; i < 3; i++ {
		r := runes[i]
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		id[i] = byte(r)
	}
	return nettask.ParseAgentID(string(id))
}

const (
	registerTimeout = 2 * time.Second
)

// Register performs the three-way handshake of spec.md section 4.2 against
// serverAddr over conn, blocking until the final confirming ACK arrives or
// the handshake fails. Per spec.md section 4.2, there is no retry budget on
// the Agent side: a failed step abandons the handshake, leaving the caller
// to decide to exit (as the source does) or retry at a higher level.
func Register(ctx context.Context, conn net.PacketConn, serverAddr net.Addr, id nettask.AgentID) error {
	if err := conn.SetReadDeadline(time.Now().Add(registerTimeout)); err != nil {
		return fmt.Errorf("setting registration read deadline: %w", errs.ErrTransportFailed)
	}

	if _, err := conn.WriteTo(nettask.EncodeRegister(1, id), serverAddr); err != nil {
		return fmt.Errorf("sending REGISTER: %w", errs.ErrTransportFailed)
	}

	buf := make([]byte, 64)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		return fmt.Errorf("waiting for handshake ACK: %w", errs.ErrTimeout)
	}
	seq, ackID, err := nettask.DecodeHandshakeACK(buf[:n])
	if err != nil || seq != 1 || ackID != id {
		return fmt.Errorf("unexpected handshake ACK(seq=%d, id=%s): %w", seq, ackID, errs.ErrMalformed)
	}

	if _, err := conn.WriteTo(nettask.EncodeHandshakeACK(1, id), serverAddr); err != nil {
		return fmt.Errorf("sending confirming ACK: %w", errs.ErrTransportFailed)
	}

	n, _, err = conn.ReadFrom(buf)
	if err != nil {
		return fmt.Errorf("waiting for final ACK: %w", errs.ErrTimeout)
	}
	if seq, finalID, err := nettask.DecodeHandshakeACK(buf[:n]); err != nil || seq != 1 || finalID != id {
		return fmt.Errorf("unexpected final ACK(seq=%d, id=%s): %w", seq, finalID, errs.ErrMalformed)
	}

	logger.Success("agent %s registered with %s", id, serverAddr)
	return nil
}
