package agent

import (
	"context"
	"net"
	"time"

	"github.com/netmon/nettask/internal/errs"
	"github.com/netmon/nettask/internal/nettask"
	"github.com/netmon/nettask/pkg/logger"
)

const (
	submitAckTimeout = 1 * time.Second
	maxSubmitRetries = 3
)

// SubmitResult implements the reliable-send helper of spec.md section 4.4:
// encode RESULT, transmit, wait up to 1s for ACK(type=2, seq=task_id),
// retry up to 3 times. Failure is logged, not fatal — callers never abort
// a probe run because a result could not be delivered.
//
// The caller is expected to hold exclusive use of conn for the duration of
// this call: it is invoked synchronously from within the single Measurement
// Engine invocation that the receive loop blocks on (spec.md section 4.5),
// so there is no concurrent reader racing for the ACK datagram.
func SubmitResult(ctx context.Context, conn net.PacketConn, serverAddr net.Addr, taskID uint16, id nettask.AgentID, result []byte) error {
	payload := nettask.EncodeResult(taskID, id, result)

	for attempt := 1; attempt <= maxSubmitRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if _, err := conn.WriteTo(payload, serverAddr); err != nil {
			logger.Error("submitting result for task %d, attempt %d: %v", taskID, attempt, err)
			continue
		}

		if waitForSubmitAck(conn, taskID, attempt) {
			return nil
		}
	}

	logger.Error("result for task %d exhausted %d submit attempts, dropping", taskID, maxSubmitRetries)
	return errs.ErrExhausted
}

// waitForSubmitAck reads from the shared socket until a matching
// ACK(seq=taskID) arrives or the 1s deadline elapses. A stale datagram
// still buffered on the socket — such as the dispatcher's confirming
// task-level ACK, which arrives after the receive loop has handed this
// Task to the Engine and so is never read by that loop — is skipped
// rather than treated as a reason to retransmit the RESULT; reading
// continues against the same attempt's deadline.
func waitForSubmitAck(conn net.PacketConn, taskID uint16, attempt int) bool {
	deadline := time.Now().Add(submitAckTimeout)
	buf := make([]byte, 16)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			logger.Warn("no ACK for result of task %d, attempt %d/%d", taskID, attempt, maxSubmitRetries)
			return false
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			logger.Error("setting submit read deadline: %v", err)
			return false
		}

		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			logger.Warn("no ACK for result of task %d, attempt %d/%d", taskID, attempt, maxSubmitRetries)
			return false
		}

		seq, err := nettask.DecodeACK(buf[:n])
		if err != nil || seq != taskID {
			logger.Warn("skipping non-matching datagram (seq=%d) while awaiting ACK for task %d", seq, taskID)
			continue
		}
		return true
	}
}
