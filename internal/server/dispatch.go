package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/netmon/nettask/internal/errs"
	"github.com/netmon/nettask/internal/nettask"
	"github.com/netmon/nettask/pkg/logger"
)

const (
	dispatchAckTimeout = 2 * time.Second
	maxDispatchRetries = 3
)

// Dispatcher implements the Task Dispatch Protocol of spec.md section
// 4.3: per-agent FIFO drain with bounded retries, waiting synchronously
// for a task-level ACK on each attempt.
type Dispatcher struct {
	conn     net.PacketConn
	registry *Registry
	queue    *Queue
	instr    *instrumentation

	mu      sync.Mutex
	waiters map[nettask.AgentID]map[uint16]chan struct{}
}

func NewDispatcher(conn net.PacketConn, registry *Registry, queue *Queue, instr *instrumentation) *Dispatcher {
	return &Dispatcher{
		conn:     conn,
		registry: registry,
		queue:    queue,
		instr:    instr,
		waiters:  make(map[nettask.AgentID]map[uint16]chan struct{}),
	}
}

// NotifyAck is called by the NetTask endpoint's receive loop when a
// task-level ACK (type=2, seq-only) arrives. It is a no-op if no dispatch
// is currently waiting on that sequence, i.e. a late ACK (spec.md 4.7).
func (d *Dispatcher) NotifyAck(agent nettask.AgentID, seq uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if perAgent, ok := d.waiters[agent]; ok {
		if ch, ok := perAgent[seq]; ok {
			close(ch)
			delete(perAgent, seq)
		}
	}
}

func (d *Dispatcher) register(agent nettask.AgentID, seq uint16) chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.waiters[agent] == nil {
		d.waiters[agent] = make(map[uint16]chan struct{})
	}
	ch := make(chan struct{})
	d.waiters[agent][seq] = ch
	return ch
}

func (d *Dispatcher) unregister(agent nettask.AgentID, seq uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.waiters[agent], seq)
}

// DrainAgent dispatches every currently queued task for agent, in FIFO
// order, blocking until each either confirms or exhausts its retry
// budget. This backs the operator's "dispatch queued tasks" menu entry
// (spec.md section 6); the source dispatches on a single operator action,
// which this satisfies one agent's worth at a time.
func (d *Dispatcher) DrainAgent(ctx context.Context, agent nettask.AgentID) {
	for {
		rec, ok := d.queue.Pop(agent)
		if !ok {
			return
		}
		d.dispatchOne(ctx, rec)
	}
}

func (d *Dispatcher) dispatchOne(ctx context.Context, rec *TaskRecord) {
	corr := uuid.NewString()[:8]
	addr, ok := d.registry.Lookup(rec.Agent)
	if !ok {
		rec.State = Dropped
		logger.Warn("[%s] no endpoint for agent %s, dropping task %d (seq=%d)", corr, rec.Agent, rec.Task.TaskID, rec.Sequence)
		return
	}

	payload, err := nettask.EncodeTask(rec.Sequence, rec.Task)
	if err != nil {
		rec.State = Dropped
		logger.Error("[%s] cannot encode task %d for %s: %v", corr, rec.Task.TaskID, rec.Agent, err)
		return
	}

	rec.State = InFlight
	for attempt := 1; attempt <= maxDispatchRetries; attempt++ {
		rec.Attempt = attempt
		d.instr.dispatchAttempts.Inc()

		ch := d.register(rec.Agent, rec.Sequence)
		if _, err := d.conn.WriteTo(payload, addr); err != nil {
			logger.Error("[%s] write to %s failed: %v", corr, addr, fmt.Errorf("%w", errs.ErrTransportFailed))
			d.unregister(rec.Agent, rec.Sequence)
			continue
		}

		select {
		case <-ch:
			// Matching task-level ACK arrived; send the final confirming ACK.
			if _, err := d.conn.WriteTo(nettask.EncodeACK(rec.Sequence), addr); err != nil {
				logger.Error("[%s] confirming ACK to %s failed: %v", corr, addr, err)
			}
			rec.State = Confirmed
			d.instr.dispatchConfirmed.Inc()
			logger.Info("[%s] task %d confirmed for %s (seq=%d, attempt=%d)", corr, rec.Task.TaskID, rec.Agent, rec.Sequence, attempt)
			return
		case <-time.After(dispatchAckTimeout):
			d.unregister(rec.Agent, rec.Sequence)
			logger.Warn("[%s] timeout waiting for ACK(seq=%d) from %s, attempt %d/%d", corr, rec.Sequence, rec.Agent, attempt, maxDispatchRetries)
		case <-ctx.Done():
			d.unregister(rec.Agent, rec.Sequence)
			return
		}
	}

	rec.State = Dropped
	d.instr.dispatchDropped.Inc()
	logger.Warn("[%s] task %d to %s exhausted retries, dropping (seq=%d)", corr, rec.Task.TaskID, rec.Agent, rec.Sequence)
}
