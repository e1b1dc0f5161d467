package server

import (
	"sync"

	"github.com/netmon/nettask/internal/nettask"
)

// DispatchState is the per-task-dispatch state machine of spec.md
// section 4.9: QUEUED -> IN_FLIGHT(attempt) -> CONFIRMED | DROPPED.
type DispatchState int

const (
	Queued DispatchState = iota
	InFlight
	Confirmed
	Dropped
)

func (s DispatchState) String() string {
	switch s {
	case Queued:
		return "QUEUED"
	case InFlight:
		return "IN_FLIGHT"
	case Confirmed:
		return "CONFIRMED"
	case Dropped:
		return "DROPPED"
	default:
		return "UNKNOWN"
	}
}

// TaskRecord is the Server-local view of a loaded Task plus its dispatch
// progress (SPEC_FULL.md section 3), updated by the Dispatcher. The
// operator menu does not display TaskRecords: its "list agents" and
// "display metrics" entries read the Registry and the Store.
type TaskRecord struct {
	Task     nettask.Task
	Sequence uint16
	Agent    nettask.AgentID
	State    DispatchState
	Attempt  int
}

// Queue is the PendingQueue and SequenceCounters of spec.md section 3: a
// strict per-agent FIFO of outbound SequencedPDUs, independent across
// agents, with sequence numbers assigned at enqueue time starting at 1
// and increasing by exactly 1 per agent (spec.md section 8, property 3).
type Queue struct {
	mu      sync.Mutex
	nextSeq map[nettask.AgentID]uint16
	fifo    map[nettask.AgentID][]*TaskRecord
}

func NewQueue() *Queue {
	return &Queue{
		nextSeq: make(map[nettask.AgentID]uint16),
		fifo:    make(map[nettask.AgentID][]*TaskRecord),
	}
}

// Enqueue assigns the next sequence number for task.AgentID and appends
// the resulting TaskRecord to that agent's FIFO.
func (q *Queue) Enqueue(task nettask.Task) *TaskRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	seq := q.nextSeq[task.AgentID]
	if seq == 0 {
		seq = 1
	}
	q.nextSeq[task.AgentID] = seq + 1

	rec := &TaskRecord{Task: task, Sequence: seq, Agent: task.AgentID, State: Queued}
	q.fifo[task.AgentID] = append(q.fifo[task.AgentID], rec)
	return rec
}

// Pop removes and returns the head of agent's FIFO, if any.
func (q *Queue) Pop(agent nettask.AgentID) (*TaskRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.fifo[agent]
	if len(items) == 0 {
		return nil, false
	}
	rec := items[0]
	q.fifo[agent] = items[1:]
	return rec, true
}

// Depth returns the number of tasks still queued for agent.
func (q *Queue) Depth(agent nettask.AgentID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fifo[agent])
}

// Agents returns the set of agents that currently have a non-empty FIFO.
func (q *Queue) Agents() []nettask.AgentID {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]nettask.AgentID, 0, len(q.fifo))
	for agent, items := range q.fifo {
		if len(items) > 0 {
			out = append(out, agent)
		}
	}
	return out
}
