// Package nettask implements the wire codec for the NetTask protocol: the
// five PDU kinds exchanged between Server and Agent over UDP, all
// big-endian, framed as described in spec.md section 4.1.
//
// The dual use of message type 3 for both Server->Agent TASK PDUs and
// Agent->Server RESULT PDUs is intrinsic to the wire format (spec.md
// section 9). It is modelled here as two distinct encode/decode pairs;
// callers pick the right one based on which direction they are on, never
// by probing both shapes against the same bytes.
package nettask

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/netmon/nettask/internal/errs"
)

// MessageType is the leading byte of every NetTask datagram.
type MessageType byte

const (
	MsgRegister MessageType = 1
	MsgACK      MessageType = 2
	MsgTask     MessageType = 3 // also carries RESULT PDUs, see package doc
	MsgExit     MessageType = 4
)

// TaskType is the task_type field of a TASK PDU.
type TaskType uint8

const (
	TaskCPU        TaskType = 1
	TaskRAM        TaskType = 2
	TaskLatency    TaskType = 3
	TaskJitter     TaskType = 4
	TaskPacketLoss TaskType = 5
	TaskBandwidth  TaskType = 6
)

// usesIPv4Data reports whether this task type's data field is an IPv4
// address on the wire (spec.md section 3: types 3-5).
func (t TaskType) usesIPv4Data() bool {
	return t == TaskLatency || t == TaskJitter || t == TaskPacketLoss
}

// known reports whether t is one of the six task types spec.md section 3
// defines. DecodeTask fails with MALFORMED on any other value, per the
// codec contract in spec.md section 4.1.
func (t TaskType) known() bool {
	return t >= TaskCPU && t <= TaskBandwidth
}

func (t TaskType) String() string {
	switch t {
	case TaskCPU:
		return "CPU"
	case TaskRAM:
		return "RAM"
	case TaskLatency:
		return "LATENCY"
	case TaskJitter:
		return "JITTER"
	case TaskPacketLoss:
		return "PACKET_LOSS"
	case TaskBandwidth:
		return "BANDWIDTH"
	default:
		return fmt.Sprintf("TASK_TYPE(%d)", uint8(t))
	}
}

// AgentID is the fixed three-octet ASCII agent identifier.
type AgentID [3]byte

func (a AgentID) String() string { return string(a[:]) }

// ParseAgentID validates and converts a string into an AgentID. Per
// spec.md section 3 the ID is exactly three ASCII characters.
func ParseAgentID(s string) (AgentID, error) {
	var id AgentID
	if len(s) != 3 {
		return id, fmt.Errorf("agent id %q: %w", s, errs.ErrMalformed)
	}
	copy(id[:], s)
	return id, nil
}

// Task is the immutable measurement assignment described in spec.md
// section 3. Data holds the printable form: a dotted-quad for IPv4-typed
// tasks, otherwise an ASCII payload.
type Task struct {
	TaskID         uint16
	AgentID        AgentID
	Type           TaskType
	InterfaceCheck string
	Data           string
	Frequency      uint8
	Duration       uint8
}

// minHeaderLen is the minimum length (in bytes) PeekHeader accepts: a
// one-byte message type plus a two-byte field. Each decoder below checks
// its own PDU kind's length, and the Agent's receive loop applies its own
// 6-byte minimum (spec.md section 4.4 step 1) before peeking.
const minHeaderLen = 3

// PeekHeader reads the message type and the leading sequence-number-shaped
// field without fully decoding the PDU, for the Agent's receive loop
// (spec.md section 4.4) to decide whether to accept based on sequence
// before paying for a full decode.
func PeekHeader(b []byte) (MessageType, uint16, error) {
	if len(b) < minHeaderLen {
		return 0, 0, fmt.Errorf("datagram too short (%d bytes): %w", len(b), errs.ErrMalformed)
	}
	seq := binary.BigEndian.Uint16(b[1:3])
	return MessageType(b[0]), seq, nil
}

// EncodeRegister builds a REGISTER PDU: seq:u16 . agent_id:3s.
func EncodeRegister(seq uint16, id AgentID) []byte {
	buf := make([]byte, 0, 6)
	buf = append(buf, byte(MsgRegister))
	buf = appendUint16(buf, seq)
	buf = append(buf, id[:]...)
	return buf
}

// DecodeRegister parses a REGISTER PDU.
func DecodeRegister(b []byte) (seq uint16, id AgentID, err error) {
	if len(b) != 6 || MessageType(b[0]) != MsgRegister {
		return 0, id, fmt.Errorf("not a well-formed REGISTER PDU: %w", errs.ErrMalformed)
	}
	seq = binary.BigEndian.Uint16(b[1:3])
	copy(id[:], b[3:6])
	return seq, id, nil
}

// EncodeHandshakeACK builds the handshake-variant ACK: seq:u16 . agent_id:3s.
func EncodeHandshakeACK(seq uint16, id AgentID) []byte {
	buf := make([]byte, 0, 6)
	buf = append(buf, byte(MsgACK))
	buf = appendUint16(buf, seq)
	buf = append(buf, id[:]...)
	return buf
}

// DecodeHandshakeACK parses the handshake-variant ACK.
func DecodeHandshakeACK(b []byte) (seq uint16, id AgentID, err error) {
	if len(b) != 6 || MessageType(b[0]) != MsgACK {
		return 0, id, fmt.Errorf("not a well-formed handshake ACK: %w", errs.ErrMalformed)
	}
	seq = binary.BigEndian.Uint16(b[1:3])
	copy(id[:], b[3:6])
	return seq, id, nil
}

// EncodeACK builds the task-level ACK variant: seq:u16 only.
func EncodeACK(seq uint16) []byte {
	buf := make([]byte, 0, 3)
	buf = append(buf, byte(MsgACK))
	buf = appendUint16(buf, seq)
	return buf
}

// DecodeACK parses the task-level ACK variant.
func DecodeACK(b []byte) (seq uint16, err error) {
	if len(b) != 3 || MessageType(b[0]) != MsgACK {
		return 0, fmt.Errorf("not a well-formed task ACK: %w", errs.ErrMalformed)
	}
	return binary.BigEndian.Uint16(b[1:3]), nil
}

// EncodeExit builds an EXIT PDU. seq is conventionally 0.
func EncodeExit(seq uint16) []byte {
	buf := make([]byte, 0, 3)
	buf = append(buf, byte(MsgExit))
	buf = appendUint16(buf, seq)
	return buf
}

// DecodeExit parses an EXIT PDU.
func DecodeExit(b []byte) (seq uint16, err error) {
	if len(b) != 3 || MessageType(b[0]) != MsgExit {
		return 0, fmt.Errorf("not a well-formed EXIT PDU: %w", errs.ErrMalformed)
	}
	return binary.BigEndian.Uint16(b[1:3]), nil
}

// taskHeaderLen is the fixed portion of a TASK PDU before the variable
// iface/data region: type(1) + seq(2) + task_id(2) + task_type(1) + iface_len(1).
const taskHeaderLen = 7

// taskTrailerLen is the fixed trailer: freq(1) + duration(1).
const taskTrailerLen = 2

// EncodeTask builds a Server->Agent TASK PDU for the given sequence number.
// For IPv4-typed tasks, t.Data must be a valid dotted-quad string.
func EncodeTask(seq uint16, t Task) ([]byte, error) {
	iface := []byte(t.InterfaceCheck)
	if len(iface) > 255 {
		return nil, fmt.Errorf("interface_check too long (%d bytes): %w", len(iface), errs.ErrMalformed)
	}

	var data []byte
	if t.Type.usesIPv4Data() {
		ip := net.ParseIP(t.Data).To4()
		if ip == nil {
			return nil, fmt.Errorf("task data %q is not a valid IPv4 address: %w", t.Data, errs.ErrMalformed)
		}
		data = ip
	} else {
		data = []byte(t.Data)
	}

	buf := make([]byte, 0, taskHeaderLen+len(iface)+len(data)+taskTrailerLen)
	buf = append(buf, byte(MsgTask))
	buf = appendUint16(buf, seq)
	buf = appendUint16(buf, t.TaskID)
	buf = append(buf, byte(t.Type))
	buf = append(buf, byte(len(iface)))
	buf = append(buf, iface...)
	buf = append(buf, data...)
	buf = append(buf, t.Frequency, t.Duration)
	return buf, nil
}

// DecodeTask parses a Server->Agent TASK PDU and returns its assigned
// sequence number alongside the decoded Task.
func DecodeTask(b []byte) (seq uint16, t Task, err error) {
	if len(b) < taskHeaderLen+taskTrailerLen || MessageType(b[0]) != MsgTask {
		return 0, t, fmt.Errorf("TASK PDU too short (%d bytes): %w", len(b), errs.ErrMalformed)
	}
	seq = binary.BigEndian.Uint16(b[1:3])
	taskID := binary.BigEndian.Uint16(b[3:5])
	taskType := TaskType(b[5])
	ifaceLen := int(b[6])

	if !taskType.known() {
		return 0, t, fmt.Errorf("unknown task_type %d: %w", taskType, errs.ErrMalformed)
	}

	if taskHeaderLen+ifaceLen+taskTrailerLen > len(b) {
		return 0, t, fmt.Errorf("iface_len %d exceeds buffer: %w", ifaceLen, errs.ErrMalformed)
	}
	iface := string(b[taskHeaderLen : taskHeaderLen+ifaceLen])

	dataStart := taskHeaderLen + ifaceLen
	dataEnd := len(b) - taskTrailerLen
	if dataEnd < dataStart {
		return 0, t, fmt.Errorf("TASK PDU data region negative length: %w", errs.ErrMalformed)
	}
	rawData := b[dataStart:dataEnd]

	var data string
	if taskType.usesIPv4Data() {
		if len(rawData) < 4 {
			return 0, t, fmt.Errorf("IPv4 task data too short (%d bytes): %w", len(rawData), errs.ErrMalformed)
		}
		data = net.IPv4(rawData[0], rawData[1], rawData[2], rawData[3]).String()
	} else {
		data = string(rawData)
	}

	freq := b[dataEnd]
	duration := b[dataEnd+1]

	t = Task{
		TaskID:         taskID,
		Type:           taskType,
		InterfaceCheck: iface,
		Data:           data,
		Frequency:      freq,
		Duration:       duration,
	}
	return seq, t, nil
}

// EncodeResult builds an Agent->Server RESULT PDU (type byte shared with
// TASK, see package doc): task_id:u16 . agent_id:3s . result_bytes.
func EncodeResult(taskID uint16, id AgentID, result []byte) []byte {
	buf := make([]byte, 0, 1+2+3+len(result))
	buf = append(buf, byte(MsgTask))
	buf = appendUint16(buf, taskID)
	buf = append(buf, id[:]...)
	buf = append(buf, result...)
	return buf
}

// DecodeResult parses an Agent->Server RESULT PDU.
func DecodeResult(b []byte) (taskID uint16, id AgentID, result []byte, err error) {
	const minLen = 1 + 2 + 3
	if len(b) < minLen || MessageType(b[0]) != MsgTask {
		return 0, id, nil, fmt.Errorf("RESULT PDU too short (%d bytes): %w", len(b), errs.ErrMalformed)
	}
	taskID = binary.BigEndian.Uint16(b[1:3])
	copy(id[:], b[3:6])
	result = append([]byte(nil), b[6:]...)
	return taskID, id, result, nil
}

func appendUint16(buf []byte, v uint16) []byte {
	return append(buf, byte(v>>8), byte(v))
}
