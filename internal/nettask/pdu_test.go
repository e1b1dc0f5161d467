package nettask

import (
	"errors"
	"testing"

	"github.com/netmon/nettask/internal/errs"
)

func TestRegisterEncodeDecode(t *testing.T) {
	id, _ := ParseAgentID("A01")
	data := EncodeRegister(1, id)
	if len(data) != 6 {
		t.Fatalf("REGISTER length = %d, want 6", len(data))
	}

	seq, gotID, err := DecodeRegister(data)
	if err != nil {
		t.Fatalf("DecodeRegister: %v", err)
	}
	if seq != 1 {
		t.Errorf("seq = %d, want 1", seq)
	}
	if gotID != id {
		t.Errorf("agent id = %q, want %q", gotID, id)
	}
}

func TestHandshakeACKEncodeDecode(t *testing.T) {
	id, _ := ParseAgentID("A01")
	data := EncodeHandshakeACK(2, id)

	seq, gotID, err := DecodeHandshakeACK(data)
	if err != nil {
		t.Fatalf("DecodeHandshakeACK: %v", err)
	}
	if seq != 2 || gotID != id {
		t.Errorf("got (%d, %q), want (2, %q)", seq, gotID, id)
	}
}

func TestTaskACKEncodeDecode(t *testing.T) {
	data := EncodeACK(7)
	if len(data) != 3 {
		t.Fatalf("ACK length = %d, want 3", len(data))
	}
	seq, err := DecodeACK(data)
	if err != nil {
		t.Fatalf("DecodeACK: %v", err)
	}
	if seq != 7 {
		t.Errorf("seq = %d, want 7", seq)
	}
}

func TestExitEncodeDecode(t *testing.T) {
	data := EncodeExit(0)
	seq, err := DecodeExit(data)
	if err != nil {
		t.Fatalf("DecodeExit: %v", err)
	}
	if seq != 0 {
		t.Errorf("seq = %d, want 0", seq)
	}
}

func TestTaskEncodeDecodeRoundTrip_ASCII(t *testing.T) {
	want := Task{
		TaskID:         42,
		Type:           TaskCPU,
		InterfaceCheck: "eth0",
		Data:           "",
		Frequency:      3,
		Duration:       9,
	}
	data, err := EncodeTask(1, want)
	if err != nil {
		t.Fatalf("EncodeTask: %v", err)
	}
	seq, got, err := DecodeTask(data)
	if err != nil {
		t.Fatalf("DecodeTask: %v", err)
	}
	if seq != 1 {
		t.Errorf("seq = %d, want 1", seq)
	}
	got.AgentID = AgentID{} // AgentID is not carried on TASK PDUs
	want.AgentID = AgentID{}
	if got != want {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestTaskEncodeDecodeRoundTrip_IPv4(t *testing.T) {
	want := Task{
		TaskID:    5,
		Type:      TaskLatency,
		Data:      "10.0.0.1",
		Frequency: 5,
		Duration:  0,
	}
	data, err := EncodeTask(7, want)
	if err != nil {
		t.Fatalf("EncodeTask: %v", err)
	}
	_, got, err := DecodeTask(data)
	if err != nil {
		t.Fatalf("DecodeTask: %v", err)
	}
	if got.Data != "10.0.0.1" {
		t.Errorf("data = %q, want dotted-quad %q", got.Data, "10.0.0.1")
	}
}

func TestDecodeTask_MalformedIfaceLen(t *testing.T) {
	// iface_len claims 200 bytes but the buffer (header plus freq/duration
	// trailer) doesn't carry them.
	data := []byte{byte(MsgTask), 0, 1, 0, 1, byte(TaskCPU), 200, 5, 30}
	if _, _, err := DecodeTask(data); !errors.Is(err, errs.ErrMalformed) {
		t.Errorf("err = %v, want MALFORMED", err)
	}
}

func TestDecodeTask_ShortIPv4Data(t *testing.T) {
	task := Task{TaskID: 1, Type: TaskJitter, Data: "10.0.0.1", Frequency: 5}
	data, err := EncodeTask(1, task)
	if err != nil {
		t.Fatalf("EncodeTask: %v", err)
	}
	// Truncate two bytes out of the IPv4 data region.
	truncated := append(data[:taskHeaderLen+2:taskHeaderLen+2], data[len(data)-2:]...)
	if _, _, err := DecodeTask(truncated); !errors.Is(err, errs.ErrMalformed) {
		t.Errorf("err = %v, want MALFORMED", err)
	}
}

func TestDecodeTask_UnknownTaskType(t *testing.T) {
	// task_type=99 is not one of the six defined types.
	data := []byte{byte(MsgTask), 0, 1, 0, 1, 99, 0, 5, 30}
	if _, _, err := DecodeTask(data); !errors.Is(err, errs.ErrMalformed) {
		t.Errorf("err = %v, want MALFORMED", err)
	}
}

func TestResultEncodeDecode(t *testing.T) {
	id, _ := ParseAgentID("A01")
	want := []byte("Percentagem de uso da CPU: 42.00%")
	data := EncodeResult(42, id, want)

	taskID, gotID, result, err := DecodeResult(data)
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if taskID != 42 {
		t.Errorf("task id = %d, want 42", taskID)
	}
	if gotID != id {
		t.Errorf("agent id = %q, want %q", gotID, id)
	}
	if string(result) != string(want) {
		t.Errorf("result = %q, want %q", result, want)
	}
}

func TestPeekHeader(t *testing.T) {
	id, _ := ParseAgentID("A01")
	data := EncodeRegister(9, id)
	msgType, seq, err := PeekHeader(data)
	if err != nil {
		t.Fatalf("PeekHeader: %v", err)
	}
	if msgType != MsgRegister || seq != 9 {
		t.Errorf("got (%v, %d), want (%v, 9)", msgType, seq, MsgRegister)
	}
}

func TestPeekHeader_TooShort(t *testing.T) {
	if _, _, err := PeekHeader([]byte{1, 2}); !errors.Is(err, errs.ErrMalformed) {
		t.Errorf("err = %v, want MALFORMED", err)
	}
}
