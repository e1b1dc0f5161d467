package probe

import (
	"errors"
	"testing"
	"time"

	"github.com/netmon/nettask/internal/errs"
)

const samplePingOutput = `PING 10.0.0.1 (10.0.0.1) 56(84) bytes of data.
64 bytes from 10.0.0.1: icmp_seq=1 ttl=64 time=11.2 ms
64 bytes from 10.0.0.1: icmp_seq=2 ttl=64 time=13.8 ms
64 bytes from 10.0.0.1: icmp_seq=3 ttl=64 time=10.1 ms

--- 10.0.0.1 ping statistics ---
3 packets transmitted, 3 received, 0% packet loss, time 2003ms
rtt min/avg/max/mdev = 10.100/11.700/13.800/1.540 ms
`

func TestParsePingOutput(t *testing.T) {
	res, err := parsePingOutput(samplePingOutput)
	if err != nil {
		t.Fatalf("parsePingOutput: %v", err)
	}
	if len(res.RTTs) != 3 {
		t.Fatalf("len(RTTs) = %d, want 3", len(res.RTTs))
	}
	if res.AvgRTT != 11700*time.Microsecond {
		t.Errorf("AvgRTT = %v, want 11.7ms", res.AvgRTT)
	}
	if res.LossPct != 0 {
		t.Errorf("LossPct = %v, want 0", res.LossPct)
	}
}

func TestParsePingOutput_WithLoss(t *testing.T) {
	out := `--- host ping statistics ---
5 packets transmitted, 3 received, 40% packet loss, time 4004ms
rtt min/avg/max/mdev = 9.0/10.0/11.0/0.5 ms
`
	res, err := parsePingOutput(out)
	if err != nil {
		t.Fatalf("parsePingOutput: %v", err)
	}
	if res.LossPct != 40 {
		t.Errorf("LossPct = %v, want 40", res.LossPct)
	}
}

func TestParsePingOutput_Unparseable(t *testing.T) {
	if _, err := parsePingOutput("garbage\n"); !errors.Is(err, errs.ErrProbeFailed) {
		t.Errorf("err = %v, want PROBE_FAILED", err)
	}
}

func TestJitter(t *testing.T) {
	rtts := []time.Duration{
		10 * time.Millisecond,
		15 * time.Millisecond, // +5ms
		12 * time.Millisecond, // -3ms
		20 * time.Millisecond, // +8ms, the max
	}
	if got := Jitter(rtts); got != 8*time.Millisecond {
		t.Errorf("Jitter = %v, want 8ms", got)
	}
}

func TestJitter_Empty(t *testing.T) {
	if got := Jitter(nil); got != 0 {
		t.Errorf("Jitter(nil) = %v, want 0", got)
	}
}

func TestParseIperfOutput(t *testing.T) {
	out := `[  3] 0.0-10.0 sec  119 MBytes  99.6 Mbits/sec   0.045 ms 0/85000 (0%)`
	val, err := parseIperfOutput(out)
	if err != nil {
		t.Fatalf("parseIperfOutput: %v", err)
	}
	if val != 99.6 {
		t.Errorf("bandwidth = %v, want 99.6", val)
	}
}

func TestParseIperfOutput_Unparseable(t *testing.T) {
	if _, err := parseIperfOutput("no numbers here"); !errors.Is(err, errs.ErrProbeFailed) {
		t.Errorf("err = %v, want PROBE_FAILED", err)
	}
}
