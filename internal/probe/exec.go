package probe

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/netmon/nettask/internal/errs"
)

// ExecRunner shells out to the canonical `ping` and `iperf` binaries named
// in spec.md section 6 and scrapes their line-oriented output.
type ExecRunner struct {
	// PingPath and IperfPath override the binaries invoked; empty means
	// use "ping"/"iperf" from $PATH. Exposed for tests that stub a
	// lookalike script without faking the whole Runner interface.
	PingPath  string
	IperfPath string
}

var (
	pingLineRTT    = regexp.MustCompile(`time[=<]([0-9.]+)\s*ms`)
	pingSummary    = regexp.MustCompile(`rtt\s+\S+\s*=\s*([0-9.]+)/([0-9.]+)/([0-9.]+)/([0-9.]+)\s*ms`)
	pingLossPct    = regexp.MustCompile(`([0-9.]+)%\s+packet loss`)
	iperfBandwidth = regexp.MustCompile(`([0-9.]+)\s*(Mbits|Gbits|Kbits)/sec`)
)

// Ping shells out to `ping -c N host` and parses per-packet RTTs plus the
// trailing summary line, matching spec.md scenario S5.
func (r ExecRunner) Ping(ctx context.Context, host string, count uint8) (PingResult, error) {
	bin := r.PingPath
	if bin == "" {
		bin = "ping"
	}
	cmd := exec.CommandContext(ctx, bin, "-c", strconv.Itoa(int(count)), host)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return PingResult{}, fmt.Errorf("ping %s: %v: %w", host, err, errs.ErrProbeFailed)
	}
	return parsePingOutput(string(out))
}

func parsePingOutput(out string) (PingResult, error) {
	var res PingResult
	for _, line := range strings.Split(out, "\n") {
		if m := pingLineRTT.FindStringSubmatch(line); m != nil {
			ms, err := strconv.ParseFloat(m[1], 64)
			if err == nil {
				res.RTTs = append(res.RTTs, time.Duration(ms*float64(time.Millisecond)))
			}
		}
	}

	res.RawSummary = out
	if m := pingSummary.FindStringSubmatch(out); m != nil {
		avgMs, err := strconv.ParseFloat(m[2], 64)
		if err == nil {
			res.AvgRTT = time.Duration(avgMs * float64(time.Millisecond))
		}
	} else if len(res.RTTs) > 0 {
		var sum time.Duration
		for _, d := range res.RTTs {
			sum += d
		}
		res.AvgRTT = sum / time.Duration(len(res.RTTs))
	} else {
		return res, fmt.Errorf("no parseable rtt in ping output: %w", errs.ErrProbeFailed)
	}

	if m := pingLossPct.FindStringSubmatch(out); m != nil {
		loss, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			res.LossPct = loss
		}
	}

	return res, nil
}

// Jitter returns the maximum positive delta between consecutive RTTs, per
// spec.md section 4.5's JITTER(4) definition.
func Jitter(rtts []time.Duration) time.Duration {
	var maxDelta time.Duration
	for i := 1; i < len(rtts); i++ {
		delta := rtts[i] - rtts[i-1]
		if delta > maxDelta {
			maxDelta = delta
		}
	}
	return maxDelta
}

// Bandwidth shells out to `iperf -c host -u -b 100M -t W` and parses the
// reported throughput, converting to Mbit/s.
func (r ExecRunner) Bandwidth(ctx context.Context, collector string, window time.Duration) (float64, error) {
	bin := r.IperfPath
	if bin == "" {
		bin = "iperf"
	}
	secs := strconv.Itoa(int(window.Seconds()))
	cmd := exec.CommandContext(ctx, bin, "-c", collector, "-u", "-b", "100M", "-t", secs)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("iperf %s: %v: %w", collector, err, errs.ErrProbeFailed)
	}
	return parseIperfOutput(out.String())
}

func parseIperfOutput(out string) (float64, error) {
	matches := iperfBandwidth.FindAllStringSubmatch(out, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("no parseable bandwidth in iperf output: %w", errs.ErrProbeFailed)
	}
	last := matches[len(matches)-1]
	val, err := strconv.ParseFloat(last[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bandwidth value %q: %w", last[1], errs.ErrProbeFailed)
	}
	switch last[2] {
	case "Gbits":
		val *= 1000
	case "Kbits":
		val /= 1000
	}
	return val, nil
}
