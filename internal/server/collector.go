package server

import (
	"fmt"
	"os/exec"

	"github.com/netmon/nettask/pkg/logger"
)

// Collector wraps the `iperf -s -u` subprocess the Server starts at
// startup to receive Agent BANDWIDTH(6) probes (spec.md section 6:
// "iperf -s -u as a subprocess of the Server at startup"). Without it,
// BANDWIDTH tasks still dispatch and run, but the Agent's `iperf -c`
// client has nothing to talk to and the probe reports PROBE_FAILED.
type Collector struct {
	cmd *exec.Cmd
}

// StartCollector launches the bandwidth collector subprocess. bin
// overrides the binary invoked ("" uses "iperf" from $PATH, the
// canonical name in spec.md section 6); tests pass a stub script.
// Per spec.md section 6 ("Exit code ... 1 if the bandwidth-collector
// dependency cannot be started on the Server"), a failure here is the
// caller's cue to exit 1, not merely log and continue.
func StartCollector(bin string) (*Collector, error) {
	if bin == "" {
		bin = "iperf"
	}
	cmd := exec.Command(bin, "-s", "-u")
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting bandwidth collector %q: %w", bin, err)
	}
	logger.Success("bandwidth collector (%s -s -u) started, pid=%d", bin, cmd.Process.Pid)
	return &Collector{cmd: cmd}, nil
}

// Close terminates the collector subprocess.
func (c *Collector) Close() error {
	if c == nil || c.cmd.Process == nil {
		return nil
	}
	err := c.cmd.Process.Kill()
	c.cmd.Wait() // reap; exits with "killed", not a caller-actionable error
	return err
}
