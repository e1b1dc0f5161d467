package probe

import (
	"context"
	"time"
)

// Fake is a Runner that returns canned results without touching the
// network or spawning a subprocess, for Measurement Engine tests.
type Fake struct {
	PingResult   PingResult
	PingErr      error
	BandwidthVal float64
	BandwidthErr error

	Calls []string // records "ping:<host>" / "bandwidth:<collector>" in order
}

func (f *Fake) Ping(_ context.Context, host string, _ uint8) (PingResult, error) {
	f.Calls = append(f.Calls, "ping:"+host)
	return f.PingResult, f.PingErr
}

func (f *Fake) Bandwidth(_ context.Context, collector string, _ time.Duration) (float64, error) {
	f.Calls = append(f.Calls, "bandwidth:"+collector)
	return f.BandwidthVal, f.BandwidthErr
}
