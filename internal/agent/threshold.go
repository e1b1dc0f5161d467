package agent

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/netmon/nettask/internal/errs"
)

// thresholdFile mirrors the recognised keys of the Agent-local threshold
// config document (spec.md section 6); unrecognised keys are ignored by
// encoding/json's default unmarshal behaviour.
type thresholdFile struct {
	CPUUsage *float64 `json:"cpu_usage"`
	RAMUsage *float64 `json:"ram_usage"`
}

// ThresholdConfig is the loaded mapping of metric name to numeric
// threshold (spec.md section 3).
type ThresholdConfig map[string]float64

// LoadThresholdConfig reads the JSON object at path through fs
// (SPEC_FULL.md section 4.11). A missing file is CONFIG_MISSING, fatal at
// Agent startup per spec.md section 7.
func LoadThresholdConfig(fs afero.Fs, path string) (ThresholdConfig, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading threshold config %s: %w", path, errs.ErrConfigMissing)
	}

	var doc thresholdFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing threshold config %s: %v: %w", path, err, errs.ErrConfigMissing)
	}

	cfg := ThresholdConfig{}
	if doc.CPUUsage != nil {
		cfg["cpu_usage"] = *doc.CPUUsage
	}
	if doc.RAMUsage != nil {
		cfg["ram_usage"] = *doc.RAMUsage
	}
	return cfg, nil
}

// alertMinGap is the minimum time between repeated alerts for the same
// metric (spec.md section 6, "Wire constants").
const alertMinGap = 5 * time.Second

// Evaluator is the Threshold Evaluator of spec.md section 4.6: compares
// observations against ThresholdConfig and rate-limits repeated alerts per
// metric via AlertTimestamps.
type Evaluator struct {
	cfg ThresholdConfig

	mu   sync.Mutex
	last map[string]time.Time
}

func NewEvaluator(cfg ThresholdConfig) *Evaluator {
	return &Evaluator{cfg: cfg, last: make(map[string]time.Time)}
}

// Breach reports whether value exceeds metric's configured threshold and,
// if so, whether enough time has elapsed since the last alert for metric to
// permit emitting another one (spec.md section 8, property 5). Breach
// updates AlertTimestamps as a side effect when it returns true, so callers
// must actually emit the alert they are granted — calling Breach a second
// time for the same observation would otherwise suppress a legitimate
// retry.
func (e *Evaluator) Breach(metric string, value float64, now time.Time) bool {
	threshold, ok := e.cfg[metric]
	if !ok || value <= threshold {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if last, ok := e.last[metric]; ok && now.Sub(last) < alertMinGap {
		return false
	}
	e.last[metric] = now
	return true
}
