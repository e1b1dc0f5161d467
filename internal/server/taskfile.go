package server

import (
	"encoding/json"
	"fmt"

	"github.com/netmon/nettask/internal/nettask"
	"github.com/netmon/nettask/pkg/logger"
	"github.com/spf13/afero"
)

// taskFileRow mirrors the JSON shape of the Server-local task definition
// file (spec.md section 6): a JSON array of objects with these exact
// field names.
type taskFileRow struct {
	AgentID        string `json:"Agent_ID"`
	TaskID         uint16 `json:"Task_ID"`
	TaskType       uint8  `json:"Task_Type"`
	InterfaceCheck string `json:"Interface_Check"`
	Data           string `json:"Data"`
	Frequency      *uint8 `json:"Frequency"`
	Duration       *uint8 `json:"Duration"`
}

const (
	defaultFrequency uint8 = 5
	defaultDuration  uint8 = 30
)

// LoadTaskFile reads the JSON array at path through fs, enqueuing every
// well-formed row onto queue (SPEC_FULL.md section 4.10). A malformed
// individual row is logged and skipped; it does not abort the load.
func LoadTaskFile(fs afero.Fs, path string, queue *Queue) (int, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return 0, fmt.Errorf("reading task file %s: %w", path, err)
	}

	var rows []taskFileRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return 0, fmt.Errorf("parsing task file %s: %w", path, err)
	}

	loaded := 0
	for i, row := range rows {
		task, err := row.toTask()
		if err != nil {
			logger.Warn("task file %s: skipping row %d: %v", path, i, err)
			continue
		}
		queue.Enqueue(task)
		loaded++
	}
	return loaded, nil
}

func (row taskFileRow) toTask() (nettask.Task, error) {
	id, err := nettask.ParseAgentID(row.AgentID)
	if err != nil {
		return nettask.Task{}, err
	}

	freq := defaultFrequency
	if row.Frequency != nil {
		freq = *row.Frequency
	}
	duration := defaultDuration
	if row.Duration != nil {
		duration = *row.Duration
	}

	return nettask.Task{
		TaskID:         row.TaskID,
		AgentID:        id,
		Type:           nettask.TaskType(row.TaskType),
		InterfaceCheck: row.InterfaceCheck,
		Data:           row.Data,
		Frequency:      freq,
		Duration:       duration,
	}, nil
}
