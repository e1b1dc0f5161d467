package agent

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/xid"

	"github.com/netmon/nettask/internal/errs"
	"github.com/netmon/nettask/internal/nettask"
	"github.com/netmon/nettask/internal/probe"
	"github.com/netmon/nettask/pkg/logger"
)

// sampleInterval is the inter-sample period for periodic CPU/RAM probes
// (spec.md section 5).
const sampleInterval = 1 * time.Second

// bandwidthWindow is the fixed BANDWIDTH(6) probe duration (spec.md
// section 6, "Wire constants").
const bandwidthWindow = 10 * time.Second

// Engine is the Measurement Engine of spec.md section 4.5: it dispatches a
// received Task to the correct probe, runs it to completion, and submits
// results back over NetTask, evaluating thresholds and raising alerts along
// the way. Each invocation runs to completion before the caller's receive
// loop accepts another Task, per spec.md section 4.5's single-threaded
// invariant.
type Engine struct {
	conn       net.PacketConn
	serverAddr net.Addr
	id         nettask.AgentID

	sampler   probe.Sampler
	runner    probe.Runner
	evaluator *Evaluator
	alertAddr string

	taskLog  *TaskLog
	alertLog *AlertLog
}

func NewEngine(conn net.PacketConn, serverAddr net.Addr, id nettask.AgentID, sampler probe.Sampler, runner probe.Runner, evaluator *Evaluator, alertAddr string, taskLog *TaskLog, alertLog *AlertLog) *Engine {
	return &Engine{
		conn:       conn,
		serverAddr: serverAddr,
		id:         id,
		sampler:    sampler,
		runner:     runner,
		evaluator:  evaluator,
		alertAddr:  alertAddr,
		taskLog:    taskLog,
		alertLog:   alertLog,
	}
}

// Run dispatches task by its Type and blocks until the probe run completes,
// per spec.md section 4.5's dispatch table.
func (e *Engine) Run(ctx context.Context, task nettask.Task) {
	corr := xid.New().String()[:8]

	switch task.Type {
	case nettask.TaskCPU:
		e.runPeriodic(ctx, corr, task, "cpu_usage", "Percentagem de uso da CPU", e.sampler.CPUPercent)
	case nettask.TaskRAM:
		e.runPeriodic(ctx, corr, task, "ram_usage", "Percentagem de uso de RAM", e.sampler.RAMPercent)
	case nettask.TaskLatency:
		e.runLatency(ctx, corr, task)
	case nettask.TaskJitter:
		e.runJitter(ctx, corr, task)
	case nettask.TaskPacketLoss:
		e.runPacketLoss(ctx, corr, task)
	case nettask.TaskBandwidth:
		e.runBandwidth(ctx, corr, task)
	default:
		logger.Warn("[%s] task %d has unsupported type %d, yielding no result", corr, task.TaskID, task.Type)
	}
}

// runPeriodic implements the CPU(1)/RAM(2) branch of spec.md section 4.5:
// sample every second, average every `frequency` samples, submit, evaluate
// the threshold, and repeat until `duration` seconds elapse.
func (e *Engine) runPeriodic(ctx context.Context, corr string, task nettask.Task, metric, label string, sample func(context.Context) (float64, error)) {
	deadline := time.Now().Add(time.Duration(task.Duration) * time.Second)
	freq := task.Frequency
	if freq == 0 {
		freq = 1
	}

	var buf []float64
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}
		v, err := sample(ctx)
		if err != nil {
			e.submitFailure(ctx, corr, task.TaskID, err)
			return
		}
		buf = append(buf, v)

		if uint8(len(buf)) >= freq {
			avg := mean(buf)
			line := fmt.Sprintf("%s: %.2f%%", label, avg)
			e.taskLog.Append(task.TaskID, line)
			if err := SubmitResult(ctx, e.conn, e.serverAddr, task.TaskID, e.id, []byte(line)); err != nil {
				logger.Warn("[%s] %v", corr, err)
			}
			e.evaluateBreach(metric, label, avg)
			buf = buf[:0]
		}

		select {
		case <-time.After(sampleInterval):
		case <-ctx.Done():
			return
		}
	}
}

// evaluateBreach implements spec.md section 4.6: compare avg against the
// loaded threshold and, if the rate limit permits, open an AlertFlow
// connection with the formatted alert text used in scenario S3.
func (e *Engine) evaluateBreach(metric, label string, avg float64) {
	if e.evaluator == nil {
		return
	}
	now := time.Now()
	if !e.evaluator.Breach(metric, avg, now) {
		return
	}
	text := fmt.Sprintf("Alerta de uso elevado do %s: %s: %.2f%%", alertSubject(metric), label, avg)
	e.alertLog.Record(metric, text, now)
	if err := SendAlert(e.alertAddr, text); err != nil {
		logger.Warn("alert for %s not delivered: %v", metric, err)
	}
}

func alertSubject(metric string) string {
	switch metric {
	case "cpu_usage":
		return "CPU"
	case "ram_usage":
		return "RAM"
	default:
		return metric
	}
}

func (e *Engine) runLatency(ctx context.Context, corr string, task nettask.Task) {
	res, err := e.runner.Ping(ctx, task.Data, task.Frequency)
	if err != nil {
		e.submitFailure(ctx, corr, task.TaskID, err)
		return
	}
	line := fmt.Sprintf("%.2f ms", float64(res.AvgRTT)/float64(time.Millisecond))
	e.finishOneShot(ctx, task.TaskID, line)
}

func (e *Engine) runJitter(ctx context.Context, corr string, task nettask.Task) {
	res, err := e.runner.Ping(ctx, task.Data, task.Frequency)
	if err != nil {
		e.submitFailure(ctx, corr, task.TaskID, err)
		return
	}
	jitter := probe.Jitter(res.RTTs)
	line := fmt.Sprintf("%.2f ms", float64(jitter)/float64(time.Millisecond))
	e.finishOneShot(ctx, task.TaskID, line)
}

func (e *Engine) runPacketLoss(ctx context.Context, corr string, task nettask.Task) {
	res, err := e.runner.Ping(ctx, task.Data, task.Frequency)
	if err != nil {
		e.submitFailure(ctx, corr, task.TaskID, err)
		return
	}
	line := fmt.Sprintf("%.2f%%", res.LossPct)
	e.finishOneShot(ctx, task.TaskID, line)
}

func (e *Engine) runBandwidth(ctx context.Context, corr string, task nettask.Task) {
	mbps, err := e.runner.Bandwidth(ctx, task.Data, bandwidthWindow)
	if err != nil {
		e.submitFailure(ctx, corr, task.TaskID, err)
		return
	}
	line := fmt.Sprintf("%.2f Mbit/s", mbps)
	e.finishOneShot(ctx, task.TaskID, line)
}

func (e *Engine) finishOneShot(ctx context.Context, taskID uint16, line string) {
	e.taskLog.Append(taskID, line)
	if err := SubmitResult(ctx, e.conn, e.serverAddr, taskID, e.id, []byte(line)); err != nil {
		logger.Warn("submitting task %d result: %v", taskID, err)
	}
}

// submitFailure implements spec.md section 4.9: "any probe error
// short-circuits to DONE with a failure result string" — PROBE_FAILED
// becomes the textual result, not a protocol error (spec.md section 7).
func (e *Engine) submitFailure(ctx context.Context, corr string, taskID uint16, err error) {
	line := fmt.Sprintf("%s: %v", errs.ProbeFailed, err)
	logger.Warn("[%s] task %d failed: %v", corr, taskID, err)
	e.taskLog.Append(taskID, line)
	if submitErr := SubmitResult(ctx, e.conn, e.serverAddr, taskID, e.id, []byte(line)); submitErr != nil {
		logger.Warn("submitting failure result for task %d: %v", taskID, submitErr)
	}
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
