package agent

import (
	"testing"
	"time"
)

func TestTaskLogAppendAndAll(t *testing.T) {
	l := NewTaskLog()
	l.Append(42, "first")
	l.Append(42, "second")
	l.Append(7, "only")

	all := l.All()
	if len(all[42]) != 2 || all[42][0] != "first" || all[42][1] != "second" {
		t.Errorf("task 42 entries = %v, want [first second]", all[42])
	}
	if len(all[7]) != 1 || all[7][0] != "only" {
		t.Errorf("task 7 entries = %v, want [only]", all[7])
	}
}

func TestAlertLogKeepsMostRecentPerMetric(t *testing.T) {
	l := NewAlertLog()
	now := time.Now()
	l.Record("cpu_usage", "first alert", now)
	l.Record("cpu_usage", "second alert", now.Add(time.Second))
	l.Record("ram_usage", "ram alert", now)

	all := l.All()
	if len(all) != 2 {
		t.Fatalf("len(All) = %d, want 2", len(all))
	}
	if all[0].Text != "second alert" {
		t.Errorf("cpu_usage record = %q, want the most recent", all[0].Text)
	}
}
