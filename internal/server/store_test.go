package server

import (
	"sync"
	"testing"

	"github.com/netmon/nettask/internal/nettask"
)

func TestStoreAppendAndLatest(t *testing.T) {
	s := NewStore()
	id, _ := nettask.ParseAgentID("A01")

	s.Append(id, 42, "first")
	s.Append(id, 42, "second")

	latest, ok := s.Latest(id, 42)
	if !ok || latest != "second" {
		t.Errorf("Latest = (%q, %v), want (\"second\", true)", latest, ok)
	}

	all := s.ByTask(id, 42)
	if len(all) != 2 || all[0] != "first" || all[1] != "second" {
		t.Errorf("ByTask = %v, want [first second]", all)
	}
}

func TestStoreLatestMissing(t *testing.T) {
	s := NewStore()
	id, _ := nettask.ParseAgentID("A01")
	if _, ok := s.Latest(id, 1); ok {
		t.Error("Latest on empty store returned ok=true")
	}
}

func TestStoreConcurrentAppend(t *testing.T) {
	s := NewStore()
	id, _ := nettask.ParseAgentID("A01")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append(id, 1, "x")
		}()
	}
	wg.Wait()

	if got := len(s.ByTask(id, 1)); got != 50 {
		t.Errorf("len(ByTask) = %d, want 50", got)
	}
}
