package storage

import (
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestDirtyBurstCoalescesIntoOneWrite(t *testing.T) {
	s := openTestStore(t)
	p := NewPersister(s, 50*time.Millisecond, zap.NewNop())
	defer p.Close()

	var snapshots atomic.Int32
	p.Register("reputation", func() ([]byte, error) {
		snapshots.Add(1)
		return []byte(`{"a":1}`), nil
	})

	for i := 0; i < 20; i++ {
		p.MarkDirty("reputation")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if doc, _ := s.Load("reputation"); doc != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := snapshots.Load(); got != 1 {
		t.Fatalf("expected 1 coalesced snapshot, got %d", got)
	}
	doc, err := s.Load("reputation")
	if err != nil || string(doc) != `{"a":1}` {
		t.Fatalf("flush did not persist: %s, %v", doc, err)
	}
}

func TestCloseFlushesPendingState(t *testing.T) {
	s := openTestStore(t)
	p := NewPersister(s, time.Hour, zap.NewNop()) // debounce never fires on its own

	p.Register("oracle", func() ([]byte, error) {
		return []byte(`{"pending":[]}`), nil
	})
	p.MarkDirty("oracle")
	p.Close()

	doc, err := s.Load("oracle")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if string(doc) != `{"pending":[]}` {
		t.Fatalf("Close did not flush: %s", doc)
	}
}

func TestUnregisteredModuleIgnored(t *testing.T) {
	s := openTestStore(t)
	p := NewPersister(s, 10*time.Millisecond, zap.NewNop())
	defer p.Close()

	p.MarkDirty("ghost")
	time.Sleep(50 * time.Millisecond)

	doc, _ := s.Load("ghost")
	if doc != nil {
		t.Fatalf("unregistered module was persisted: %s", doc)
	}
}

func TestMarkDirtyAfterCloseIsNoop(t *testing.T) {
	s := openTestStore(t)
	p := NewPersister(s, 10*time.Millisecond, zap.NewNop())

	var snapshots atomic.Int32
	p.Register("cache", func() ([]byte, error) {
		snapshots.Add(1)
		return []byte(`{}`), nil
	})
	p.Close()
	p.MarkDirty("cache")
	time.Sleep(50 * time.Millisecond)

	if snapshots.Load() != 0 {
		t.Fatalf("dirty mark after close triggered a write")
	}
}

func TestFailedSnapshotRetriedOnNextFlush(t *testing.T) {
	s := openTestStore(t)
	p := NewPersister(s, 20*time.Millisecond, zap.NewNop())
	defer p.Close()

	var fail atomic.Bool
	fail.Store(true)
	p.Register("autopilot", func() ([]byte, error) {
		if fail.Load() {
			return nil, errTest
		}
		return []byte(`{"ok":true}`), nil
	})

	p.MarkDirty("autopilot")
	p.Flush()
	if doc, _ := s.Load("autopilot"); doc != nil {
		t.Fatalf("failed snapshot should not persist")
	}

	fail.Store(false)
	p.Flush()
	doc, _ := s.Load("autopilot")
	if string(doc) != `{"ok":true}` {
		t.Fatalf("retry did not persist: %s", doc)
	}
}

var errTest = &snapshotErr{}

type snapshotErr struct{}

func (*snapshotErr) Error() string { return "snapshot unavailable" }
