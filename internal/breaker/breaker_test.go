package breaker

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

var errBoom = errors.New("boom")

func newTestBreaker(threshold int, openFor time.Duration) (*Breaker, *time.Time) {
	b := New(threshold, openFor, zap.NewNop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestOpensAfterThresholdFailures(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	calls := 0
	fail := func() error { calls++; return errBoom }

	for i := 0; i < 3; i++ {
		if err := b.Guard("scout", fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: expected op error, got %v", i, err)
		}
	}
	if calls != 3 {
		t.Fatalf("expected 3 invocations, got %d", calls)
	}

	// 4th call inside the cool-down must short-circuit without invoking op.
	if err := b.Guard("scout", fail); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("open circuit invoked the operation, calls=%d", calls)
	}

	snap := b.Snapshots()["scout"]
	if snap.State != StateOpen {
		t.Fatalf("expected open state, got %s", snap.State)
	}
}

func TestHalfOpenProbeClosesOnSuccess(t *testing.T) {
	b, now := newTestBreaker(3, time.Minute)

	fail := func() error { return errBoom }
	for i := 0; i < 3; i++ {
		b.Guard("scout", fail)
	}

	*now = now.Add(61 * time.Second)

	calls := 0
	ok := func() error { calls++; return nil }
	if err := b.Guard("scout", ok); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one probe, got %d", calls)
	}
	if snap := b.Snapshots()["scout"]; snap.State != StateClosed || snap.Failures != 0 {
		t.Fatalf("expected closed circuit with reset counter, got %+v", snap)
	}
}

func TestHalfOpenProbeReopensOnFailure(t *testing.T) {
	b, now := newTestBreaker(3, time.Minute)

	fail := func() error { return errBoom }
	for i := 0; i < 3; i++ {
		b.Guard("scout", fail)
	}

	*now = now.Add(61 * time.Second)
	if err := b.Guard("scout", fail); !errors.Is(err, errBoom) {
		t.Fatalf("expected probe to run and fail, got %v", err)
	}

	// Freshly reopened: calls short-circuit again.
	if err := b.Guard("scout", fail); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after failed probe, got %v", err)
	}
	snap := b.Snapshots()["scout"]
	if snap.State != StateOpen {
		t.Fatalf("expected reopened circuit, got %s", snap.State)
	}
	if !snap.OpenedAt.Equal(*now) {
		t.Fatalf("expected fresh openedAt %v, got %v", *now, snap.OpenedAt)
	}
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.Guard("scout", func() error { return errBoom })
	b.Guard("scout", func() error { return errBoom })
	b.Guard("scout", func() error { return nil })

	if snap := b.Snapshots()["scout"]; snap.Failures != 0 || snap.State != StateClosed {
		t.Fatalf("expected reset closed circuit, got %+v", snap)
	}

	// Two more failures must not open (counter restarted).
	b.Guard("scout", func() error { return errBoom })
	b.Guard("scout", func() error { return errBoom })
	if snap := b.Snapshots()["scout"]; snap.State != StateClosed {
		t.Fatalf("circuit opened early: %+v", snap)
	}
}

func TestCircuitsAreIndependent(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)

	b.Guard("a", func() error { return errBoom })
	if err := b.Guard("b", func() error { return nil }); err != nil {
		t.Fatalf("agent b affected by agent a's circuit: %v", err)
	}
	if snap := b.Snapshots()["a"]; snap.State != StateOpen {
		t.Fatalf("expected a open, got %s", snap.State)
	}
}

func TestReset(t *testing.T) {
	b, _ := newTestBreaker(1, time.Minute)
	b.Guard("a", func() error { return errBoom })
	b.Reset("a")
	if err := b.Guard("a", func() error { return nil }); err != nil {
		t.Fatalf("reset circuit rejected call: %v", err)
	}
}
