package bus

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPublishReachesSubscriber(t *testing.T) {
	b := New(4, zap.NewNop())
	defer b.Close()

	ch, cancel := b.Subscribe("hunt.stage")
	defer cancel()

	b.Publish("hunt.stage", "payload")

	select {
	case ev := <-ch:
		if ev.Topic != "hunt.stage" || ev.Payload != "payload" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	b := New(4, zap.NewNop())
	defer b.Close()
	b.Publish("nobody.listens", 42) // must not block or panic
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := New(1, zap.NewNop())
	defer b.Close()

	_, cancel := b.Subscribe("t")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish("t", i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
	if b.Dropped() == 0 {
		t.Fatalf("expected dropped events to be counted")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(4, zap.NewNop())
	defer b.Close()

	ch, cancel := b.Subscribe("t")
	cancel()

	b.Publish("t", 1)
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after unsubscribe")
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := New(4, zap.NewNop())
	ch, _ := b.Subscribe("a", "b")
	b.Close()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after bus close")
	}
	b.Publish("a", 1) // post-close publish must be a safe no-op
}
