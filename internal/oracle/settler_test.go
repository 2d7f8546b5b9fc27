package oracle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sigmafold/alphahunt/models"
)

type fakePrices struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
	calls  int
}

func (f *fakePrices) Price(_ context.Context, assetID string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return f.prices[assetID], nil
}

func (f *fakePrices) set(assetID string, price float64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[assetID] = price
	f.err = err
}

type fakeSink struct {
	mu       sync.Mutex
	outcomes map[string]bool
}

func (f *fakeSink) RecordOutcome(agentKey string, correct bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcomes == nil {
		f.outcomes = make(map[string]bool)
	}
	f.outcomes[agentKey] = correct
}

func newTestSettler(prices *fakePrices, sink *fakeSink) (*Settler, *time.Time) {
	s := NewSettler(prices, sink, Options{
		Delay:         5 * time.Minute,
		SweepInterval: time.Second,
		RetryInterval: 30 * time.Second,
		MinMovePct:    0.3,
		PendingCap:    5,
		HistoryCap:    10,
	}, zap.NewNop())
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestProxyAssetMapping(t *testing.T) {
	cases := map[string]string{
		"ETH gas fees spiking":   "ethereum",
		"solana memecoin season": "solana",
		"macro outlook":          "bitcoin",
		"Bitcoin halving":        "bitcoin",
	}
	for topic, want := range cases {
		if got := ProxyAsset(topic); got != want {
			t.Fatalf("ProxyAsset(%q) = %s, want %s", topic, got, want)
		}
	}
}

func TestDeadZoneMarksEveryoneCorrect(t *testing.T) {
	prices := &fakePrices{prices: map[string]float64{"bitcoin": 100}}
	sink := &fakeSink{}
	s, now := newTestSettler(prices, sink)

	declared := map[string]models.Direction{
		"bull": models.DirectionBullish,
		"bear": models.DirectionBearish,
	}
	if err := s.Schedule(context.Background(), "h1", "macro", models.DirectionBullish, declared); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	// +0.2% is inside the 0.3% dead zone.
	prices.set("bitcoin", 100.2, nil)
	*now = now.Add(6 * time.Minute)

	if settled := s.Sweep(context.Background()); settled != 1 {
		t.Fatalf("expected 1 settlement, got %d", settled)
	}

	history := s.History()
	if len(history) != 1 {
		t.Fatalf("expected history entry, got %d", len(history))
	}
	res := history[0]
	if res.Actual != models.DirectionNeutral {
		t.Fatalf("expected neutral direction, got %s", res.Actual)
	}
	for agent, correct := range res.AgentCorrect {
		if !correct {
			t.Fatalf("agent %s marked incorrect in dead zone", agent)
		}
	}
	if !res.ConsensusCorrect {
		t.Fatalf("consensus marked incorrect in dead zone")
	}
}

func TestDirectionalSettlement(t *testing.T) {
	prices := &fakePrices{prices: map[string]float64{"bitcoin": 100}}
	sink := &fakeSink{}
	s, now := newTestSettler(prices, sink)

	declared := map[string]models.Direction{
		"bull": models.DirectionBullish,
		"bear": models.DirectionBearish,
	}
	s.Schedule(context.Background(), "h1", "macro", models.DirectionBullish, declared)

	prices.set("bitcoin", 100.5, nil) // +0.5%, above threshold
	*now = now.Add(6 * time.Minute)
	s.Sweep(context.Background())

	res := s.History()[0]
	if res.Actual != models.DirectionBullish {
		t.Fatalf("expected bullish, got %s", res.Actual)
	}
	if !res.AgentCorrect["bull"] || res.AgentCorrect["bear"] {
		t.Fatalf("directional correctness wrong: %+v", res.AgentCorrect)
	}
	if !res.ConsensusCorrect {
		t.Fatalf("bullish consensus should be correct")
	}
	if got := sink.outcomes; !got["bull"] || got["bear"] {
		t.Fatalf("outcome sink not fed correctly: %+v", got)
	}
}

func TestPriceFailureDefersNotDiscards(t *testing.T) {
	prices := &fakePrices{prices: map[string]float64{"bitcoin": 100}}
	sink := &fakeSink{}
	s, now := newTestSettler(prices, sink)

	s.Schedule(context.Background(), "h1", "macro", models.DirectionBullish, nil)

	prices.set("bitcoin", 0, errors.New("oracle down"))
	*now = now.Add(6 * time.Minute)

	if settled := s.Sweep(context.Background()); settled != 0 {
		t.Fatalf("expected no settlements, got %d", settled)
	}
	pending := s.Pending()
	if len(pending) != 1 {
		t.Fatalf("deferred entry was discarded")
	}
	if pending[0].Attempts != 1 {
		t.Fatalf("expected 1 attempt recorded, got %d", pending[0].Attempts)
	}
	if !pending[0].SettleAt.After(*now) {
		t.Fatalf("settleAt not pushed forward")
	}

	// Oracle recovers, retry window elapses, the entry settles.
	prices.set("bitcoin", 101, nil)
	*now = now.Add(time.Minute)
	if settled := s.Sweep(context.Background()); settled != 1 {
		t.Fatalf("expected recovery settlement, got %d", settled)
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("settled entry still pending")
	}
}

func TestPendingCapEvictsOldest(t *testing.T) {
	prices := &fakePrices{prices: map[string]float64{"bitcoin": 100}}
	s, now := newTestSettler(prices, &fakeSink{})

	for i := 0; i < 6; i++ {
		*now = now.Add(time.Second)
		s.Schedule(context.Background(), huntID(i), "macro", models.DirectionNeutral, nil)
	}
	pending := s.Pending()
	if len(pending) != 5 {
		t.Fatalf("expected pending capped at 5, got %d", len(pending))
	}
	for _, p := range pending {
		if p.HuntID == huntID(0) {
			t.Fatalf("oldest entry not evicted")
		}
	}
}

func TestSettledAtMostOnce(t *testing.T) {
	prices := &fakePrices{prices: map[string]float64{"bitcoin": 100}}
	sink := &fakeSink{}
	s, now := newTestSettler(prices, sink)

	s.Schedule(context.Background(), "h1", "macro", models.DirectionBullish, nil)
	prices.set("bitcoin", 105, nil)
	*now = now.Add(6 * time.Minute)

	s.Sweep(context.Background())
	s.Sweep(context.Background())
	if len(s.History()) != 1 {
		t.Fatalf("entry settled more than once: %d results", len(s.History()))
	}
}

func TestSnapshotFailureSkipsScheduling(t *testing.T) {
	prices := &fakePrices{prices: map[string]float64{}, err: errors.New("down")}
	s, _ := newTestSettler(prices, &fakeSink{})
	if err := s.Schedule(context.Background(), "h1", "macro", models.DirectionBullish, nil); err == nil {
		t.Fatalf("expected scheduling error when snapshot unavailable")
	}
	if len(s.Pending()) != 0 {
		t.Fatalf("entry scheduled without snapshot price")
	}
}

func TestStateDocRoundTrip(t *testing.T) {
	prices := &fakePrices{prices: map[string]float64{"bitcoin": 100}}
	s, now := newTestSettler(prices, &fakeSink{})
	s.Schedule(context.Background(), "h1", "macro", models.DirectionBullish, map[string]models.Direction{"a": models.DirectionBullish})

	doc, err := s.StateDoc()
	if err != nil {
		t.Fatalf("StateDoc: %v", err)
	}

	s2, now2 := newTestSettler(&fakePrices{prices: map[string]float64{"bitcoin": 101}}, &fakeSink{})
	if err := s2.Restore(doc); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if len(s2.Pending()) != 1 {
		t.Fatalf("pending entry lost in round trip")
	}
	_ = now
	*now2 = now2.Add(10 * time.Minute)
	if settled := s2.Sweep(context.Background()); settled != 1 {
		t.Fatalf("restored entry did not settle")
	}
}

func huntID(i int) string {
	return string(rune('a'+i)) + "-hunt"
}
