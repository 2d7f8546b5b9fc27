package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sigmafold/alphahunt/config"
	"github.com/sigmafold/alphahunt/models"
)

type stubCaller struct {
	mu   sync.Mutex
	dirs map[string]models.Direction
	errs map[string]error
}

func (s *stubCaller) Call(_ context.Context, agent models.AgentDescriptor, _ any) (*models.AgentResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.errs[agent.Key]; ok {
		return nil, err
	}
	dir, ok := s.dirs[agent.Key]
	if !ok {
		dir = models.DirectionNeutral
	}
	return &models.AgentResult{AgentKey: agent.Key, Direction: dir, Confidence: 0.8, Stake: decimal.Zero}, nil
}

type stubPrices struct {
	mu    sync.Mutex
	price float64
	err   error
}

func (s *stubPrices) Price(context.Context, string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.price, s.err
}

func testConfig(t *testing.T) config.Config {
	cfg := *config.DefaultConfigWithRoot(t.TempDir())
	cfg.Agents = []config.AgentConfig{
		{Key: "news", Name: "News", Endpoint: "http://localhost:1/analyze", Category: "news", BasePrice: 10},
		{Key: "onchain", Name: "Chain", Endpoint: "http://localhost:2/analyze", Category: "onchain", BasePrice: 20},
	}
	cfg.PersistDebounceMs = 10
	cfg.SweepIntervalMs = 3600000 // sweeps driven manually in tests
	return cfg
}

func newTestCoordinator(t *testing.T, cfg config.Config, caller *stubCaller, prices *stubPrices) *Coordinator {
	t.Helper()
	c, err := New(cfg, zap.NewNop(), WithAgentCaller(caller), WithPriceSource(prices))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestHuntProducesCachedReportAndPendingSettlement(t *testing.T) {
	caller := &stubCaller{dirs: map[string]models.Direction{
		"news":    models.DirectionBullish,
		"onchain": models.DirectionBullish,
	}}
	prices := &stubPrices{price: 100}
	c := newTestCoordinator(t, testConfig(t), caller, prices)
	defer c.Close()

	report := c.Hunt(context.Background(), "bitcoin momentum")
	if report.Consensus != models.DirectionBullish {
		t.Fatalf("unexpected consensus: %s", report.Consensus)
	}

	cached, ok := c.CachedReport(report.ID)
	if !ok || cached.HuntID != report.HuntID {
		t.Fatalf("report not cached under %s", report.ID)
	}

	pending := c.PendingSettlements()
	if len(pending) != 1 || pending[0].HuntID != report.HuntID {
		t.Fatalf("settlement not scheduled: %+v", pending)
	}
	if pending[0].SnapshotPrice != 100 {
		t.Fatalf("snapshot price not recorded: %v", pending[0].SnapshotPrice)
	}

	rep := c.Reputation()
	if len(rep) != 2 {
		t.Fatalf("reputation not updated for both agents: %v", rep)
	}
}

func TestSnapshotFailureAddsWarningAndSkipsSettlement(t *testing.T) {
	caller := &stubCaller{dirs: map[string]models.Direction{"news": models.DirectionBullish}}
	prices := &stubPrices{err: errors.New("oracle down")}
	c := newTestCoordinator(t, testConfig(t), caller, prices)
	defer c.Close()

	report := c.Hunt(context.Background(), "ethereum flows")
	if len(c.PendingSettlements()) != 0 {
		t.Fatalf("settlement scheduled without snapshot price")
	}

	found := false
	for _, w := range report.Warnings {
		if w == "settlement not scheduled: snapshot price unavailable" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing settlement warning: %v", report.Warnings)
	}
}

func TestStreamHuntEndsWithDone(t *testing.T) {
	caller := &stubCaller{dirs: map[string]models.Direction{
		"news":    models.DirectionBearish,
		"onchain": models.DirectionBearish,
	}}
	c := newTestCoordinator(t, testConfig(t), caller, &stubPrices{price: 50})
	defer c.Close()

	var mu sync.Mutex
	var stages []string
	c.StreamHunt(context.Background(), "solana defi", func(ev models.StageEvent) {
		mu.Lock()
		stages = append(stages, ev.Stage)
		mu.Unlock()
	})

	mu.Lock()
	defer mu.Unlock()
	if len(stages) < 4 {
		t.Fatalf("too few stages: %v", stages)
	}
	if stages[0] != models.StageStart {
		t.Fatalf("stream must open with start: %v", stages)
	}
	if stages[len(stages)-1] != models.StageDone {
		t.Fatalf("stream must end with done: %v", stages)
	}

	seen := map[string]bool{}
	for _, s := range stages {
		seen[s] = true
	}
	for _, want := range []string{models.StageResult, models.StageAlpha, models.StageCached} {
		if !seen[want] {
			t.Fatalf("stage %s missing: %v", want, stages)
		}
	}
}

func topicOf(r *http.Request) string {
	var req struct {
		Topic string `json:"topic"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	return req.Topic
}

func TestPayingStageStaysOnItsOwnHuntStream(t *testing.T) {
	var payerRequests atomic.Int32
	payer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if topicOf(r) == "paid intel" && payerRequests.Add(1) == 1 {
			w.WriteHeader(http.StatusPaymentRequired)
			w.Write([]byte(`{"challenge":"pay-me"}`))
			return
		}
		w.Write([]byte(`{"result":"bullish breakout"}`))
	}))
	defer payer.Close()

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if topicOf(r) == "slow burn" {
			entered <- struct{}{}
			<-release
		}
		w.Write([]byte(`{"result":"bullish rally"}`))
	}))
	defer slow.Close()

	cfg := testConfig(t)
	cfg.Agents = []config.AgentConfig{
		{Key: "payer", Name: "Payer", Endpoint: payer.URL, Category: "news", BasePrice: 10},
		{Key: "slowpoke", Name: "Slowpoke", Endpoint: slow.URL, Category: "onchain", BasePrice: 10},
	}

	// Real HTTP caller so the 402 payment path runs end to end.
	c, err := New(cfg, zap.NewNop(), WithPriceSource(&stubPrices{price: 100}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	var mu sync.Mutex
	var slowStages []models.StageEvent
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.StreamHunt(context.Background(), "slow burn", func(ev models.StageEvent) {
			mu.Lock()
			slowStages = append(slowStages, ev)
			mu.Unlock()
		})
	}()
	<-entered // the slow hunt is now in flight

	var paidStages []models.StageEvent
	report := c.StreamHunt(context.Background(), "paid intel", func(ev models.StageEvent) {
		paidStages = append(paidStages, ev)
	})

	close(release)
	<-done

	var paying []models.StageEvent
	for _, ev := range paidStages {
		if ev.Stage == models.StagePaying {
			paying = append(paying, ev)
		}
	}
	if len(paying) != 1 {
		t.Fatalf("paid hunt saw %d paying stages, want 1: %+v", len(paying), paidStages)
	}
	if paying[0].HuntID != report.HuntID || paying[0].Agent != "payer" {
		t.Fatalf("paying stage mislabeled: %+v", paying[0])
	}

	mu.Lock()
	defer mu.Unlock()
	for _, ev := range slowStages {
		if ev.Stage == models.StagePaying {
			t.Fatalf("paying stage from another hunt leaked onto this stream: %+v", ev)
		}
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	caller := &stubCaller{dirs: map[string]models.Direction{
		"news":    models.DirectionBullish,
		"onchain": models.DirectionBullish,
	}}
	prices := &stubPrices{price: 100}

	c1 := newTestCoordinator(t, cfg, caller, prices)
	report := c1.Hunt(context.Background(), "bitcoin momentum")
	scoreBefore := c1.Reputation()["news"].Score
	c1.Close() // flushes all dirty modules

	c2 := newTestCoordinator(t, cfg, caller, prices)
	defer c2.Close()

	if got := c2.Reputation()["news"].Score; got != scoreBefore {
		t.Fatalf("reputation lost across restart: %v != %v", got, scoreBefore)
	}
	if len(c2.PendingSettlements()) != 1 {
		t.Fatalf("pending settlement lost across restart")
	}
	if _, ok := c2.CachedReport(report.ID); !ok {
		t.Fatalf("cached report lost across restart")
	}
}

func TestSettlementFeedsBusAndReputation(t *testing.T) {
	cfg := testConfig(t)
	cfg.SettleDelayMs = 1 // settle almost immediately
	caller := &stubCaller{dirs: map[string]models.Direction{
		"news":    models.DirectionBullish,
		"onchain": models.DirectionBearish,
	}}
	prices := &stubPrices{price: 100}
	c := newTestCoordinator(t, cfg, caller, prices)
	defer c.Close()

	events, unsubscribe := c.Subscribe(models.TopicSettlement)
	defer unsubscribe()

	c.Hunt(context.Background(), "bitcoin momentum")

	prices.mu.Lock()
	prices.price = 105 // +5%, bullish
	prices.mu.Unlock()

	time.Sleep(5 * time.Millisecond)
	if settled := c.settler.Sweep(context.Background()); settled != 1 {
		t.Fatalf("expected 1 settlement, got %d", settled)
	}

	select {
	case ev := <-events:
		res, ok := ev.Payload.(models.SettlementResult)
		if !ok {
			t.Fatalf("unexpected payload type %T", ev.Payload)
		}
		if res.Actual != models.DirectionBullish {
			t.Fatalf("unexpected actual direction %s", res.Actual)
		}
	case <-time.After(time.Second):
		t.Fatalf("settlement event never published")
	}

	rep := c.Reputation()
	if rep["news"].Correct != 1 {
		t.Fatalf("correct bullish call not credited: %+v", rep["news"])
	}
	if rep["onchain"].Correct != 0 {
		t.Fatalf("wrong bearish call credited: %+v", rep["onchain"])
	}
}

func TestAutopilotStartStopThroughCoordinator(t *testing.T) {
	cfg := testConfig(t)
	cfg.AutopilotBaseMs = 3600000 // never fires during the test
	caller := &stubCaller{dirs: map[string]models.Direction{"news": models.DirectionNeutral}}
	c := newTestCoordinator(t, cfg, caller, &stubPrices{price: 100})
	defer c.Close()

	state := c.StartAutopilot(context.Background())
	if !state.Running {
		t.Fatalf("autopilot did not start")
	}
	again := c.StartAutopilot(context.Background())
	if !again.Running {
		t.Fatalf("second start should be a running no-op")
	}

	stopped := c.StopAutopilot()
	if stopped.Running || stopped.Phase != models.PhaseIdle {
		t.Fatalf("autopilot did not stop cleanly: %+v", stopped)
	}
}
