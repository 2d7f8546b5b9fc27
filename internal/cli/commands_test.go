package cli

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sigmafold/alphahunt/config"
)

func TestWatchConfigAppliesAndLogsReload(t *testing.T) {
	mgr, err := config.NewManager(config.WithConfigDir(t.TempDir()))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	core, logs := observer.New(zap.InfoLevel)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := watchConfig(ctx, mgr, zap.New(core)); err != nil {
		t.Fatalf("watchConfig: %v", err)
	}

	// External edit: rewrite the file directly, bypassing Update so the
	// manager's self-write suppression does not swallow the event.
	cfg := mgr.Get()
	cfg.CacheCapacity = 123
	data, _ := json.MarshalIndent(cfg, "", "  ")
	if err := os.WriteFile(mgr.Path(), data, 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if logs.FilterMessage("configuration reloaded").Len() > 0 {
			if got := mgr.Get().CacheCapacity; got != 123 {
				t.Fatalf("reloaded config not applied: cache capacity %d", got)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("config reload never observed")
}
