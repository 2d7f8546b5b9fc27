// Package config defines the runtime configuration: agent roster, breaker
// and staking thresholds, oracle timing, cache bounds, and the autopilot
// schedule. Durations are stored as millisecond integers in JSON.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AgentConfig describes one registered data agent.
type AgentConfig struct {
	Key       string  `json:"key"`
	Name      string  `json:"name"`
	Endpoint  string  `json:"endpoint"`
	Category  string  `json:"category"`
	BasePrice float64 `json:"base_price"`
}

type Config struct {
	DataDir    string `json:"data_dir"`
	ResultsDir string `json:"results_dir"`

	Agents         []AgentConfig `json:"agents"`
	AgentTimeoutMs int           `json:"agent_timeout_ms"`

	// Circuit breaker
	FailureThreshold int `json:"failure_threshold"`
	OpenDurationMs   int `json:"open_duration_ms"`

	// Staking and reputation
	MaxStake  float64 `json:"max_stake"`
	BonusRate float64 `json:"bonus_rate"`
	SlashRate float64 `json:"slash_rate"`
	StakeStep float64 `json:"stake_step"`
	TruthStep float64 `json:"truth_step"`

	// Settlement oracle
	PriceAPIURL       string  `json:"price_api_url"`
	SettleDelayMs     int     `json:"settle_delay_ms"`
	SweepIntervalMs   int     `json:"sweep_interval_ms"`
	RetryIntervalMs   int     `json:"retry_interval_ms"`
	MinMovePct        float64 `json:"min_move_pct"`
	PendingCap        int     `json:"pending_cap"`
	SettlementHistory int     `json:"settlement_history"`

	// Report cache
	CacheCapacity int `json:"cache_capacity"`
	CacheTTLMs    int `json:"cache_ttl_ms"`
	CacheSweepMs  int `json:"cache_sweep_ms"`

	// Autopilot
	AutopilotBaseMs   int      `json:"autopilot_base_ms"`
	AutopilotMinMs    int      `json:"autopilot_min_ms"`
	AutopilotMaxMs    int      `json:"autopilot_max_ms"`
	AutopilotHighConf float64  `json:"autopilot_high_conf"`
	AutopilotLowConf  float64  `json:"autopilot_low_conf"`
	AutopilotSlowdown float64  `json:"autopilot_slowdown"`
	AutopilotSpeedup  float64  `json:"autopilot_speedup"`
	AutopilotDrift    float64  `json:"autopilot_drift"`
	AutopilotTopics   []string `json:"autopilot_topics"`

	// Persistence and eventing
	PersistDebounceMs int `json:"persist_debounce_ms"`
	BusBufferSize     int `json:"bus_buffer_size"`

	ListenAddr string `json:"listen_addr"`
	Debug      bool   `json:"debug"`
}

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	cfg := DefaultConfigWithRoot(currentDir)

	// Load environment variables from .env file
	_ = godotenv.Load()
	cfg.loadFromEnv()
	return cfg
}

func DefaultConfigWithRoot(root string) *Config {
	return &Config{
		DataDir:    filepath.Join(root, "data"),
		ResultsDir: filepath.Join(root, "results"),

		Agents: []AgentConfig{
			{Key: "news", Name: "News Scanner", Endpoint: "http://localhost:9101/analyze", Category: "news", BasePrice: 10},
			{Key: "onchain", Name: "Chain Watcher", Endpoint: "http://localhost:9102/analyze", Category: "onchain", BasePrice: 25},
			{Key: "social", Name: "Social Pulse", Endpoint: "http://localhost:9103/analyze", Category: "sentiment", BasePrice: 15},
			{Key: "degen", Name: "Degen Radar", Endpoint: "http://localhost:9104/analyze", Category: "sentiment", BasePrice: 5},
		},
		AgentTimeoutMs: 15000,

		FailureThreshold: 3,
		OpenDurationMs:   60000,

		MaxStake:  100,
		BonusRate: 0.5,
		SlashRate: 0.5,
		StakeStep: 0.02,
		TruthStep: 0.05,

		PriceAPIURL:       "https://api.coingecko.com/api/v3/simple/price",
		SettleDelayMs:     3600000,
		SweepIntervalMs:   30000,
		RetryIntervalMs:   120000,
		MinMovePct:        0.3,
		PendingCap:        200,
		SettlementHistory: 100,

		CacheCapacity: 50,
		CacheTTLMs:    1800000,
		CacheSweepMs:  60000,

		AutopilotBaseMs:   300000,
		AutopilotMinMs:    60000,
		AutopilotMaxMs:    1800000,
		AutopilotHighConf: 70,
		AutopilotLowConf:  30,
		AutopilotSlowdown: 1.5,
		AutopilotSpeedup:  0.6,
		AutopilotDrift:    0.5,
		AutopilotTopics:   []string{"bitcoin momentum", "ethereum ecosystem", "solana defi", "meme coin flows"},

		PersistDebounceMs: 2000,
		BusBufferSize:     64,

		ListenAddr: "127.0.0.1:8714",
		Debug:      false,
	}
}

func (c *Config) loadFromEnv() {
	if val := os.Getenv("ALPHAHUNT_DATA_DIR"); val != "" {
		c.DataDir = val
	}
	if val := os.Getenv("ALPHAHUNT_RESULTS_DIR"); val != "" {
		c.ResultsDir = val
	}
	if val := os.Getenv("ALPHAHUNT_PRICE_API_URL"); val != "" {
		c.PriceAPIURL = val
	}
	if val := os.Getenv("ALPHAHUNT_LISTEN_ADDR"); val != "" {
		c.ListenAddr = val
	}
	if val := os.Getenv("ALPHAHUNT_DEBUG"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Debug = enabled
		}
	}
	if val := os.Getenv("ALPHAHUNT_FAILURE_THRESHOLD"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.FailureThreshold = v
		}
	}
	if val := os.Getenv("ALPHAHUNT_OPEN_DURATION_MS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.OpenDurationMs = v
		}
	}
	if val := os.Getenv("ALPHAHUNT_SETTLE_DELAY_MS"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.SettleDelayMs = v
		}
	}
	if val := os.Getenv("ALPHAHUNT_CACHE_CAPACITY"); val != "" {
		if v, err := strconv.Atoi(val); err == nil {
			c.CacheCapacity = v
		}
	}
	if val := os.Getenv("ALPHAHUNT_TOPICS"); val != "" {
		var topics []string
		for _, t := range strings.Split(val, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
		if len(topics) > 0 {
			c.AutopilotTopics = topics
		}
	}
}

// Validate rejects configurations that would violate runtime invariants.
func (c *Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}
	seen := make(map[string]struct{}, len(c.Agents))
	for _, a := range c.Agents {
		if strings.TrimSpace(a.Key) == "" {
			return fmt.Errorf("agent key is required")
		}
		if _, dup := seen[a.Key]; dup {
			return fmt.Errorf("duplicate agent key %q", a.Key)
		}
		seen[a.Key] = struct{}{}
		if strings.TrimSpace(a.Endpoint) == "" {
			return fmt.Errorf("agent %s: endpoint is required", a.Key)
		}
		if a.BasePrice < 0 {
			return fmt.Errorf("agent %s: base price must not be negative", a.Key)
		}
	}
	if c.FailureThreshold < 1 {
		return fmt.Errorf("failure_threshold must be at least 1")
	}
	if c.MinMovePct < 0 {
		return fmt.Errorf("min_move_pct must not be negative")
	}
	if c.CacheCapacity < 1 {
		return fmt.Errorf("cache_capacity must be at least 1")
	}
	if c.AutopilotMinMs > c.AutopilotMaxMs {
		return fmt.Errorf("autopilot min interval exceeds max")
	}
	if base := c.AutopilotBaseMs; base < c.AutopilotMinMs || base > c.AutopilotMaxMs {
		return fmt.Errorf("autopilot base interval outside [min, max]")
	}
	if c.AutopilotLowConf > c.AutopilotHighConf {
		return fmt.Errorf("autopilot low threshold exceeds high threshold")
	}
	if len(c.AutopilotTopics) == 0 {
		return fmt.Errorf("at least one autopilot topic is required")
	}
	return nil
}

func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.ResultsDir} {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}

// Duration accessors for millisecond fields.

func (c *Config) AgentTimeout() time.Duration   { return ms(c.AgentTimeoutMs) }
func (c *Config) OpenDuration() time.Duration   { return ms(c.OpenDurationMs) }
func (c *Config) SettleDelay() time.Duration    { return ms(c.SettleDelayMs) }
func (c *Config) SweepInterval() time.Duration  { return ms(c.SweepIntervalMs) }
func (c *Config) RetryInterval() time.Duration  { return ms(c.RetryIntervalMs) }
func (c *Config) CacheTTL() time.Duration       { return ms(c.CacheTTLMs) }
func (c *Config) CacheSweep() time.Duration     { return ms(c.CacheSweepMs) }
func (c *Config) AutopilotBase() time.Duration  { return ms(c.AutopilotBaseMs) }
func (c *Config) AutopilotMin() time.Duration   { return ms(c.AutopilotMinMs) }
func (c *Config) AutopilotMax() time.Duration   { return ms(c.AutopilotMaxMs) }
func (c *Config) PersistDebounce() time.Duration { return ms(c.PersistDebounceMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
