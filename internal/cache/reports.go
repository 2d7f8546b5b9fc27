// Package cache holds synthesized hunt reports, bounded by both a TTL
// sweep and LRU eviction on capacity.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sigmafold/alphahunt/models"
)

// ReportID derives the content-hash cache key for a report. The timestamp
// is part of the hash so identical topics at different times never collide.
func ReportID(topic string, ts time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", topic, ts.UnixNano())))
	return hex.EncodeToString(sum[:16])
}

// ReportCache is a bounded TTL+LRU cache of hunt reports.
type ReportCache struct {
	mu       sync.Mutex
	entries  map[string]*models.CachedReport
	capacity int
	ttl      time.Duration
	sweep    time.Duration
	logger   *zap.Logger
	now      func() time.Time
	onDirty  func()

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(capacity int, ttl, sweep time.Duration, logger *zap.Logger) *ReportCache {
	if capacity <= 0 {
		capacity = 100
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if sweep <= 0 {
		sweep = time.Minute
	}
	return &ReportCache{
		entries:  make(map[string]*models.CachedReport),
		capacity: capacity,
		ttl:      ttl,
		sweep:    sweep,
		logger:   logger.Named("cache"),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

func (c *ReportCache) SetDirtyHook(fn func()) {
	c.mu.Lock()
	c.onDirty = fn
	c.mu.Unlock()
}

// Put stores a report under its content-hash ID, evicting the least
// recently accessed entry if the cache is full. Re-putting an existing ID
// overwrites the payload and refreshes last-accessed.
func (c *ReportCache) Put(report *models.HuntReport) string {
	c.mu.Lock()
	now := c.now()
	id := report.ID
	if id == "" {
		id = ReportID(report.Topic, report.Timestamp)
		report.ID = id
	}

	if existing, ok := c.entries[id]; ok {
		existing.Report = report
		existing.LastAccessed = now
	} else {
		if len(c.entries) >= c.capacity {
			c.evictLRULocked()
		}
		c.entries[id] = &models.CachedReport{
			ID:           id,
			CreatedAt:    now,
			LastAccessed: now,
			TTL:          c.ttl,
			Report:       report,
		}
	}
	dirty := c.onDirty
	c.mu.Unlock()

	if dirty != nil {
		dirty()
	}
	return id
}

// Get fetches a report by ID and refreshes its last-accessed time.
func (c *ReportCache) Get(id string) (*models.HuntReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.CreatedAt) > entry.TTL {
		delete(c.entries, id)
		return nil, false
	}
	entry.LastAccessed = c.now()
	return entry.Report, true
}

// Len returns the number of cached reports.
func (c *ReportCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Start launches the periodic TTL sweep.
func (c *ReportCache) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.EvictExpired()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts the sweep goroutine.
func (c *ReportCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}

// EvictExpired removes every entry past its TTL and reports how many went.
func (c *ReportCache) EvictExpired() int {
	c.mu.Lock()
	now := c.now()
	evicted := 0
	for id, entry := range c.entries {
		if now.Sub(entry.CreatedAt) > entry.TTL {
			delete(c.entries, id)
			evicted++
		}
	}
	dirty := c.onDirty
	c.mu.Unlock()

	if evicted > 0 {
		c.logger.Debug("expired reports evicted", zap.Int("count", evicted))
		if dirty != nil {
			dirty()
		}
	}
	return evicted
}

// evictLRULocked drops the entry with the oldest last-accessed time.
func (c *ReportCache) evictLRULocked() {
	var oldestID string
	var oldest time.Time
	for id, entry := range c.entries {
		if oldestID == "" || entry.LastAccessed.Before(oldest) {
			oldestID = id
			oldest = entry.LastAccessed
		}
	}
	if oldestID != "" {
		delete(c.entries, oldestID)
		c.logger.Debug("lru eviction", zap.String("id", oldestID))
	}
}

// StateDoc serializes the cache contents for persistence.
func (c *ReportCache) StateDoc() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := make([]*models.CachedReport, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}
	return json.Marshal(entries)
}

// Restore loads persisted entries, dropping any already expired.
func (c *ReportCache) Restore(doc []byte) error {
	var entries []*models.CachedReport
	if err := json.Unmarshal(doc, &entries); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, entry := range entries {
		if entry == nil || entry.Report == nil {
			continue
		}
		if now.Sub(entry.CreatedAt) > entry.TTL {
			continue
		}
		if len(c.entries) >= c.capacity {
			break
		}
		c.entries[entry.ID] = entry
	}
	return nil
}
