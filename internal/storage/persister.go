package storage

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Snapshotter produces a module's current state document.
type Snapshotter func() ([]byte, error)

// Persister writes dirty module state to the store on a debounce window.
// Bursts of MarkDirty calls for the same module coalesce into one write.
// A failed write is logged and retried on the next dirty mark, never fatal.
type Persister struct {
	mu       sync.Mutex
	store    *Store
	debounce time.Duration
	sources  map[string]Snapshotter
	dirty    map[string]struct{}
	timer    *time.Timer
	closed   bool
	wg       sync.WaitGroup
	logger   *zap.Logger
}

func NewPersister(store *Store, debounce time.Duration, logger *zap.Logger) *Persister {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Persister{
		store:    store,
		debounce: debounce,
		sources:  make(map[string]Snapshotter),
		dirty:    make(map[string]struct{}),
		logger:   logger.Named("persister"),
	}
}

// Register binds a module name to its snapshot source. Must be called
// before the module is marked dirty.
func (p *Persister) Register(module string, snap Snapshotter) {
	p.mu.Lock()
	p.sources[module] = snap
	p.mu.Unlock()
}

// MarkDirty schedules the module for the next debounced flush.
func (p *Persister) MarkDirty(module string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if _, ok := p.sources[module]; !ok {
		p.logger.Warn("dirty mark for unregistered module", zap.String("module", module))
		return
	}
	p.dirty[module] = struct{}{}

	if p.timer == nil {
		p.wg.Add(1)
		p.timer = time.AfterFunc(p.debounce, func() {
			defer p.wg.Done()
			p.flush()
		})
	}
}

// Flush synchronously writes every dirty module now.
func (p *Persister) Flush() {
	p.flush()
}

func (p *Persister) flush() {
	p.mu.Lock()
	if p.timer != nil {
		// A successful Stop means the timer callback never runs, so its
		// waitgroup slot must be released here.
		if p.timer.Stop() {
			p.wg.Done()
		}
		p.timer = nil
	}
	pending := make(map[string]Snapshotter, len(p.dirty))
	for module := range p.dirty {
		pending[module] = p.sources[module]
	}
	p.dirty = make(map[string]struct{})
	p.mu.Unlock()

	for module, snap := range pending {
		doc, err := snap()
		if err != nil {
			p.logger.Error("snapshot failed", zap.String("module", module), zap.Error(err))
			p.remark(module)
			continue
		}
		if err := p.store.Save(module, doc); err != nil {
			p.logger.Error("persist failed", zap.String("module", module), zap.Error(err))
			p.remark(module)
			continue
		}
		p.logger.Debug("state persisted", zap.String("module", module), zap.Int("bytes", len(doc)))
	}
}

// remark re-queues a module whose flush failed so the next dirty mark, or
// an explicit Flush, picks it up again.
func (p *Persister) remark(module string) {
	p.mu.Lock()
	if !p.closed {
		p.dirty[module] = struct{}{}
	}
	p.mu.Unlock()
}

// Close cancels the pending timer and performs one final synchronous
// flush of everything still dirty.
func (p *Persister) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.timer != nil {
		if p.timer.Stop() {
			p.wg.Done()
		}
		p.timer = nil
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.flush()
}
