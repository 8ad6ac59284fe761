// Package cache implements the two-tier response cache: an in-memory map
// with TTL and byte-budget eviction in front of a gzip-compressed disk
// tier. Disk writes are asynchronous and best-effort.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"marketflow/logger"
)

// Meta records the request coordinates behind a key, used for scoped
// invalidation.
type Meta struct {
	Symbol    string
	Timeframe string
	Source    string
}

// Scope selects entries for invalidation. Empty fields match everything.
type Scope struct {
	Symbol    string
	Timeframe string
	Source    string
}

func (s *Scope) matches(m Meta) bool {
	if s.Symbol != "" && s.Symbol != m.Symbol {
		return false
	}
	if s.Timeframe != "" && s.Timeframe != m.Timeframe {
		return false
	}
	if s.Source != "" && s.Source != m.Source {
		return false
	}
	return true
}

// Key derives the cache key for a data request.
func Key(symbol, timeframe, source string, limit int, since time.Time) string {
	raw := fmt.Sprintf("%s|%s|%s|%d|%d", symbol, timeframe, source, limit, since.UnixMilli())
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Config controls cache sizing and sweep cadence.
type Config struct {
	Dir           string
	DefaultTTL    time.Duration
	DiskTTL       time.Duration
	MemoryBudget  int64
	SweepInterval time.Duration
	Compress      bool
}

func (c Config) withDefaults() Config {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 5 * time.Minute
	}
	if c.DiskTTL <= 0 {
		c.DiskTTL = 2 * c.DefaultTTL
	}
	if c.MemoryBudget <= 0 {
		c.MemoryBudget = 64 << 20
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	return c
}

type entry struct {
	data     []byte
	meta     Meta
	storedAt time.Time
	ttl      time.Duration
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}

// Cache is safe for concurrent use. Close stops the sweep goroutines and
// waits for pending disk writes.
type Cache struct {
	cfg  Config
	disk *diskTier
	log  *logger.Entry

	mu       sync.RWMutex
	entries  map[string]*entry
	memBytes int64

	hits      int64
	misses    int64
	evictions int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the cache and starts its sweep loops. A missing or
// unwritable directory disables the disk tier with a warning.
func New(cfg Config) *Cache {
	cfg = cfg.withDefaults()
	log := logger.GetLogger().WithComponent("cache")
	ctx, cancel := context.WithCancel(context.Background())

	c := &Cache{
		cfg:     cfg,
		log:     log,
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}
	if cfg.Dir != "" {
		disk, err := newDiskTier(cfg.Dir, cfg.Compress)
		if err != nil {
			log.WithError(err).Warn("disk tier disabled")
		} else {
			c.disk = disk
		}
	}

	c.wg.Add(1)
	go c.sweepLoop()

	log.WithFields(logger.Fields{
		"dir":           cfg.Dir,
		"default_ttl":   cfg.DefaultTTL.String(),
		"memory_budget": cfg.MemoryBudget,
	}).Info("cache initialized")
	return c
}

// Get returns a copy of the payload for key, falling through to disk on a
// memory miss. Expired and corrupt entries are removed.
func (c *Cache) Get(key string) ([]byte, bool) {
	now := time.Now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		if !e.expired(now) {
			atomic.AddInt64(&c.hits, 1)
			logger.IncrementCacheHit()
			out := make([]byte, len(e.data))
			copy(out, e.data)
			return out, true
		}
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur == e {
			c.memBytes -= int64(len(cur.data))
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}

	if c.disk != nil {
		if data, meta, age, entryTTL, ok := c.disk.read(key, c.cfg.DiskTTL); ok {
			if entryTTL <= 0 {
				entryTTL = c.cfg.DefaultTTL
			}
			if remain := entryTTL - age; remain > 0 {
				c.store(key, data, remain, meta, false)
			}
			atomic.AddInt64(&c.hits, 1)
			logger.IncrementCacheHit()
			return data, true
		}
	}

	atomic.AddInt64(&c.misses, 1)
	logger.IncrementCacheMiss()
	return nil, false
}

// Set stores a payload under key with the given TTL. A non-positive ttl
// uses the configured default. The disk write happens in the background.
func (c *Cache) Set(key string, data []byte, ttl time.Duration, meta Meta) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	c.store(key, data, ttl, meta, true)
}

func (c *Cache) store(key string, data []byte, ttl time.Duration, meta Meta, writeDisk bool) {
	buf := make([]byte, len(data))
	copy(buf, data)
	e := &entry{data: buf, meta: meta, storedAt: time.Now(), ttl: ttl}

	c.mu.Lock()
	if old, ok := c.entries[key]; ok {
		c.memBytes -= int64(len(old.data))
	}
	c.entries[key] = e
	c.memBytes += int64(len(buf))
	c.evictLocked()
	c.mu.Unlock()

	if writeDisk && c.disk != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.disk.write(key, buf, ttl, meta); err != nil {
				c.log.WithError(err).WithFields(logger.Fields{"key": key}).Warn("disk cache write failed")
			}
		}()
	}
}

// evictLocked drops the oldest entries until the byte budget is met.
// Caller holds c.mu.
func (c *Cache) evictLocked() {
	if c.memBytes <= c.cfg.MemoryBudget {
		return
	}
	type aged struct {
		key string
		at  time.Time
	}
	order := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		order = append(order, aged{key: k, at: e.storedAt})
	}
	sort.Slice(order, func(i, j int) bool { return order[i].at.Before(order[j].at) })
	for _, a := range order {
		if c.memBytes <= c.cfg.MemoryBudget {
			break
		}
		e := c.entries[a.key]
		c.memBytes -= int64(len(e.data))
		delete(c.entries, a.key)
		atomic.AddInt64(&c.evictions, 1)
	}
}

// Invalidate removes entries matching scope from both tiers. A nil scope
// clears everything.
func (c *Cache) Invalidate(scope *Scope) {
	c.mu.Lock()
	if scope == nil {
		c.entries = make(map[string]*entry)
		c.memBytes = 0
	} else {
		for k, e := range c.entries {
			if scope.matches(e.meta) {
				c.memBytes -= int64(len(e.data))
				delete(c.entries, k)
			}
		}
	}
	c.mu.Unlock()

	if c.disk != nil {
		c.disk.invalidate(scope)
	}
}

// Stats is a point-in-time view of cache counters.
type Stats struct {
	MemoryEntries int     `json:"memory_entries"`
	MemoryBytes   int64   `json:"memory_bytes"`
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Evictions     int64   `json:"evictions"`
	HitRate       float64 `json:"hit_rate"`
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	entries := len(c.entries)
	bytes := c.memBytes
	c.mu.RUnlock()

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)
	rate := 0.0
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	return Stats{
		MemoryEntries: entries,
		MemoryBytes:   bytes,
		Hits:          hits,
		Misses:        misses,
		Evictions:     atomic.LoadInt64(&c.evictions),
		HitRate:       rate,
	}
}

// Close stops the sweepers and waits for in-flight disk writes.
func (c *Cache) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Cache) sweepLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	now := time.Now()
	removed := 0

	c.mu.Lock()
	for k, e := range c.entries {
		if e.expired(now) {
			c.memBytes -= int64(len(e.data))
			delete(c.entries, k)
			removed++
		}
	}
	c.evictLocked()
	c.mu.Unlock()

	if c.disk != nil {
		removed += c.disk.sweep(c.cfg.DiskTTL)
	}
	if removed > 0 {
		c.log.WithFields(logger.Fields{"removed": removed}).Debug("cache sweep")
	}
}
