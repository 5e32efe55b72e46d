package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"modelreg/pkg/clock"
	"modelreg/pkg/core"
)

// DefaultTTL 未指定TTL时缓存条目的默认生存时间
const DefaultTTL = 1 * time.Hour

// shardCount 分片数量，必须是2的幂
const shardCount = 16

// Entry 缓存中的一个条目
// 条目整体替换，读取方只会看到完整的旧值或完整的新值。
type Entry struct {
	ProviderID core.ProviderID  // 提供商ID
	Record     core.ModelRecord // 缓存的模型列表
	InsertedAt time.Time        // 写入时间
	ExpiresAt  time.Time        // 过期时间，恒大于 InsertedAt
}

// MemoryCacheConfig 内存缓存配置
type MemoryCacheConfig struct {
	DefaultTTL      time.Duration // 默认TTL，<=0 时为1小时
	CleanupInterval time.Duration // 后台清理间隔，<=0 时不启动清理协程
}

// MemoryCache 分片的内存TTL缓存
// 不同键的读写互不阻塞，同一键的并发写通过分片锁串行化。
// 过期在读取时惰性判定，后台清理协程只是内存回收的优化，
// 不参与正确性保证。
type MemoryCache struct {
	shards     [shardCount]*cacheShard
	clk        clock.Clock
	defaultTTL time.Duration

	hits          int64
	misses        int64
	puts          int64
	invalidations int64
	cleanups      int64

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	closeOnce     sync.Once
}

type cacheShard struct {
	mu      sync.RWMutex
	entries map[core.ProviderID]*Entry
}

// NewMemoryCache 创建内存缓存
func NewMemoryCache(config MemoryCacheConfig, clk clock.Clock) *MemoryCache {
	if clk == nil {
		clk = clock.New()
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultTTL
	}

	mc := &MemoryCache{
		clk:         clk,
		defaultTTL:  config.DefaultTTL,
		stopCleanup: make(chan struct{}),
	}
	for i := range mc.shards {
		mc.shards[i] = &cacheShard{
			entries: make(map[core.ProviderID]*Entry),
		}
	}

	if config.CleanupInterval > 0 {
		mc.cleanupTicker = time.NewTicker(config.CleanupInterval)
		go mc.cleanupLoop()
	}

	return mc
}

func (mc *MemoryCache) shardFor(id core.ProviderID) *cacheShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return mc.shards[h.Sum32()&(shardCount-1)]
}

// Get 读取缓存条目
// 条目不存在或已过期时返回 ok=false；过期条目顺带删除。
func (mc *MemoryCache) Get(ctx context.Context, id core.ProviderID) (core.ModelRecord, bool) {
	shard := mc.shardFor(id)

	shard.mu.RLock()
	entry, exists := shard.entries[id]
	shard.mu.RUnlock()

	if !exists {
		atomic.AddInt64(&mc.misses, 1)
		return nil, false
	}

	now := mc.clk.Now()
	if !entry.ExpiresAt.After(now) {
		shard.mu.Lock()
		// 持锁后复查，避免删掉并发Put刚写入的新条目
		if cur, ok := shard.entries[id]; ok && cur == entry {
			delete(shard.entries, id)
		}
		shard.mu.Unlock()
		atomic.AddInt64(&mc.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&mc.hits, 1)
	return entry.Record, true
}

// Put 写入或覆盖缓存条目
// ttl<=0 时使用默认TTL。替换是原子的：条目指针在分片锁内整体换掉。
func (mc *MemoryCache) Put(ctx context.Context, id core.ProviderID, record core.ModelRecord, ttl time.Duration) {
	if ttl <= 0 {
		ttl = mc.defaultTTL
	}

	now := mc.clk.Now()
	entry := &Entry{
		ProviderID: id,
		Record:     record,
		InsertedAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	shard := mc.shardFor(id)
	shard.mu.Lock()
	shard.entries[id] = entry
	shard.mu.Unlock()

	atomic.AddInt64(&mc.puts, 1)
}

// Invalidate 删除单个条目，不存在时为空操作
func (mc *MemoryCache) Invalidate(ctx context.Context, id core.ProviderID) {
	shard := mc.shardFor(id)

	shard.mu.Lock()
	_, exists := shard.entries[id]
	if exists {
		delete(shard.entries, id)
	}
	shard.mu.Unlock()

	if exists {
		atomic.AddInt64(&mc.invalidations, 1)
	}
}

// Clear 清空所有条目
func (mc *MemoryCache) Clear(ctx context.Context) {
	for _, shard := range mc.shards {
		shard.mu.Lock()
		n := len(shard.entries)
		shard.entries = make(map[core.ProviderID]*Entry)
		shard.mu.Unlock()
		atomic.AddInt64(&mc.invalidations, int64(n))
	}
}

// Stats 返回统计计数器快照
func (mc *MemoryCache) Stats() core.CacheStats {
	var size int64
	for _, shard := range mc.shards {
		shard.mu.RLock()
		size += int64(len(shard.entries))
		shard.mu.RUnlock()
	}

	return core.CacheStats{
		Size:          size,
		Hits:          atomic.LoadInt64(&mc.hits),
		Misses:        atomic.LoadInt64(&mc.misses),
		Puts:          atomic.LoadInt64(&mc.puts),
		Invalidations: atomic.LoadInt64(&mc.invalidations),
		Cleanups:      atomic.LoadInt64(&mc.cleanups),
	}
}

// Close 停止后台清理协程
func (mc *MemoryCache) Close() error {
	mc.closeOnce.Do(func() {
		if mc.cleanupTicker != nil {
			mc.cleanupTicker.Stop()
		}
		close(mc.stopCleanup)
	})
	return nil
}

// cleanupLoop 后台清理协程
func (mc *MemoryCache) cleanupLoop() {
	for {
		select {
		case <-mc.cleanupTicker.C:
			mc.cleanup()
		case <-mc.stopCleanup:
			return
		}
	}
}

// cleanup 删除所有已过期的条目
func (mc *MemoryCache) cleanup() {
	now := mc.clk.Now()

	for _, shard := range mc.shards {
		shard.mu.Lock()
		for id, entry := range shard.entries {
			if !entry.ExpiresAt.After(now) {
				delete(shard.entries, id)
				atomic.AddInt64(&mc.cleanups, 1)
			}
		}
		shard.mu.Unlock()
	}
}

var _ core.Cache = (*MemoryCache)(nil)
