package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelreg/pkg/cache"
	"modelreg/pkg/core"
)

// mockFetcher 可编排的抓取模拟，记录调用次数与并发度
type mockFetcher struct {
	mu          sync.Mutex
	calls       map[core.ProviderID]int
	inflight    int32
	maxInflight int32
	fn          func(ctx context.Context, id core.ProviderID) (core.ModelRecord, error)
}

func newMockFetcher(fn func(ctx context.Context, id core.ProviderID) (core.ModelRecord, error)) *mockFetcher {
	return &mockFetcher{
		calls: make(map[core.ProviderID]int),
		fn:    fn,
	}
}

func (m *mockFetcher) Fetch(ctx context.Context, id core.ProviderID) (core.ModelRecord, error) {
	m.mu.Lock()
	m.calls[id]++
	m.mu.Unlock()

	cur := atomic.AddInt32(&m.inflight, 1)
	for {
		max := atomic.LoadInt32(&m.maxInflight)
		if cur <= max || atomic.CompareAndSwapInt32(&m.maxInflight, max, cur) {
			break
		}
	}
	defer atomic.AddInt32(&m.inflight, -1)

	return m.fn(ctx, id)
}

func (m *mockFetcher) callCount(id core.ProviderID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

func (m *mockFetcher) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

func newTestCache(t *testing.T) *cache.MemoryCache {
	t.Helper()
	mc := cache.NewMemoryCache(cache.MemoryCacheConfig{DefaultTTL: time.Hour}, nil)
	t.Cleanup(func() { mc.Close() })
	return mc
}

func providerIDs(n int) []core.ProviderID {
	ids := make([]core.ProviderID, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, core.ProviderID(fmt.Sprintf("p%d", i)))
	}
	return ids
}

// 测试不变式：每个请求的提供商恰好一个结果，部分失败不影响
func TestCoordinator_OneOutcomePerProvider(t *testing.T) {
	fetcher := newMockFetcher(func(ctx context.Context, id core.ProviderID) (core.ModelRecord, error) {
		if id == "p3" || id == "p7" {
			return nil, fmt.Errorf("boom")
		}
		return core.ModelRecord{{ID: "m-" + string(id)}}, nil
	})

	c := NewCoordinator(newTestCache(t), fetcher, nil)
	ids := providerIDs(10)

	result := c.RunBatch(context.Background(), ids, BatchOptions{})

	assert.Equal(t, len(ids), result.Len())
	for _, id := range ids {
		o, ok := result.Get(id)
		require.True(t, ok, "missing outcome for %s", id)
		if id == "p3" || id == "p7" {
			assert.False(t, o.OK())
		} else {
			assert.True(t, o.OK())
			assert.Len(t, o.Record, 1)
		}
	}
	assert.Len(t, result.Succeeded(), 8)
	assert.Len(t, result.Failed(), 2)
	assert.NotEmpty(t, result.BatchID)
}

// 测试隔离性：一个一直超时的提供商不拖慢也不污染其他提供商
func TestCoordinator_SlowProviderIsolation(t *testing.T) {
	fetcher := newMockFetcher(func(ctx context.Context, id core.ProviderID) (core.ModelRecord, error) {
		if id == "slowpoke" {
			<-ctx.Done() // 挂起直到单任务超时
			return nil, ctx.Err()
		}
		return core.ModelRecord{{ID: "m"}}, nil
	})

	c := NewCoordinator(newTestCache(t), fetcher, nil)
	ids := append(providerIDs(9), "slowpoke")

	start := time.Now()
	result := c.RunBatch(context.Background(), ids, BatchOptions{
		MaxConcurrency: 10,
		PerTaskTimeout: 100 * time.Millisecond,
	})
	elapsed := time.Since(start)

	// 整个批次的耗时约等于单任务超时，而不是 N 倍
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, len(ids), result.Len())

	slow, _ := result.Get("slowpoke")
	require.False(t, slow.OK())
	assert.True(t, IsBatchTimeout(slow.Err))

	for _, id := range providerIDs(9) {
		o, _ := result.Get(id)
		assert.True(t, o.OK(), "sibling %s must not be affected", id)
	}
}

// 测试缓存命中的提供商不触达网络
func TestCoordinator_CacheHitSkipsFetch(t *testing.T) {
	mc := newTestCache(t)
	ctx := context.Background()
	mc.Put(ctx, "cached", core.ModelRecord{{ID: "m1"}}, 0)

	fetcher := newMockFetcher(func(ctx context.Context, id core.ProviderID) (core.ModelRecord, error) {
		return core.ModelRecord{{ID: "fresh"}}, nil
	})

	c := NewCoordinator(mc, fetcher, nil)
	result := c.RunBatch(ctx, []core.ProviderID{"cached", "uncached"}, BatchOptions{})

	cached, _ := result.Get("cached")
	assert.True(t, cached.OK())
	assert.True(t, cached.FromCache)
	assert.Equal(t, "m1", cached.Record[0].ID)
	assert.Equal(t, 0, fetcher.callCount("cached"))

	uncached, _ := result.Get("uncached")
	assert.True(t, uncached.OK())
	assert.False(t, uncached.FromCache)
	assert.Equal(t, 1, fetcher.callCount("uncached"))
}

// 测试成功结果回填缓存，后续批次直接命中
func TestCoordinator_PopulatesCacheOnSuccess(t *testing.T) {
	mc := newTestCache(t)
	fetcher := newMockFetcher(func(ctx context.Context, id core.ProviderID) (core.ModelRecord, error) {
		return core.ModelRecord{{ID: "m1"}}, nil
	})

	c := NewCoordinator(mc, fetcher, nil)
	ctx := context.Background()

	first := c.RunBatch(ctx, []core.ProviderID{"p1"}, BatchOptions{})
	o, _ := first.Get("p1")
	require.True(t, o.OK())

	record, ok := mc.Get(ctx, "p1")
	require.True(t, ok)
	assert.Equal(t, "m1", record[0].ID)

	second := c.RunBatch(ctx, []core.ProviderID{"p1"}, BatchOptions{})
	o2, _ := second.Get("p1")
	assert.True(t, o2.FromCache)
	assert.Equal(t, 1, fetcher.callCount("p1"), "no additional fetch after cache population")
}

// 测试失败结果不写缓存
func TestCoordinator_FailureDoesNotPopulateCache(t *testing.T) {
	mc := newTestCache(t)
	fetcher := newMockFetcher(func(ctx context.Context, id core.ProviderID) (core.ModelRecord, error) {
		return nil, fmt.Errorf("boom")
	})

	c := NewCoordinator(mc, fetcher, nil)
	ctx := context.Background()

	result := c.RunBatch(ctx, []core.ProviderID{"p1"}, BatchOptions{})
	o, _ := result.Get("p1")
	require.False(t, o.OK())

	_, ok := mc.Get(ctx, "p1")
	assert.False(t, ok)
	assert.Equal(t, int64(0), mc.Stats().Puts)
}

// 测试并发上限：同时运行的抓取任务不超过 MaxConcurrency
func TestCoordinator_ConcurrencyBound(t *testing.T) {
	fetcher := newMockFetcher(func(ctx context.Context, id core.ProviderID) (core.ModelRecord, error) {
		time.Sleep(20 * time.Millisecond)
		return core.ModelRecord{{ID: "m"}}, nil
	})

	c := NewCoordinator(newTestCache(t), fetcher, nil)
	result := c.RunBatch(context.Background(), providerIDs(20), BatchOptions{
		MaxConcurrency: 3,
	})

	assert.Equal(t, 20, result.Len())
	assert.LessOrEqual(t, atomic.LoadInt32(&fetcher.maxInflight), int32(3))
}

// 测试重复的提供商ID只产生一个结果、只抓取一次
func TestCoordinator_DuplicateIDs(t *testing.T) {
	fetcher := newMockFetcher(func(ctx context.Context, id core.ProviderID) (core.ModelRecord, error) {
		return core.ModelRecord{{ID: "m"}}, nil
	})

	c := NewCoordinator(newTestCache(t), fetcher, nil)
	result := c.RunBatch(context.Background(),
		[]core.ProviderID{"p1", "p1", "p2"}, BatchOptions{})

	assert.Equal(t, 2, result.Len())
	assert.Equal(t, 1, fetcher.callCount("p1"))
}

// 测试空的提供商列表
func TestCoordinator_EmptyBatch(t *testing.T) {
	fetcher := newMockFetcher(func(ctx context.Context, id core.ProviderID) (core.ModelRecord, error) {
		return nil, nil
	})

	c := NewCoordinator(newTestCache(t), fetcher, nil)
	result := c.RunBatch(context.Background(), nil, BatchOptions{})

	assert.Equal(t, 0, result.Len())
	assert.Equal(t, 0, fetcher.totalCalls())
}
