package fetcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelreg/pkg/core"
	"modelreg/pkg/profile"
	"modelreg/pkg/retry"
)

// mockRaw 可编排的上游抓取模拟
type mockRaw struct {
	mu    sync.Mutex
	calls int
	fn    func(attempt int) (core.ModelRecord, error)
}

func (m *mockRaw) RawFetch(ctx context.Context, id core.ProviderID, connectTimeout, receiveTimeout time.Duration) (core.ModelRecord, error) {
	m.mu.Lock()
	m.calls++
	attempt := m.calls
	m.mu.Unlock()
	return m.fn(attempt)
}

func (m *mockRaw) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testProfiles(maxRetries int) *profile.Registry {
	registry := profile.NewRegistry()
	registry.Register(profile.Profile{
		ProviderID:     "p1",
		Tier:           profile.TierFast,
		MaxRetries:     maxRetries,
		BaseRetryDelay: time.Millisecond,
	})
	return registry
}

// newTestFetcher 创建睡眠被短路的抓取器，并记录每次退避延迟
func newTestFetcher(raw core.RawFetcher, profiles *profile.Registry) (*Fetcher, *[]time.Duration) {
	f := New(raw, profiles, nil)
	delays := &[]time.Duration{}
	f.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return f, delays
}

// 测试首次尝试即成功
func TestFetcher_SuccessFirstTry(t *testing.T) {
	raw := &mockRaw{fn: func(attempt int) (core.ModelRecord, error) {
		return core.ModelRecord{{ID: "m1"}, {ID: "m2"}}, nil
	}}

	f, delays := newTestFetcher(raw, testProfiles(3))
	record, err := f.Fetch(context.Background(), "p1")

	require.NoError(t, err)
	assert.Len(t, record, 2)
	assert.Equal(t, 1, raw.callCount())
	assert.Empty(t, *delays)
}

// 测试503两次后第三次成功（预算内）
func TestFetcher_RetryThenSuccess(t *testing.T) {
	raw := &mockRaw{fn: func(attempt int) (core.ModelRecord, error) {
		if attempt <= 2 {
			return nil, retry.NewHTTPError(503, "")
		}
		return core.ModelRecord{{ID: "m1"}}, nil
	}}

	f, delays := newTestFetcher(raw, testProfiles(3))
	record, err := f.Fetch(context.Background(), "p1")

	require.NoError(t, err)
	assert.Len(t, record, 1)
	assert.Equal(t, 3, raw.callCount())
	assert.Len(t, *delays, 2)

	// 退避延迟非递减：2^attempt * baseDelay，抖动只增不减
	assert.GreaterOrEqual(t, (*delays)[0], time.Millisecond)
	assert.GreaterOrEqual(t, (*delays)[1], 2*time.Millisecond)
}

// 测试终态错误不重试：401恰好只尝试一次
func TestFetcher_TerminalShortCircuit(t *testing.T) {
	raw := &mockRaw{fn: func(attempt int) (core.ModelRecord, error) {
		return nil, retry.NewHTTPError(401, "unauthorized")
	}}

	f, delays := newTestFetcher(raw, testProfiles(3))
	_, err := f.Fetch(context.Background(), "p1")

	require.Error(t, err)
	assert.True(t, IsTerminal(err))
	assert.False(t, IsExhausted(err))
	assert.Equal(t, 1, raw.callCount())
	assert.Empty(t, *delays)
}

// 测试重试预算耗尽后返回的错误与终态错误可区分
func TestFetcher_RetriesExhausted(t *testing.T) {
	raw := &mockRaw{fn: func(attempt int) (core.ModelRecord, error) {
		return nil, retry.NewHTTPError(503, "")
	}}

	f, _ := newTestFetcher(raw, testProfiles(2))
	_, err := f.Fetch(context.Background(), "p1")

	require.Error(t, err)
	assert.True(t, IsExhausted(err))
	assert.False(t, IsTerminal(err))
	// maxRetries=2 意味着最多 1+2=3 次尝试
	assert.Equal(t, 3, raw.callCount())

	// 原始错误保留在包装链中
	var httpErr *retry.HTTPError
	assert.True(t, errors.As(err, &httpErr))
	assert.Equal(t, 503, httpErr.StatusCode)
}

// 测试调用方取消后立即结束
func TestFetcher_ContextCancelled(t *testing.T) {
	raw := &mockRaw{fn: func(attempt int) (core.ModelRecord, error) {
		return nil, retry.NewHTTPError(503, "")
	}}

	profiles := testProfiles(5)
	f := New(raw, profiles, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Fetch(ctx, "p1")
	require.Error(t, err)
	assert.True(t, IsTerminal(err))
	assert.Equal(t, 1, raw.callCount())
}

// 测试未登记提供商使用medium默认配置抓取
func TestFetcher_UnknownProviderUsesDefaults(t *testing.T) {
	raw := &mockRaw{fn: func(attempt int) (core.ModelRecord, error) {
		return core.ModelRecord{{ID: "m1"}}, nil
	}}

	f, _ := newTestFetcher(raw, profile.NewRegistry())
	record, err := f.Fetch(context.Background(), "anything")

	require.NoError(t, err)
	assert.Len(t, record, 1)
}
