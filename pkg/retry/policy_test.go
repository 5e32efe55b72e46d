package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"modelreg/pkg/profile"
)

// 测试HTTP状态码的可重试分类
func TestPolicy_IsRetryable_HTTPStatus(t *testing.T) {
	policy := NewPolicy()

	retryable := []int{408, 429, 500, 502, 503, 504}
	for _, code := range retryable {
		assert.True(t, policy.IsRetryable(NewHTTPError(code, "")), "status %d should be retryable", code)
	}

	terminal := []int{400, 401, 403, 404, 422}
	for _, code := range terminal {
		assert.False(t, policy.IsRetryable(NewHTTPError(code, "")), "status %d should be terminal", code)
	}
}

// 测试传输层错误的可重试分类
func TestPolicy_IsRetryable_Transport(t *testing.T) {
	policy := NewPolicy()

	assert.True(t, policy.IsRetryable(context.DeadlineExceeded))
	assert.True(t, policy.IsRetryable(errors.New("dial tcp 1.2.3.4:443: i/o timeout")))
	assert.True(t, policy.IsRetryable(errors.New("dial tcp 1.2.3.4:443: connect: connection refused")))
	assert.True(t, policy.IsRetryable(errors.New("read tcp: connection reset by peer")))
	assert.True(t, policy.IsRetryable(fmt.Errorf("HTTP request failed: %w", errors.New("unexpected EOF"))))

	// 应用层错误为终态
	assert.False(t, policy.IsRetryable(errors.New("malformed response: invalid character '<'")))
	assert.False(t, policy.IsRetryable(errors.New("no endpoint configured for provider x")))
	assert.False(t, policy.IsRetryable(nil))
}

// 测试包装后的HTTP错误仍按状态码分类
func TestPolicy_IsRetryable_WrappedHTTPError(t *testing.T) {
	policy := NewPolicy()

	wrapped := fmt.Errorf("fetch failed: %w", NewHTTPError(503, "service unavailable"))
	assert.True(t, policy.IsRetryable(wrapped))

	wrapped = fmt.Errorf("fetch failed: %w", NewHTTPError(401, "unauthorized"))
	assert.False(t, policy.IsRetryable(wrapped))
}

// 测试退避延迟的指数增长与抖动上界
func TestPolicy_NextDelay(t *testing.T) {
	policy := NewPolicy()
	prof := profile.Profile{BaseRetryDelay: time.Second}

	for attempt := 0; attempt < 4; attempt++ {
		base := time.Second * time.Duration(1<<attempt)
		for i := 0; i < 20; i++ {
			delay := policy.NextDelay(attempt, prof)
			assert.GreaterOrEqual(t, delay, base, "attempt %d", attempt)
			assert.Less(t, delay, base+MaxJitter, "attempt %d", attempt)
		}
	}
}

// 测试连续失败的退避延迟非递减（抖动只会增加延迟）
func TestPolicy_NextDelay_Growth(t *testing.T) {
	policy := NewPolicy()
	prof := profile.Profile{BaseRetryDelay: time.Second}

	prev := time.Duration(0)
	for attempt := 0; attempt < 3; attempt++ {
		minimum := time.Second * time.Duration(1<<attempt)
		delay := policy.NextDelay(attempt, prof)
		assert.GreaterOrEqual(t, delay, minimum)
		assert.GreaterOrEqual(t, delay, prev)
		prev = minimum
	}
}

// 测试重试预算
func TestPolicy_Budget(t *testing.T) {
	policy := NewPolicy()
	prof := profile.Profile{MaxRetries: 2}

	assert.True(t, policy.Budget(0, prof))
	assert.True(t, policy.Budget(1, prof))
	assert.False(t, policy.Budget(2, prof))
	assert.False(t, policy.Budget(3, prof))
}

// 测试HTTPError的错误信息
func TestHTTPError_Error(t *testing.T) {
	assert.Equal(t, "HTTP status error: 503", NewHTTPError(503, "").Error())
	assert.Equal(t, "HTTP status error: 429: rate limited", NewHTTPError(429, "rate limited").Error())
}
