package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"

	"modelreg/pkg/profile"
)

// MaxJitter 退避延迟上附加的最大抖动
// 抖动使同一时刻失败的大量并发抓取任务的重试时间点互相错开。
const MaxJitter = 500 * time.Millisecond

// HTTPError 带状态码的HTTP错误
// 上游抓取实现在收到非2xx响应时返回此类型，便于按状态码分类。
type HTTPError struct {
	StatusCode int
	Body       string
}

// NewHTTPError 创建HTTP错误
func NewHTTPError(statusCode int, body string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Body: body}
}

// Error 实现 error 接口
func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP status error: %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP status error: %d", e.StatusCode)
}

// retryableStatusCodes 可重试的HTTP状态码
var retryableStatusCodes = map[int]bool{
	408: true, // Request Timeout
	429: true, // Too Many Requests
	500: true,
	502: true,
	503: true,
	504: true,
}

// Policy 重试决策逻辑
// 纯函数式组件，本身不持有可变状态。
type Policy struct{}

// NewPolicy 创建重试策略
func NewPolicy() Policy {
	return Policy{}
}

// IsRetryable 判断错误是否值得重试
// 可重试：408/429/5xx状态码、超时、连接被拒绝、连接被关闭。
// 其余错误（认证失败、响应格式错误等）为终态，不得重试。
func (Policy) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return retryableStatusCodes[httpErr.StatusCode]
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection closed"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "broken pipe"):
		return true
	}

	return false
}

// NextDelay 计算第 attempt 次失败后的退避等待时间
// delay = baseDelay * 2^attempt + random(0, 500ms)。
// 每次调用使用独立的随机源，避免并发任务共享种子导致重试同步。
func (Policy) NextDelay(attempt int, p profile.Profile) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := p.BaseRetryDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	return delay + time.Duration(r.Int63n(int64(MaxJitter)))
}

// Budget 判断在给定配置下第 attempt 次失败后是否还有重试预算
// attempt 从0开始计数，最多重试 MaxRetries 次。
func (Policy) Budget(attempt int, p profile.Profile) bool {
	return attempt < p.MaxRetries
}
