package clock

import (
	"sync"
	"time"
)

// Clock 时间源接口
// 所有过期判断都通过此接口读取时间，便于测试中控制时间推进。
// Real 实现返回的 time.Time 带有Go运行时的单调时钟读数，
// 过期比较因此不受系统时钟回拨影响。
type Clock interface {
	// Now 返回当前时间
	Now() time.Time
	// Since 返回自 t 以来经过的时间
	Since(t time.Time) time.Duration
}

// Real 真实时钟实现
type Real struct{}

// New 创建真实时钟
func New() Clock {
	return Real{}
}

// Now 实现 Clock 接口
func (Real) Now() time.Time {
	return time.Now()
}

// Since 实现 Clock 接口
func (Real) Since(t time.Time) time.Duration {
	return time.Since(t)
}

// Mock 手动推进的模拟时钟（测试用）
type Mock struct {
	mu  sync.Mutex
	now time.Time
}

// NewMock 创建模拟时钟，起始时间为 start
func NewMock(start time.Time) *Mock {
	return &Mock{now: start}
}

// Now 实现 Clock 接口
func (m *Mock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Since 实现 Clock 接口
func (m *Mock) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

// Advance 将模拟时钟向前推进 d
func (m *Mock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
