package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"modelreg/pkg/core"
	"modelreg/pkg/logger"
)

// BreakerConfig 熔断器配置
type BreakerConfig struct {
	MaxRequests uint32        `mapstructure:"max_requests"`  // 半开状态下允许的探测请求数
	Interval    time.Duration `mapstructure:"interval"`      // 统计窗口时间
	Timeout     time.Duration `mapstructure:"timeout"`       // 熔断打开后的冷却时间
	ReadyToTrip uint32        `mapstructure:"ready_to_trip"` // 触发熔断的连续失败次数
	Enabled     bool          `mapstructure:"enabled"`
}

// DefaultBreakerConfig 默认熔断器配置
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: 5,
		Enabled:     true,
	}
}

// BreakerFetcher 带熔断器的抓取装饰器
// 每个提供商一个独立的熔断器实例，反复失败的提供商在冷却期内
// 直接快速失败，不再消耗重试预算和并发槽位。
// 熔断打开返回的错误不可重试，由上层按终态错误处理。
type BreakerFetcher struct {
	base   core.RawFetcher
	config *BreakerConfig
	log    *logrus.Entry

	mu       sync.Mutex
	breakers map[core.ProviderID]*gobreaker.CircuitBreaker
}

// NewBreakerFetcher 创建熔断装饰器
func NewBreakerFetcher(base core.RawFetcher, config *BreakerConfig) *BreakerFetcher {
	if config == nil {
		config = DefaultBreakerConfig()
	}
	return &BreakerFetcher{
		base:     base,
		config:   config,
		log:      logger.WithComponent("BreakerFetcher"),
		breakers: make(map[core.ProviderID]*gobreaker.CircuitBreaker),
	}
}

// RawFetch 实现 core.RawFetcher 接口
func (bf *BreakerFetcher) RawFetch(ctx context.Context, id core.ProviderID, connectTimeout, receiveTimeout time.Duration) (core.ModelRecord, error) {
	if !bf.config.Enabled {
		return bf.base.RawFetch(ctx, id, connectTimeout, receiveTimeout)
	}

	cb := bf.breakerFor(id)
	result, err := cb.Execute(func() (interface{}, error) {
		return bf.base.RawFetch(ctx, id, connectTimeout, receiveTimeout)
	})
	if err != nil {
		return nil, err
	}

	record, ok := result.(core.ModelRecord)
	if !ok {
		return nil, fmt.Errorf("unexpected result type from circuit breaker: %T", result)
	}
	return record, nil
}

// State 返回指定提供商的熔断器状态
func (bf *BreakerFetcher) State(id core.ProviderID) gobreaker.State {
	return bf.breakerFor(id).State()
}

// breakerFor 按提供商懒加载熔断器实例
func (bf *BreakerFetcher) breakerFor(id core.ProviderID) *gobreaker.CircuitBreaker {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if cb, ok := bf.breakers[id]; ok {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        string(id),
		MaxRequests: bf.config.MaxRequests,
		Interval:    bf.config.Interval,
		Timeout:     bf.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bf.config.ReadyToTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			bf.log.WithField("provider", name).
				Infof("circuit breaker state changed from %v to %v", from, to)
		},
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	bf.breakers[id] = cb
	return cb
}

var _ core.RawFetcher = (*BreakerFetcher)(nil)
