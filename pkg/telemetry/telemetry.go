package telemetry

import (
	"time"

	"modelreg/pkg/core"
)

// 事件名称常量
// 事件只用于观测，任何下沉实现的失败都不影响核心路径的正确性。
const (
	EventCacheHit       = "cache.hit"
	EventCacheMiss      = "cache.miss"
	EventCachePut       = "cache.put"
	EventFetchRetry     = "fetch.retry"
	EventFetchExhausted = "fetch.exhausted"
	EventBatchTimeout   = "batch.timeout"
)

// Event 一条遥测事件
type Event struct {
	Name       string                 `json:"name"`        // 事件名称
	ProviderID core.ProviderID        `json:"provider_id"` // 关联的提供商
	Fields     map[string]interface{} `json:"fields,omitempty"`
	Time       time.Time              `json:"time"`
}

// Sink 遥测事件下沉接口
// Emit 必须快速返回且不得阻塞调用方。
type Sink interface {
	Emit(event Event)
}

// NopSink 丢弃所有事件的下沉实现
type NopSink struct{}

// Emit 实现 Sink 接口
func (NopSink) Emit(Event) {}

// CacheHit 构造缓存命中事件
func CacheHit(id core.ProviderID) Event {
	return Event{Name: EventCacheHit, ProviderID: id, Time: time.Now()}
}

// CacheMiss 构造缓存未命中事件
func CacheMiss(id core.ProviderID, reason string) Event {
	return Event{
		Name:       EventCacheMiss,
		ProviderID: id,
		Fields:     map[string]interface{}{"reason": reason},
		Time:       time.Now(),
	}
}

// CachePut 构造缓存写入事件
func CachePut(id core.ProviderID, ttl time.Duration) Event {
	return Event{
		Name:       EventCachePut,
		ProviderID: id,
		Fields:     map[string]interface{}{"ttl": ttl.String()},
		Time:       time.Now(),
	}
}

// FetchRetry 构造抓取重试事件
func FetchRetry(id core.ProviderID, attempt int, delay time.Duration) Event {
	return Event{
		Name:       EventFetchRetry,
		ProviderID: id,
		Fields: map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
		},
		Time: time.Now(),
	}
}

// FetchExhausted 构造重试预算耗尽事件
func FetchExhausted(id core.ProviderID, attempts int) Event {
	return Event{
		Name:       EventFetchExhausted,
		ProviderID: id,
		Fields:     map[string]interface{}{"attempts": attempts},
		Time:       time.Now(),
	}
}

// BatchTimeout 构造批量任务超时事件
func BatchTimeout(id core.ProviderID) Event {
	return Event{Name: EventBatchTimeout, ProviderID: id, Time: time.Now()}
}
