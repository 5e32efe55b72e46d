package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// 测试事件构造器填充名称、提供商和字段
func TestEventConstructors(t *testing.T) {
	hit := CacheHit("p1")
	assert.Equal(t, EventCacheHit, hit.Name)
	assert.Equal(t, "p1", string(hit.ProviderID))
	assert.False(t, hit.Time.IsZero())

	miss := CacheMiss("p1", "absent_or_expired")
	assert.Equal(t, EventCacheMiss, miss.Name)
	assert.Equal(t, "absent_or_expired", miss.Fields["reason"])

	put := CachePut("p1", time.Hour)
	assert.Equal(t, EventCachePut, put.Name)
	assert.Equal(t, "1h0m0s", put.Fields["ttl"])

	retry := FetchRetry("p1", 2, 3*time.Second)
	assert.Equal(t, EventFetchRetry, retry.Name)
	assert.Equal(t, 2, retry.Fields["attempt"])
	assert.Equal(t, "3s", retry.Fields["delay"])

	exhausted := FetchExhausted("p1", 4)
	assert.Equal(t, EventFetchExhausted, exhausted.Name)
	assert.Equal(t, 4, exhausted.Fields["attempts"])

	timeout := BatchTimeout("p1")
	assert.Equal(t, EventBatchTimeout, timeout.Name)
}

// 测试空下沉不会崩溃
func TestNopSink(t *testing.T) {
	assert.NotPanics(t, func() {
		NopSink{}.Emit(CacheHit("p1"))
	})
}
