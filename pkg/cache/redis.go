package cache

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"modelreg/pkg/core"
	"modelreg/pkg/logger"
)

// keyPrefix Redis中缓存键的前缀
const keyPrefix = "modelreg:models:"

// RedisCacheConfig Redis缓存配置
type RedisCacheConfig struct {
	Addr       string        `mapstructure:"addr"`        // Redis地址
	Password   string        `mapstructure:"password"`    // 密码
	DB         int           `mapstructure:"db"`          // 数据库编号
	DefaultTTL time.Duration `mapstructure:"default_ttl"` // 默认TTL
}

// RedisCache Redis后端的模型元数据缓存
// 供多进程部署时共享缓存使用。条目以JSON编码存储，
// TTL直接映射到Redis的键过期。
// 与内存实现一致，缓存操作对调用方永远不失败：
// Redis访问错误记录日志并按未命中处理。
type RedisCache struct {
	client     *redis.Client
	defaultTTL time.Duration
	log        *logrus.Entry

	hits          int64
	misses        int64
	puts          int64
	invalidations int64
}

// NewRedisCache 创建Redis缓存
func NewRedisCache(config RedisCacheConfig) *RedisCache {
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultTTL
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &RedisCache{
		client:     client,
		defaultTTL: config.DefaultTTL,
		log:        logger.WithComponent("RedisCache"),
	}
}

// Ping 检查Redis连接
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Get 读取缓存条目
func (rc *RedisCache) Get(ctx context.Context, id core.ProviderID) (core.ModelRecord, bool) {
	data, err := rc.client.Get(ctx, keyPrefix+string(id)).Bytes()
	if err != nil {
		if err != redis.Nil {
			rc.log.WithError(err).Warnf("redis get failed for provider %s", id)
		}
		atomic.AddInt64(&rc.misses, 1)
		return nil, false
	}

	var record core.ModelRecord
	if err := json.Unmarshal(data, &record); err != nil {
		rc.log.WithError(err).Warnf("corrupted cache entry for provider %s, dropping", id)
		rc.client.Del(ctx, keyPrefix+string(id))
		atomic.AddInt64(&rc.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&rc.hits, 1)
	return record, true
}

// Put 写入或覆盖缓存条目
func (rc *RedisCache) Put(ctx context.Context, id core.ProviderID, record core.ModelRecord, ttl time.Duration) {
	if ttl <= 0 {
		ttl = rc.defaultTTL
	}

	data, err := json.Marshal(record)
	if err != nil {
		rc.log.WithError(err).Errorf("marshal cache entry failed for provider %s", id)
		return
	}

	if err := rc.client.Set(ctx, keyPrefix+string(id), data, ttl).Err(); err != nil {
		rc.log.WithError(err).Warnf("redis set failed for provider %s", id)
		return
	}

	atomic.AddInt64(&rc.puts, 1)
}

// Invalidate 删除单个条目
func (rc *RedisCache) Invalidate(ctx context.Context, id core.ProviderID) {
	n, err := rc.client.Del(ctx, keyPrefix+string(id)).Result()
	if err != nil {
		rc.log.WithError(err).Warnf("redis del failed for provider %s", id)
		return
	}
	atomic.AddInt64(&rc.invalidations, n)
}

// Clear 清空本缓存前缀下的所有条目
func (rc *RedisCache) Clear(ctx context.Context) {
	iter := rc.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := rc.client.Del(ctx, iter.Val()).Err(); err != nil {
			rc.log.WithError(err).Warn("redis del failed during clear")
			continue
		}
		atomic.AddInt64(&rc.invalidations, 1)
	}
	if err := iter.Err(); err != nil {
		rc.log.WithError(err).Warn("redis scan failed during clear")
	}
}

// Stats 返回客户端侧的统计计数器快照
// Size 通过前缀扫描估算，Redis不可达时为0。
func (rc *RedisCache) Stats() core.CacheStats {
	var size int64
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	iter := rc.client.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		size++
	}

	return core.CacheStats{
		Size:          size,
		Hits:          atomic.LoadInt64(&rc.hits),
		Misses:        atomic.LoadInt64(&rc.misses),
		Puts:          atomic.LoadInt64(&rc.puts),
		Invalidations: atomic.LoadInt64(&rc.invalidations),
	}
}

// Close 关闭Redis连接
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

var _ core.Cache = (*RedisCache)(nil)
