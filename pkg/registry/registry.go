package registry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"modelreg/pkg/core"
	"modelreg/pkg/logger"
	"modelreg/pkg/telemetry"
)

// Options 注册表选项
type Options struct {
	DefaultTTL     time.Duration // 成功抓取写入缓存的TTL
	MaxConcurrency int           // 批量调用的默认并发上限
	PerTaskTimeout time.Duration // 批量调用的默认单任务超时
}

// Registry 模型元数据注册表门面
// 上游协作方的唯一入口：单提供商走 GetModels（缓存优先，
// 未命中时抓取并回填），多提供商走 BatchGetModels（并行批量）。
type Registry struct {
	cache       core.Cache
	fetcher     core.Fetcher
	coordinator *Coordinator
	sink        telemetry.Sink
	opts        Options
	log         *logrus.Entry
}

// New 创建注册表
// cache 与 fetcher 由调用方显式构造注入，便于测试中使用隔离实例。
func New(cache core.Cache, fetcher core.Fetcher, sink telemetry.Sink, opts Options) *Registry {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	return &Registry{
		cache:       cache,
		fetcher:     fetcher,
		coordinator: NewCoordinator(cache, fetcher, sink),
		sink:        sink,
		opts:        opts,
		log:         logger.WithComponent("Registry"),
	}
}

// GetModels 获取单个提供商的模型列表
// 缓存命中直接返回；未命中时抓取，成功后回填缓存。
// 返回的错误只会是终态错误或重试预算耗尽错误。
func (r *Registry) GetModels(ctx context.Context, id core.ProviderID) (core.ModelRecord, error) {
	if record, ok := r.cache.Get(ctx, id); ok {
		r.sink.Emit(telemetry.CacheHit(id))
		return record, nil
	}
	r.sink.Emit(telemetry.CacheMiss(id, "absent_or_expired"))

	record, err := r.fetcher.Fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cache.Put(ctx, id, record, r.opts.DefaultTTL)
	r.sink.Emit(telemetry.CachePut(id, r.opts.DefaultTTL))
	return record, nil
}

// BatchGetModels 并行获取多个提供商的模型列表
// 永远返回完整的 BatchResult，部分失败不会导致整个调用失败；
// 调用方需要逐个检查结果。需要全有或全无语义的调用方
// 自行在返回结果之上实现。
func (r *Registry) BatchGetModels(ctx context.Context, ids []core.ProviderID, opts BatchOptions) *BatchResult {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = r.opts.MaxConcurrency
	}
	if opts.PerTaskTimeout <= 0 {
		opts.PerTaskTimeout = r.opts.PerTaskTimeout
	}
	if opts.TTL <= 0 {
		opts.TTL = r.opts.DefaultTTL
	}
	return r.coordinator.RunBatch(ctx, ids, opts)
}

// Invalidate 使单个提供商的缓存条目失效
func (r *Registry) Invalidate(ctx context.Context, id core.ProviderID) {
	r.cache.Invalidate(ctx, id)
}

// ClearCache 清空全部缓存
func (r *Registry) ClearCache(ctx context.Context) {
	r.cache.Clear(ctx)
}

// CacheStats 返回缓存统计信息
func (r *Registry) CacheStats() core.CacheStats {
	return r.cache.Stats()
}
