package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"modelreg/pkg/core"
	"modelreg/pkg/logger"
	"modelreg/pkg/telemetry"
)

const (
	// DefaultMaxConcurrency 批量抓取的默认并发上限
	DefaultMaxConcurrency = 10
	// DefaultPerTaskTimeout 单个提供商任务的默认超时
	DefaultPerTaskTimeout = 30 * time.Second
)

// BatchOptions 批量调用选项
type BatchOptions struct {
	MaxConcurrency int           // 并发上限，<=0 时为10
	PerTaskTimeout time.Duration // 单任务超时，<=0 时为30秒
	TTL            time.Duration // 成功结果写入缓存的TTL，<=0 时用缓存默认值
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = DefaultMaxConcurrency
	}
	if o.PerTaskTimeout <= 0 {
		o.PerTaskTimeout = DefaultPerTaskTimeout
	}
	return o
}

// Coordinator 有界并发的批量抓取协调器
// 对每个提供商先查缓存，未命中的任务调度到固定大小的工作池，
// 单任务超时独立生效。一个提供商的失败或超时不会取消、
// 延迟或污染其他提供商的任务。
type Coordinator struct {
	cache   core.Cache
	fetcher core.Fetcher
	sink    telemetry.Sink
	log     *logrus.Entry
}

// NewCoordinator 创建批量协调器
func NewCoordinator(cache core.Cache, fetcher core.Fetcher, sink telemetry.Sink) *Coordinator {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	return &Coordinator{
		cache:   cache,
		fetcher: fetcher,
		sink:    sink,
		log:     logger.WithComponent("BatchCoordinator"),
	}
}

// RunBatch 并行抓取一组提供商的模型列表
// 永远返回完整的结果集：每个请求的提供商恰好一个结果，
// 整个调用不会因为个别提供商失败而失败。
// 调用同步返回，内部并发对调用方透明。
func (c *Coordinator) RunBatch(ctx context.Context, ids []core.ProviderID, opts BatchOptions) *BatchResult {
	opts = opts.withDefaults()
	start := time.Now()

	result := &BatchResult{
		BatchID:  uuid.NewString(),
		Outcomes: make(map[core.ProviderID]Outcome, len(ids)),
	}

	log := c.log.WithField("batch_id", result.BatchID)
	log.Debugf("batch started for %d providers", len(ids))

	// 先同步查缓存，命中的直接出结果，不占用工作池
	var toFetch []core.ProviderID
	for _, id := range ids {
		if _, dup := result.Outcomes[id]; dup {
			continue
		}
		if record, ok := c.cache.Get(ctx, id); ok {
			c.sink.Emit(telemetry.CacheHit(id))
			result.Outcomes[id] = Outcome{
				ProviderID: id,
				Record:     record,
				FromCache:  true,
			}
			continue
		}
		c.sink.Emit(telemetry.CacheMiss(id, "absent_or_expired"))
		// 占位，保证每个请求的提供商都有结果
		result.Outcomes[id] = Outcome{ProviderID: id}
		toFetch = append(toFetch, id)
	}

	if len(toFetch) == 0 {
		result.Elapsed = time.Since(start)
		return result
	}

	sem := make(chan struct{}, opts.MaxConcurrency)
	outcomes := make(chan Outcome, len(toFetch))

	var wg sync.WaitGroup
	for _, id := range toFetch {
		wg.Add(1)
		go func(id core.ProviderID) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			outcomes <- c.runTask(ctx, id, opts)
		}(id)
	}

	wg.Wait()
	close(outcomes)

	for o := range outcomes {
		result.Outcomes[o.ProviderID] = o
	}

	result.Elapsed = time.Since(start)
	log.Debugf("batch finished: %d ok, %d failed in %v",
		len(result.Succeeded()), len(result.Failed()), result.Elapsed)
	return result
}

// runTask 执行单个提供商的抓取任务
// 超时后任务被放弃而不是等待：底层操作无法抢占时，
// 其残留协程的最终结果会被丢弃，并发槽位立即让给下一个任务。
func (c *Coordinator) runTask(ctx context.Context, id core.ProviderID, opts BatchOptions) Outcome {
	taskStart := time.Now()
	taskCtx, cancel := context.WithTimeout(ctx, opts.PerTaskTimeout)
	defer cancel()

	type fetchResult struct {
		record core.ModelRecord
		err    error
	}
	done := make(chan fetchResult, 1)

	go func() {
		record, err := c.fetcher.Fetch(taskCtx, id)
		done <- fetchResult{record: record, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return Outcome{
				ProviderID: id,
				Err:        res.err,
				Elapsed:    time.Since(taskStart),
			}
		}

		// 先写缓存再记结果，并发的下一个批次能立即看到新值
		c.cache.Put(ctx, id, res.record, opts.TTL)
		c.sink.Emit(telemetry.CachePut(id, opts.TTL))
		return Outcome{
			ProviderID: id,
			Record:     res.record,
			Elapsed:    time.Since(taskStart),
		}

	case <-taskCtx.Done():
		c.sink.Emit(telemetry.BatchTimeout(id))
		c.log.WithField("provider", string(id)).
			Warnf("task abandoned after %v", opts.PerTaskTimeout)
		return Outcome{
			ProviderID: id,
			Err:        NewBatchTimeoutError(id, opts.PerTaskTimeout),
			Elapsed:    time.Since(taskStart),
		}
	}
}
