package fetcher

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"modelreg/pkg/core"
	"modelreg/pkg/logger"
	"modelreg/pkg/profile"
	"modelreg/pkg/retry"
	"modelreg/pkg/telemetry"
)

// Fetcher 带重试的单提供商抓取器
// 每次 Fetch 是一个严格串行的尝试序列：
// 第N+1次尝试一定在第N次的结果和退避等待之后才开始。
// 成功结果不写缓存，缓存填充由调用方负责。
type Fetcher struct {
	raw      core.RawFetcher
	profiles *profile.Registry
	policy   retry.Policy
	sink     telemetry.Sink
	log      *logrus.Entry

	// sleep 退避等待，测试中可替换以避免真实睡眠
	sleep func(ctx context.Context, d time.Duration) error
}

// New 创建抓取器
func New(raw core.RawFetcher, profiles *profile.Registry, sink telemetry.Sink) *Fetcher {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	return &Fetcher{
		raw:      raw,
		profiles: profiles,
		policy:   retry.NewPolicy(),
		sink:     sink,
		log:      logger.WithComponent("Fetcher"),
		sleep:    sleepContext,
	}
}

// Fetch 抓取单个提供商的模型列表
// 可重试错误在内部吸收直到重试预算用尽；
// 返回的错误只会是终态错误或预算耗尽错误。
func (f *Fetcher) Fetch(ctx context.Context, id core.ProviderID) (core.ModelRecord, error) {
	prof := f.profiles.Resolve(id)

	var lastErr error
	for attempt := 0; ; attempt++ {
		record, err := f.raw.RawFetch(ctx, id, prof.ConnectTimeout, prof.ReceiveTimeout)
		if err == nil {
			if attempt > 0 {
				f.log.WithField("provider", string(id)).
					Infof("fetch succeeded after %d attempts", attempt+1)
			}
			return record, nil
		}
		lastErr = err

		// 调用方取消或整体超时，直接结束
		if ctx.Err() != nil {
			return nil, NewTerminalError(id, ctx.Err())
		}

		if !f.policy.IsRetryable(err) {
			f.log.WithField("provider", string(id)).
				WithError(err).Debug("terminal fetch error, not retrying")
			return nil, NewTerminalError(id, err)
		}

		if !f.policy.Budget(attempt, prof) {
			f.sink.Emit(telemetry.FetchExhausted(id, attempt+1))
			f.log.WithField("provider", string(id)).
				WithError(lastErr).Warnf("retries exhausted after %d attempts", attempt+1)
			return nil, NewExhaustedError(id, attempt+1, lastErr)
		}

		delay := f.policy.NextDelay(attempt, prof)
		f.sink.Emit(telemetry.FetchRetry(id, attempt+1, delay))
		f.log.WithField("provider", string(id)).
			WithError(err).Debugf("retryable fetch error, waiting %v before attempt %d", delay, attempt+2)

		if err := f.sleep(ctx, delay); err != nil {
			return nil, NewTerminalError(id, err)
		}
	}
}

// sleepContext 可被上下文打断的睡眠
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ core.Fetcher = (*Fetcher)(nil)
