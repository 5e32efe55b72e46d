package scheduler

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"modelreg/pkg/core"
	"modelreg/pkg/logger"
	"modelreg/pkg/registry"
)

// JobConfig 单个预热任务的配置
type JobConfig struct {
	Name      string   `mapstructure:"name"`
	Enabled   bool     `mapstructure:"enabled"`
	Schedule  string   `mapstructure:"schedule"`  // cron表达式（含秒）
	Providers []string `mapstructure:"providers"` // 需要预热的提供商ID列表
}

// JobsConfig 预热任务配置文件结构
type JobsConfig struct {
	Jobs []JobConfig `mapstructure:"jobs"`
}

// Job 一个运行中的预热任务
type Job struct {
	ID         string
	Config     JobConfig
	EntryID    cron.EntryID
	LastRun    *time.Time
	RunCount   int64
	ErrorCount int64
}

// WarmupScheduler 缓存预热调度器
// 按cron计划周期性地批量抓取配置中的提供商，使缓存条目
// 在TTL到期前被重新填充。纯可选组件，核心路径不依赖它。
type WarmupScheduler struct {
	cron     *cron.Cron
	jobs     map[string]*Job
	reg      *registry.Registry
	mu       sync.RWMutex
	log      *logrus.Entry
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewWarmupScheduler 创建预热调度器
func NewWarmupScheduler(reg *registry.Registry) *WarmupScheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &WarmupScheduler{
		cron:   cron.New(cron.WithSeconds()),
		jobs:   make(map[string]*Job),
		reg:    reg,
		log:    logger.WithComponent("WarmupScheduler"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// LoadConfig 从配置文件加载预热任务
func (s *WarmupScheduler) LoadConfig(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file does not exist: %s", configPath)
	}

	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config failed: %w", err)
	}

	var config JobsConfig
	if err := v.Unmarshal(&config); err != nil {
		return fmt.Errorf("parse config failed: %w", err)
	}

	for _, jobConfig := range config.Jobs {
		if err := s.AddJob(jobConfig); err != nil {
			s.log.WithError(err).Warnf("skipping invalid job config: %s", jobConfig.Name)
			continue
		}
	}

	s.log.Infof("loaded %d warmup jobs", len(s.jobs))
	return nil
}

// AddJob 添加预热任务
func (s *WarmupScheduler) AddJob(config JobConfig) error {
	if config.Name == "" {
		return fmt.Errorf("job name cannot be empty")
	}
	if config.Schedule == "" {
		return fmt.Errorf("job schedule cannot be empty")
	}
	if len(config.Providers) == 0 {
		return fmt.Errorf("job must list at least one provider")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[config.Name]; exists {
		return fmt.Errorf("job '%s' already exists", config.Name)
	}

	job := &Job{
		ID:     uuid.NewString(),
		Config: config,
	}

	if config.Enabled {
		entryID, err := s.cron.AddFunc(config.Schedule, func() {
			s.runJob(job)
		})
		if err != nil {
			return fmt.Errorf("invalid schedule '%s': %w", config.Schedule, err)
		}
		job.EntryID = entryID
	}

	s.jobs[config.Name] = job
	return nil
}

// RunJob 手动触发一次预热任务
func (s *WarmupScheduler) RunJob(name string) error {
	s.mu.RLock()
	job, exists := s.jobs[name]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job '%s' not found", name)
	}

	s.runJob(job)
	return nil
}

// runJob 执行预热：先失效再批量抓取，保证拿到新鲜数据
func (s *WarmupScheduler) runJob(job *Job) {
	ids := make([]core.ProviderID, 0, len(job.Config.Providers))
	for _, p := range job.Config.Providers {
		ids = append(ids, core.ProviderID(p))
	}

	for _, id := range ids {
		s.reg.Invalidate(s.ctx, id)
	}

	result := s.reg.BatchGetModels(s.ctx, ids, registry.BatchOptions{})

	s.mu.Lock()
	now := time.Now()
	job.LastRun = &now
	job.RunCount++
	job.ErrorCount += int64(len(result.Failed()))
	s.mu.Unlock()

	s.log.WithField("job", job.Config.Name).
		Infof("warmup finished: %d ok, %d failed", len(result.Succeeded()), len(result.Failed()))
}

// GetJob 获取任务快照
func (s *WarmupScheduler) GetJob(name string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[name]
	if !exists {
		return nil, fmt.Errorf("job '%s' not found", name)
	}

	snapshot := *job
	return &snapshot, nil
}

// Start 启动调度器
func (s *WarmupScheduler) Start() {
	s.cron.Start()
	s.log.Info("warmup scheduler started")
}

// Stop 停止调度器，等待进行中的任务结束
func (s *WarmupScheduler) Stop() error {
	s.cancel()
	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		s.log.Info("warmup scheduler stopped")
	case <-time.After(30 * time.Second):
		s.log.Warn("warmup scheduler stop timed out")
	}

	return nil
}
