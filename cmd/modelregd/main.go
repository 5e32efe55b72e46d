package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"modelreg/pkg/cache"
	"modelreg/pkg/core"
	"modelreg/pkg/fetcher"
	"modelreg/pkg/logger"
	"modelreg/pkg/profile"
	"modelreg/pkg/registry"
	"modelreg/pkg/scheduler"
	"modelreg/pkg/telemetry"
)

var (
	logLevel   = flag.String("log-level", "info", "日志级别 (debug, info, warn, error)")
	logFormat  = flag.String("log-format", "text", "日志格式 (json or text)")
	configPath = flag.String("config", "", "配置文件路径 (例如 /app/config/modelregd.yaml)")
)

// Config 服务配置
type Config struct {
	Server struct {
		Port string `mapstructure:"port"`
		Mode string `mapstructure:"mode"` // debug, release, test
	} `mapstructure:"server"`

	Cache struct {
		Backend         string        `mapstructure:"backend"` // memory, redis
		DefaultTTL      time.Duration `mapstructure:"default_ttl"`
		CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
		Redis           struct {
			Addr     string `mapstructure:"addr"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
		} `mapstructure:"redis"`
	} `mapstructure:"cache"`

	Batch struct {
		MaxConcurrency int           `mapstructure:"max_concurrency"`
		PerTaskTimeout time.Duration `mapstructure:"per_task_timeout"`
	} `mapstructure:"batch"`

	Breaker fetcher.BreakerConfig `mapstructure:"breaker"`

	InfluxDB struct {
		Enabled bool   `mapstructure:"enabled"`
		URL     string `mapstructure:"url"`
		Token   string `mapstructure:"token"`
		Org     string `mapstructure:"org"`
		Bucket  string `mapstructure:"bucket"`
	} `mapstructure:"influxdb"`

	Providers []profile.ProviderConfig `mapstructure:"providers"`

	Warmup struct {
		Config string `mapstructure:"config"` // 预热任务配置文件路径，留空则禁用
	} `mapstructure:"warmup"`
}

// RegistryServer 注册表HTTP服务
type RegistryServer struct {
	reg        *registry.Registry
	modelCache core.Cache
	warmup     *scheduler.WarmupScheduler
	sink       telemetry.Sink
	server     *http.Server
	log        *logrus.Logger
	config     *Config
}

func main() {
	flag.Parse()

	logger.Init(logger.Config{Level: *logLevel, Format: *logFormat})
	log := logger.GetLogger()

	config, err := loadConfig()
	if err != nil {
		log.WithError(err).Fatal("加载配置失败")
	}

	gin.SetMode(config.Server.Mode)

	srv, err := NewRegistryServer(config, log)
	if err != nil {
		log.WithError(err).Fatal("创建服务失败")
	}
	defer srv.Close()

	if err := srv.Start(); err != nil {
		log.WithError(err).Fatal("启动服务失败")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("正在关闭服务...")
	srv.Stop()
}

func loadConfig() (*Config, error) {
	if *configPath != "" {
		viper.SetConfigFile(*configPath)
	} else {
		viper.SetConfigName("modelregd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	}

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("cache.backend", "memory")
	viper.SetDefault("cache.default_ttl", "1h")
	viper.SetDefault("cache.cleanup_interval", "10m")
	viper.SetDefault("cache.redis.addr", "localhost:6379")
	viper.SetDefault("batch.max_concurrency", registry.DefaultMaxConcurrency)
	viper.SetDefault("batch.per_task_timeout", "30s")
	viper.SetDefault("breaker.enabled", true)
	viper.SetDefault("breaker.max_requests", 3)
	viper.SetDefault("breaker.interval", "60s")
	viper.SetDefault("breaker.timeout", "30s")
	viper.SetDefault("breaker.ready_to_trip", 5)
	viper.SetDefault("influxdb.enabled", false)
	viper.SetDefault("influxdb.url", "http://localhost:8086")
	viper.SetDefault("influxdb.org", "modelreg")
	viper.SetDefault("influxdb.bucket", "telemetry")

	viper.SetEnvPrefix("MODELREG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// NewRegistryServer 构建服务的全部组件
func NewRegistryServer(config *Config, log *logrus.Logger) (*RegistryServer, error) {
	// 提供商分级表与端点
	profiles := profile.NewRegistry()
	endpoints := make(map[core.ProviderID]fetcher.Endpoint)
	for _, pc := range config.Providers {
		if pc.ID == "" {
			continue
		}
		profiles.Register(profile.Profile{
			ProviderID:     core.ProviderID(pc.ID),
			Tier:           profile.Tier(pc.Tier),
			ConnectTimeout: pc.ConnectTimeout,
			ReceiveTimeout: pc.ReceiveTimeout,
			MaxRetries:     pc.MaxRetries,
			BaseRetryDelay: pc.BaseRetryDelay,
		})
		endpoints[core.ProviderID(pc.ID)] = fetcher.Endpoint{
			BaseURL:   pc.BaseURL,
			APIKeyEnv: pc.APIKeyEnv,
		}
	}
	log.Infof("已加载 %d 个提供商配置", profiles.Len())

	// 遥测下沉
	var sink telemetry.Sink
	if config.InfluxDB.Enabled {
		sink = telemetry.NewInfluxSink(telemetry.InfluxSinkConfig{
			URL:    config.InfluxDB.URL,
			Token:  config.InfluxDB.Token,
			Org:    config.InfluxDB.Org,
			Bucket: config.InfluxDB.Bucket,
		})
		log.Info("遥测下沉: InfluxDB")
	} else {
		sink = telemetry.NewLogSink()
	}

	// 缓存后端
	var modelCache core.Cache
	switch config.Cache.Backend {
	case "redis":
		rc := cache.NewRedisCache(cache.RedisCacheConfig{
			Addr:       config.Cache.Redis.Addr,
			Password:   config.Cache.Redis.Password,
			DB:         config.Cache.Redis.DB,
			DefaultTTL: config.Cache.DefaultTTL,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rc.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		modelCache = rc
		log.Info("缓存后端: Redis")
	default:
		modelCache = cache.NewMemoryCache(cache.MemoryCacheConfig{
			DefaultTTL:      config.Cache.DefaultTTL,
			CleanupInterval: config.Cache.CleanupInterval,
		}, nil)
		log.Info("缓存后端: 内存")
	}

	// 抓取链路: HTTP -> 熔断 -> 重试
	raw := fetcher.NewBreakerFetcher(fetcher.NewHTTPFetcher(endpoints), &config.Breaker)
	f := fetcher.New(raw, profiles, sink)

	reg := registry.New(modelCache, f, sink, registry.Options{
		DefaultTTL:     config.Cache.DefaultTTL,
		MaxConcurrency: config.Batch.MaxConcurrency,
		PerTaskTimeout: config.Batch.PerTaskTimeout,
	})

	srv := &RegistryServer{
		reg:        reg,
		modelCache: modelCache,
		sink:       sink,
		log:        log,
		config:     config,
	}

	if config.Warmup.Config != "" {
		srv.warmup = scheduler.NewWarmupScheduler(reg)
		if err := srv.warmup.LoadConfig(config.Warmup.Config); err != nil {
			return nil, fmt.Errorf("failed to load warmup config: %w", err)
		}
	}

	return srv, nil
}

// Start 启动HTTP服务与预热调度器
func (s *RegistryServer) Start() error {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	router.GET("/health", s.healthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/providers/:id/models", s.getModels)
		v1.POST("/models/batch", s.batchGetModels)
		v1.GET("/cache/stats", s.cacheStats)
		v1.DELETE("/cache/:id", s.invalidateProvider)
		v1.DELETE("/cache", s.clearCache)
	}

	s.server = &http.Server{
		Addr:    ":" + s.config.Server.Port,
		Handler: router,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP服务异常退出")
		}
	}()
	s.log.Infof("HTTP服务已启动，端口 %s", s.config.Server.Port)

	if s.warmup != nil {
		s.warmup.Start()
	}

	return nil
}

// Stop 优雅停机
func (s *RegistryServer) Stop() {
	if s.warmup != nil {
		s.warmup.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.log.WithError(err).Warn("HTTP服务关闭超时")
	}
}

// Close 释放资源
func (s *RegistryServer) Close() {
	if closable, ok := s.modelCache.(core.Closable); ok {
		closable.Close()
	}
	if closable, ok := s.sink.(interface{ Close() error }); ok {
		closable.Close()
	}
}
