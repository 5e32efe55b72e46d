package profile

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"modelreg/pkg/core"
)

// ProviderConfig 配置文件中单个提供商的条目
type ProviderConfig struct {
	ID             string        `mapstructure:"id"`
	Tier           string        `mapstructure:"tier"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKeyEnv      string        `mapstructure:"api_key_env"` // 存放API密钥的环境变量名
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReceiveTimeout time.Duration `mapstructure:"receive_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BaseRetryDelay time.Duration `mapstructure:"base_retry_delay"`
}

// FileConfig 配置文件的顶层结构
type FileConfig struct {
	Providers []ProviderConfig `mapstructure:"providers"`
}

// LoadConfig 从配置文件加载提供商分级表
// 文件格式由 viper 识别（yaml/json/toml）。
func LoadConfig(configPath string) (*Registry, []ProviderConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("read config failed: %w", err)
	}

	var config FileConfig
	if err := v.Unmarshal(&config); err != nil {
		return nil, nil, fmt.Errorf("parse config failed: %w", err)
	}

	registry := NewRegistry()
	for _, pc := range config.Providers {
		if pc.ID == "" {
			continue
		}
		registry.Register(Profile{
			ProviderID:     core.ProviderID(pc.ID),
			Tier:           Tier(pc.Tier),
			ConnectTimeout: pc.ConnectTimeout,
			ReceiveTimeout: pc.ReceiveTimeout,
			MaxRetries:     pc.MaxRetries,
			BaseRetryDelay: pc.BaseRetryDelay,
		})
	}

	return registry, config.Providers, nil
}
