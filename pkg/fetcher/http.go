package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"modelreg/pkg/core"
	"modelreg/pkg/logger"
	"modelreg/pkg/retry"
)

// Endpoint 单个提供商的访问端点
type Endpoint struct {
	BaseURL   string `mapstructure:"base_url"`    // 例如 "https://api.openai.com/v1"
	APIKeyEnv string `mapstructure:"api_key_env"` // 存放API密钥的环境变量名
	UserAgent string `mapstructure:"user_agent"`
}

// HTTPFetcher 基于HTTP的上游抓取实现
// 针对 OpenAI 风格的 GET {base_url}/models 端点，
// 响应为 {"data":[{"id":...},...]} 形式的JSON。
// 连接超时作用于建连阶段，接收超时作用于整个请求。
type HTTPFetcher struct {
	endpoints map[core.ProviderID]Endpoint
	userAgent string
	log       *logrus.Entry

	mu      sync.Mutex
	clients map[core.ProviderID]*http.Client
}

// NewHTTPFetcher 创建HTTP抓取器
func NewHTTPFetcher(endpoints map[core.ProviderID]Endpoint) *HTTPFetcher {
	return &HTTPFetcher{
		endpoints: endpoints,
		userAgent: "ModelReg/1.0",
		log:       logger.WithComponent("HTTPFetcher"),
		clients:   make(map[core.ProviderID]*http.Client),
	}
}

// modelsResponse OpenAI风格模型列表响应
type modelsResponse struct {
	Data []modelEntry `json:"data"`
}

type modelEntry struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	Description   string `json:"description,omitempty"`
	Created       int64  `json:"created,omitempty"`
	ContextLength int    `json:"context_length,omitempty"`
	OwnedBy       string `json:"owned_by,omitempty"`
}

// RawFetch 实现 core.RawFetcher 接口
func (hf *HTTPFetcher) RawFetch(ctx context.Context, id core.ProviderID, connectTimeout, receiveTimeout time.Duration) (core.ModelRecord, error) {
	endpoint, ok := hf.endpoints[id]
	if !ok {
		// 未配置端点是配置错误，不可重试
		return nil, fmt.Errorf("no endpoint configured for provider %s", id)
	}

	url := endpoint.BaseURL + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}

	req.Header.Set("User-Agent", hf.userAgent)
	if endpoint.APIKeyEnv != "" {
		if key := os.Getenv(endpoint.APIKeyEnv); key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
	}

	client := hf.clientFor(id, connectTimeout, receiveTimeout)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, retry.NewHTTPError(resp.StatusCode, "")
	}

	var parsed modelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}

	record := make(core.ModelRecord, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		info := core.ModelInfo{
			ID:            m.ID,
			Name:          m.Name,
			Provider:      string(id),
			Description:   m.Description,
			ContextWindow: m.ContextLength,
		}
		if m.Created > 0 {
			info.CreatedAt = time.Unix(m.Created, 0)
		}
		record = append(record, info)
	}

	hf.log.WithField("provider", string(id)).
		Debugf("fetched %d models in one request", len(record))
	return record, nil
}

// clientFor 返回该提供商的HTTP客户端，按需创建并复用连接池
func (hf *HTTPFetcher) clientFor(id core.ProviderID, connectTimeout, receiveTimeout time.Duration) *http.Client {
	hf.mu.Lock()
	defer hf.mu.Unlock()

	if client, ok := hf.clients[id]; ok {
		return client
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: connectTimeout,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
		Timeout: receiveTimeout,
	}
	hf.clients[id] = client
	return client
}

var _ core.RawFetcher = (*HTTPFetcher)(nil)
