package core

import (
	"context"
	"time"
)

// ProviderID 提供商标识符
// 作为缓存键和批量结果的关联键使用，对内容不做任何解释。
type ProviderID string

func (id ProviderID) String() string {
	return string(id)
}

// ModelInfo 单个模型的元数据条目
type ModelInfo struct {
	ID               string    `json:"id"`                          // 模型ID，例如 "gpt-4o"
	Name             string    `json:"name,omitempty"`              // 展示名称
	Provider         string    `json:"provider"`                    // 所属提供商
	Description      string    `json:"description,omitempty"`       // 模型描述
	ContextWindow    int       `json:"context_window,omitempty"`    // 上下文窗口大小
	MaxOutputTokens  int       `json:"max_output_tokens,omitempty"` // 最大输出token数
	InputPricePer1K  float64   `json:"input_price_per_1k,omitempty"`
	OutputPricePer1K float64   `json:"output_price_per_1k,omitempty"`
	CreatedAt        time.Time `json:"created_at,omitempty"` // 模型发布时间
}

// ModelRecord 一次成功抓取返回的模型元数据列表。
// 写入缓存后视为不可变值，读取方不得修改。
type ModelRecord []ModelInfo

// CacheStats 缓存统计计数器，自进程启动以来单调递增。
type CacheStats struct {
	Size          int64 `json:"size"`          // 当前条目数
	Hits          int64 `json:"hits"`          // 命中次数
	Misses        int64 `json:"misses"`        // 未命中次数（含过期）
	Puts          int64 `json:"puts"`          // 写入次数
	Invalidations int64 `json:"invalidations"` // 显式失效次数
	Cleanups      int64 `json:"cleanups"`      // 后台清理删除的条目数
}

// Cache 定义了模型元数据缓存的行为。
// 缓存操作永远不会失败：条目不存在或已过期统一表现为 ok=false。
type Cache interface {
	// Get 按提供商ID读取缓存。过期条目视为未命中并可能被顺带删除。
	Get(ctx context.Context, id ProviderID) (ModelRecord, bool)
	// Put 原子地写入或覆盖一个条目。ttl<=0 时使用默认TTL。
	Put(ctx context.Context, id ProviderID, record ModelRecord, ttl time.Duration)
	// Invalidate 删除单个条目，不存在时为空操作。
	Invalidate(ctx context.Context, id ProviderID)
	// Clear 清空所有条目。
	Clear(ctx context.Context)
	// Stats 返回统计计数器快照。
	Stats() CacheStats
}

// Fetcher 定义了单个提供商的抓取行为。
// 成功的抓取不会写缓存，缓存填充由调用方负责。
type Fetcher interface {
	Fetch(ctx context.Context, id ProviderID) (ModelRecord, error)
}

// RawFetcher 上游抓取协作方。
// 实现方负责在给定的连接/接收超时内完成一次远程调用，
// 重试与分类由上层 Fetcher 处理。
type RawFetcher interface {
	RawFetch(ctx context.Context, id ProviderID, connectTimeout, receiveTimeout time.Duration) (ModelRecord, error)
}

// Closable 需要清理资源的组件应实现此接口
type Closable interface {
	Close() error
}
