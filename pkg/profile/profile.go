package profile

import (
	"time"

	"modelreg/pkg/core"
)

// Tier 提供商延迟/可靠性分级
type Tier string

const (
	// TierFast 已知低延迟的大型提供商
	TierFast Tier = "fast"
	// TierMedium 默认分级，未知提供商一律归入此级
	TierMedium Tier = "medium"
	// TierSlow 自建或跨区域部署的慢速提供商
	TierSlow Tier = "slow"
)

// Profile 单个提供商的超时与重试预算配置
// 加载完成后只读，跨协程访问无需加锁。
type Profile struct {
	ProviderID     core.ProviderID `json:"provider_id"`
	Tier           Tier            `json:"tier"`
	ConnectTimeout time.Duration   `json:"connect_timeout"` // 建立连接超时
	ReceiveTimeout time.Duration   `json:"receive_timeout"` // 整个请求的接收超时
	MaxRetries     int             `json:"max_retries"`     // 最大重试次数
	BaseRetryDelay time.Duration   `json:"base_retry_delay"`
}

// tierDefaults 各分级的默认参数
var tierDefaults = map[Tier]Profile{
	TierFast: {
		Tier:           TierFast,
		ConnectTimeout: 5 * time.Second,
		ReceiveTimeout: 10 * time.Second,
		MaxRetries:     2,
		BaseRetryDelay: 1 * time.Second,
	},
	TierMedium: {
		Tier:           TierMedium,
		ConnectTimeout: 10 * time.Second,
		ReceiveTimeout: 15 * time.Second,
		MaxRetries:     3,
		BaseRetryDelay: 1500 * time.Millisecond,
	},
	TierSlow: {
		Tier:           TierSlow,
		ConnectTimeout: 30 * time.Second,
		ReceiveTimeout: 30 * time.Second,
		MaxRetries:     4,
		BaseRetryDelay: 2 * time.Second,
	},
}

// DefaultsFor 返回指定分级的默认配置，未知分级按 medium 处理。
func DefaultsFor(tier Tier) Profile {
	if p, ok := tierDefaults[tier]; ok {
		return p
	}
	return tierDefaults[TierMedium]
}

// Registry 提供商配置注册表
// 启动时构建一次，之后只读。
type Registry struct {
	profiles map[core.ProviderID]Profile
}

// NewRegistry 创建空的配置注册表
func NewRegistry() *Registry {
	return &Registry{
		profiles: make(map[core.ProviderID]Profile),
	}
}

// Register 登记一个提供商的分级
// 超时与重试参数为零值时填入该分级的默认值。
func (r *Registry) Register(p Profile) {
	defaults := DefaultsFor(p.Tier)
	if p.Tier == "" {
		p.Tier = TierMedium
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = defaults.ConnectTimeout
	}
	if p.ReceiveTimeout <= 0 {
		p.ReceiveTimeout = defaults.ReceiveTimeout
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = defaults.MaxRetries
	}
	if p.BaseRetryDelay <= 0 {
		p.BaseRetryDelay = defaults.BaseRetryDelay
	}
	r.profiles[p.ProviderID] = p
}

// Resolve 按提供商ID查找配置
// 永远不会失败：未登记的提供商返回 medium 分级的默认配置。
func (r *Registry) Resolve(id core.ProviderID) Profile {
	if p, ok := r.profiles[id]; ok {
		return p
	}
	p := DefaultsFor(TierMedium)
	p.ProviderID = id
	return p
}

// Len 返回已登记的提供商数量
func (r *Registry) Len() int {
	return len(r.profiles)
}

// IDs 返回所有已登记的提供商ID
func (r *Registry) IDs() []core.ProviderID {
	ids := make([]core.ProviderID, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	return ids
}
