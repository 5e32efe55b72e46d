package registry

import (
	"errors"
	"fmt"
	"time"

	"modelreg/pkg/core"
	apperr "modelreg/pkg/error"
)

// BatchError 批量协调层错误类型
type BatchError struct {
	apperr.BaseError
}

const (
	// ErrBatchTaskTimeout 表示单个提供商的任务在批量调用的单任务期限内未完成。
	// 对本次批量调用而言是终态：下一次批量调用会重新尝试该提供商。
	ErrBatchTaskTimeout apperr.ErrorCode = "BATCH_TASK_TIMEOUT"
)

// NewBatchTimeoutError 创建单任务超时错误
func NewBatchTimeoutError(id core.ProviderID, timeout time.Duration) *BatchError {
	e := &BatchError{
		BaseError: *apperr.NewError(ErrBatchTaskTimeout,
			fmt.Sprintf("provider %s did not complete within %v", id, timeout)),
	}
	e.WithContext("provider_id", string(id))
	return e
}

// IsBatchTimeout 判断错误是否为批量单任务超时
func IsBatchTimeout(err error) bool {
	var be *BatchError
	if errors.As(err, &be) {
		return be.Code == ErrBatchTaskTimeout
	}
	return false
}

// Outcome 单个提供商在一次批量调用中的结果
// Err 为 nil 时 Record 有效，反之亦然。
type Outcome struct {
	ProviderID core.ProviderID  `json:"provider_id"`
	Record     core.ModelRecord `json:"record,omitempty"`
	Err        error            `json:"-"`
	FromCache  bool             `json:"from_cache"` // 结果是否来自缓存
	Elapsed    time.Duration    `json:"elapsed"`    // 该任务的耗时
}

// OK 判断结果是否成功
func (o Outcome) OK() bool {
	return o.Err == nil
}

// BatchResult 一次批量调用的全部结果
// 不变式：每个请求的提供商恰好对应一个结果，部分失败不会丢结果。
// 结果按提供商ID索引，与任务完成顺序无关。
type BatchResult struct {
	BatchID  string                      `json:"batch_id"` // 批次关联ID
	Outcomes map[core.ProviderID]Outcome `json:"outcomes"`
	Elapsed  time.Duration               `json:"elapsed"` // 整个批次的耗时
}

// Get 按提供商ID取结果
func (r *BatchResult) Get(id core.ProviderID) (Outcome, bool) {
	o, ok := r.Outcomes[id]
	return o, ok
}

// Len 返回结果数量
func (r *BatchResult) Len() int {
	return len(r.Outcomes)
}

// Succeeded 返回成功的提供商ID列表
func (r *BatchResult) Succeeded() []core.ProviderID {
	ids := make([]core.ProviderID, 0, len(r.Outcomes))
	for id, o := range r.Outcomes {
		if o.OK() {
			ids = append(ids, id)
		}
	}
	return ids
}

// Failed 返回失败的提供商ID列表
func (r *BatchResult) Failed() []core.ProviderID {
	ids := make([]core.ProviderID, 0)
	for id, o := range r.Outcomes {
		if !o.OK() {
			ids = append(ids, id)
		}
	}
	return ids
}
