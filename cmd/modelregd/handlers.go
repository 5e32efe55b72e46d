package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"modelreg/pkg/core"
	"modelreg/pkg/fetcher"
	"modelreg/pkg/registry"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// BatchRequest 批量获取请求体
type BatchRequest struct {
	ProviderIDs    []string `json:"provider_ids" binding:"required"`
	MaxConcurrency int      `json:"max_concurrency,omitempty"`
	PerTaskTimeout string   `json:"per_task_timeout,omitempty"` // 例如 "30s"
}

// BatchOutcomeResponse 批量结果中单个提供商的响应
type BatchOutcomeResponse struct {
	ProviderID string           `json:"provider_id"`
	OK         bool             `json:"ok"`
	Models     core.ModelRecord `json:"models,omitempty"`
	Error      string           `json:"error,omitempty"`
	FromCache  bool             `json:"from_cache"`
	ElapsedMS  int64            `json:"elapsed_ms"`
}

// BatchResponse 批量获取响应体
type BatchResponse struct {
	BatchID   string                 `json:"batch_id"`
	Outcomes  []BatchOutcomeResponse `json:"outcomes"`
	Succeeded int                    `json:"succeeded"`
	Failed    int                    `json:"failed"`
	ElapsedMS int64                  `json:"elapsed_ms"`
}

// healthCheck 健康检查
func (s *RegistryServer) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// getModels 获取单个提供商的模型列表
func (s *RegistryServer) getModels(c *gin.Context) {
	id := core.ProviderID(c.Param("id"))

	record, err := s.reg.GetModels(c.Request.Context(), id)
	if err != nil {
		status := http.StatusBadGateway
		if fetcher.IsExhausted(err) {
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, ErrorResponse{
			Error:   "fetch_failed",
			Message: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"provider_id": string(id),
		"models":      record,
		"count":       len(record),
	})
}

// batchGetModels 批量获取多个提供商的模型列表
// 部分失败不会让整个请求失败，调用方按结果逐个判断。
func (s *RegistryServer) batchGetModels(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	opts := registry.BatchOptions{
		MaxConcurrency: req.MaxConcurrency,
	}
	if req.PerTaskTimeout != "" {
		d, err := time.ParseDuration(req.PerTaskTimeout)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "invalid per_task_timeout: " + err.Error(),
			})
			return
		}
		opts.PerTaskTimeout = d
	}

	ids := make([]core.ProviderID, 0, len(req.ProviderIDs))
	for _, p := range req.ProviderIDs {
		ids = append(ids, core.ProviderID(p))
	}

	result := s.reg.BatchGetModels(c.Request.Context(), ids, opts)

	resp := BatchResponse{
		BatchID:   result.BatchID,
		Outcomes:  make([]BatchOutcomeResponse, 0, result.Len()),
		Succeeded: len(result.Succeeded()),
		Failed:    len(result.Failed()),
		ElapsedMS: result.Elapsed.Milliseconds(),
	}
	for _, o := range result.Outcomes {
		or := BatchOutcomeResponse{
			ProviderID: string(o.ProviderID),
			OK:         o.OK(),
			FromCache:  o.FromCache,
			ElapsedMS:  o.Elapsed.Milliseconds(),
		}
		if o.OK() {
			or.Models = o.Record
		} else {
			or.Error = o.Err.Error()
		}
		resp.Outcomes = append(resp.Outcomes, or)
	}

	c.JSON(http.StatusOK, resp)
}

// cacheStats 缓存统计信息
func (s *RegistryServer) cacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.reg.CacheStats())
}

// invalidateProvider 使单个提供商的缓存失效
func (s *RegistryServer) invalidateProvider(c *gin.Context) {
	id := core.ProviderID(c.Param("id"))
	s.reg.Invalidate(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{"invalidated": string(id)})
}

// clearCache 清空缓存
func (s *RegistryServer) clearCache(c *gin.Context) {
	s.reg.ClearCache(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"cleared": true})
}
