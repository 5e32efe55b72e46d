package fetcher

import (
	"errors"
	"fmt"

	"modelreg/pkg/core"
	apperr "modelreg/pkg/error"
)

// FetchError 抓取层错误类型
type FetchError struct {
	apperr.BaseError
}

const (
	// ErrFetchTerminal 表示不可重试的终态错误（认证失败、响应格式错误等）。
	ErrFetchTerminal apperr.ErrorCode = "FETCH_TERMINAL"
	// ErrRetriesExhausted 表示错误本身可重试，但重试预算已用尽。
	ErrRetriesExhausted apperr.ErrorCode = "FETCH_RETRIES_EXHAUSTED"
)

// NewTerminalError 将原始错误包装为终态错误
func NewTerminalError(id core.ProviderID, cause error) *FetchError {
	e := &FetchError{
		BaseError: *apperr.WrapError(ErrFetchTerminal,
			fmt.Sprintf("fetch failed for provider %s", id), cause),
	}
	e.WithContext("provider_id", string(id))
	return e
}

// NewExhaustedError 将最后一次错误包装为重试预算耗尽错误
// 与终态错误区分开，调用方可以据此判断稍后整体重试是否有意义。
func NewExhaustedError(id core.ProviderID, attempts int, cause error) *FetchError {
	e := &FetchError{
		BaseError: *apperr.WrapError(ErrRetriesExhausted,
			fmt.Sprintf("retries exhausted after %d attempts for provider %s", attempts, id), cause),
	}
	e.WithContext("provider_id", string(id))
	e.WithContext("attempts", attempts)
	return e
}

// IsExhausted 判断错误是否为重试预算耗尽
func IsExhausted(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Code == ErrRetriesExhausted
	}
	return false
}

// IsTerminal 判断错误是否为终态错误
func IsTerminal(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Code == ErrFetchTerminal
	}
	return false
}
