package xerr

import (
	"errors"
	"fmt"
)

// CodeError 自定义错误结构
type CodeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	cause   error
}

// Error 实现 error 接口
func (e *CodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("Code: %d, Message: %s, Cause: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("Code: %d, Message: %s", e.Code, e.Message)
}

// Unwrap 返回底层原因
func (e *CodeError) Unwrap() error {
	return e.cause
}

// Is 按错误码判等，使 errors.Is(err, xerr.ErrNotFound) 对 Wrap 后的错误同样成立
func (e *CodeError) Is(target error) bool {
	t, ok := target.(*CodeError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New 创建新的 CodeError
func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Message: msg}
}

// Wrap 保留 base 的对外错误码与文案，同时记录内部原因
func Wrap(base *CodeError, cause error) *CodeError {
	if base == nil {
		base = ErrServerError
	}
	return &CodeError{Code: base.Code, Message: base.Message, cause: cause}
}

// Wrapf 同 Wrap，cause 由格式化字符串生成
func Wrapf(base *CodeError, format string, args ...any) *CodeError {
	return Wrap(base, fmt.Errorf(format, args...))
}

// From 提取错误链中的 CodeError
func From(err error) (*CodeError, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// 常用通用错误码
const (
	OK                  = 200
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	TooManyRequests     = 429
	InternalServerError = 500
	BadGateway          = 502
	ServiceUnavailable  = 503
)

// 常用预定义错误
var (
	ErrSuccess         = New(OK, "Success")
	ErrServerError     = New(InternalServerError, "系统错误，请联系工作人员")
	ErrParam           = New(BadRequest, "参数错误")
	ErrUnauthorized    = New(Unauthorized, "未登录")
	ErrForbidden       = New(Forbidden, "无权限")
	ErrTooManyRequests = New(TooManyRequests, "请求过于频繁，请稍后再试")
)

// 记忆检索相关错误
var (
	ErrInvalidInput          = New(BadRequest, "invalid input")
	ErrInvalidQuery          = New(BadRequest, "invalid query")
	ErrNotFound              = New(NotFound, "memory not found")
	ErrEmbeddingUnavailable  = New(BadGateway, "embedding service unavailable")
	ErrGenerationUnavailable = New(BadGateway, "generation service unavailable")
	ErrIndexWriteFailed      = New(ServiceUnavailable, "vector index write failed")
	ErrIndexQueryFailed      = New(ServiceUnavailable, "vector index query failed")
	ErrIndexDeleteFailed     = New(ServiceUnavailable, "vector index delete failed")
	ErrRetrievalUnavailable  = New(ServiceUnavailable, "retrieval unavailable")
	ErrRepositoryUnavailable = New(ServiceUnavailable, "memory store unavailable")
)
