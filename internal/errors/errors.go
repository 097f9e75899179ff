// Package errors 定义 web 接口与实时通道共用的错误码
package errors

import (
	"errors"
	"fmt"
	"log/slog"
)

// AppError 错误码 + 对外消息 + 内部原因
type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%d] %s", e.Code, e.Message)
	}
	return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

// Is 让 errors.Is 按错误码匹配预定义错误
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

// LogValue 以分组属性写入 slog
func (e *AppError) LogValue() slog.Value {
	attrs := []slog.Attr{slog.Int("code", e.Code), slog.String("message", e.Message)}
	if e.Err != nil {
		attrs = append(attrs, slog.String("cause", e.Err.Error()))
	}
	return slog.GroupValue(attrs...)
}

func NewError(code int, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap 附加原因，返回副本，预定义错误本身不变
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{Code: e.Code, Message: e.Message, Err: err}
}

// Wrapf 同 Wrap，原因由格式化字符串构造
func (e *AppError) Wrapf(format string, args ...any) *AppError {
	return e.Wrap(fmt.Errorf(format, args...))
}

func as(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}

// Is 判断错误链中是否有同码的 AppError
func Is(err error, target *AppError) bool {
	appErr, ok := as(err)
	return ok && appErr.Code == target.Code
}

// GetCode 非 AppError 一律视为 CodeServerError
func GetCode(err error) int {
	if appErr, ok := as(err); ok {
		return appErr.Code
	}
	return CodeServerError
}

// GetMessage 非 AppError 不暴露原始错误内容
func GetMessage(err error) string {
	if appErr, ok := as(err); ok {
		return appErr.Message
	}
	return ErrServerError.Message
}

const (
	CodeSuccess = 0

	// 账号 10xxx
	CodeUserExists         = 10001
	CodeInvalidCredentials = 10002
	CodeTokenInvalid       = 10003
	CodeTokenExpired       = 10004

	// 用户 11xxx
	CodeUserNotFound  = 11001
	CodeInvalidParams = 11002

	// 实时通道 20xxx，只记录日志与指标，join_failed 除外
	CodeNotJoined        = 20001
	CodeIdentityMismatch = 20002
	CodeJoinRejected     = 20003
	CodePayloadTooLarge  = 20004
	CodeRateLimited      = 20005

	// 系统 50xxx
	CodeServerError     = 50001
	CodeDBError         = 50002
	CodeTooManyRequests = 50003
)

var (
	ErrUserExists         = NewError(CodeUserExists, "User already exists")
	ErrInvalidCredentials = NewError(CodeInvalidCredentials, "Invalid credentials")
	ErrTokenInvalid       = NewError(CodeTokenInvalid, "Token is invalid")
	ErrTokenExpired       = NewError(CodeTokenExpired, "Token has expired")

	ErrUserNotFound  = NewError(CodeUserNotFound, "User not found")
	ErrInvalidParams = NewError(CodeInvalidParams, "Invalid parameters")
)

var (
	ErrNotJoined        = NewError(CodeNotJoined, "Connection has not joined a room")
	ErrIdentityMismatch = NewError(CodeIdentityMismatch, "Sender does not match joined identity")
	ErrJoinRejected     = NewError(CodeJoinRejected, "Join rejected")
	ErrPayloadTooLarge  = NewError(CodePayloadTooLarge, "Payload too large")
	ErrRateLimited      = NewError(CodeRateLimited, "Too many events")
)

var (
	ErrServerError     = NewError(CodeServerError, "internal server error")
	ErrDBError         = NewError(CodeDBError, "database error")
	ErrTooManyRequests = NewError(CodeTooManyRequests, "Too many requests, please retry later")
)
