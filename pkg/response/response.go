package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	appErrors "sudooom.im.relay/internal/errors"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// 错误码常量（使用 internal/errors 包的定义）
const (
	CodeSuccess = appErrors.CodeSuccess

	CodeUserExists         = appErrors.CodeUserExists
	CodeInvalidCredentials = appErrors.CodeInvalidCredentials
	CodeTokenInvalid       = appErrors.CodeTokenInvalid
	CodeTokenExpired       = appErrors.CodeTokenExpired

	CodeUserNotFound  = appErrors.CodeUserNotFound
	CodeInvalidParams = appErrors.CodeInvalidParams

	CodeServerError     = appErrors.CodeServerError
	CodeDBError         = appErrors.CodeDBError
	CodeTooManyRequests = appErrors.CodeTooManyRequests
)

var codeMessages = map[int]string{
	CodeSuccess:            "success",
	CodeUserExists:         "User already exists",
	CodeInvalidCredentials: "Invalid credentials",
	CodeTokenInvalid:       "Token is invalid",
	CodeTokenExpired:       "Token has expired",
	CodeUserNotFound:       "User not found",
	CodeInvalidParams:      "Invalid parameters",
	CodeServerError:        "internal server error",
	CodeDBError:            "database error",
	CodeTooManyRequests:    "Too many requests, please retry later",
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

// Error 错误响应
func Error(c *gin.Context, code int) {
	message := codeMessages[code]
	if message == "" {
		message = "unknown error"
	}
	c.JSON(statusFor(code), Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// ErrorWithMsg 自定义错误消息
func ErrorWithMsg(c *gin.Context, code int, message string) {
	c.JSON(statusFor(code), Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// ErrorFromAppError 从 AppError 生成错误响应
func ErrorFromAppError(c *gin.Context, err error) {
	code := appErrors.GetCode(err)
	c.JSON(statusFor(code), Response{
		Code:    code,
		Message: appErrors.GetMessage(err),
		Data:    nil,
	})
}

// Unauthorized 未认证
func Unauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, Response{
		Code:    CodeTokenInvalid,
		Message: codeMessages[CodeTokenInvalid],
		Data:    nil,
	})
}

// TooManyRequests 请求过多
func TooManyRequests(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, Response{
		Code:    CodeTooManyRequests,
		Message: codeMessages[CodeTooManyRequests],
		Data:    nil,
	})
}

// statusFor 错误码对应的 HTTP 状态
func statusFor(code int) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeUserExists:
		return http.StatusConflict
	case CodeInvalidCredentials, CodeTokenInvalid, CodeTokenExpired:
		return http.StatusUnauthorized
	case CodeUserNotFound:
		return http.StatusNotFound
	case CodeInvalidParams:
		return http.StatusBadRequest
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
