package handler

import (
	"github.com/gin-gonic/gin"

	"sudooom.im.relay/internal/web/middleware"
	"sudooom.im.relay/internal/web/service"
	"sudooom.im.relay/pkg/response"
)

// bind 解析请求体，失败时已写出 InvalidParams 响应
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.ErrorWithMsg(c, response.CodeInvalidParams, err.Error())
		return false
	}
	return true
}

// AuthHandler 认证处理器
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler 创建认证处理器
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Signup 用户注册
// @Summary      用户注册
// @Description  创建新账号，userId 即实时通道中的房间名
// @Tags         认证
// @Accept       json
// @Produce      json
// @Param        request body service.SignupRequest true "注册信息"
// @Success      200  {object}  response.Response{data=service.SignupResponse}
// @Failure      400  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /signup [post]
func (h *AuthHandler) Signup(c *gin.Context) {
	var req service.SignupRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.authService.Signup(c.Request.Context(), &req)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, resp)
}

// Login 用户登录
// @Summary      用户登录
// @Description  userId、name、password 全部匹配后签发 Token；登录不会使用户上线
// @Tags         认证
// @Accept       json
// @Produce      json
// @Param        request body service.LoginRequest true "登录信息"
// @Success      200  {object}  response.Response{data=service.LoginResponse}
// @Failure      401  {object}  response.Response
// @Router       /login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req service.LoginRequest
	if !bind(c, &req) {
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), &req)
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}

	response.Success(c, resp)
}

// Logout 登出
// @Summary      登出
// @Description  吊销当前 Token，并关闭该用户的全部实时连接
// @Tags         认证
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Router       /logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.authService.Logout(c.Request.Context(), middleware.GetUserID(c), middleware.GetAccessToken(c)); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}

// DeleteAccount 注销账号
// @Summary      注销账号
// @Description  删除用户、Token 与推送订阅，并关闭该用户的全部实时连接
// @Tags         认证
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  response.Response
// @Failure      401  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /delete-account [post]
func (h *AuthHandler) DeleteAccount(c *gin.Context) {
	if err := h.authService.DeleteAccount(c.Request.Context(), middleware.GetUserID(c)); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}
