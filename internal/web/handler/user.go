package handler

import (
	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"

	"sudooom.im.relay/internal/web/middleware"
	"sudooom.im.relay/internal/web/service"
	"sudooom.im.relay/pkg/response"
)

// SaveSubRequest 推送订阅上报
type SaveSubRequest struct {
	Sub *webpush.Subscription `json:"sub" binding:"required"`
}

// UserHandler 用户处理器
type UserHandler struct {
	userService *service.UserService
}

// NewUserHandler 创建用户处理器
func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// OnlineUsers 用户列表
// @Summary      用户列表
// @Description  全部注册用户，以及当前至少有一个实时连接的 userId
// @Tags         用户
// @Produce      json
// @Success      200  {object}  response.Response{data=service.OnlineUsersResponse}
// @Router       /online-users [get]
func (h *UserHandler) OnlineUsers(c *gin.Context) {
	resp, err := h.userService.OnlineUsers(c.Request.Context())
	if err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, resp)
}

// SaveSub 保存推送订阅
// @Summary      保存推送订阅
// @Description  每个用户一条订阅，重复保存会覆盖
// @Tags         用户
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body SaveSubRequest true "浏览器 PushSubscription"
// @Success      200  {object}  response.Response
// @Failure      400  {object}  response.Response
// @Router       /save-sub [post]
func (h *UserHandler) SaveSub(c *gin.Context) {
	var req SaveSubRequest
	if !bind(c, &req) {
		return
	}

	if err := h.userService.SaveSubscription(c.Request.Context(), middleware.GetUserID(c), req.Sub); err != nil {
		response.ErrorFromAppError(c, err)
		return
	}
	response.Success(c, nil)
}
