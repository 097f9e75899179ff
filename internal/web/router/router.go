package router

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"sudooom.im.relay/internal/config"
	"sudooom.im.relay/internal/web/handler"
	"sudooom.im.relay/internal/web/middleware"
)

// SetupRouter 设置路由
func SetupRouter(
	cfg *config.WebConfig,
	logger *slog.Logger,
	tokens middleware.TokenValidator,
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
) *gin.Engine {
	if cfg.App.Mode != "" {
		gin.SetMode(cfg.App.Mode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowCredentials,
	))

	// Swagger 文档路由
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	api := r.Group("/api")
	if cfg.RateLimit.Enabled {
		api.Use(middleware.RateLimit(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst))
	}
	{
		// 无需登录
		api.POST("/signup", authHandler.Signup)
		api.POST("/login", authHandler.Login)
		api.GET("/online-users", userHandler.OnlineUsers)

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.TokenAuth(tokens))
		{
			authenticated.POST("/logout", authHandler.Logout)
			authenticated.POST("/delete-account", authHandler.DeleteAccount)
			authenticated.POST("/save-sub", userHandler.SaveSub)
		}
	}

	return r
}
