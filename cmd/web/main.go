package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"sudooom.im.relay/internal/config"
	"sudooom.im.relay/internal/jwt"
	"sudooom.im.relay/internal/nats"
	"sudooom.im.relay/internal/presence"
	"sudooom.im.relay/internal/push"
	relayRedis "sudooom.im.relay/internal/redis"
	"sudooom.im.relay/internal/repository"
	"sudooom.im.relay/internal/web/handler"
	"sudooom.im.relay/internal/web/router"
	"sudooom.im.relay/internal/web/service"
)

// @title           Chat Relay Account API
// @version         1.0
// @description     账号、在线列表与推送订阅接口
// @BasePath        /api
// @securityDefinitions.apikey BearerAuth
// @in              header
// @name            Authorization
func main() {
	configPath := pflag.StringP("config", "c", "configs/web.yaml", "web config file")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before the config")
	pflag.Parse()

	config.LoadDotEnv(*envFile)

	// 加载配置
	cfg, err := config.LoadWeb(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if cfg.JWT.SecretKey == "" {
		slog.Error("jwt.secret_key is required")
		os.Exit(1)
	}

	// 初始化日志
	logger := config.NewLogger(cfg.Logging).With("service", cfg.App.Name)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Web server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.WebConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接数据库
	db, err := repository.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL", "host", cfg.Database.Host)

	userRepo := repository.NewUserRepository(db)
	if err := userRepo.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate users: %w", err)
	}

	// 连接 Redis
	redisClient, err := relayRedis.NewClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	logger.Info("Connected to Redis", "addr", cfg.Redis.Addr)

	// 登出 / 注销时通过 NATS 广播踢出实时连接
	var evictor service.Evictor
	if cfg.NATS.URL != "" {
		natsClient, err := nats.NewClient(cfg.NATS, cfg.App.Name, logger)
		if err != nil {
			return err
		}
		defer natsClient.Close()
		evictor = nats.NewEvictor(natsClient)
		logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	} else {
		logger.Warn("nats.url not set, logout will not close live connections")
	}

	jwtService := jwt.NewService(cfg.JWT.SecretKey, cfg.JWT.AccessExpire)
	tokenRepo := repository.NewTokenRepository(redisClient)
	subs := push.NewRedisSubscriptions(redisClient)
	online := presence.NewRedis(redisClient, cfg.App.Name)

	// 初始化 Service
	authService := service.NewAuthService(userRepo, tokenRepo, subs, evictor, jwtService, logger)
	userService := service.NewUserService(userRepo, online, subs, logger)

	// 设置路由
	r := router.SetupRouter(cfg, logger, authService,
		handler.NewAuthHandler(authService),
		handler.NewUserHandler(userService))

	addr := fmt.Sprintf(":%d", cfg.App.Port)
	httpServer := &http.Server{Addr: addr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Web server started", "addr", addr, "mode", cfg.App.Mode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	logger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Web server shutdown", "error", err)
	}
	logger.Info("Server stopped")
	return nil
}
