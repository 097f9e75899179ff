package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"sudooom.im.relay/internal/config"
	"sudooom.im.relay/internal/connection"
	"sudooom.im.relay/internal/handler"
	"sudooom.im.relay/internal/health"
	"sudooom.im.relay/internal/jwt"
	"sudooom.im.relay/internal/nats"
	"sudooom.im.relay/internal/presence"
	"sudooom.im.relay/internal/push"
	relayRedis "sudooom.im.relay/internal/redis"
	"sudooom.im.relay/internal/relay"
	"sudooom.im.relay/internal/repository"
	"sudooom.im.relay/internal/router"
	"sudooom.im.relay/internal/server"
	"sudooom.im.relay/internal/signaling"
	"sudooom.im.relay/internal/snowflake"
	"sudooom.im.relay/internal/task"
	"sudooom.im.relay/internal/workerpool"
)

func main() {
	configPath := pflag.StringP("config", "c", "configs/relay.yaml", "relay config file")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before the config")
	pflag.Parse()

	config.LoadDotEnv(*envFile)

	// 加载配置
	cfg, err := config.LoadRelay(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := config.NewLogger(cfg.Logging).With("node_id", cfg.Server.NodeID)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Relay exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.RelayConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化 Redis 客户端
	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		client, err := relayRedis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		redisClient = client
		logger.Info("Connected to Redis", "addr", cfg.Redis.Addr)
	}

	// 初始化 NATS 客户端
	var natsClient *nats.Client
	if cfg.NATS.URL != "" {
		client, err := nats.NewClient(cfg.NATS, "relay-"+cfg.Server.NodeID, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		natsClient = client
		logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	}

	connMgr := connection.NewManager()
	metrics := health.NewMetrics(connMgr)

	// 在线状态
	var store presence.Store = presence.NewMemory(cfg.Server.NodeID)
	if cfg.Cluster.Presence == config.BackendRedis {
		store = presence.NewRedis(redisClient, cfg.Server.NodeID)
	}

	// 房间投递
	var publisher router.Publisher
	if natsClient != nil {
		publisher = natsClient
	}
	rt := router.New(cfg.Server.NodeID, connMgr, store, publisher, logger)
	if natsClient != nil {
		if err := rt.Subscribe(natsClient); err != nil {
			return err
		}
	}

	// 通话信令：offer 超时由时间轮调度
	var sessions signaling.Store = signaling.NewMemoryStore()
	if cfg.Cluster.Sessions == config.BackendRedis {
		sessions = signaling.NewRedisStore(redisClient)
	}
	scheduler := task.NewScheduler(cfg.Signaling.Workers, time.Second, logger)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()
	machine := signaling.NewMachine(sessions, scheduler, cfg.Signaling.OfferTimeout, logger,
		signaling.WithSessionGauge(metrics.SessionDelta))

	// 消息 id
	node, err := snowflake.NewNode(snowflake.NodeIDFromString(cfg.Server.NodeID))
	if err != nil {
		return err
	}

	relayOpts := []relay.Option{relay.WithMetrics(metrics)}
	if cfg.Push.Enabled {
		pool := workerpool.New("push", cfg.Relay.PushWorkers, cfg.Relay.PushQueue, logger)
		defer pool.Shutdown()
		metrics.WatchPool("push", pool)
		sender := push.NewSender(cfg.Push, push.NewRedisSubscriptions(redisClient), pool, logger)
		relayOpts = append(relayOpts, relay.WithNotifier(sender))
		logger.Info("Web push enabled", "workers", cfg.Relay.PushWorkers)
	}
	r := relay.New(rt, machine, node, logger, relayOpts...)

	// 节点重启：清理上次遗留的在线记录，并结束这些用户的通话
	stale, err := store.Reset(ctx)
	if err != nil {
		logger.Warn("Failed to reset presence", "error", err)
	}
	for _, room := range stale {
		r.Offline(ctx, room)
	}
	if len(stale) > 0 {
		logger.Info("Cleared stale presence", "rooms", len(stale))
	}

	authenticator, closeAuth, err := newAuthenticator(ctx, cfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer closeAuth()

	h := handler.NewHandler(connMgr, store, r, logger,
		handler.WithAuthenticator(authenticator),
		handler.WithRateLimit(cfg.Server.EventsPerSecond, cfg.Server.EventBurst),
		handler.WithInboundQueue(cfg.Server.InboundQueue),
		handler.WithUnavailableNotice(cfg.Relay.NotifyUnavailable),
		handler.WithMetrics(metrics),
	)
	srv := server.New(cfg, connMgr, h, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// 健康检查与指标
	var natsConn health.NATSConn
	if natsClient != nil {
		natsConn = natsClient
	}
	checker := health.NewChecker("relay", cfg.Server.NodeID, natsConn, redisClient, connMgr)
	healthServer := &http.Server{Addr: cfg.Health.Addr, Handler: checker.Handler(metrics)}
	go func() {
		logger.Info("Health check server started", "addr", cfg.Health.Addr)
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Health check server failed", "error", err)
		}
	}()

	logger.Info("Relay started",
		"addr", cfg.Server.Addr,
		"quic_addr", cfg.QUIC.Addr,
		"presence", cfg.Cluster.Presence,
		"sessions", cfg.Cluster.Sessions,
		"auth", cfg.Auth.Mode)

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("Shutting down relay...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	srv.Shutdown(shutdownCtx)
	_ = healthServer.Shutdown(shutdownCtx)
	cancel()

	// 断开前清理本节点的在线记录
	if _, err := store.Reset(shutdownCtx); err != nil {
		logger.Warn("Failed to clear presence", "error", err)
	}
	if natsClient != nil {
		if err := natsClient.Drain(); err != nil {
			logger.Warn("NATS drain failed", "error", err)
		}
	}
	logger.Info("Relay stopped")
	return nil
}

// newAuthenticator 按 auth.mode 构造 join 认证
func newAuthenticator(ctx context.Context, cfg *config.RelayConfig, redisClient *redis.Client, logger *slog.Logger) (handler.Authenticator, func(), error) {
	switch cfg.Auth.Mode {
	case config.AuthModeToken:
		svc := jwt.NewService(cfg.Auth.TokenSecret, cfg.Auth.TokenExpire)
		return handler.NewTokenAuthenticator(svc, repository.NewTokenRepository(redisClient)), func() {}, nil
	case config.AuthModeDirectory:
		db, err := repository.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Connected to PostgreSQL", "host", cfg.Database.Host)
		return handler.NewDirectoryAuthenticator(repository.NewUserRepository(db)), db.Close, nil
	default:
		return handler.AllowAll{}, func() {}, nil
	}
}
