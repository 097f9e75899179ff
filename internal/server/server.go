package server

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
	"sudooom.im.relay/internal/config"
	"sudooom.im.relay/internal/connection"
	"sudooom.im.relay/internal/handler"
)

const (
	SocketPath       = "/socket"
	WebTransportPath = "/webtransport"
)

type Server struct {
	cfg              *config.RelayConfig
	logger           *slog.Logger
	connMgr          *connection.Manager
	handler          *handler.Handler
	upgrader         websocket.Upgrader
	httpServer       *http.Server
	wtServer         *webtransport.Server
	heartbeatChecker *connection.HeartbeatChecker
	wg               sync.WaitGroup
}

func New(cfg *config.RelayConfig, connMgr *connection.Manager, h *handler.Handler, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		connMgr: connMgr,
		handler: h,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler WebSocket 路由
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(SocketPath, func(w http.ResponseWriter, r *http.Request) {
		s.serveWebSocket(ctx, w, r)
	})
	return mux
}

// Start 启动 WebSocket 与（配置了 quic.addr 时的）WebTransport 监听，阻塞直到 WebSocket 服务退出
func (s *Server) Start(ctx context.Context) error {
	s.heartbeatChecker = connection.NewHeartbeatChecker(
		s.connMgr,
		s.cfg.Server.HeartbeatTimeout,
		s.cfg.Server.JoinTimeout,
		s.cfg.Server.HeartbeatCheckInterval,
		s.logger,
	)
	go s.heartbeatChecker.Start(ctx)

	if s.cfg.QUIC.Addr != "" {
		if err := s.startWebTransport(ctx); err != nil {
			return err
		}
	}

	s.httpServer = &http.Server{
		Addr:    s.cfg.Server.Addr,
		Handler: s.Handler(ctx),
	}
	s.logger.Info("WebSocket server starting", "addr", s.cfg.Server.Addr, "path", SocketPath)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) startWebTransport(ctx context.Context) error {
	tlsConfig, err := s.loadTLSConfig()
	if err != nil {
		return err
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:        s.cfg.QUIC.MaxIdleTimeout,
		KeepAlivePeriod:       s.cfg.QUIC.KeepAlivePeriod,
		MaxIncomingStreams:    s.cfg.QUIC.MaxIncomingStreams,
		MaxIncomingUniStreams: s.cfg.QUIC.MaxIncomingUniStreams,
		Allow0RTT:             s.cfg.QUIC.Allow0RTT,
		EnableDatagrams:       true,
	}

	s.wtServer = &webtransport.Server{
		H3: http3.Server{
			Addr:       s.cfg.QUIC.Addr,
			TLSConfig:  tlsConfig,
			QUICConfig: quicConfig,
		},
		CheckOrigin: s.checkOrigin,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(WebTransportPath, func(w http.ResponseWriter, r *http.Request) {
		if s.full() {
			http.Error(w, "too many connections", http.StatusServiceUnavailable)
			return
		}
		session, err := s.wtServer.Upgrade(w, r)
		if err != nil {
			s.logger.Error("WebTransport upgrade failed", "error", err)
			return
		}
		s.wg.Add(1)
		go s.handleSession(ctx, session)
	})
	s.wtServer.H3.Handler = mux

	s.logger.Info("WebTransport server starting", "addr", s.cfg.QUIC.Addr, "path", WebTransportPath)
	go func() {
		if err := s.wtServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("WebTransport server failed", "error", err)
		}
	}()
	return nil
}

func (s *Server) serveWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	if s.full() {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	transport := connection.NewWSTransport(ws, s.cfg.Server.MaxPayload, s.cfg.Server.HeartbeatTimeout)
	c := connection.New(transport, s.logger, connection.WithPingInterval(s.cfg.Server.PingInterval))
	transport.OnPong(c.UpdateActive)

	s.wg.Add(1)
	defer s.wg.Done()
	c.Logger().Debug("WebSocket connected", "remote", c.RemoteAddr())
	s.handler.Serve(ctx, c)
}

// handleSession 客户端只使用会话的第一个双向流
func (s *Server) handleSession(ctx context.Context, session *webtransport.Session) {
	defer s.wg.Done()

	stream, err := session.AcceptStream(ctx)
	if err != nil {
		s.logger.Debug("Session closed before first stream", "error", err)
		return
	}

	c := connection.New(connection.NewStreamTransport(session, stream, s.cfg.Server.MaxPayload), s.logger)
	c.Logger().Debug("WebTransport connected", "remote", c.RemoteAddr())
	s.handler.Serve(ctx, c)
}

func (s *Server) full() bool {
	return s.cfg.Server.MaxConnections > 0 && s.connMgr.Count() >= s.cfg.Server.MaxConnections
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := s.cfg.Server.AllowedOrigins
	return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
}

func (s *Server) loadTLSConfig() (*tls.Config, error) {
	if s.cfg.QUIC.CertFile != "" && s.cfg.QUIC.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.cfg.QUIC.CertFile, s.cfg.QUIC.KeyFile)
		if err != nil {
			return nil, err
		}
		s.logger.Info("Loaded TLS certificate",
			"cert_file", s.cfg.QUIC.CertFile,
			"key_file", s.cfg.QUIC.KeyFile)
		return newTLSConfig(cert), nil
	}

	s.logger.Warn("No TLS certificate configured, using self-signed certificate")
	return generateSelfSignedTLSConfig(devCertFile, devKeyFile)
}

// ConnManager 返回连接管理器
func (s *Server) ConnManager() *connection.Manager {
	return s.connMgr
}

// Shutdown 停止监听并关闭所有连接，等待连接处理退出
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("WebSocket server shutdown", "error", err)
		}
	}
	if s.wtServer != nil {
		if err := s.wtServer.Close(); err != nil {
			s.logger.Warn("WebTransport server close", "error", err)
		}
	}

	for _, c := range s.connMgr.GetAllConnections() {
		c.CloseWithReason("server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("Timed out waiting for connections to close")
	}
}
