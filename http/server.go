// Package http 提供HTTP服务器功能
package http

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server HTTP服务器
type Server struct {
	server *http.Server
	config ServerConfig
	logger *zap.Logger
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port           int
	Timeout        time.Duration
	AllowedOrigins []string
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:           8080,
		Timeout:        30 * time.Second,
		AllowedOrigins: []string{"*"},
	}
}

// NewServer 创建HTTP服务器
func NewServer(config ServerConfig, handlers *Handlers) *Server {
	return &Server{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.Port),
			Handler:           handlers.Routes(config),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		config: config,
		logger: handlers.logger,
	}
}

// Routes 构建带中间件的路由。websocket不经过超时中间件。
func (h *Handlers) Routes(config ServerConfig) http.Handler {
	api := http.NewServeMux()
	h.RegisterHandlers(api)

	chain := Chain(
		RecoveryMiddleware(h.logger),          // 1. 恢复中间件（最先执行，捕获panic）
		LoggerMiddleware(h.logger, h.metrics), // 2. 日志中间件
		SecurityHeadersMiddleware,             // 3. 安全头中间件
		CORSMiddleware(config.AllowedOrigins), // 4. CORS中间件
		TimeoutMiddleware(config.Timeout),     // 5. 超时中间件
	)
	socketChain := Chain(
		RecoveryMiddleware(h.logger),
		LoggerMiddleware(h.logger, h.metrics),
	)

	root := http.NewServeMux()
	root.Handle("/", chain(api))
	root.Handle("GET /api/ws/predict", socketChain(h.handlePredictSocket(newUpgrader(config.AllowedOrigins))))
	return root
}

// Start 启动服务器
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.server.Addr, err)
	}
	return s.Serve(listener)
}

// Serve 在给定的listener上提供服务
func (s *Server) Serve(listener net.Listener) error {
	s.logger.Info("starting HTTP server",
		zap.String("addr", listener.Addr().String()),
		zap.String("websocket", "/api/ws/predict"),
	)
	if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop 停止服务器
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.logger.Info("shutting down HTTP server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

// Addr 返回服务器地址
func (s *Server) Addr() string {
	return s.server.Addr
}
