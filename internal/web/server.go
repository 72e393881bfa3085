// Package web serves the dashboard HTTP API and the event push channel.
package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tupski/wa-monitor/internal/api"
)

// Server is the dashboard HTTP server.
type Server struct {
	monitor *api.Monitor
	logger  *zap.Logger
	http    *http.Server

	// base outlives individual requests; it bounds profile loads and
	// websocket sessions and is canceled by Stop.
	base   context.Context
	cancel context.CancelFunc
}

// NewServer creates a server for m listening on addr.
func NewServer(addr string, m *api.Monitor, logger *zap.Logger) *Server {
	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		monitor: m,
		logger:  logger,
		base:    base,
		cancel:  cancel,
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the gin engine with every route mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	r.GET("/healthz", s.health)
	r.GET("/ws", s.watch)
	r.Static("/media", s.monitor.Store.Root())

	v1 := r.Group("/api")
	{
		v1.GET("/chats", s.listChats)
		v1.GET("/chats/:id/messages", s.getMessages)
		v1.GET("/chats/:id/calls", s.getCallLogs)
		v1.POST("/chats/:id/messages/:msgId/media", s.requestMedia)
		v1.POST("/sync/start", s.startSync)
		v1.POST("/sync/stop", s.stopSync)
		v1.GET("/sync/progress", s.syncProgress)
		v1.POST("/profiles/load", s.loadProfiles)
		v1.GET("/contacts/:id", s.getContact)
		v1.POST("/contacts/:id/profile", s.loadProfile)
		v1.GET("/me", s.getSelf)
	}
	return r
}

// Start listens and serves. Blocks until Stop.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener. Blocks until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("http server starting", zap.String("addr", lis.Addr().String()))
	if err := s.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop ends websocket sessions and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("http server stopping")
	s.cancel()
	return s.http.Shutdown(ctx)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
