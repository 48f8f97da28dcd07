// Package api is the thin transport shell over the kernel: a gin server
// exposing sessions, messages, notifications, files, health, and the
// notification stream. The kernel and everything below it never import
// this package.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/famulus-ai/famulus/pkg/config"
	"github.com/famulus-ai/famulus/pkg/kernel"
	"github.com/famulus-ai/famulus/pkg/notify"
	"github.com/famulus-ai/famulus/pkg/session"
	"github.com/famulus-ai/famulus/pkg/storage"
	"github.com/famulus-ai/famulus/pkg/store"
)

// Server is the HTTP API server.
type Server struct {
	cfg      *config.Config
	kernel   *kernel.Kernel
	sessions *session.Manager
	notifier *notify.Center
	files    *store.FileStore
	db       *storage.Client

	http   *http.Server
	logger *slog.Logger
}

// NewServer wires the API over its collaborators. The listen address comes
// from config; Start binds it.
func NewServer(cfg *config.Config, k *kernel.Kernel, sessions *session.Manager, notifier *notify.Center, files *store.FileStore, db *storage.Client) *Server {
	s := &Server{
		cfg:      cfg,
		kernel:   k,
		sessions: sessions,
		notifier: notifier,
		files:    files,
		db:       db,
		logger:   slog.Default().With("component", "api"),
	}
	s.http = &http.Server{
		Addr:              cfg.System.APIAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the gin engine with all routes registered. Exposed so tests
// can drive the handlers through httptest without binding a port.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger), securityHeaders())

	// Health stays outside the identity group: orchestrators probe it
	// without headers.
	r.GET("/healthz", s.healthzHandler)

	v1 := r.Group("/api/v1", identity())
	{
		v1.POST("/sessions", s.createSessionHandler)
		v1.GET("/sessions", s.listSessionsHandler)
		v1.GET("/sessions/:id", s.getSessionHandler)
		v1.POST("/sessions/:id/archive", s.archiveSessionHandler)
		v1.GET("/sessions/:id/messages", s.listMessagesHandler)
		v1.POST("/sessions/:id/messages", s.postMessageHandler)

		v1.GET("/notifications", s.listNotificationsHandler)
		v1.POST("/notifications/read", s.markReadHandler)
		v1.POST("/notifications/read_all", s.markAllReadHandler)
		v1.POST("/notifications/:id/resolve", s.resolveNotificationHandler)
		v1.DELETE("/notifications", s.deleteNotificationsHandler)

		v1.POST("/files", s.registerFileHandler)
		v1.GET("/files", s.listFilesHandler)
		v1.GET("/files/:id", s.getFileHandler)
		v1.DELETE("/files/:id", s.deleteFileHandler)

		v1.GET("/ws", s.wsHandler)
	}
	return r
}

// Start binds the configured address and serves until Shutdown. Blocks;
// returns http.ErrServerClosed after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// StartWithListener serves on a caller-provided listener. Tests bind
// 127.0.0.1:0 and pass the listener here to get a random port.
func (s *Server) StartWithListener(ln net.Listener) error {
	return s.http.Serve(ln)
}

// Shutdown stops accepting connections and drains in-flight requests until
// ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
