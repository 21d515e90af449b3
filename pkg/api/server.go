// Package api provides the HTTP API server for meetbotd.
package api

import (
	"context"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vexa-ai/meetbotd/pkg/allocator"
	"github.com/vexa-ai/meetbotd/pkg/config"
	"github.com/vexa-ai/meetbotd/pkg/database"
	"github.com/vexa-ai/meetbotd/pkg/events"
	"github.com/vexa-ai/meetbotd/pkg/registry"
	"github.com/vexa-ai/meetbotd/pkg/supervisor"
	"github.com/vexa-ai/meetbotd/pkg/transcriptstore"
)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	cfg        *config.Config

	dbClient    *database.Client
	registry    *registry.Registry
	supervisor  *supervisor.Supervisor
	connManager *events.ConnectionManager
	transcripts *transcriptstore.Client

	// allocator is exposed to bot containers over the /internal/allocator/*
	// facade below; the control plane itself never calls Allocate.
	allocator *allocator.Allocator

	// redisPinger is an optional liveness check for the allocator's
	// coordination store, wired in by cmd/meetbotd. Nil skips the check.
	redisPinger func(ctx context.Context) error

	wsOriginPatterns []string

	dashboardDir string // path to dashboard build dir (empty = no static serving)

	botAuthToken string // key for per-meeting bot tokens on /internal/status_change; bearer token for /internal/allocator/*
}

// NewServer creates a new API server with Echo v5.
func NewServer(
	cfg *config.Config,
	dbClient *database.Client,
	reg *registry.Registry,
	sup *supervisor.Supervisor,
	connManager *events.ConnectionManager,
	transcripts *transcriptstore.Client,
	alloc *allocator.Allocator,
	redisPinger func(ctx context.Context) error,
	botAuthToken string,
) *Server {
	e := echo.New()

	s := &Server{
		echo:             e,
		cfg:              cfg,
		dbClient:         dbClient,
		registry:         reg,
		supervisor:       sup,
		connManager:      connManager,
		transcripts:      transcripts,
		allocator:        alloc,
		redisPinger:      redisPinger,
		wsOriginPatterns: wsOriginPatternsFor(cfg.DashboardURL),
		botAuthToken:     botAuthToken,
	}

	s.setupRoutes()
	return s
}

// wsOriginPatternsFor derives the echo/coder-websocket OriginPatterns
// allowlist from the configured dashboard origin. An empty DashboardURL
// falls back to "*" (matches the single-operator/no-proxy deployment
// this ships for; a multi-tenant deployment should set DASHBOARD_URL).
func wsOriginPatternsFor(dashboardURL string) []string {
	if dashboardURL == "" {
		return []string{"*"}
	}
	u, err := url.Parse(dashboardURL)
	if err != nil || u.Host == "" {
		return []string{"*"}
	}
	return []string{u.Host}
}

// SetDashboardDir sets the path to the dashboard build directory and
// registers static file serving routes. When set and the directory
// contains an index.html, assets are served from /assets/* and a SPA
// fallback is registered for all non-API routes.
//
// Must be called after NewServer (which registers API routes first)
// so that API routes take priority over the wildcard SPA fallback.
func (s *Server) SetDashboardDir(dir string) {
	s.dashboardDir = dir
	s.setupDashboardRoutes()
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	s.echo.POST("/bots", s.requestBotHandler)
	s.echo.DELETE("/bots/:platform/:native_meeting_id", s.stopBotHandler)
	s.echo.PUT("/bots/:platform/:native_meeting_id/config", s.updateConfigHandler)
	s.echo.GET("/bots", s.listActiveHandler)
	s.echo.GET("/transcripts/:platform/:native_meeting_id", s.getTranscriptHandler)

	s.echo.GET("/ws", s.wsHandler)

	// status_change carries its own per-meeting bot-token check (see
	// statusChangeHandler) since the shared secret alone cannot tell one
	// bot's container apart from another's — it is deliberately not under
	// requireBotAuth's coarse group.
	s.echo.POST("/internal/status_change", s.statusChangeHandler)

	internal := s.echo.Group("/internal")
	internal.Use(s.requireBotAuth())
	internal.POST("/allocator/allocate", s.allocatorAllocateHandler)
	internal.POST("/allocator/release", s.allocatorReleaseHandler)
	internal.POST("/allocator/heartbeat", s.allocatorHeartbeatHandler)

	// Dashboard static file serving is registered via SetDashboardDir(),
	// called after NewServer. This ensures API routes (registered above)
	// take priority over the wildcard SPA fallback.
}

// setupDashboardRoutes registers static file serving for the dashboard build
// directory. When dashboardDir is set and contains an index.html, Vite-built
// assets are served from /assets/* and all other non-API paths fall back to
// index.html (SPA routing).
//
// Cache headers:
//   - /assets/* — immutable (1 year): Vite-built files include content hashes
//     in their filenames, so aggressive caching is safe.
//   - index.html and other root files — no-cache: forces browser revalidation
//     on every visit so new asset hashes are picked up after deployments.
//
// Uses os.DirFS to create an fs.FS rooted at the dashboard directory, because
// Echo v5's c.File() resolves paths against its internal Filesystem (os.DirFS("."))
// and cannot handle absolute paths. c.FileFS() with an explicit filesystem works
// correctly regardless of the dashboard directory location.
func (s *Server) setupDashboardRoutes() {
	if s.dashboardDir == "" {
		return
	}

	indexPath := filepath.Join(s.dashboardDir, "index.html")
	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		slog.Warn("dashboard directory set but index.html not found, skipping static serving",
			"dir", s.dashboardDir)
		return
	}

	slog.Info("serving dashboard from disk", "dir", s.dashboardDir)

	dashFS := os.DirFS(s.dashboardDir)

	assetsFS, err := fs.Sub(dashFS, "assets")
	if err == nil {
		s.echo.GET("/assets/*", func(c *echo.Context) error {
			c.Response().Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			return c.FileFS(c.Param("*"), assetsFS)
		})
	}

	s.echo.GET("/*", func(c *echo.Context) error {
		path := c.Request().URL.Path

		if strings.HasPrefix(path, "/bots") || strings.HasPrefix(path, "/transcripts") ||
			strings.HasPrefix(path, "/internal") || path == "/health" || path == "/ws" || path == "/metrics" {
			return echo.NewHTTPError(http.StatusNotFound, "not found")
		}

		c.Response().Header().Set("Cache-Control", "no-cache")

		relPath := strings.TrimPrefix(path, "/")
		if relPath != "" {
			if info, statErr := fs.Stat(dashFS, relPath); statErr == nil && !info.IsDir() {
				return c.FileFS(relPath, dashFS)
			}
		}

		return c.FileFS("index.html", dashFS)
	})
}

// Start starts the HTTP server on the given address. It blocks until the
// server stops and returns ListenAndServe's error.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
// Used by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// requireBotAuth guards the /internal/allocator/* facade with a
// shared-secret bearer token, since bot containers are not oauth2-proxy
// clients and these routes carry no meeting_id to scope a per-meeting
// token to. /internal/status_change is authenticated separately, by a
// token bound to the specific meeting it claims (see statusChangeHandler
// and pkg/botauth).
func (s *Server) requireBotAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if s.botAuthToken == "" {
				return next(c)
			}
			got := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
			if got == "" || got != s.botAuthToken {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid bot token")
			}
			return next(c)
		}
	}
}
