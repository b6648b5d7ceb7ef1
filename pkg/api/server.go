// Package api implements the HTTP surface of spec.md §6: registration,
// login, session CRUD, the command endpoint, and the event-polling
// endpoint, via github.com/labstack/echo/v5 — the teacher's actual
// production HTTP stack (pkg/api/server.go), not its superseded
// gin-gonic/gin prototype (pkg/api/handlers.go, pkg/session/manager.go).
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/triadwork/triad/pkg/authn"
	"github.com/triadwork/triad/pkg/dispatch"
	"github.com/triadwork/triad/pkg/models"
)

// Orchestrator is the subset of pkg/orchestrator.Orchestrator the HTTP
// surface calls directly, outside the Command Dispatcher (read paths and
// session creation, which have no Command variant of their own).
type Orchestrator interface {
	CreateSession(ctx context.Context, req models.CreateSessionRequest) (*models.SessionSnapshot, error)
	ListSessions(ctx context.Context, filters models.SessionFilters) ([]models.SessionSummary, error)
	GetSnapshot(ctx context.Context, sessionID string) (*models.SessionSnapshot, error)
	EventsSince(ctx context.Context, sessionID string, since time.Time) (models.EventsSinceResponse, error)
}

// Health is the subset of health-reportable collaborators the /health
// endpoint summarizes, mirroring the teacher's handler_health.go shape.
type Health interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	orch       Orchestrator
	dispatcher *dispatch.Dispatcher
	auth       *authn.Service
	health     Health
	logger     *slog.Logger
}

// NewServer constructs a Server and registers every route.
func NewServer(orch Orchestrator, dispatcher *dispatch.Dispatcher, auth *authn.Service, health Health, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true

	s := &Server{
		echo:       e,
		orch:       orch,
		dispatcher: dispatcher,
		auth:       auth,
		health:     health,
		logger:     logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(2 * 1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)

	auth := s.echo.Group("/auth")
	auth.POST("/register", s.registerHandler)
	auth.POST("/verify", s.verifyHandler)
	auth.POST("/login", s.loginHandler)

	sessions := s.echo.Group("/sessions", s.requireAuth)
	sessions.POST("", s.createSessionHandler)
	sessions.GET("", s.listSessionsHandler)
	sessions.GET("/:id", s.getSessionHandler)
	sessions.DELETE("/:id", s.deleteSessionHandler)
	sessions.POST("/:id/command", s.commandHandler)
	sessions.GET("/:id/events", s.eventsHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener, used
// by test infrastructure to bind a random OS-assigned port.
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

func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if s.health != nil {
		if err := s.health.Ping(reqCtx); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "healthy"})
}
