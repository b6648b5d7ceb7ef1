package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/triadwork/triad/pkg/dispatch"
	"github.com/triadwork/triad/pkg/models"
)

// CreateSessionRequest is the HTTP request body for POST /sessions.
type CreateSessionRequest struct {
	Topic        string              `json:"topic"`
	NovelMode    bool                `json:"novel_mode,omitempty"`
	NovelProfile *models.NovelProfile `json:"novel_profile,omitempty"`
}

// createSessionHandler handles POST /sessions.
func (s *Server) createSessionHandler(c *echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Topic == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic is required")
	}

	snapshot, err := s.orch.CreateSession(c.Request().Context(), models.CreateSessionRequest{
		Topic:        req.Topic,
		Owner:        owner(c),
		NovelMode:    req.NovelMode,
		NovelProfile: req.NovelProfile,
	})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, snapshot)
}

// listSessionsHandler handles GET /sessions: owner-scoped, newest first
// (spec.md §6), with optional status/limit/offset query parameters
// supplemented from the teacher's SessionService.ListSessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	filters := models.SessionFilters{Owner: owner(c), Status: c.QueryParam("status")}
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filters.Limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filters.Offset = n
		}
	}

	summaries, err := s.orch.ListSessions(c.Request().Context(), filters)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, summaries)
}

// getSessionHandler handles GET /sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	snapshot, err := s.orch.GetSnapshot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	if snapshot.Session.Owner != owner(c) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	return c.JSON(http.StatusOK, snapshot)
}

// deleteSessionHandler handles DELETE /sessions/:id.
func (s *Server) deleteSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")

	snapshot, err := s.orch.GetSnapshot(c.Request().Context(), sessionID)
	if err != nil {
		return mapError(err)
	}
	if snapshot.Session.Owner != owner(c) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}

	result, err := s.dispatcher.Execute(c.Request().Context(), sessionID, dispatch.RawCommand{Command: "delete_session"})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": result.OK})
}

// commandHandler handles POST /sessions/:id/command.
func (s *Server) commandHandler(c *echo.Context) error {
	sessionID := c.Param("id")

	snapshot, err := s.orch.GetSnapshot(c.Request().Context(), sessionID)
	if err != nil {
		return mapError(err)
	}
	if snapshot.Session.Owner != owner(c) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}

	var raw dispatch.RawCommand
	if err := c.Bind(&raw); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := s.dispatcher.Execute(c.Request().Context(), sessionID, raw)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// eventsHandler handles GET /sessions/:id/events?since={rfc3339}, the
// polling endpoint spec.md §6 describes: strictly-later events than
// since, with is_running telling the client when to stop polling.
func (s *Server) eventsHandler(c *echo.Context) error {
	sessionID := c.Param("id")

	snapshot, err := s.orch.GetSnapshot(c.Request().Context(), sessionID)
	if err != nil {
		return mapError(err)
	}
	if snapshot.Session.Owner != owner(c) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}

	since := time.Time{}
	if v := c.QueryParam("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be RFC3339 with a UTC offset")
		}
		since = parsed
	}

	resp, err := s.orch.EventsSince(c.Request().Context(), sessionID, since)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, resp)
}
