package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"
)

const ownerContextKey = "owner"

// requireAuth validates the bearer token on every /sessions/* route and
// stashes the owning account's email in the request context for handlers
// to scope session access by.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c *echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}
		token := strings.TrimPrefix(header, prefix)

		owner, err := s.auth.VerifyToken(token)
		if err != nil {
			return mapError(err)
		}
		c.Set(ownerContextKey, owner)
		return next(c)
	}
}

func owner(c *echo.Context) string {
	v, _ := c.Get(ownerContextKey).(string)
	return v
}

// RegisterRequest is the HTTP request body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyRequest is the HTTP request body for POST /auth/verify.
type VerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// LoginRequest is the HTTP request body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// registerHandler handles POST /auth/register.
func (s *Server) registerHandler(c *echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.auth.Register(c.Request().Context(), req.Email, req.Password); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "registered"})
}

// verifyHandler handles POST /auth/verify.
func (s *Server) verifyHandler(c *echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.auth.Verify(c.Request().Context(), req.Email, req.Code); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "verified"})
}

// loginHandler handles POST /auth/login.
func (s *Server) loginHandler(c *echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	token, err := s.auth.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"access_token": token})
}
