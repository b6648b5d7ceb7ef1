package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/triadwork/triad/pkg/errs"
)

// mapError maps a Go error returned by pkg/authn or pkg/orchestrator (for
// the handful of calls made outside the Command Dispatcher, which already
// maps its own errors into a CommandResult) to an HTTP error response,
// mirroring the teacher's pkg/api/errors.go mapServiceError.
func mapError(err error) *echo.HTTPError {
	var verr *errs.ValidationError
	if errors.As(err, &verr) {
		return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
	}
	switch {
	case errors.Is(err, errs.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	case errors.Is(err, errs.ErrAlreadyExists):
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	case errors.Is(err, errs.ErrAlreadyRunning):
		return echo.NewHTTPError(http.StatusConflict, "session already running")
	case errors.Is(err, errs.ErrPlanNotConfirmed):
		return echo.NewHTTPError(http.StatusBadRequest, "plan not confirmed")
	case errors.Is(err, errs.ErrUnauthorized):
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	slog.Error("unexpected internal error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
