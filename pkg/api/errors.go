package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/vexa-ai/meetbotd/pkg/apperrors"
)

// mapServiceError maps pkg/apperrors sentinels to HTTP error responses,
// per spec.md §7's error handling design.
func mapServiceError(err error) *echo.HTTPError {
	if apperrors.IsValidationError(err) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	switch {
	case errors.Is(err, apperrors.ErrBadRequest):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, apperrors.ErrAuthRequired):
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	case errors.Is(err, apperrors.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	case errors.Is(err, apperrors.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "meeting not found")
	case errors.Is(err, apperrors.ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, "an active bot already exists for this meeting")
	case errors.Is(err, apperrors.ErrLimitReached):
		return echo.NewHTTPError(http.StatusTooManyRequests, "concurrency limit reached")
	case errors.Is(err, apperrors.ErrPreconditionFailed):
		return echo.NewHTTPError(http.StatusPreconditionFailed, "meeting is not in a status that permits this operation")
	case errors.Is(err, apperrors.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "no capacity available, try again shortly")
	}

	slog.Error("unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
