package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vexa-ai/meetbotd/pkg/apperrors"
)

func TestMapServiceError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", apperrors.NewValidationError("platform", "must not be empty"), http.StatusBadRequest},
		{"bad_request", apperrors.ErrBadRequest, http.StatusBadRequest},
		{"auth_required", apperrors.ErrAuthRequired, http.StatusUnauthorized},
		{"forbidden", apperrors.ErrForbidden, http.StatusForbidden},
		{"not_found", apperrors.ErrNotFound, http.StatusNotFound},
		{"duplicate", apperrors.ErrDuplicate, http.StatusConflict},
		{"limit_reached", apperrors.ErrLimitReached, http.StatusTooManyRequests},
		{"precondition_failed", apperrors.ErrPreconditionFailed, http.StatusPreconditionFailed},
		{"unavailable", apperrors.ErrUnavailable, http.StatusServiceUnavailable},
		{"unknown", apperrors.ErrInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapServiceError(tc.err)
			assert.Equal(t, tc.want, got.Code)
		})
	}
}
