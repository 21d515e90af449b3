package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/vexa-ai/meetbotd/pkg/botauth"
	"github.com/vexa-ai/meetbotd/pkg/models"
	"github.com/vexa-ai/meetbotd/pkg/supervisor"
)

// statusChangeHandler handles POST /internal/status_change, the single
// endpoint the bot container posts both its startup report (status set
// to JOINING/AWAITING_ADMISSION, exit_code absent) and its exit report
// (exit_code set) to, per spec.md §6's bot callback surface.
//
// Not owner-identity-authenticated (the bot has no owner context of its
// own); instead the bearer token must be the per-meeting bot token minted
// at launch (pkg/botauth) for the connection_id the request claims — this
// is the "validate that the claimed meeting_id belongs to the bot's
// credentials" check spec.md §4.4 requires, not merely a secret shared by
// every bot container.
func (s *Server) statusChangeHandler(c *echo.Context) error {
	var body statusChangeCallbackRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if body.ConnectionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "connection_id is required")
	}

	token := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
	if !botauth.Verify(s.botAuthToken, body.ConnectionID, token) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid bot token for claimed meeting")
	}

	ctx := c.Request().Context()

	if body.ExitCode != nil {
		err := s.supervisor.HandleExitCallback(ctx, supervisor.ExitCallback{
			MeetingID:    body.ConnectionID,
			ExitCode:     *body.ExitCode,
			Reason:       models.ExitReason(body.Reason),
			ErrorDetails: body.ErrorDetails,
		})
		if err != nil {
			return mapServiceError(err)
		}
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}

	leaveNow, err := s.supervisor.HandleStartupCallback(ctx, supervisor.StartupCallback{
		MeetingID:   body.ConnectionID,
		ContainerID: body.ContainerID,
		StatusHint:  models.Status(body.Status),
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &leaveNowResponse{LeaveNow: leaveNow})
}
