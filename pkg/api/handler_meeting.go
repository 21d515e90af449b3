package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/vexa-ai/meetbotd/pkg/models"
	"github.com/vexa-ai/meetbotd/pkg/validation"
)

// requestBotHandler handles POST /bots.
func (s *Server) requestBotHandler(c *echo.Context) error {
	var body validation.RequestBotBody
	if err := bindStrict(c, &body); err != nil {
		return err
	}
	if err := validation.Validate(body); err != nil {
		return mapServiceError(err)
	}

	owner := extractAuthor(c)
	cfg := models.Config{
		Language:   body.Config.Language,
		Task:       models.Task(body.Config.Task),
		BotName:    body.Config.BotName,
		WebhookURL: body.Config.WebhookURL,
	}

	m, err := s.supervisor.RequestBot(c.Request().Context(), owner, models.Platform(body.Platform), body.NativeMeetingID, body.Passcode, cfg)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, newMeetingResponse(m))
}

// stopBotHandler handles DELETE /bots/{platform}/{native_meeting_id}.
func (s *Server) stopBotHandler(c *echo.Context) error {
	owner := extractAuthor(c)
	platform := models.Platform(c.Param("platform"))
	nativeID := c.Param("native_meeting_id")

	m, err := s.supervisor.StopBot(c.Request().Context(), owner, platform, nativeID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, newMeetingResponse(m))
}

// updateConfigHandler handles PUT /bots/{platform}/{native_meeting_id}/config.
func (s *Server) updateConfigHandler(c *echo.Context) error {
	var body validation.UpdateConfigBody
	if err := bindStrict(c, &body); err != nil {
		return err
	}
	if err := validation.Validate(body); err != nil {
		return mapServiceError(err)
	}

	owner := extractAuthor(c)
	platform := models.Platform(c.Param("platform"))
	nativeID := c.Param("native_meeting_id")

	cfg := models.Config{
		Language:   body.Language,
		Task:       models.Task(body.Task),
		BotName:    body.BotName,
		WebhookURL: body.WebhookURL,
	}

	m, err := s.supervisor.UpdateConfig(c.Request().Context(), owner, platform, nativeID, cfg)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, newMeetingResponse(m))
}

// listActiveHandler handles GET /bots, listing the caller's non-terminal
// meetings.
func (s *Server) listActiveHandler(c *echo.Context) error {
	owner := extractAuthor(c)
	meetings, err := s.registry.ListActive(c.Request().Context(), owner)
	if err != nil {
		return mapServiceError(err)
	}
	out := make([]*meetingResponse, 0, len(meetings))
	for _, m := range meetings {
		out = append(out, newMeetingResponse(m))
	}
	return c.JSON(http.StatusOK, out)
}

// getTranscriptHandler handles GET /transcripts/{platform}/{native_meeting_id}.
// meetbotd never stores a transcript itself (spec.md §1); this handler only
// resolves the caller's meeting_id and ownership, then proxies the read to
// the external transcript store (spec.md §9).
func (s *Server) getTranscriptHandler(c *echo.Context) error {
	owner := extractAuthor(c)
	platform := models.Platform(c.Param("platform"))
	nativeID := c.Param("native_meeting_id")

	m, err := s.registry.FindLatestByNative(c.Request().Context(), owner, platform, nativeID)
	if err != nil {
		return mapServiceError(err)
	}

	resp, err := s.transcripts.Get(c.Request().Context(), m.MeetingID)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "transcript store unavailable")
	}
	return c.Blob(resp.StatusCode, resp.ContentType, resp.Body)
}
