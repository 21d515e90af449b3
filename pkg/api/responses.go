package api

import "github.com/vexa-ai/meetbotd/pkg/models"

// meetingResponse is the JSON shape returned for a single meeting by
// POST /bots, DELETE /bots/..., and PUT /bots/.../config.
type meetingResponse struct {
	MeetingID       string `json:"meeting_id"`
	Platform        string `json:"platform"`
	NativeMeetingID string `json:"native_meeting_id"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
}

func newMeetingResponse(m *models.Meeting) *meetingResponse {
	return &meetingResponse{
		MeetingID:       m.MeetingID,
		Platform:        string(m.Platform),
		NativeMeetingID: m.NativeMeetingID,
		Status:          string(m.Status),
		CreatedAt:       m.CreatedAt.Format(rfc3339),
	}
}

const rfc3339 = "2006-01-02T15:04:05Z07:00"

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// HealthCheck represents the status of a single health check component.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// leaveNowResponse is returned by the startup callback when the meeting
// already reached a terminal status and the bot must leave immediately.
type leaveNowResponse struct {
	LeaveNow bool `json:"leave_now"`
}
