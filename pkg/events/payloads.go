package events

import (
	"time"

	"github.com/vexa-ai/meetbotd/pkg/models"
)

// meetingStatusPayload is the payload marshaled for meeting.status events
// delivered over WebSocket. It mirrors the full meeting record (every field
// models.Meeting serializes; the passcode is never included), per spec.md
// §6's `{type:"meeting.status", payload:<meeting record>}` contract.
type meetingStatusPayload struct {
	MeetingID       string          `json:"meeting_id"`
	OwnerID         string          `json:"owner_id"`
	Platform        models.Platform `json:"platform"`
	NativeMeetingID string          `json:"native_meeting_id"`
	Status          models.Status   `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	EndedAt         *time.Time      `json:"ended_at,omitempty"`
	ContainerID     string          `json:"container_id,omitempty"`
	WorkerURL       string          `json:"worker_url,omitempty"`
	Envelope        models.Envelope `json:"data"`
	Config          models.Config   `json:"config"`
}

func newMeetingStatusPayload(m *models.Meeting) meetingStatusPayload {
	return meetingStatusPayload{
		MeetingID:       m.MeetingID,
		OwnerID:         m.OwnerID,
		Platform:        m.Platform,
		NativeMeetingID: m.NativeMeetingID,
		Status:          m.Status,
		CreatedAt:       m.CreatedAt,
		StartedAt:       m.StartedAt,
		EndedAt:         m.EndedAt,
		ContainerID:     m.ContainerID,
		WorkerURL:       m.WorkerURL,
		Envelope:        m.Envelope,
		Config:          m.Config,
	}
}
