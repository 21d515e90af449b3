package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/vexa-ai/meetbotd/pkg/models"
)

// EventPublisher publishes C5 events via pg_notify. No event is ever
// written to a table: spec.md §1 is explicit that this control plane does
// not persist transcripts, and spec.md §4.5's "re-subscribes start from
// now" rule is general across every channel family, not just transcripts,
// so meeting.status gets the same NOTIFY-only treatment.
//
// EventPublisher satisfies pkg/statemachine's Publisher interface via
// PublishMeetingStatus, so pkg/statemachine never imports this package
// directly.
type EventPublisher struct {
	db *sql.DB
}

// NewEventPublisher creates a new EventPublisher. db should be the
// *sql.DB shared with pkg/registry and pkg/statemachine.
func NewEventPublisher(db *sql.DB) *EventPublisher {
	return &EventPublisher{db: db}
}

// PublishMeetingStatus broadcasts a meeting.status event. Called by
// pkg/statemachine after every committed transition.
func (p *EventPublisher) PublishMeetingStatus(ctx context.Context, m *models.Meeting) error {
	payload := models.ServerMessage{
		Type:    models.ServerMsgMeetingStatus,
		Payload: newMeetingStatusPayload(m),
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal meeting status payload: %w", err)
	}
	return p.notifyOnly(ctx, MeetingStatusChannel(m.MeetingID), payloadJSON)
}

// PublishTranscriptFinalized broadcasts a transcript.finalized notice. The
// transcript store owns the durable record and the segments it references;
// this control plane only signals that a finalize happened, it never
// copies segment content into its own storage.
func (p *EventPublisher) PublishTranscriptFinalized(ctx context.Context, meetingID string, payload models.TranscriptPayload) error {
	msg := models.ServerMessage{
		Type:    models.ServerMsgTranscriptFinalized,
		Payload: payload,
	}
	payloadJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal transcript finalized payload: %w", err)
	}
	return p.notifyOnly(ctx, TranscriptFinalizedChannel(meetingID), payloadJSON)
}

// PublishTranscriptMutable broadcasts a transcript.mutable event — high-
// frequency and ephemeral, lost on disconnect by design.
func (p *EventPublisher) PublishTranscriptMutable(ctx context.Context, meetingID string, payload models.TranscriptPayload) error {
	msg := models.ServerMessage{
		Type:    models.ServerMsgTranscriptMutable,
		Payload: payload,
	}
	payloadJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal transcript mutable payload: %w", err)
	}
	return p.notifyOnly(ctx, TranscriptMutableChannel(meetingID), payloadJSON)
}

// PublishConfigUpdate pushes a live config change to the bot process
// supervising the meeting. The bot is either connected for the live
// meeting or the push is moot, so there is nothing to catch up.
func (p *EventPublisher) PublishConfigUpdate(ctx context.Context, meetingID string, cfg models.Config) error {
	msg := models.ServerMessage{
		Type:    EventTypeConfigUpdate,
		Payload: cfg,
	}
	payloadJSON, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal config update payload: %w", err)
	}
	return p.notifyOnly(ctx, ConfigChannel(meetingID), payloadJSON)
}

// PublishMeetingCancel broadcasts a control-plane cancellation notice on
// the shared MeetingCancelChannel, so whichever replica's supervisor owns
// the meeting's launch goroutine can cancel it. See
// pkg/events.NotifyListener.SubscribeSystemChannel and
// pkg/supervisor.Supervisor.HandleRemoteCancel.
func (p *EventPublisher) PublishMeetingCancel(ctx context.Context, meetingID string) error {
	payloadJSON, err := json.Marshal(struct {
		MeetingID string `json:"meeting_id"`
	}{MeetingID: meetingID})
	if err != nil {
		return fmt.Errorf("marshal meeting cancel payload: %w", err)
	}
	return p.notifyOnly(ctx, MeetingCancelChannel, payloadJSON)
}

// notifyOnly broadcasts a pre-marshaled event via pg_notify.
func (p *EventPublisher) notifyOnly(ctx context.Context, channel string, payloadJSON []byte) error {
	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}
	if _, err := p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// truncateIfNeeded returns the payload as-is if it fits PostgreSQL's
// 8000-byte NOTIFY limit, otherwise a minimal envelope carrying only the
// fields a client needs to know something was dropped.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= 7900 {
		return payloadStr, nil
	}
	truncated := map[string]any{
		"type":      models.ServerMsgWarning,
		"code":      "truncated",
		"message":   "payload exceeded notify size limit",
		"truncated": true,
	}
	b, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("marshal truncated payload: %w", err)
	}
	return string(b), nil
}
