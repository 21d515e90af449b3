// Package events implements C5: it fans out meeting status and transcript
// events to live WebSocket subscribers via PostgreSQL NOTIFY/LISTEN for
// cross-replica distribution. No event is ever persisted — a reconnecting
// subscriber starts receiving from "now", for every channel family
// (spec.md §4.5).
package events

import "github.com/vexa-ai/meetbotd/pkg/models"

const (
	EventTypeMeetingStatus       = "meeting.status"
	EventTypeTranscriptFinalized = "transcript.finalized"
)

// EventTypeTranscriptMutable is the high-frequency, ephemeral mutable
// transcript segment type.
const EventTypeTranscriptMutable = "transcript.mutable"

// EventTypeConfigUpdate is pushed to the bot process listening on its own
// meeting's config channel.
const EventTypeConfigUpdate = "config.update"

// ConfigChannel returns the channel the bot process for a meeting listens
// on for live UpdateConfig pushes. Format: "config.<meeting_id>".
func ConfigChannel(meetingID string) string {
	return "config." + meetingID
}

// MeetingStatusChannel returns the channel name for a meeting's status
// events. Format: "meeting.status.<meeting_id>".
func MeetingStatusChannel(meetingID string) string {
	return models.ServerMsgMeetingStatus + "." + meetingID
}

// TranscriptMutableChannel returns the channel name for a meeting's
// transient transcript segments. Format: "transcript.mutable.<meeting_id>".
func TranscriptMutableChannel(meetingID string) string {
	return models.ServerMsgTranscriptMutable + "." + meetingID
}

// TranscriptFinalizedChannel returns the channel name for a meeting's
// finalized transcript notice. Format: "transcript.finalized.<meeting_id>".
func TranscriptFinalizedChannel(meetingID string) string {
	return models.ServerMsgTranscriptFinalized + "." + meetingID
}

// MeetingCancelChannel is a single, fixed (not per-meeting) channel used
// for replica-to-replica control messages: StopBot broadcasts on it so
// whichever replica's supervisor owns a meeting's launch goroutine can
// cancel it, even when the API request landed on a different replica.
const MeetingCancelChannel = "control.meeting_cancel"
