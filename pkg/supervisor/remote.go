package supervisor

import "encoding/json"

// HandleRemoteCancel processes a cross-replica meeting-cancel notice (see
// pkg/events.MeetingCancelChannel, published by teardown when StopBot
// lands on a replica that doesn't own the meeting's launch goroutine): if
// this replica supervises the named meeting, its launch goroutine is
// cancelled locally. A no-op on every replica that doesn't own it.
func (s *Supervisor) HandleRemoteCancel(payload []byte) {
	var msg struct {
		MeetingID string `json:"meeting_id"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil || msg.MeetingID == "" {
		return
	}
	_ = s.CancelMeeting(msg.MeetingID)
}
