package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannelHelpers(t *testing.T) {
	const meetingID = "550e8400-e29b-41d4-a716-446655440000"

	assert.Equal(t, "meeting.status."+meetingID, MeetingStatusChannel(meetingID))
	assert.Equal(t, "transcript.mutable."+meetingID, TranscriptMutableChannel(meetingID))
	assert.Equal(t, "transcript.finalized."+meetingID, TranscriptFinalizedChannel(meetingID))
}

func TestChannelHelpers_DistinctPerMeeting(t *testing.T) {
	assert.NotEqual(t, MeetingStatusChannel("a"), MeetingStatusChannel("b"))
	assert.NotEqual(t, MeetingStatusChannel("a"), TranscriptMutableChannel("a"))
	assert.NotEqual(t, TranscriptMutableChannel("a"), TranscriptFinalizedChannel("a"))
}
