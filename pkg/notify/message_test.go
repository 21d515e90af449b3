package notify

import (
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexa-ai/meetbotd/pkg/models"
)

func TestBuildStartedMessage(t *testing.T) {
	blocks := buildStartedMessage("meeting-123", models.PlatformGoogleMeet, "https://vexa.example.com")

	require.Len(t, blocks, 1)

	section, ok := blocks[0].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, section.Text.Text, ":arrows_counterclockwise:")
	assert.Contains(t, section.Text.Text, "google_meet")
	assert.Contains(t, section.Text.Text, "https://vexa.example.com/meetings/meeting-123")
}

func TestBuildTerminalMessage_Completed(t *testing.T) {
	input := MeetingCompletedInput{
		MeetingID:        "meeting-1",
		Status:           models.StatusCompleted,
		CompletionReason: "bot_left",
	}
	blocks := buildTerminalMessage(input, "https://dash.example.com")

	require.Len(t, blocks, 2)

	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":white_check_mark:")
	assert.Contains(t, header.Text.Text, "Meeting Transcribed")
	assert.Contains(t, header.Text.Text, "bot_left")

	action := blocks[1].(*goslack.ActionBlock)
	require.Len(t, action.Elements.ElementSet, 1)
	btn, ok := action.Elements.ElementSet[0].(*goslack.ButtonBlockElement)
	require.True(t, ok)
	assert.Equal(t, "View Transcript", btn.Text.Text)
	assert.Contains(t, btn.URL, "https://dash.example.com/meetings/meeting-1")
}

func TestBuildTerminalMessage_Failed(t *testing.T) {
	input := MeetingCompletedInput{
		MeetingID:    "meeting-2",
		Status:       models.StatusFailed,
		FailureStage: "joining",
		ErrorDetails: "admission denied",
	}
	blocks := buildTerminalMessage(input, "https://dash.example.com")

	require.Len(t, blocks, 2)
	header := blocks[0].(*goslack.SectionBlock)
	assert.Contains(t, header.Text.Text, ":x:")
	assert.Contains(t, header.Text.Text, "Meeting Failed")
	assert.Contains(t, header.Text.Text, "joining")
	assert.Contains(t, header.Text.Text, "admission denied")
}

func TestTruncateForSlack(t *testing.T) {
	short := "short error"
	assert.Equal(t, short, truncateForSlack(short))

	long := make([]byte, maxBlockTextLength+100)
	for i := range long {
		long[i] = 'x'
	}
	out := truncateForSlack(string(long))
	assert.Less(t, len(out), len(long))
	assert.Contains(t, out, "truncated")
}
