package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/vexa-ai/meetbotd/pkg/models"
)

const maxBlockTextLength = 2900

var statusEmoji = map[models.Status]string{
	models.StatusCompleted: ":white_check_mark:",
	models.StatusFailed:    ":x:",
}

var statusLabel = map[models.Status]string{
	models.StatusCompleted: "Meeting Transcribed",
	models.StatusFailed:    "Meeting Failed",
}

func buildStartedMessage(meetingID string, platform models.Platform, dashboardURL string) []goslack.Block {
	url := meetingURL(dashboardURL, meetingID)
	text := fmt.Sprintf(":arrows_counterclockwise: *Bot joining %s meeting* — recording will appear shortly.\n<%s|View in Dashboard>", platform, url)

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

func buildTerminalMessage(input MeetingCompletedInput, dashboardURL string) []goslack.Block {
	emoji := statusEmoji[input.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[input.Status]
	if label == "" {
		label = "Meeting " + string(input.Status)
	}

	headerText := fmt.Sprintf("%s *%s*", emoji, label)
	if input.Status == models.StatusFailed {
		if input.FailureStage != "" {
			headerText += fmt.Sprintf("\n\n*Stage:* %s", input.FailureStage)
		}
		if input.ErrorDetails != "" {
			headerText += fmt.Sprintf("\n*Error:*\n%s", truncateForSlack(input.ErrorDetails))
		}
	} else if input.CompletionReason != "" {
		headerText += fmt.Sprintf("\n\n*Reason:* %s", input.CompletionReason)
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		),
	}

	url := meetingURL(dashboardURL, input.MeetingID)
	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, "View Transcript", false, false))
	btn.URL = url
	blocks = append(blocks, goslack.NewActionBlock("", btn))

	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated — view full transcript in dashboard)_"
}
