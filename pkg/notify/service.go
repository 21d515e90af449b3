// Package notify adapts pkg/slack into meeting-lifecycle notifications.
// It is wired from pkg/supervisor's terminal-transition handling the same
// way the teacher wires its worker's start/terminal hooks: fire-and-forget,
// nil-safe, never able to fail a meeting transition.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vexa-ai/meetbotd/pkg/models"
	"github.com/vexa-ai/meetbotd/pkg/slack"
)

// ServiceConfig holds the parameters needed to construct a Service.
type ServiceConfig struct {
	Token        string
	Channel      string
	DashboardURL string
}

// MeetingStartedInput contains data for a "bot joining" notification.
type MeetingStartedInput struct {
	MeetingID string
	Platform  models.Platform
}

// MeetingCompletedInput contains data for a terminal meeting notification.
type MeetingCompletedInput struct {
	MeetingID        string
	Platform         models.Platform
	Status           models.Status // StatusCompleted or StatusFailed
	CompletionReason string
	FailureStage     string
	ErrorDetails     string
	ThreadTS         string // cached from the start notification
}

// Service handles Slack notification delivery for meeting lifecycle events.
// Nil-safe: all methods are no-ops when service is nil.
type Service struct {
	client       *slack.Client
	dashboardURL string
	logger       *slog.Logger
}

// NewService creates a new Service. Returns nil if Token or Channel is
// empty, matching pkg/slack's "notifications are optional" posture.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client:       slack.NewClient(cfg.Token, cfg.Channel),
		dashboardURL: cfg.DashboardURL,
		logger:       slog.Default().With("component", "notify-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewServiceWithClient(client *slack.Client, dashboardURL string) *Service {
	return &Service{
		client:       client,
		dashboardURL: dashboardURL,
		logger:       slog.Default().With("component", "notify-service"),
	}
}

// NotifyMeetingStarted sends a "bot joining" notification. Fail-open:
// errors are logged, never returned. It returns the ts of an earlier
// message found by a fingerprint search on the meeting ID (empty when none
// is found), not the ts of the message it posts; a terminal notification
// with no cached ts runs its own fingerprint search.
func (s *Service) NotifyMeetingStarted(ctx context.Context, input MeetingStartedInput) string {
	if s == nil {
		return ""
	}

	threadTS, err := s.client.FindMessageByFingerprint(ctx, input.MeetingID)
	if err != nil {
		s.logger.Warn("failed to find Slack thread for meeting",
			"meeting_id", input.MeetingID, "error", err)
	}

	blocks := buildStartedMessage(input.MeetingID, input.Platform, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, threadTS, 5*time.Second); err != nil {
		s.logger.Error("failed to send Slack start notification",
			"meeting_id", input.MeetingID, "error", err)
	}

	return threadTS
}

// NotifyMeetingCompleted sends a terminal status notification. Fail-open:
// errors are logged, never returned.
func (s *Service) NotifyMeetingCompleted(ctx context.Context, input MeetingCompletedInput) {
	if s == nil {
		return
	}

	threadTS := input.ThreadTS
	if threadTS == "" {
		var err error
		threadTS, err = s.client.FindMessageByFingerprint(ctx, input.MeetingID)
		if err != nil {
			s.logger.Warn("failed to find Slack thread for meeting",
				"meeting_id", input.MeetingID, "error", err)
		}
	}

	blocks := buildTerminalMessage(input, s.dashboardURL)
	if err := s.client.PostMessage(ctx, blocks, threadTS, 10*time.Second); err != nil {
		s.logger.Error("failed to send Slack terminal notification",
			"meeting_id", input.MeetingID, "status", input.Status, "error", err)
	}
}

func meetingURL(dashboardURL, meetingID string) string {
	return fmt.Sprintf("%s/meetings/%s", dashboardURL, meetingID)
}
