package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vexa-ai/meetbotd/pkg/models"
)

func TestService_NilReceiver(t *testing.T) {
	var s *Service

	t.Run("NotifyMeetingStarted is no-op", func(t *testing.T) {
		result := s.NotifyMeetingStarted(context.Background(), MeetingStartedInput{MeetingID: "m1"})
		assert.Empty(t, result)
	})

	t.Run("NotifyMeetingCompleted is no-op", func(_ *testing.T) {
		s.NotifyMeetingCompleted(context.Background(), MeetingCompletedInput{
			MeetingID: "m1",
			Status:    models.StatusCompleted,
		})
	})
}

func TestNewService(t *testing.T) {
	t.Run("returns nil when token empty", func(t *testing.T) {
		svc := NewService(ServiceConfig{Token: "", Channel: "C123"})
		assert.Nil(t, svc)
	})

	t.Run("returns nil when channel empty", func(t *testing.T) {
		svc := NewService(ServiceConfig{Token: "xoxb-test", Channel: ""})
		assert.Nil(t, svc)
	})

	t.Run("returns service when configured", func(t *testing.T) {
		svc := NewService(ServiceConfig{
			Token:        "xoxb-test",
			Channel:      "C123",
			DashboardURL: "https://example.com",
		})
		assert.NotNil(t, svc)
	})
}
