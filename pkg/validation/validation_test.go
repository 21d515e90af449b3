package validation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vexa-ai/meetbotd/pkg/apperrors"
)

func TestValidate_RequestBotBody_RejectsBadPlatform(t *testing.T) {
	body := RequestBotBody{Platform: "zoom", NativeMeetingID: "abc-123"}
	err := Validate(body)
	require.True(t, apperrors.IsValidationError(err))
}

func TestValidate_RequestBotBody_RejectsMissingNativeID(t *testing.T) {
	body := RequestBotBody{Platform: "google_meet"}
	err := Validate(body)
	require.True(t, apperrors.IsValidationError(err))
}

func TestValidate_RequestBotBody_AcceptsValidBody(t *testing.T) {
	body := RequestBotBody{Platform: "google_meet", NativeMeetingID: "abc-123"}
	require.NoError(t, Validate(body))
}

func TestValidate_UpdateConfigBody_RejectsBadTask(t *testing.T) {
	body := UpdateConfigBody{Task: "summarize"}
	err := Validate(body)
	require.True(t, apperrors.IsValidationError(err))
}

func TestValidate_UpdateConfigBody_AcceptsEmptyTask(t *testing.T) {
	body := UpdateConfigBody{}
	require.NoError(t, Validate(body))
}

func TestValidate_UpdateConfigBody_RejectsBadWebhookURL(t *testing.T) {
	body := UpdateConfigBody{WebhookURL: "not-a-url"}
	err := Validate(body)
	require.True(t, apperrors.IsValidationError(err))
}
