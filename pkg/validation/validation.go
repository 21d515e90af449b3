// Package validation validates inbound API request bodies before they
// reach pkg/supervisor, using the same struct-tag-driven validator the
// rest of the ecosystem reaches for instead of hand-rolled field checks.
package validation

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"

	"github.com/vexa-ai/meetbotd/pkg/apperrors"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("platform", validatePlatform)
	_ = v.RegisterValidation("task", validateTask)
	_ = v.RegisterValidation("language", validateLanguage)
	return v
}

func validatePlatform(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "google_meet", "teams":
		return true
	default:
		return false
	}
}

func validateTask(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", "transcribe", "translate":
		return true
	default:
		return false
	}
}

// validateLanguage accepts the literal sentinel "auto" (spec.md §9:
// language ∈ ISO-639-1 ∪ {auto}) in addition to a real BCP 47 tag.
// go-playground/validator's built-in bcp47_language_tag delegates to
// x/text/language.Parse, which rejects "auto" outright since it is not a
// registered subtag, so the sentinel needs its own short-circuit here.
func validateLanguage(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	if v == "" || v == "auto" {
		return true
	}
	_, err := language.Parse(v)
	return err == nil
}

// RequestBotBody is the validated shape of POST /bots.
type RequestBotBody struct {
	Platform        string `json:"platform" validate:"required,platform"`
	NativeMeetingID string `json:"native_meeting_id" validate:"required"`
	Passcode        string `json:"passcode"`
	Config          struct {
		Language   string `json:"language" validate:"omitempty,language"`
		Task       string `json:"task" validate:"task"`
		BotName    string `json:"bot_name" validate:"omitempty,max=128"`
		WebhookURL string `json:"webhook_url" validate:"omitempty,http_url"`
	} `json:"config"`
}

// UpdateConfigBody is the validated shape of PUT .../config.
type UpdateConfigBody struct {
	Language   string `json:"language" validate:"omitempty,language"`
	Task       string `json:"task" validate:"task"`
	BotName    string `json:"bot_name" validate:"omitempty,max=128"`
	WebhookURL string `json:"webhook_url" validate:"omitempty,http_url"`
}

// Validate runs struct-tag validation on body and converts the first
// failing field into an apperrors.ValidationError, the shape pkg/api's
// error mapper already knows how to render as 400.
func Validate(body any) error {
	err := validate.Struct(body)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !asValidationErrors(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validate request: %w", err)
	}
	fe := verrs[0]
	return apperrors.NewValidationError(jsonFieldName(fe), messageFor(fe))
}

func asValidationErrors(err error, out *validator.ValidationErrors) bool {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return false
	}
	*out = verrs
	return true
}

func jsonFieldName(fe validator.FieldError) string {
	return strings.ToLower(fe.Field())
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "platform":
		return "must be google_meet or teams"
	case "task":
		return "must be transcribe or translate"
	case "http_url":
		return "must be a valid http(s) URL"
	case "language":
		return `must be a valid BCP 47 language tag or "auto"`
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}
