// Package botauth mints and verifies the per-meeting bot token spec.md
// §6 requires the bot callback surface to check: the supervisor must
// "validate that the claimed meeting_id belongs to the bot's credentials"
// (spec.md §4.4), not merely accept a shared secret common to every bot
// container.
package botauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Mint derives a per-meeting bot token from secret and meetingID via
// HMAC-SHA256. The token is handed to the bot container at launch time
// (BOT_TOKEN env var, see pkg/supervisor.DockerLauncher.Launch) and
// presented back on every /internal/status_change callback, so a bot can
// only authenticate callbacks for the meeting it was actually launched
// for.
func Mint(secret, meetingID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(meetingID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether token is the correct bot token for meetingID
// under secret. An empty secret disables the check (local dev only),
// mirroring pkg/api's requireBotAuth empty-token bypass.
func Verify(secret, meetingID, token string) bool {
	if secret == "" {
		return true
	}
	expected := Mint(secret, meetingID)
	return hmac.Equal([]byte(expected), []byte(token))
}
