// Package supervisor implements C4, the bot supervisor: it admits
// RequestBot/StopBot/UpdateConfig calls, launches and reaps bot
// containers, handles the bot's startup/exit callbacks, and runs the
// container watchdog. Each meeting's launch runs on its own goroutine,
// held in a cancel registry modelled on the teacher's activeSessions;
// callbacks, StopBot and the watchdog act on a meeting from their own
// goroutines rather than through that launch goroutine.
package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/vexa-ai/meetbotd/pkg/models"
)

// ErrNoMeetingOnThisReplica is returned by CancelMeeting when the meeting
// is not supervised by this process (it may be owned by another replica).
var ErrNoMeetingOnThisReplica = errors.New("meeting not supervised on this replica")

// Launcher starts and stops bot containers. Satisfied by *DockerLauncher
// in production and a fake in tests.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (containerID string, err error)
	Stop(ctx context.Context, containerID string, timeout time.Duration) error
	Inspect(ctx context.Context, containerID string) (running bool, err error)
}

// LaunchSpec is the bot container's launch contract (spec.md §4.4 step 5).
type LaunchSpec struct {
	MeetingID         string
	Platform          models.Platform
	NativeMeetingID   string
	Passcode          string
	Config            models.Config
	CallbackURL       string
	AllocatorEndpoint string

	// BotToken is the per-meeting bot token (pkg/botauth.Mint), injected
	// into the container so it can authenticate its own callbacks.
	BotToken string
}

// Allocator is the subset of pkg/allocator the supervisor depends on, for
// releasing a worker assignment on meeting exit. Defined consumer-side to
// avoid an import cycle and to allow a fake in tests.
type Allocator interface {
	Release(ctx context.Context, workerURL string) error
}

// WebhookDispatcher is the subset of pkg/webhook the supervisor depends
// on. Defined consumer-side for the same reason as Allocator.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, webhookURL string, meeting *models.Meeting)
}
