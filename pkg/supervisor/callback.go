package supervisor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vexa-ai/meetbotd/pkg/apperrors"
	"github.com/vexa-ai/meetbotd/pkg/models"
	"github.com/vexa-ai/meetbotd/pkg/statemachine"
)

// StartupCallback is the bot process's "I have joined" report, posted to
// POST /internal/status_change with a bot token bound to meeting_id.
type StartupCallback struct {
	MeetingID   string
	ContainerID string
	StatusHint  models.Status // JOINING, AWAITING_ADMISSION or ACTIVE; empty means ACTIVE
}

// ExitCallback is the bot process's terminal report.
type ExitCallback struct {
	MeetingID    string
	ExitCode     int
	Reason       models.ExitReason
	ErrorDetails string
}

// HandleStartupCallback implements spec.md §4.4's bot startup callback. A
// meeting already terminal when the callback arrives is not an error: the
// bot lost the StopBot/watchdog race and is told to leave immediately.
func (s *Supervisor) HandleStartupCallback(ctx context.Context, cb StartupCallback) (leaveNow bool, err error) {
	to := cb.StatusHint
	if to == "" {
		to = models.StatusActive
	}

	m, err := s.registry.Get(ctx, cb.MeetingID)
	if err != nil {
		return false, err
	}
	if m.Status.IsTerminal() {
		return true, nil
	}

	updated, err := s.machine.Transition(ctx, cb.MeetingID, to, models.SourceBotCallback, statemachine.Detail{
		ContainerID: cb.ContainerID,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrPreconditionFailed) {
			// Lost a race against a concurrent API/watchdog transition;
			// the bot must leave rather than keep running unsupervised.
			return true, nil
		}
		return false, err
	}

	if to == models.StatusActive {
		threadTS := s.notifyStarted(ctx, updated.MeetingID, updated.Platform)
		s.cacheThreadTS(updated.MeetingID, threadTS)
	}
	return false, nil
}

// HandleExitCallback implements spec.md §4.4's bot exit callback: maps
// exit_code/reason to a terminal transition, releases the allocation, and
// dispatches the outbound webhook. A meeting already terminal is a no-op
// (StopBot or the watchdog already resolved it).
func (s *Supervisor) HandleExitCallback(ctx context.Context, cb ExitCallback) error {
	m, err := s.registry.Get(ctx, cb.MeetingID)
	if err != nil {
		return err
	}
	if m.Status.IsTerminal() {
		return nil
	}

	var updated *models.Meeting
	if cb.ExitCode == 0 {
		updated, err = s.machine.Transition(ctx, cb.MeetingID, models.StatusCompleted, models.SourceBotCallback, statemachine.Detail{
			CompletionReason: models.CompletionReasonFor(cb.Reason),
		})
	} else {
		updated, err = s.machine.Transition(ctx, cb.MeetingID, models.StatusFailed, models.SourceBotCallback, statemachine.Detail{
			FailureStage: models.FailureStageFor(cb.Reason),
			ErrorDetails: cb.ErrorDetails,
		})
	}
	if err != nil {
		if errors.Is(err, apperrors.ErrPreconditionFailed) {
			// Lost a race against a concurrent terminal transition; the
			// other transition is authoritative, nothing more to do.
			return nil
		}
		return err
	}

	_ = s.CancelMeeting(updated.MeetingID)
	s.UnregisterMeeting(updated.MeetingID)

	recordTerminal(updated)
	s.releaseAllocation(ctx, updated)
	s.notifyTerminal(ctx, updated)
	s.dispatchWebhook(ctx, updated)

	slog.Info("meeting ended via bot exit callback",
		"meeting_id", updated.MeetingID, "status", updated.Status, "exit_reason", cb.Reason)
	return nil
}
