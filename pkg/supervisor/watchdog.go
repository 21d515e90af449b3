package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/vexa-ai/meetbotd/pkg/metrics"
	"github.com/vexa-ai/meetbotd/pkg/models"
	"github.com/vexa-ai/meetbotd/pkg/statemachine"
)

// RunWatchdog scans non-terminal meetings with a container assigned and
// fails any whose container has vanished without a callback, mirroring
// the teacher's ticked orphan-detection loop. Blocks until ctx is
// cancelled or Stop is called; run it in its own goroutine from
// cmd/meetbotd.
func (s *Supervisor) RunWatchdog(ctx context.Context) {
	interval := s.cfg.WatchdogInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.scanForVanishedContainers(ctx)
		}
	}
}

func (s *Supervisor) scanForVanishedContainers(ctx context.Context) {
	candidates, err := s.registry.ListNonTerminalWithContainer(ctx)
	if err != nil {
		slog.Error("watchdog scan failed to list candidates", "error", err)
		return
	}

	for _, m := range candidates {
		running, err := s.launcher.Inspect(ctx, m.ContainerID)
		if err != nil {
			slog.Warn("watchdog inspect failed", "meeting_id", m.MeetingID, "container_id", m.ContainerID, "error", err)
			continue
		}
		if running {
			continue
		}
		s.failVanishedMeeting(ctx, m)
	}
}

// failVanishedMeeting transitions a meeting to FAILED once its container
// has been gone for longer than T_callback_grace, giving a racing exit
// callback time to land first.
func (s *Supervisor) failVanishedMeeting(ctx context.Context, m *models.Meeting) {
	grace := s.cfg.TCallbackGrace
	if grace > 0 {
		time.Sleep(grace)
	}

	fresh, err := s.registry.Get(ctx, m.MeetingID)
	if err != nil {
		slog.Error("watchdog re-fetch failed", "meeting_id", m.MeetingID, "error", err)
		return
	}
	if fresh.Status.IsTerminal() {
		return
	}

	updated, err := s.machine.Transition(ctx, m.MeetingID, models.StatusFailed, models.SourceWatchdog, statemachine.Detail{
		FailureStage: "active",
		ErrorDetails: "container_vanished",
	})
	if err != nil {
		slog.Error("watchdog transition failed", "meeting_id", m.MeetingID, "error", err)
		return
	}

	_ = s.CancelMeeting(updated.MeetingID)
	s.UnregisterMeeting(updated.MeetingID)

	recordTerminal(updated)
	metrics.WatchdogRecoveries.Inc()
	s.releaseAllocation(ctx, updated)
	s.notifyTerminal(ctx, updated)
	s.dispatchWebhook(ctx, updated)

	slog.Warn("watchdog failed meeting with vanished container", "meeting_id", updated.MeetingID)
}
