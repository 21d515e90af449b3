package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vexa-ai/meetbotd/pkg/apperrors"
	"github.com/vexa-ai/meetbotd/pkg/botauth"
	"github.com/vexa-ai/meetbotd/pkg/metrics"
	"github.com/vexa-ai/meetbotd/pkg/models"
	"github.com/vexa-ai/meetbotd/pkg/notify"
	"github.com/vexa-ai/meetbotd/pkg/registry"
	"github.com/vexa-ai/meetbotd/pkg/statemachine"
)

// EventPublisher is the subset of pkg/events the supervisor depends on
// beyond what pkg/statemachine already publishes (config pushes have no
// status transition attached to them, and a cancel notice has no
// meeting.status channel of its own).
type EventPublisher interface {
	PublishConfigUpdate(ctx context.Context, meetingID string, cfg models.Config) error
	PublishMeetingCancel(ctx context.Context, meetingID string) error
}

// Config holds the supervisor's tunables, taken from pkg/config.Config by
// the caller that wires everything together in cmd/meetbotd.
type Config struct {
	BotImage                string
	CallbackBaseURL         string
	AllocatorEndpoint       string
	NLaunch                 int
	TShutdown               time.Duration
	TCallbackGrace          time.Duration
	WatchdogInterval        time.Duration
	DefaultConcurrencyLimit int

	// BotAuthSecret signs the per-meeting bot token minted at launch and
	// verified on /internal/status_change (pkg/botauth). Empty disables
	// the check (local dev only).
	BotAuthSecret string
}

// Supervisor is the C4 bot supervisor.
type Supervisor struct {
	cfg       Config
	registry  *registry.Registry
	machine   *statemachine.Machine
	allocator Allocator
	events    EventPublisher
	launcher  Launcher
	notifier  *notify.Service
	webhook   WebhookDispatcher

	mu             sync.RWMutex
	activeMeetings map[string]context.CancelFunc
	threadTS       map[string]string // meeting_id -> cached Slack thread, for terminal notification reuse

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Supervisor. allocator, notifier, and webhook may be nil
// (each degrades gracefully: allocator release becomes a no-op guard,
// notifier is already nil-safe, webhook dispatch is skipped).
func New(cfg Config, reg *registry.Registry, machine *statemachine.Machine, alloc Allocator, ev EventPublisher, launcher Launcher, notifier *notify.Service, webhook WebhookDispatcher) *Supervisor {
	return &Supervisor{
		cfg:            cfg,
		registry:       reg,
		machine:        machine,
		allocator:      alloc,
		events:         ev,
		launcher:       launcher,
		notifier:       notifier,
		webhook:        webhook,
		activeMeetings: make(map[string]context.CancelFunc),
		threadTS:       make(map[string]string),
		stopCh:         make(chan struct{}),
	}
}

// RegisterMeeting stores a cancel function for manual cancellation,
// generalized from the teacher's WorkerPool.RegisterSession.
func (s *Supervisor) RegisterMeeting(meetingID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeMeetings[meetingID] = cancel
}

// UnregisterMeeting removes the cancel function once supervision ends.
func (s *Supervisor) UnregisterMeeting(meetingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.activeMeetings, meetingID)
	delete(s.threadTS, meetingID)
}

// CancelMeeting triggers context cancellation for a meeting supervised on
// this replica. Returns ErrNoMeetingOnThisReplica if not found here.
func (s *Supervisor) CancelMeeting(meetingID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cancel, ok := s.activeMeetings[meetingID]
	if !ok {
		return ErrNoMeetingOnThisReplica
	}
	cancel()
	return nil
}

func (s *Supervisor) cacheThreadTS(meetingID, ts string) {
	if ts == "" {
		return
	}
	s.mu.Lock()
	s.threadTS[meetingID] = ts
	s.mu.Unlock()
}

func (s *Supervisor) getThreadTS(meetingID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threadTS[meetingID]
}

// RequestBot implements spec.md §4.4 RequestBot. Duplicate and
// concurrency-limit checks happen atomically inside Registry.Create;
// this method adds the launch dispatch on top.
func (s *Supervisor) RequestBot(ctx context.Context, owner string, platform models.Platform, nativeID, passcode string, cfg models.Config) (*models.Meeting, error) {
	if !platform.IsValid() {
		return nil, apperrors.NewValidationError("platform", "must be google_meet or teams")
	}
	if nativeID == "" {
		return nil, apperrors.NewValidationError("native_meeting_id", "must not be empty")
	}
	if !cfg.Task.IsValid() {
		return nil, apperrors.NewValidationError("task", "must be transcribe or translate")
	}

	limit := s.cfg.DefaultConcurrencyLimit
	m, err := s.registry.Create(ctx, owner, platform, nativeID, passcode, cfg, limit)
	if err != nil {
		return nil, err
	}
	metrics.MeetingsRequestedTotal.WithLabelValues(string(platform)).Inc()
	metrics.MeetingsActive.Inc()

	meetingCtx, cancel := context.WithCancel(context.Background())
	s.RegisterMeeting(m.MeetingID, cancel)

	s.wg.Add(1)
	go s.runLaunch(meetingCtx, m)

	return m, nil
}

// runLaunch dispatches the container launch with bounded retries. Its
// goroutine stays in the cancel registry only until the launch finishes;
// startup/exit callbacks, StopBot and the watchdog act on the meeting from
// their own goroutines, serialized by the status machine's row lock.
func (s *Supervisor) runLaunch(ctx context.Context, m *models.Meeting) {
	defer s.wg.Done()
	defer s.UnregisterMeeting(m.MeetingID)

	log := slog.With("meeting_id", m.MeetingID, "platform", m.Platform)

	containerID, err := s.launchWithRetry(ctx, m)
	if err != nil {
		log.Error("launch failed after retries", "error", err)
		failed, txErr := s.machine.Transition(context.Background(), m.MeetingID, models.StatusFailed, models.SourceAPI, statemachine.Detail{
			FailureStage: "REQUESTED",
			ErrorDetails: err.Error(),
		})
		if txErr != nil {
			log.Error("failed to transition to FAILED after launch failure", "error", txErr)
			return
		}
		recordTerminal(failed)
		return
	}

	log.Info("bot container launched", "container_id", containerID)
	threadTS := s.notifyStarted(ctx, m.MeetingID, m.Platform)
	s.cacheThreadTS(m.MeetingID, threadTS)
}

// launchWithRetry makes up to cfg.NLaunch container launch attempts with
// exponential backoff between them, per spec.md §4.4 step 5.
func (s *Supervisor) launchWithRetry(ctx context.Context, m *models.Meeting) (string, error) {
	spec := LaunchSpec{
		MeetingID:         m.MeetingID,
		Platform:          m.Platform,
		NativeMeetingID:   m.NativeMeetingID,
		Passcode:          m.Passcode,
		Config:            m.Config,
		CallbackURL:       s.cfg.CallbackBaseURL + "/internal/status_change",
		AllocatorEndpoint: s.cfg.AllocatorEndpoint,
		BotToken:          botauth.Mint(s.cfg.BotAuthSecret, m.MeetingID),
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(newLaunchBackOff(), uint64(s.cfg.NLaunch-1)), ctx)

	attempt := 0
	var containerID string
	err := backoff.Retry(func() error {
		attempt++
		id, err := s.launcher.Launch(ctx, spec)
		if err != nil {
			slog.Warn("bot launch attempt failed", "meeting_id", m.MeetingID, "attempt", attempt, "error", err)
			return err
		}
		containerID = id
		return nil
	}, bo)
	if err != nil {
		return "", fmt.Errorf("launch failed after %d attempts: %w", attempt, err)
	}
	return containerID, nil
}

// newLaunchBackOff bounds retry delay to 5s, matching the teacher's
// original launch-retry ceiling.
func newLaunchBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

func (s *Supervisor) notifyStarted(ctx context.Context, meetingID string, platform models.Platform) string {
	if s.notifier == nil {
		return ""
	}
	return s.notifier.NotifyMeetingStarted(ctx, notify.MeetingStartedInput{
		MeetingID: meetingID,
		Platform:  platform,
	})
}

// StopBot implements spec.md §4.4 StopBot: an unconditional, idempotent
// transition to COMPLETED that wins over any concurrent bot callback. A
// meeting already terminal (StopBot retried, or raced against the bot's
// own exit callback) is a no-op that returns the same terminal state,
// per spec.md §8's round-trip/idempotence requirement.
func (s *Supervisor) StopBot(ctx context.Context, owner string, platform models.Platform, nativeID string) (*models.Meeting, error) {
	m, err := s.registry.FindLatestByNative(ctx, owner, platform, nativeID)
	if err != nil {
		return nil, err
	}
	if m.Status.IsTerminal() {
		return m, nil
	}

	updated, err := s.machine.Transition(ctx, m.MeetingID, models.StatusCompleted, models.SourceAPI, statemachine.Detail{
		CompletionReason: "stopped",
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrPreconditionFailed) {
			// Lost a race against a concurrent terminal transition; return
			// whichever terminal state won.
			return s.registry.Get(ctx, m.MeetingID)
		}
		return nil, err
	}

	go s.teardown(updated, s.cfg.TShutdown)
	return updated, nil
}

// teardown asynchronously signals the container to leave and exit, force
// terminating after the shutdown grace period, then releases the
// allocation and runs the post-meeting routine. Detached on
// context.Background() so a caller never waits on container death.
func (s *Supervisor) teardown(m *models.Meeting, shutdownGrace time.Duration) {
	ctx := context.Background()
	log := slog.With("meeting_id", m.MeetingID)

	if err := s.CancelMeeting(m.MeetingID); err != nil {
		// Not supervised on this replica's launch goroutine — broadcast a
		// cancel notice so whichever replica does own it can act, then
		// still attempt the container stop locally if we have a container
		// ID to act on.
		if s.events != nil {
			if pubErr := s.events.PublishMeetingCancel(ctx, m.MeetingID); pubErr != nil {
				log.Warn("meeting cancel broadcast failed", "error", pubErr)
			}
		}
		if m.ContainerID != "" {
			stopCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
			if err := s.launcher.Stop(stopCtx, m.ContainerID, shutdownGrace); err != nil {
				log.Warn("container stop failed", "error", err)
			}
			cancel()
		}
	}

	recordTerminal(m)
	s.releaseAllocation(ctx, m)
	s.notifyTerminal(ctx, m)
	s.dispatchWebhook(ctx, m)
}

func (s *Supervisor) releaseAllocation(ctx context.Context, m *models.Meeting) {
	if s.allocator == nil || m.WorkerURL == "" {
		return
	}
	if err := s.allocator.Release(ctx, m.WorkerURL); err != nil {
		slog.Warn("allocation release failed", "meeting_id", m.MeetingID, "worker_url", m.WorkerURL, "error", err)
	}
}

func (s *Supervisor) notifyTerminal(ctx context.Context, m *models.Meeting) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyMeetingCompleted(ctx, notify.MeetingCompletedInput{
		MeetingID:        m.MeetingID,
		Platform:         m.Platform,
		Status:           m.Status,
		CompletionReason: m.Envelope.CompletionReason,
		FailureStage:     m.Envelope.FailureStage,
		ErrorDetails:     m.Envelope.ErrorDetails,
		ThreadTS:         s.getThreadTS(m.MeetingID),
	})
}

// recordTerminal updates the active-meeting gauge and terminal counter.
// Called once per meeting from every path that reaches a terminal
// status: StopBot's teardown, a launch-retry exhaustion, the bot's exit
// callback, and the watchdog.
func recordTerminal(m *models.Meeting) {
	metrics.MeetingsActive.Dec()
	reason := m.Envelope.CompletionReason
	if reason == "" {
		reason = m.Envelope.FailureStage
	}
	metrics.MeetingsTerminatedTotal.WithLabelValues(string(m.Status), reason).Inc()
}

func (s *Supervisor) dispatchWebhook(ctx context.Context, m *models.Meeting) {
	if s.webhook == nil || m.Config.WebhookURL == "" {
		return
	}
	s.webhook.Dispatch(ctx, m.Config.WebhookURL, m)
}

// UpdateConfig implements spec.md §4.4 UpdateConfig: permitted only when
// ACTIVE, and pushes a live config event the bot subscribes to.
func (s *Supervisor) UpdateConfig(ctx context.Context, owner string, platform models.Platform, nativeID string, cfg models.Config) (*models.Meeting, error) {
	m, err := s.registry.FindActiveByNative(ctx, owner, platform, nativeID)
	if err != nil {
		return nil, err
	}
	updated, err := s.registry.UpdateConfig(ctx, m.MeetingID, cfg)
	if err != nil {
		return nil, err
	}
	if s.events != nil {
		if err := s.events.PublishConfigUpdate(ctx, m.MeetingID, cfg); err != nil {
			slog.Warn("config update publish failed", "meeting_id", m.MeetingID, "error", err)
		}
	}
	return updated, nil
}

// Stop signals the watchdog loop to exit and waits for in-flight launch
// goroutines (runLaunch) to return, including their launch retries and
// any FAILED transition after the retries are exhausted.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}
