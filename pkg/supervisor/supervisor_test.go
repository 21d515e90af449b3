package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vexa-ai/meetbotd/pkg/models"
)

// fakeLauncher is a Launcher test double recording every call.
type fakeLauncher struct {
	mu           sync.Mutex
	launchCalls  int
	failUntil    int // Launch fails this many times before succeeding
	running      map[string]bool
	stopCalls    []string
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{running: make(map[string]bool)}
}

func (f *fakeLauncher) Launch(ctx context.Context, spec LaunchSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launchCalls++
	if f.launchCalls <= f.failUntil {
		return "", errors.New("launch failed")
	}
	id := "container-" + spec.MeetingID
	f.running[id] = true
	return id, nil
}

func (f *fakeLauncher) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls = append(f.stopCalls, containerID)
	delete(f.running, containerID)
	return nil
}

func (f *fakeLauncher) Inspect(ctx context.Context, containerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[containerID], nil
}

// fakeAllocator records Release calls.
type fakeAllocator struct {
	mu       sync.Mutex
	released []string
}

func (f *fakeAllocator) Release(ctx context.Context, workerURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, workerURL)
	return nil
}

// fakeWebhook records Dispatch calls.
type fakeWebhook struct {
	mu        sync.Mutex
	dispatched []*models.Meeting
}

func (f *fakeWebhook) Dispatch(ctx context.Context, webhookURL string, meeting *models.Meeting) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, meeting)
}

func TestSupervisor_RegisterUnregisterCancelMeeting(t *testing.T) {
	s := &Supervisor{activeMeetings: make(map[string]context.CancelFunc), threadTS: make(map[string]string)}

	cancelled := false
	s.RegisterMeeting("m1", func() { cancelled = true })

	require.NoError(t, s.CancelMeeting("m1"))
	require.True(t, cancelled)

	s.UnregisterMeeting("m1")
	require.ErrorIs(t, s.CancelMeeting("m1"), ErrNoMeetingOnThisReplica)
}

func TestSupervisor_LaunchWithRetry_SucceedsAfterFailures(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.failUntil = 2

	s := &Supervisor{
		cfg:      Config{NLaunch: 3},
		launcher: launcher,
	}

	m := &models.Meeting{MeetingID: "m1", Platform: models.PlatformGoogleMeet}
	id, err := s.launchWithRetry(context.Background(), m)
	require.NoError(t, err)
	require.Equal(t, "container-m1", id)
	require.Equal(t, 3, launcher.launchCalls)
}

func TestSupervisor_LaunchWithRetry_ExhaustsAttempts(t *testing.T) {
	launcher := newFakeLauncher()
	launcher.failUntil = 10

	s := &Supervisor{
		cfg:      Config{NLaunch: 3},
		launcher: launcher,
	}

	m := &models.Meeting{MeetingID: "m1", Platform: models.PlatformGoogleMeet}
	_, err := s.launchWithRetry(context.Background(), m)
	require.Error(t, err)
	require.Equal(t, 3, launcher.launchCalls)
}

func TestSupervisor_ReleaseAllocation_SkipsWhenNoWorkerURL(t *testing.T) {
	alloc := &fakeAllocator{}
	s := &Supervisor{allocator: alloc}

	s.releaseAllocation(context.Background(), &models.Meeting{MeetingID: "m1"})
	require.Empty(t, alloc.released)

	s.releaseAllocation(context.Background(), &models.Meeting{MeetingID: "m1", WorkerURL: "http://worker-1"})
	require.Equal(t, []string{"http://worker-1"}, alloc.released)
}

func TestSupervisor_DispatchWebhook_SkipsWhenNoWebhookConfigured(t *testing.T) {
	wh := &fakeWebhook{}
	s := &Supervisor{webhook: wh}

	s.dispatchWebhook(context.Background(), &models.Meeting{MeetingID: "m1"})
	require.Empty(t, wh.dispatched)

	m := &models.Meeting{MeetingID: "m2", Config: models.Config{WebhookURL: "https://example.com/hook"}}
	s.dispatchWebhook(context.Background(), m)
	require.Len(t, wh.dispatched, 1)
}

func TestSupervisor_ThreadTSCache(t *testing.T) {
	s := &Supervisor{activeMeetings: make(map[string]context.CancelFunc), threadTS: make(map[string]string)}

	require.Equal(t, "", s.getThreadTS("m1"))
	s.cacheThreadTS("m1", "1234.5678")
	require.Equal(t, "1234.5678", s.getThreadTS("m1"))

	s.cacheThreadTS("m1", "")
	require.Equal(t, "1234.5678", s.getThreadTS("m1"), "empty thread ts must not overwrite a cached one")
}
