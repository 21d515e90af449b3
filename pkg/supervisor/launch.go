package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/vexa-ai/meetbotd/pkg/models"
)

// DockerLauncher implements Launcher against the local Docker Engine API,
// one container per meeting, matching spec.md §4.4 step 5's launch
// contract.
type DockerLauncher struct {
	cli   *client.Client
	image string
}

// NewDockerLauncher builds a DockerLauncher from the ambient Docker
// environment (DOCKER_HOST, TLS certs, etc.), the same discovery
// testcontainers-go relies on for its own Docker client.
func NewDockerLauncher(image string) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerLauncher{cli: cli, image: image}, nil
}

// Launch creates and starts a bot container for spec. The container
// receives its assignment entirely through environment variables; the
// bot reads these at startup and calls back via spec.CallbackURL once it
// has a status to report.
func (d *DockerLauncher) Launch(ctx context.Context, spec LaunchSpec) (string, error) {
	configJSON, err := json.Marshal(spec.Config)
	if err != nil {
		return "", fmt.Errorf("marshal bot config: %w", err)
	}

	env := []string{
		"MEETING_ID=" + spec.MeetingID,
		"PLATFORM=" + string(spec.Platform),
		"NATIVE_MEETING_ID=" + spec.NativeMeetingID,
		"PASSCODE=" + spec.Passcode,
		"BOT_CONFIG=" + string(configJSON),
		"CALLBACK_URL=" + spec.CallbackURL,
		"ALLOCATOR_ENDPOINT=" + spec.AllocatorEndpoint,
		"BOT_TOKEN=" + spec.BotToken,
	}

	created, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image: d.image,
		Env:   env,
		Labels: map[string]string{
			"meetbotd.meeting_id": spec.MeetingID,
		},
	}, &container.HostConfig{
		AutoRemove: false,
	}, nil, nil, "meetbot-"+spec.MeetingID)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	if err := d.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = d.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("start container: %w", err)
	}

	return created.ID, nil
}

// Stop asks the container to exit gracefully (SIGTERM, the same signal
// the bot's self-initiated-leave path listens for), waiting up to
// timeout before Docker escalates to SIGKILL.
func (d *DockerLauncher) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	return d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds})
}

// Inspect reports whether containerID is still running. A "no such
// container" error is treated as not-running rather than propagated,
// since the watchdog only cares about liveness.
func (d *DockerLauncher) Inspect(ctx context.Context, containerID string) (bool, error) {
	info, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("inspect container: %w", err)
	}
	return info.State != nil && info.State.Running, nil
}
