package execclient

import (
	"context"
	"fmt"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/agentcore/execorch/internal/logging"
)

// DockerContainerStarter launches the execution server inside a container
// via the Docker Engine API, implementing containerStarter. Used when
// LauncherConfig.Container is set (execution.server.container, §4.H+).
type DockerContainerStarter struct {
	cli         *client.Client
	containerID string
}

// NewDockerContainerStarter connects to the local Docker daemon using
// environment defaults (DOCKER_HOST et al.).
func NewDockerContainerStarter() (*DockerContainerStarter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect to docker daemon: %w", err)
	}
	return &DockerContainerStarter{cli: cli}, nil
}

// Start creates and runs a container from image, publishing port to the
// host's loopback interface.
func (d *DockerContainerStarter) Start(ctx context.Context, image, host string, port int) error {
	portSpec := nat.Port(strconv.Itoa(port) + "/tcp")
	hostBinding := nat.PortBinding{HostIP: "127.0.0.1", HostPort: strconv.Itoa(port)}
	if host != "" {
		hostBinding.HostIP = host
	}

	resp, err := d.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        image,
			ExposedPorts: nat.PortSet{portSpec: struct{}{}},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{portSpec: []nat.PortBinding{hostBinding}},
			AutoRemove:   true,
		},
		nil, nil, "")
	if err != nil {
		return fmt.Errorf("create execution server container: %w", err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start execution server container: %w", err)
	}
	d.containerID = resp.ID
	logging.Info().Str("container_id", resp.ID).Msg("execution server container started")
	return nil
}

// Stop removes the container this starter launched (AutoRemove handles
// cleanup on normal stop; Stop covers the case where the process exits
// before the container does).
func (d *DockerContainerStarter) Stop(ctx context.Context) error {
	if d.containerID == "" {
		return nil
	}
	timeout := 5
	return d.cli.ContainerStop(ctx, d.containerID, container.StopOptions{Timeout: &timeout})
}
