package execclient

import (
	"context"
	"os/exec"
	"strconv"
	"time"

	"github.com/agentcore/execorch/internal/logging"
)

// LauncherConfig describes how to bring up an execution server when one
// isn't already reachable at Config.ServerURL.
type LauncherConfig struct {
	AutoStart      bool
	Container      bool
	ContainerImage string
	Host           string
	Port           int
	StartupTimeout time.Duration
	ProbeInterval  time.Duration

	// Command/Args launch the server as a local subprocess when Container
	// is false. Ignored when Container is true.
	Command string
	Args    []string
}

func (c LauncherConfig) withDefaults() LauncherConfig {
	if c.StartupTimeout == 0 {
		c.StartupTimeout = 30 * time.Second
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = 500 * time.Millisecond
	}
	return c
}

// Launcher ensures an execution server is reachable for a Client, starting
// one if necessary and auto-start is enabled.
type Launcher struct {
	cfg     LauncherConfig
	client  *Client
	process *exec.Cmd
	starter containerStarter // nil unless cfg.Container
}

// containerStarter abstracts the docker client so launcher_test.go can
// substitute a fake without a daemon.
type containerStarter interface {
	Start(ctx context.Context, image, host string, port int) error
	Stop(ctx context.Context) error
}

// NewLauncher builds a Launcher for client using cfg. If cfg.Container is
// set, starter must be a non-nil adapter over a docker client (see
// docker.go); it is ignored otherwise.
func NewLauncher(cfg LauncherConfig, client *Client, starter containerStarter) *Launcher {
	return &Launcher{cfg: cfg.withDefaults(), client: client, starter: starter}
}

// EnsureRunning probes the server; if unreachable and auto-start is
// enabled, it spawns the server (subprocess or container) and polls health
// until ready or StartupTimeout elapses, returning *ServerStartFailedError
// on timeout.
func (l *Launcher) EnsureRunning(ctx context.Context) error {
	if l.client.Probe(ctx, 2*time.Second) {
		return nil
	}
	if !l.cfg.AutoStart {
		return &ServerUnreachableError{URL: l.client.cfg.ServerURL, Cause: errNotRunning}
	}

	if err := l.spawn(ctx); err != nil {
		return &ServerStartFailedError{URL: l.client.cfg.ServerURL, Cause: err}
	}

	deadline := time.Now().Add(l.cfg.StartupTimeout)
	ticker := time.NewTicker(l.cfg.ProbeInterval)
	defer ticker.Stop()
	for {
		if l.client.Probe(ctx, l.cfg.ProbeInterval) {
			return nil
		}
		if time.Now().After(deadline) {
			return &ServerStartFailedError{URL: l.client.cfg.ServerURL, Cause: errStartupDeadline}
		}
		select {
		case <-ctx.Done():
			return &ServerStartFailedError{URL: l.client.cfg.ServerURL, Cause: ctx.Err()}
		case <-ticker.C:
		}
	}
}

func (l *Launcher) spawn(ctx context.Context) error {
	if l.cfg.Container {
		if l.starter == nil {
			return errNoContainerStarter
		}
		logging.Info().Str("image", l.cfg.ContainerImage).Msg("starting execution server container")
		return l.starter.Start(ctx, l.cfg.ContainerImage, l.cfg.Host, l.cfg.Port)
	}

	logging.Info().Str("command", l.cfg.Command).Msg("starting execution server subprocess")
	args := append([]string{}, l.cfg.Args...)
	if l.cfg.Host != "" {
		args = append(args, "--hostname", l.cfg.Host)
	}
	if l.cfg.Port != 0 {
		args = append(args, "--port", strconv.Itoa(l.cfg.Port))
	}
	cmd := exec.Command(l.cfg.Command, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	l.process = cmd
	return nil
}

// Shutdown stops a server this Launcher started (subprocess or container).
// It is a no-op if EnsureRunning found a server already running.
func (l *Launcher) Shutdown(ctx context.Context) error {
	if l.starter != nil && l.cfg.Container {
		return l.starter.Stop(ctx)
	}
	if l.process != nil && l.process.Process != nil {
		return l.process.Process.Kill()
	}
	return nil
}
