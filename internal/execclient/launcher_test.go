package execclient

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeContainerStarter struct {
	started bool
	stopped bool
	onStart func()
}

func (f *fakeContainerStarter) Start(ctx context.Context, image, host string, port int) error {
	f.started = true
	if f.onStart != nil {
		f.onStart()
	}
	return nil
}

func (f *fakeContainerStarter) Stop(ctx context.Context) error {
	f.stopped = true
	return nil
}

func TestEnsureRunningSkipsSpawnWhenAlreadyUp(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(Config{ServerURL: ts.URL}, "s1")
	starter := &fakeContainerStarter{}
	l := NewLauncher(LauncherConfig{AutoStart: true, Container: true}, c, starter)

	require.NoError(t, l.EnsureRunning(context.Background()))
	assert.False(t, starter.started)
}

func TestEnsureRunningFailsWhenUnreachableAndAutoStartDisabled(t *testing.T) {
	c := NewClient(Config{ServerURL: "http://127.0.0.1:1"}, "s1")
	l := NewLauncher(LauncherConfig{AutoStart: false}, c, nil)

	err := l.EnsureRunning(context.Background())
	require.Error(t, err)
	assert.True(t, IsServerUnreachableError(err))
}

func TestEnsureRunningStartsContainerThenProbesUntilHealthy(t *testing.T) {
	ts := newTestServer(t)
	c := NewClient(Config{ServerURL: "http://127.0.0.1:1"}, "s1")

	started := make(chan struct{})
	starter := &fakeContainerStarter{onStart: func() {
		// Simulate the container becoming reachable shortly after start by
		// pointing the client at the already-running test server.
		c.cfg.ServerURL = ts.URL
		close(started)
	}}
	l := NewLauncher(LauncherConfig{
		AutoStart:      true,
		Container:      true,
		StartupTimeout: 2 * time.Second,
		ProbeInterval:  20 * time.Millisecond,
	}, c, starter)

	require.NoError(t, l.EnsureRunning(context.Background()))
	<-started
	assert.True(t, starter.started)
}

func TestEnsureRunningFailsToStartWithoutContainerStarter(t *testing.T) {
	c := NewClient(Config{ServerURL: "http://127.0.0.1:1"}, "s1")
	l := NewLauncher(LauncherConfig{AutoStart: true, Container: true}, c, nil)

	err := l.EnsureRunning(context.Background())
	require.Error(t, err)
	assert.True(t, IsServerStartFailedError(err))
}
