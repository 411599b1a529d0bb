package execclient

import "errors"

var (
	errNotRunning         = errors.New("execution server not running and auto-start disabled")
	errStartupDeadline    = errors.New("startup deadline elapsed before the server became healthy")
	errNoContainerStarter = errors.New("container auto-start enabled but no container starter configured")
)
