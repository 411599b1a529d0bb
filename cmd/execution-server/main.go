// Package main provides the entry point for the execution server: the
// network-addressable process that owns one kernel session per session_id
// and exposes it over the HTTP/SSE API in internal/execserver.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentcore/execorch/internal/execserver"
	"github.com/agentcore/execorch/internal/logging"
)

var (
	port       = flag.Int("port", 8282, "Port to listen on")
	hostname   = flag.String("hostname", "127.0.0.1", "Hostname to listen on")
	workRoot   = flag.String("work-root", "", "Root directory under which session cwds are created")
	apiKey     = flag.String("api-key", "", "If set, required via X-API-Key on every request except /api/v1/health")
	sessionTTL = flag.Duration("session-ttl", 30*time.Minute, "Idle duration after which an unused session is evicted (0 disables eviction)")
	kernelCmd  = flag.String("kernel-command", "python3", "Interpreter command used to launch each kernel subprocess")
	version    = flag.Bool("version", false, "Print version and exit")
)

const Version = "0.1.0"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("execution-server %s\n", Version)
		os.Exit(0)
	}

	logging.Init(logging.DefaultConfig())

	root := *workRoot
	if root == "" {
		var err error
		root, err = os.MkdirTemp("", "execorch-sessions-")
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to create work root")
		}
	}

	manager, err := execserver.NewManager(execserver.Config{
		WorkRoot:   root,
		Command:    *kernelCmd,
		Args:       []string{"-u"},
		SessionTTL: *sessionTTL,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize session manager")
	}

	httpCfg := execserver.DefaultHTTPConfig()
	httpCfg.Host = *hostname
	httpCfg.Port = *port
	httpCfg.APIKey = *apiKey

	srv := execserver.New(httpCfg, manager, Version)

	go func() {
		logging.Info().
			Str("url", fmt.Sprintf("http://%s:%d", *hostname, *port)).
			Str("work_root", root).
			Msg("execution server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down execution server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}
	manager.Shutdown()
	logging.Info().Msg("execution server stopped")
}
