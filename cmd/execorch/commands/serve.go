package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/agentcore/execorch/internal/compaction"
	"github.com/agentcore/execorch/internal/config"
	"github.com/agentcore/execorch/internal/confirm"
	"github.com/agentcore/execorch/internal/convstore"
	"github.com/agentcore/execorch/internal/event"
	"github.com/agentcore/execorch/internal/execclient"
	"github.com/agentcore/execorch/internal/gateway"
	"github.com/agentcore/execorch/internal/logging"
	"github.com/agentcore/execorch/internal/modelproc"
	"github.com/agentcore/execorch/internal/orchestrator"
	"github.com/agentcore/execorch/internal/role"
	"github.com/agentcore/execorch/internal/storage"
	"github.com/agentcore/execorch/pkg/types"
)

var (
	serveHostname   string
	servePort       int
	serveDir        string
	serveModelCmd   string
	roleDescriptors string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator and its HTTP/WS gateway",
	Long: `Start execorch as a long-running server: it loads the role registry
and configuration for a working directory, drives Planner/Worker turns
against a pool of remote code execution sessions, and exposes live
progress over a websocket gateway.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "127.0.0.1", "Hostname to listen on")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8099, "Port to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory")
	serveCmd.Flags().StringVar(&serveModelCmd, "model-command", "", "Command (and args, space-separated) invoked once per model generation step")
	serveCmd.Flags().StringVar(&roleDescriptors, "roles-file", "", "YAML file overlaying the role table (see internal/role.LoadDescriptors)")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	logging.Info().Str("version", Version).Msg("starting execorch server")
	logging.Info().Str("directory", workDir).Msg("working directory")

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}

	registry := role.NewRegistry(appConfig)
	if roleDescriptors != "" {
		descs, err := role.LoadDescriptors(roleDescriptors)
		if err != nil {
			return err
		}
		if err := registry.ApplyDescriptors(descs); err != nil {
			return err
		}
	}

	store := storage.New(paths.Data)
	bus := event.NewBus()
	convs := convstore.NewStore(store, registry.Exists)
	confirmGate := confirm.NewGate(bus)

	if serveModelCmd == "" {
		return fmt.Errorf("--model-command is required: no model provider SDK is bound in this repository")
	}
	caller := modelproc.New("sh", "-c", serveModelCmd)

	var compactor *compaction.Engine
	if appConfig.Compaction.Enabled {
		compactor = compaction.NewEngine(convs, bus, appConfig.Compaction, caller.Summarizer())
		convs.RegisterCallback(compactor.OnRoundAdded)
	}

	execs := newExecutorPool(appConfig.ExecutionServer)
	defer execs.shutdown()

	orch := orchestrator.New(orchestrator.Config{
		Roles:      registry,
		Store:      convs,
		Confirm:    confirmGate,
		Compactor:  compactor,
		Bus:        bus,
		Model:      caller,
		Executors:  execs.factory,
		MaxRetries: appConfig.CodeInterpreter.MaxRetryCount,
	})

	hub := gateway.NewHub(bus, convs, orch, confirmGate, execs.uploaderFactory)
	defer hub.Close()

	router := chi.NewRouter()
	router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.URL.Query().Get("session_id")
		if sessionID == "" {
			http.Error(w, "session_id is required", http.StatusBadRequest)
			return
		}
		hub.ServeWS(w, r, sessionID)
	})
	router.Get("/api/v1/config", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(appConfig)
	})

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", serveHostname, servePort),
		Handler: router,
	}

	go func() {
		logging.Info().
			Str("url", fmt.Sprintf("http://%s:%d", serveHostname, servePort)).
			Msg("execorch server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down execorch server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}

	logging.Info().Msg("execorch server stopped")
	return nil
}

// executorPool lazily creates and caches one execclient.Client per
// session_id against the configured execution server, starting it first
// (subprocess or container) if auto_start is configured and none is
// reachable yet.
type executorPool struct {
	mu       sync.Mutex
	clients  map[string]*execclient.Client
	cfg      execclient.Config
	launcher *execclient.Launcher

	launchOnce sync.Once
	launchErr  error
}

func newExecutorPool(cfg types.ExecutionServerConfig) *executorPool {
	clientCfg := execclient.Config{ServerURL: cfg.URL, APIKey: cfg.APIKey}
	if clientCfg.ServerURL == "" {
		clientCfg.ServerURL = fmt.Sprintf("http://%s:%d", valueOr(cfg.Host, "127.0.0.1"), valueOrInt(cfg.Port, 8282))
	}
	if cfg.TimeoutSeconds > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second}
	}

	probe := execclient.NewClient(clientCfg, "")
	launcherCfg := execclient.LauncherConfig{
		AutoStart:      cfg.AutoStart,
		Container:      cfg.Container,
		ContainerImage: cfg.ContainerImage,
		Host:           cfg.Host,
		Port:           cfg.Port,
		Command:        "execution-server",
	}
	launcher := execclient.NewLauncher(launcherCfg, probe, nil)
	if cfg.Container {
		if starter, err := execclient.NewDockerContainerStarter(); err != nil {
			logging.Warn().Err(err).Msg("container runtime unavailable; container auto-start will fail")
		} else {
			launcher = execclient.NewLauncher(launcherCfg, probe, starter)
		}
	}

	return &executorPool{
		clients:  make(map[string]*execclient.Client),
		cfg:      clientCfg,
		launcher: launcher,
	}
}

func (p *executorPool) ensureRunning(ctx context.Context) error {
	p.launchOnce.Do(func() {
		p.launchErr = p.launcher.EnsureRunning(ctx)
	})
	return p.launchErr
}

// factory satisfies orchestrator.CodeExecutorFactory.
func (p *executorPool) factory(sessionID string) (orchestrator.CodeExecutor, error) {
	client, err := p.client(sessionID)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// uploaderFactory satisfies gateway.UploaderFactory.
func (p *executorPool) uploaderFactory(sessionID string) (gateway.Uploader, error) {
	return p.client(sessionID)
}

func (p *executorPool) client(sessionID string) (*execclient.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[sessionID]; ok {
		return client, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.ensureRunning(ctx); err != nil {
		return nil, err
	}

	client := execclient.NewClient(p.cfg, sessionID)
	if err := client.CreateSession(ctx); err != nil {
		return nil, err
	}
	p.clients[sessionID] = client
	return client, nil
}

func (p *executorPool) shutdown() {
	p.mu.Lock()
	clients := make([]*execclient.Client, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, c := range clients {
		if err := c.StopSession(ctx); err != nil {
			logging.Warn().Err(err).Str("session_id", c.SessionID()).Msg("failed to stop remote session")
		}
	}
	if err := p.launcher.Shutdown(ctx); err != nil {
		logging.Warn().Err(err).Msg("failed to shut down launched execution server")
	}
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func valueOrInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}
