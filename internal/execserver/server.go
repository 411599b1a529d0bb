package execserver

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agentcore/execorch/pkg/types"
)

// HTTPConfig holds the listener-level settings for the execution API.
type HTTPConfig struct {
	Host           string
	Port           int
	EnableCORS     bool
	APIKey         string // when set, required via X-API-Key unless the caller is localhost and AllowLocalBypass is true
	AllowLocalBypass bool
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DefaultHTTPConfig mirrors the teacher's DefaultConfig: no write timeout,
// since the streaming endpoint holds its response open indefinitely.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Host:         "127.0.0.1",
		Port:         8282,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
	}
}

// FromExecutionServerConfig derives HTTPConfig from the shared config type,
// used when this process is launched as `execution.server.*` describes.
func FromExecutionServerConfig(cfg types.ExecutionServerConfig) HTTPConfig {
	h := DefaultHTTPConfig()
	if cfg.Host != "" {
		h.Host = cfg.Host
	}
	if cfg.Port != 0 {
		h.Port = cfg.Port
	}
	h.APIKey = cfg.APIKey
	return h
}

// Server is the HTTP/SSE front end over a Manager.
type Server struct {
	cfg     HTTPConfig
	manager *Manager
	router  *chi.Mux
	httpSrv *http.Server
	version string
	started time.Time
}

// New builds a Server wired to manager, with routes and middleware set up.
func New(cfg HTTPConfig, manager *Manager, version string) *Server {
	s := &Server{
		cfg:     cfg,
		manager: manager,
		router:  chi.NewRouter(),
		version: version,
		started: time.Now(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.cfg.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	s.router.Use(s.authenticate)
}

// authenticate enforces the optional shared X-API-Key, bypassing for
// loopback callers when configured to do so.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/health" {
			next.ServeHTTP(w, r)
			return
		}
		if s.cfg.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		if s.cfg.AllowLocalBypass && isLoopback(r) {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != s.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "missing or invalid X-API-Key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) Router() *chi.Mux { return s.router }

// Start runs the HTTP server; it blocks until Shutdown is called or the
// listener fails.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and every live kernel session.
func (s *Server) Shutdown(ctx context.Context) error {
	s.manager.Shutdown()
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}
