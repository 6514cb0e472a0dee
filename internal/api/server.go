package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"script-host/internal/config"
)

// Server is the HTTP control surface of the hosting service.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	startTime  time.Time
}

// NewServer creates and configures the HTTP server with all routes and middleware.
func NewServer(cfg *config.Config, deps Deps) *Server {
	handlers := NewHandlers(cfg, deps)

	s := &Server{
		handlers:  handlers,
		cfg:       cfg,
		startTime: time.Now(),
	}

	if len(cfg.Security.AllowedKeys) == 0 {
		log.Warn().Msg("no API keys configured, all control requests will be accepted")
	}

	// Control API, wrapped with auth
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /scripts/run", handlers.HandleRun)
	apiMux.HandleFunc("POST /scripts/stop", handlers.HandleStop)
	apiMux.HandleFunc("GET /scripts", handlers.HandleListScripts)
	apiMux.HandleFunc("GET /scripts/{owner}/{file}/log", handlers.HandleScriptLog)
	apiMux.HandleFunc("POST /sessions", handlers.HandleCreateSession)
	apiMux.HandleFunc("POST /sessions/extend", handlers.HandleExtendSession)
	apiMux.HandleFunc("GET /sessions/{owner}", handlers.HandleSessionStatus)
	apiMux.HandleFunc("DELETE /sessions/{owner}", handlers.HandleRevokeSession)
	apiMux.HandleFunc("POST /files/{owner}", handlers.HandleUpload)
	apiMux.HandleFunc("GET /files/{owner}", handlers.HandleListFiles)
	apiMux.HandleFunc("DELETE /files/{owner}/{file}", handlers.HandleDeleteFile)
	apiMux.HandleFunc("POST /share", handlers.HandleShare)
	apiMux.HandleFunc("GET /runs", handlers.HandleListRuns)

	authedAPI := AuthMiddleware(cfg.Security.APIKeyHeader, cfg.Security.AllowedKeys)(apiMux)

	// Top-level mux: health, metrics, and share downloads bypass auth.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth(deps))
	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /share/{token}", handlers.HandleDownloadShared)
	mux.Handle("/", authedAPI)

	// Apply middleware chain (outermost first)
	var handler http.Handler = mux
	handler = MetricsMiddleware(deps.Metrics)(handler)
	handler = MaxBodyMiddleware(cfg.Server.MaxRequestBody)(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Start begins listening for requests.
func (s *Server) Start() error {
	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbOK := deps.DB == nil || deps.DB.Healthy(r.Context())

		resp := HealthResponse{
			Status:         "ok",
			Database:       dbOK,
			ScriptsRunning: deps.Registry.Count(),
			SessionsActive: deps.Sessions.Count(),
			Uptime:         time.Since(s.startTime).Round(time.Second).String(),
		}

		if !dbOK {
			resp.Status = "degraded"
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, resp)
	}
}
