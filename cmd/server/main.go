package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"script-host/internal/api"
	"script-host/internal/config"
	"script-host/internal/files"
	"script-host/internal/hosting"
	"script-host/internal/monitor"
	"script-host/internal/procman"
	"script-host/internal/runtime"
	"script-host/internal/sharing"
	"script-host/internal/storage"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()

	// Script folders on disk
	store, err := files.NewStore(cfg.Scripts.RootDir, int(cfg.Scripts.MaxUploadMB))
	if err != nil {
		log.Fatal().Err(err).Str("root", cfg.Scripts.RootDir).Msg("failed to open scripts root")
	}

	// Host interpreters
	runtimes := runtime.NewRegistry()
	for _, lang := range runtimes.Languages() {
		rt, _ := runtimes.Get(lang)
		if !runtime.Available(rt) {
			log.Warn().Str("language", lang).Str("interpreter", rt.Interpreter()).
				Msg("interpreter not installed, scripts of this kind will fail to start")
		}
	}

	// Initialize database (optional, runs without it for development)
	var db *storage.DB
	if cfg.Database.DSN != "" {
		db, err = storage.New(ctx, cfg.Database.DSN)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, audit logging disabled")
		} else {
			defer db.Close()
		}
	}

	var auditWriter *storage.AuditWriter
	if db != nil {
		auditWriter = storage.NewAuditWriter(db, 10000)
		auditWriter.Start()
		defer auditWriter.Flush(10 * time.Second)
	}

	registry := procman.NewRegistry(runtimes, procman.Options{
		Timeout:   cfg.Scripts.Timeout,
		KillGrace: cfg.Scripts.KillGrace,
		OnTermination: func(info procman.ExecutionInfo, reason procman.TerminationReason) {
			metrics.RecordScriptTermination(info.Kind, string(reason), time.Since(info.StartedAt).Seconds())
			if auditWriter != nil {
				ended := time.Now()
				auditWriter.LogRun(&storage.ScriptRun{
					OwnerID:   info.OwnerID,
					Filename:  info.Filename,
					Kind:      info.Kind,
					PID:       info.PID,
					Status:    string(reason),
					LogPath:   info.LogPath,
					StartedAt: info.StartedAt,
					EndedAt:   &ended,
				})
			}
		},
	})

	sessions := hosting.NewManager(hosting.Options{
		PublicURL:         cfg.Hosting.PublicURL,
		SessionDuration:   cfg.Hosting.SessionDuration,
		AdminDuration:     cfg.Hosting.AdminDuration,
		InactivityTimeout: cfg.Hosting.InactivityTimeout,
		OnTermination: func(ownerID int64, tier hosting.Tier, reason string, lifetime time.Duration) {
			metrics.RecordSessionTermination(tier.String(), reason, lifetime.Seconds())
			if auditWriter != nil {
				auditWriter.LogSession(&storage.SessionEvent{
					OwnerID:   ownerID,
					Tier:      tier.String(),
					Event:     "terminated",
					Reason:    reason,
					CreatedAt: time.Now(),
				})
			}
		},
	})

	if cfg.Sharing.Secret == "" {
		log.Warn().Msg("sharing.secret not set, share links are signed with an empty secret")
	}
	issuer := sharing.NewIssuer(cfg.Sharing.Secret, cfg.Sharing.LinkTTL)

	// Periodic jobs: over-age sweep plus a gauge refresh.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Scripts.SweepSchedule, registry.Sweep); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.Scripts.SweepSchedule).Msg("invalid sweep schedule")
	}
	if _, err := scheduler.AddFunc("@every 30s", func() {
		metrics.ScriptsRunning.Set(float64(registry.Count()))
		counts := sessions.CountByTier()
		for _, tier := range []hosting.Tier{hosting.TierRegular, hosting.TierAdmin, hosting.TierOwner} {
			metrics.SessionsActive.WithLabelValues(tier.String()).Set(float64(counts[tier]))
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("scheduling stats job")
	}
	scheduler.Start()

	server := api.NewServer(cfg, api.Deps{
		Registry: registry,
		Sessions: sessions,
		Store:    store,
		Issuer:   issuer,
		Runtimes: runtimes,
		DB:       db,
		Audit:    auditWriter,
		Metrics:  metrics,
		Tracer:   monitor.NewTracer(),
	})

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		<-scheduler.Stop().Done()
		registry.Shutdown()
		sessions.Shutdown()

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Str("scripts_root", cfg.Scripts.RootDir).
		Dur("script_timeout", cfg.Scripts.Timeout).
		Bool("db_enabled", db != nil).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("server stopped")
}
