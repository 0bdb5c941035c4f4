package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/4sizn/animal-zoom-sub002/internal/adapters/auth"
	router "github.com/4sizn/animal-zoom-sub002/internal/adapters/http"
	"github.com/4sizn/animal-zoom-sub002/internal/adapters/store"
	"github.com/4sizn/animal-zoom-sub002/internal/app"
	"github.com/4sizn/animal-zoom-sub002/internal/app/orch"
	"github.com/4sizn/animal-zoom-sub002/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	db, err := store.Open(cfg.StorePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.StorePath).Msg("failed to open store")
	}
	defer db.Close()

	registry := app.NewRegistry(app.RegistryOptions{
		CodeLength:         cfg.RoomCodeLength,
		CodeAlphabet:       cfg.RoomCodeAlphabet,
		DefaultMax:         cfg.DefaultMaxParticipants,
		MaxMax:             cfg.MaxParticipantsCap,
		WaitingRoomDefault: cfg.WaitingRoomDefault,
	}, nil)
	bindings := app.NewBindings()
	coordinator := orch.New(registry, bindings, db, cfg.GracePeriod)

	reaper := &app.Reaper{
		Registry:    registry,
		Interval:    cfg.ReapInterval,
		IdleTimeout: cfg.IdleTimeout,
	}
	go reaper.Run(ctx)

	verifier := auth.NewVerifier(cfg.Secret)
	r := router.SetupRouter(ctx, cfg, coordinator, verifier, db)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("coordinator server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
