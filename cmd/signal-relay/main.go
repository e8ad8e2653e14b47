package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/vrrtc/internal/adapters/http"
	wssignal "github.com/dkeye/vrrtc/internal/adapters/signal"
	"github.com/dkeye/vrrtc/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load("signal-relay", os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	relay := wssignal.NewSignalWSController(wssignal.RelayOptions{
		ReadLimit:    cfg.Relay.ReadLimit,
		PingPeriod:   cfg.Relay.PingPeriod,
		SendQueue:    cfg.Relay.SendQueue,
		RateLimit:    cfg.Relay.RateLimit,
		RateInterval: cfg.Relay.RateInterval,
	})

	srv := &http.Server{
		Addr:    cfg.Relay.Listen,
		Handler: router.SetupRelayRouter(ctx, cfg, relay),
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("signal relay started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
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
