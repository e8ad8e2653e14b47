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
	"github.com/dkeye/vrrtc/internal/adapters/render"
	"github.com/dkeye/vrrtc/internal/adapters/rooms"
	"github.com/dkeye/vrrtc/internal/adapters/rtc"
	wssignal "github.com/dkeye/vrrtc/internal/adapters/signal"
	"github.com/dkeye/vrrtc/internal/adapters/whep"
	"github.com/dkeye/vrrtc/internal/app/session"
	"github.com/dkeye/vrrtc/internal/config"
	"github.com/dkeye/vrrtc/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load("vrrtc", os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctl, err := buildController(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build session controller")
	}
	defer ctl.Close()

	var srv *http.Server
	if cfg.HTTP.Listen != "" {
		var lister router.RoomLister
		if cfg.Session.RoomsAPI != "" {
			lister = rooms.New(cfg.Session.RoomsAPI, cfg.Session.RoomsPath, 0)
		}
		srv = &http.Server{
			Addr:    cfg.HTTP.Listen,
			Handler: router.SetupControlRouter(cfg, ctl, lister),
		}
		go func() {
			log.Info().Str("addr", srv.Addr).Msg("control API started")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("server error")
				cancel()
			}
		}()
	}

	// Without a control API there is nothing else to trigger a start.
	if cfg.Session.Autoplay || srv == nil {
		mode, err := domain.ParseMode(cfg.Session.Mode)
		if err != nil {
			log.Fatal().Err(err).Msg("bad session mode")
		}
		sc := session.StartConfig{
			Mode:     mode,
			Address:  cfg.Session.Address,
			Autoplay: cfg.Session.Autoplay,
			Debug:    cfg.Session.Debug,
		}
		if err := ctl.Start(ctx, sc); err != nil {
			log.Fatal().Err(err).Msg("failed to start session")
		}
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
	}
	if err := ctl.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("session stop")
	}
	log.Info().Msg("Receiver exited gracefully")
}

func buildController(cfg *config.Config) (*session.Controller, error) {
	settings := rtc.DefaultSettings()
	settings.ICEServers = settings.ICEServers[:0]
	for _, s := range cfg.RTC.ICEServers {
		settings.ICEServers = append(settings.ICEServers, rtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	settings.PortMin, settings.PortMax = cfg.RTC.PortMin, cfg.RTC.PortMax
	settings.PLIInterval = cfg.RTC.PLIInterval
	settings.GatherTimeout = cfg.RTC.GatherTimeout
	if cfg.Session.Debug {
		settings.LogLevel = zerolog.DebugLevel
	}

	api, err := rtc.NewAPI(settings)
	if err != nil {
		return nil, err
	}
	targets, err := render.NewFactory(cfg.Render.Target, cfg.Render.Dir)
	if err != nil {
		return nil, err
	}

	hooks := session.Hooks{
		OnStateChange: func(s domain.State) {
			log.Info().Str("module", "main").Str("state", s.String()).Msg("session state")
		},
		OnError: func(err error) {
			log.Error().Str("module", "main").Err(err).Msg("session error")
		},
		OnNeedsResume: func(h domain.SinkHandle) {
			log.Warn().Str("module", "main").Str("sink", string(h)).
				Msg("playback blocked, POST /api/sinks/" + string(h) + "/resume to retry")
		},
	}
	return session.New(session.Deps{
		Media:   rtc.NewFactory(api, settings),
		Signal:  wssignal.NewDialer(wssignal.DefaultClientOptions()),
		Egress:  whep.NewFactory(whep.Options{Token: cfg.Session.Token}),
		Targets: targets,
	}, hooks), nil
}
