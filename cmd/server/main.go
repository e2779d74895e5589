package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/Chat/internal/adapters/http"
	gateway "github.com/dkeye/Chat/internal/adapters/signal"
	"github.com/dkeye/Chat/internal/app"
	"github.com/dkeye/Chat/internal/app/orch"
	"github.com/dkeye/Chat/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}
	log.Logger = log.With().Str("node", cfg.NodeID).Logger()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	reg := app.NewRegistry()
	fan := app.NewFanout(b.bus, reg, app.SimplePolicy{}, gateway.EncodeEvent, cfg.NodeID)
	fan.SetEvictGrace(2 * cfg.WS.WriteWait)
	o := &orch.Orchestrator{
		Registry: reg,
		Presence: b.presence,
		Fanout:   fan,
		Rooms:    b.rooms,
		Accounts: b.accounts,
		Bans:     b.bans,
		Messages: b.messages,
		Limiter:  b.limiter,
		Options: orch.Options{
			EvictDuplicates: cfg.Presence.EvictDuplicates,
			MaxMessageLen:   cfg.Messages.MaxLength,
			Retry: orch.RetryPolicy{
				MaxTries:        cfg.Retry.MaxTries,
				InitialInterval: cfg.Retry.InitialInterval,
			},
		},
	}
	gw := gateway.NewGateway(o, b.sessions, gateway.Options{
		ReadLimit:  cfg.WS.ReadLimit,
		PingPeriod: cfg.WS.PingPeriod,
		PongWait:   cfg.WS.PongWait,
		WriteWait:  cfg.WS.WriteWait,
		SendBuffer: cfg.WS.SendBuffer,
	})
	janitor := &app.Janitor{Presence: b.presence, Out: fan, Interval: cfg.Presence.JanitorInterval}

	g, gctx := errgroup.WithContext(ctx)
	r := router.SetupRouter(gctx, cfg, router.Deps{Orch: o, Gateway: gw, Sessions: b.sessions})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error { return fan.Run(gctx) })
	g.Go(func() error { return janitor.Run(gctx) })
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("backend", cfg.Backend).Msg("Chat server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})
	return g.Wait()
}
