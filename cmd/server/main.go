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

	router "github.com/dkeye/voiceroom/internal/adapters/http"
	"github.com/dkeye/voiceroom/internal/adapters/store"
	"github.com/dkeye/voiceroom/internal/app"
	"github.com/dkeye/voiceroom/internal/app/orch"
	"github.com/dkeye/voiceroom/internal/config"
	"github.com/dkeye/voiceroom/internal/core"
	"github.com/dkeye/voiceroom/internal/domain"
)

// documentStore is what the server needs from a store driver.
type documentStore interface {
	app.Store
	core.ProfileSource
	core.RoomConfigSource
	core.MessageSource
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Logger first so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	docs, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	mirror := app.NewMirror(docs, app.MirrorOptions{
		Workers:      cfg.Mirror.Workers,
		QueueSize:    cfg.Mirror.QueueSize,
		Retries:      cfg.Mirror.Retries,
		Timeout:      cfg.Store.Timeout,
		KeepMessages: cfg.Room.HistorySize,
	})

	manager := app.NewRoomManager(docs, core.RoomOptions{
		StageSlots:  cfg.Room.StageSlots,
		HistorySize: cfg.Room.HistorySize,
		ChatMaxLen:  cfg.Room.ChatMaxLen,
		XPPerChat:   cfg.Room.XPPerChat,
		Persister:   mirror,
	}, cfg.Store.Timeout)
	reg := app.NewRegistry()

	o := &orch.Orchestrator{
		Registry:     reg,
		Rooms:        manager,
		Policy:       app.SimplePolicy{},
		Relay:        app.NewRelay(reg),
		Profiles:     docs,
		Mirror:       mirror,
		StoreTimeout: cfg.Store.Timeout,
		History:      docs,
	}
	manager.SetBackpressureHandler(o.OnBackpressure)

	r := router.SetupRouter(ctx, cfg, o)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mirror.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Voice server started")
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
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Server stopped with error")
		return
	}
	log.Info().Msg("Server exited gracefully")
}

func openStore(ctx context.Context, cfg config.StoreConfig) (documentStore, func(), error) {
	switch cfg.Driver {
	case "redis":
		s := store.NewRedis(store.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
		if err := s.Ping(pingCtx); err != nil {
			if !errors.Is(err, domain.ErrTransientIO) {
				return nil, nil, err
			}
			// rooms fall back to defaults until redis is reachable
			log.Warn().Err(err).Str("module", "main").Str("addr", cfg.RedisAddr).Msg("redis not reachable yet")
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return store.NewMemory(), func() {}, nil
	}
}
