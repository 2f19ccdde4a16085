package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	router "github.com/dkeye/Huddle/internal/adapters/http"
	"github.com/dkeye/Huddle/internal/adapters/rtc"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/hub"
	"github.com/dkeye/Huddle/internal/recorder"
	"github.com/dkeye/Huddle/internal/registry"
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
		log.Error().Err(err).Msg("failed to load config")
	}

	var store registry.Store
	switch cfg.Storage {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store = registry.NewRedisStore(client, cfg.EnforceCapacity)
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis registry")
	default:
		store, err = registry.NewFileStore(afero.NewOsFs(), cfg.DataDir, cfg.EnforceCapacity)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open file registry")
		}
	}

	h := hub.New(store)
	rec := recorder.NewManager(recorder.Options{
		BaseDir: cfg.RecordingsDir,
		NewPeer: rtc.PeerFactory(rtc.DefaultConfig()),
	})

	r := router.SetupRouter(ctx, cfg, store, h, rec)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Huddle server started")
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
