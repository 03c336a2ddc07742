package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/arialgardner/techno-canvas/internal/pgstore"
	"github.com/arialgardner/techno-canvas/internal/redistore"
	"github.com/arialgardner/techno-canvas/internal/relay"
	"github.com/arialgardner/techno-canvas/internal/remote"
)

func main() {
	logger := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ephemeral store: Redis when configured, in-memory otherwise. The
	// in-memory store is single-node only.
	var ephemeral remote.EphemeralStore

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		store, err := redistore.NewFromAddr(ctx, addr)
		if err != nil {
			logger.Fatal().Err(err).Str("addr", addr).Msg("connect redis")
		}
		defer store.Close()

		ephemeral = store

		logger.Info().Str("addr", addr).Msg("using redis ephemeral store")
	} else {
		ephemeral = remote.NewMemoryEphemeralStore()

		logger.Info().Msg("using in-memory ephemeral store")
	}

	// Document store: Postgres when configured. The relay itself only needs
	// the ephemeral store, but a configured database is folded into the
	// health check so orchestrators see storage outages.
	var health func(ctx context.Context) error

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		docs, err := pgstore.New(ctx, dsn)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect postgres")
		}
		defer docs.Close()

		if err := docs.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("apply schema")
		}

		health = docs.Ping

		logger.Info().Msg("using postgres document store")
	}

	server := relay.NewServer(relay.Config{
		Store:       ephemeral,
		Logger:      logger,
		HealthCheck: health,
	})

	addr := os.Getenv("CANVAS_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("starting relay server")

		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel

	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}

	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
