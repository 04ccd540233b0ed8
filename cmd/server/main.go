package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	handler "github.com/x18ops/signaling/internal/adapter/driving/http"
	"github.com/x18ops/signaling/internal/config"
	"github.com/x18ops/signaling/internal/core/service"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	w := zerolog.ConsoleWriter{Out: os.Stdout}
	l := zerolog.New(w).With().Timestamp().Caller().Logger()
	zlog.Logger = l

	cfg, err := config.Load(*configPath)
	if err != nil {
		l.Fatal().Err(err).Msg("Failed to load config")
	}

	registry := service.NewRegistry()
	rooms := service.NewRooms(registry)
	router := service.NewRouter(registry, rooms, nil)
	supervisor := service.NewSupervisor(registry, rooms, router)

	h := handler.NewHandler(supervisor, cfg.Transport)

	srv := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: h.NewRouter(),
	}

	go func() {
		l.Info().Str("listen", cfg.Server.Listen).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}

	supervisor.Shutdown()
	l.Info().Msg("Server exited")
}
