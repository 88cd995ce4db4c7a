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

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/padgrid/padgrid-backend/internal/api/rooms"
	"github.com/padgrid/padgrid-backend/internal/config"
	"github.com/padgrid/padgrid-backend/internal/middleware"
	"github.com/padgrid/padgrid-backend/internal/storage"
	"github.com/padgrid/padgrid-backend/internal/storage/memory"
	"github.com/padgrid/padgrid-backend/internal/storage/valkey"
	"github.com/padgrid/padgrid-backend/internal/ws"
)

func main() {
	cfg := config.Load()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	var store storage.RoomStore
	if cfg.ValkeyAddr != "" {
		vs, err := valkey.NewRoomStore(cfg.ValkeyAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("valkey room store")
		}
		defer vs.Close()
		store = vs
		logger.Info().Str("addr", cfg.ValkeyAddr).Msg("room snapshots in valkey")
	} else {
		store = memory.NewRoomStore()
	}

	hub := ws.NewHub(store, cfg.HeartbeatTimeout, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go hub.Run(ctx)

	router := mux.NewRouter()
	rooms.RegisterRoutes(router, &rooms.Handler{Hub: hub, Log: logger})
	router.Use(middleware.CORS(cfg.AllowedOrigin))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WSPort),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Int("port", cfg.WSPort).Msg("broker listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("broker server")
	}
	logger.Info().Msg("broker stopped")
}
