package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/padgrid/padgrid-backend/internal/audio"
	"github.com/padgrid/padgrid-backend/internal/client"
	"github.com/padgrid/padgrid-backend/internal/config"
	"github.com/padgrid/padgrid-backend/internal/models"
	"github.com/padgrid/padgrid-backend/internal/renderer"
)

func main() {
	var (
		brokerURL = flag.String("broker", "ws://127.0.0.1:5174/ws", "broker websocket URL")
		roomID    = flag.String("room", "", "room to join (required)")
		sampleDir = flag.String("samples", "", "directory of .wav samples (default from config)")
	)
	flag.Parse()

	cfg := config.Load()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if *roomID == "" {
		fmt.Fprintln(os.Stderr, "usage: renderer -room <id> [-broker url] [-samples dir]")
		os.Exit(2)
	}
	dir := *sampleDir
	if dir == "" {
		dir = cfg.SampleDir
	}

	engine := audio.NewEngine(audio.Options{
		SampleRate:   cfg.SampleRate,
		MaxPolyphony: cfg.MaxPolyphony,
		AttackMS:     cfg.AttackMS,
		ReleaseMS:    cfg.ReleaseMS,
		Stealing:     cfg.VoiceStealing,
	}, logger)
	if err := engine.Start(); err != nil {
		logger.Fatal().Err(err).Msg("audio engine start")
	}
	defer engine.Close()

	transport := client.New(client.Options{
		URL:               *brokerURL,
		RoomID:            *roomID,
		Role:              models.RoleRenderer,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectInitial:  cfg.ReconnectInitial,
		ReconnectMax:      cfg.ReconnectMax,
	}, logger)

	r := renderer.New(engine, transport, logger)
	if err := r.LoadDirectory(dir, cfg.SampleRate); err != nil {
		logger.Fatal().Err(err).Msg("load samples")
	}
	r.Bind(transport)

	transport.Start()
	defer transport.Close()

	// announce the initial mappings so controllers already in the room
	// converge without asking
	r.PublishState()

	logger.Info().Str("room", *roomID).Str("broker", *brokerURL).Msg("renderer running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	r.StopAll()
	logger.Info().Msg("renderer stopped")
}
