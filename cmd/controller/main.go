package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/padgrid/padgrid-backend/internal/client"
	"github.com/padgrid/padgrid-backend/internal/config"
	"github.com/padgrid/padgrid-backend/internal/models"
)

// A terminal pad surface: type a pad number to trigger it on the room's
// renderer. Input while the broker is down is queued and flushed on
// reconnect.
func main() {
	var (
		brokerURL = flag.String("broker", "ws://127.0.0.1:5174/ws", "broker websocket URL")
		roomID    = flag.String("room", "", "room to join (required)")
	)
	flag.Parse()

	cfg := config.Load()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if *roomID == "" {
		fmt.Fprintln(os.Stderr, "usage: controller -room <id> [-broker url]")
		os.Exit(2)
	}

	transport := client.New(client.Options{
		URL:               *brokerURL,
		RoomID:            *roomID,
		Role:              models.RoleController,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ReconnectInitial:  cfg.ReconnectInitial,
		ReconnectMax:      cfg.ReconnectMax,
	}, logger)

	transport.OnMessage(models.TypeSyncState, func(env *models.Envelope) {
		fmt.Printf("room state: tempo=%d pads=%v\n", env.Tempo, env.Mappings)
	})
	transport.OnMessage(models.TypeError, func(env *models.Envelope) {
		fmt.Printf("broker: %s\n", env.Message)
	})

	transport.Start()
	defer transport.Close()

	fmt.Printf("joined %s as controller; enter pad 0-%d, 't <bpm>' for tempo, 'q' to quit\n",
		*roomID, models.PadCount-1)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "q" || line == "quit":
			return
		case strings.HasPrefix(line, "t "):
			bpm, err := strconv.Atoi(strings.TrimSpace(line[2:]))
			if err != nil || bpm < models.MinTempo || bpm > models.MaxTempo {
				fmt.Printf("tempo must be %d-%d\n", models.MinTempo, models.MaxTempo)
				continue
			}
			transport.Send(&models.Envelope{Type: models.TypeTempoChange, Tempo: bpm})
		default:
			pad, err := strconv.Atoi(line)
			if err != nil || pad < 0 || pad >= models.PadCount {
				continue
			}
			transport.Send(&models.Envelope{Type: models.TypePadHit, PadIndex: &pad})
		}
	}
}
