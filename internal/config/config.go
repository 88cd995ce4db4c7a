package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/padgrid/padgrid-backend/internal/audio"
)

// Config carries the settings of both domains. Values come from the
// environment (a .env file is honored when present) and fall back to the
// documented defaults.
type Config struct {
	// broker
	WSPort           int
	HeartbeatTimeout time.Duration
	ValkeyAddr       string // empty = in-memory room snapshots
	AllowedOrigin    string

	// client transport
	HeartbeatInterval time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration

	// audio
	SampleRate    int
	MaxPolyphony  int
	AttackMS      float64
	ReleaseMS     float64
	VoiceStealing audio.StealPolicy
	SampleDir     string
}

// Load reads the environment. Unset or unparseable variables keep their
// defaults; configuration never fails startup.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		WSPort:           envInt("PADGRID_WS_PORT", 5174),
		HeartbeatTimeout: envMillis("PADGRID_HEARTBEAT_TIMEOUT_MS", 30000),
		ValkeyAddr:       os.Getenv("PADGRID_VALKEY_ADDR"),
		AllowedOrigin:    envString("PADGRID_ALLOWED_ORIGIN", "*"),

		HeartbeatInterval: envMillis("PADGRID_HEARTBEAT_INTERVAL_MS", 25000),
		ReconnectInitial:  envMillis("PADGRID_RECONNECT_INITIAL_MS", 1000),
		ReconnectMax:      envMillis("PADGRID_RECONNECT_MAX_MS", 30000),

		SampleRate:    envInt("PADGRID_SAMPLE_RATE", audio.DefaultSampleRate),
		MaxPolyphony:  envInt("PADGRID_MAX_POLYPHONY", audio.DefaultMaxPolyphony),
		AttackMS:      envFloat("PADGRID_ATTACK_MS", audio.DefaultAttackMS),
		ReleaseMS:     envFloat("PADGRID_RELEASE_MS", audio.DefaultReleaseMS),
		VoiceStealing: stealPolicy(os.Getenv("PADGRID_VOICE_STEALING")),
		SampleDir:     envString("PADGRID_SAMPLE_DIR", "samples"),
	}
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envMillis(key string, defMS int) time.Duration {
	return time.Duration(envInt(key, defMS)) * time.Millisecond
}

func stealPolicy(v string) audio.StealPolicy {
	if v == string(audio.StealQuietest) {
		return audio.StealQuietest
	}
	return audio.StealOldest
}
