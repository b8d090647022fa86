// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ChunkHeuristic selects how message envelopes without explicit boundary
// flags are classified.
type ChunkHeuristic string

const (
	// ChunkHeuristicAuto applies the length-based fallback: short text
	// while a send is in flight is treated as a chunk.
	ChunkHeuristicAuto ChunkHeuristic = "auto"
	// ChunkHeuristicChunk treats every unflagged message as a chunk.
	ChunkHeuristicChunk ChunkHeuristic = "chunk"
	// ChunkHeuristicComplete treats every unflagged message as complete.
	ChunkHeuristicComplete ChunkHeuristic = "complete"
)

// Config holds all application configuration.
type Config struct {
	BackendURL   string
	DBPath       string
	IdentityPath string

	ReconnectMaxAttempts int
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	HandshakeTimeout     time.Duration
	KeepaliveInterval    time.Duration

	ChunkHeuristic ChunkHeuristic
	ChunkThreshold int

	StaleToolAfter time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		BackendURL:   getEnv("PARLEY_BACKEND_URL", "ws://localhost:8080/ws/chat"),
		DBPath:       getEnv("PARLEY_DB_PATH", "./data/parley.db"),
		IdentityPath: getEnv("PARLEY_IDENTITY_PATH", "./data/identity"),

		ReconnectMaxAttempts: getEnvInt("PARLEY_RECONNECT_MAX_ATTEMPTS", 8),
		ReconnectBase:        getEnvDuration("PARLEY_RECONNECT_BASE", 500*time.Millisecond),
		ReconnectCap:         getEnvDuration("PARLEY_RECONNECT_CAP", 30*time.Second),
		HandshakeTimeout:     getEnvDuration("PARLEY_HANDSHAKE_TIMEOUT", 10*time.Second),
		KeepaliveInterval:    getEnvDuration("PARLEY_KEEPALIVE_INTERVAL", 30*time.Second),

		ChunkHeuristic: ChunkHeuristic(getEnv("PARLEY_CHUNK_HEURISTIC", string(ChunkHeuristicAuto))),
		ChunkThreshold: getEnvInt("PARLEY_CHUNK_THRESHOLD", 50),

		StaleToolAfter: getEnvDuration("PARLEY_STALE_TOOL_AFTER", 5*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("PARLEY_BACKEND_URL cannot be empty")
	}
	if !strings.HasPrefix(c.BackendURL, "ws://") && !strings.HasPrefix(c.BackendURL, "wss://") {
		return fmt.Errorf("PARLEY_BACKEND_URL must be a ws:// or wss:// URL")
	}
	if c.DBPath == "" {
		return fmt.Errorf("PARLEY_DB_PATH cannot be empty")
	}
	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("PARLEY_RECONNECT_MAX_ATTEMPTS must be >= 0")
	}
	if c.ReconnectBase <= 0 || c.ReconnectCap < c.ReconnectBase {
		return fmt.Errorf("reconnect backoff bounds are inconsistent")
	}
	switch c.ChunkHeuristic {
	case ChunkHeuristicAuto, ChunkHeuristicChunk, ChunkHeuristicComplete:
	default:
		return fmt.Errorf("PARLEY_CHUNK_HEURISTIC must be auto, chunk, or complete")
	}
	if c.ChunkThreshold <= 0 {
		return fmt.Errorf("PARLEY_CHUNK_THRESHOLD must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
