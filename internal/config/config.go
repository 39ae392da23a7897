package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents the application configuration sourced from the environment.
type Config struct {
	AppName         string
	DataDir         string
	HTTPListenAddr  string
	MetricsAddr     string
	AdminKey        string
	ShutdownTimeout time.Duration
	OTLPEndpoint    string
	DevMode         bool

	WSHeartbeat  time.Duration
	WSSendBuffer int
}

// Load reads configuration from the environment while applying sensible defaults
// for local development.
func Load() (Config, error) {
	cfg := Config{
		AppName:         getEnv("APP_NAME", "realtime-docstore"),
		DataDir:         getEnv("DATA_DIR", "./data"),
		HTTPListenAddr:  getEnv("HTTP_LISTEN_ADDR", ":8080"),
		MetricsAddr:     getEnv("METRICS_LISTEN_ADDR", ":9090"),
		AdminKey:        os.Getenv("ADMIN_KEY"),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		DevMode:         getBool("DEV_MODE", false),
		WSHeartbeat:     getDuration("WS_HEARTBEAT_INTERVAL", 30*time.Second),
		WSSendBuffer:    getInt("WS_SEND_BUFFER", 64),
	}

	if cfg.DataDir == "" {
		return Config{}, fmt.Errorf("data directory must be provided")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
