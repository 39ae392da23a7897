package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppName != "realtime-docstore" {
		t.Fatalf("unexpected app name %q", cfg.AppName)
	}
	if cfg.DataDir != "./data" {
		t.Fatalf("unexpected data dir %q", cfg.DataDir)
	}
	if cfg.HTTPListenAddr != ":8080" || cfg.MetricsAddr != ":9090" {
		t.Fatalf("unexpected listen addrs %q %q", cfg.HTTPListenAddr, cfg.MetricsAddr)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected shutdown timeout %v", cfg.ShutdownTimeout)
	}
	if cfg.WSHeartbeat != 30*time.Second || cfg.WSSendBuffer != 64 {
		t.Fatalf("unexpected gateway tuning %v %d", cfg.WSHeartbeat, cfg.WSSendBuffer)
	}
	if cfg.DevMode {
		t.Fatal("expected dev mode off by default")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("APP_NAME", "docstore-test")
	t.Setenv("DATA_DIR", "/tmp/docstore")
	t.Setenv("ADMIN_KEY", "adminsecret")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("WS_SEND_BUFFER", "128")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppName != "docstore-test" {
		t.Fatalf("unexpected app name %q", cfg.AppName)
	}
	if cfg.DataDir != "/tmp/docstore" {
		t.Fatalf("unexpected data dir %q", cfg.DataDir)
	}
	if cfg.AdminKey != "adminsecret" {
		t.Fatalf("unexpected admin key %q", cfg.AdminKey)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("unexpected shutdown timeout %v", cfg.ShutdownTimeout)
	}
	if !cfg.DevMode {
		t.Fatal("expected dev mode on")
	}
	if cfg.WSSendBuffer != 128 {
		t.Fatalf("unexpected send buffer %d", cfg.WSSendBuffer)
	}
}

func TestLoadIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("SHUTDOWN_TIMEOUT", "not-a-duration")
	t.Setenv("DEV_MODE", "maybe")
	t.Setenv("WS_SEND_BUFFER", "lots")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("expected fallback timeout, got %v", cfg.ShutdownTimeout)
	}
	if cfg.DevMode {
		t.Fatal("expected fallback dev mode")
	}
	if cfg.WSSendBuffer != 64 {
		t.Fatalf("expected fallback send buffer, got %d", cfg.WSSendBuffer)
	}
}

func TestResourcesDatabaseDir(t *testing.T) {
	resources, err := NewResources(Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("new resources: %v", err)
	}
	defer resources.Close()

	dir := resources.DatabaseDir("app")
	if dir == "" || dir == "app" {
		t.Fatalf("unexpected database dir %q", dir)
	}
	if resources.Settings == nil {
		t.Fatal("expected settings keyspace to be open")
	}
	if err := resources.Settings.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("settings put: %v", err)
	}
}
