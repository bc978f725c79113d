package internal

import (
	"path/filepath"
	"testing"
)

func TestLoadChatConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := LoadChatConfig(path)
	if err != nil {
		t.Fatalf("load with absent file: %v", err)
	}
	if cfg.BasePort != 5777 {
		t.Fatalf("base_port default = %d, want 5777", cfg.BasePort)
	}
	if cfg.ChunkSize != 1024 {
		t.Fatalf("chunk_size default = %d, want 1024", cfg.ChunkSize)
	}
	if cfg.TransferTimeoutSeconds != 10 {
		t.Fatalf("transfer_timeout_seconds default = %d, want 10", cfg.TransferTimeoutSeconds)
	}
	if cfg.WriteRetryLimit != 20 || cfg.NameProbeLimit != 20 {
		t.Fatalf("retry/probe defaults = %d/%d, want 20/20", cfg.WriteRetryLimit, cfg.NameProbeLimit)
	}
	if !cfg.ChatLogEnabled {
		t.Fatal("chat log must default to enabled")
	}
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := LoadChatConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.BasePort = 6001
	cfg.ChunkSize = 512
	cfg.LogLevel = "debug"

	saved, err := cfg.Save(path)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved != path {
		t.Fatalf("saved to %s, want %s", saved, path)
	}

	reloaded, err := LoadChatConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.BasePort != 6001 {
		t.Fatalf("base_port = %d after reload, want 6001", reloaded.BasePort)
	}
	if reloaded.ChunkSize != 512 {
		t.Fatalf("chunk_size = %d after reload, want 512", reloaded.ChunkSize)
	}
	if reloaded.LogLevel != "debug" {
		t.Fatalf("log_level = %q after reload", reloaded.LogLevel)
	}
}

func TestConfigureLoggerRejectsUnknownLevel(t *testing.T) {
	if err := ConfigureLogger("verbose-ish"); err == nil {
		t.Fatal("unknown level must be reported")
	}
	if err := ConfigureLogger("debug"); err != nil {
		t.Fatalf("valid level rejected: %v", err)
	}
	if err := ConfigureLogger(""); err != nil {
		t.Fatalf("empty level must default quietly: %v", err)
	}
	SetLogLevel(LevelInfo)
}
