package cli

import (
	"testing"

	"github.com/DamOTclese/chatbetween/internal"
	"github.com/spf13/pflag"
)

func newSetFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("set", pflag.ContinueOnError)
	fs.Int("base-port", 0, "")
	fs.Int("chunk-size", 0, "")
	fs.Int("transfer-timeout", 0, "")
	fs.String("download-dir", "", "")
	fs.String("chat-log-dir", "", "")
	fs.Bool("chat-log", true, "")
	fs.String("log-level", "", "")
	return fs
}

func TestApplyChangedFlagsOnlyTouchesChanged(t *testing.T) {
	cfg := &internal.ChatConfig{
		BasePort:  5777,
		ChunkSize: 1024,
		LogLevel:  "info",
	}
	fs := newSetFlagSet()
	if err := fs.Parse([]string{"--base-port=6001"}); err != nil {
		t.Fatal(err)
	}

	if err := applyChangedFlags(cfg, fs, 6001, 0, 0, "", "", true, ""); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if cfg.BasePort != 6001 {
		t.Fatalf("base port = %d, want 6001", cfg.BasePort)
	}
	if cfg.ChunkSize != 1024 || cfg.LogLevel != "info" {
		t.Fatal("untouched fields must keep their values")
	}
}

func TestApplyChangedFlagsValidates(t *testing.T) {
	cfg := &internal.ChatConfig{BasePort: 5777}
	fs := newSetFlagSet()
	if err := fs.Parse([]string{"--chunk-size=0"}); err != nil {
		t.Fatal(err)
	}
	if err := applyChangedFlags(cfg, fs, 0, 0, 0, "", "", true, ""); err == nil {
		t.Fatal("zero chunk size must be rejected")
	}

	fs = newSetFlagSet()
	if err := fs.Parse([]string{"--base-port=70000"}); err != nil {
		t.Fatal(err)
	}
	if err := applyChangedFlags(cfg, fs, 70000, 0, 0, "", "", true, ""); err == nil {
		t.Fatal("out-of-range port must be rejected")
	}
}
