package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadConfigFile_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
owner:
  uid: alice
  alias: Alice
buttplug:
  ws_url: ws://10.0.0.2:12345
engine:
  local_only_brands: [Lovense]
`)
	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	if cfg.Owner.UID != "alice" || cfg.Owner.Alias != "Alice" {
		t.Fatalf("owner got %+v, want alice/Alice", cfg.Owner)
	}
	if cfg.Buttplug.WsURL != "ws://10.0.0.2:12345" {
		t.Fatalf("ws_url got %q", cfg.Buttplug.WsURL)
	}
	if cfg.Buttplug.TimeoutMS != defaultReadTimeoutMS {
		t.Fatalf("timeout_ms got %d, want default %d", cfg.Buttplug.TimeoutMS, defaultReadTimeoutMS)
	}
	if len(cfg.Engine.LocalOnlyBrands) != 1 || cfg.Engine.LocalOnlyBrands[0] != "Lovense" {
		t.Fatalf("local_only_brands got %v", cfg.Engine.LocalOnlyBrands)
	}
}

func TestLoadConfigFile_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "owner:\n  uid: a\n  colour: blue\n")
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatalf("expected unknown field error")
	}
}

func TestLoadConfigFile_RejectsTrailingDocument(t *testing.T) {
	path := writeConfig(t, "owner:\n  uid: a\n---\nowner:\n  uid: b\n")
	_, err := LoadConfigFile(path)
	if err == nil || !strings.Contains(err.Error(), "trailing document") {
		t.Fatalf("got %v, want trailing document error", err)
	}
}

func TestApplyEnv_OverridesFile(t *testing.T) {
	t.Setenv("TOYREMOTE_BUTTPLUG_URL", "wss://intiface.local:443")
	t.Setenv("TOYREMOTE_LOCAL_ONLY_BRANDS", "Lovense,Kiiroo")
	t.Setenv("TOYREMOTE_MAX_STREAM_SAMPLES", "500")

	cfg := DefaultConfig()
	if err := ApplyEnv(&cfg); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Buttplug.WsURL != "wss://intiface.local:443" {
		t.Fatalf("ws_url got %q", cfg.Buttplug.WsURL)
	}
	if got := cfg.Engine.LocalOnlyBrands; len(got) != 2 || got[1] != "Kiiroo" {
		t.Fatalf("local_only_brands got %v, want [Lovense Kiiroo]", got)
	}
	if cfg.Engine.MaxStreamSamples != 500 {
		t.Fatalf("max_stream_samples got %d, want 500", cfg.Engine.MaxStreamSamples)
	}
	// Untouched values keep their defaults.
	if cfg.IPC.SocketPath != defaultSocketPath {
		t.Fatalf("socket path got %q, want %q", cfg.IPC.SocketPath, defaultSocketPath)
	}
}

func TestApplyEnv_BadValue(t *testing.T) {
	t.Setenv("TOYREMOTE_HISTORY_CAPACITY", "lots")
	cfg := DefaultConfig()
	if err := ApplyEnv(&cfg); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFlagOverrides_OnlySetFieldsApply(t *testing.T) {
	cfg := DefaultConfig()
	url := "ws://example:1"
	level := "debug"
	FlagOverrides{ButtplugURL: &url, LogLevel: &level}.Apply(&cfg)

	if cfg.Buttplug.WsURL != url || cfg.Logging.Level != level {
		t.Fatalf("overrides not applied: %+v %+v", cfg.Buttplug, cfg.Logging)
	}
	if cfg.Owner.UID != defaultOwnerUID {
		t.Fatalf("owner got %q, want default", cfg.Owner.UID)
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := map[string]func(*Config){
		"empty owner":       func(c *Config) { c.Owner.UID = " " },
		"http scheme":       func(c *Config) { c.Buttplug.WsURL = "http://x" },
		"zero timeout":      func(c *Config) { c.Buttplug.TimeoutMS = 0 },
		"tail over cap":     func(c *Config) { c.Engine.HistoryTail = c.Engine.HistoryCapacity + 1 },
		"zero stream cap":   func(c *Config) { c.Engine.MaxStreamSamples = 0 },
		"empty socket":      func(c *Config) { c.IPC.SocketPath = "" },
		"relative ws path":  func(c *Config) { c.StateWS.Path = "state" },
		"bad log level":     func(c *Config) { c.Logging.Level = "loud" },
		"bad log format":    func(c *Config) { c.Logging.Format = "xml" },
		"empty pattern dir": func(c *Config) { c.Patterns.Dir = "" },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadConfig_Precedence(t *testing.T) {
	path := writeConfig(t, "owner:\n  uid: from-file\nlogging:\n  level: warn\n")
	t.Setenv("TOYREMOTE_OWNER_UID", "from-env")
	flagOwner := "from-flag"

	cfg, err := loadConfig(path, FlagOverrides{OwnerUID: &flagOwner})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Owner.UID != "from-flag" {
		t.Fatalf("owner got %q, want from-flag", cfg.Owner.UID)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("log level got %q, want warn", cfg.Logging.Level)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandPath("~/x/y"); got != filepath.Join(home, "x/y") {
		t.Fatalf("ExpandPath got %q", got)
	}
	if got := ExpandPath("/abs"); got != "/abs" {
		t.Fatalf("ExpandPath got %q, want /abs", got)
	}
}
