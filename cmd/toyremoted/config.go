package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"toyremote/remote"
)

// Config is the top-level configuration for the toyremoted daemon.
//
// Precedence, lowest first: DefaultConfig, the YAML file, TOYREMOTE_* environment
// variables, then command-line flags. Validate runs last.
type Config struct {
	// Owner is the local user whose devices this daemon drives.
	Owner OwnerConfig `yaml:"owner"`

	// Buttplug/Intiface server used for actuation and device discovery
	Buttplug ButtplugConfig `yaml:"buttplug"`

	// Session engine tuning
	Engine EngineConfig `yaml:"engine"`

	// Pattern library
	Patterns PatternsConfig `yaml:"patterns"`

	IPC IPCConfig `yaml:"ipc"`

	// State websocket for UIs
	StateWS StateWSConfig `yaml:"state_ws"`

	Logging LoggingConfig `yaml:"logging"`
}

type OwnerConfig struct {
	UID   string `yaml:"uid" env:"TOYREMOTE_OWNER_UID"`
	Alias string `yaml:"alias" env:"TOYREMOTE_OWNER_ALIAS"`
}

type ButtplugConfig struct {
	WsURL         string `yaml:"ws_url" env:"TOYREMOTE_BUTTPLUG_URL"`
	ClientName    string `yaml:"client_name" env:"TOYREMOTE_BUTTPLUG_CLIENT_NAME"`
	TimeoutMS     int    `yaml:"timeout_ms" env:"TOYREMOTE_BUTTPLUG_TIMEOUT_MS"`
	OutboundQueue int    `yaml:"outbound_queue" env:"TOYREMOTE_BUTTPLUG_OUTBOUND_QUEUE"`
	Scan          bool   `yaml:"scan" env:"TOYREMOTE_BUTTPLUG_SCAN"`

	// Discover browses mDNS for an Intiface engine before each connect and
	// falls back to WsURL when none answers within DiscoverTimeoutMS.
	Discover          bool `yaml:"discover" env:"TOYREMOTE_BUTTPLUG_DISCOVER"`
	DiscoverTimeoutMS int  `yaml:"discover_timeout_ms" env:"TOYREMOTE_BUTTPLUG_DISCOVER_TIMEOUT_MS"`
}

type EngineConfig struct {
	HistoryCapacity     int `yaml:"history_capacity" env:"TOYREMOTE_HISTORY_CAPACITY"`
	HistoryTail         int `yaml:"history_tail" env:"TOYREMOTE_HISTORY_TAIL"`
	MaxStreamSamples    int `yaml:"max_stream_samples" env:"TOYREMOTE_MAX_STREAM_SAMPLES"`
	MaxRecordingSamples int `yaml:"max_recording_samples" env:"TOYREMOTE_MAX_RECORDING_SAMPLES"`

	// LocalOnlyBrands lists device brands that remote enactors may never drive.
	LocalOnlyBrands []string `yaml:"local_only_brands,omitempty" env:"TOYREMOTE_LOCAL_ONLY_BRANDS" envSeparator:","`
}

type PatternsConfig struct {
	Dir string `yaml:"dir" env:"TOYREMOTE_PATTERNS_DIR"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path" env:"TOYREMOTE_IPC_SOCKET"`

	// AllowAnyUID accepts IPC peers running as another user.
	AllowAnyUID bool `yaml:"allow_any_uid" env:"TOYREMOTE_IPC_ALLOW_ANY_UID"`
}

type StateWSConfig struct {
	// Listen is the HTTP listen address; empty disables the state websocket.
	Listen string `yaml:"listen" env:"TOYREMOTE_STATE_WS_LISTEN"`
	Path   string `yaml:"path" env:"TOYREMOTE_STATE_WS_PATH"`

	// AllowControl lets connected clients send event envelopes, not just watch.
	AllowControl bool `yaml:"allow_control" env:"TOYREMOTE_STATE_WS_ALLOW_CONTROL"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"TOYREMOTE_LOG_LEVEL"`
	Format string `yaml:"format" env:"TOYREMOTE_LOG_FORMAT"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Owner: OwnerConfig{
			UID: defaultOwnerUID,
		},
		Buttplug: ButtplugConfig{
			WsURL:         defaultButtplugURL,
			ClientName:    defaultButtplugClient,
			TimeoutMS:     defaultReadTimeoutMS,
			OutboundQueue: defaultOutboundQueue,
			Scan:          true,

			DiscoverTimeoutMS: defaultDiscoverTimeoutMS,
		},
		Engine: EngineConfig{
			HistoryCapacity:     remote.DefaultHistoryCapacity,
			HistoryTail:         remote.DefaultHistoryTail,
			MaxStreamSamples:    remote.DefaultMaxStreamSamples,
			MaxRecordingSamples: remote.DefaultMaxRecordingSamples,
		},
		Patterns: PatternsConfig{
			Dir: defaultPatternsDir,
		},
		IPC: IPCConfig{
			SocketPath: defaultSocketPath,
		},
		StateWS: StateWSConfig{
			Listen: "127.0.0.1:8091",
			Path:   defaultStateWSPath,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
// Unknown fields are rejected via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// ApplyEnv overlays TOYREMOTE_* environment variables. Unset variables leave the
// current value alone.
func ApplyEnv(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// FlagOverrides holds the flags the user actually set. A nil pointer means "not set".
type FlagOverrides struct {
	ButtplugURL   *string
	Discover      *bool
	IPCSocketPath *string
	StateWSListen *string
	PatternsDir   *string
	OwnerUID      *string
	LogLevel      *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.ButtplugURL != nil {
		cfg.Buttplug.WsURL = *o.ButtplugURL
	}
	if o.Discover != nil {
		cfg.Buttplug.Discover = *o.Discover
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.StateWSListen != nil {
		cfg.StateWS.Listen = *o.StateWSListen
	}
	if o.PatternsDir != nil {
		cfg.Patterns.Dir = *o.PatternsDir
	}
	if o.OwnerUID != nil {
		cfg.Owner.UID = *o.OwnerUID
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults, file, env and flags are applied.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Owner.UID) == "" {
		return errors.New("owner.uid must not be empty")
	}

	// Buttplug
	if c.Buttplug.WsURL == "" {
		return errors.New("buttplug.ws_url must not be empty")
	}
	u, err := url.Parse(c.Buttplug.WsURL)
	if err != nil {
		return fmt.Errorf("buttplug.ws_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("buttplug.ws_url must use ws:// or wss://, got %q", u.Scheme)
	}
	if c.Buttplug.TimeoutMS <= 0 {
		return errors.New("buttplug.timeout_ms must be > 0")
	}
	if c.Buttplug.Discover && c.Buttplug.DiscoverTimeoutMS <= 0 {
		return errors.New("buttplug.discover_timeout_ms must be > 0 when discover is on")
	}
	if c.Buttplug.OutboundQueue <= 0 {
		return errors.New("buttplug.outbound_queue must be > 0")
	}

	// Engine
	if c.Engine.HistoryCapacity <= 0 {
		return errors.New("engine.history_capacity must be > 0")
	}
	if c.Engine.HistoryTail <= 0 || c.Engine.HistoryTail > c.Engine.HistoryCapacity {
		return errors.New("engine.history_tail must be between 1 and engine.history_capacity")
	}
	if c.Engine.MaxStreamSamples <= 0 {
		return errors.New("engine.max_stream_samples must be > 0")
	}
	if c.Engine.MaxRecordingSamples <= 0 {
		return errors.New("engine.max_recording_samples must be > 0")
	}

	if c.Patterns.Dir == "" {
		return errors.New("patterns.dir must not be empty")
	}
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.StateWS.Listen != "" && !strings.HasPrefix(c.StateWS.Path, "/") {
		return errors.New("state_ws.path must start with /")
	}

	// Logging
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be %q or %q", "text", "json")
	}

	return nil
}

// HistoryLimits converts the engine section into core history limits.
func (c *Config) HistoryLimits() remote.HistoryLimits {
	return remote.HistoryLimits{Capacity: c.Engine.HistoryCapacity, Tail: c.Engine.HistoryTail}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
