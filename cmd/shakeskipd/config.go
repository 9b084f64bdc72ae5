package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"shakeskip/internal/camilladsp"
	"shakeskip/internal/settings"
	"shakeskip/internal/shake"
	"shakeskip/internal/skip"
)

// Config is the top-level YAML configuration for shakeskipd.
//
// Defaults, file and flag overrides are layered in that order; Validate runs
// last so the rest of the daemon can assume a well-formed config.
type Config struct {
	Sensor     SensorConfig     `yaml:"sensor"`
	Shake      ShakeConfig      `yaml:"shake"`
	Skip       SkipConfig       `yaml:"skip"`
	Transport  TransportConfig  `yaml:"transport"`
	CamillaDSP CamillaDSPConfig `yaml:"camilladsp"`
	Settings   SettingsConfig   `yaml:"settings"`
	IPC        IPCConfig        `yaml:"ipc"`
	API        APIConfig        `yaml:"api"`
	StateWS    StateWSConfig    `yaml:"state_ws"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// Sensor kinds.
const (
	SensorEvdev  = "evdev"
	SensorInject = "inject" // samples only arrive over IPC
	SensorNone   = "none"
)

type SensorConfig struct {
	Kind string `yaml:"kind"`

	// Device is the event device; empty means discover by NameHint.
	Device   string  `yaml:"device,omitempty"`
	NameHint string  `yaml:"name_hint"`
	Scale    float64 `yaml:"scale"`
}

type ShakeConfig struct {
	DebounceMS    int `yaml:"debounce_ms"`
	ShakingHoldMS int `yaml:"shaking_hold_ms"`
}

type SkipConfig struct {
	SeekDelayMS   int       `yaml:"seek_delay_ms"`
	RampStepMS    int       `yaml:"ramp_step_ms"`
	RampFractions []float64 `yaml:"ramp_fractions"`
	MinOffsetMS   int       `yaml:"min_offset_ms"`
	MaxOffsetMS   int       `yaml:"max_offset_ms"`
}

// Transport kinds.
const (
	TransportMock  = "mock"
	TransportLocal = "local"
)

// Volume outputs for the local transport.
const (
	OutputSoftware   = "software"
	OutputCamillaDSP = "camilladsp"
)

type TransportConfig struct {
	Kind string `yaml:"kind"`

	// Local player. File is a single-item queue; Playlist entries follow it.
	File       string   `yaml:"file,omitempty"`
	Playlist   []string `yaml:"playlist,omitempty"`
	StartIndex int      `yaml:"start_index"`
	SampleRate int      `yaml:"sample_rate"`
	BufferMS   int      `yaml:"buffer_ms"`
	Output     string   `yaml:"output"`

	// Mock player.
	MockDurationMS int `yaml:"mock_duration_ms"`

	InitialVolume float64 `yaml:"initial_volume"`
}

type CamillaDSPConfig struct {
	WsURL           string  `yaml:"ws_url"`
	TimeoutMS       int     `yaml:"timeout_ms"`
	ConnectAttempts int     `yaml:"connect_attempts"`
	MinDB           float64 `yaml:"min_db"`
	MaxDB           float64 `yaml:"max_db"`
}

// Settings stores.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type SettingsConfig struct {
	Store       string            `yaml:"store"`
	RedisAddr   string            `yaml:"redis_addr"`
	RedisDB     int               `yaml:"redis_db"`
	RedisPrefix string            `yaml:"redis_prefix"`
	Initial     settings.Settings `yaml:"initial"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type StateWSConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Listen     string `yaml:"listen"`
	Path       string `yaml:"path"`
	CoalesceMS int    `yaml:"coalesce_ms"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	sk := skip.DefaultConfig()
	dsp := camilladsp.DefaultConfig()
	return Config{
		Sensor: SensorConfig{
			Kind:     SensorEvdev,
			NameHint: "accel",
			Scale:    1.0,
		},
		Shake: ShakeConfig{
			DebounceMS:    int(shake.DefaultDebounce / time.Millisecond),
			ShakingHoldMS: int(shake.DefaultShakingHold / time.Millisecond),
		},
		Skip: SkipConfig{
			SeekDelayMS:   int(sk.SeekDelay / time.Millisecond),
			RampStepMS:    int(sk.RampStepDelay / time.Millisecond),
			RampFractions: sk.RampFractions,
			MinOffsetMS:   int(sk.MinOffset / time.Millisecond),
			MaxOffsetMS:   int(sk.MaxOffset / time.Millisecond),
		},
		Transport: TransportConfig{
			Kind:           TransportMock,
			SampleRate:     44100,
			BufferMS:       100,
			Output:         OutputSoftware,
			MockDurationMS: 180000,
			InitialVolume:  1.0,
		},
		CamillaDSP: CamillaDSPConfig{
			WsURL:           dsp.URL,
			TimeoutMS:       int(dsp.ReadTimeout / time.Millisecond),
			ConnectAttempts: dsp.ConnectAttempts,
			MinDB:           -65.0,
			MaxDB:           0.0,
		},
		Settings: SettingsConfig{
			Store:       StoreMemory,
			RedisAddr:   "127.0.0.1:6379",
			RedisPrefix: settings.DefaultRedisPrefix,
			Initial:     settings.Default(),
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/shakeskip.sock",
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:3080",
		},
		StateWS: StateWSConfig{
			Enabled:    true,
			Listen:     "127.0.0.1:3081",
			Path:       "/ws/state",
			CoalesceMS: 100,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads a YAML config on top of DefaultConfig. Unknown fields
// and trailing documents are rejected.
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
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}
	return cfg, nil
}

// FlagOverrides holds flag values that were explicitly set. Nil pointers are
// ignored by Apply.
type FlagOverrides struct {
	SensorKind   *string
	SensorDevice *string

	TransportKind *string
	TransportFile *string
	Playlist      *string
	Output        *string

	CamillaWsURL *string

	SettingsStore *string
	RedisAddr     *string

	IPCSocketPath *string
	APIListen     *string
	StateWSListen *string

	LogLevel *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&cfg.Sensor.Kind, o.SensorKind)
	set(&cfg.Sensor.Device, o.SensorDevice)
	set(&cfg.Transport.Kind, o.TransportKind)
	set(&cfg.Transport.File, o.TransportFile)
	set(&cfg.Transport.Output, o.Output)
	if o.Playlist != nil {
		cfg.Transport.Playlist = splitList(*o.Playlist)
	}
	set(&cfg.CamillaDSP.WsURL, o.CamillaWsURL)
	set(&cfg.Settings.Store, o.SettingsStore)
	set(&cfg.Settings.RedisAddr, o.RedisAddr)
	set(&cfg.IPC.SocketPath, o.IPCSocketPath)
	set(&cfg.API.Listen, o.APIListen)
	set(&cfg.StateWS.Listen, o.StateWSListen)
	set(&cfg.Logging.Level, o.LogLevel)
}

// Validate checks config invariants and returns a user-friendly error.
func (c *Config) Validate() error {
	switch c.Sensor.Kind {
	case SensorEvdev, SensorInject, SensorNone:
	default:
		return fmt.Errorf("sensor.kind must be %q, %q or %q", SensorEvdev, SensorInject, SensorNone)
	}
	if c.Sensor.Scale <= 0 {
		return errors.New("sensor.scale must be > 0")
	}

	if c.Shake.DebounceMS <= 0 {
		return errors.New("shake.debounce_ms must be > 0")
	}
	if c.Shake.ShakingHoldMS <= 0 {
		return errors.New("shake.shaking_hold_ms must be > 0")
	}

	if err := c.ToSkipConfig().Validate(); err != nil {
		return fmt.Errorf("skip: %w", err)
	}

	switch c.Transport.Kind {
	case TransportMock:
		if c.Transport.MockDurationMS < 0 {
			return errors.New("transport.mock_duration_ms must be >= 0")
		}
	case TransportLocal:
		if len(c.Tracks()) == 0 {
			return errors.New("transport.file or transport.playlist is required for the local transport")
		}
		if c.Transport.StartIndex < 0 || c.Transport.StartIndex >= len(c.Tracks()) {
			return errors.New("transport.start_index must point into the play queue")
		}
		if c.Transport.SampleRate <= 0 {
			return errors.New("transport.sample_rate must be > 0")
		}
		if c.Transport.BufferMS <= 0 {
			return errors.New("transport.buffer_ms must be > 0")
		}
	default:
		return fmt.Errorf("transport.kind must be %q or %q", TransportMock, TransportLocal)
	}
	switch c.Transport.Output {
	case OutputSoftware:
	case OutputCamillaDSP:
		if c.CamillaDSP.WsURL == "" {
			return errors.New("camilladsp.ws_url must not be empty")
		}
		if c.CamillaDSP.TimeoutMS <= 0 {
			return errors.New("camilladsp.timeout_ms must be > 0")
		}
		if c.CamillaDSP.MinDB >= c.CamillaDSP.MaxDB {
			return errors.New("camilladsp.min_db must be < camilladsp.max_db")
		}
	default:
		return fmt.Errorf("transport.output must be %q or %q", OutputSoftware, OutputCamillaDSP)
	}
	if c.Transport.InitialVolume < 0 || c.Transport.InitialVolume > 1 {
		return errors.New("transport.initial_volume must be in [0, 1]")
	}

	switch c.Settings.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Settings.RedisAddr == "" {
			return errors.New("settings.redis_addr must not be empty")
		}
	default:
		return fmt.Errorf("settings.store must be %q or %q", StoreMemory, StoreRedis)
	}

	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.API.Enabled && c.API.Listen == "" {
		return errors.New("api.listen must not be empty")
	}
	if c.StateWS.Enabled {
		if c.StateWS.Listen == "" {
			return errors.New("state_ws.listen must not be empty")
		}
		if c.StateWS.Path == "" || c.StateWS.Path[0] != '/' {
			return errors.New("state_ws.path must start with /")
		}
		if c.StateWS.CoalesceMS < 0 {
			return errors.New("state_ws.coalesce_ms must be >= 0")
		}
	}

	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	return nil
}

// ToSkipConfig converts the file config into controller timing.
func (c *Config) ToSkipConfig() skip.Config {
	cfg := skip.DefaultConfig()
	cfg.SeekDelay = time.Duration(c.Skip.SeekDelayMS) * time.Millisecond
	cfg.RampStepDelay = time.Duration(c.Skip.RampStepMS) * time.Millisecond
	cfg.MinOffset = time.Duration(c.Skip.MinOffsetMS) * time.Millisecond
	cfg.MaxOffset = time.Duration(c.Skip.MaxOffsetMS) * time.Millisecond
	if len(c.Skip.RampFractions) > 0 {
		cfg.RampFractions = append([]float64(nil), c.Skip.RampFractions...)
	}
	return cfg
}

// ToShakeConfig converts the file config into detector tuning. The threshold
// comes from the settings store.
func (c *Config) ToShakeConfig(threshold float64) shake.Config {
	cfg := shake.DefaultConfig()
	cfg.Threshold = threshold
	cfg.Debounce = time.Duration(c.Shake.DebounceMS) * time.Millisecond
	cfg.ShakingHold = time.Duration(c.Shake.ShakingHoldMS) * time.Millisecond
	return cfg
}

// ToCamillaDSPConfig converts the file config into client settings.
func (c *Config) ToCamillaDSPConfig() camilladsp.Config {
	cfg := camilladsp.DefaultConfig()
	cfg.URL = c.CamillaDSP.WsURL
	cfg.ReadTimeout = time.Duration(c.CamillaDSP.TimeoutMS) * time.Millisecond
	if c.CamillaDSP.ConnectAttempts > 0 {
		cfg.ConnectAttempts = c.CamillaDSP.ConnectAttempts
	}
	return cfg
}

// Tracks returns the local play queue with paths expanded.
func (c *Config) Tracks() []string {
	var out []string
	if c.Transport.File != "" {
		out = append(out, ExpandPath(c.Transport.File))
	}
	for _, p := range c.Transport.Playlist {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, ExpandPath(p))
		}
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
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
