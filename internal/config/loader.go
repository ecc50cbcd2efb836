package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/MrWong99/voxlink/pkg/audio"
	"github.com/MrWong99/voxlink/pkg/audio/playback"
	"github.com/MrWong99/voxlink/pkg/recording"
	"github.com/MrWong99/voxlink/pkg/transport"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvListenAddr  = "VOXLINK_LISTEN_ADDR"
	EnvLogLevel    = "VOXLINK_LOG_LEVEL"
	EnvAddress     = "VOXLINK_ADDRESS"
	EnvStore       = "VOXLINK_STORE"
	EnvPostgresDSN = "VOXLINK_POSTGRES_DSN"
)

// LookupFunc resolves an environment variable. [os.LookupEnv] satisfies it.
type LookupFunc func(key string) (string, bool)

// Load reads the YAML configuration file at path, applies defaults and
// VOXLINK_* environment overrides, and returns a validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	cfg, err := parse(bytes.NewReader(data), os.LookupEnv)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	return parse(r, nil)
}

// FromEnv returns the default configuration with VOXLINK_* overrides applied.
// Used when no config file is given.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from the given files (".env" when none)
// into the process environment. Variables that are already set win. A
// missing file is not an error.
func LoadEnvFile(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env file %q: %w", p, err)
		}
	}
	return nil
}

func parse(r io.Reader, lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if lookup != nil {
		ApplyEnv(cfg, lookup)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overwrites cfg fields with the VOXLINK_* variables lookup resolves.
// Empty values are ignored.
func ApplyEnv(cfg *Config, lookup LookupFunc) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(EnvListenAddr, &cfg.Server.ListenAddr)
	set(EnvAddress, &cfg.Transport.Address)
	set(EnvPostgresDSN, &cfg.Recording.PostgresDSN)

	var level, store string
	set(EnvLogLevel, &level)
	if level != "" {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(level))
	}
	set(EnvStore, &store)
	if store != "" {
		cfg.Recording.Store = StoreKind(strings.ToLower(store))
	}
}

// ApplyDefaults fills every zero-valued field of cfg with its default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = ":8080"
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.LogFormat == "" {
		s.LogFormat = LogFormatText
	}

	a := &cfg.Audio
	if a.SampleRate == 0 {
		a.SampleRate = audio.DefaultSampleRate
	}
	if a.FrameSamples == 0 {
		a.FrameSamples = audio.DefaultFrameSamples
	}
	if a.CaptureQueue == 0 {
		a.CaptureQueue = 8
	}
	if a.FramePool == 0 {
		a.FramePool = 8
	}
	if a.JitterCapacity == 0 {
		a.JitterCapacity = playback.DefaultJitterCapacity
	}
	if a.PrimeFrames == 0 {
		a.PrimeFrames = playback.DefaultPrimeFrames
	}

	t := &cfg.Transport
	if t.DialTimeout == 0 {
		t.DialTimeout = transport.DefaultDialTimeout
	}
	if t.OutboundQueue == 0 {
		t.OutboundQueue = transport.DefaultOutboundQueue
	}

	r := &cfg.Recording
	if r.Store == "" {
		r.Store = StoreMemory
	}
	if r.ChunkFrames == 0 {
		r.ChunkFrames = recording.DefaultChunkFrames
	}
	if r.Queue == 0 {
		r.Queue = recording.DefaultRecorderQueue
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	a := cfg.Audio
	if a.SampleRate < 0 || (a.SampleRate > 0 && (a.SampleRate < 8000 || a.SampleRate > 192000)) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is out of range [8000, 192000]", a.SampleRate))
	}
	for _, f := range []struct {
		name string
		v    int
	}{
		{"audio.frame_samples", a.FrameSamples},
		{"audio.capture_queue", a.CaptureQueue},
		{"audio.frame_pool", a.FramePool},
		{"audio.jitter_capacity", a.JitterCapacity},
		{"audio.prime_frames", a.PrimeFrames},
		{"transport.outbound_queue", cfg.Transport.OutboundQueue},
		{"recording.chunk_frames", cfg.Recording.ChunkFrames},
		{"recording.queue", cfg.Recording.Queue},
	} {
		if f.v < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %d", f.name, f.v))
		}
	}
	if a.JitterCapacity > 0 && a.PrimeFrames > a.JitterCapacity {
		errs = append(errs, fmt.Errorf("audio.prime_frames %d exceeds audio.jitter_capacity %d", a.PrimeFrames, a.JitterCapacity))
	}

	// Transport
	if cfg.Transport.Address != "" {
		if _, err := transport.ParseAddress(cfg.Transport.Address); err != nil {
			errs = append(errs, fmt.Errorf("transport.address: %w", err))
		}
	}
	if cfg.Transport.DialTimeout < 0 || (cfg.Transport.DialTimeout > 0 && cfg.Transport.DialTimeout < time.Millisecond) {
		errs = append(errs, fmt.Errorf("transport.dial_timeout %s is too short", cfg.Transport.DialTimeout))
	}

	// Recording
	if cfg.Recording.Store != "" && !cfg.Recording.Store.IsValid() {
		errs = append(errs, fmt.Errorf("recording.store %q is invalid; valid values: memory, postgres", cfg.Recording.Store))
	}
	if cfg.Recording.Store == StorePostgres && cfg.Recording.PostgresDSN == "" {
		errs = append(errs, errors.New("recording.postgres_dsn is required when recording.store is postgres"))
	}

	return errors.Join(errs...)
}
