package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-faster/errors"

	"github.com/danmuck/wlproto/internal/logging"
	"github.com/danmuck/wlproto/internal/protocol/schema"
)

const DefaultDisplay = "wayland-0"

var (
	ErrNoRuntimeDir = errors.New("config: runtime directory not set (runtime_dir or XDG_RUNTIME_DIR)")
	ErrNoProtocols  = errors.New("config: at least one protocol document is required")
)

// Config is the client configuration after defaults and file overrides.
type Config struct {
	Socket             string
	RuntimeDir         string
	Display            string
	Protocols          []string
	ConnectTimeout     time.Duration
	HandshakeTimeout   time.Duration
	WriteTimeout       time.Duration
	ReadBufferBytes    int
	MaxConnectAttempts int
	LogLevel           string
}

type fileConfig struct {
	Socket             string   `toml:"socket"`
	RuntimeDir         string   `toml:"runtime_dir"`
	Display            string   `toml:"display"`
	Protocols          []string `toml:"protocols"`
	ConnectTimeout     string   `toml:"connect_timeout"`
	HandshakeTimeout   string   `toml:"handshake_timeout"`
	WriteTimeout       string   `toml:"write_timeout"`
	ReadBufferBytes    int      `toml:"read_buffer_bytes"`
	MaxConnectAttempts int      `toml:"max_connect_attempts"`
	LogLevel           string   `toml:"log_level"`
}

func Default() Config {
	return Config{
		Protocols:          []string{schema.DefaultPath},
		ConnectTimeout:     5 * time.Second,
		HandshakeTimeout:   5 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadBufferBytes:    4096,
		MaxConnectAttempts: 1,
		LogLevel:           "info",
	}
}

// Load reads path and applies every key it defines on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Wrapf(err, "load config %s", path)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}

	if meta.IsDefined("socket") {
		cfg.Socket = strings.TrimSpace(raw.Socket)
	}
	if meta.IsDefined("runtime_dir") {
		cfg.RuntimeDir = strings.TrimSpace(raw.RuntimeDir)
	}
	if meta.IsDefined("display") {
		cfg.Display = strings.TrimSpace(raw.Display)
	}
	if meta.IsDefined("protocols") {
		cfg.Protocols = normalizePaths(raw.Protocols)
	}
	if meta.IsDefined("connect_timeout") {
		if cfg.ConnectTimeout, err = parseDuration("connect_timeout", raw.ConnectTimeout); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("handshake_timeout") {
		if cfg.HandshakeTimeout, err = parseDuration("handshake_timeout", raw.HandshakeTimeout); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("write_timeout") {
		if cfg.WriteTimeout, err = parseDuration("write_timeout", raw.WriteTimeout); err != nil {
			return Config{}, err
		}
	}
	if meta.IsDefined("read_buffer_bytes") {
		cfg.ReadBufferBytes = raw.ReadBufferBytes
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "validate config %s", path)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.Protocols) == 0 {
		return ErrNoProtocols
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("connect_timeout must be positive")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("handshake_timeout must be positive")
	}
	if c.WriteTimeout < 0 {
		return errors.New("write_timeout must not be negative")
	}
	if c.ReadBufferBytes < 8 {
		return errors.Errorf("read_buffer_bytes must be at least 8, got %d", c.ReadBufferBytes)
	}
	if c.MaxConnectAttempts < 1 {
		return errors.Errorf("max_connect_attempts must be at least 1, got %d", c.MaxConnectAttempts)
	}
	if c.LogLevel != "" {
		if _, ok := logging.ParseLevel(c.LogLevel); !ok {
			return errors.Errorf("unknown log_level %q", c.LogLevel)
		}
	}
	return nil
}

// SocketPath resolves the compositor socket from the config and the
// process environment.
func (c Config) SocketPath() (string, error) {
	return ResolveSocketPath(c, os.Getenv)
}

// ResolveSocketPath applies, in order: an explicit socket path; an absolute
// display name; the display name (config, then WAYLAND_DISPLAY, then
// wayland-0) joined under the runtime directory (config, then
// XDG_RUNTIME_DIR).
func ResolveSocketPath(c Config, getenv func(string) string) (string, error) {
	if c.Socket != "" {
		return c.Socket, nil
	}
	display := c.Display
	if display == "" {
		display = strings.TrimSpace(getenv("WAYLAND_DISPLAY"))
	}
	if display == "" {
		display = DefaultDisplay
	}
	if filepath.IsAbs(display) {
		return display, nil
	}
	runtimeDir := c.RuntimeDir
	if runtimeDir == "" {
		runtimeDir = strings.TrimSpace(getenv("XDG_RUNTIME_DIR"))
	}
	if runtimeDir == "" {
		return "", ErrNoRuntimeDir
	}
	return filepath.Join(runtimeDir, display), nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	return d, nil
}

func normalizePaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
