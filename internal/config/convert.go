package config

import (
	"github.com/rs/zerolog"

	"github.com/danmuck/wlproto/internal/logging"
	"github.com/danmuck/wlproto/internal/protocol/session"
)

// Session converts the file settings into connection settings. Backoff
// keeps the session defaults.
func (c Config) Session() session.Config {
	cfg := session.DefaultConfig()
	cfg.ConnectTimeout = c.ConnectTimeout
	cfg.HandshakeTimeout = c.HandshakeTimeout
	cfg.WriteTimeout = c.WriteTimeout
	cfg.ReadBufferBytes = c.ReadBufferBytes
	cfg.MaxConnectAttempts = c.MaxConnectAttempts
	return cfg
}

// Level returns the configured log level, or fallback when unset.
func (c Config) Level(fallback zerolog.Level) zerolog.Level {
	if lvl, ok := logging.ParseLevel(c.LogLevel); ok {
		return lvl
	}
	return fallback
}
