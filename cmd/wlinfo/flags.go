package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/wlproto/internal/config"
	"github.com/danmuck/wlproto/internal/logging"
	"github.com/danmuck/wlproto/internal/protocol/schema"
	"github.com/danmuck/wlproto/internal/protocol/session"
)

type rootFlags struct {
	configPath string
	socket     string
	protocols  []string
	logLevel   string
}

// load resolves the config file (when given) and applies flag overrides.
func (f *rootFlags) load() (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return config.Config{}, err
		}
	}
	if f.socket != "" {
		cfg.Socket = f.socket
	}
	if len(f.protocols) > 0 {
		cfg.Protocols = f.protocols
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	return cfg, cfg.Validate()
}

func (f *rootFlags) configureLogging() {
	logging.ConfigureRuntime()
	level := f.logLevel
	if level == "" && f.configPath != "" {
		if cfg, err := config.Load(f.configPath); err == nil {
			level = cfg.LogLevel
		}
	}
	if lvl, ok := logging.ParseLevel(level); ok {
		zerolog.SetGlobalLevel(lvl)
		log.Logger = log.Logger.Level(lvl)
	}
}

// connect loads the schema documents and dials the compositor.
func (f *rootFlags) connect(ctx context.Context, opts ...session.Option) (*session.Conn, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, err
	}
	set, err := schema.LoadSet(cfg.Protocols...)
	if err != nil {
		return nil, err
	}
	path, err := cfg.SocketPath()
	if err != nil {
		return nil, err
	}
	log.Debug().Str("socket", path).Strs("protocols", cfg.Protocols).Msg("wlinfo connecting")

	opts = append([]session.Option{
		session.WithConfig(cfg.Session()),
		session.WithLogger(log.Logger),
	}, opts...)
	conn, err := session.Dial(ctx, path, set, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "connect %s", path)
	}
	return conn, nil
}
