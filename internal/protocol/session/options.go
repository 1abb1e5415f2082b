package session

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Option configures a Conn.
type Option func(*options)

type options struct {
	config         Config
	logger         zerolog.Logger
	metrics        bool
	onError        func(error)
	onGlobal       []func(Global)
	onGlobalRemove []func(Global)
}

func buildOptions(opts []Option) options {
	o := options{
		config:  DefaultConfig(),
		logger:  log.Logger,
		metrics: true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.config = o.config.WithDefaults()
	return o
}

func WithConfig(cfg Config) Option {
	return func(o *options) { o.config = cfg }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics toggles the prometheus recorders. Enabled by default.
func WithMetrics(enabled bool) Option {
	return func(o *options) { o.metrics = enabled }
}

// WithDispatchErrorHandler receives every inbound message that could not be
// dispatched (unknown object, codec failure) and every protocol error event.
// It runs on the read goroutine.
func WithDispatchErrorHandler(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

// OnGlobal is called for every announced global, including the ones that
// arrive during the handshake.
func OnGlobal(fn func(Global)) Option {
	return func(o *options) { o.onGlobal = append(o.onGlobal, fn) }
}

// OnGlobalRemove is called when the server retracts a known global.
func OnGlobalRemove(fn func(Global)) Option {
	return func(o *options) { o.onGlobalRemove = append(o.onGlobalRemove, fn) }
}
