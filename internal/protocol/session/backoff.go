package session

import (
	"context"
	"math"
	"math/rand"
	"net"
	"time"

	"github.com/go-faster/errors"
	"github.com/rs/zerolog"

	"github.com/danmuck/wlproto/internal/protocol/schema"
)

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 || cfg.InitialDelay <= 0 {
		return cfg.InitialDelay
	}
	mult := math.Max(cfg.Multiplier, 1.0)
	delay := float64(cfg.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f += rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// Dial connects to the compositor socket at path, retrying up to
// MaxConnectAttempts times, then runs the handshake on the new connection.
// A failed handshake is not retried.
func Dial(ctx context.Context, path string, set *schema.Set, opts ...Option) (*Conn, error) {
	o := buildOptions(opts)
	cfg := o.config
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var attempt int
	for {
		attempt++
		dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
		sock, err := dialer.DialContext(ctx, "unix", path)
		if err == nil {
			return NewConn(ctx, sock, set, opts...)
		}
		o.logger.Warn().
			Int("attempt", attempt).
			Str("socket", path).
			Err(err).
			Msg("session.Dial failed")
		if attempt >= cfg.MaxConnectAttempts {
			return nil, errors.Wrapf(err, "dial %s", path)
		}
		if err := sleepBackoff(ctx, cfg.Backoff, attempt, rng, o.logger); err != nil {
			return nil, err
		}
	}
}

func sleepBackoff(ctx context.Context, cfg BackoffConfig, attempt int, rng *rand.Rand, logger zerolog.Logger) error {
	delay := NextBackoffDelay(cfg, attempt, rng)
	logger.Debug().Dur("delay", delay).Int("attempt", attempt).Msg("session.Dial backoff")
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
