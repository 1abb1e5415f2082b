package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/danmuck/wlproto/internal/protocol/schema"
	"github.com/danmuck/wlproto/internal/testutil/testlog"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wlproto.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoadAppliesDefinedKeysOnly(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, `
display = "wayland-1"
protocols = ["/tmp/a.xml", " ", "/tmp/b.xml"]
handshake_timeout = "750ms"
max_connect_attempts = 3
log_level = "debug"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	def := Default()
	require.Equal(t, "wayland-1", cfg.Display)
	require.Equal(t, []string{"/tmp/a.xml", "/tmp/b.xml"}, cfg.Protocols)
	require.Equal(t, 750*time.Millisecond, cfg.HandshakeTimeout)
	require.Equal(t, 3, cfg.MaxConnectAttempts)
	require.Equal(t, def.WriteTimeout, cfg.WriteTimeout)
	require.Equal(t, def.ReadBufferBytes, cfg.ReadBufferBytes)
	require.Equal(t, zerolog.DebugLevel, cfg.Level(zerolog.InfoLevel))
}

func TestLoadRejectsBadValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"bad duration":  `handshake_timeout = "soon"`,
		"unknown key":   `colour = "blue"`,
		"no protocols":  `protocols = []`,
		"small buffer":  `read_buffer_bytes = 4`,
		"bad log level": `log_level = "loud"`,
		"bad toml":      `display = `,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	testlog.Start(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestResolveSocketPath(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		cfg  Config
		env  map[string]string
		want string
		err  error
	}{
		{
			name: "explicit socket wins",
			cfg:  Config{Socket: "/tmp/custom.sock", Display: "wayland-5"},
			env:  map[string]string{"XDG_RUNTIME_DIR": "/run/user/1000"},
			want: "/tmp/custom.sock",
		},
		{
			name: "environment defaults",
			env:  map[string]string{"XDG_RUNTIME_DIR": "/run/user/1000", "WAYLAND_DISPLAY": "wayland-1"},
			want: "/run/user/1000/wayland-1",
		},
		{
			name: "default display",
			env:  map[string]string{"XDG_RUNTIME_DIR": "/run/user/1000"},
			want: "/run/user/1000/wayland-0",
		},
		{
			name: "config overrides environment",
			cfg:  Config{RuntimeDir: "/srv/rt", Display: "wayland-2"},
			env:  map[string]string{"XDG_RUNTIME_DIR": "/run/user/1000", "WAYLAND_DISPLAY": "wayland-1"},
			want: "/srv/rt/wayland-2",
		},
		{
			name: "absolute display",
			env:  map[string]string{"WAYLAND_DISPLAY": "/tmp/wl.sock"},
			want: "/tmp/wl.sock",
		},
		{
			name: "no runtime dir",
			env:  map[string]string{},
			err:  ErrNoRuntimeDir,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolveSocketPath(tc.cfg, env(tc.env))
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestTemplateRoundTrip(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "wlproto.toml")
	require.NoError(t, WriteTemplate(path, false))
	require.Error(t, WriteTemplate(path, false))
	require.NoError(t, WriteTemplate(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "wayland-0", cfg.Display)
	require.Equal(t, []string{schema.DefaultPath}, cfg.Protocols)

	sess := cfg.Session()
	require.Equal(t, cfg.HandshakeTimeout, sess.HandshakeTimeout)
	require.Equal(t, cfg.ReadBufferBytes, sess.ReadBufferBytes)
	require.Equal(t, 1, sess.MaxConnectAttempts)
}
