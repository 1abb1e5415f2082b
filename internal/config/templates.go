package config

import (
	"os"

	"github.com/go-faster/errors"
)

// Template returns the commented default configuration file.
func Template() string {
	return defaultTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return errors.Errorf("config already exists: %s", path)
		}
	}
	if err := os.WriteFile(path, []byte(defaultTemplate), 0o600); err != nil {
		return errors.Wrapf(err, "write config %s", path)
	}
	return nil
}

const defaultTemplate = `# Compositor socket. When empty the socket is display joined under
# runtime_dir; both fall back to WAYLAND_DISPLAY and XDG_RUNTIME_DIR.
# socket = "/run/user/1000/wayland-0"
# runtime_dir = "/run/user/1000"
display = "wayland-0"

# Protocol documents, loaded in order. Interface names must be unique.
protocols = ["/usr/share/wayland/wayland.xml"]

connect_timeout = "5s"
handshake_timeout = "5s"
write_timeout = "5s"
read_buffer_bytes = 4096
max_connect_attempts = 1

# trace|wire|debug|info|warn|error
log_level = "info"
`
