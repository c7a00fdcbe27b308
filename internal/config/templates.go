package config

import (
	"fmt"
	"os"
)

func Template() string {
	return serveTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(serveTemplate), 0o600)
}

const serveTemplate = `name = "commlink"
status_addr = ":9400"

[transport]
name = "tcp"
listen_port = 4000
backlog = 128
auto_check_open = true
auto_check_interval = "1s"
accept_backoff = "100ms"

[channel]
idle_delay = "5ms"
subscriber_buffer = 16
backlog = 16
backoff_initial = "50ms"
backoff_multiplier = 2.0
backoff_max = "1s"
backoff_jitter = true
monitor = true

[cache]
max_entries = 256
max_age = "30s"
sweep_interval = "1s"

[codec]
timestamp = "none"
`
