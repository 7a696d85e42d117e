// ABOUTME: Starter configuration written by `coven-relay init`
// ABOUTME: Produces a commented YAML or TOML file that references secrets through env vars

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrExists is returned by WriteStarter when the target file already exists.
var ErrExists = errors.New("config file already exists")

const starterYAML = `# coven-relay configuration
# Values like ${VAR} are read from the environment (or a .env file).

matrix:
  homeserver: "https://matrix.example.org"
  username: "relay-bot"
  password: "${COVEN_RELAY_MATRIX_PASSWORD}"
  # allowed_rooms: ["!abc:example.org"]
  typing_indicator: true
  auto_join: true

assistant:
  api_key: "${OPENAI_API_KEY}"
  assistant_id: "${COVEN_RELAY_ASSISTANT_ID}"
  poll_interval: "1s"
  max_attempts: 30
  # rate_limit: 5

media:
  enabled: true
  language: "es"

queue:
  window: "2s"
  media_gap: "500ms"

logging:
  level: "info"
  format: "text"
`

const starterTOML = `# coven-relay configuration
# Values like ${VAR} are read from the environment (or a .env file).

[matrix]
homeserver = "https://matrix.example.org"
username = "relay-bot"
password = "${COVEN_RELAY_MATRIX_PASSWORD}"
# allowed_rooms = ["!abc:example.org"]
typing_indicator = true
auto_join = true

[assistant]
api_key = "${OPENAI_API_KEY}"
assistant_id = "${COVEN_RELAY_ASSISTANT_ID}"
poll_interval = "1s"
max_attempts = 30
# rate_limit = 5.0

[media]
enabled = true
language = "es"

[queue]
window = "2s"
media_gap = "500ms"

[logging]
level = "info"
format = "text"
`

// Starter returns the starter file contents for the format implied by path.
func Starter(path string) string {
	if formatOf(path) == FormatTOML {
		return starterTOML
	}
	return starterYAML
}

// WriteStarter writes a starter config to path, creating parent directories.
// It never overwrites an existing file.
func WriteStarter(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("%w: %s", ErrExists, path)
	}
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}

	if _, err := f.WriteString(Starter(path)); err != nil {
		f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	return f.Close()
}
