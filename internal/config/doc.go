// Package config handles configuration loading for coven-relay.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. Load picks the syntax from the file extension (.toml is TOML,
// anything else YAML), fills defaults and validates the result.
//
// # Configuration File
//
// The CLI resolves the path in this order:
//
//  1. Path from the COVEN_RELAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven-relay/relay.yaml
//  3. ~/.config/coven-relay/relay.yaml
//
// `coven-relay init` writes a starter file to that path.
//
// # Environment Variable Expansion
//
// Values can reference environment variables, which may come from a .env
// file loaded by the CLI:
//
//	assistant:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string, so a missing secret surfaces
// as a validation error rather than a literal "${...}".
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	assistant:
//	  poll_interval: "1s"
//	queue:
//	  window: "2s"
//	  media_gap: "500ms"
//	  seen_ttl: "10m"
//
// # Sections
//
//   - matrix: homeserver, credentials, room/user allowlists, typing indicator
//   - assistant: API key, assistant id, poll interval, attempt cap, rate limit
//   - media: image and audio pipeline models, prompt, language, size cap
//   - queue: debounce window, media gap, event dedupe bounds
//   - conversation: framing templates and the apology text
//   - sessions: registry file path
//   - database: conversation log path
//   - logging: level (debug, info, warn, error) and format (text, json)
//
// # Defaults
//
// Poll interval 1s, 30 attempts, 2s window, 500ms media gap, 20 MiB media
// cap, info/text logging. Sessions and the database live under
// $XDG_DATA_HOME/coven-relay (or ~/.local/share/coven-relay).
package config
