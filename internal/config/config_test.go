// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, durations and the starter file

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
matrix:
  homeserver: "https://matrix.example.org"
  username: "relay"
  password: "secret"
  allowed_rooms:
    - "!room1:example.org"
  typing_indicator: true

assistant:
  api_key: "sk-test"
  assistant_id: "asst_123"
  poll_interval: "2s"
  max_attempts: 45
  rate_limit: 5
  rate_burst: 10

media:
  enabled: true
  language: "es"

queue:
  window: "3s"
  media_gap: "250ms"
  seen_ttl: "5m"
  seen_size: 500

conversation:
  apology: "Perdón, algo falló."

sessions:
  path: "/tmp/sessions.json"

database:
  path: "/tmp/relay.db"

logging:
  level: "debug"
  format: "json"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", validYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Matrix.Homeserver != "https://matrix.example.org" {
		t.Errorf("Matrix.Homeserver = %q", cfg.Matrix.Homeserver)
	}
	if len(cfg.Matrix.AllowedRooms) != 1 || cfg.Matrix.AllowedRooms[0] != "!room1:example.org" {
		t.Errorf("Matrix.AllowedRooms = %v", cfg.Matrix.AllowedRooms)
	}
	if !cfg.Matrix.TypingIndicator {
		t.Error("Matrix.TypingIndicator = false, want true")
	}
	if cfg.Assistant.PollInterval != 2*time.Second {
		t.Errorf("Assistant.PollInterval = %v, want 2s", cfg.Assistant.PollInterval)
	}
	if cfg.Assistant.MaxAttempts != 45 {
		t.Errorf("Assistant.MaxAttempts = %d, want 45", cfg.Assistant.MaxAttempts)
	}
	if cfg.Assistant.RateLimit != 5 || cfg.Assistant.RateBurst != 10 {
		t.Errorf("rate limit = %v/%d, want 5/10", cfg.Assistant.RateLimit, cfg.Assistant.RateBurst)
	}
	if cfg.Queue.Window != 3*time.Second {
		t.Errorf("Queue.Window = %v, want 3s", cfg.Queue.Window)
	}
	if cfg.Queue.MediaGap != 250*time.Millisecond {
		t.Errorf("Queue.MediaGap = %v, want 250ms", cfg.Queue.MediaGap)
	}
	if cfg.Queue.SeenTTL != 5*time.Minute || cfg.Queue.SeenSize != 500 {
		t.Errorf("Queue seen = %v/%d, want 5m/500", cfg.Queue.SeenTTL, cfg.Queue.SeenSize)
	}
	if cfg.Conversation.Apology != "Perdón, algo falló." {
		t.Errorf("Conversation.Apology = %q", cfg.Conversation.Apology)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	content := `
[matrix]
homeserver = "https://matrix.example.org"
user_id = "@relay:example.org"
access_token = "syt_token"

[assistant]
api_key = "sk-test"
assistant_id = "asst_123"
poll_interval = "1500ms"

[queue]
window = "1s"

[logging]
level = "warn"
`
	cfg, err := Load(writeConfig(t, "relay.toml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Matrix.UserID != "@relay:example.org" {
		t.Errorf("Matrix.UserID = %q", cfg.Matrix.UserID)
	}
	if cfg.Assistant.PollInterval != 1500*time.Millisecond {
		t.Errorf("Assistant.PollInterval = %v, want 1.5s", cfg.Assistant.PollInterval)
	}
	if cfg.Queue.Window != time.Second {
		t.Errorf("Queue.Window = %v, want 1s", cfg.Queue.Window)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_RELAY_API_KEY", "sk-from-env")
	t.Setenv("TEST_RELAY_PASSWORD", "pw-from-env")

	content := strings.Replace(validYAML, `"sk-test"`, `"${TEST_RELAY_API_KEY}"`, 1)
	content = strings.Replace(content, `"secret"`, `"${TEST_RELAY_PASSWORD}"`, 1)

	cfg, err := Load(writeConfig(t, "config.yaml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Assistant.APIKey != "sk-from-env" {
		t.Errorf("Assistant.APIKey = %q, want sk-from-env", cfg.Assistant.APIKey)
	}
	if cfg.Matrix.Password != "pw-from-env" {
		t.Errorf("Matrix.Password = %q, want pw-from-env", cfg.Matrix.Password)
	}
}

func TestLoad_UnsetEnvVarFailsValidation(t *testing.T) {
	content := strings.Replace(validYAML, `"sk-test"`, `"${TEST_RELAY_DEFINITELY_UNSET}"`, 1)

	_, err := Load(writeConfig(t, "config.yaml", content))
	if err == nil || !strings.Contains(err.Error(), "assistant.api_key") {
		t.Fatalf("Load() error = %v, want assistant.api_key error", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dataHome := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataHome)

	content := `
matrix:
  homeserver: "https://matrix.example.org"
  username: "relay"
  password: "secret"
assistant:
  api_key: "sk-test"
  assistant_id: "asst_123"
`
	cfg, err := Load(writeConfig(t, "config.yml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Assistant.PollInterval != DefaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", cfg.Assistant.PollInterval, DefaultPollInterval)
	}
	if cfg.Assistant.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", cfg.Assistant.MaxAttempts, DefaultMaxAttempts)
	}
	if cfg.Queue.Window != DefaultWindow {
		t.Errorf("Window = %v, want %v", cfg.Queue.Window, DefaultWindow)
	}
	if cfg.Queue.MediaGap != DefaultMediaGap {
		t.Errorf("MediaGap = %v, want %v", cfg.Queue.MediaGap, DefaultMediaGap)
	}
	if cfg.Media.MaxBytes != DefaultMediaBytes {
		t.Errorf("Media.MaxBytes = %d, want %d", cfg.Media.MaxBytes, DefaultMediaBytes)
	}
	if want := filepath.Join(dataHome, "coven-relay", "sessions.json"); cfg.Sessions.Path != want {
		t.Errorf("Sessions.Path = %q, want %q", cfg.Sessions.Path, want)
	}
	if want := filepath.Join(dataHome, "coven-relay", "relay.db"); cfg.Database.Path != want {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, want)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want info/text", cfg.Logging)
	}
}

func TestLoad_RateBurstDefaultsToOne(t *testing.T) {
	content := strings.Replace(validYAML, "  rate_burst: 10\n", "", 1)

	cfg, err := Load(writeConfig(t, "config.yaml", content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Assistant.RateBurst != 1 {
		t.Errorf("RateBurst = %d, want 1", cfg.Assistant.RateBurst)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	content := strings.Replace(validYAML, `window: "3s"`, `window: "soon"`, 1)

	_, err := Load(writeConfig(t, "config.yaml", content))
	if err == nil || !strings.Contains(err.Error(), "queue.window") {
		t.Fatalf("Load() error = %v, want queue.window error", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_MalformedFiles(t *testing.T) {
	if _, err := Load(writeConfig(t, "bad.yaml", "matrix: [unclosed")); err == nil {
		t.Error("expected YAML parse error")
	}
	if _, err := Load(writeConfig(t, "bad.toml", "[matrix\nhomeserver =")); err == nil {
		t.Error("expected TOML parse error")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Parse([]byte(validYAML), FormatYAML)
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing homeserver", func(c *Config) { c.Matrix.Homeserver = "" }, "matrix.homeserver is required"},
		{"bad homeserver scheme", func(c *Config) { c.Matrix.Homeserver = "ftp://example.org" }, "http or https"},
		{"no matrix credentials", func(c *Config) { c.Matrix.Password = "" }, "matrix requires"},
		{"token credentials", func(c *Config) {
			c.Matrix.Username, c.Matrix.Password = "", ""
			c.Matrix.UserID, c.Matrix.AccessToken = "@bot:example.org", "tok"
		}, ""},
		{"missing api key", func(c *Config) { c.Assistant.APIKey = "" }, "assistant.api_key"},
		{"missing assistant id", func(c *Config) { c.Assistant.AssistantID = "" }, "assistant.assistant_id"},
		{"negative attempts", func(c *Config) { c.Assistant.MaxAttempts = -1 }, "max_attempts"},
		{"negative rate", func(c *Config) { c.Assistant.RateLimit = -1 }, "rate_limit"},
		{"negative window", func(c *Config) { c.Queue.Window = -time.Second }, "queue.window"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestWriteStarter_LoadsWithEnv(t *testing.T) {
	t.Setenv("COVEN_RELAY_MATRIX_PASSWORD", "pw")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("COVEN_RELAY_ASSISTANT_ID", "asst_123")

	for _, name := range []string{"relay.yaml", "relay.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			if err := WriteStarter(path); err != nil {
				t.Fatalf("WriteStarter() error = %v", err)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("stat: %v", err)
			}
			if info.Mode().Perm() != 0600 {
				t.Errorf("mode = %v, want 0600", info.Mode().Perm())
			}

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load(starter) error = %v", err)
			}
			if cfg.Assistant.AssistantID != "asst_123" {
				t.Errorf("AssistantID = %q", cfg.Assistant.AssistantID)
			}
			if !cfg.Media.Enabled || cfg.Media.Language != "es" {
				t.Errorf("Media = %+v", cfg.Media)
			}
		})
	}
}

func TestWriteStarter_DoesNotOverwrite(t *testing.T) {
	path := writeConfig(t, "relay.yaml", "keep me")

	err := WriteStarter(path)
	if !errors.Is(err, ErrExists) {
		t.Fatalf("WriteStarter() error = %v, want ErrExists", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "keep me" {
		t.Errorf("existing file modified: %q", data)
	}
}
