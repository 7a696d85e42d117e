// ABOUTME: Configuration loading and parsing for coven-relay
// ABOUTME: Supports YAML or TOML files with environment variable expansion, duration parsing and defaults

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-relay configuration
type Config struct {
	Matrix       MatrixConfig       `yaml:"matrix" toml:"matrix"`
	Assistant    AssistantConfig    `yaml:"assistant" toml:"assistant"`
	Media        MediaConfig        `yaml:"media" toml:"media"`
	Queue        QueueConfig        `yaml:"queue" toml:"queue"`
	Conversation ConversationConfig `yaml:"conversation" toml:"conversation"`
	Sessions     SessionsConfig     `yaml:"sessions" toml:"sessions"`
	Database     DatabaseConfig     `yaml:"database" toml:"database"`
	Logging      LoggingConfig      `yaml:"logging" toml:"logging"`
}

// MatrixConfig holds the Matrix transport configuration.
// Either username/password or user_id/access_token must be set.
type MatrixConfig struct {
	Homeserver      string   `yaml:"homeserver" toml:"homeserver"`
	Username        string   `yaml:"username" toml:"username"`
	Password        string   `yaml:"password" toml:"password"`
	UserID          string   `yaml:"user_id" toml:"user_id"`
	AccessToken     string   `yaml:"access_token" toml:"access_token"`
	AllowedRooms    []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
	AllowedUsers    []string `yaml:"allowed_users" toml:"allowed_users"`
	TypingIndicator bool     `yaml:"typing_indicator" toml:"typing_indicator"`
	AutoJoin        bool     `yaml:"auto_join" toml:"auto_join"`
}

// AssistantConfig holds the hosted assistant backend configuration
type AssistantConfig struct {
	APIKey       string `yaml:"api_key" toml:"api_key"`
	BaseURL      string `yaml:"base_url" toml:"base_url"`
	AssistantID  string `yaml:"assistant_id" toml:"assistant_id"`
	Model        string `yaml:"model" toml:"model"`
	Instructions string `yaml:"instructions" toml:"instructions"`
	MaxAttempts  int    `yaml:"max_attempts" toml:"max_attempts"`

	// RateLimit is the sustained request rate per second across all users. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" toml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" toml:"rate_burst"`

	PollInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	PollIntervalRaw string `yaml:"poll_interval" toml:"poll_interval"`
}

// MediaConfig holds the image and audio pipeline configuration
type MediaConfig struct {
	Enabled            bool   `yaml:"enabled" toml:"enabled"`
	VisionModel        string `yaml:"vision_model" toml:"vision_model"`
	TranscriptionModel string `yaml:"transcription_model" toml:"transcription_model"`
	ImagePrompt        string `yaml:"image_prompt" toml:"image_prompt"`
	Language           string `yaml:"language" toml:"language"`
	MaxBytes           int64  `yaml:"max_bytes" toml:"max_bytes"`
}

// QueueConfig holds inbound debounce timing
type QueueConfig struct {
	Window   time.Duration `yaml:"-" toml:"-"`
	MediaGap time.Duration `yaml:"-" toml:"-"`
	SeenTTL  time.Duration `yaml:"-" toml:"-"`
	SeenSize int           `yaml:"seen_size" toml:"seen_size"`

	WindowRaw   string `yaml:"window" toml:"window"`
	MediaGapRaw string `yaml:"media_gap" toml:"media_gap"`
	SeenTTLRaw  string `yaml:"seen_ttl" toml:"seen_ttl"`
}

// ConversationConfig holds framing templates and the apology text.
// Empty values use the built-in defaults.
type ConversationConfig struct {
	FirstTemplate      string `yaml:"first_template" toml:"first_template"`
	ContinuingTemplate string `yaml:"continuing_template" toml:"continuing_template"`
	MediaTemplate      string `yaml:"media_template" toml:"media_template"`
	Apology            string `yaml:"apology" toml:"apology"`
}

// SessionsConfig holds the session registry location
type SessionsConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// DatabaseConfig holds the conversation log database location
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default values applied by Load when a field is unset.
const (
	DefaultPollInterval = time.Second
	DefaultMaxAttempts  = 30
	DefaultWindow       = 2 * time.Second
	DefaultMediaGap     = 500 * time.Millisecond
	DefaultMediaBytes   = 20 << 20
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, formatOf(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Format is a configuration file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

func formatOf(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Parse decodes, expands, defaults and validates configuration bytes.
func Parse(data []byte, format Format) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	switch format {
	case FormatTOML:
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// DataDir returns the relay's data directory.
// Priority: XDG_DATA_HOME/coven-relay > ~/.local/share/coven-relay
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "coven-relay")
}

func (c *Config) applyDefaults() {
	if c.Assistant.PollInterval == 0 {
		c.Assistant.PollInterval = DefaultPollInterval
	}
	if c.Assistant.MaxAttempts == 0 {
		c.Assistant.MaxAttempts = DefaultMaxAttempts
	}
	if c.Assistant.RateLimit > 0 && c.Assistant.RateBurst == 0 {
		c.Assistant.RateBurst = 1
	}
	if c.Queue.Window == 0 {
		c.Queue.Window = DefaultWindow
	}
	if c.Queue.MediaGap == 0 {
		c.Queue.MediaGap = DefaultMediaGap
	}
	if c.Media.MaxBytes == 0 {
		c.Media.MaxBytes = DefaultMediaBytes
	}
	if c.Sessions.Path == "" {
		c.Sessions.Path = filepath.Join(DataDir(), "sessions.json")
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(DataDir(), "relay.db")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return errors.New("matrix.homeserver is required")
	}
	u, err := url.Parse(c.Matrix.Homeserver)
	if err != nil {
		return fmt.Errorf("matrix.homeserver is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("matrix.homeserver must use http or https scheme")
	}

	hasPassword := c.Matrix.Username != "" && c.Matrix.Password != ""
	hasToken := c.Matrix.UserID != "" && c.Matrix.AccessToken != ""
	if !hasPassword && !hasToken {
		return errors.New("matrix requires username and password, or user_id and access_token")
	}

	if c.Assistant.APIKey == "" {
		return errors.New("assistant.api_key is required")
	}
	if c.Assistant.AssistantID == "" {
		return errors.New("assistant.assistant_id is required")
	}
	if c.Assistant.MaxAttempts < 0 {
		return errors.New("assistant.max_attempts must not be negative")
	}
	if c.Assistant.RateLimit < 0 {
		return errors.New("assistant.rate_limit must not be negative")
	}

	for name, d := range map[string]time.Duration{
		"assistant.poll_interval": c.Assistant.PollInterval,
		"queue.window":            c.Queue.Window,
		"queue.media_gap":         c.Queue.MediaGap,
		"queue.seen_ttl":          c.Queue.SeenTTL,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"assistant.poll_interval", cfg.Assistant.PollIntervalRaw, &cfg.Assistant.PollInterval},
		{"queue.window", cfg.Queue.WindowRaw, &cfg.Queue.Window},
		{"queue.media_gap", cfg.Queue.MediaGapRaw, &cfg.Queue.MediaGap},
		{"queue.seen_ttl", cfg.Queue.SeenTTLRaw, &cfg.Queue.SeenTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
