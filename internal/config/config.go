// Package config loads go-parley configuration from a YAML file and the
// environment. Environment variables win over the file; command-line flags
// are applied by the caller last.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Speech providers.
const (
	SpeechElevenLabs = "elevenlabs"
	SpeechOpenAI     = "openai"
	SpeechNone       = "none"
)

// Audio outputs.
const (
	PlayerExec      = "exec"
	PlayerBroadcast = "broadcast"
	PlayerNone      = "none"
)

// Config is the root configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// UserID namespaces the transcript. Empty means use Google sign-in when
	// configured, otherwise "local".
	UserID string `yaml:"user_id"`

	// BargeIn stops the spoken reply when the microphone opens.
	BargeIn bool `yaml:"barge_in"`

	Server      ServerConfig      `yaml:"server"`
	Store       StoreConfig       `yaml:"store"`
	Completion  CompletionConfig  `yaml:"completion"`
	Speech      SpeechConfig      `yaml:"speech"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Google      GoogleConfig      `yaml:"google"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// StoreConfig configures the transcript store.
type StoreConfig struct {
	// Path is the SQLite file. Empty keeps the transcript in memory.
	Path string `yaml:"path"`

	// RedisAddr enables Redis Streams change notifications so several
	// processes can share one transcript.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// CompletionConfig configures the chat completion client.
type CompletionConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	SystemPrompt string        `yaml:"system_prompt"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SpeechConfig configures synthesis and playback.
type SpeechConfig struct {
	Provider string        `yaml:"provider"`
	APIKey   string        `yaml:"api_key"`
	VoiceID  string        `yaml:"voice_id"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`

	Player        string   `yaml:"player"`
	PlayerCommand []string `yaml:"player_command"`
}

// RecognitionConfig configures streaming speech recognition.
type RecognitionConfig struct {
	DeepgramAPIKey string `yaml:"deepgram_api_key"`
	Model          string `yaml:"model"`
	Language       string `yaml:"language"`
}

// GoogleConfig configures Google sign-in.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
	TokenPath    string `yaml:"token_path"`
}

// ConfigError reports an invalid setting.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		BargeIn:  true,
		Server:   ServerConfig{Addr: ":8080"},
		Completion: CompletionConfig{
			Model:   "gpt-4-turbo",
			Timeout: 30 * time.Second,
		},
		Speech: SpeechConfig{
			Provider: SpeechElevenLabs,
			Timeout:  30 * time.Second,
			Player:   PlayerExec,
		},
		Recognition: RecognitionConfig{
			Model:    "nova-2",
			Language: "en-US",
		},
	}
}

// Dir returns ~/.parley.
func Dir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".parley"
	}
	return filepath.Join(homeDir, ".parley")
}

// DefaultPath returns ~/.parley/config.yaml.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Load reads path on top of the defaults and applies the environment. A
// missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.LogLevel, "LOG_LEVEL")
	set(&c.UserID, "PARLEY_USER_ID")
	set(&c.Server.Addr, "PARLEY_ADDR")
	set(&c.Store.Path, "PARLEY_DB")
	set(&c.Store.RedisAddr, "REDIS_ADDR")
	set(&c.Store.RedisPassword, "REDIS_PASSWORD")
	set(&c.Completion.APIKey, "OPENAI_API_KEY")
	set(&c.Completion.BaseURL, "OPENAI_BASE_URL")
	set(&c.Completion.Model, "OPENAI_MODEL")
	set(&c.Speech.APIKey, "ELEVENLABS_API_KEY")
	set(&c.Speech.VoiceID, "ELEVENLABS_VOICE_ID")
	set(&c.Recognition.DeepgramAPIKey, "DEEPGRAM_API_KEY")
	set(&c.Google.ClientID, "GOOGLE_CLIENT_ID")
	set(&c.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")

	if v, ok := lookup("PARLEY_BARGE_IN"); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.BargeIn = b
		}
	}
	// The OpenAI key doubles as the speech key when OpenAI voices are used.
	if c.Speech.Provider == SpeechOpenAI && c.Speech.APIKey == "" {
		c.Speech.APIKey = c.Completion.APIKey
	}
}

// Validate checks settings that do not depend on the command being run.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Speech.Provider) {
	case SpeechElevenLabs, SpeechOpenAI, SpeechNone, "":
	default:
		return &ConfigError{Field: "speech.provider", Message: fmt.Sprintf("unknown provider %q", c.Speech.Provider)}
	}
	switch strings.ToLower(c.Speech.Player) {
	case PlayerExec, PlayerBroadcast, PlayerNone, "":
	default:
		return &ConfigError{Field: "speech.player", Message: fmt.Sprintf("unknown player %q", c.Speech.Player)}
	}
	if c.Completion.Timeout < 0 {
		return &ConfigError{Field: "completion.timeout", Message: "must not be negative"}
	}
	if c.Speech.Timeout < 0 {
		return &ConfigError{Field: "speech.timeout", Message: "must not be negative"}
	}
	if c.Store.RedisAddr != "" && c.Store.Path == "" {
		return &ConfigError{Field: "store.redis_addr", Message: "requires store.path"}
	}
	return nil
}

// RequireCompletion checks that a completion API key is set.
func (c *Config) RequireCompletion() error {
	if c.Completion.APIKey == "" {
		return &ConfigError{Field: "completion.api_key", Message: "set OPENAI_API_KEY or completion.api_key"}
	}
	return nil
}

// SpeechEnabled reports whether replies are voiced.
func (c *Config) SpeechEnabled() bool {
	provider := strings.ToLower(c.Speech.Provider)
	player := strings.ToLower(c.Speech.Player)
	return provider != SpeechNone && provider != "" &&
		player != PlayerNone && player != "" &&
		c.Speech.APIKey != ""
}
