package inference

import (
	"log/slog"
	"time"
)

// DefaultSystemPrompt is sent ahead of every conversation.
const DefaultSystemPrompt = "You are a helpful assistant."

// Config holds provider configuration.
type Config struct {
	BaseURL string
	APIKey  string // optional for local providers

	Model string

	MaxTokens   int
	Temperature float64

	// SystemPrompt is prepended by the Completer.
	SystemPrompt string

	// Timeout bounds one completion request.
	Timeout time.Duration

	Logger *slog.Logger
}

// Option is a functional option for configuring providers.
type Option func(*Config)

// WithBaseURL sets the API base URL.
// Examples: "https://api.openai.com/v1", "http://localhost:11434/v1"
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithModel sets the default chat model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithMaxTokens sets the default max tokens.
func WithMaxTokens(n int) Option {
	return func(c *Config) { c.MaxTokens = n }
}

// WithTemperature sets the default temperature.
func WithTemperature(t float64) Option {
	return func(c *Config) { c.Temperature = t }
}

// WithSystemPrompt sets the instruction the Completer prepends.
func WithSystemPrompt(prompt string) Option {
	return func(c *Config) { c.SystemPrompt = prompt }
}

// WithTimeout sets the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults for OpenAI.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      "https://api.openai.com/v1",
		Model:        "gpt-4-turbo",
		MaxTokens:    1024,
		Temperature:  0.7,
		SystemPrompt: DefaultSystemPrompt,
		Timeout:      30 * time.Second,
		Logger:       slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
// The API key stays optional for local providers like Ollama.
func (c *Config) Validate() error {
	if c.Model == "" {
		return ErrNoModel
	}
	return nil
}
