package inference

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Completer applies the conversation policy on top of a Provider.
type Completer struct {
	provider     Provider
	systemPrompt string
	timeout      time.Duration
	logger       *slog.Logger
}

// NewCompleter wraps provider. Only SystemPrompt, Timeout and Logger are
// read from the options.
func NewCompleter(provider Provider, opts ...Option) *Completer {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	return &Completer{
		provider:     provider,
		systemPrompt: cfg.SystemPrompt,
		timeout:      cfg.Timeout,
		logger:       cfg.Logger.With("component", "inference.completer"),
	}
}

// Complete sends history, preceded by the system instruction, and returns
// the reply text. The call is made once and is bounded by the configured
// timeout. Every failure is a *CompletionError.
func (c *Completer) Complete(ctx context.Context, history []Message) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	messages := make([]Message, 0, len(history)+1)
	if c.systemPrompt != "" {
		messages = append(messages, NewSystemMessage(c.systemPrompt))
	}
	messages = append(messages, history...)

	start := time.Now()
	resp, err := c.provider.Chat(ctx, &ChatRequest{Messages: messages})
	if err == nil && strings.TrimSpace(resp.Message.Content) == "" {
		err = ErrEmptyResponse
	}
	if err != nil {
		reason := Classify(err)
		if reason == ReasonTransport && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		c.logger.Warn("completion failed",
			"reason", reason,
			"messages", len(messages),
			"elapsed_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return "", &CompletionError{Reason: reason, Err: err}
	}

	return resp.Message.Content, nil
}
