// Package inference talks to an OpenAI-compatible chat completion API.
//
// Client is the raw HTTP provider. Completer wraps any Provider with the
// conversation policy: a fixed system instruction, one attempt per request
// and a bounded timeout, with failures classified as timeout, transport or
// empty.
//
//	client, _ := inference.NewClient(
//	    inference.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	)
//	completer := inference.NewCompleter(client)
//
//	reply, err := completer.Complete(ctx, []inference.Message{
//	    inference.NewUserMessage("Hello!"),
//	})
package inference

import "context"

// Provider generates chat completions.
type Provider interface {
	// Chat generates a response from a sequence of messages.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Health checks provider connectivity and API key validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// ChatRequest for chat completions.
type ChatRequest struct {
	Messages []Message

	// Model overrides the default model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0).
	Temperature float64

	// Stop sequences that halt generation.
	Stop []string
}

// ChatResponse from chat completion.
type ChatResponse struct {
	Message      Message
	FinishReason string
	Usage        Usage
	Model        string
	LatencyMs    int64
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
