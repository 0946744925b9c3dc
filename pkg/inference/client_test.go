package inference

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestClientChat(t *testing.T) {
	var got chatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected /chat/completions, got %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Expected Bearer test-key, got %s", auth)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "test-id",
			"model": "gpt-4-turbo",
			"choices": [{"message": {"role": "assistant", "content": "Hello! How can I help?"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	client, err := NewClient(
		WithBaseURL(server.URL),
		WithAPIKey("test-key"),
	)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	defer client.Close()

	resp, err := client.Chat(context.Background(), &ChatRequest{
		Messages: []Message{NewUserMessage("Hello")},
	})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	if resp.Message.Content != "Hello! How can I help?" {
		t.Errorf("unexpected content: %s", resp.Message.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("Expected 15 total tokens, got %d", resp.Usage.TotalTokens)
	}
	if got.Model != "gpt-4-turbo" {
		t.Errorf("Expected default model gpt-4-turbo, got %s", got.Model)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != RoleUser {
		t.Errorf("unexpected messages sent: %+v", got.Messages)
	}
}

func TestClientChatAPIError(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","code":"rate_limit_exceeded"}}`))
	}))
	defer server.Close()

	client, _ := NewClient(WithBaseURL(server.URL))
	_, err := client.Chat(context.Background(), &ChatRequest{Messages: []Message{NewUserMessage("hi")}})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Expected APIError, got %T: %v", err, err)
	}
	if !apiErr.IsRateLimited() {
		t.Error("Expected rate limited error")
	}
	if apiErr.Code != "rate_limit_exceeded" || apiErr.Message != "slow down" {
		t.Errorf("unexpected error fields: %+v", apiErr)
	}
	if hits.Load() != 1 {
		t.Errorf("Expected a single attempt, got %d", hits.Load())
	}
}

func TestClientChatNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	client, _ := NewClient(WithBaseURL(server.URL))
	_, err := client.Chat(context.Background(), &ChatRequest{})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Expected ErrEmptyResponse, got %v", err)
	}
}

func TestClientHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	client, _ := NewClient(WithBaseURL(server.URL))
	if err := client.Health(context.Background()); err != nil {
		t.Errorf("Health failed: %v", err)
	}
}

func TestNewClientRequiresModel(t *testing.T) {
	if _, err := NewClient(WithModel("")); !errors.Is(err, ErrNoModel) {
		t.Errorf("Expected ErrNoModel, got %v", err)
	}
}
