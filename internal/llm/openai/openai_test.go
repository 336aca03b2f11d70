package openai

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jkaninda/msaidizi/internal/domain"
	"github.com/jkaninda/msaidizi/internal/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestComplete(t *testing.T) {
	var captured apiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("auth header = %q", r.Header.Get("Authorization"))
		}
		json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices":[{"message":{"role":"assistant","content":"Paris"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":12,"completion_tokens":3}
		}`))
	}))
	defer srv.Close()

	c := NewClient("sk-test", "gpt-4o-mini", testLogger(), WithBaseURL(srv.URL))
	resp, err := c.Complete(context.Background(), &llm.Request{
		SystemPrompt: "You answer geography questions.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "Capital of France?"}},
		Hyperparams:  llm.Hyperparams{MaxTokens: 50, Temperature: 0.2},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Paris" || resp.StopReason != "end_turn" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 3 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if len(captured.Messages) != 2 || captured.Messages[0].Role != "system" {
		t.Errorf("messages = %+v", captured.Messages)
	}
	if captured.MaxTokens != 50 || captured.Temperature != 0.2 {
		t.Errorf("hyperparams = %+v", captured)
	}
}

func TestComplete_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("sk-test", "gpt-4o-mini", testLogger(), WithBaseURL(srv.URL))
	_, err := c.Complete(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	if domain.KindOf(err) != domain.KindRateLimited {
		t.Fatalf("kind = %s, want rate_limited", domain.KindOf(err))
	}
}

func TestNormalizeFinishReason(t *testing.T) {
	tests := map[string]string{
		"stop":   "end_turn",
		"length": "max_tokens",
		"other":  "other",
	}
	for in, want := range tests {
		if got := normalizeFinishReason(in); got != want {
			t.Errorf("normalizeFinishReason(%q) = %q, want %q", in, got, want)
		}
	}
}
