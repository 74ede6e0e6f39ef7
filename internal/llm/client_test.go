package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"aistudio/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Options{APIKey: "test-key", BaseURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func completionResponse(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
}

func TestRefineSendsMessagesAndTrimsOutput(t *testing.T) {
	var got chatRequest
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		_ = json.NewEncoder(w).Encode(completionResponse("  refined text \n"))
	})

	out, err := client.Refine(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("Refine() error = %v", err)
	}
	if out != "refined text" {
		t.Fatalf("Refine() = %q", out)
	}
	if got.Model != "gpt-4o-mini" {
		t.Fatalf("model = %q, want gpt-4o-mini default", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Fatalf("messages = %+v", got.Messages)
	}
}

func TestRefineRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(completionResponse("second try"))
	})

	out, err := client.Refine(context.Background(), "s", "u")
	if err != nil {
		t.Fatalf("Refine() error = %v", err)
	}
	if out != "second try" {
		t.Fatalf("Refine() = %q", out)
	}
	if calls.Load() != 2 {
		t.Fatalf("server hit %d times, want 2", calls.Load())
	}
}

func TestRefineDoesNotRetryPermanentFailures(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	})

	_, err := client.Refine(context.Background(), "s", "u")
	if err == nil {
		t.Fatal("Refine() = nil for 400")
	}
	if domain.IsTransient(err) {
		t.Fatalf("400 classified transient: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("server hit %d times, want 1", calls.Load())
	}
}

func TestRefineEscalatesExhaustedRetries(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := client.Refine(context.Background(), "s", "u")
	if err == nil {
		t.Fatal("Refine() = nil, want escalated error")
	}
	if kind := domain.KindOf(err); kind != domain.ErrorKindProviderPermanent {
		t.Fatalf("KindOf(err) = %q, want %q", kind, domain.ErrorKindProviderPermanent)
	}
}

func TestRefineRejectsEmptyChoices(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})
	if _, err := client.Refine(context.Background(), "s", "u"); err == nil {
		t.Fatal("Refine() accepted a response with no choices")
	}
}
