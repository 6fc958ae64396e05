package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func completionBody(content string) string {
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}, "finish_reason": "stop"},
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(
		Config{APIKey: "test-key", BaseURL: server.URL, Model: "test-model", MaxAttempts: 4},
		WithSleeper(func(d time.Duration) {}),
	)
	return client, server
}

func TestCompleteJSONSuccess(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var payload chatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if payload.Model != "test-model" || len(payload.Messages) != 2 {
			t.Errorf("unexpected request payload: %+v", payload)
		}
		_, _ = w.Write([]byte(completionBody(`{"client_name":"Acme"}`)))
	})

	content, err := client.CompleteJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if content != `{"client_name":"Acme"}` {
		t.Fatalf("unexpected content %q", content)
	}
}

func TestCompleteJSONRetriesTransientStatuses(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		switch calls {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte(completionBody(`{"ok":true}`)))
		}
	})

	if _, err := client.CompleteJSON(context.Background(), "system", "user"); err != nil {
		t.Fatalf("expected recovery after transient failures, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestCompleteJSONDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	})

	if _, err := client.CompleteJSON(context.Background(), "system", "user"); err == nil {
		t.Fatal("expected error for 400")
	}
	if calls != 1 {
		t.Fatalf("400 must not be retried, got %d calls", calls)
	}
}

func TestCompleteJSONExhaustsAttempts(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.CompleteJSON(context.Background(), "system", "user")
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if !strings.Contains(err.Error(), "failed after 4 attempts") {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", calls)
	}
}

func TestCompleteJSONRetriesEmptyContent(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			_, _ = w.Write([]byte(completionBody("")))
			return
		}
		_, _ = w.Write([]byte(completionBody(`{"ok":true}`)))
	})

	if _, err := client.CompleteJSON(context.Background(), "system", "user"); err != nil {
		t.Fatalf("expected retry on empty content, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestCompleteJSONSurfacesAPIErrorEnvelope(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":{"message":"model overloaded"}}`))
	})

	_, err := client.CompleteJSON(context.Background(), "system", "user")
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("expected api error envelope surfaced, got %v", err)
	}
}

func TestCompleteJSONRequiresPromptsAndKey(t *testing.T) {
	client := NewClient(Config{APIKey: "k", BaseURL: "http://localhost", Model: "m"})
	if _, err := client.CompleteJSON(context.Background(), "", "user"); err == nil {
		t.Fatal("expected error for empty system prompt")
	}
	if _, err := client.CompleteJSON(context.Background(), "system", ""); err == nil {
		t.Fatal("expected error for empty user prompt")
	}
	noKey := NewClient(Config{BaseURL: "http://localhost", Model: "m"})
	if _, err := noKey.CompleteJSON(context.Background(), "system", "user"); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		ClientName string `json:"client_name"`
	}
	cases := []struct {
		name    string
		content string
	}{
		{"plain", `{"client_name":"Acme"}`},
		{"code fence", "```json\n{\"client_name\":\"Acme\"}\n```"},
		{"bare fence", "```\n{\"client_name\":\"Acme\"}\n```"},
		{"prose wrapped", `Here is the extraction: {"client_name":"Acme"} as requested.`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var out payload
			if err := DecodeJSON(tc.content, &out); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.ClientName != "Acme" {
				t.Fatalf("unexpected payload %+v", out)
			}
		})
	}

	var out payload
	if err := DecodeJSON("", &out); err == nil {
		t.Fatal("expected error for empty payload")
	}
	if err := DecodeJSON("no json here at all", &out); err == nil {
		t.Fatal("expected error for non-JSON payload")
	}
}
