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

func completionServer(t *testing.T, choice map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]any{"choices": []any{choice}}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
}

func TestClientHealthCheck(t *testing.T) {
	server := completionServer(t, map[string]any{
		"message": map[string]any{"content": `{"ok":true}`},
	})
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "qwen-turbo"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckCodeFence(t *testing.T) {
	server := completionServer(t, map[string]any{
		"message": map[string]any{"content": "```json\n{\"ok\":true}\n```"},
	})
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "qwen-turbo"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientHealthCheckFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", BaseURL: server.URL, Model: "demo"})
	if err := client.HealthCheck(context.Background()); err == nil {
		t.Fatal("expected health check to fail")
	}
}

func TestCompleteTextSendsPromptsAndTrimsAnswer(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{
					"message": map[string]any{"content": "\n\"pick up the moka pot\"\nextra commentary"},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "deepseek-chat", Temperature: 0.3, MaxTokens: 50})
	text, err := client.CompleteText(context.Background(), "You write robot task labels.", "task: put both moka pots on the stove")
	if err != nil {
		t.Fatalf("CompleteText returned error: %v", err)
	}
	if text != "pick up the moka pot" {
		t.Fatalf("unexpected text %q", text)
	}
	if got.Model != "deepseek-chat" || got.MaxTokens != 50 || got.Temperature != 0.3 {
		t.Fatalf("unexpected request %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages %+v", got.Messages)
	}
	if got.ResponseFormat != nil {
		t.Fatalf("expected no response_format for text completion, got %v", got.ResponseFormat)
	}
}

func TestCompleteTextRequiresAPIKey(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1", Model: "demo"})
	if _, err := client.CompleteText(context.Background(), "", "prompt"); err == nil {
		t.Fatal("expected missing api key error")
	}
}

func TestCompleteTextEmptyContentHasSnippet(t *testing.T) {
	server := completionServer(t, map[string]any{
		"finish_reason": "stop",
		"message":       map[string]any{"content": ""},
	})
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithRetryBackoff(0, 0),
		WithSleeper(func(time.Duration) {}),
	)
	_, err := client.CompleteText(context.Background(), "", "prompt")
	if err == nil {
		t.Fatal("expected completion to fail")
	}
	if !strings.Contains(err.Error(), "empty content") || !strings.Contains(err.Error(), "response_snippet=") {
		t.Fatalf("expected empty-content error to include snippet, got %v", err)
	}
}

func TestCompleteTextDeltaAndLegacyText(t *testing.T) {
	for name, choice := range map[string]map[string]any{
		"delta":  {"delta": map[string]any{"content": "pick up the bowl"}},
		"legacy": {"text": "pick up the bowl"},
	} {
		t.Run(name, func(t *testing.T) {
			server := completionServer(t, choice)
			defer server.Close()
			client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
			text, err := client.CompleteText(context.Background(), "", "prompt")
			if err != nil {
				t.Fatalf("CompleteText returned error: %v", err)
			}
			if text != "pick up the bowl" {
				t.Fatalf("unexpected text %q", text)
			}
		})
	}
}

func TestClientRetriesOnHTTP429(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "rate limited"})
			return
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": "put the pot on the stove"}},
			},
		}
		_ = json.NewEncoder(w).Encode(payload)
	}))
	defer server.Close()

	var slept []time.Duration
	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
		WithRetryBackoff(0, 10*time.Second),
		WithRetryMaxAttempts(5),
	)
	text, err := client.CompleteText(context.Background(), "", "prompt")
	if err != nil {
		t.Fatalf("CompleteText returned error: %v", err)
	}
	if text != "put the pot on the stove" {
		t.Fatalf("unexpected text %q", text)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected single sleep of 1s, got %v", slept)
	}
}

func TestClientDoesNotRetryOnBadRequest(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(
		Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"},
		WithSleeper(func(time.Duration) {}),
	)
	if _, err := client.CompleteText(context.Background(), "", "prompt"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestFirstLine(t *testing.T) {
	cases := map[string]string{
		"pick up the mug":              "pick up the mug",
		"  \n'place the mug'\nignored": "place the mug",
		"`pick the bowl`":              "pick the bowl",
		"":                             "",
	}
	for in, want := range cases {
		if got := FirstLine(in); got != want {
			t.Fatalf("FirstLine(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDecodeJSONExtractsObject(t *testing.T) {
	var parsed struct {
		OK bool `json:"ok"`
	}
	if err := DecodeJSON("Sure! {\"ok\":true} done", &parsed); err != nil {
		t.Fatalf("DecodeJSON returned error: %v", err)
	}
	if !parsed.OK {
		t.Fatal("expected ok=true")
	}
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := retryPolicy{attempts: 6, base: time.Second, max: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := p.backoff(i + 1); got != w {
			t.Fatalf("backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestRetryPolicyStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := defaultRetryPolicy()
	if _, again := p.next(ctx, &statusError{code: 503}, 1); again {
		t.Fatal("expected no retry after cancellation")
	}
	if _, again := p.next(context.Background(), &statusError{code: 503}, 1); !again {
		t.Fatal("expected 503 to retry")
	}
	if _, again := p.next(context.Background(), &statusError{code: 401}, 1); again {
		t.Fatal("expected 401 not to retry")
	}
}
