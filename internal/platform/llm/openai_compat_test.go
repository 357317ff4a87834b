package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testClient(t *testing.T, url string) openAICompatClient {
	t.Helper()
	c := newOpenAICompatClient(Config{BaseURL: url, APIKey: "test-key", Model: "test-model"}, zerolog.Nop())
	c.retryDelay = time.Millisecond
	return c
}

func chatFixture(content string) string {
	quoted, _ := json.Marshal(content)
	return `{
		"choices": [{"message": {"content": ` + string(quoted) + `}, "finish_reason": "stop"}],
		"model": "test-model",
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`
}

func TestChat_Success(t *testing.T) {
	var gotBody chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("expected bearer auth, got %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(chatFixture("hello")))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	resp, err := c.chat(context.Background(), ChatRequest{
		Messages:       []Message{{Role: "user", Content: "hi"}},
		Temperature:    0.1,
		MaxTokens:      1000,
		ResponseFormat: "json_object",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.Content != "hello" {
		t.Errorf("expected content 'hello', got %q", resp.Content)
	}
	if resp.TotalTokens != 15 {
		t.Errorf("expected 15 total tokens, got %d", resp.TotalTokens)
	}
	if gotBody.Model != "test-model" {
		t.Errorf("expected config model fallback, got %q", gotBody.Model)
	}
	if gotBody.ResponseFormat == nil || gotBody.ResponseFormat.Type != "json_object" {
		t.Error("expected json_object response format in request")
	}
	if gotBody.MaxTokens != 1000 {
		t.Errorf("expected max_tokens 1000, got %d", gotBody.MaxTokens)
	}
}

func TestChat_RetriesOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(chatFixture("recovered")))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	resp, err := c.chat(context.Background(), ChatRequest{
		Messages:   []Message{{Role: "user", Content: "hi"}},
		MaxRetries: 3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "recovered" {
		t.Errorf("expected content 'recovered', got %q", resp.Content)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestChat_MaxRetriesExceeded(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.chat(context.Background(), ChatRequest{
		Messages:   []Message{{Role: "user", Content: "hi"}},
		MaxRetries: 2,
	})
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
}

func TestChat_NonRetryableStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "bad request"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.chat(context.Background(), ChatRequest{
		Messages:   []Message{{Role: "user", Content: "hi"}},
		MaxRetries: 3,
	})
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected a single attempt for non-retryable status, got %d", got)
	}
}

func TestChat_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices": [], "model": "test-model"}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error for empty choices")
	}
}

func TestChat_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := testClient(t, srv.URL)
	_, err := c.chat(ctx, ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestEmbed_OrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Write([]byte(`{"data": [
			{"embedding": [0.2, 0.2], "index": 1},
			{"embedding": [0.1, 0.1], "index": 0}
		]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	got, err := c.embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 embeddings, got %d", len(got))
	}
	if got[0][0] != 0.1 {
		t.Errorf("expected index 0 embedding first, got %v", got[0])
	}
	if got[1][0] != 0.2 {
		t.Errorf("expected index 1 embedding second, got %v", got[1])
	}
}

func TestNewProvider(t *testing.T) {
	logger := zerolog.Nop()

	tests := []struct {
		provider string
		wantErr  bool
	}{
		{"groq", false},
		{"openai", false},
		{"custom", false},
		{"", true},
		{"mystery", true},
	}
	for _, tt := range tests {
		t.Run("provider_"+tt.provider, func(t *testing.T) {
			_, err := NewProvider(Config{Provider: tt.provider}, logger)
			if tt.wantErr && err == nil {
				t.Errorf("expected error for provider %q", tt.provider)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for provider %q: %v", tt.provider, err)
			}
		})
	}
}

func TestNewGroq_Defaults(t *testing.T) {
	p := NewGroq(Config{}, zerolog.Nop())
	gp, ok := p.(*groqProvider)
	if !ok {
		t.Fatalf("expected *groqProvider, got %T", p)
	}
	if gp.base.cfg.BaseURL != "https://api.groq.com/openai" {
		t.Errorf("unexpected default base url: %s", gp.base.cfg.BaseURL)
	}
	if gp.base.cfg.Model != "llama-3.3-70b-versatile" {
		t.Errorf("unexpected default model: %s", gp.base.cfg.Model)
	}
}
