package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ngmc-chatbot-go/internal/config"
	"ngmc-chatbot-go/pkg/events"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.UsageEvent
}

func (p *recordingPublisher) PublishUsage(_ context.Context, e events.UsageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func testConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		APIKey:         "sk-test",
		BaseURL:        baseURL,
		Model:          "gpt-4",
		MaxTokens:      1200,
		Temperature:    0.7,
		Timeout:        2 * time.Second,
		MaxConcurrency: 2,
		Pricing:        config.PricingConfig{PromptPer1K: 0.03, CompletionPer1K: 0.06, INRPerUSD: 84},
	}
}

func TestCompleteSendsParametersAndReportsUsage(t *testing.T) {
	var got struct {
		Model       string    `json:"model"`
		MaxTokens   int       `json:"max_tokens"`
		Temperature float32   `json:"temperature"`
		Messages    []Message `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer key")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "  {\"reply\":\"hi\",\"title\":\"Greeting\"}\n"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 1000, "completion_tokens": 500, "total_tokens": 1500}
		}`))
	}))
	defer srv.Close()

	pub := &recordingPublisher{}
	client := NewClient(testConfig(srv.URL+"/v1"), pub)
	reply := client.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "system prompt"},
		{Role: RoleUser, Content: "hello"},
	})

	if reply != `{"reply":"hi","title":"Greeting"}` {
		t.Fatalf("unexpected reply %q", reply)
	}
	if got.Model != "gpt-4" || got.MaxTokens != 1200 {
		t.Fatalf("unexpected request parameters: %+v", got)
	}
	if got.Temperature < 0.69 || got.Temperature > 0.71 {
		t.Fatalf("unexpected temperature %v", got.Temperature)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "hello" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}

	if len(pub.events) != 1 {
		t.Fatalf("expected one usage event, got %d", len(pub.events))
	}
	e := pub.events[0]
	if e.TotalTokens != 1500 || e.CostUSD != 0.06 || e.CostINR != 5.04 {
		t.Fatalf("unexpected usage event: %+v", e)
	}
}

func TestCompleteFallsBackOnUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	pub := &recordingPublisher{}
	reply := NewClient(testConfig(srv.URL), pub).Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if reply != DefaultFallbackReply {
		t.Fatalf("expected fallback reply, got %q", reply)
	}
	if len(pub.events) != 0 {
		t.Fatal("failed calls must not publish usage")
	}
}

func TestCompleteFallsBackOnEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","choices":[],"usage":{}}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.FallbackReply = "custom apology"
	reply := NewClient(cfg, nil).Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if reply != "custom apology" {
		t.Fatalf("expected configured fallback, got %q", reply)
	}
}

func TestCompleteFallsBackOnTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(srv.URL)
	cfg.Timeout = 50 * time.Millisecond
	start := time.Now()
	reply := NewClient(cfg, nil).Complete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	if reply != DefaultFallbackReply {
		t.Fatalf("expected fallback on timeout, got %q", reply)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout was not honored")
	}
}

func TestCost(t *testing.T) {
	pricing := config.PricingConfig{PromptPer1K: 0.03, CompletionPer1K: 0.06, INRPerUSD: 84}
	usd, inr := Cost(Usage{PromptTokens: 1234, CompletionTokens: 567}, pricing)
	if usd != 0.07 || inr != 5.97 {
		t.Fatalf("unexpected cost usd=%v inr=%v", usd, inr)
	}
	usd, inr = Cost(Usage{}, pricing)
	if usd != 0 || inr != 0 {
		t.Fatalf("expected zero cost, got usd=%v inr=%v", usd, inr)
	}
}
