// Package llm provides a client for OpenAI-compatible chat completion APIs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/semaphore"
	"ngmc-chatbot-go/internal/config"
	"ngmc-chatbot-go/pkg/events"
	"ngmc-chatbot-go/pkg/log"
)

// Message roles accepted by the chat API.
const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// DefaultFallbackReply replaces the model output whenever a call fails.
const DefaultFallbackReply = "I'm sorry, I'm having trouble processing your request right now. Please try again later."

// Message is a role-tagged chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client sends a conversation to the model and returns the reply text.
// Complete never fails: on any error it logs and returns the fallback reply.
type Client interface {
	Complete(ctx context.Context, messages []Message) string
}

// Usage is the token accounting of one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Cost converts usage into USD and INR with the configured per-1000-token rates,
// each rounded to two decimals.
func Cost(u Usage, p config.PricingConfig) (usd, inr float64) {
	raw := float64(u.PromptTokens)/1000*p.PromptPer1K + float64(u.CompletionTokens)/1000*p.CompletionPer1K
	return round2(raw), round2(raw * p.INRPerUSD)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

type openAIClient struct {
	cfg       config.LLMConfig
	api       *openai.Client
	sem       *semaphore.Weighted
	publisher events.Publisher
	fallback  string
}

// NewClient builds a Client for cfg. Usage events go to publisher; pass events.Nop{} to drop them.
func NewClient(cfg config.LLMConfig, publisher events.Publisher) Client {
	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	apiCfg.HTTPClient = &http.Client{}

	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	fallback := cfg.FallbackReply
	if fallback == "" {
		fallback = DefaultFallbackReply
	}
	return &openAIClient{
		cfg:       cfg,
		api:       openai.NewClientWithConfig(apiCfg),
		sem:       semaphore.NewWeighted(concurrency),
		publisher: publisher,
		fallback:  fallback,
	}
}

func (c *openAIClient) Complete(ctx context.Context, messages []Message) string {
	reply, err := c.complete(ctx, messages)
	if err != nil {
		log.Errorw("chat completion failed, using fallback reply", "model", c.cfg.Model, "error", err)
		return c.fallback
	}
	return reply
}

func (c *openAIClient) complete(ctx context.Context, messages []Message) (string, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("waiting for a model slot: %w", err)
	}
	defer c.sem.Release(1)

	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		MaxTokens:   c.cfg.MaxTokens,
		Temperature: c.cfg.Temperature,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to call chat api: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat api returned no choices")
	}

	c.recordUsage(ctx, Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, time.Since(start))

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *openAIClient) recordUsage(ctx context.Context, u Usage, latency time.Duration) {
	usd, inr := Cost(u, c.cfg.Pricing)
	log.Infow("chat completion usage",
		"model", c.cfg.Model,
		"prompt_tokens", u.PromptTokens,
		"completion_tokens", u.CompletionTokens,
		"total_tokens", u.TotalTokens,
		"cost_usd", usd,
		"cost_inr", inr,
		"latency", latency,
	)
	event := events.UsageEvent{
		Model:            c.cfg.Model,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
		CostUSD:          usd,
		CostINR:          inr,
		At:               time.Now().UTC(),
	}
	if err := c.publisher.PublishUsage(ctx, event); err != nil {
		log.Warnf("failed to publish usage event: %v", err)
	}
}
