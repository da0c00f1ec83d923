// Package events defines the messages published to the usage topic.
package events

import (
	"context"
	"time"
)

// UsageEvent records the token usage and estimated cost of one model call.
type UsageEvent struct {
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CostUSD          float64   `json:"cost_usd"`
	CostINR          float64   `json:"cost_inr"`
	At               time.Time `json:"at"`
}

// Publisher delivers usage events. Implementations must be safe for concurrent use.
type Publisher interface {
	PublishUsage(ctx context.Context, event UsageEvent) error
	Close() error
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) PublishUsage(context.Context, UsageEvent) error { return nil }

func (Nop) Close() error { return nil }
