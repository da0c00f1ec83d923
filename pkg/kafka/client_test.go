package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"ngmc-chatbot-go/pkg/events"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestProducerPublishUsage(t *testing.T) {
	w := &recordingWriter{}
	p := &Producer{writer: w}

	at := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	event := events.UsageEvent{Model: "gpt-4", PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500, CostUSD: 0.06, CostINR: 5.04, At: at}
	if err := p.PublishUsage(context.Background(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "gpt-4" {
		t.Fatalf("unexpected key %q", w.msgs[0].Key)
	}
	var got events.UsageEvent
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.TotalTokens != 1500 || !got.At.Equal(at) {
		t.Fatalf("unexpected payload: %+v", got)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("expected writer to be closed, err=%v", err)
	}
}

func TestProducerPublishError(t *testing.T) {
	p := &Producer{writer: &recordingWriter{err: errors.New("broker down")}}
	if err := p.PublishUsage(context.Background(), events.UsageEvent{Model: "gpt-4"}); err == nil {
		t.Fatal("expected write error to surface")
	}
}
