// Package kafka publishes usage events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
	"ngmc-chatbot-go/internal/config"
	"ngmc-chatbot-go/pkg/events"
	"ngmc-chatbot-go/pkg/log"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer is an events.Publisher backed by a kafka.Writer.
type Producer struct {
	writer messageWriter
}

// NewProducer builds a producer for cfg.Topic on the comma separated cfg.Brokers.
func NewProducer(cfg config.KafkaConfig) *Producer {
	var brokers []string
	for _, b := range strings.Split(cfg.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		// usage events are telemetry; don't hold up the request on broker acks
		Async: true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				log.Errorf("failed to deliver %d usage events: %v", len(msgs), err)
			}
		},
	}
	log.Infof("Kafka producer initialized for topic '%s'", cfg.Topic)
	return &Producer{writer: w}
}

// PublishUsage sends event keyed by model name.
func (p *Producer) PublishUsage(ctx context.Context, event events.UsageEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal usage event: %w", err)
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Model),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("failed to publish usage event: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}
