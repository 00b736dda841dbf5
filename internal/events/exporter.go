// Package events publishes domain events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	SignalPosted = "signal_posted"
	SignalClosed = "signal_closed"
	UserFollowed = "user_followed"
	TierUpgraded = "tier_upgraded"
)

type Event struct {
	Type       string    `json:"type"`
	Username   string    `json:"username"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload,omitempty"`
}

// Exporter publishes events without blocking the caller on delivery.
type Exporter interface {
	Export(ctx context.Context, ev Event)
	Close() error
}

type NopExporter struct{}

func (NopExporter) Export(context.Context, Event) {}
func (NopExporter) Close() error                  { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaExporter struct {
	w   messageWriter
	log *log.Logger
}

// NewKafkaExporter writes to topic asynchronously. Delivery failures are
// reported through the logger.
func NewKafkaExporter(brokers []string, topic string, logger *log.Logger) *KafkaExporter {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Printf("kafka: failed to deliver %d event(s): %v", len(messages), err)
			}
		},
	}
	return &KafkaExporter{w: w, log: logger}
}

func (e *KafkaExporter) Export(ctx context.Context, ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	value, err := json.Marshal(ev)
	if err != nil {
		e.log.Printf("kafka: encode %s event: %v", ev.Type, err)
		return
	}

	// events of one user land on one partition
	err = e.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Username),
		Value: value,
		Time:  ev.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	})
	if err != nil {
		e.log.Printf("kafka: write %s event: %v", ev.Type, err)
	}
}

func (e *KafkaExporter) Close() error {
	return e.w.Close()
}
