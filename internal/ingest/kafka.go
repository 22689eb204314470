// Package ingest exports ride lifecycle events to Kafka for downstream
// consumers. Publishing is best-effort: the engine never blocks or fails a
// state transition because the event pipeline is down.
package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event types emitted by the engine.
const (
	EventCallOpened    = "call_opened"
	EventCallClaimed   = "call_claimed"
	EventCallCancelled = "call_cancelled"
	EventOfferMade     = "offer_made"
	EventDealAgreed    = "deal_agreed"
	EventRideCompleted = "ride_completed"
)

// Event is one lifecycle event on a call or transaction.
type Event struct {
	Type          string    `json:"type"`
	ActorID       string    `json:"actor_id,omitempty"`
	CallID        string    `json:"call_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Price         float64   `json:"price,omitempty"`
	At            time.Time `json:"at"`
}

// Publisher is implemented by event sinks. A nil Publisher everywhere in
// the engine means events are simply not exported.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic, keyed by call ID so that
// one call's events stay in partition order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaPublisher{writer: w}
}

// Publish writes one event.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ev.CallID), Value: b})
}

// Close flushes and releases the writer.
func (p *KafkaPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
