package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// DefaultTopic receives events when no topic is configured.
const DefaultTopic = "courierhub.shipments"

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Producer publishes events as JSON to a Kafka topic, keyed by order id so
// every event of an order lands on the same partition.
type Producer struct {
	w     writer
	topic string
	close func() error
}

// NewProducer creates a producer for brokers and topic.
func NewProducer(brokers []string, topic string) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	p := newProducerWithWriter(w, topic)
	p.close = w.Close
	return p
}

func newProducerWithWriter(w writer, topic string) *Producer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Producer{w: w, topic: topic}
}

// Publish writes one event.
func (p *Producer) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{
		Topic: p.topic,
		Key:   []byte(e.OrderID),
		Value: value,
		Time:  e.OccurredAt,
	}); err != nil {
		return errors.Wrap(err, "kafka publish")
	}
	return nil
}

// Close flushes pending writes.
func (p *Producer) Close() error {
	if p.close == nil {
		return nil
	}
	return errors.Wrap(p.close(), "kafka close")
}

var _ Publisher = (*Producer)(nil)
