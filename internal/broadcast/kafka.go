package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/segmentio/kafka-go"
)

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes each event as a JSON message keyed by segment or
// intersection id, so every consumer partition sees one id in order.
type KafkaPublisher struct {
	topic  string
	writer kafkaMessageWriter
}

// NewKafkaPublisher returns a publisher writing to topic on brokers. Writes
// wait for all in-sync replicas.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka topic must not be empty")
	}
	if len(brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
	}
	return newKafkaPublisherWithWriter(topic, w), nil
}

// newKafkaPublisherWithWriter is used in tests.
func newKafkaPublisherWithWriter(topic string, w kafkaMessageWriter) *KafkaPublisher {
	return &KafkaPublisher{topic: topic, writer: w}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Kind, err)
	}
	msg := kafka.Message{
		Key:     []byte(e.Key()),
		Value:   value,
		Time:    e.Time,
		Headers: []kafka.Header{{Key: "kind", Value: []byte(e.Kind)}},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write to %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
