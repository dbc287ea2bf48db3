package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Writer is the part of *kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	w     Writer
	topic string
	log   zerolog.Logger
}

// NewProducer writes synchronously with acks from all replicas.
func NewProducer(brokers []string, topic string, log zerolog.Logger) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}, topic, log)
}

func NewProducerWithWriter(w Writer, topic string, log zerolog.Logger) *Producer {
	return &Producer{
		w:     w,
		topic: topic,
		log:   log.With().Str("component", "kafka-producer").Str("topic", topic).Logger(),
	}
}

func (p *Producer) Topic() string { return p.topic }

// Send writes one message and waits for the broker's acknowledgement.
func (p *Producer) Send(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	err := p.w.WriteMessages(ctx, kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	})
	if err != nil {
		return fmt.Errorf("kafka write %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes and closes the writer. Call it after the last Send has returned.
func (p *Producer) Close() {
	if err := p.w.Close(); err != nil {
		p.log.Warn().Err(err).Msg("close writer")
	}
}
