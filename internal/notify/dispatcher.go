package notify

import (
	"context"

	"github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/pickup-reservations/internal/kafka"
)

// Sender is satisfied by *kafkax.Producer.
type Sender interface {
	Send(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

// KafkaDispatcher publishes outbox envelopes to the delivery topic and waits for the ack.
type KafkaDispatcher struct {
	sender Sender
}

func NewKafkaDispatcher(s Sender) *KafkaDispatcher {
	return &KafkaDispatcher{sender: s}
}

func (d *KafkaDispatcher) Dispatch(ctx context.Context, m OutboxMessage) error {
	return d.sender.Send(ctx, PartitionKey(m.Key), m.Payload, kafkax.EventHeaders(m.EventType, 1)...)
}

// LocalDispatcher hands messages straight to an Inbox when everything runs in one process.
type LocalDispatcher struct {
	inbox *Inbox
}

func NewLocalDispatcher(in *Inbox) *LocalDispatcher {
	return &LocalDispatcher{inbox: in}
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, m OutboxMessage) error {
	return d.inbox.Handle(ctx, kafka.Message{
		Topic:   m.Topic,
		Key:     PartitionKey(m.Key),
		Value:   m.Payload,
		Headers: kafkax.EventHeaders(m.EventType, 1),
	})
}
