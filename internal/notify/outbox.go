package notify

import (
	"context"
	"time"
)

// OutboxMessage is a durable intent to deliver one envelope.
type OutboxMessage struct {
	ID            string
	Topic         string
	Key           string
	EventType     string
	Payload       []byte // encoded Envelope
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
}

// OutboxWriter appends to the outbox. It is implemented by a datastore
// transaction so the message commits or rolls back with the state change.
type OutboxWriter interface {
	AppendOutbox(ctx context.Context, m OutboxMessage) error
}

// OutboxStore is the relay's view of the outbox.
//
// ClaimDue returns up to limit undelivered, live messages whose NextAttemptAt is
// not after now, and pushes their NextAttemptAt to now+lease so concurrent relays
// skip them. A crashed relay's claims become due again once the lease passes.
type OutboxStore interface {
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]OutboxMessage, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, f DeliveryFailure) error
}

// DeliveryFailure records a failed attempt. Dead messages are never claimed again.
type DeliveryFailure struct {
	ID            string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	Dead          bool
}
