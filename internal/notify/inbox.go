package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/pickup-reservations/internal/apperr"
	kafkax "github.com/ariefcatur/pickup-reservations/internal/kafka"
	"github.com/ariefcatur/pickup-reservations/internal/metrics"
)

// InboxStore persists delivered notifications. InsertNotification must ignore
// a second insert with the same id.
type InboxStore interface {
	InsertNotification(ctx context.Context, n Notification) error
	ListNotifications(ctx context.Context, recipientID string, limit int) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id, recipientID string) error
}

// Deduper remembers processed event ids. It is a fast path only; the store is idempotent.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Remember(ctx context.Context, eventID string) error
}

// Inbox is the delivery side: it turns envelopes from the topic into in-app notifications.
type Inbox struct {
	store   InboxStore
	dedup   Deduper
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func NewInbox(store InboxStore, dedup Deduper, log zerolog.Logger, m *metrics.Metrics) *Inbox {
	return &Inbox{
		store:   store,
		dedup:   dedup,
		log:     log.With().Str("component", "notification-inbox").Logger(),
		metrics: m,
	}
}

// Handle is a kafkax.Handler. Malformed messages are logged and skipped so they
// do not block the partition.
func (i *Inbox) Handle(ctx context.Context, m kafka.Message) error {
	var env Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		i.log.Error().Err(err).Int64("offset", m.Offset).Msg("skip malformed envelope")
		return nil
	}
	if env.EventType != EventNotificationRequested {
		return nil
	}

	if seen, err := i.dedup.Seen(ctx, env.EventID); err != nil {
		i.log.Warn().Err(err).Str("event_id", env.EventID).Msg("dedup lookup failed")
	} else if seen {
		return nil
	}

	p, err := kafkax.UnwrapPayload[NotificationRequestedPayload](env.Payload)
	if err != nil {
		i.log.Error().Err(err).Str("event_id", env.EventID).Msg("skip malformed payload")
		return nil
	}

	n := Notification{
		ID:            env.EventID,
		RecipientID:   p.RecipientID,
		Type:          p.Type,
		Title:         p.Title,
		Message:       p.Message,
		ReservationID: p.ReservationID,
		MerchantID:    p.MerchantID,
		CreatedAt:     env.OccurredAt,
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if err := i.store.InsertNotification(ctx, n); err != nil {
		return fmt.Errorf("store notification %s: %w", env.EventID, err)
	}
	i.metrics.RecordInboxStored()

	if err := i.dedup.Remember(ctx, env.EventID); err != nil {
		i.log.Warn().Err(err).Str("event_id", env.EventID).Msg("dedup remember failed")
	}
	i.log.Debug().Str("event_id", env.EventID).Str("recipient", n.RecipientID).Str("type", string(n.Type)).Msg("notification stored")
	return nil
}

// List returns a user's most recent notifications.
func (i *Inbox) List(ctx context.Context, recipientID string, limit int) ([]Notification, error) {
	if recipientID == "" {
		return nil, apperr.New(apperr.KindValidation, "recipient id is required")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return i.store.ListNotifications(ctx, recipientID, limit)
}

// MarkRead flags one of the recipient's notifications as read.
func (i *Inbox) MarkRead(ctx context.Context, id, recipientID string) error {
	if id == "" || recipientID == "" {
		return apperr.New(apperr.KindValidation, "notification id and recipient id are required")
	}
	return i.store.MarkNotificationRead(ctx, id, recipientID)
}
