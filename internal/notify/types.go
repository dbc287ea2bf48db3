package notify

import (
	"encoding/json"
	"time"
)

// Type is the kind of in-app notification shown to a user.
type Type string

const (
	TypeNewReservation              Type = "new_reservation"
	TypeReservationCancelled        Type = "reservation_cancelled"
	TypeReservationCancelledByStore Type = "reservation_cancelled_by_store"
	TypeReservationStatus           Type = "reservation_status"
	TypeNewProduct                  Type = "new_product"
	TypeNewReview                   Type = "new_review"
)

// Notification is a delivered in-app inbox record.
type Notification struct {
	ID            string    `json:"id"`
	RecipientID   string    `json:"recipient_id"`
	Type          Type      `json:"type"`
	Title         string    `json:"title"`
	Message       string    `json:"message"`
	ReservationID string    `json:"reservation_id,omitempty"`
	MerchantID    string    `json:"merchant_id,omitempty"`
	Read          bool      `json:"read"`
	CreatedAt     time.Time `json:"created_at"`
}

// Intent is what the lifecycle asks to tell a user. Only the fields the
// notification type uses need to be set.
type Intent struct {
	RecipientID       string
	Type              Type
	ReservationID     string
	ReservationNumber string
	MerchantID        string
	ProductName       string
	Quantity          int
	Reason            string
	Status            string
	Rating            int
}

const (
	EventNotificationRequested = "NotificationRequested"
	TopicNotificationRequested = "notification.requested"
)

// Envelope wraps every message put on the delivery topic.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // reservation id when there is one
	Payload       json.RawMessage `json:"payload"`
}

// NotificationRequestedPayload is the payload of EventNotificationRequested.
type NotificationRequestedPayload struct {
	RecipientID   string `json:"recipient_id"`
	Type          Type   `json:"type"`
	Title         string `json:"title"`
	Message       string `json:"message"`
	ReservationID string `json:"reservation_id,omitempty"`
	MerchantID    string `json:"merchant_id,omitempty"`
}

// PartitionKey keeps all notifications of one recipient in order.
func PartitionKey(recipientID string) []byte { return []byte(recipientID) }
