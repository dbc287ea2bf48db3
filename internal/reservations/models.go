package reservations

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID              string
	MerchantID      string
	Name            string
	OriginalPrice   decimal.Decimal
	DiscountedPrice decimal.Decimal
	StockQuantity   int
	RestockQuantity int // ceiling for StockQuantity
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Reservation struct {
	ID           string          `json:"id"`
	Number       string          `json:"reservation_number"`
	ConsumerID   string          `json:"consumer_id"`
	MerchantID   string          `json:"merchant_id"`
	ProductID    string          `json:"product_id"`
	Quantity     int             `json:"quantity"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	PickupTime   time.Time       `json:"pickup_time"`
	Status       Status          `json:"status"`
	PickedUpAt   *time.Time      `json:"picked_up_at,omitempty"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// PickedUp is derived from the status; completion is the only way to set it.
func (r Reservation) PickedUp() bool { return r.Status == StatusCompleted }

func (r Reservation) MarshalJSON() ([]byte, error) {
	type plain Reservation
	return json.Marshal(struct {
		plain
		PickedUp bool `json:"picked_up"`
	}{plain(r), r.PickedUp()})
}

type Review struct {
	ID            string     `json:"id"`
	ReservationID string     `json:"reservation_id"`
	ConsumerID    string     `json:"consumer_id"`
	MerchantID    string     `json:"merchant_id"`
	Rating        int        `json:"rating"`
	Content       string     `json:"content"`
	Images        []string   `json:"images,omitempty"`
	Reply         string     `json:"reply,omitempty"`
	RepliedAt     *time.Time `json:"replied_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type MerchantRating struct {
	MerchantID    string          `json:"merchant_id"`
	AverageRating decimal.Decimal `json:"average_rating"`
	ReviewCount   int             `json:"review_count"`
}
