package reservations

import (
	"context"
	"time"

	"github.com/ariefcatur/pickup-reservations/internal/inventory"
	"github.com/ariefcatur/pickup-reservations/internal/notify"
)

// Store is the transactional datastore behind the lifecycle and the review gate.
// Lookups of missing rows return an error of kind apperr.KindNotFound.
type Store interface {
	// InTx runs fn in one transaction. It commits when fn returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetReservation(ctx context.Context, id string) (*Reservation, error)
	ListReservationsByConsumer(ctx context.Context, consumerID string, limit int) ([]Reservation, error)
	// ListActiveReservationsByConsumer returns only pending and confirmed reservations, newest first.
	ListActiveReservationsByConsumer(ctx context.Context, consumerID string, limit int) ([]Reservation, error)
	ListReservationsByMerchant(ctx context.Context, merchantID string, limit int) ([]Reservation, error)
	// ListStaleReservations returns holding reservations whose pickup time is before cutoff, oldest first.
	ListStaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]Reservation, error)

	GetReview(ctx context.Context, id string) (*Review, error)
	// FindReviewByReservation returns nil, nil when the reservation has no review.
	FindReviewByReservation(ctx context.Context, reservationID string) (*Review, error)
	ReviewStats(ctx context.Context, merchantID string) (sum, count int, err error)
	SaveMerchantRating(ctx context.Context, r MerchantRating) error
}

// Tx is the write side of one transaction. Stock changes and outbox appends go
// through it so they commit together with the reservation row.
type Tx interface {
	inventory.StockStore
	notify.OutboxWriter

	GetProduct(ctx context.Context, id string) (*Product, error)
	InsertReservation(ctx context.Context, r *Reservation) error
	// LockReservation reads the row and holds it until the transaction ends.
	LockReservation(ctx context.Context, id string) (*Reservation, error)
	UpdateReservation(ctx context.Context, r *Reservation) error

	// InsertReview returns apperr.KindDuplicateReview when the reservation already has one.
	InsertReview(ctx context.Context, rv *Review) error
	LockReview(ctx context.Context, id string) (*Review, error)
	UpdateReview(ctx context.Context, rv *Review) error
}
