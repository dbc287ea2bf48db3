package inventory

import (
	"context"

	"github.com/ariefcatur/pickup-reservations/internal/apperr"
)

// StockStore is the only write path to a product's available quantity.
// Implementations must make each call atomic per product row:
//
//   - DecrementIfAvailable subtracts qty only when at least qty is available on an
//     active product. It reports (false, nil) when stock is short and
//     apperr.ErrNotFound when the product does not exist.
//   - Increment adds qty back without exceeding the product's restock quantity.
type StockStore interface {
	DecrementIfAvailable(ctx context.Context, productID string, qty int) (bool, error)
	Increment(ctx context.Context, productID string, qty int) error
}

// Ledger holds and releases stock. It does not deduplicate releases; the
// reservation lifecycle guarantees at most one release per hold.
type Ledger struct{}

// Reserve atomically removes qty from availability.
func (Ledger) Reserve(ctx context.Context, s StockStore, productID string, qty int) error {
	if productID == "" {
		return apperr.New(apperr.KindValidation, "product id is required")
	}
	if qty <= 0 {
		return apperr.Newf(apperr.KindValidation, "quantity must be positive, got %d", qty)
	}

	ok, err := s.DecrementIfAvailable(ctx, productID, qty)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Newf(apperr.KindInsufficientStock, "not enough stock for product %s (requested %d)", productID, qty)
	}
	return nil
}

// Release atomically returns qty to availability.
func (Ledger) Release(ctx context.Context, s StockStore, productID string, qty int) error {
	if productID == "" {
		return apperr.New(apperr.KindValidation, "product id is required")
	}
	if qty <= 0 {
		return apperr.Newf(apperr.KindValidation, "quantity must be positive, got %d", qty)
	}
	return s.Increment(ctx, productID, qty)
}
