// Package memstore is an in-process datastore for tests and local runs.
// Transactions are serialized by one mutex and their writes are staged until commit.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/pickup-reservations/internal/apperr"
	"github.com/ariefcatur/pickup-reservations/internal/notify"
	"github.com/ariefcatur/pickup-reservations/internal/reservations"
)

type outboxRow struct {
	msg         notify.OutboxMessage
	seq         int
	deliveredAt *time.Time
	dead        bool
}

var (
	_ reservations.Store = (*Store)(nil)
	_ notify.OutboxStore = (*Store)(nil)
	_ notify.InboxStore  = (*Store)(nil)
)

type Store struct {
	mu            sync.Mutex
	products      map[string]reservations.Product
	reservations  map[string]reservations.Reservation
	numbers       map[string]string
	reviews       map[string]reservations.Review
	reviewOf      map[string]string // reservation id -> review id
	ratings       map[string]reservations.MerchantRating
	outbox        map[string]*outboxRow
	outboxSeq     int
	notifications map[string]notify.Notification
}

func New() *Store {
	return &Store{
		products:      map[string]reservations.Product{},
		reservations:  map[string]reservations.Reservation{},
		numbers:       map[string]string{},
		reviews:       map[string]reservations.Review{},
		reviewOf:      map[string]string{},
		ratings:       map[string]reservations.MerchantRating{},
		outbox:        map[string]*outboxRow{},
		notifications: map[string]notify.Notification{},
	}
}

// PutProduct seeds or replaces a product.
func (s *Store) PutProduct(p reservations.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) Product(id string) (reservations.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

func (s *Store) MerchantRating(merchantID string) (reservations.MerchantRating, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.ratings[merchantID]
	return r, ok
}

// PendingOutbox returns undelivered live messages in append order.
func (s *Store) PendingOutbox() []notify.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var rows []*outboxRow
	for _, r := range s.outbox {
		if r.deliveredAt == nil && !r.dead {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]notify.OutboxMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.msg)
	}
	return out
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx reservations.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{
		s:            s,
		products:     map[string]reservations.Product{},
		reservations: map[string]reservations.Reservation{},
		reviews:      map[string]reservations.Review{},
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	t.commit()
	return nil
}

func (s *Store) GetReservation(_ context.Context, id string) (*reservations.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "reservation %s not found", id)
	}
	return cloneReservation(r), nil
}

func (s *Store) ListReservationsByConsumer(_ context.Context, consumerID string, limit int) ([]reservations.Reservation, error) {
	return s.listReservations(func(r reservations.Reservation) bool { return r.ConsumerID == consumerID }, limit), nil
}

func (s *Store) ListActiveReservationsByConsumer(_ context.Context, consumerID string, limit int) ([]reservations.Reservation, error) {
	return s.listReservations(func(r reservations.Reservation) bool {
		return r.ConsumerID == consumerID && reservations.Holds(r.Status)
	}, limit), nil
}

func (s *Store) ListReservationsByMerchant(_ context.Context, merchantID string, limit int) ([]reservations.Reservation, error) {
	return s.listReservations(func(r reservations.Reservation) bool { return r.MerchantID == merchantID }, limit), nil
}

// listReservations returns matches newest first.
func (s *Store) listReservations(match func(reservations.Reservation) bool, limit int) []reservations.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reservations.Reservation
	for _, r := range s.reservations {
		if match(r) {
			out = append(out, *cloneReservation(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Number > out[j].Number
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) ListStaleReservations(_ context.Context, cutoff time.Time, limit int) ([]reservations.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reservations.Reservation
	for _, r := range s.reservations {
		if reservations.Holds(r.Status) && r.PickupTime.Before(cutoff) {
			out = append(out, *cloneReservation(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PickupTime.Before(out[j].PickupTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetReview(_ context.Context, id string) (*reservations.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rv, ok := s.reviews[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "review %s not found", id)
	}
	return cloneReview(rv), nil
}

func (s *Store) FindReviewByReservation(_ context.Context, reservationID string) (*reservations.Review, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.reviewOf[reservationID]
	if !ok {
		return nil, nil
	}
	return cloneReview(s.reviews[id]), nil
}

func (s *Store) ReviewStats(_ context.Context, merchantID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, count := 0, 0
	for _, rv := range s.reviews {
		if rv.MerchantID == merchantID {
			sum += rv.Rating
			count++
		}
	}
	return sum, count, nil
}

func (s *Store) SaveMerchantRating(_ context.Context, r reservations.MerchantRating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings[r.MerchantID] = r
	return nil
}

type tx struct {
	s            *Store
	products     map[string]reservations.Product
	reservations map[string]reservations.Reservation
	reviews      map[string]reservations.Review
	outbox       []notify.OutboxMessage
}

func (t *tx) commit() {
	for id, p := range t.products {
		t.s.products[id] = p
	}
	for id, r := range t.reservations {
		t.s.reservations[id] = r
		t.s.numbers[r.Number] = id
	}
	for id, rv := range t.reviews {
		t.s.reviews[id] = rv
		t.s.reviewOf[rv.ReservationID] = id
	}
	for _, m := range t.outbox {
		t.s.outboxSeq++
		t.s.outbox[m.ID] = &outboxRow{msg: m, seq: t.s.outboxSeq}
	}
}

func (t *tx) product(id string) (reservations.Product, bool) {
	if p, ok := t.products[id]; ok {
		return p, true
	}
	p, ok := t.s.products[id]
	return p, ok
}

func (t *tx) reservation(id string) (reservations.Reservation, bool) {
	if r, ok := t.reservations[id]; ok {
		return r, true
	}
	r, ok := t.s.reservations[id]
	return r, ok
}

func (t *tx) review(id string) (reservations.Review, bool) {
	if rv, ok := t.reviews[id]; ok {
		return rv, true
	}
	rv, ok := t.s.reviews[id]
	return rv, ok
}

func (t *tx) DecrementIfAvailable(_ context.Context, productID string, qty int) (bool, error) {
	p, ok := t.product(productID)
	if !ok {
		return false, apperr.Newf(apperr.KindNotFound, "product %s not found", productID)
	}
	if !p.Active || p.StockQuantity < qty {
		return false, nil
	}
	p.StockQuantity -= qty
	t.products[productID] = p
	return true, nil
}

func (t *tx) Increment(_ context.Context, productID string, qty int) error {
	p, ok := t.product(productID)
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "product %s not found", productID)
	}
	if p.StockQuantity+qty > p.RestockQuantity {
		return apperr.Newf(apperr.KindInternal, "release of %d would exceed restock quantity of product %s", qty, productID)
	}
	p.StockQuantity += qty
	t.products[productID] = p
	return nil
}

func (t *tx) AppendOutbox(_ context.Context, m notify.OutboxMessage) error {
	t.outbox = append(t.outbox, m)
	return nil
}

func (t *tx) GetProduct(_ context.Context, id string) (*reservations.Product, error) {
	p, ok := t.product(id)
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "product %s not found", id)
	}
	return &p, nil
}

func (t *tx) InsertReservation(_ context.Context, r *reservations.Reservation) error {
	if _, ok := t.reservation(r.ID); ok {
		return apperr.Newf(apperr.KindInternal, "reservation %s already exists", r.ID)
	}
	if _, ok := t.s.numbers[r.Number]; ok {
		return apperr.Newf(apperr.KindInternal, "reservation number %s already used", r.Number)
	}
	t.reservations[r.ID] = *cloneReservation(*r)
	return nil
}

func (t *tx) LockReservation(_ context.Context, id string) (*reservations.Reservation, error) {
	r, ok := t.reservation(id)
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "reservation %s not found", id)
	}
	return cloneReservation(r), nil
}

func (t *tx) UpdateReservation(_ context.Context, r *reservations.Reservation) error {
	if _, ok := t.reservation(r.ID); !ok {
		return apperr.Newf(apperr.KindNotFound, "reservation %s not found", r.ID)
	}
	t.reservations[r.ID] = *cloneReservation(*r)
	return nil
}

func (t *tx) InsertReview(_ context.Context, rv *reservations.Review) error {
	if _, ok := t.s.reviewOf[rv.ReservationID]; ok {
		return apperr.Newf(apperr.KindDuplicateReview, "reservation %s already has a review", rv.ReservationID)
	}
	for _, staged := range t.reviews {
		if staged.ReservationID == rv.ReservationID {
			return apperr.Newf(apperr.KindDuplicateReview, "reservation %s already has a review", rv.ReservationID)
		}
	}
	t.reviews[rv.ID] = *cloneReview(*rv)
	return nil
}

func (t *tx) LockReview(_ context.Context, id string) (*reservations.Review, error) {
	rv, ok := t.review(id)
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "review %s not found", id)
	}
	return cloneReview(rv), nil
}

func (t *tx) UpdateReview(_ context.Context, rv *reservations.Review) error {
	if _, ok := t.review(rv.ID); !ok {
		return apperr.Newf(apperr.KindNotFound, "review %s not found", rv.ID)
	}
	t.reviews[rv.ID] = *cloneReview(*rv)
	return nil
}

func cloneReservation(r reservations.Reservation) *reservations.Reservation {
	if r.PickedUpAt != nil {
		at := *r.PickedUpAt
		r.PickedUpAt = &at
	}
	return &r
}

func cloneReview(rv reservations.Review) *reservations.Review {
	rv.Images = append([]string(nil), rv.Images...)
	if rv.RepliedAt != nil {
		at := *rv.RepliedAt
		rv.RepliedAt = &at
	}
	return &rv
}
