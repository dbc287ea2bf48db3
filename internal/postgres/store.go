package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/pickup-reservations/internal/apperr"
	"github.com/ariefcatur/pickup-reservations/internal/notify"
	"github.com/ariefcatur/pickup-reservations/internal/reservations"
)

var (
	_ reservations.Store = (*Store)(nil)
	_ notify.OutboxStore = (*Store)(nil)
	_ notify.InboxStore  = (*Store)(nil)
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

type Store struct{ DB *pgxpool.Pool }

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx reservations.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apperr.Internal("begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &txStore{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Internal("commit transaction", err)
	}
	return nil
}

const reservationCols = `id, reservation_number, consumer_id, merchant_id, product_id, quantity,
	total_amount::text, pickup_time, status, picked_up_at, cancel_reason, created_at, updated_at`

func scanReservation(row scanner) (*reservations.Reservation, error) {
	var (
		r     reservations.Reservation
		total string
		st    string
	)
	err := row.Scan(&r.ID, &r.Number, &r.ConsumerID, &r.MerchantID, &r.ProductID, &r.Quantity,
		&total, &r.PickupTime, &st, &r.PickedUpAt, &r.CancelReason, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = reservations.Status(st)
	if r.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total_amount %q: %w", total, err)
	}
	return &r, nil
}

func getReservation(ctx context.Context, q querier, id string, lock bool) (*reservations.Reservation, error) {
	sql := `SELECT ` + reservationCols + ` FROM reservations WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	r, err := scanReservation(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "reservation %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal("get reservation", err)
	}
	return r, nil
}

func (s *Store) GetReservation(ctx context.Context, id string) (*reservations.Reservation, error) {
	return getReservation(ctx, s.DB, id, false)
}

func (s *Store) ListReservationsByConsumer(ctx context.Context, consumerID string, limit int) ([]reservations.Reservation, error) {
	return s.listReservations(ctx, `SELECT `+reservationCols+` FROM reservations
		WHERE consumer_id = $1 ORDER BY created_at DESC, reservation_number DESC LIMIT $2`, consumerID, limit)
}

func (s *Store) ListActiveReservationsByConsumer(ctx context.Context, consumerID string, limit int) ([]reservations.Reservation, error) {
	return s.listReservations(ctx, `SELECT `+reservationCols+` FROM reservations
		WHERE consumer_id = $1 AND status IN ('pending', 'confirmed')
		ORDER BY created_at DESC, reservation_number DESC LIMIT $2`, consumerID, limit)
}

func (s *Store) ListReservationsByMerchant(ctx context.Context, merchantID string, limit int) ([]reservations.Reservation, error) {
	return s.listReservations(ctx, `SELECT `+reservationCols+` FROM reservations
		WHERE merchant_id = $1 ORDER BY created_at DESC, reservation_number DESC LIMIT $2`, merchantID, limit)
}

func (s *Store) ListStaleReservations(ctx context.Context, cutoff time.Time, limit int) ([]reservations.Reservation, error) {
	return s.listReservations(ctx, `SELECT `+reservationCols+` FROM reservations
		WHERE status IN ('pending', 'confirmed') AND pickup_time < $1
		ORDER BY pickup_time LIMIT $2`, cutoff, limit)
}

func (s *Store) listReservations(ctx context.Context, sql string, args ...any) ([]reservations.Reservation, error) {
	rows, err := s.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Internal("list reservations", err)
	}
	defer rows.Close()

	var out []reservations.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, apperr.Internal("scan reservation", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Internal("list reservations", err)
	}
	return out, nil
}

const reviewCols = `id, reservation_id, consumer_id, merchant_id, rating, content, images, reply, replied_at, created_at`

func scanReview(row scanner) (*reservations.Review, error) {
	var rv reservations.Review
	err := row.Scan(&rv.ID, &rv.ReservationID, &rv.ConsumerID, &rv.MerchantID, &rv.Rating,
		&rv.Content, &rv.Images, &rv.Reply, &rv.RepliedAt, &rv.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &rv, nil
}

func getReview(ctx context.Context, q querier, id string, lock bool) (*reservations.Review, error) {
	sql := `SELECT ` + reviewCols + ` FROM reviews WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	rv, err := scanReview(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "review %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal("get review", err)
	}
	return rv, nil
}

func (s *Store) GetReview(ctx context.Context, id string) (*reservations.Review, error) {
	return getReview(ctx, s.DB, id, false)
}

func (s *Store) FindReviewByReservation(ctx context.Context, reservationID string) (*reservations.Review, error) {
	rv, err := scanReview(s.DB.QueryRow(ctx, `SELECT `+reviewCols+` FROM reviews WHERE reservation_id = $1`, reservationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Internal("find review", err)
	}
	return rv, nil
}

func (s *Store) ReviewStats(ctx context.Context, merchantID string) (int, int, error) {
	var sum, count int
	err := s.DB.QueryRow(ctx, `SELECT COALESCE(SUM(rating), 0), COUNT(*) FROM reviews WHERE merchant_id = $1`, merchantID).
		Scan(&sum, &count)
	if err != nil {
		return 0, 0, apperr.Internal("review stats", err)
	}
	return sum, count, nil
}

func (s *Store) SaveMerchantRating(ctx context.Context, r reservations.MerchantRating) error {
	_, err := s.DB.Exec(ctx, `
		INSERT INTO merchant_ratings (merchant_id, average_rating, review_count, updated_at)
		VALUES ($1, $2::numeric, $3, NOW())
		ON CONFLICT (merchant_id) DO UPDATE
		SET average_rating = EXCLUDED.average_rating, review_count = EXCLUDED.review_count, updated_at = NOW()`,
		r.MerchantID, r.AverageRating.String(), r.ReviewCount)
	if err != nil {
		return apperr.Internal("save merchant rating", err)
	}
	return nil
}

// txStore is the write side of one transaction.
type txStore struct{ q pgx.Tx }

func (t *txStore) productExists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := t.q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

// DecrementIfAvailable is a single conditional update; the row lock it takes
// serializes concurrent holds on the same product.
func (t *txStore) DecrementIfAvailable(ctx context.Context, productID string, qty int) (bool, error) {
	ct, err := t.q.Exec(ctx, `
		UPDATE products SET stock_quantity = stock_quantity - $2, updated_at = NOW()
		WHERE id = $1 AND active AND stock_quantity >= $2`, productID, qty)
	if err != nil {
		return false, apperr.Internal("decrement stock", err)
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}
	exists, err := t.productExists(ctx, productID)
	if err != nil {
		return false, apperr.Internal("check product", err)
	}
	if !exists {
		return false, apperr.Newf(apperr.KindNotFound, "product %s not found", productID)
	}
	return false, nil
}

func (t *txStore) Increment(ctx context.Context, productID string, qty int) error {
	ct, err := t.q.Exec(ctx, `
		UPDATE products SET stock_quantity = stock_quantity + $2, updated_at = NOW()
		WHERE id = $1 AND stock_quantity + $2 <= restock_quantity`, productID, qty)
	if err != nil {
		return apperr.Internal("increment stock", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	exists, err := t.productExists(ctx, productID)
	if err != nil {
		return apperr.Internal("check product", err)
	}
	if !exists {
		return apperr.Newf(apperr.KindNotFound, "product %s not found", productID)
	}
	return apperr.Newf(apperr.KindInternal, "release of %d would exceed restock quantity of product %s", qty, productID)
}

func (t *txStore) AppendOutbox(ctx context.Context, m notify.OutboxMessage) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO outbox (id, topic, key, event_type, payload, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.Topic, m.Key, m.EventType, m.Payload, m.Attempts, m.NextAttemptAt, m.CreatedAt)
	if err != nil {
		return apperr.Internal("append outbox", err)
	}
	return nil
}

func (t *txStore) GetProduct(ctx context.Context, id string) (*reservations.Product, error) {
	var (
		p                  reservations.Product
		original, discount string
	)
	err := t.q.QueryRow(ctx, `
		SELECT id, merchant_id, name, original_price::text, discounted_price::text,
		       stock_quantity, restock_quantity, active, created_at, updated_at
		FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.MerchantID, &p.Name, &original, &discount,
			&p.StockQuantity, &p.RestockQuantity, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.Newf(apperr.KindNotFound, "product %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal("get product", err)
	}
	if p.OriginalPrice, err = decimal.NewFromString(original); err != nil {
		return nil, apperr.Internal("parse original_price", err)
	}
	if p.DiscountedPrice, err = decimal.NewFromString(discount); err != nil {
		return nil, apperr.Internal("parse discounted_price", err)
	}
	return &p, nil
}

func (t *txStore) InsertReservation(ctx context.Context, r *reservations.Reservation) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO reservations (id, reservation_number, consumer_id, merchant_id, product_id, quantity,
			total_amount, pickup_time, status, picked_up_at, cancel_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.Number, r.ConsumerID, r.MerchantID, r.ProductID, r.Quantity,
		r.TotalAmount.String(), r.PickupTime, string(r.Status), r.PickedUpAt, r.CancelReason, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return apperr.Internal("insert reservation", err)
	}
	return nil
}

func (t *txStore) LockReservation(ctx context.Context, id string) (*reservations.Reservation, error) {
	return getReservation(ctx, t.q, id, true)
}

func (t *txStore) UpdateReservation(ctx context.Context, r *reservations.Reservation) error {
	ct, err := t.q.Exec(ctx, `
		UPDATE reservations SET status = $2, picked_up_at = $3, cancel_reason = $4, updated_at = $5
		WHERE id = $1`, r.ID, string(r.Status), r.PickedUpAt, r.CancelReason, r.UpdatedAt)
	if err != nil {
		return apperr.Internal("update reservation", err)
	}
	if ct.RowsAffected() != 1 {
		return apperr.Newf(apperr.KindNotFound, "reservation %s not found", r.ID)
	}
	return nil
}

func (t *txStore) InsertReview(ctx context.Context, rv *reservations.Review) error {
	images := rv.Images
	if images == nil {
		images = []string{}
	}
	_, err := t.q.Exec(ctx, `
		INSERT INTO reviews (id, reservation_id, consumer_id, merchant_id, rating, content, images, reply, replied_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rv.ID, rv.ReservationID, rv.ConsumerID, rv.MerchantID, rv.Rating, rv.Content, images, rv.Reply, rv.RepliedAt, rv.CreatedAt)
	if isUniqueViolation(err) {
		return apperr.Wrap(apperr.KindDuplicateReview, "reservation already has a review", err)
	}
	if err != nil {
		return apperr.Internal("insert review", err)
	}
	return nil
}

func (t *txStore) LockReview(ctx context.Context, id string) (*reservations.Review, error) {
	return getReview(ctx, t.q, id, true)
}

func (t *txStore) UpdateReview(ctx context.Context, rv *reservations.Review) error {
	ct, err := t.q.Exec(ctx, `UPDATE reviews SET reply = $2, replied_at = $3 WHERE id = $1`, rv.ID, rv.Reply, rv.RepliedAt)
	if err != nil {
		return apperr.Internal("update review", err)
	}
	if ct.RowsAffected() != 1 {
		return apperr.Newf(apperr.KindNotFound, "review %s not found", rv.ID)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
