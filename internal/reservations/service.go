package reservations

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/pickup-reservations/internal/apperr"
	"github.com/ariefcatur/pickup-reservations/internal/inventory"
	"github.com/ariefcatur/pickup-reservations/internal/metrics"
	"github.com/ariefcatur/pickup-reservations/internal/notify"
	"github.com/ariefcatur/pickup-reservations/internal/policy"
)

const maxListLimit = 200

type CreateInput struct {
	ConsumerID string
	MerchantID string
	ProductID  string
	Quantity   int
	PickupTime time.Time
}

type CancelInput struct {
	ReservationID string
	Role          Role
	ActorID       string // optional; when set it must own the reservation for Role
	Reason        string
}

// CacheInvalidator drops cached views of a reservation; *redisx.ReservationCache satisfies it.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, id string) error
}

// Service owns the reservation state machine.
type Service struct {
	store    Store
	ledger   inventory.Ledger
	notifier *notify.Coordinator
	numbers  *Numberer
	cache    CacheInvalidator
	now      policy.Clock
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

func NewService(store Store, numbers *Numberer, notifier *notify.Coordinator, now policy.Clock, log zerolog.Logger, m *metrics.Metrics) *Service {
	if now == nil {
		now = policy.SystemClock
	}
	return &Service{
		store:    store,
		notifier: notifier,
		numbers:  numbers,
		now:      now,
		log:      log.With().Str("component", "reservations").Logger(),
		metrics:  m,
	}
}

// UseCache makes every committed status change drop the reservation's cached view.
func (s *Service) UseCache(c CacheInvalidator) { s.cache = c }

func (s *Service) invalidate(ctx context.Context, id string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		s.log.Warn().Err(err).Str("reservation_id", id).Msg("invalidate reservation cache")
	}
}

// Create holds stock and records a pending reservation. Nothing is persisted when stock is short.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Reservation, error) {
	r, err := s.create(ctx, in)
	if err != nil {
		s.reject("create", err)
		return nil, err
	}
	s.metrics.RecordCreated()
	s.log.Info().
		Str("reservation_id", r.ID).
		Str("number", r.Number).
		Str("product_id", r.ProductID).
		Int("quantity", r.Quantity).
		Msg("reservation created")
	return r, nil
}

func (s *Service) create(ctx context.Context, in CreateInput) (*Reservation, error) {
	if in.ConsumerID == "" || in.MerchantID == "" || in.ProductID == "" {
		return nil, apperr.New(apperr.KindValidation, "consumer, merchant and product ids are required")
	}
	if in.Quantity <= 0 {
		return nil, apperr.Newf(apperr.KindValidation, "quantity must be positive, got %d", in.Quantity)
	}
	now := s.now()
	if !in.PickupTime.After(now) {
		return nil, apperr.ErrInvalidPickupTime
	}

	number, err := s.numbers.Next(ctx)
	if err != nil {
		return nil, err
	}

	var out *Reservation
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.GetProduct(ctx, in.ProductID)
		if err != nil {
			return err
		}
		if p.MerchantID != in.MerchantID {
			return apperr.Newf(apperr.KindValidation, "product %s does not belong to merchant %s", p.ID, in.MerchantID)
		}
		if err := s.ledger.Reserve(ctx, tx, p.ID, in.Quantity); err != nil {
			return err
		}

		r := &Reservation{
			ID:          uuid.NewString(),
			Number:      number,
			ConsumerID:  in.ConsumerID,
			MerchantID:  in.MerchantID,
			ProductID:   p.ID,
			Quantity:    in.Quantity,
			TotalAmount: p.DiscountedPrice.Mul(decimal.NewFromInt(int64(in.Quantity))),
			PickupTime:  in.PickupTime.UTC(),
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertReservation(ctx, r); err != nil {
			return err
		}
		if err := s.notifier.Notify(ctx, tx, notify.Intent{
			RecipientID:       r.MerchantID,
			Type:              notify.TypeNewReservation,
			ReservationID:     r.ID,
			ReservationNumber: r.Number,
			MerchantID:        r.MerchantID,
			ProductName:       p.Name,
			Quantity:          r.Quantity,
		}); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// Confirm moves a pending reservation to confirmed on behalf of its merchant.
func (s *Service) Confirm(ctx context.Context, id, merchantID string) (*Reservation, error) {
	if id == "" || merchantID == "" {
		return nil, apperr.New(apperr.KindValidation, "reservation id and merchant id are required")
	}
	var out *Reservation
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.LockReservation(ctx, id)
		if err != nil {
			return err
		}
		if r.MerchantID != merchantID {
			return apperr.New(apperr.KindForbidden, "reservation belongs to another merchant")
		}
		if !CanTransition(r.Status, StatusConfirmed) {
			return apperr.Newf(apperr.KindInvalidTransition, "cannot confirm a %s reservation", r.Status)
		}
		r.Status = StatusConfirmed
		r.UpdatedAt = s.now()
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		if err := s.notifier.Notify(ctx, tx, notify.Intent{
			RecipientID:       r.ConsumerID,
			Type:              notify.TypeReservationStatus,
			ReservationID:     r.ID,
			ReservationNumber: r.Number,
			MerchantID:        r.MerchantID,
			Status:            string(StatusConfirmed),
		}); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		s.reject("confirm", err)
		return nil, err
	}
	s.invalidate(ctx, id)
	s.log.Info().Str("reservation_id", id).Msg("reservation confirmed")
	return out, nil
}

// Cancel ends a holding reservation and returns its stock exactly once.
// Locking the row makes the terminal status the release dedup key.
func (s *Service) Cancel(ctx context.Context, in CancelInput) (*Reservation, error) {
	r, err := s.cancel(ctx, in)
	if err != nil {
		s.reject("cancel", err)
		return nil, err
	}
	s.invalidate(ctx, r.ID)
	s.metrics.RecordCancelled(string(in.Role))
	s.log.Info().
		Str("reservation_id", r.ID).
		Str("role", string(in.Role)).
		Int("released", r.Quantity).
		Msg("reservation cancelled")
	return r, nil
}

func (s *Service) cancel(ctx context.Context, in CancelInput) (*Reservation, error) {
	if !in.Role.Valid() {
		return nil, apperr.Newf(apperr.KindValidation, "unknown initiator role %q", in.Role)
	}
	if in.ReservationID == "" {
		return nil, apperr.New(apperr.KindValidation, "reservation id is required")
	}

	var out *Reservation
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.LockReservation(ctx, in.ReservationID)
		if err != nil {
			return err
		}
		if in.ActorID != "" && !owns(r, in.Role, in.ActorID) {
			return apperr.Newf(apperr.KindForbidden, "%s %s does not own reservation %s", in.Role, in.ActorID, r.ID)
		}
		if IsTerminal(r.Status) {
			return apperr.Newf(apperr.KindInvalidTransition, "reservation is already %s", r.Status)
		}
		reason := strings.TrimSpace(in.Reason)
		if reason == "" {
			return apperr.ErrReasonRequired
		}
		now := s.now()
		if in.Role == RoleConsumer && !policy.CanConsumerCancel(now, r.PickupTime) {
			return apperr.ErrCancellationWindowExpired
		}

		r.Status = in.Role.cancelledStatus()
		r.CancelReason = reason
		r.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		if err := s.ledger.Release(ctx, tx, r.ProductID, r.Quantity); err != nil {
			return err
		}

		intent := notify.Intent{
			ReservationID:     r.ID,
			ReservationNumber: r.Number,
			MerchantID:        r.MerchantID,
			Reason:            reason,
		}
		if in.Role == RoleConsumer {
			intent.RecipientID = r.MerchantID
			intent.Type = notify.TypeReservationCancelled
		} else {
			p, err := tx.GetProduct(ctx, r.ProductID)
			if err != nil {
				return err
			}
			intent.RecipientID = r.ConsumerID
			intent.Type = notify.TypeReservationCancelledByStore
			intent.ProductName = p.Name
		}
		if err := s.notifier.Notify(ctx, tx, intent); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func owns(r *Reservation, role Role, actorID string) bool {
	if role == RoleStore {
		return r.MerchantID == actorID
	}
	return r.ConsumerID == actorID
}

// CompletePickup records that the consumer collected the goods. Stock stays consumed.
func (s *Service) CompletePickup(ctx context.Context, id string) (*Reservation, error) {
	if id == "" {
		return nil, apperr.New(apperr.KindValidation, "reservation id is required")
	}
	var out *Reservation
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.LockReservation(ctx, id)
		if err != nil {
			return err
		}
		if IsTerminal(r.Status) {
			return apperr.Newf(apperr.KindInvalidTransition, "reservation is already %s", r.Status)
		}
		now := s.now()
		r.Status = StatusCompleted
		r.PickedUpAt = &now
		r.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		s.reject("complete", err)
		return nil, err
	}
	s.invalidate(ctx, id)
	s.metrics.RecordCompleted()
	s.log.Info().Str("reservation_id", id).Msg("pickup completed")
	return out, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Reservation, error) {
	if id == "" {
		return nil, apperr.New(apperr.KindValidation, "reservation id is required")
	}
	return s.store.GetReservation(ctx, id)
}

func (s *Service) ListForConsumer(ctx context.Context, consumerID string, limit int) ([]Reservation, error) {
	if consumerID == "" {
		return nil, apperr.New(apperr.KindValidation, "consumer id is required")
	}
	return s.store.ListReservationsByConsumer(ctx, consumerID, clampLimit(limit))
}

// ListActiveForConsumer lists the consumer's reservations that still hold stock.
func (s *Service) ListActiveForConsumer(ctx context.Context, consumerID string, limit int) ([]Reservation, error) {
	if consumerID == "" {
		return nil, apperr.New(apperr.KindValidation, "consumer id is required")
	}
	return s.store.ListActiveReservationsByConsumer(ctx, consumerID, clampLimit(limit))
}

func (s *Service) ListForMerchant(ctx context.Context, merchantID string, limit int) ([]Reservation, error) {
	if merchantID == "" {
		return nil, apperr.New(apperr.KindValidation, "merchant id is required")
	}
	return s.store.ListReservationsByMerchant(ctx, merchantID, clampLimit(limit))
}

// ExpireStale moves holding reservations whose pickup time passed more than grace ago
// to expired, returning their stock. Each reservation is its own transaction.
func (s *Service) ExpireStale(ctx context.Context, grace time.Duration, limit int) (int, error) {
	cutoff := s.now().Add(-grace)
	stale, err := s.store.ListStaleReservations(ctx, cutoff, clampLimit(limit))
	if err != nil {
		return 0, err
	}

	var errs []error
	expired := 0
	for _, c := range stale {
		ok, err := s.expireOne(ctx, c.ID, grace)
		if err != nil {
			s.log.Error().Err(err).Str("reservation_id", c.ID).Msg("expire reservation")
			errs = append(errs, err)
			continue
		}
		if ok {
			expired++
			s.invalidate(ctx, c.ID)
		}
	}
	s.metrics.RecordExpired(expired)
	if expired > 0 {
		s.log.Info().Int("expired", expired).Time("cutoff", cutoff).Msg("stale reservations expired")
	}
	return expired, errors.Join(errs...)
}

func (s *Service) expireOne(ctx context.Context, id string, grace time.Duration) (bool, error) {
	expired := false
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.LockReservation(ctx, id)
		if err != nil {
			return err
		}
		now := s.now()
		// re-check under the lock; a cancel or pickup may have won the race
		if !CanTransition(r.Status, StatusExpired) || !r.PickupTime.Add(grace).Before(now) {
			return nil
		}
		r.Status = StatusExpired
		r.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		if err := s.ledger.Release(ctx, tx, r.ProductID, r.Quantity); err != nil {
			return err
		}
		if err := s.notifier.Notify(ctx, tx, notify.Intent{
			RecipientID:       r.ConsumerID,
			Type:              notify.TypeReservationStatus,
			ReservationID:     r.ID,
			ReservationNumber: r.Number,
			MerchantID:        r.MerchantID,
			Status:            string(StatusExpired),
		}); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}

func (s *Service) reject(op string, err error) {
	kind := apperr.KindOf(err)
	s.metrics.RecordRejected(kind.String())
	ev := s.log.Debug()
	if kind == apperr.KindInternal {
		ev = s.log.Error()
	}
	ev.Err(err).Str("op", op).Str("kind", kind.String()).Msg("reservation operation rejected")
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return 50
	}
	return limit
}
