package reservations

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/pickup-reservations/internal/apperr"
	"github.com/ariefcatur/pickup-reservations/internal/metrics"
	"github.com/ariefcatur/pickup-reservations/internal/notify"
	"github.com/ariefcatur/pickup-reservations/internal/policy"
)

const maxReviewImages = 2

type CreateReviewInput struct {
	ReservationID string
	ConsumerID    string
	Rating        int
	Content       string
	Images        []string
}

// ReviewGate admits reviews only for completed pickups, one per reservation.
type ReviewGate struct {
	store    Store
	notifier *notify.Coordinator
	now      policy.Clock
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

func NewReviewGate(store Store, notifier *notify.Coordinator, now policy.Clock, log zerolog.Logger, m *metrics.Metrics) *ReviewGate {
	if now == nil {
		now = policy.SystemClock
	}
	return &ReviewGate{
		store:    store,
		notifier: notifier,
		now:      now,
		log:      log.With().Str("component", "review-gate").Logger(),
		metrics:  m,
	}
}

// CanReview is true when the reservation was picked up and has no review yet.
func (g *ReviewGate) CanReview(ctx context.Context, r *Reservation) (bool, error) {
	if r == nil || r.Status != StatusCompleted {
		return false, nil
	}
	existing, err := g.store.FindReviewByReservation(ctx, r.ID)
	if err != nil {
		return false, err
	}
	return existing == nil, nil
}

func (g *ReviewGate) CreateReview(ctx context.Context, in CreateReviewInput) (*Review, error) {
	content := strings.TrimSpace(in.Content)
	switch {
	case in.ReservationID == "" || in.ConsumerID == "":
		return nil, apperr.New(apperr.KindValidation, "reservation id and consumer id are required")
	case in.Rating < 1 || in.Rating > 5:
		return nil, apperr.Newf(apperr.KindValidation, "rating must be between 1 and 5, got %d", in.Rating)
	case content == "":
		return nil, apperr.New(apperr.KindValidation, "review content is required")
	case len(in.Images) > maxReviewImages:
		return nil, apperr.Newf(apperr.KindValidation, "at most %d images, got %d", maxReviewImages, len(in.Images))
	}

	var out *Review
	err := g.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		r, err := tx.LockReservation(ctx, in.ReservationID)
		if err != nil {
			return err
		}
		if r.Status != StatusCompleted {
			return apperr.Newf(apperr.KindNotEligible, "reservation is %s, not completed", r.Status)
		}
		if r.ConsumerID != in.ConsumerID {
			return apperr.New(apperr.KindForbidden, "reservation belongs to another consumer")
		}

		rv := &Review{
			ID:            uuid.NewString(),
			ReservationID: r.ID,
			ConsumerID:    r.ConsumerID,
			MerchantID:    r.MerchantID,
			Rating:        in.Rating,
			Content:       content,
			Images:        append([]string(nil), in.Images...),
			CreatedAt:     g.now(),
		}
		if err := tx.InsertReview(ctx, rv); err != nil {
			return err
		}
		if err := g.notifier.Notify(ctx, tx, notify.Intent{
			RecipientID:   r.MerchantID,
			Type:          notify.TypeNewReview,
			ReservationID: r.ID,
			MerchantID:    r.MerchantID,
			Rating:        rv.Rating,
		}); err != nil {
			return err
		}
		out = rv
		return nil
	})
	if err != nil {
		g.log.Debug().Err(err).Str("reservation_id", in.ReservationID).Str("kind", apperr.KindOf(err).String()).Msg("review rejected")
		return nil, err
	}

	g.metrics.RecordReview()
	g.log.Info().Str("review_id", out.ID).Str("merchant_id", out.MerchantID).Int("rating", out.Rating).Msg("review created")

	// the review is committed; a stale aggregate is tolerated
	if _, err := g.RecomputeRating(ctx, out.MerchantID); err != nil {
		g.log.Error().Err(err).Str("merchant_id", out.MerchantID).Msg("recompute merchant rating")
	}
	return out, nil
}

func (g *ReviewGate) Get(ctx context.Context, id string) (*Review, error) {
	if id == "" {
		return nil, apperr.New(apperr.KindValidation, "review id is required")
	}
	return g.store.GetReview(ctx, id)
}

// Reply stores the merchant's answer to a review. A later reply replaces the earlier one.
func (g *ReviewGate) Reply(ctx context.Context, reviewID, merchantID, reply string) (*Review, error) {
	reply = strings.TrimSpace(reply)
	if reviewID == "" || merchantID == "" {
		return nil, apperr.New(apperr.KindValidation, "review id and merchant id are required")
	}
	if reply == "" {
		return nil, apperr.New(apperr.KindValidation, "reply is required")
	}

	var out *Review
	err := g.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		rv, err := tx.LockReview(ctx, reviewID)
		if err != nil {
			return err
		}
		if rv.MerchantID != merchantID {
			return apperr.New(apperr.KindForbidden, "review belongs to another merchant")
		}
		now := g.now()
		rv.Reply = reply
		rv.RepliedAt = &now
		if err := tx.UpdateReview(ctx, rv); err != nil {
			return err
		}
		out = rv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecomputeRating rebuilds a merchant's average from its reviews, rounded to one decimal.
func (g *ReviewGate) RecomputeRating(ctx context.Context, merchantID string) (MerchantRating, error) {
	sum, count, err := g.store.ReviewStats(ctx, merchantID)
	if err != nil {
		return MerchantRating{}, err
	}
	rating := MerchantRating{MerchantID: merchantID, AverageRating: decimal.Zero, ReviewCount: count}
	if count > 0 {
		rating.AverageRating = decimal.NewFromInt(int64(sum)).Div(decimal.NewFromInt(int64(count))).Round(1)
	}
	if err := g.store.SaveMerchantRating(ctx, rating); err != nil {
		return MerchantRating{}, err
	}
	return rating, nil
}
