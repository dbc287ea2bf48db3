package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/pickup-reservations/internal/reservations"
)

// StatusCache is the read-through cache for GET /reservations/{id}; *redisx.ReservationCache satisfies it.
// Writes invalidate through reservations.Service.UseCache.
type StatusCache interface {
	Get(ctx context.Context, id string) ([]byte, bool, error)
	Version(ctx context.Context, id string) (int64, error)
	// Put is a no-op when the entry was invalidated after ver was read.
	Put(ctx context.Context, id string, ver int64, b []byte) error
}

type ReservationsHandler struct {
	Service *reservations.Service
	Reviews *reservations.ReviewGate
	Cache   StatusCache // optional
	Log     zerolog.Logger
}

type createReservationReq struct {
	ConsumerID string    `json:"consumer_id"`
	MerchantID string    `json:"merchant_id"`
	ProductID  string    `json:"product_id"`
	Quantity   int       `json:"quantity"`
	PickupTime time.Time `json:"pickup_time"`
}

type confirmReq struct {
	MerchantID string `json:"merchant_id"`
}

type cancelReq struct {
	InitiatorRole string `json:"initiator_role"`
	ActorID       string `json:"actor_id"`
	Reason        string `json:"reason"`
}

type createReviewReq struct {
	ReservationID string   `json:"reservation_id"`
	ConsumerID    string   `json:"consumer_id"`
	Rating        int      `json:"rating"`
	Content       string   `json:"content"`
	Images        []string `json:"images"`
}

type replyReq struct {
	MerchantID string `json:"merchant_id"`
	Reply      string `json:"reply"`
}

func (h *ReservationsHandler) Register(r chi.Router) {
	r.Post("/reservations", h.create)
	r.Get("/reservations/{id}", h.get)
	r.Get("/reservations/{id}/review-eligibility", h.reviewEligibility)
	r.Post("/reservations/{id}/confirm", h.confirm)
	r.Post("/reservations/{id}/cancel", h.cancel)
	r.Post("/reservations/{id}/complete", h.complete)
	r.Get("/consumers/{id}/reservations", h.listForConsumer)
	r.Get("/merchants/{id}/reservations", h.listForMerchant)
	r.Post("/reviews", h.createReview)
	r.Get("/reviews/{id}", h.getReview)
	r.Post("/reviews/{id}/reply", h.reply)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		badRequest(w, "invalid json")
		return false
	}
	return true
}

func (h *ReservationsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createReservationReq
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Service.Create(ctx, reservations.CreateInput{
		ConsumerID: req.ConsumerID,
		MerchantID: req.MerchantID,
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		PickupTime: req.PickupTime,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *ReservationsHandler) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	cacheable := false
	var ver int64
	if h.Cache != nil {
		if b, ok, err := h.Cache.Get(ctx, id); err == nil && ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(b)
			return
		}
		// the version is taken before the read so a write committed in between wins
		v, err := h.Cache.Version(ctx, id)
		cacheable, ver = err == nil, v
	}

	// 2) datastore
	res, err := h.Service.Get(ctx, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	b, err := json.Marshal(res)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if cacheable {
		if err := h.Cache.Put(ctx, id, ver, b); err != nil {
			h.Log.Warn().Err(err).Str("reservation_id", id).Msg("cache reservation")
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *ReservationsHandler) reviewEligibility(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	res, err := h.Service.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	ok, err := h.Reviews.CanReview(ctx, res)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"eligible": ok})
}

func (h *ReservationsHandler) confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmReq
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Service.Confirm(ctx, id, req.MerchantID)
	h.written(w, res, err)
}

func (h *ReservationsHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelReq
	if !decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	actor := req.ActorID
	if actor == "" {
		actor = r.Header.Get("X-User-Id")
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Service.Cancel(ctx, reservations.CancelInput{
		ReservationID: id,
		Role:          reservations.Role(req.InitiatorRole),
		ActorID:       actor,
		Reason:        req.Reason,
	})
	h.written(w, res, err)
}

func (h *ReservationsHandler) complete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	res, err := h.Service.CompletePickup(ctx, id)
	h.written(w, res, err)
}

func (h *ReservationsHandler) written(w http.ResponseWriter, res *reservations.Reservation, err error) {
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func limitParam(r *http.Request) int {
	n, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	return n
}

func (h *ReservationsHandler) listForConsumer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	consumerID := chi.URLParam(r, "id")
	var list []reservations.Reservation
	var err error
	switch status := r.URL.Query().Get("status"); status {
	case "":
		list, err = h.Service.ListForConsumer(ctx, consumerID, limitParam(r))
	case "active":
		list, err = h.Service.ListActiveForConsumer(ctx, consumerID, limitParam(r))
	default:
		badRequest(w, "unsupported status filter "+status)
		return
	}
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *ReservationsHandler) listForMerchant(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Service.ListForMerchant(ctx, chi.URLParam(r, "id"), limitParam(r))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (h *ReservationsHandler) createReview(w http.ResponseWriter, r *http.Request) {
	var req createReviewReq
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rv, err := h.Reviews.CreateReview(ctx, reservations.CreateReviewInput{
		ReservationID: req.ReservationID,
		ConsumerID:    req.ConsumerID,
		Rating:        req.Rating,
		Content:       req.Content,
		Images:        req.Images,
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, rv)
}

func (h *ReservationsHandler) getReview(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	rv, err := h.Reviews.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

func (h *ReservationsHandler) reply(w http.ResponseWriter, r *http.Request) {
	var req replyReq
	if !decode(w, r, &req) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	rv, err := h.Reviews.Reply(ctx, chi.URLParam(r, "id"), req.MerchantID, req.Reply)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
