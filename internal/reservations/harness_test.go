package reservations_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/pickup-reservations/internal/memstore"
	"github.com/ariefcatur/pickup-reservations/internal/notify"
	"github.com/ariefcatur/pickup-reservations/internal/reservations"
)

var t0 = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	store   *memstore.Store
	clock   *clock
	svc     *reservations.Service
	reviews *reservations.ReviewGate
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memstore.New()
	c := &clock{t: t0}
	coord := notify.NewCoordinator("test", c.Now)
	numbers := reservations.NewNumberer(memstore.NewSequence(), time.UTC, c.Now)
	return &harness{
		store:   st,
		clock:   c,
		svc:     reservations.NewService(st, numbers, coord, c.Now, zerolog.Nop(), nil),
		reviews: reservations.NewReviewGate(st, coord, c.Now, zerolog.Nop(), nil),
	}
}

func (h *harness) product(id, merchantID string, stock int) {
	h.store.PutProduct(reservations.Product{
		ID:              id,
		MerchantID:      merchantID,
		Name:            "식빵",
		OriginalPrice:   decimal.RequireFromString("5000"),
		DiscountedPrice: decimal.RequireFromString("3500.50"),
		StockQuantity:   stock,
		RestockQuantity: stock,
		Active:          true,
	})
}

func (h *harness) stock(t *testing.T, id string) int {
	t.Helper()
	p, ok := h.store.Product(id)
	require.True(t, ok)
	return p.StockQuantity
}

func (h *harness) reserve(t *testing.T, qty int, pickupIn time.Duration) *reservations.Reservation {
	t.Helper()
	r, err := h.svc.Create(context.Background(), reservations.CreateInput{
		ConsumerID: "consumer-1",
		MerchantID: "merchant-1",
		ProductID:  "p-1",
		Quantity:   qty,
		PickupTime: h.clock.Now().Add(pickupIn),
	})
	require.NoError(t, err)
	return r
}

func decodePayload(t *testing.T, m notify.OutboxMessage) notify.NotificationRequestedPayload {
	t.Helper()
	var env notify.Envelope
	require.NoError(t, json.Unmarshal(m.Payload, &env))
	var p notify.NotificationRequestedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	return p
}
