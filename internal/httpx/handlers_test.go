package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/pickup-reservations/internal/memstore"
	"github.com/ariefcatur/pickup-reservations/internal/metrics"
	"github.com/ariefcatur/pickup-reservations/internal/notify"
	"github.com/ariefcatur/pickup-reservations/internal/reservations"
)

var now = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

type mapCache struct {
	mu          sync.Mutex
	m           map[string][]byte
	ver         map[string]int64
	invalidated []string
	// afterVersion runs once the version has been read, outside the lock
	afterVersion func(id string)
}

func newMapCache() *mapCache {
	return &mapCache{m: map[string][]byte{}, ver: map[string]int64{}}
}

func (c *mapCache) Get(_ context.Context, id string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.m[id]
	return b, ok, nil
}

func (c *mapCache) Version(_ context.Context, id string) (int64, error) {
	c.mu.Lock()
	v := c.ver[id]
	c.mu.Unlock()
	if c.afterVersion != nil {
		c.afterVersion(id)
	}
	return v, nil
}

func (c *mapCache) Put(_ context.Context, id string, ver int64, b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ver[id] != ver {
		return nil
	}
	c.m[id] = b
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ver[id]++
	delete(c.m, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

func (c *mapCache) cached(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.m[id]
	return ok
}

type testServer struct {
	srv   *httptest.Server
	store *memstore.Store
	cache *mapCache
	relay *notify.Relay
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := func() time.Time { return now }
	st := memstore.New()
	st.PutProduct(reservations.Product{
		ID: "p-1", MerchantID: "merchant-1", Name: "소금빵",
		OriginalPrice: decimal.RequireFromString("4000"), DiscountedPrice: decimal.RequireFromString("2500"),
		StockQuantity: 3, RestockQuantity: 3, Active: true,
	})

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	coord := notify.NewCoordinator("test", clock)
	svc := reservations.NewService(st, reservations.NewNumberer(memstore.NewSequence(), time.UTC, clock), coord, clock, zerolog.Nop(), m)
	gate := reservations.NewReviewGate(st, coord, clock, zerolog.Nop(), m)
	inbox := notify.NewInbox(st, memstore.NewDeduper(), zerolog.Nop(), m)
	cache := newMapCache()
	svc.UseCache(cache)

	r := NewRouter(zerolog.Nop(), reg)
	(&ReservationsHandler{Service: svc, Reviews: gate, Cache: cache, Log: zerolog.Nop()}).Register(r)
	(&NotificationsHandler{Inbox: inbox, Log: zerolog.Nop()}).Register(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{
		srv:   srv,
		store: st,
		cache: cache,
		relay: notify.NewRelay(st, notify.NewLocalDispatcher(inbox), notify.DefaultRelayConfig(), clock, zerolog.Nop(), m),
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, header ...string) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out.Bytes()
}

func (ts *testServer) create(t *testing.T, qty int, pickupIn time.Duration) map[string]any {
	t.Helper()
	code, body := ts.do(t, http.MethodPost, "/reservations", map[string]any{
		"consumer_id": "consumer-1",
		"merchant_id": "merchant-1",
		"product_id":  "p-1",
		"quantity":    qty,
		"pickup_time": now.Add(pickupIn),
	})
	require.Equal(t, http.StatusCreated, code, string(body))
	var out map[string]any
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var e errorBody
	require.NoError(t, json.Unmarshal(body, &e))
	return e.Error
}

func TestCreateAndGetReservation(t *testing.T) {
	ts := newTestServer(t)
	res := ts.create(t, 2, 5*time.Hour)

	assert.Equal(t, "pending", res["status"])
	assert.Equal(t, "R20250314000001", res["reservation_number"])
	assert.Equal(t, false, res["picked_up"])

	id := res["id"].(string)
	code, body := ts.do(t, http.MethodGet, "/reservations/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), id)

	assert.True(t, ts.cache.cached(id))

	// a write drops the entry and the next read repopulates it
	code, _ = ts.do(t, http.MethodPost, "/reservations/"+id+"/confirm", map[string]any{"merchant_id": "merchant-1"})
	require.Equal(t, http.StatusOK, code)
	assert.False(t, ts.cache.cached(id))
	code, body = ts.do(t, http.MethodGet, "/reservations/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"status":"confirmed"`)
	assert.True(t, ts.cache.cached(id))
}

func TestCreateRejections(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/reservations", map[string]any{
		"consumer_id": "consumer-1", "merchant_id": "merchant-1", "product_id": "p-1",
		"quantity": 10, "pickup_time": now.Add(5 * time.Hour),
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "INSUFFICIENT_STOCK", errorCode(t, body))

	code, body = ts.do(t, http.MethodPost, "/reservations", map[string]any{
		"consumer_id": "consumer-1", "merchant_id": "merchant-1", "product_id": "p-1",
		"quantity": 1, "pickup_time": now.Add(-time.Minute),
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_PICKUP_TIME", errorCode(t, body))

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/reservations", bytes.NewBufferString("{"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	p, _ := ts.store.Product("p-1")
	assert.Equal(t, 3, p.StockQuantity)
}

func TestGetUnknownReservation(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(t, http.MethodGet, "/reservations/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, body))
}

func TestCancelWindowAndReason(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t, 1, time.Hour)["id"].(string)

	code, body := ts.do(t, http.MethodPost, "/reservations/"+id+"/cancel", map[string]any{
		"initiator_role": "consumer", "reason": " ",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "REASON_REQUIRED", errorCode(t, body))

	code, body = ts.do(t, http.MethodPost, "/reservations/"+id+"/cancel", map[string]any{
		"initiator_role": "consumer", "reason": "일정 변경",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CANCELLATION_WINDOW_EXPIRED", errorCode(t, body))

	code, body = ts.do(t, http.MethodPost, "/reservations/"+id+"/cancel", map[string]any{
		"initiator_role": "store", "reason": "품절",
	}, "X-User-Id", "merchant-1")
	require.Equal(t, http.StatusOK, code, string(body))
	assert.Contains(t, string(body), "cancelled_by_store")
	assert.Equal(t, []string{id}, ts.cache.invalidated)

	p, _ := ts.store.Product("p-1")
	assert.Equal(t, 3, p.StockQuantity)
}

func TestCancelByAnotherUserIsForbidden(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t, 1, 5*time.Hour)["id"].(string)

	code, body := ts.do(t, http.MethodPost, "/reservations/"+id+"/cancel", map[string]any{
		"initiator_role": "consumer", "reason": "변심",
	}, "X-User-Id", "consumer-2")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, body))
}

func TestPickupThenReviewFlow(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t, 1, 5*time.Hour)["id"].(string)

	code, body := ts.do(t, http.MethodGet, "/reservations/"+id+"/review-eligibility", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"eligible":false}`, string(body))

	review := map[string]any{"reservation_id": id, "consumer_id": "consumer-1", "rating": 5, "content": "맛있어요"}
	code, body = ts.do(t, http.MethodPost, "/reviews", review)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "NOT_ELIGIBLE", errorCode(t, body))

	code, _ = ts.do(t, http.MethodPost, "/reservations/"+id+"/confirm", map[string]any{"merchant_id": "merchant-1"})
	require.Equal(t, http.StatusOK, code)
	code, body = ts.do(t, http.MethodPost, "/reservations/"+id+"/complete", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"picked_up":true`)

	code, body = ts.do(t, http.MethodPost, "/reviews", review)
	require.Equal(t, http.StatusCreated, code, string(body))
	var rv reservations.Review
	require.NoError(t, json.Unmarshal(body, &rv))

	code, body = ts.do(t, http.MethodPost, "/reviews", review)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "DUPLICATE_REVIEW", errorCode(t, body))

	code, body = ts.do(t, http.MethodPost, "/reviews/"+rv.ID+"/reply", map[string]any{"merchant_id": "merchant-1", "reply": "감사합니다"})
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "감사합니다")

	rating, ok := ts.store.MerchantRating("merchant-1")
	require.True(t, ok)
	assert.Equal(t, 1, rating.ReviewCount)
}

func TestListsAndNotifications(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t, 1, 5*time.Hour)
	ts.create(t, 1, 6*time.Hour)

	code, body := ts.do(t, http.MethodGet, "/consumers/consumer-1/reservations?limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	code, body = ts.do(t, http.MethodGet, "/merchants/merchant-2/reservations", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))

	n, err := ts.relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	code, body = ts.do(t, http.MethodGet, "/users/merchant-1/notifications", nil)
	require.Equal(t, http.StatusOK, code)
	var inbox []notify.Notification
	require.NoError(t, json.Unmarshal(body, &inbox))
	require.Len(t, inbox, 2)
	assert.Equal(t, notify.TypeNewReservation, inbox[0].Type)

	code, _ = ts.do(t, http.MethodPost, "/notifications/"+inbox[0].ID+"/read", nil, "X-User-Id", "merchant-1")
	assert.Equal(t, http.StatusNoContent, code)

	code, _ = ts.do(t, http.MethodPost, "/notifications/"+inbox[0].ID+"/read", map[string]any{"user_id": "someone-else"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	ts.create(t, 1, 5*time.Hour)

	code, body := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", string(body))

	code, body = ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "reservations_created_total 1")
}

func TestGetDoesNotCacheViewReadBeforeAWrite(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t, 1, 5*time.Hour)["id"].(string)

	// a cancel commits between the version read and the put
	ts.cache.afterVersion = func(id string) {
		ts.cache.afterVersion = nil
		require.NoError(t, ts.cache.Invalidate(context.Background(), id))
	}
	code, body := ts.do(t, http.MethodGet, "/reservations/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"status":"pending"`)
	assert.False(t, ts.cache.cached(id))

	code, _ = ts.do(t, http.MethodGet, "/reservations/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, ts.cache.cached(id))
}

func TestConsumerListStatusFilter(t *testing.T) {
	ts := newTestServer(t)
	first := ts.create(t, 1, 5*time.Hour)["id"].(string)
	second := ts.create(t, 1, 6*time.Hour)["id"].(string)

	code, body := ts.do(t, http.MethodPost, "/reservations/"+first+"/cancel", map[string]any{
		"initiator_role": "consumer", "reason": "일정 변경",
	}, "X-User-Id", "consumer-1")
	require.Equal(t, http.StatusOK, code, string(body))

	code, body = ts.do(t, http.MethodGet, "/consumers/consumer-1/reservations?status=active", nil)
	require.Equal(t, http.StatusOK, code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, second, list[0]["id"])

	code, body = ts.do(t, http.MethodGet, "/consumers/consumer-1/reservations", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 2)

	code, body = ts.do(t, http.MethodGet, "/consumers/consumer-1/reservations?status=expired", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION", errorCode(t, body))
}

func TestGetReview(t *testing.T) {
	ts := newTestServer(t)
	id := ts.create(t, 1, 5*time.Hour)["id"].(string)
	code, _ := ts.do(t, http.MethodPost, "/reservations/"+id+"/complete", nil)
	require.Equal(t, http.StatusOK, code)

	code, body := ts.do(t, http.MethodPost, "/reviews", map[string]any{
		"reservation_id": id, "consumer_id": "consumer-1", "rating": 4, "content": "빵이 부드러워요",
	})
	require.Equal(t, http.StatusCreated, code, string(body))
	var created reservations.Review
	require.NoError(t, json.Unmarshal(body, &created))

	code, body = ts.do(t, http.MethodGet, "/reviews/"+created.ID, nil)
	require.Equal(t, http.StatusOK, code)
	var got reservations.Review
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, 4, got.Rating)

	code, body = ts.do(t, http.MethodGet, "/reviews/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, body))
}

func TestHealthReportsFailingCheck(t *testing.T) {
	healthy := true
	r := NewRouter(zerolog.Nop(), nil, func() error {
		if healthy {
			return nil
		}
		return errors.New("dispatcher unavailable")
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	healthy = false
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable","error":"dispatcher unavailable"}`, rec.Body.String())
}
