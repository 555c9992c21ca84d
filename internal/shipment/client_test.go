package shipment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider is an in-process logistics provider. Every non-login endpoint
// requires the most recently issued bearer token.
type fakeProvider struct {
	t *testing.T

	logins   atomic.Int64
	requests atomic.Int64

	expiresIn  int64
	rejectNext atomic.Int64 // pending forced 401s for authed calls

	lastOrder map[string]any
}

func (p *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		require.NoError(p.t, json.NewDecoder(r.Body).Decode(&creds))
		assert.Equal(p.t, "ops@example.com", creds.Email)
		assert.Equal(p.t, "hunter2", creds.Password)

		n := p.logins.Add(1)
		writeJSON(w, map[string]any{
			"token":      fmt.Sprintf("tok-%d", n),
			"expires_in": p.expiresIn,
		})
	})

	authed := func(fn func(w http.ResponseWriter, r *http.Request)) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			p.requests.Add(1)
			if p.rejectNext.Load() > 0 {
				p.rejectNext.Add(-1)
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			want := fmt.Sprintf("Bearer tok-%d", p.logins.Load())
			if r.Header.Get("Authorization") != want {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			fn(w, r)
		}
	}

	mux.HandleFunc("POST /orders/create", authed(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(p.t, json.NewDecoder(r.Body).Decode(&body))
		p.lastOrder = body
		writeJSON(w, map[string]any{
			"shipment_id": "ship_1",
			"order_id":    body["order_id"],
			"status":      "NEW",
		})
	}))
	mux.HandleFunc("GET /courier/label", authed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"label_url": "https://labels.example.com/" + r.URL.Query().Get("shipment_id") + ".pdf",
		})
	}))
	mux.HandleFunc("GET /courier/track", authed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"status": "In Transit", "courier": "Delhivery"})
	}))
	mux.HandleFunc("POST /orders/cancel", authed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"status": "CANCELED"})
	}))

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, expiresIn int64) (*Client, *fakeProvider) {
	t.Helper()

	provider := &fakeProvider{t: t, expiresIn: expiresIn}
	srv := httptest.NewServer(provider.handler())
	t.Cleanup(srv.Close)

	return NewClient(srv.URL, "ops@example.com", "hunter2", srv.Client()), provider
}

func TestClientCreateShipment(t *testing.T) {
	client, provider := newTestClient(t, 3600)

	sh, err := client.CreateShipment(context.Background(), OrderSnapshot{
		OrderID:  "order-1",
		SubTotal: decimal.RequireFromString("848.00"),
		Items: []Item{
			{ProductID: "kurta-1", ProductName: "Cotton Kurta", SKU: "KRT-001", Quantity: 2, UnitPrice: decimal.RequireFromString("499.00")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, Shipment{ID: "ship_1", OrderID: "order-1"}, sh)

	assert.Equal(t, "order-1", provider.lastOrder["order_id"])
	assert.Equal(t, "848.00", provider.lastOrder["sub_total"])
	items, ok := provider.lastOrder["order_items"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	line := items[0].(map[string]any)
	assert.Equal(t, "KRT-001", line["sku"])
	assert.Equal(t, float64(2), line["units"])
}

func TestClientReusesToken(t *testing.T) {
	client, provider := newTestClient(t, 3600)
	ctx := context.Background()

	_, err := client.GenerateLabel(ctx, "ship_1")
	require.NoError(t, err)
	_, err = client.Track(ctx, "ship_1")
	require.NoError(t, err)
	require.NoError(t, client.Cancel(ctx, "ship_1"))

	assert.Equal(t, int64(1), provider.logins.Load(), "one login must serve all calls")
	assert.Equal(t, int64(3), provider.requests.Load())
}

func TestClientRetriesOnceOn401(t *testing.T) {
	client, provider := newTestClient(t, 3600)
	ctx := context.Background()

	// Warm the token cache, then force the provider to reject it once.
	_, err := client.Track(ctx, "ship_1")
	require.NoError(t, err)

	provider.rejectNext.Store(1)
	labelURL, err := client.GenerateLabel(ctx, "ship_1")
	require.NoError(t, err)
	assert.Equal(t, "https://labels.example.com/ship_1.pdf", labelURL)
	assert.Equal(t, int64(2), provider.logins.Load(), "401 must trigger a re-login")

	// A provider that rejects the fresh token too must surface an error,
	// not loop.
	provider.rejectNext.Store(2)
	before := provider.requests.Load()
	_, err = client.GenerateLabel(ctx, "ship_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, before+2, provider.requests.Load(), "exactly one retry")
}

func TestClientRefreshesExpiredToken(t *testing.T) {
	client, provider := newTestClient(t, 3600)
	ctx := context.Background()

	base := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	current := base
	client.now = func() time.Time { return current }

	_, err := client.Track(ctx, "ship_1")
	require.NoError(t, err)
	require.Equal(t, int64(1), provider.logins.Load())

	// Still inside the hour, minus slack.
	current = base.Add(30 * time.Minute)
	_, err = client.Track(ctx, "ship_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), provider.logins.Load())

	current = base.Add(time.Hour)
	_, err = client.Track(ctx, "ship_1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), provider.logins.Load(), "expired token must be refreshed")
}

func TestClientDefaultsMissingExpiry(t *testing.T) {
	client, provider := newTestClient(t, 0)
	ctx := context.Background()

	base := time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	current := base
	client.now = func() time.Time { return current }

	_, err := client.Track(ctx, "ship_1")
	require.NoError(t, err)

	current = base.Add(9 * 24 * time.Hour)
	_, err = client.Track(ctx, "ship_1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), provider.logins.Load(), "default lifetime is ten days")
}
