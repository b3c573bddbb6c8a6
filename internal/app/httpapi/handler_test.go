package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	app "github.com/insightmesh/market_layer/internal/app"
	"github.com/insightmesh/market_layer/internal/app/domain/token"
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	application, err := app.New(context.Background(), app.Options{
		Admin:   "admin",
		Reserve: "marketplace",
		Minters: []token.Address{"admin"},
	}, app.Stores{}, nil)
	require.NoError(t, err)
	return NewHandler(application)
}

func do(t *testing.T, h http.Handler, method, path, caller string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHandler_Health(t *testing.T) {
	h := newTestHandler(t)
	rec := do(t, h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandler_TokenEndpoints(t *testing.T) {
	h := newTestHandler(t)

	t.Run("mint requires minter role", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/token/mint", "mallory", map[string]string{"to": "alice", "amount": "100"})
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("mint rejects malformed amounts", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/token/mint", "admin", map[string]string{"to": "alice", "amount": "abc"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("mint and read back", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/token/mint", "admin", map[string]string{"to": "alice", "amount": "100", "reason": "grant"})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = do(t, h, http.MethodGet, "/token/balance/alice", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var balance map[string]string
		decode(t, rec, &balance)
		require.Equal(t, "100", balance["balance"])

		rec = do(t, h, http.MethodGet, "/token/supply", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var supply map[string]string
		decode(t, rec, &supply)
		require.Equal(t, "100", supply["total_supply"])
	})

	t.Run("transfer", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/token/transfer", "alice", map[string]string{"to": "bob", "amount": "40"})
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = do(t, h, http.MethodPost, "/token/transfer", "alice", map[string]string{"to": "bob", "amount": "9999"})
		require.Equal(t, http.StatusPaymentRequired, rec.Code)
	})

	t.Run("burn", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/token/burn", "bob", map[string]string{"amount": "10"})
		require.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestHandler_MarketplaceFlow(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/token/mint", "admin", map[string]string{"to": "buyer", "amount": "1000"})
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("create listing", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/insights", "creator", map[string]string{
			"title":       "Intro to caches",
			"description": "Cache eviction strategies compared",
			"category":    "LEARNING",
			"price":       "100",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		var created struct {
			ID     uint64 `json:"id"`
			Active bool   `json:"active"`
		}
		decode(t, rec, &created)
		require.Equal(t, uint64(1), created.ID)
		require.True(t, created.Active)
	})

	t.Run("listing validation", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/insights", "creator", map[string]string{
			"title": "", "description": "d", "category": "c", "price": "1",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("browse by category", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/insights?category=LEARNING", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var listings []map[string]any
		decode(t, rec, &listings)
		require.Len(t, listings, 1)

		rec = do(t, h, http.MethodGet, "/insights", "", nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("purchase", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/insights/1/purchase", "buyer", nil)
		require.Equal(t, http.StatusCreated, rec.Code)

		rec = do(t, h, http.MethodGet, "/token/balance/creator", "", nil)
		var balance map[string]string
		decode(t, rec, &balance)
		require.Equal(t, "90", balance["balance"])

		rec = do(t, h, http.MethodPost, "/insights/99/purchase", "buyer", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)

		rec = do(t, h, http.MethodPost, "/insights/1/purchase", "pauper", nil)
		require.Equal(t, http.StatusPaymentRequired, rec.Code)

		rec = do(t, h, http.MethodPost, "/insights/1/purchase", "creator", nil)
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("rate", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/insights/1/rate", "pauper", map[string]int{"rating": 5})
		require.Equal(t, http.StatusConflict, rec.Code)

		rec = do(t, h, http.MethodPost, "/insights/1/rate", "buyer", map[string]int{"rating": 5})
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = do(t, h, http.MethodGet, "/insights/1/ratings", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var ratings []uint32
		decode(t, rec, &ratings)
		require.Equal(t, []uint32{500}, ratings)
	})

	t.Run("reputation and stats", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/reputation/creator", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var rep struct {
			ListingsCreated uint64 `json:"listings_created"`
			TotalEarned     string `json:"total_earned"`
		}
		decode(t, rec, &rep)
		require.Equal(t, uint64(1), rep.ListingsCreated)

		rec = do(t, h, http.MethodGet, "/categories/LEARNING", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = do(t, h, http.MethodGet, "/stats", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var stats map[string]any
		decode(t, rec, &stats)
		require.EqualValues(t, 1, stats["total_listings"])
		require.EqualValues(t, 10, stats["fee_percent"])
	})

	t.Run("events", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/events?type=insight.purchased", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var evs []map[string]any
		decode(t, rec, &evs)
		require.Len(t, evs, 1)
	})
}

func TestHandler_AdminEndpoints(t *testing.T) {
	h := newTestHandler(t)

	t.Run("fee", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/admin/fee", "mallory", map[string]uint64{"percent": 20})
		require.Equal(t, http.StatusForbidden, rec.Code)

		rec = do(t, h, http.MethodPost, "/admin/fee", "admin", map[string]uint64{"percent": 99})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		rec = do(t, h, http.MethodPost, "/admin/fee", "admin", map[string]uint64{"percent": 20})
		require.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("withdraw without fees", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/admin/withdraw", "admin", nil)
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("pause gates mutations", func(t *testing.T) {
		rec := do(t, h, http.MethodPost, "/admin/pause", "admin", nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = do(t, h, http.MethodPost, "/insights", "creator", map[string]string{
			"title": "t", "description": "d", "category": "c", "price": "1",
		})
		require.Equal(t, http.StatusConflict, rec.Code)

		rec = do(t, h, http.MethodPost, "/admin/unpause", "admin", nil)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = do(t, h, http.MethodPost, "/insights", "creator", map[string]string{
			"title": "t", "description": "d", "category": "c", "price": "1",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	})
}
