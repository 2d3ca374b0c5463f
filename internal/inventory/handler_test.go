package inventory

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func newTestRouter(repo *MemoryRepository) http.Handler {
	svc, _, _ := newTestService(repo)
	h := NewHandler(slog.Default(), svc, nil, nil)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(shared.ContextWithTenant(r.Context(), "acme")))
		})
	})
	h.MountRoutes(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

type itemEnvelope struct {
	Data struct {
		ProductID        int64 `json:"productId"`
		Quantity         int64 `json:"quantity"`
		ReservedQuantity int64 `json:"reservedQuantity"`
		Available        int64 `json:"available"`
	} `json:"data"`
}

func TestHandlerReserveAndDeductFlow(t *testing.T) {
	repo := NewMemoryRepository()
	repo.Seed(10, 1, 50, 0)
	h := newTestRouter(repo)

	rr := doJSON(t, h, http.MethodPost, "/reserve", `{"productId":10,"locationId":1,"quantity":20,"referenceType":"ORDER","referenceId":5}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var env itemEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Equal(t, int64(30), env.Data.Available)

	// retried reserve is absorbed by the reservation ledger
	rr = doJSON(t, h, http.MethodPost, "/reserve", `{"productId":10,"locationId":1,"quantity":20,"referenceType":"ORDER","referenceId":5}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, int64(20), repo.ItemAt(10, 1).ReservedQuantity)

	rr = doJSON(t, h, http.MethodPost, "/deduct", `{"productId":10,"locationId":1,"quantity":20,"referenceType":"ORDER","referenceId":5}`)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Equal(t, int64(30), env.Data.Quantity)
	require.Zero(t, env.Data.ReservedQuantity)

	rr = doJSON(t, h, http.MethodGet, "/movements?orderId=5&limit=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Data []map[string]any `json:"data"`
		Meta shared.Meta      `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Equal(t, 2, list.Meta.Total)
	require.Len(t, list.Data, 1)
	require.Equal(t, "SALE", list.Data[0]["type"])
	require.Equal(t, "ORDER", list.Data[0]["referenceType"])
}

func TestHandlerErrorKinds(t *testing.T) {
	repo := NewMemoryRepository()
	repo.Seed(10, 1, 30, 0)
	h := newTestRouter(repo)

	rr := doJSON(t, h, http.MethodPost, "/deduct", `{"productId":10,"locationId":1,"quantity":100}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), shared.KindInsufficientStock)

	rr = doJSON(t, h, http.MethodPost, "/adjust", `{"productId":10,"locationId":1,"delta":-1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), `"reason"`)

	rr = doJSON(t, h, http.MethodPost, "/restock", `{"productId":0,"quantity":1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), `"productId":"is required"`)

	rr = doJSON(t, h, http.MethodGet, "/items/999", "")
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, h, http.MethodPost, "/restock", `{"productId":10,"locationId":1,"quantity":1}`, IdempotencyHeader, "abc")
	require.Equal(t, http.StatusOK, rr.Code)
	rr = doJSON(t, h, http.MethodPost, "/restock", `{"productId":10,"locationId":1,"quantity":2}`, IdempotencyHeader, "abc")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Empty(t, rr.Header().Get("Retry-After"))
	require.Equal(t, int64(31), repo.ItemAt(10, 1).Quantity)

	rr = doJSON(t, h, http.MethodPost, "/restock", `{"productId":10,"locationId":1,"quantity":1000000000001}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), shared.KindValidation)
}

func TestHandlerIdempotentReplayReturnsOriginalResult(t *testing.T) {
	repo := NewMemoryRepository()
	repo.Seed(10, 1, 50, 0)
	h := newTestRouter(repo)
	body := `{"productId":10,"locationId":1,"quantity":5}`

	rr := doJSON(t, h, http.MethodPost, "/deduct", body, IdempotencyHeader, "k1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Empty(t, rr.Header().Get(ReplayedHeader))
	first := rr.Body.String()

	// stock moves between the original request and its retry
	rr = doJSON(t, h, http.MethodPost, "/restock", `{"productId":10,"locationId":1,"quantity":7}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, h, http.MethodPost, "/deduct", body, IdempotencyHeader, "k1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, "true", rr.Header().Get(ReplayedHeader))
	require.Empty(t, rr.Header().Get("Retry-After"))
	var env itemEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Equal(t, int64(45), env.Data.Quantity)
	require.Equal(t, int64(52), repo.ItemAt(10, 1).Quantity)
	require.Len(t, repo.MovementsAt(10, 1), 2)

	var original itemEnvelope
	require.NoError(t, json.Unmarshal([]byte(first), &original))
	require.Equal(t, original.Data, env.Data)
}

func TestHandlerItemsAndStock(t *testing.T) {
	repo := NewMemoryRepository()
	h := newTestRouter(repo)

	rr := doJSON(t, h, http.MethodPost, "/items", `{"productId":4,"locationId":1,"quantity":6,"reorderPoint":6,"costPrice":"2.50"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = doJSON(t, h, http.MethodGet, "/items?lowStock=true", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"total":1`)

	item := repo.ItemAt(4, 1)
	rr = doJSON(t, h, http.MethodPatch, "/items/"+jsonInt(item.ID), `{"reorderPoint":2}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, h, http.MethodGet, "/items/low-stock", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"total":0`)

	rr = doJSON(t, h, http.MethodGet, "/stock/4", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var level struct {
		Data StockLevel `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &level))
	require.Equal(t, int64(6), level.Data.Available)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
