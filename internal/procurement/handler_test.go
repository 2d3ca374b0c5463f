package procurement

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

func TestHandlerLifecycle(t *testing.T) {
	svc, _, ledger, _ := newTestService()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithTenant(req.Context(), "acme")))
		})
	})
	NewHandler(nil, svc, nil).MountRoutes(r)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	rr := do(http.MethodPost, "/", `{"supplierId":1,"items":[{"productId":10,"orderedQuantity":100,"unitCost":"10"}]}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var env struct {
		Data PurchaseOrder `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.Equal(t, "1000", env.Data.TotalAmount.String())
	base := "/" + jsonID(env.Data.ID)

	rr = do(http.MethodPost, base+"/receive", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), shared.KindInvalidStateTransition)

	rr = do(http.MethodPost, base+"/order", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(http.MethodPost, base+"/receive", `{"items":[{"purchaseOrderItemId":`+jsonID(env.Data.Items[0].ID)+`,"receivedQuantity":101}]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), shared.KindExcessReceipt)

	rr = do(http.MethodPost, base+"/receive", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), `"status":"RECEIVED"`)
	require.Len(t, ledger.applied, 1)

	rr = do(http.MethodGet, "/?status=RECEIVED", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"total":1`)

	rr = do(http.MethodDelete, base, "")
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(http.MethodPost, "/", `{"items":[]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
