package suppliers

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/masterdata/shared"
	internalShared "github.com/odyssey-erp/stockledger/internal/shared"
)

type memoryRepo struct {
	mu      sync.Mutex
	rows    map[int64]Supplier
	nextID  int64
	poCount map[int64]int
}

type memoryTx struct {
	rows    map[int64]Supplier
	nextID  *int64
	poCount map[int64]int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rows: map[int64]Supplier{}, poCount: map[int64]int{}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := maps.Clone(r.rows)
	next := r.nextID
	if err := fn(ctx, &memoryTx{rows: rows, nextID: &next, poCount: r.poCount}); err != nil {
		return err
	}
	r.rows, r.nextID = rows, next
	return nil
}

func (r *memoryRepo) List(_ context.Context, filters shared.ListFilters) ([]Supplier, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Supplier
	for _, s := range r.rows {
		if filters.IsActive != nil && s.Active != *filters.IsActive {
			continue
		}
		if filters.Search != "" && !strings.Contains(internalShared.FoldName(s.Name), internalShared.FoldName(filters.Search)) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (Supplier, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.rows[id]
	if !ok {
		return Supplier{}, ErrSupplierNotFound
	}
	return s, nil
}

func (t *memoryTx) Create(_ context.Context, s Supplier) (Supplier, error) {
	for _, existing := range t.rows {
		if internalShared.FoldName(existing.Name) == internalShared.FoldName(s.Name) {
			return Supplier{}, internalShared.NewValidationError("name", "a supplier with this name already exists")
		}
	}
	*t.nextID++
	s.ID = *t.nextID
	t.rows[s.ID] = s
	return s, nil
}

func (t *memoryTx) LockByID(_ context.Context, id int64) (Supplier, error) {
	s, ok := t.rows[id]
	if !ok {
		return Supplier{}, ErrSupplierNotFound
	}
	return s, nil
}

func (t *memoryTx) Update(_ context.Context, s Supplier) error {
	t.rows[s.ID] = s
	return nil
}

func (t *memoryTx) CountPurchaseOrders(_ context.Context, id int64) (int, error) {
	return t.poCount[id], nil
}

func (t *memoryTx) Delete(_ context.Context, id int64) error {
	delete(t.rows, id)
	return nil
}

func ptr[T any](v T) *T { return &v }

func tenantCtx() context.Context {
	return internalShared.ContextWithTenant(context.Background(), "acme")
}

func TestCreateNormalizesAndValidates(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	ctx := tenantCtx()

	sup, err := svc.Create(ctx, Input{Name: ptr("  Acme   Parts "), Email: ptr(" Sales@Acme.example ")})
	require.NoError(t, err)
	require.Equal(t, "Acme Parts", sup.Name)
	require.Equal(t, "sales@acme.example", sup.Email)
	require.True(t, sup.Active)

	_, err = svc.Create(ctx, Input{Name: ptr("ACME parts")})
	require.ErrorIs(t, err, internalShared.ErrValidation)

	_, err = svc.Create(ctx, Input{Name: ptr("Other"), Email: ptr("not-an-email")})
	var verr *internalShared.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "email")

	_, err = svc.Create(ctx, Input{})
	require.ErrorIs(t, err, internalShared.ErrValidation)
}

func TestDeleteUnreferencedRemoves(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := tenantCtx()
	sup, err := svc.Create(ctx, Input{Name: ptr("Solo")})
	require.NoError(t, err)

	removed, err := svc.Delete(ctx, sup.ID)
	require.NoError(t, err)
	require.True(t, removed)
	_, err = svc.Get(ctx, sup.ID)
	require.ErrorIs(t, err, internalShared.ErrNotFound)
}

func TestDeleteReferencedDeactivates(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := tenantCtx()
	sup, err := svc.Create(ctx, Input{Name: ptr("Busy")})
	require.NoError(t, err)
	repo.poCount[sup.ID] = 2

	removed, err := svc.Delete(ctx, sup.ID)
	require.NoError(t, err)
	require.False(t, removed)
	got, err := svc.Get(ctx, sup.ID)
	require.NoError(t, err)
	require.False(t, got.Active)

	_, err = svc.RequireActive(ctx, sup.ID)
	require.ErrorIs(t, err, internalShared.ErrValidation)
}

func TestUpdateLeavesUnsetFields(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	ctx := tenantCtx()
	sup, err := svc.Create(ctx, Input{Name: ptr("Keep"), Phone: ptr("555")})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, sup.ID, Input{ContactName: ptr("Dana")})
	require.NoError(t, err)
	require.Equal(t, "Keep", updated.Name)
	require.Equal(t, "555", updated.Phone)
	require.Equal(t, "Dana", updated.ContactName)

	_, err = svc.Update(ctx, 99, Input{Phone: ptr("1")})
	require.ErrorIs(t, err, internalShared.ErrNotFound)
}

func TestHandlerRoutes(t *testing.T) {
	repo := newMemoryRepo()
	h := NewHandler(nil, NewService(repo, nil, nil), nil)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(tenantCtx()))
		})
	})
	h.MountRoutes(r)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	rr := do(http.MethodPost, "/", `{"name":"Northwind","email":"ops@northwind.example"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var env struct {
		Data Supplier `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))

	rr = do(http.MethodGet, "/?search=north", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"total":1`)

	repo.poCount[env.Data.ID] = 1
	rr = do(http.MethodDelete, "/"+jsonID(env.Data.ID), "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"active":false`)

	rr = do(http.MethodGet, "/77", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
