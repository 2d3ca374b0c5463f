package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/masterdata/locations"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	transfers map[int64]Transfer
	nextID    int64
}

type memoryTx struct {
	transfers map[int64]Transfer
	nextID    *int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{transfers: map[int64]Transfer{}}
}

func cloneTransfer(t Transfer) Transfer {
	t.Items = slices.Clone(t.Items)
	return t
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := make(map[int64]Transfer, len(r.transfers))
	for id, t := range r.transfers {
		rows[id] = cloneTransfer(t)
	}
	next := r.nextID
	if err := fn(ctx, &memoryTx{transfers: rows, nextID: &next}); err != nil {
		return err
	}
	r.transfers, r.nextID = rows, next
	return nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (Transfer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transfers[id]
	if !ok {
		return Transfer{}, ErrTransferNotFound
	}
	return cloneTransfer(t), nil
}

func (r *memoryRepo) List(_ context.Context, filters ListFilters) ([]Transfer, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Transfer
	for _, t := range r.transfers {
		if filters.Status != "" && t.Status != filters.Status {
			continue
		}
		if filters.FromLocationID > 0 && t.FromLocationID != filters.FromLocationID {
			continue
		}
		if filters.ToLocationID > 0 && t.ToLocationID != filters.ToLocationID {
			continue
		}
		out = append(out, cloneTransfer(t))
	}
	return out, len(out), nil
}

func (t *memoryTx) Create(_ context.Context, tr Transfer) (Transfer, error) {
	*t.nextID++
	tr.ID = *t.nextID
	for i := range tr.Items {
		*t.nextID++
		tr.Items[i].ID = *t.nextID
		tr.Items[i].TransferID = tr.ID
	}
	t.transfers[tr.ID] = cloneTransfer(tr)
	return tr, nil
}

func (t *memoryTx) Lock(_ context.Context, id int64) (Transfer, error) {
	tr, ok := t.transfers[id]
	if !ok {
		return Transfer{}, ErrTransferNotFound
	}
	return cloneTransfer(tr), nil
}

func (t *memoryTx) UpdateStatus(_ context.Context, tr Transfer) error {
	t.transfers[tr.ID] = cloneTransfer(tr)
	return nil
}

func (t *memoryTx) Delete(_ context.Context, id int64) error {
	delete(t.transfers, id)
	return nil
}

type stockKey struct{ product, location int64 }

// stockLedger applies deducts and restocks all-or-nothing against on-hand quantities.
type stockLedger struct {
	stock     map[stockKey]int64
	movements []inventory.Movement
}

func (l *stockLedger) ApplyBatch(_ context.Context, muts []inventory.Mutation) ([]inventory.Result, error) {
	next := maps.Clone(l.stock)
	if next == nil {
		next = map[stockKey]int64{}
	}
	var results []inventory.Result
	for i, m := range muts {
		k := stockKey{m.ProductID, m.LocationID}
		prev := next[k]
		switch m.Op {
		case inventory.OpDeduct:
			if m.Quantity > prev {
				return nil, fmt.Errorf("line %d: %w", i+1, shared.ErrInsufficientStock)
			}
			next[k] = prev - m.Quantity
		case inventory.OpRestock:
			next[k] = prev + m.Quantity
		}
		mv := inventory.Movement{ProductID: m.ProductID, LocationID: m.LocationID, Type: m.Type, Quantity: next[k] - prev,
			PreviousQuantity: prev, NewQuantity: next[k], Reference: m.Reference}
		results = append(results, inventory.Result{Movement: &mv})
	}
	l.stock = next
	for _, r := range results {
		l.movements = append(l.movements, *r.Movement)
	}
	return results, nil
}

func (l *stockLedger) AfterCommit(context.Context, []inventory.Result) {}

type fakeLocations map[int64]bool

func (f fakeLocations) RequireActive(_ context.Context, id int64) (locations.Location, error) {
	active, ok := f[id]
	if !ok {
		return locations.Location{}, locations.ErrLocationNotFound
	}
	if !active {
		return locations.Location{}, shared.NewValidationError("locationId", "inactive")
	}
	return locations.Location{ID: id, Active: true}, nil
}

const (
	locA = int64(1)
	locB = int64(2)
)

func newTestService(stock map[stockKey]int64) (*Service, *stockLedger) {
	ledger := &stockLedger{stock: stock}
	svc := NewService(newMemoryRepo(), ledger, fakeLocations{locA: true, locB: true, 3: false}, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 5, 2, 8, 0, 0, 0, time.UTC) }
	return svc, ledger
}

func tenantCtx() context.Context {
	return shared.ContextWithTenant(context.Background(), "acme")
}

func TestTransferDispatchAndComplete(t *testing.T) {
	svc, ledger := newTestService(map[stockKey]int64{{10, locA}: 30, {10, locB}: 5})
	ctx := tenantCtx()

	tr, err := svc.Create(ctx, CreateInput{FromLocationID: locA, ToLocationID: locB, Items: []ItemInput{{ProductID: 10, Quantity: 10}}})
	require.NoError(t, err)
	require.Equal(t, StatusPending, tr.Status)
	require.Regexp(t, `^TR-20260502-[0-9A-F]{8}$`, tr.TransferNumber)
	require.Empty(t, ledger.movements)

	tr, err = svc.MarkInTransit(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInTransit, tr.Status)
	require.Equal(t, int64(20), ledger.stock[stockKey{10, locA}])
	require.Equal(t, int64(5), ledger.stock[stockKey{10, locB}])
	out := ledger.movements[0]
	require.Equal(t, inventory.MovementTransferOut, out.Type)
	require.Equal(t, int64(30), out.PreviousQuantity)
	require.Equal(t, int64(20), out.NewQuantity)
	require.Equal(t, inventory.TransferRef(tr.ID), out.Reference)

	tr, err = svc.Complete(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, tr.Status)
	require.NotNil(t, tr.CompletedAt)
	in := ledger.movements[1]
	require.Equal(t, inventory.MovementTransferIn, in.Type)
	require.Equal(t, int64(5), in.PreviousQuantity)
	require.Equal(t, int64(15), in.NewQuantity)

	_, err = svc.Cancel(ctx, tr.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransfer)
	require.Equal(t, shared.KindInvalidTransfer, shared.Kind(err))
	require.ErrorIs(t, svc.Delete(ctx, tr.ID), shared.ErrInvalidTransfer)
}

func TestMarkInTransitIsAllOrNothing(t *testing.T) {
	svc, ledger := newTestService(map[stockKey]int64{{10, locA}: 30, {11, locA}: 2})
	ctx := tenantCtx()
	tr, err := svc.Create(ctx, CreateInput{FromLocationID: locA, ToLocationID: locB, Items: []ItemInput{
		{ProductID: 10, Quantity: 10},
		{ProductID: 11, Quantity: 5},
	}})
	require.NoError(t, err)

	_, err = svc.MarkInTransit(ctx, tr.ID)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, int64(30), ledger.stock[stockKey{10, locA}])
	require.Empty(t, ledger.movements)
	got, err := svc.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status)
}

func TestCancelReturnsGoodsInTransit(t *testing.T) {
	svc, ledger := newTestService(map[stockKey]int64{{10, locA}: 30})
	ctx := tenantCtx()

	pending, err := svc.Create(ctx, CreateInput{FromLocationID: locA, ToLocationID: locB, Items: []ItemInput{{ProductID: 10, Quantity: 4}}})
	require.NoError(t, err)
	cancelled, err := svc.Cancel(ctx, pending.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Empty(t, ledger.movements)

	moving, err := svc.Create(ctx, CreateInput{FromLocationID: locA, ToLocationID: locB, Items: []ItemInput{{ProductID: 10, Quantity: 4}}})
	require.NoError(t, err)
	_, err = svc.MarkInTransit(ctx, moving.ID)
	require.NoError(t, err)
	require.Equal(t, int64(26), ledger.stock[stockKey{10, locA}])

	_, err = svc.Cancel(ctx, moving.ID)
	require.NoError(t, err)
	require.Equal(t, int64(30), ledger.stock[stockKey{10, locA}])
	require.Zero(t, ledger.stock[stockKey{10, locB}])
	last := ledger.movements[len(ledger.movements)-1]
	require.Equal(t, inventory.MovementReturn, last.Type)
	require.Equal(t, locA, last.LocationID)

	_, err = svc.Complete(ctx, moving.ID)
	require.ErrorIs(t, err, shared.ErrInvalidStateTransition)
}

func TestCreateRules(t *testing.T) {
	svc, _ := newTestService(nil)
	ctx := tenantCtx()
	items := []ItemInput{{ProductID: 10, Quantity: 1}}

	_, err := svc.Create(ctx, CreateInput{FromLocationID: locA, ToLocationID: locA, Items: items})
	require.ErrorIs(t, err, shared.ErrInvalidTransfer)

	_, err = svc.Create(ctx, CreateInput{FromLocationID: locA, ToLocationID: 3, Items: items})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, CreateInput{FromLocationID: 99, ToLocationID: locB, Items: items})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, CreateInput{FromLocationID: locA, ToLocationID: locB, Items: []ItemInput{{ProductID: 10, Quantity: 0}}})
	require.ErrorIs(t, err, shared.ErrValidation)

	tr, err := svc.Create(ctx, CreateInput{FromLocationID: locA, ToLocationID: locB, Items: items})
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, tr.ID))
	_, err = svc.Get(ctx, tr.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestHandlerRoutes(t *testing.T) {
	svc, _ := newTestService(map[stockKey]int64{{10, locA}: 3})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(tenantCtx()))
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

	rr := do(http.MethodPost, "/", `{"fromLocationId":1,"toLocationId":1,"items":[{"productId":10,"quantity":1}]}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), shared.KindInvalidTransfer)

	rr = do(http.MethodPost, "/", `{"fromLocationId":1,"toLocationId":2,"items":[{"productId":10,"quantity":5}]}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var env struct {
		Data Transfer `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	id, _ := json.Marshal(env.Data.ID)

	rr = do(http.MethodPost, "/"+string(id)+"/in-transit", "")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), shared.KindInsufficientStock)

	rr = do(http.MethodGet, "/?status=PENDING&fromLocationId=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"total":1`)

	rr = do(http.MethodGet, "/?status=LOST", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
