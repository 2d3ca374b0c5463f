package locations

import (
	"context"
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
	mu     sync.Mutex
	rows   map[int64]Location
	nextID int64
}

type memoryTx struct {
	rows   map[int64]Location
	nextID *int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rows: map[int64]Location{}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := maps.Clone(r.rows)
	next := r.nextID
	if err := fn(ctx, &memoryTx{rows: rows, nextID: &next}); err != nil {
		return err
	}
	r.rows, r.nextID = rows, next
	return nil
}

func (r *memoryRepo) List(_ context.Context, filters shared.ListFilters) ([]Location, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Location
	for _, l := range r.rows {
		if filters.IsActive != nil && l.Active != *filters.IsActive {
			continue
		}
		if filters.Search != "" && !strings.Contains(internalShared.FoldName(l.Name), internalShared.FoldName(filters.Search)) {
			continue
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

func (r *memoryRepo) Get(_ context.Context, id int64) (Location, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.rows[id]
	if !ok {
		return Location{}, ErrLocationNotFound
	}
	return l, nil
}

func (r *memoryRepo) GetDefault(_ context.Context) (Location, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.rows {
		if l.IsDefault {
			return l, nil
		}
	}
	return Location{}, ErrNoDefault
}

func (t *memoryTx) Count(context.Context) (int, error) { return len(t.rows), nil }

func (t *memoryTx) Create(_ context.Context, loc Location) (Location, error) {
	if err := t.checkName(loc); err != nil {
		return Location{}, err
	}
	*t.nextID++
	loc.ID = *t.nextID
	t.rows[loc.ID] = loc
	return loc, nil
}

func (t *memoryTx) checkName(loc Location) error {
	for _, other := range t.rows {
		if other.ID != loc.ID && internalShared.FoldName(other.Name) == internalShared.FoldName(loc.Name) {
			return internalShared.NewValidationError("name", "a location with this name already exists")
		}
	}
	return nil
}

func (t *memoryTx) LockByID(_ context.Context, id int64) (Location, error) {
	l, ok := t.rows[id]
	if !ok {
		return Location{}, ErrLocationNotFound
	}
	return l, nil
}

func (t *memoryTx) Update(_ context.Context, loc Location) error {
	if err := t.checkName(loc); err != nil {
		return err
	}
	t.rows[loc.ID] = loc
	return nil
}

func (t *memoryTx) ClearDefault(context.Context) error {
	for id, l := range t.rows {
		l.IsDefault = false
		t.rows[id] = l
	}
	return nil
}

func (t *memoryTx) MarkDefault(_ context.Context, id int64) error {
	l := t.rows[id]
	l.IsDefault = true
	t.rows[id] = l
	return nil
}

func (t *memoryTx) Delete(_ context.Context, id int64) error {
	delete(t.rows, id)
	return nil
}

func (r *memoryRepo) defaults() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, l := range r.rows {
		if l.IsDefault {
			n++
		}
	}
	return n
}

type stockCounts map[int64]int

func (s stockCounts) CountItemsAtLocation(_ context.Context, id int64) (int, error) {
	return s[id], nil
}

type auditSpy struct {
	actions []string
}

func (a *auditSpy) Record(_ context.Context, log internalShared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

func ptr[T any](v T) *T { return &v }

func TestFirstLocationBecomesDefault(t *testing.T) {
	repo := newMemoryRepo()
	audit := &auditSpy{}
	svc := NewService(repo, nil, audit, nil)
	ctx := context.Background()

	main, err := svc.Create(ctx, CreateInput{Name: "  Main   Warehouse "})
	require.NoError(t, err)
	require.True(t, main.IsDefault)
	require.Equal(t, "Main Warehouse", main.Name)

	second, err := svc.Create(ctx, CreateInput{Name: "Overflow"})
	require.NoError(t, err)
	require.False(t, second.IsDefault)

	id, err := svc.DefaultLocationID(ctx)
	require.NoError(t, err)
	require.Equal(t, main.ID, id)

	third, err := svc.Create(ctx, CreateInput{Name: "Store", IsDefault: true})
	require.NoError(t, err)
	require.True(t, third.IsDefault)
	require.Equal(t, 1, repo.defaults())
	require.Equal(t, []string{"location.create", "location.create", "location.create"}, audit.actions)

	_, err = svc.Create(ctx, CreateInput{Name: "main warehouse"})
	require.ErrorIs(t, err, internalShared.ErrValidation)
}

func TestSetDefaultSwapsAtomically(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()
	a, _ := svc.Create(ctx, CreateInput{Name: "A"})
	b, _ := svc.Create(ctx, CreateInput{Name: "B"})

	loc, err := svc.SetDefault(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, loc.IsDefault)
	require.Equal(t, 1, repo.defaults())
	got, _ := svc.Get(ctx, a.ID)
	require.False(t, got.IsDefault)

	c, _ := svc.Create(ctx, CreateInput{Name: "C", Active: ptr(false)})
	_, err = svc.SetDefault(ctx, c.ID)
	require.ErrorIs(t, err, internalShared.ErrValidation)
	require.Equal(t, 1, repo.defaults())

	_, err = svc.SetDefault(ctx, 99)
	require.ErrorIs(t, err, internalShared.ErrNotFound)
}

func TestDefaultCannotBeDeactivatedOrDeleted(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, stockCounts{}, nil, nil)
	ctx := context.Background()
	a, _ := svc.Create(ctx, CreateInput{Name: "A"})

	_, err := svc.Update(ctx, a.ID, UpdateInput{Active: ptr(false)})
	require.ErrorIs(t, err, internalShared.ErrValidation)
	require.ErrorIs(t, svc.Delete(ctx, a.ID), internalShared.ErrValidation)

	_, err = svc.GetDefault(context.Background())
	require.NoError(t, err)
}

func TestDeleteRefusesReferencedLocation(t *testing.T) {
	repo := newMemoryRepo()
	stock := stockCounts{}
	svc := NewService(repo, stock, nil, nil)
	ctx := context.Background()
	_, _ = svc.Create(ctx, CreateInput{Name: "A"})
	b, _ := svc.Create(ctx, CreateInput{Name: "B"})

	stock[b.ID] = 2
	require.ErrorIs(t, svc.Delete(ctx, b.ID), internalShared.ErrValidation)
	delete(stock, b.ID)
	require.NoError(t, svc.Delete(ctx, b.ID))
	_, err := svc.Get(ctx, b.ID)
	require.ErrorIs(t, err, internalShared.ErrNotFound)
}

func TestNoDefaultIsNotFound(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	_, err := svc.DefaultLocationID(context.Background())
	require.ErrorIs(t, err, internalShared.ErrNotFound)
}

func TestRequireActive(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	ctx := context.Background()
	_, _ = svc.Create(ctx, CreateInput{Name: "A"})
	b, _ := svc.Create(ctx, CreateInput{Name: "B", Active: ptr(false)})
	_, err := svc.RequireActive(ctx, b.ID)
	require.ErrorIs(t, err, internalShared.ErrValidation)
}

func TestHandlerRoutes(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil, nil)
	r := chi.NewRouter()
	NewHandler(nil, svc, nil).MountRoutes(r)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}

	require.Equal(t, http.StatusNotFound, do(http.MethodGet, "/default", "").Code)
	require.Equal(t, http.StatusBadRequest, do(http.MethodPost, "/", `{"name":""}`).Code)
	require.Equal(t, http.StatusCreated, do(http.MethodPost, "/", `{"name":"A"}`).Code)
	require.Equal(t, http.StatusCreated, do(http.MethodPost, "/", `{"name":"B"}`).Code)
	rr := do(http.MethodPost, "/2/default", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"isDefault":true`)
	rr = do(http.MethodGet, "/?search=b", "")
	require.Contains(t, rr.Body.String(), `"total":1`)
	require.Equal(t, http.StatusBadRequest, do(http.MethodDelete, "/2", "").Code)
	require.Equal(t, http.StatusNoContent, do(http.MethodDelete, "/1", "").Code)
}
