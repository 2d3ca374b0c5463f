package inventory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

type itemKey struct {
	productID, locationID int64
}

type reservationKey struct {
	ref Reference
	itemKey
}

type idemEntry struct {
	fingerprint string
	resultID    int64
}

type memoryState struct {
	items        map[itemKey]Item
	movements    []Movement
	reservations map[reservationKey]Reservation
	idem         map[string]idemEntry
	nextID       int64
}

func (s memoryState) clone() memoryState {
	return memoryState{
		items:        maps.Clone(s.items),
		movements:    append([]Movement(nil), s.movements...),
		reservations: maps.Clone(s.reservations),
		idem:         maps.Clone(s.idem),
		nextID:       s.nextID,
	}
}

// MemoryRepository is an in-memory RepositoryPort. Transactions serialise
// behind one mutex, which stands in for row locks, and a failed transaction
// restores the snapshot taken when it began.
type MemoryRepository struct {
	mu    sync.Mutex
	state memoryState
}

var _ RepositoryPort = (*MemoryRepository)(nil)

type memoryTx struct {
	state *memoryState
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: memoryState{
		items:        map[itemKey]Item{},
		reservations: map[reservationKey]Reservation{},
		idem:         map[string]idemEntry{},
	}}
}

func (r *MemoryRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot := r.state.clone()
	if err := fn(ctx, &memoryTx{state: &r.state}); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

// Seed puts an item in place without writing a movement.
func (r *MemoryRepository) Seed(productID, locationID, quantity, reserved int64) Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.nextID++
	item := Item{ID: r.state.nextID, ProductID: productID, LocationID: locationID, Quantity: quantity, ReservedQuantity: reserved}
	r.state.items[itemKey{productID, locationID}] = item
	return item
}

// ItemAt returns the row for (productID, locationID), zero when missing.
func (r *MemoryRepository) ItemAt(productID, locationID int64) Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.items[itemKey{productID, locationID}]
}

// MovementsAt returns the movements of one row, oldest first.
func (r *MemoryRepository) MovementsAt(productID, locationID int64) []Movement {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Movement
	for _, m := range r.state.movements {
		if m.ProductID == productID && m.LocationID == locationID {
			out = append(out, m)
		}
	}
	return out
}

func (r *MemoryRepository) GetItem(_ context.Context, id int64) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.state.items {
		if item.ID == id {
			return item, nil
		}
	}
	return Item{}, ErrItemNotFound
}

func (r *MemoryRepository) GetMovement(_ context.Context, id int64) (Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.state.movements {
		if m.ID == id {
			return m, nil
		}
	}
	return Movement{}, ErrMovementNotFound
}

func (r *MemoryRepository) ListItems(_ context.Context, filter ItemFilter) ([]Item, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []Item
	for _, item := range r.state.items {
		if filter.ProductID != nil && item.ProductID != *filter.ProductID {
			continue
		}
		if filter.LocationID != nil && item.LocationID != *filter.LocationID {
			continue
		}
		if filter.LowStock && !item.LowStock() {
			continue
		}
		matched = append(matched, item)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].ProductID != matched[j].ProductID {
			return matched[i].ProductID < matched[j].ProductID
		}
		return matched[i].LocationID < matched[j].LocationID
	})
	return window(matched, filter.Offset, filter.Limit), len(matched), nil
}

func (r *MemoryRepository) StockLevel(_ context.Context, productID int64) (StockLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var locs []LocationStock
	for _, item := range r.state.items {
		if item.ProductID != productID {
			continue
		}
		locs = append(locs, LocationStock{LocationID: item.LocationID, Quantity: item.Quantity, Reserved: item.ReservedQuantity, Available: item.Available()})
	}
	sort.Slice(locs, func(i, j int) bool { return locs[i].LocationID < locs[j].LocationID })
	return aggregateStock(productID, locs), nil
}

func (r *MemoryRepository) ListMovements(_ context.Context, filter MovementFilter) ([]Movement, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []Movement
	for i := len(r.state.movements) - 1; i >= 0; i-- {
		m := r.state.movements[i]
		switch {
		case filter.ProductID != nil && m.ProductID != *filter.ProductID,
			filter.LocationID != nil && m.LocationID != *filter.LocationID,
			filter.ItemID != nil && m.ItemID != *filter.ItemID,
			filter.ReferenceType != "" && m.Reference.Type != filter.ReferenceType,
			filter.ReferenceID != nil && m.Reference.ID != *filter.ReferenceID,
			filter.Type != "" && m.Type != filter.Type:
			continue
		}
		matched = append(matched, m)
	}
	return window(matched, filter.Offset, filter.Limit), len(matched), nil
}

func (r *MemoryRepository) ListReservations(_ context.Context, ref Reference) ([]Reservation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Reservation
	for key, res := range r.state.reservations {
		if key.ref == ref {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func window[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

func (tx *memoryTx) EnsureItem(_ context.Context, productID, locationID int64) error {
	key := itemKey{productID, locationID}
	if _, ok := tx.state.items[key]; ok {
		return nil
	}
	tx.state.nextID++
	tx.state.items[key] = Item{ID: tx.state.nextID, ProductID: productID, LocationID: locationID, CreatedAt: time.Now()}
	return nil
}

func (tx *memoryTx) LockItem(_ context.Context, productID, locationID int64) (Item, error) {
	item, ok := tx.state.items[itemKey{productID, locationID}]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (tx *memoryTx) LockItemByID(_ context.Context, id int64) (Item, error) {
	for _, item := range tx.state.items {
		if item.ID == id {
			return item, nil
		}
	}
	return Item{}, ErrItemNotFound
}

func (tx *memoryTx) CreateItem(_ context.Context, item Item) (Item, error) {
	key := itemKey{item.ProductID, item.LocationID}
	if _, ok := tx.state.items[key]; ok {
		return Item{}, fmt.Errorf("%w: duplicate inventory_item_product_location_key", shared.ErrConflict)
	}
	tx.state.nextID++
	item.ID = tx.state.nextID
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	tx.state.items[key] = item
	return item, nil
}

func (tx *memoryTx) UpdateItem(_ context.Context, item Item) error {
	key := itemKey{item.ProductID, item.LocationID}
	if _, ok := tx.state.items[key]; !ok {
		return ErrItemNotFound
	}
	item.UpdatedAt = time.Now()
	tx.state.items[key] = item
	return nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, m Movement) (Movement, error) {
	tx.state.nextID++
	m.ID = tx.state.nextID
	m.CreatedAt = time.Now()
	tx.state.movements = append(tx.state.movements, m)
	return m, nil
}

func (tx *memoryTx) LockReservation(_ context.Context, ref Reference, productID, locationID int64) (Reservation, error) {
	res, ok := tx.state.reservations[reservationKey{ref, itemKey{productID, locationID}}]
	if !ok {
		return Reservation{}, ErrReservationNotFound
	}
	return res, nil
}

func (tx *memoryTx) SaveReservation(_ context.Context, res Reservation) error {
	key := reservationKey{res.Reference, itemKey{res.ProductID, res.LocationID}}
	if res.ID == 0 {
		tx.state.nextID++
		res.ID = tx.state.nextID
	}
	res.UpdatedAt = time.Now()
	tx.state.reservations[key] = res
	return nil
}

func (tx *memoryTx) ClaimIdempotencyKey(_ context.Context, key, fingerprint string) error {
	if stored, ok := tx.state.idem[key]; ok {
		if stored.fingerprint != fingerprint {
			return shared.ErrIdempotencyMismatch
		}
		return &shared.ReplayError{ResultID: stored.resultID}
	}
	tx.state.idem[key] = idemEntry{fingerprint: fingerprint}
	return nil
}

func (tx *memoryTx) RecordIdempotencyResult(_ context.Context, key string, movementID int64) error {
	entry, ok := tx.state.idem[key]
	if !ok {
		return fmt.Errorf("idempotency key %q not claimed", key)
	}
	entry.resultID = movementID
	tx.state.idem[key] = entry
	return nil
}
