package inventory

import (
	"context"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// ReservationLine is one (product, location) demand of a reference.
type ReservationLine struct {
	ProductID  int64
	LocationID int64
	Quantity   int64
}

// ReservationManager makes reserve and release safe for at-least-once callers.
// Every reservation is keyed by (reference, product, location) in the
// reservation ledger:
//   - reserve with a quantity the key already holds is a no-op, a larger one
//     tops up the difference;
//   - release of a missing or exhausted key is a no-op, quantity 0 releases
//     whatever the key still holds.
type ReservationManager struct {
	ledger *Service
}

// NewReservationManager builds the manager over the ledger core.
func NewReservationManager(ledger *Service) *ReservationManager {
	return &ReservationManager{ledger: ledger}
}

// Reserve brings every line's reservation up to its quantity, all or nothing.
func (m *ReservationManager) Reserve(ctx context.Context, ref Reference, lines []ReservationLine) ([]Result, error) {
	muts, err := keyedMutations(OpReserve, ref, lines)
	if err != nil {
		return nil, err
	}
	return m.ledger.execute(ctx, muts, nil)
}

// Release returns reserved quantity for every line, all or nothing.
func (m *ReservationManager) Release(ctx context.Context, ref Reference, lines []ReservationLine) ([]Result, error) {
	muts, err := keyedMutations(OpRelease, ref, lines)
	if err != nil {
		return nil, err
	}
	return m.ledger.execute(ctx, muts, nil)
}

// ReleaseAll drops every reservation held by ref, e.g. when an order is cancelled.
func (m *ReservationManager) ReleaseAll(ctx context.Context, ref Reference) ([]Result, error) {
	held, err := m.ledger.ListReservations(ctx, ref)
	if err != nil {
		return nil, err
	}
	lines := make([]ReservationLine, 0, len(held))
	for _, r := range held {
		if r.Quantity == 0 {
			continue
		}
		lines = append(lines, ReservationLine{ProductID: r.ProductID, LocationID: r.LocationID})
	}
	if len(lines) == 0 {
		return nil, nil
	}
	return m.Release(ctx, ref, lines)
}

func keyedMutations(op Operation, ref Reference, lines []ReservationLine) ([]Mutation, error) {
	if len(lines) == 0 {
		return nil, shared.NewValidationError("items", "must contain at least one line")
	}
	if !ref.Keyed() {
		return nil, shared.NewValidationError("referenceType", "reservations require an ORDER, PURCHASE_ORDER or TRANSFER reference")
	}
	muts := make([]Mutation, len(lines))
	for i, line := range lines {
		muts[i] = Mutation{
			Op:         op,
			ProductID:  line.ProductID,
			LocationID: line.LocationID,
			Quantity:   line.Quantity,
			Reference:  ref,
			keyed:      true,
		}
	}
	return muts, nil
}
