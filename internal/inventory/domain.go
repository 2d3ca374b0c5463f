package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// MovementType enumerates the reasons on-hand or reserved stock changes.
type MovementType string

const (
	MovementSale               MovementType = "SALE"
	MovementReturn             MovementType = "RETURN"
	MovementAdjustment         MovementType = "ADJUSTMENT"
	MovementPurchase           MovementType = "PURCHASE"
	MovementTransferIn         MovementType = "TRANSFER_IN"
	MovementTransferOut        MovementType = "TRANSFER_OUT"
	MovementReservation        MovementType = "RESERVATION"
	MovementReservationRelease MovementType = "RESERVATION_RELEASE"
	MovementDamaged            MovementType = "DAMAGED"
	MovementExpired            MovementType = "EXPIRED"
)

var movementTypes = map[MovementType]struct{}{
	MovementSale: {}, MovementReturn: {}, MovementAdjustment: {}, MovementPurchase: {},
	MovementTransferIn: {}, MovementTransferOut: {}, MovementReservation: {},
	MovementReservationRelease: {}, MovementDamaged: {}, MovementExpired: {},
}

// Valid reports whether t is a known movement type.
func (t MovementType) Valid() bool {
	_, ok := movementTypes[t]
	return ok
}

// Item is the stock row for one product at one location.
type Item struct {
	ID               int64               `json:"id"`
	ProductID        int64               `json:"productId"`
	LocationID       int64               `json:"locationId"`
	Quantity         int64               `json:"quantity"`
	ReservedQuantity int64               `json:"reservedQuantity"`
	ReorderPoint     *int64              `json:"reorderPoint"`
	ReorderQuantity  *int64              `json:"reorderQuantity"`
	CostPrice        decimal.NullDecimal `json:"costPrice"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

// Available is on-hand stock not held by reservations.
func (i Item) Available() int64 {
	return i.Quantity - i.ReservedQuantity
}

// LowStock reports whether the item sits at or below its reorder point.
func (i Item) LowStock() bool {
	return i.ReorderPoint != nil && i.Quantity <= *i.ReorderPoint
}

// MarshalJSON adds the derived available quantity.
func (i Item) MarshalJSON() ([]byte, error) {
	type alias Item
	return json.Marshal(struct {
		alias
		Available int64 `json:"available"`
	}{alias(i), i.Available()})
}

// Movement is one immutable ledger entry. Quantity is the on-hand delta and
// ReservedDelta the reserved delta; both are logged with before/after snapshots.
type Movement struct {
	ID               int64
	ItemID           int64
	ProductID        int64
	LocationID       int64
	Type             MovementType
	Quantity         int64
	PreviousQuantity int64
	NewQuantity      int64
	ReservedDelta    int64
	PreviousReserved int64
	NewReserved      int64
	Reference        Reference
	Reason           *string
	UserID           *string
	CreatedAt        time.Time
}

type movementJSON struct {
	ID               int64         `json:"id"`
	ItemID           int64         `json:"inventoryItemId"`
	ProductID        int64         `json:"productId"`
	LocationID       int64         `json:"locationId"`
	Type             MovementType  `json:"type"`
	Quantity         int64         `json:"quantity"`
	PreviousQuantity int64         `json:"previousQuantity"`
	NewQuantity      int64         `json:"newQuantity"`
	ReservedDelta    int64         `json:"reservedQuantity"`
	PreviousReserved int64         `json:"previousReserved"`
	NewReserved      int64         `json:"newReserved"`
	ReferenceType    ReferenceType `json:"referenceType"`
	ReferenceID      *int64        `json:"referenceId"`
	Reason           *string       `json:"reason"`
	UserID           *string       `json:"userId"`
	CreatedAt        time.Time     `json:"createdAt"`
}

// MarshalJSON flattens the reference into referenceType/referenceId.
func (m Movement) MarshalJSON() ([]byte, error) {
	return json.Marshal(movementJSON{
		ID: m.ID, ItemID: m.ItemID, ProductID: m.ProductID, LocationID: m.LocationID,
		Type: m.Type, Quantity: m.Quantity, PreviousQuantity: m.PreviousQuantity, NewQuantity: m.NewQuantity,
		ReservedDelta: m.ReservedDelta, PreviousReserved: m.PreviousReserved, NewReserved: m.NewReserved,
		ReferenceType: m.Reference.Type, ReferenceID: m.Reference.IDPtr(),
		Reason: m.Reason, UserID: m.UserID, CreatedAt: m.CreatedAt,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON; used by the event payload.
func (m *Movement) UnmarshalJSON(data []byte) error {
	var raw movementJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	ref := Reference{Type: raw.ReferenceType}
	if raw.ReferenceID != nil {
		ref.ID = *raw.ReferenceID
	}
	*m = Movement{
		ID: raw.ID, ItemID: raw.ItemID, ProductID: raw.ProductID, LocationID: raw.LocationID,
		Type: raw.Type, Quantity: raw.Quantity, PreviousQuantity: raw.PreviousQuantity, NewQuantity: raw.NewQuantity,
		ReservedDelta: raw.ReservedDelta, PreviousReserved: raw.PreviousReserved, NewReserved: raw.NewReserved,
		Reference: ref, Reason: raw.Reason, UserID: raw.UserID, CreatedAt: raw.CreatedAt,
	}
	return nil
}

// Reservation is the reservation ledger row for one key.
type Reservation struct {
	ID         int64     `json:"id"`
	Reference  Reference `json:"-"`
	ProductID  int64     `json:"productId"`
	LocationID int64     `json:"locationId"`
	Quantity   int64     `json:"quantity"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// MarshalJSON flattens the reference.
func (r Reservation) MarshalJSON() ([]byte, error) {
	type alias Reservation
	return json.Marshal(struct {
		alias
		ReferenceType ReferenceType `json:"referenceType"`
		ReferenceID   int64         `json:"referenceId"`
	}{alias(r), r.Reference.Type, r.Reference.ID})
}

// LocationStock is the per-location slice of a StockLevel.
type LocationStock struct {
	LocationID int64 `json:"locationId"`
	Quantity   int64 `json:"quantity"`
	Reserved   int64 `json:"reservedQuantity"`
	Available  int64 `json:"available"`
}

// StockLevel aggregates a product across locations.
type StockLevel struct {
	ProductID int64           `json:"productId"`
	Quantity  int64           `json:"quantity"`
	Reserved  int64           `json:"reservedQuantity"`
	Available int64           `json:"available"`
	Locations []LocationStock `json:"locations"`
}

// ItemFilter narrows ListItems.
type ItemFilter struct {
	ProductID  *int64
	LocationID *int64
	LowStock   bool
	Limit      int
	Offset     int
}

// MovementFilter narrows ListMovements.
type MovementFilter struct {
	ProductID     *int64
	LocationID    *int64
	ItemID        *int64
	ReferenceType ReferenceType
	ReferenceID   *int64
	Type          MovementType
	Limit         int
	Offset        int
}

// ItemSettings are the client writable fields of an item. Nil leaves a field unchanged.
type ItemSettings struct {
	ReorderPoint    *int64
	ReorderQuantity *int64
	CostPrice       *decimal.Decimal
}

// ErrItemNotFound indicates a missing inventory row.
var ErrItemNotFound = fmt.Errorf("inventory item %w", shared.ErrNotFound)

// ErrMovementNotFound indicates a missing ledger entry.
var ErrMovementNotFound = fmt.Errorf("inventory movement %w", shared.ErrNotFound)

// ErrReservationNotFound indicates no reservation ledger row for a key.
var ErrReservationNotFound = errors.New("reservation not found")
