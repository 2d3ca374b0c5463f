package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// POStatus is the purchase order lifecycle state.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusOrdered   POStatus = "ORDERED"
	POStatusPartial   POStatus = "PARTIAL"
	POStatusReceived  POStatus = "RECEIVED"
	POStatusCancelled POStatus = "CANCELLED"
)

var poTransitions = map[POStatus][]POStatus{
	POStatusDraft:   {POStatusOrdered, POStatusCancelled},
	POStatusOrdered: {POStatusPartial, POStatusReceived, POStatusCancelled},
	POStatusPartial: {POStatusPartial, POStatusReceived, POStatusCancelled},
}

// Valid reports whether s is a known status.
func (s POStatus) Valid() bool {
	switch s {
	case POStatusDraft, POStatusOrdered, POStatusPartial, POStatusReceived, POStatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s POStatus) Terminal() bool {
	return s == POStatusReceived || s == POStatusCancelled
}

// Transition is the single authority over purchase order status changes.
func (s POStatus) Transition(to POStatus) (POStatus, error) {
	for _, allowed := range poTransitions[s] {
		if allowed == to {
			return to, nil
		}
	}
	return s, fmt.Errorf("purchase order %s -> %s: %w", s, to, shared.ErrInvalidStateTransition)
}

// PurchaseOrder is a supplier order whose receipts restock inventory.
type PurchaseOrder struct {
	ID           int64           `json:"id"`
	PONumber     string          `json:"poNumber"`
	SupplierID   *int64          `json:"supplierId"`
	Status       POStatus        `json:"status"`
	OrderDate    time.Time       `json:"orderDate"`
	ExpectedDate *time.Time      `json:"expectedDate"`
	ReceivedDate *time.Time      `json:"receivedDate"`
	Notes        string          `json:"notes"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	Items        []POItem        `json:"items"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// POItem is one ordered product. LocationID nil receives into the default location.
type POItem struct {
	ID               int64           `json:"id"`
	PurchaseOrderID  int64           `json:"purchaseOrderId"`
	ProductID        int64           `json:"productId"`
	LocationID       *int64          `json:"locationId"`
	OrderedQuantity  int64           `json:"orderedQuantity"`
	ReceivedQuantity int64           `json:"receivedQuantity"`
	UnitCost         decimal.Decimal `json:"unitCost"`
}

// Outstanding is the quantity still expected.
func (it POItem) Outstanding() int64 {
	return it.OrderedQuantity - it.ReceivedQuantity
}

// LineTotal is orderedQuantity x unitCost.
func (it POItem) LineTotal() decimal.Decimal {
	return it.UnitCost.Mul(decimal.NewFromInt(it.OrderedQuantity))
}

// FullyReceived reports whether every line is received in full.
func (po PurchaseOrder) FullyReceived() bool {
	for _, it := range po.Items {
		if it.Outstanding() > 0 {
			return false
		}
	}
	return true
}

// TotalAmount sums the line totals, rounded to 4 dp.
func TotalAmount(items []POItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total.Round(4)
}

// ListFilters narrows purchase order listings.
type ListFilters struct {
	Status     POStatus
	SupplierID int64
	Limit      int
	Offset     int
}

var (
	// ErrPurchaseOrderNotFound indicates an unknown purchase order id.
	ErrPurchaseOrderNotFound = fmt.Errorf("purchase order %w", shared.ErrNotFound)
)
