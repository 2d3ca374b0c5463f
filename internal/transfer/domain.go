package transfer

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Status is the stock transfer lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusInTransit Status = "IN_TRANSIT"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusInTransit, StatusCancelled},
	StatusInTransit: {StatusCompleted, StatusCancelled},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInTransit, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Transition is the single authority over transfer status changes.
func (s Status) Transition(to Status) (Status, error) {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return to, nil
		}
	}
	return s, fmt.Errorf("transfer %s -> %s: %w", s, to, shared.ErrInvalidStateTransition)
}

// Transfer moves goods between two locations of a tenant.
type Transfer struct {
	ID             int64      `json:"id"`
	TransferNumber string     `json:"transferNumber"`
	FromLocationID int64      `json:"fromLocationId"`
	ToLocationID   int64      `json:"toLocationId"`
	Status         Status     `json:"status"`
	Notes          string     `json:"notes"`
	InitiatedAt    time.Time  `json:"initiatedAt"`
	CompletedAt    *time.Time `json:"completedAt"`
	Items          []Item     `json:"items"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Item is one product line of a transfer.
type Item struct {
	ID         int64 `json:"id"`
	TransferID int64 `json:"transferId"`
	ProductID  int64 `json:"productId"`
	Quantity   int64 `json:"quantity"`
}

// ListFilters narrows transfer listings.
type ListFilters struct {
	Status         Status
	FromLocationID int64
	ToLocationID   int64
	Limit          int
	Offset         int
}

// ErrTransferNotFound indicates an unknown transfer id.
var ErrTransferNotFound = fmt.Errorf("transfer %w", shared.ErrNotFound)
