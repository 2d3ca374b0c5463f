package inventory

import "context"

// MovementRecorded is published after a ledger write commits.
type MovementRecorded struct {
	TenantID        string   `json:"tenantId"`
	Movement        Movement `json:"movement"`
	ReorderPoint    *int64   `json:"reorderPoint,omitempty"`
	ReorderQuantity *int64   `json:"reorderQuantity,omitempty"`
}

// CrossedReorderPoint reports whether the movement took on-hand stock from
// above the reorder point to at or below it.
func (e MovementRecorded) CrossedReorderPoint() bool {
	if e.ReorderPoint == nil || e.Movement.Quantity >= 0 {
		return false
	}
	rp := *e.ReorderPoint
	return e.Movement.PreviousQuantity > rp && e.Movement.NewQuantity <= rp
}

// EventPublisher hands committed movements to background processing.
type EventPublisher interface {
	PublishMovementRecorded(ctx context.Context, events []MovementRecorded) error
}
