package inventory

import (
	"fmt"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// ReferenceType names the origin of a movement.
type ReferenceType string

const (
	RefOrder         ReferenceType = "ORDER"
	RefPurchaseOrder ReferenceType = "PURCHASE_ORDER"
	RefTransfer      ReferenceType = "TRANSFER"
	RefManual        ReferenceType = "MANUAL"
)

// Reference is the tagged origin of a movement: ORDER(id), PURCHASE_ORDER(id),
// TRANSFER(id) or MANUAL. Construct it with the helpers below.
type Reference struct {
	Type ReferenceType
	ID   int64
}

// OrderRef references a sales order.
func OrderRef(id int64) Reference { return Reference{Type: RefOrder, ID: id} }

// PurchaseOrderRef references a purchase order.
func PurchaseOrderRef(id int64) Reference { return Reference{Type: RefPurchaseOrder, ID: id} }

// TransferRef references a stock transfer.
func TransferRef(id int64) Reference { return Reference{Type: RefTransfer, ID: id} }

// ManualRef marks a manual change with no resolvable origin.
func ManualRef() Reference { return Reference{Type: RefManual} }

// ParseReference validates wire values into a Reference. An empty type means MANUAL.
func ParseReference(typ string, id *int64) (Reference, error) {
	ref := Reference{Type: ReferenceType(typ)}
	if ref.Type == "" {
		ref.Type = RefManual
	}
	if id != nil {
		ref.ID = *id
	}
	return ref, ref.Validate()
}

// Validate enforces that MANUAL carries no id and every other type a positive one.
func (r Reference) Validate() error {
	switch r.Type {
	case RefManual:
		if r.ID != 0 {
			return shared.NewValidationError("referenceId", "must be omitted for MANUAL references")
		}
		return nil
	case RefOrder, RefPurchaseOrder, RefTransfer:
		if r.ID <= 0 {
			return shared.NewValidationError("referenceId", fmt.Sprintf("is required for %s references", r.Type))
		}
		return nil
	}
	return shared.NewValidationError("referenceType", fmt.Sprintf("unknown reference type %q", r.Type))
}

// Keyed reports whether the reference can own a reservation.
func (r Reference) Keyed() bool {
	return r.Type != RefManual && r.ID > 0
}

// IDPtr returns nil for MANUAL references.
func (r Reference) IDPtr() *int64 {
	if r.Type == RefManual || r.ID == 0 {
		return nil
	}
	id := r.ID
	return &id
}

func (r Reference) String() string {
	if r.Type == RefManual {
		return string(RefManual)
	}
	return fmt.Sprintf("%s(%d)", r.Type, r.ID)
}
