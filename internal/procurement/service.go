package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/masterdata/suppliers"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (PurchaseOrder, error)
	List(ctx context.Context, filters ListFilters) ([]PurchaseOrder, int, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Create(ctx context.Context, po PurchaseOrder) (PurchaseOrder, error)
	Lock(ctx context.Context, id int64) (PurchaseOrder, error)
	UpdateHeader(ctx context.Context, po PurchaseOrder) error
	ReplaceItems(ctx context.Context, poID int64, items []POItem) ([]POItem, error)
	UpdateReceived(ctx context.Context, itemID, received int64) error
	Delete(ctx context.Context, id int64) error
}

// LedgerPort is the slice of the stock ledger used for receipts. ApplyBatch
// joins the caller's transaction; AfterCommit runs once it has committed.
type LedgerPort interface {
	ApplyBatch(ctx context.Context, muts []inventory.Mutation) ([]inventory.Result, error)
	AfterCommit(ctx context.Context, results []inventory.Result)
}

// SupplierPort validates suppliers attached to orders.
type SupplierPort interface {
	RequireActive(ctx context.Context, id int64) (suppliers.Supplier, error)
}

// Service orchestrates purchase order flows.
type Service struct {
	repo      RepositoryPort
	ledger    LedgerPort
	suppliers SupplierPort
	audit     shared.AuditRecorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, ledger LedgerPort, suppliers SupplierPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, suppliers: suppliers, audit: audit, logger: logger, now: time.Now}
}

// ItemInput describes an order line.
type ItemInput struct {
	ProductID       int64
	LocationID      *int64
	OrderedQuantity int64
	UnitCost        decimal.Decimal
}

// CreateInput describes a new draft order.
type CreateInput struct {
	SupplierID   *int64
	ExpectedDate *time.Time
	Notes        string
	Items        []ItemInput
}

// UpdateInput edits a draft. Nil fields are left unchanged; a non-nil Items replaces all lines.
type UpdateInput struct {
	SupplierID    *int64
	ClearSupplier bool
	ExpectedDate  *time.Time
	Notes         *string
	Items         []ItemInput
}

// ReceiveLine is the quantity arriving for one order line.
type ReceiveLine struct {
	PurchaseOrderItemID int64
	ReceivedQuantity    int64
}

func (s *Service) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	if id <= 0 {
		return PurchaseOrder{}, ErrPurchaseOrderNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]PurchaseOrder, int, error) {
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, 0, shared.NewValidationError("status", fmt.Sprintf("unknown status %q", filters.Status))
	}
	page := shared.Page{Limit: filters.Limit, Offset: filters.Offset}.Normalize()
	filters.Limit, filters.Offset = page.Limit, page.Offset
	return s.repo.List(ctx, filters)
}

// Create stores a DRAFT order. The total is always derived from the lines.
func (s *Service) Create(ctx context.Context, in CreateInput) (PurchaseOrder, error) {
	items, err := buildItems(in.Items)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if err := s.checkSupplier(ctx, in.SupplierID); err != nil {
		return PurchaseOrder{}, err
	}
	now := s.now()
	po := PurchaseOrder{
		PONumber:     generateNumber("PO", now),
		SupplierID:   in.SupplierID,
		Status:       POStatusDraft,
		OrderDate:    now,
		ExpectedDate: in.ExpectedDate,
		Notes:        strings.TrimSpace(in.Notes),
		TotalAmount:  TotalAmount(items),
		Items:        items,
	}
	var created PurchaseOrder
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.Create(ctx, po)
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "purchase_order.create", created.ID, map[string]any{"number": created.PONumber, "total": created.TotalAmount.String()})
	return created, nil
}

// Update edits a DRAFT order.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (PurchaseOrder, error) {
	var items []POItem
	if in.Items != nil {
		var err error
		if items, err = buildItems(in.Items); err != nil {
			return PurchaseOrder{}, err
		}
	}
	if !in.ClearSupplier {
		if err := s.checkSupplier(ctx, in.SupplierID); err != nil {
			return PurchaseOrder{}, err
		}
	}
	var updated PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		if po.Status != POStatusDraft {
			return fmt.Errorf("purchase order %s is %s, only DRAFT can be edited: %w", po.PONumber, po.Status, shared.ErrInvalidStateTransition)
		}
		switch {
		case in.ClearSupplier:
			po.SupplierID = nil
		case in.SupplierID != nil:
			po.SupplierID = in.SupplierID
		}
		if in.ExpectedDate != nil {
			po.ExpectedDate = in.ExpectedDate
		}
		if in.Notes != nil {
			po.Notes = strings.TrimSpace(*in.Notes)
		}
		if items != nil {
			if po.Items, err = tx.ReplaceItems(ctx, po.ID, items); err != nil {
				return err
			}
		}
		po.TotalAmount = TotalAmount(po.Items)
		if err := tx.UpdateHeader(ctx, po); err != nil {
			return err
		}
		updated = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, "purchase_order.update", id, nil)
	return updated, nil
}

// MarkOrdered moves DRAFT to ORDERED. No stock changes.
func (s *Service) MarkOrdered(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.transition(ctx, id, POStatusOrdered, "purchase_order.order")
}

// Cancel stops further receipts. Quantities already received stay in stock.
func (s *Service) Cancel(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.transition(ctx, id, POStatusCancelled, "purchase_order.cancel")
}

func (s *Service) transition(ctx context.Context, id int64, to POStatus, action string) (PurchaseOrder, error) {
	var out PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		if po.Status, err = po.Status.Transition(to); err != nil {
			return err
		}
		if err := tx.UpdateHeader(ctx, po); err != nil {
			return err
		}
		out = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, action, id, map[string]any{"status": string(out.Status)})
	return out, nil
}

// Receive restocks the given quantities and advances the order to PARTIAL or
// RECEIVED. An empty lines slice receives everything outstanding. The ledger
// writes and the order update commit together.
func (s *Service) Receive(ctx context.Context, id int64, lines []ReceiveLine) (PurchaseOrder, error) {
	if s.ledger == nil {
		return PurchaseOrder{}, fmt.Errorf("procurement: stock ledger not configured")
	}
	var (
		out     PurchaseOrder
		results []inventory.Result
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		if _, err := po.Status.Transition(POStatusPartial); err != nil {
			return err
		}
		qty, err := receiptQuantities(po, lines)
		if err != nil {
			return err
		}
		muts := make([]inventory.Mutation, 0, len(qty))
		for i := range po.Items {
			it := &po.Items[i]
			n := qty[it.ID]
			if n == 0 {
				continue
			}
			it.ReceivedQuantity += n
			muts = append(muts, inventory.Mutation{
				Op:         inventory.OpRestock,
				ProductID:  it.ProductID,
				LocationID: derefID(it.LocationID),
				Quantity:   n,
				Reference:  inventory.PurchaseOrderRef(po.ID),
				UnitCost:   decimal.NewNullDecimal(it.UnitCost),
				Type:       inventory.MovementPurchase,
			})
			if err := tx.UpdateReceived(ctx, it.ID, it.ReceivedQuantity); err != nil {
				return err
			}
		}
		if results, err = s.ledger.ApplyBatch(ctx, muts); err != nil {
			return err
		}
		next := POStatusPartial
		if po.FullyReceived() {
			next = POStatusReceived
			now := s.now()
			po.ReceivedDate = &now
		}
		if po.Status, err = po.Status.Transition(next); err != nil {
			return err
		}
		if err := tx.UpdateHeader(ctx, po); err != nil {
			return err
		}
		out = po
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.ledger.AfterCommit(ctx, results)
	s.recordAudit(ctx, "purchase_order.receive", id, map[string]any{"status": string(out.Status), "lines": len(results)})
	return out, nil
}

// receiptQuantities resolves the per line quantities of a receive call.
// Duplicate lines for one item are summed before the excess check.
func receiptQuantities(po PurchaseOrder, lines []ReceiveLine) (map[int64]int64, error) {
	qty := make(map[int64]int64, len(po.Items))
	if len(lines) == 0 {
		for _, it := range po.Items {
			if out := it.Outstanding(); out > 0 {
				qty[it.ID] = out
			}
		}
	} else {
		byID := make(map[int64]POItem, len(po.Items))
		for _, it := range po.Items {
			byID[it.ID] = it
		}
		verr := &shared.ValidationError{}
		for i, line := range lines {
			field := fmt.Sprintf("items[%d]", i)
			if _, ok := byID[line.PurchaseOrderItemID]; !ok {
				verr.Add(field+".purchaseOrderItemId", fmt.Sprintf("line %d does not belong to purchase order %s", line.PurchaseOrderItemID, po.PONumber))
				continue
			}
			if line.ReceivedQuantity < 0 {
				verr.Add(field+".receivedQuantity", "must not be negative")
				continue
			}
			qty[line.PurchaseOrderItemID] += line.ReceivedQuantity
		}
		if err := verr.OrNil(); err != nil {
			return nil, err
		}
		for id, n := range qty {
			it := byID[id]
			if it.ReceivedQuantity+n > it.OrderedQuantity {
				return nil, fmt.Errorf("line %d: received %d + %d exceeds ordered %d: %w", id, it.ReceivedQuantity, n, it.OrderedQuantity, shared.ErrExcessReceipt)
			}
			if n == 0 {
				delete(qty, id)
			}
		}
	}
	if len(qty) == 0 {
		return nil, fmt.Errorf("purchase order %s: %w", po.PONumber, shared.ErrNothingToReceive)
	}
	return qty, nil
}

// Delete removes a DRAFT order together with its lines.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		if po.Status != POStatusDraft {
			return fmt.Errorf("purchase order %s is %s, only DRAFT can be deleted: %w", po.PONumber, po.Status, shared.ErrInvalidStateTransition)
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "purchase_order.delete", id, nil)
	return nil
}

func (s *Service) checkSupplier(ctx context.Context, id *int64) error {
	if id == nil {
		return nil
	}
	if s.suppliers == nil {
		return fmt.Errorf("procurement: supplier registry not configured")
	}
	_, err := s.suppliers.RequireActive(ctx, *id)
	if shared.Kind(err) == shared.KindNotFound {
		return shared.NewValidationError("supplierId", fmt.Sprintf("supplier %d does not exist", *id))
	}
	return err
}

func buildItems(in []ItemInput) ([]POItem, error) {
	verr := &shared.ValidationError{}
	if len(in) == 0 {
		verr.Add("items", "at least one line item is required")
	}
	items := make([]POItem, 0, len(in))
	for i, line := range in {
		field := fmt.Sprintf("items[%d]", i)
		if line.ProductID <= 0 {
			verr.Add(field+".productId", "is required")
		}
		if line.LocationID != nil && *line.LocationID <= 0 {
			verr.Add(field+".locationId", "must be positive")
		}
		if line.OrderedQuantity < 1 {
			verr.Add(field+".orderedQuantity", "must be at least 1")
		} else if line.OrderedQuantity > inventory.MaxQuantity {
			verr.Add(field+".orderedQuantity", fmt.Sprintf("must be at most %d", inventory.MaxQuantity))
		}
		if line.UnitCost.IsNegative() {
			verr.Add(field+".unitCost", "must not be negative")
		}
		items = append(items, POItem{
			ProductID:       line.ProductID,
			LocationID:      line.LocationID,
			OrderedQuantity: line.OrderedQuantity,
			UnitCost:        line.UnitCost.Round(4),
		})
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "purchase_order", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
	if err != nil {
		s.logger.Warn("procurement: audit", slog.String("action", action), slog.Any("error", err))
	}
}

func generateNumber(prefix string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s", prefix, at.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
