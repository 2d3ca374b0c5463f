package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/masterdata/locations"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Transfer, error)
	List(ctx context.Context, filters ListFilters) ([]Transfer, int, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	Create(ctx context.Context, t Transfer) (Transfer, error)
	Lock(ctx context.Context, id int64) (Transfer, error)
	UpdateStatus(ctx context.Context, t Transfer) error
	Delete(ctx context.Context, id int64) error
}

// LedgerPort is the slice of the stock ledger the lifecycle drives.
type LedgerPort interface {
	ApplyBatch(ctx context.Context, muts []inventory.Mutation) ([]inventory.Result, error)
	AfterCommit(ctx context.Context, results []inventory.Result)
}

// LocationPort validates transfer endpoints.
type LocationPort interface {
	RequireActive(ctx context.Context, id int64) (locations.Location, error)
}

type Service struct {
	repo      RepositoryPort
	ledger    LedgerPort
	locations LocationPort
	audit     shared.AuditRecorder
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(repo RepositoryPort, ledger LedgerPort, locations LocationPort, audit shared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, ledger: ledger, locations: locations, audit: audit, logger: logger, now: time.Now}
}

// ItemInput is one requested line.
type ItemInput struct {
	ProductID int64
	Quantity  int64
}

// CreateInput describes a new PENDING transfer.
type CreateInput struct {
	FromLocationID int64
	ToLocationID   int64
	Notes          string
	Items          []ItemInput
}

func (s *Service) Get(ctx context.Context, id int64) (Transfer, error) {
	if id <= 0 {
		return Transfer{}, ErrTransferNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Transfer, int, error) {
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, 0, shared.NewValidationError("status", fmt.Sprintf("unknown status %q", filters.Status))
	}
	page := shared.Page{Limit: filters.Limit, Offset: filters.Offset}.Normalize()
	filters.Limit, filters.Offset = page.Limit, page.Offset
	return s.repo.List(ctx, filters)
}

// Create stores a PENDING transfer. Nothing moves until MarkInTransit.
func (s *Service) Create(ctx context.Context, in CreateInput) (Transfer, error) {
	if err := in.validate(); err != nil {
		return Transfer{}, err
	}
	if in.FromLocationID == in.ToLocationID {
		return Transfer{}, fmt.Errorf("source and destination are both location %d: %w", in.FromLocationID, shared.ErrInvalidTransfer)
	}
	if err := s.checkLocation(ctx, "fromLocationId", in.FromLocationID); err != nil {
		return Transfer{}, err
	}
	if err := s.checkLocation(ctx, "toLocationId", in.ToLocationID); err != nil {
		return Transfer{}, err
	}
	now := s.now()
	t := Transfer{
		TransferNumber: generateNumber(now),
		FromLocationID: in.FromLocationID,
		ToLocationID:   in.ToLocationID,
		Status:         StatusPending,
		Notes:          strings.TrimSpace(in.Notes),
		InitiatedAt:    now,
	}
	for _, it := range in.Items {
		t.Items = append(t.Items, Item{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	var created Transfer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.Create(ctx, t)
		return err
	})
	if err != nil {
		return Transfer{}, err
	}
	s.recordAudit(ctx, "transfer.create", created.ID, map[string]any{"number": created.TransferNumber})
	return created, nil
}

// MarkInTransit deducts every line from the source. Either all lines leave
// or none do.
func (s *Service) MarkInTransit(ctx context.Context, id int64) (Transfer, error) {
	return s.advance(ctx, id, StatusInTransit, "transfer.in_transit", func(t Transfer) []inventory.Mutation {
		return t.mutations(inventory.OpDeduct, t.FromLocationID, inventory.MovementTransferOut)
	})
}

// Complete restocks every line at the destination.
func (s *Service) Complete(ctx context.Context, id int64) (Transfer, error) {
	return s.advance(ctx, id, StatusCompleted, "transfer.complete", func(t Transfer) []inventory.Mutation {
		return t.mutations(inventory.OpRestock, t.ToLocationID, inventory.MovementTransferIn)
	})
}

// Cancel stops a transfer. Goods already in transit are returned to the source.
func (s *Service) Cancel(ctx context.Context, id int64) (Transfer, error) {
	t, err := s.advance(ctx, id, StatusCancelled, "transfer.cancel", func(t Transfer) []inventory.Mutation {
		if t.Status != StatusInTransit {
			return nil
		}
		return t.mutations(inventory.OpRestock, t.FromLocationID, inventory.MovementReturn)
	})
	if errors.Is(err, shared.ErrInvalidStateTransition) {
		return Transfer{}, fmt.Errorf("%v: %w", err, shared.ErrInvalidTransfer)
	}
	return t, err
}

// advance locks the transfer, applies the ledger mutations of the move and
// stores the new status in one transaction. muts sees the pre-transition state.
func (s *Service) advance(ctx context.Context, id int64, to Status, action string, muts func(Transfer) []inventory.Mutation) (Transfer, error) {
	if s.ledger == nil {
		return Transfer{}, fmt.Errorf("transfer: stock ledger not configured")
	}
	var (
		out     Transfer
		results []inventory.Result
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		next, err := t.Status.Transition(to)
		if err != nil {
			return err
		}
		if results, err = s.ledger.ApplyBatch(ctx, muts(t)); err != nil {
			return err
		}
		t.Status = next
		if next == StatusCompleted {
			now := s.now()
			t.CompletedAt = &now
		}
		if err := tx.UpdateStatus(ctx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.ledger.AfterCommit(ctx, results)
	s.recordAudit(ctx, action, id, map[string]any{"status": string(out.Status), "movements": len(results)})
	return out, nil
}

// Delete removes a PENDING transfer.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.Lock(ctx, id)
		if err != nil {
			return err
		}
		if t.Status != StatusPending {
			return fmt.Errorf("transfer %s is %s, only PENDING can be deleted: %w", t.TransferNumber, t.Status, shared.ErrInvalidTransfer)
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "transfer.delete", id, nil)
	return nil
}

func (t Transfer) mutations(op inventory.Operation, locationID int64, typ inventory.MovementType) []inventory.Mutation {
	out := make([]inventory.Mutation, 0, len(t.Items))
	for _, it := range t.Items {
		out = append(out, inventory.Mutation{
			Op:         op,
			ProductID:  it.ProductID,
			LocationID: locationID,
			Quantity:   it.Quantity,
			Reference:  inventory.TransferRef(t.ID),
			Type:       typ,
		})
	}
	return out
}

func (in CreateInput) validate() error {
	verr := &shared.ValidationError{}
	if in.FromLocationID <= 0 {
		verr.Add("fromLocationId", "is required")
	}
	if in.ToLocationID <= 0 {
		verr.Add("toLocationId", "is required")
	}
	if len(in.Items) == 0 {
		verr.Add("items", "at least one item is required")
	}
	for i, it := range in.Items {
		if it.ProductID <= 0 {
			verr.Add(fmt.Sprintf("items[%d].productId", i), "is required")
		}
		if it.Quantity < 1 {
			verr.Add(fmt.Sprintf("items[%d].quantity", i), "must be at least 1")
		} else if it.Quantity > inventory.MaxQuantity {
			verr.Add(fmt.Sprintf("items[%d].quantity", i), fmt.Sprintf("must be at most %d", inventory.MaxQuantity))
		}
	}
	return verr.OrNil()
}

func (s *Service) checkLocation(ctx context.Context, field string, id int64) error {
	if s.locations == nil {
		return fmt.Errorf("transfer: location registry not configured")
	}
	_, err := s.locations.RequireActive(ctx, id)
	if shared.Kind(err) == shared.KindNotFound {
		return shared.NewValidationError(field, fmt.Sprintf("location %d does not exist", id))
	}
	var verr *shared.ValidationError
	if errors.As(err, &verr) {
		return shared.NewValidationError(field, fmt.Sprintf("location %d is inactive", id))
	}
	return err
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{Action: action, Entity: "transfer", EntityID: fmt.Sprintf("%d", entityID), Meta: meta}); err != nil {
		s.logger.Warn("transfer: audit", slog.String("action", action), slog.Any("error", err))
	}
}

func generateNumber(at time.Time) string {
	return fmt.Sprintf("TR-%s-%s", at.Format("20060102"), strings.ToUpper(uuid.NewString()[:8]))
}
