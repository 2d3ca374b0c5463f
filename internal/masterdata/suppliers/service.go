package suppliers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/stockledger/internal/masterdata/shared"
	internalShared "github.com/odyssey-erp/stockledger/internal/shared"
)

type Service struct {
	repo   Repository
	audit  internalShared.AuditRecorder
	logger *slog.Logger
}

func NewService(repo Repository, audit internalShared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Supplier, int, error) {
	page := internalShared.Page{Limit: filters.Limit, Offset: filters.Offset}.Normalize()
	filters.Limit, filters.Offset = page.Limit, page.Offset
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Supplier, error) {
	if id <= 0 {
		return Supplier{}, ErrSupplierNotFound
	}
	return s.repo.Get(ctx, id)
}

// RequireActive returns the supplier when it exists and may take new orders.
func (s *Service) RequireActive(ctx context.Context, id int64) (Supplier, error) {
	sup, err := s.Get(ctx, id)
	if err != nil {
		return Supplier{}, err
	}
	if !sup.Active {
		return Supplier{}, internalShared.NewValidationError("supplierId", fmt.Sprintf("supplier %d is inactive", id))
	}
	return sup, nil
}

func (s *Service) Create(ctx context.Context, in Input) (Supplier, error) {
	if err := in.validate(true); err != nil {
		return Supplier{}, err
	}
	sup := Supplier{Active: true}
	in.apply(&sup)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sup, err = tx.Create(ctx, sup)
		return err
	})
	if err != nil {
		return Supplier{}, err
	}
	s.recordAudit(ctx, "supplier.create", sup.ID, map[string]any{"name": sup.Name})
	return sup, nil
}

func (s *Service) Update(ctx context.Context, id int64, in Input) (Supplier, error) {
	if err := in.validate(false); err != nil {
		return Supplier{}, err
	}
	var sup Supplier
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockByID(ctx, id)
		if err != nil {
			return err
		}
		in.apply(&current)
		if err := tx.Update(ctx, current); err != nil {
			return err
		}
		sup = current
		return nil
	})
	if err != nil {
		return Supplier{}, err
	}
	s.recordAudit(ctx, "supplier.update", id, nil)
	return sup, nil
}

// Delete removes a supplier no purchase order references; a referenced one is
// deactivated instead. The returned flag reports whether the row was removed.
func (s *Service) Delete(ctx context.Context, id int64) (bool, error) {
	var removed bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sup, err := tx.LockByID(ctx, id)
		if err != nil {
			return err
		}
		n, err := tx.CountPurchaseOrders(ctx, id)
		if err != nil {
			return err
		}
		if n == 0 {
			removed = true
			return tx.Delete(ctx, id)
		}
		sup.Active = false
		return tx.Update(ctx, sup)
	})
	if err != nil {
		return false, err
	}
	action := "supplier.deactivate"
	if removed {
		action = "supplier.delete"
	}
	s.recordAudit(ctx, action, id, nil)
	return removed, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, internalShared.AuditLog{Action: action, Entity: "supplier", EntityID: fmt.Sprintf("%d", entityID), Meta: meta}); err != nil {
		s.logger.Warn("supplier: audit", slog.String("action", action), slog.Any("error", err))
	}
}
