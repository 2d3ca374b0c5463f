package locations

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/stockledger/internal/masterdata/shared"
	internalShared "github.com/odyssey-erp/stockledger/internal/shared"
)

// StockRefs reports whether inventory rows still point at a location.
type StockRefs interface {
	CountItemsAtLocation(ctx context.Context, locationID int64) (int, error)
}

type Service struct {
	repo   Repository
	stock  StockRefs
	audit  internalShared.AuditRecorder
	logger *slog.Logger
}

func NewService(repo Repository, stock StockRefs, audit internalShared.AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, stock: stock, audit: audit, logger: logger}
}

func (s *Service) List(ctx context.Context, filters shared.ListFilters) ([]Location, int, error) {
	page := internalShared.Page{Limit: filters.Limit, Offset: filters.Offset}.Normalize()
	filters.Limit, filters.Offset = page.Limit, page.Offset
	return s.repo.List(ctx, filters)
}

func (s *Service) Get(ctx context.Context, id int64) (Location, error) {
	if id <= 0 {
		return Location{}, ErrLocationNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) GetDefault(ctx context.Context) (Location, error) {
	return s.repo.GetDefault(ctx)
}

// DefaultLocationID resolves an omitted locationId on stock operations.
func (s *Service) DefaultLocationID(ctx context.Context) (int64, error) {
	loc, err := s.repo.GetDefault(ctx)
	if err != nil {
		return 0, err
	}
	return loc.ID, nil
}

// RequireActive returns the location when it exists and is active.
func (s *Service) RequireActive(ctx context.Context, id int64) (Location, error) {
	loc, err := s.Get(ctx, id)
	if err != nil {
		return Location{}, err
	}
	if !loc.Active {
		return Location{}, internalShared.NewValidationError("locationId", fmt.Sprintf("location %d is inactive", id))
	}
	return loc, nil
}

// Create stores a location. The first location of a tenant, or one created
// with IsDefault, becomes the default in the same transaction.
func (s *Service) Create(ctx context.Context, in CreateInput) (Location, error) {
	if err := in.validate(); err != nil {
		return Location{}, err
	}
	loc := Location{
		Name:    internalShared.NormalizeName(in.Name),
		Address: strings.TrimSpace(in.Address),
		Active:  in.Active == nil || *in.Active,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.Count(ctx)
		if err != nil {
			return err
		}
		loc.IsDefault = in.IsDefault || n == 0
		if loc.IsDefault {
			if !loc.Active {
				return internalShared.NewValidationError("active", "the default location must be active")
			}
			if err := tx.ClearDefault(ctx); err != nil {
				return err
			}
		}
		loc, err = tx.Create(ctx, loc)
		return err
	})
	if err != nil {
		return Location{}, err
	}
	s.recordAudit(ctx, "location.create", loc.ID, map[string]any{"name": loc.Name, "isDefault": loc.IsDefault})
	return loc, nil
}

func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (Location, error) {
	if err := in.validate(); err != nil {
		return Location{}, err
	}
	var loc Location
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if in.Name != nil {
			current.Name = internalShared.NormalizeName(*in.Name)
		}
		if in.Address != nil {
			current.Address = strings.TrimSpace(*in.Address)
		}
		if in.Active != nil {
			if current.IsDefault && !*in.Active {
				return internalShared.NewValidationError("active", "cannot deactivate the default location")
			}
			current.Active = *in.Active
		}
		if err := tx.Update(ctx, current); err != nil {
			return err
		}
		loc = current
		return nil
	})
	if err != nil {
		return Location{}, err
	}
	s.recordAudit(ctx, "location.update", id, nil)
	return loc, nil
}

// SetDefault moves the default flag to id. The previous default is cleared
// before the new one is set so the partial unique index never sees two.
func (s *Service) SetDefault(ctx context.Context, id int64) (Location, error) {
	var loc Location
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		target, err := tx.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if !target.Active {
			return internalShared.NewValidationError("active", "an inactive location cannot be the default")
		}
		if !target.IsDefault {
			if err := tx.ClearDefault(ctx); err != nil {
				return err
			}
			if err := tx.MarkDefault(ctx, id); err != nil {
				return err
			}
			target.IsDefault = true
		}
		loc = target
		return nil
	})
	if err != nil {
		return Location{}, err
	}
	s.recordAudit(ctx, "location.set_default", id, nil)
	return loc, nil
}

// Delete removes a location that is neither the default nor referenced by stock.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		loc, err := tx.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if loc.IsDefault {
			return internalShared.NewValidationError("id", "the default location cannot be deleted")
		}
		if s.stock != nil {
			n, err := s.stock.CountItemsAtLocation(ctx, id)
			if err != nil {
				return err
			}
			if n > 0 {
				return internalShared.NewValidationError("id", fmt.Sprintf("location still holds %d inventory item(s)", n))
			}
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "location.delete", id, nil)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, internalShared.AuditLog{Action: action, Entity: "location", EntityID: fmt.Sprintf("%d", entityID), Meta: meta}); err != nil {
		s.logger.Warn("location: audit", slog.String("action", action), slog.Any("error", err))
	}
}
