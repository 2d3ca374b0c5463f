package inventory

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// initialStockReason labels the adjustment written for an item's opening quantity.
const initialStockReason = "initial stock"

// CreateItemInput captures a new inventory row.
type CreateItemInput struct {
	ProductID       int64
	LocationID      int64
	InitialQuantity int64
	ReorderPoint    *int64
	ReorderQuantity *int64
	CostPrice       decimal.NullDecimal
}

func (in CreateItemInput) validate() error {
	verr := &shared.ValidationError{}
	if in.ProductID <= 0 {
		verr.Add("productId", "must be greater than 0")
	}
	if in.LocationID < 0 {
		verr.Add("locationId", "must be greater than 0")
	}
	if in.InitialQuantity < 0 {
		verr.Add("quantity", "must be at least 0")
	}
	validateSettings(verr, ItemSettings{ReorderPoint: in.ReorderPoint, ReorderQuantity: in.ReorderQuantity})
	if in.CostPrice.Valid && in.CostPrice.Decimal.IsNegative() {
		verr.Add("costPrice", "must be at least 0")
	}
	return verr.OrNil()
}

func validateSettings(verr *shared.ValidationError, s ItemSettings) {
	if s.ReorderPoint != nil && *s.ReorderPoint < 0 {
		verr.Add("reorderPoint", "must be at least 0")
	}
	if s.ReorderQuantity != nil && *s.ReorderQuantity < 0 {
		verr.Add("reorderQuantity", "must be at least 0")
	}
	if s.CostPrice != nil && s.CostPrice.IsNegative() {
		verr.Add("costPrice", "must be at least 0")
	}
}

// CreateItem registers a product at a location. A positive initial quantity is
// posted as an ADJUSTMENT in the same transaction so the ledger stays complete.
func (s *Service) CreateItem(ctx context.Context, in CreateItemInput) (Item, error) {
	if err := in.validate(); err != nil {
		return Item{}, err
	}
	if in.LocationID == 0 {
		id, err := s.defaultLocationID(ctx)
		if err != nil {
			return Item{}, err
		}
		in.LocationID = id
	}
	var (
		item    Item
		results []Result
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		created, err := tx.CreateItem(ctx, Item{
			ProductID:       in.ProductID,
			LocationID:      in.LocationID,
			ReorderPoint:    in.ReorderPoint,
			ReorderQuantity: in.ReorderQuantity,
			CostPrice:       in.CostPrice,
		})
		if err != nil {
			return err
		}
		item = created
		if in.InitialQuantity == 0 {
			return nil
		}
		res, err := s.apply(ctx, tx, Mutation{
			Op:         OpAdjust,
			ProductID:  in.ProductID,
			LocationID: in.LocationID,
			Quantity:   in.InitialQuantity,
			Reference:  ManualRef(),
			Reason:     initialStockReason,
		})
		if err != nil {
			return err
		}
		item = res.Item
		results = append(results, res)
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	s.AfterCommit(ctx, results)
	return item, nil
}

// UpdateItem applies reorder and cost settings. Quantities only change through
// ledger operations.
func (s *Service) UpdateItem(ctx context.Context, id int64, settings ItemSettings) (Item, error) {
	verr := &shared.ValidationError{}
	validateSettings(verr, settings)
	if err := verr.OrNil(); err != nil {
		return Item{}, err
	}
	var item Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockItemByID(ctx, id)
		if err != nil {
			return err
		}
		if settings.ReorderPoint != nil {
			current.ReorderPoint = settings.ReorderPoint
		}
		if settings.ReorderQuantity != nil {
			current.ReorderQuantity = settings.ReorderQuantity
		}
		if settings.CostPrice != nil {
			current.CostPrice = decimal.NewNullDecimal(settings.CostPrice.Round(costScale))
		}
		if err := tx.UpdateItem(ctx, current); err != nil {
			return err
		}
		item = current
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

// GetItem fetches one inventory row.
func (s *Service) GetItem(ctx context.Context, id int64) (Item, error) {
	return s.repo.GetItem(ctx, id)
}

// ListItems returns a page of inventory rows and the total match count.
func (s *Service) ListItems(ctx context.Context, filter ItemFilter) ([]Item, int, error) {
	page := shared.Page{Limit: filter.Limit, Offset: filter.Offset}.Normalize()
	filter.Limit, filter.Offset = page.Limit, page.Offset
	return s.repo.ListItems(ctx, filter)
}

// ListLowStock returns rows at or below their reorder point.
func (s *Service) ListLowStock(ctx context.Context, page shared.Page) ([]Item, int, error) {
	return s.ListItems(ctx, ItemFilter{LowStock: true, Limit: page.Limit, Offset: page.Offset})
}

// GetStockLevel aggregates a product across locations, served from cache when configured.
func (s *Service) GetStockLevel(ctx context.Context, productID int64) (StockLevel, error) {
	if productID <= 0 {
		return StockLevel{}, shared.NewValidationError("productId", "must be greater than 0")
	}
	load := func(ctx context.Context) (StockLevel, error) {
		return s.repo.StockLevel(ctx, productID)
	}
	if s.cache == nil {
		return load(ctx)
	}
	return s.cache.FetchStockLevel(ctx, productID, load)
}

// ListMovements returns ledger entries, newest first.
func (s *Service) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, int, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, 0, shared.NewValidationError("type", "unknown movement type")
	}
	page := shared.Page{Limit: filter.Limit, Offset: filter.Offset}.Normalize()
	filter.Limit, filter.Offset = page.Limit, page.Offset
	return s.repo.ListMovements(ctx, filter)
}

// ListReservations returns the reservation ledger rows held by ref.
func (s *Service) ListReservations(ctx context.Context, ref Reference) ([]Reservation, error) {
	if !ref.Keyed() {
		return nil, shared.NewValidationError("referenceType", "reservations require an ORDER, PURCHASE_ORDER or TRANSFER reference")
	}
	return s.repo.ListReservations(ctx, ref)
}
