package inventory

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// IdempotencyHeader carries the client supplied key for deduct, restock and adjust.
const IdempotencyHeader = "Idempotency-Key"

// ReplayedHeader is set on a response rebuilt from an already processed key.
const ReplayedHeader = "Idempotent-Replayed"

// Handler wires HTTP endpoints for inventory module.
type Handler struct {
	logger       *slog.Logger
	service      *Service
	reservations *ReservationManager
	validator    *httpx.Validator
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service, reservations *ReservationManager, validator *httpx.Validator) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if reservations == nil {
		reservations = NewReservationManager(service)
	}
	if validator == nil {
		validator = httpx.NewValidator()
	}
	return &Handler{logger: logger, service: service, reservations: reservations, validator: validator}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/items", func(r chi.Router) {
		r.Get("/", h.listItems)
		r.Post("/", h.createItem)
		r.Get("/low-stock", h.listLowStock)
		r.Get("/{id}", h.getItem)
		r.Patch("/{id}", h.updateItem)
		r.Put("/{id}", h.updateItem)
	})
	r.Get("/stock/{productId}", h.getStockLevel)
	r.Post("/reserve", h.reserve)
	r.Post("/release", h.release)
	r.Post("/deduct", h.deduct)
	r.Post("/restock", h.restock)
	r.Post("/adjust", h.adjust)
	r.Get("/movements", h.listMovements)
	r.Get("/reservations", h.listReservations)
}

type createItemRequest struct {
	ProductID       int64               `json:"productId" validate:"required,gt=0"`
	LocationID      int64               `json:"locationId" validate:"gte=0"`
	Quantity        int64               `json:"quantity" validate:"gte=0"`
	ReorderPoint    *int64              `json:"reorderPoint" validate:"omitempty,gte=0"`
	ReorderQuantity *int64              `json:"reorderQuantity" validate:"omitempty,gte=0"`
	CostPrice       decimal.NullDecimal `json:"costPrice"`
}

type updateItemRequest struct {
	ReorderPoint    *int64           `json:"reorderPoint" validate:"omitempty,gte=0"`
	ReorderQuantity *int64           `json:"reorderQuantity" validate:"omitempty,gte=0"`
	CostPrice       *decimal.Decimal `json:"costPrice"`
}

type stockRequest struct {
	ProductID     int64               `json:"productId" validate:"required,gt=0"`
	LocationID    int64               `json:"locationId" validate:"gte=0"`
	Quantity      int64               `json:"quantity" validate:"gte=0"`
	ReferenceType string              `json:"referenceType" validate:"omitempty,oneof=ORDER PURCHASE_ORDER TRANSFER MANUAL"`
	ReferenceID   *int64              `json:"referenceId"`
	Reason        string              `json:"reason" validate:"max=500"`
	Type          string              `json:"type" validate:"omitempty,oneof=SALE DAMAGED EXPIRED PURCHASE RETURN TRANSFER_IN"`
	UnitCost      decimal.NullDecimal `json:"unitCost"`
}

type adjustRequest struct {
	ProductID  int64  `json:"productId" validate:"required,gt=0"`
	LocationID int64  `json:"locationId" validate:"gte=0"`
	Delta      int64  `json:"delta"`
	Quantity   *int64 `json:"quantity"`
	Reason     string `json:"reason" validate:"max=500"`
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	filter, page, err := itemFilterFromQuery(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, total, err := h.service.ListItems(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.List(w, items, shared.NewMeta(page, total))
}

func (h *Handler) listLowStock(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.QueryPage(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page = page.Normalize()
	items, total, err := h.service.ListLowStock(r.Context(), page)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.List(w, items, shared.NewMeta(page, total))
}

func itemFilterFromQuery(r *http.Request) (ItemFilter, shared.Page, error) {
	page, err := httpx.QueryPage(r)
	if err != nil {
		return ItemFilter{}, page, err
	}
	page = page.Normalize()
	filter := ItemFilter{Limit: page.Limit, Offset: page.Offset}
	if filter.ProductID, err = httpx.QueryInt64(r, "productId"); err != nil {
		return filter, page, err
	}
	if filter.LocationID, err = httpx.QueryInt64(r, "locationId"); err != nil {
		return filter, page, err
	}
	low, err := httpx.QueryBool(r, "lowStock")
	if err != nil {
		return filter, page, err
	}
	filter.LowStock = low != nil && *low
	return filter, page, nil
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.GetItem(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, item)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	var req createItemRequest
	if err := h.validator.Decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.CreateItem(r.Context(), CreateItemInput{
		ProductID:       req.ProductID,
		LocationID:      req.LocationID,
		InitialQuantity: req.Quantity,
		ReorderPoint:    req.ReorderPoint,
		ReorderQuantity: req.ReorderQuantity,
		CostPrice:       req.CostPrice,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusCreated, item)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateItemRequest
	if err := h.validator.Decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, err := h.service.UpdateItem(r.Context(), id, ItemSettings(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, item)
}

func (h *Handler) getStockLevel(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.PathID(r, "productId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	level, err := h.service.GetStockLevel(r.Context(), productID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, level)
}

func (h *Handler) decodeStock(r *http.Request) (StockInput, error) {
	var req stockRequest
	if err := h.validator.Decode(r, &req); err != nil {
		return StockInput{}, err
	}
	ref, err := ParseReference(req.ReferenceType, req.ReferenceID)
	if err != nil {
		return StockInput{}, err
	}
	return StockInput{
		ProductID:      req.ProductID,
		LocationID:     req.LocationID,
		Quantity:       req.Quantity,
		Reference:      ref,
		Reason:         req.Reason,
		UnitCost:       req.UnitCost,
		Type:           MovementType(req.Type),
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	}, nil
}

// reserve and release go through the reservation ledger so client retries are safe.
func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	in, err := h.decodeStock(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	results, err := h.reservations.Reserve(r.Context(), in.Reference, []ReservationLine{{
		ProductID: in.ProductID, LocationID: in.LocationID, Quantity: in.Quantity,
	}})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, results[0].Item)
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	in, err := h.decodeStock(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	results, err := h.reservations.Release(r.Context(), in.Reference, []ReservationLine{{
		ProductID: in.ProductID, LocationID: in.LocationID, Quantity: in.Quantity,
	}})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, results[0].Item)
}

func (h *Handler) deduct(w http.ResponseWriter, r *http.Request) {
	in, err := h.decodeStock(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Deduct(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, res)
}

func (h *Handler) restock(w http.ResponseWriter, r *http.Request) {
	in, err := h.decodeStock(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.Restock(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, res)
}

func (h *Handler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := h.validator.Decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	delta := req.Delta
	// the console posts the signed change as "quantity"
	if delta == 0 && req.Quantity != nil {
		delta = *req.Quantity
	}
	res, err := h.service.Adjust(r.Context(), AdjustInput{
		ProductID:      req.ProductID,
		LocationID:     req.LocationID,
		Delta:          delta,
		Reason:         req.Reason,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeResult(w, res)
}

func writeResult(w http.ResponseWriter, res Result) {
	if res.Replayed {
		w.Header().Set(ReplayedHeader, "true")
	}
	httpx.Data(w, http.StatusOK, res.Item)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.QueryPage(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page = page.Normalize()
	filter := MovementFilter{Limit: page.Limit, Offset: page.Offset}
	q := r.URL.Query()
	filter.ReferenceType = ReferenceType(q.Get("referenceType"))
	filter.Type = MovementType(q.Get("type"))
	for name, dst := range map[string]**int64{
		"productId":   &filter.ProductID,
		"locationId":  &filter.LocationID,
		"itemId":      &filter.ItemID,
		"referenceId": &filter.ReferenceID,
	} {
		if *dst, err = httpx.QueryInt64(r, name); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	orderID, err := httpx.QueryInt64(r, "orderId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if orderID != nil {
		filter.ReferenceType = RefOrder
		filter.ReferenceID = orderID
	}
	movements, total, err := h.service.ListMovements(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.List(w, movements, shared.NewMeta(page, total))
}

func (h *Handler) listReservations(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.QueryInt64(r, "referenceId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	ref, err := ParseReference(r.URL.Query().Get("referenceType"), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	reservations, err := h.service.ListReservations(r.Context(), ref)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.List(w, reservations, shared.Meta{Total: len(reservations), Limit: len(reservations)})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.Kind(err) == shared.KindInternal {
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
