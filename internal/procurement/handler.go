package procurement

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler manages purchase order endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *httpx.Validator
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validator *httpx.Validator) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator = httpx.NewValidator()
	}
	return &Handler{logger: logger, service: service, validator: validator}
}

// MountRoutes registers purchase order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Put("/{id}", h.update)
	r.Patch("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/order", h.markOrdered)
	r.Post("/{id}/receive", h.receive)
	r.Post("/{id}/cancel", h.cancel)
}

type itemRequest struct {
	ProductID       int64           `json:"productId" validate:"required,gt=0"`
	LocationID      *int64          `json:"locationId" validate:"omitempty,gt=0"`
	OrderedQuantity int64           `json:"orderedQuantity" validate:"gte=1"`
	UnitCost        decimal.Decimal `json:"unitCost"`
}

type createRequest struct {
	SupplierID   *int64        `json:"supplierId" validate:"omitempty,gt=0"`
	ExpectedDate *time.Time    `json:"expectedDate"`
	Notes        string        `json:"notes" validate:"max=2000"`
	Items        []itemRequest `json:"items" validate:"required,min=1,dive"`
}

type updateRequest struct {
	SupplierID    *int64        `json:"supplierId" validate:"omitempty,gt=0"`
	ClearSupplier bool          `json:"clearSupplier"`
	ExpectedDate  *time.Time    `json:"expectedDate"`
	Notes         *string       `json:"notes" validate:"omitempty,max=2000"`
	Items         []itemRequest `json:"items" validate:"omitempty,min=1,dive"`
}

type receiveRequest struct {
	Items []struct {
		PurchaseOrderItemID int64 `json:"purchaseOrderItemId" validate:"required,gt=0"`
		ReceivedQuantity    int64 `json:"receivedQuantity" validate:"gte=0"`
	} `json:"items" validate:"dive"`
}

func toItemInputs(in []itemRequest) []ItemInput {
	if in == nil {
		return nil
	}
	out := make([]ItemInput, 0, len(in))
	for _, it := range in {
		out = append(out, ItemInput(it))
	}
	return out
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.QueryPage(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page = page.Normalize()
	supplierID, err := httpx.QueryInt64(r, "supplierId")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filters := ListFilters{Status: POStatus(r.URL.Query().Get("status")), Limit: page.Limit, Offset: page.Offset}
	if supplierID != nil {
		filters.SupplierID = *supplierID
	}
	list, total, err := h.service.List(r.Context(), filters)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.List(w, list, shared.NewMeta(page, total))
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, po)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := h.validator.Decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.Create(r.Context(), CreateInput{
		SupplierID:   req.SupplierID,
		ExpectedDate: req.ExpectedDate,
		Notes:        req.Notes,
		Items:        toItemInputs(req.Items),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusCreated, po)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateRequest
	if err := h.validator.Decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := h.service.Update(r.Context(), id, UpdateInput{
		SupplierID:    req.SupplierID,
		ClearSupplier: req.ClearSupplier,
		ExpectedDate:  req.ExpectedDate,
		Notes:         req.Notes,
		Items:         toItemInputs(req.Items),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, po)
}

func (h *Handler) markOrdered(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.MarkOrdered)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id int64) (PurchaseOrder, error)) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	po, err := fn(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, po)
}

// receive accepts an empty body to receive everything outstanding.
func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req receiveRequest
	if r.ContentLength != 0 && r.Body != http.NoBody {
		if err := h.validator.Decode(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	lines := make([]ReceiveLine, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, ReceiveLine{PurchaseOrderItemID: it.PurchaseOrderItemID, ReceivedQuantity: it.ReceivedQuantity})
	}
	po, err := h.service.Receive(r.Context(), id, lines)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, po)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if shared.Kind(err) == shared.KindInternal {
		h.logger.Error("purchase order request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
