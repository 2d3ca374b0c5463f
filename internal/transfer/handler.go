package transfer

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Handler manages stock transfer endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *httpx.Validator
}

func NewHandler(logger *slog.Logger, service *Service, validator *httpx.Validator) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if validator == nil {
		validator = httpx.NewValidator()
	}
	return &Handler{logger: logger, service: service, validator: validator}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.show)
	r.Delete("/{id}", h.delete)
	r.Post("/{id}/in-transit", h.step(h.service.MarkInTransit))
	r.Post("/{id}/complete", h.step(h.service.Complete))
	r.Post("/{id}/cancel", h.step(h.service.Cancel))
}

type createRequest struct {
	FromLocationID int64  `json:"fromLocationId" validate:"required,gt=0"`
	ToLocationID   int64  `json:"toLocationId" validate:"required,gt=0"`
	Notes          string `json:"notes" validate:"max=2000"`
	Items          []struct {
		ProductID int64 `json:"productId" validate:"required,gt=0"`
		Quantity  int64 `json:"quantity" validate:"gte=1"`
	} `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.QueryPage(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page = page.Normalize()
	filters := ListFilters{Status: Status(r.URL.Query().Get("status")), Limit: page.Limit, Offset: page.Offset}
	for name, dst := range map[string]*int64{"fromLocationId": &filters.FromLocationID, "toLocationId": &filters.ToLocationID} {
		v, err := httpx.QueryInt64(r, name)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		if v != nil {
			*dst = *v
		}
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
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusOK, t)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := h.validator.Decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := CreateInput{FromLocationID: req.FromLocationID, ToLocationID: req.ToLocationID, Notes: req.Notes}
	for _, it := range req.Items {
		in.Items = append(in.Items, ItemInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	t, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.Data(w, http.StatusCreated, t)
}

func (h *Handler) step(fn func(context.Context, int64) (Transfer, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.PathID(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		t, err := fn(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.Data(w, http.StatusOK, t)
	}
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
		h.logger.Error("transfer request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
