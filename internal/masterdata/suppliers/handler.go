package suppliers

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/stockledger/internal/masterdata/shared"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	internalShared "github.com/odyssey-erp/stockledger/internal/shared"
)

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

type supplierRequest struct {
	Name        *string `json:"name" validate:"omitempty,max=200"`
	ContactName *string `json:"contactName" validate:"omitempty,max=200"`
	Email       *string `json:"email" validate:"omitempty,max=254"`
	Phone       *string `json:"phone" validate:"omitempty,max=50"`
	Address     *string `json:"address" validate:"omitempty,max=500"`
	Active      *bool   `json:"active"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.QueryPage(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page = page.Normalize()
	active, err := httpx.QueryBool(r, "active")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	list, total, err := h.service.List(r.Context(), shared.ListFilters{
		Limit:    page.Limit,
		Offset:   page.Offset,
		Search:   q.Get("search"),
		SortBy:   q.Get("sort"),
		SortDir:  q.Get("dir"),
		IsActive: active,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.List(w, list, internalShared.NewMeta(page, total))
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	sup, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, sup)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req supplierRequest
	if err := h.validator.Decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sup, err := h.service.Create(r.Context(), Input(req))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.Data(w, http.StatusCreated, sup)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req supplierRequest
	if err := h.validator.Decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sup, err := h.service.Update(r.Context(), id, Input(req))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, sup)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	removed, err := h.service.Delete(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	if removed {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	sup, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, sup)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if internalShared.Kind(err) == internalShared.KindInternal {
		h.logger.Error("supplier request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
