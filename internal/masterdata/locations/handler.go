package locations

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

type createRequest struct {
	Name      string `json:"name" validate:"required,max=120"`
	Address   string `json:"address" validate:"max=500"`
	IsDefault bool   `json:"isDefault"`
	Active    *bool  `json:"active"`
}

type updateRequest struct {
	Name    *string `json:"name" validate:"omitempty,max=120"`
	Address *string `json:"address" validate:"omitempty,max=500"`
	Active  *bool   `json:"active"`
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
	filters := shared.ListFilters{
		Limit:    page.Limit,
		Offset:   page.Offset,
		Search:   q.Get("search"),
		SortBy:   q.Get("sort"),
		SortDir:  q.Get("dir"),
		IsActive: active,
	}
	list, total, err := h.service.List(r.Context(), filters)
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
	loc, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, loc)
}

func (h *Handler) ShowDefault(w http.ResponseWriter, r *http.Request) {
	loc, err := h.service.GetDefault(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, loc)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := h.validator.Decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	loc, err := h.service.Create(r.Context(), CreateInput(req))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.Data(w, http.StatusCreated, loc)
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
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
	loc, err := h.service.Update(r.Context(), id, UpdateInput(req))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, loc)
}

func (h *Handler) SetDefault(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	loc, err := h.service.SetDefault(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.Data(w, http.StatusOK, loc)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.PathID(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if internalShared.Kind(err) == internalShared.KindInternal {
		h.logger.Error("location request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
