package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/masterdata/locations"
	"github.com/odyssey-erp/stockledger/internal/masterdata/suppliers"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/procurement"
	"github.com/odyssey-erp/stockledger/internal/transfer"
	"github.com/odyssey-erp/stockledger/jobs"
)

// Pinger reports store reachability for /readyz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	DB                 Pinger
	LocationHandler    *locations.Handler
	SupplierHandler    *suppliers.Handler
	InventoryHandler   *inventory.Handler
	ProcurementHandler *procurement.Handler
	TransferHandler    *transfer.Handler
	JobHandler         *jobs.Handler
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if params.DB == nil {
			writeStatus(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := params.DB.Ping(ctx); err != nil {
			logger.Warn("readiness ping", slog.Any("error", err))
			writeStatus(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(TenantContext)
		if params.LocationHandler != nil {
			r.Route("/location", params.LocationHandler.MountRoutes)
		}
		if params.SupplierHandler != nil {
			r.Route("/supplier", params.SupplierHandler.MountRoutes)
		}
		if params.ProcurementHandler != nil {
			r.Route("/purchase-order", params.ProcurementHandler.MountRoutes)
		}
		if params.TransferHandler != nil {
			r.Route("/transfer", params.TransferHandler.MountRoutes)
		}
		if params.InventoryHandler != nil {
			r.Group(params.InventoryHandler.MountRoutes)
		}
	})

	return r
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"status":"` + status + `"}`))
}
