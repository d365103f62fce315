package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/dukaan-erp/dukaan-erp/internal/ledger"
	"github.com/dukaan-erp/dukaan-erp/internal/observability"
	"github.com/dukaan-erp/dukaan-erp/internal/party"
	"github.com/dukaan-erp/dukaan-erp/internal/stock"
	"github.com/dukaan-erp/dukaan-erp/internal/tax"
	"github.com/dukaan-erp/dukaan-erp/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger        *slog.Logger
	Config        *Config
	TaxHandler    *tax.Handler
	LedgerHandler *ledger.Handler
	PartyHandler  *party.Handler
	StockHandler  *stock.Handler
	JobHandler    *jobs.Handler
	Metrics       *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.TaxHandler != nil {
		r.Route("/tax", params.TaxHandler.MountRoutes)
	}
	if params.LedgerHandler != nil {
		r.Route("/ledger", params.LedgerHandler.MountRoutes)
	}
	if params.PartyHandler != nil {
		params.PartyHandler.MountRoutes(r)
	}
	if params.StockHandler != nil {
		r.Route("/stock", params.StockHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
