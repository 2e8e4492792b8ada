package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/handlers"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/middleware"
	"github.com/Xyvin-Technologies-Pvt-Ltd/backend-loyalty-demo-sub001/internal/observability"
)

// Handlers groups the resource handlers mounted under /api/v1.
type Handlers struct {
	Ledger      *handlers.LedgerHandler
	Conversions *handlers.ConversionHandler
	Segments    *handlers.SegmentHandler
	Customers   *handlers.CustomerHandler
	Jobs        *handlers.JobHandler
}

// New returns an http.Handler that serves the API under /api/v1 plus the
// unauthenticated /healthz and /metrics endpoints.
func New(h Handlers, verifier middleware.TokenVerifier, registry *prometheus.Registry, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(observability.RequestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Authenticate(verifier))

		// Customers
		r.Post("/customers", h.Customers.Create)
		r.Get("/customers/{customerID}", h.Customers.Get)
		r.Get("/customers/{customerID}/entries", h.Ledger.ListEntries)
		r.Get("/customers/{customerID}/balance", h.Ledger.Balance)
		r.Get("/customers/{customerID}/conversions", h.Conversions.ListHistory)

		// Ledger
		r.Post("/ledger/entries", h.Ledger.RecordTransaction)
		r.Get("/ledger/entries/{entryID}", h.Ledger.GetEntry)
		r.Patch("/ledger/entries/{entryID}/status", h.Ledger.UpdateStatus)
		r.Delete("/ledger/entries/{entryID}", h.Ledger.DeleteTransaction)

		// Conversions
		r.Post("/conversions/quote", h.Conversions.Quote)
		r.Post("/conversions", h.Conversions.Convert)
		r.Get("/conversion-rules", h.Conversions.ListRules)

		// Segments
		r.Get("/segments", h.Segments.List)
		r.Get("/segments/{segmentID}", h.Segments.Get)
		r.Get("/segments/{segmentID}/customers", h.Segments.Customers)
		r.Get("/segments/{segmentID}/refreshes", h.Jobs.SegmentRefreshes)

		r.Get("/jobs/{jobID}", h.Jobs.Get)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)

			r.Post("/ledger/expirations", h.Ledger.ExpirePoints)
			r.Post("/conversion-rules", h.Conversions.CreateRule)
			r.Patch("/conversion-rules/{ruleID}", h.Conversions.SetRuleActive)

			r.Post("/segments", h.Segments.Create)
			r.Patch("/segments/{segmentID}", h.Segments.Update)
			r.Delete("/segments/{segmentID}", h.Segments.Delete)
			r.Post("/segments/{segmentID}/refresh", h.Segments.Refresh)
		})
	})

	return r
}
