package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scanstock/scanstock/internal/broadcast"
	"github.com/scanstock/scanstock/internal/catalog"
	"github.com/scanstock/scanstock/internal/notify"
	"github.com/scanstock/scanstock/internal/observability"
	"github.com/scanstock/scanstock/internal/reconcile"
	"github.com/scanstock/scanstock/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config
	Pool   *pgxpool.Pool

	InvoiceHandler      *reconcile.Handler
	CatalogHandler      *catalog.Handler
	NotificationHandler *notify.Handler
	JobHandler          *jobs.Handler

	Hub        *broadcast.Hub
	CountCache *broadcast.CountCache

	Metrics *observability.Metrics
}

// NewRouter constructs the chi.Router. The websocket endpoint sits outside
// the request-timeout chain; everything else under /api gets the full stack.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.Hub != nil {
		r.Get("/ws", broadcast.ServeWS(params.Hub, params.CountCache, params.Logger))
	}

	r.Group(func(api chi.Router) {
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger:  params.Logger,
			Config:  params.Config,
			Metrics: params.Metrics,
		}) {
			api.Use(mw)
		}
		api.Use(chimw.Logger)

		api.Route("/api/invoices", params.InvoiceHandler.MountRoutes)
		api.Route("/api/products", params.CatalogHandler.MountRoutes)
		api.Route("/api/notifications", params.NotificationHandler.MountRoutes)
		if params.JobHandler != nil {
			api.Route("/api/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
