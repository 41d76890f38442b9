package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	httpSwagger "github.com/swaggo/http-swagger"

	"tenant-broadcast/internal/auth"
	"tenant-broadcast/internal/metrics"
	"tenant-broadcast/internal/model"
	"tenant-broadcast/internal/progress"
	"tenant-broadcast/internal/queue"
)

// Broadcasts is the broadcast service as seen by the handlers.
type Broadcasts interface {
	Start(ctx context.Context, tenantID string, req model.BroadcastRequest) (string, error)
	Progress(tenantID, jobID string) (progress.Record, bool)
	Stop(tenantID string) int
	UpdateConfig(ctx context.Context, tenantID string, partial queue.PartialConfig) (queue.Config, error)
	Config(tenantID string) queue.Config
	Stats() map[string]queue.Stats
	RemoveTenant(ctx context.Context, tenantID string) error
}

type TenantStore interface {
	CreateTenant(ctx context.Context, t model.Tenant) (model.Tenant, error)
	DeleteTenant(ctx context.Context, id string) error
}

// Provisioner sets up and tears down a tenant's broker resources. It may be nil.
type Provisioner interface {
	Provision(ctx context.Context, tenantID string) error
	Deprovision(ctx context.Context, tenantID string) error
}

type API struct {
	Tenants     TenantStore
	Broadcasts  Broadcasts
	Auth        *auth.Authenticator
	AdminToken  string
	Provisioner Provisioner
	Log         zerolog.Logger
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.requestLogger)

	// Public
	r.Get("/healthz", a.Healthz)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.AdminMiddleware(a.AdminToken))

		r.Post("/tenants", a.CreateTenant)
		r.Delete("/tenants/{id}", a.DeleteTenant)
		r.Get("/stats", a.Stats)
	})

	// Secured
	r.Group(func(r chi.Router) {
		r.Use(a.Auth.JWTAuthMiddleware)

		r.Post("/broadcasts", a.StartBroadcast)
		r.Post("/broadcasts/stop", a.StopBroadcasts)
		r.Get("/broadcasts/{id}", a.GetProgress)
		r.Put("/config", a.UpdateConfig)
		r.Get("/config", a.GetConfig)
	})

	return r
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.Log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("dur", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
