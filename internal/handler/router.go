package handler

import (
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/runbar/runbar/internal/service"
)

// NewRouter creates a Chi router with all routes configured. static may be
// nil when no web UI is bundled.
func NewRouter(ctl *service.Controller, static fs.FS, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	services := NewServiceHandler(ctl, log)
	groups := NewGroupHandler(ctl, log)
	settings := NewSettingsHandler(ctl, log)
	events := NewEventStreamer(ctl.Subscribe, log)

	r := chi.NewRouter()

	// Middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(chimiddleware.Recoverer)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/services", func(r chi.Router) {
		r.Get("/", services.ListServices)
		r.Post("/", services.CreateService)
		r.Get("/{id}", services.GetService)
		r.Put("/{id}", services.UpdateService)
		r.Delete("/{id}", services.DeleteService)
		r.Post("/{id}/start", services.HandleServiceAction("start"))
		r.Post("/{id}/stop", services.HandleServiceAction("stop"))
		r.Post("/{id}/restart", services.HandleServiceAction("restart"))
		r.Get("/{id}/logs", services.GetServiceLogs)
		r.Get("/{id}/logs/stream", services.HandleServiceLogsStream)
	})

	r.Route("/api/groups", func(r chi.Router) {
		r.Get("/", groups.ListGroups)
		r.Post("/", groups.CreateGroup)
		r.Put("/{id}", groups.UpdateGroup)
		r.Delete("/{id}", groups.DeleteGroup)
		r.Post("/{id}/start", groups.HandleGroupAction("start"))
		r.Post("/{id}/stop", groups.HandleGroupAction("stop"))
		r.Post("/{id}/toggle", groups.HandleGroupAction("toggle"))
	})

	r.Get("/api/settings", settings.GetSettings)
	r.Put("/api/settings", settings.UpdateSettings)
	r.Get("/api/export", settings.Export)
	r.Post("/api/import", settings.Import)
	r.Get("/api/discover", settings.Discover)
	r.Post("/api/discover", settings.AddDiscovered)
	r.Get("/api/events", events.HandleEvents)

	if static != nil {
		r.Get("/*", http.FileServer(http.FS(static)).ServeHTTP)
	}

	return r
}

// requestLogger logs each request through zap.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())))
		})
	}
}
