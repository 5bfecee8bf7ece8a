package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ignite/campaign-engine/internal/pkg/httputil"
)

// RouterOptions configures SetupRoutes.
type RouterOptions struct {
	// AllowedOrigins for CORS. Empty allows none.
	AllowedOrigins []string
	// APIKey, when set, is required on every /api route as a bearer token
	// or X-API-Key header.
	APIKey string
}

// SetupRoutes builds the HTTP router. hc may be nil.
func SetupRoutes(h *Handlers, hc *HealthChecker, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Requested-By"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if hc != nil {
		r.Get("/health", hc.HandleHealth)
		r.Get("/health/live", hc.HandleLiveness)
		r.Get("/health/ready", hc.HandleReadiness)
	}

	r.Route("/api", func(r chi.Router) {
		if opts.APIKey != "" {
			r.Use(requireAPIKey(opts.APIKey))
		}

		r.Route("/batches", func(r chi.Router) {
			r.Post("/", h.CreateBatch)
			r.Get("/{id}", h.GetBatch)
			r.Post("/{id}/pause", h.PauseBatch)
			r.Post("/{id}/resume", h.ResumeBatch)
			r.Post("/{id}/cancel", h.CancelBatch)
		})
		r.Post("/journeys/{id}/cancel", h.CancelJourney)
		r.Post("/deliveries/{id}/events", h.RecordDeliveryEvent)
		r.Post("/events", h.RecordDeliveryEvents)
		r.Get("/workers", h.ListWorkers)

		if h.suppressions != nil {
			r.Route("/tenants/{tenantID}/suppressions", func(r chi.Router) {
				r.Get("/", h.ListSuppressions)
				r.Post("/", h.AddSuppression)
				r.Get("/stats", h.SuppressionStats)
				r.Delete("/{recipientID}", h.RemoveSuppression)
			})
		}
	})

	return r
}

func requireAPIKey(key string) func(http.Handler) http.Handler {
	want := []byte(key)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			got := req.Header.Get("X-API-Key")
			if auth := req.Header.Get("Authorization"); got == "" && strings.HasPrefix(auth, "Bearer ") {
				got = strings.TrimPrefix(auth, "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				httputil.Error(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}
