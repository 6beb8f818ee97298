// Package router assembles the HTTP surface: the inbound SMS webhook, the
// read-only dashboard API, and operational endpoints.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/carscout/carscout-ai/internal/http/handlers"
	httpmiddleware "github.com/carscout/carscout-ai/internal/http/middleware"
	"github.com/carscout/carscout-ai/internal/messaging"
	"github.com/carscout/carscout-ai/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger             *logging.Logger
	Webhook            *messaging.WebhookHandler
	Dashboard          *handlers.Dashboard
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Requests per second each client may send to the webhook. Zero
	// disables rate limiting.
	WebhookRateLimit float64
	WebhookBurst     int
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Route("/api", func(api chi.Router) {
		if cfg.Dashboard != nil {
			api.Get("/", cfg.Dashboard.Root)
			api.Get("/test-db", cfg.Dashboard.TestDB)
			api.Get("/threads", cfg.Dashboard.ListThreads)
			api.Get("/threads/{id}/messages", cfg.Dashboard.ListThreadMessages)
			api.Get("/threads/{id}/car-listing", cfg.Dashboard.GetThreadCarListing)
			api.Get("/car-listings", cfg.Dashboard.ListCarListings)
			api.Get("/visits", cfg.Dashboard.ListVisits)
			api.Get("/visits/{id}", cfg.Dashboard.GetVisit)
			api.Get("/templates", cfg.Dashboard.ListTemplates)
			api.Post("/register-webhook", cfg.Dashboard.RegisterWebhook)
		}

		if cfg.Webhook != nil {
			api.Route("/webhook", func(wh chi.Router) {
				if cfg.WebhookRateLimit > 0 {
					burst := cfg.WebhookBurst
					if burst <= 0 {
						burst = int(cfg.WebhookRateLimit) * 2
					}
					wh.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, burst))
				}
				wh.Post("/sms", cfg.Webhook.HandleInbound)
				wh.Get("/test", cfg.Webhook.HandleTest)
			})
		}
	})

	return r
}
