package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hadirot/renewal-engine/internal/http/handlers"
	httpmiddleware "github.com/hadirot/renewal-engine/internal/http/middleware"
	"github.com/hadirot/renewal-engine/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger         *logging.Logger
	SMSWebhooks    *handlers.SMSWebhookHandler
	MetricsHandler http.Handler
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.SMSWebhooks != nil {
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/twilio/sms", cfg.SMSWebhooks.HandleTwilio)
			r.Post("/telnyx/sms", cfg.SMSWebhooks.HandleTelnyx)
		})
	}

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r
}
