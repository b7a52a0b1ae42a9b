package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hartleylabs/frontdesk/internal/http/handlers"
	httpmiddleware "github.com/hartleylabs/frontdesk/internal/http/middleware"
	"github.com/hartleylabs/frontdesk/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger         *logging.Logger
	VoiceWebhooks  *handlers.VoiceWebhookHandler
	MetricsHandler http.Handler
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if cfg.VoiceWebhooks != nil {
		r.Route("/webhooks/voice", func(r chi.Router) {
			r.Post("/answer", cfg.VoiceWebhooks.HandleAnswer)
			r.Post("/turn", cfg.VoiceWebhooks.HandleTurn)
			r.Post("/status", cfg.VoiceWebhooks.HandleStatus)
		})
	}

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r
}
