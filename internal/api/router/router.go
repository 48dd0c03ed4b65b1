package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/medibook-assistant/internal/clinic"
	"github.com/wolfman30/medibook-assistant/internal/conversation"
	"github.com/wolfman30/medibook-assistant/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/medibook-assistant/internal/http/middleware"
	"github.com/wolfman30/medibook-assistant/internal/webchat"
	"github.com/wolfman30/medibook-assistant/pkg/logging"
)

// Config holds router configuration. ChatHandler and Health are required;
// the other handlers are mounted when set.
type Config struct {
	Logger             *logging.Logger
	ChatHandler        *conversation.Handler
	SessionAdmin       *conversation.AdminHandler
	Appointments       *handlers.AppointmentsHandler
	Clinic             *clinic.Handler
	Health             *handlers.HealthHandler
	WebChat            *webchat.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	if cfg.ChatHandler == nil {
		panic("router: chat handler cannot be nil")
	}
	if cfg.Health == nil {
		panic("router: health handler cannot be nil")
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))

	limit := httpmiddleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst)

	r.Get("/", cfg.Health.Root)
	r.Get("/health", cfg.Health.Health)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	r.Group(func(chat chi.Router) {
		chat.Use(limit)
		chat.Post("/chat", cfg.ChatHandler.Chat)
		if cfg.WebChat != nil {
			chat.Get("/ws", cfg.WebChat.HandleWebSocket)
		}
	})

	if cfg.Clinic != nil {
		r.Get("/clinic", cfg.Clinic.GetInfo)
	}

	r.Route("/session/{sessionID}", func(s chi.Router) {
		s.Get("/", cfg.ChatHandler.History)
		s.Delete("/", cfg.ChatHandler.ClearSession)
	})

	if cfg.SessionAdmin != nil {
		r.Get("/sessions", cfg.SessionAdmin.ListSessions)
		r.Delete("/sessions", cfg.SessionAdmin.ClearAll)
	}

	if cfg.Appointments != nil {
		r.Group(func(staff chi.Router) {
			staff.Use(middleware.Compress(5))
			staff.Get("/slots", cfg.Appointments.Slots)
			staff.Route("/appointments", func(a chi.Router) {
				a.Get("/", cfg.Appointments.List)
				a.Get("/today", cfg.Appointments.Today)
				a.Post("/cleanup", cfg.Appointments.Cleanup)
				a.Get("/{phone}", cfg.Appointments.ByPhone)
				a.Delete("/{appointmentID}", cfg.Appointments.Delete)
			})
		})
	}

	return r
}
