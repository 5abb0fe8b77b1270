package routes

import (
	"log/slog"
	"net/http"

	_ "github.com/Dosada05/presenza-calcio/docs"
	"github.com/Dosada05/presenza-calcio/handlers"
	"github.com/Dosada05/presenza-calcio/middleware"
	"github.com/Dosada05/presenza-calcio/models"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Handlers struct {
	Gateway   *handlers.GatewayHandler
	Session   *handlers.SessionHandler
	Event     *handlers.EventHandler
	Invite    *handlers.InviteHandler
	Privacy   *handlers.PrivacyHandler
	WebSocket *handlers.WebSocketHandler
	Health    *handlers.HealthHandler
}

type Options struct {
	AllowedOrigins []string
	Logger         *slog.Logger
}

func SetupRoutes(router chi.Router, h Handlers, authenticate func(http.Handler) http.Handler, opts Options) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RequestLogger(opts.Logger))
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", h.Health.Health)
	router.Get("/swagger/*", httpSwagger.WrapHandler)

	router.Route("/api", func(r chi.Router) {
		r.Post("/privacy/age-verification", h.Privacy.VerifyAge)
		r.Get("/privacy/parental-consents/{consentID}/confirm", h.Privacy.ConfirmParentalConsent)

		r.Group(func(r chi.Router) {
			r.Use(authenticate)

			r.Post("/session", h.Session.Start)

			r.Get("/db", h.Gateway.Query)
			r.Post("/db", h.Gateway.Mutate)

			r.Get("/events/{eventID}", h.Event.GetEvent)
			r.Post("/events/{eventID}/responses", h.Event.SubmitResponse)

			r.With(middleware.RequireRole(models.RoleCoach, models.RoleAdmin)).Post("/invite-user", h.Invite.InviteUser)

			r.Post("/privacy/parental-consents", h.Privacy.RecordParentalConsent)
			r.Get("/privacy/export", h.Privacy.ExportPersonalData)
			r.Post("/privacy/delete-account", h.Privacy.DeleteAccount)
		})
	})

	router.With(authenticate).Get("/ws/events/{eventID}", h.WebSocket.ServeWs)
}
