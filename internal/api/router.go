package api

import (
	"net/http"
	"time"

	"aca_backend/internal/api/handler"
	"aca_backend/internal/api/middleware"
	"aca_backend/internal/app/service"
	"aca_backend/internal/common/security"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
)

type routeRegistrar interface {
	RegisterRoutes(r chi.Router)
}

func NewRouter(
	authService *service.AuthService,
	assignmentService *service.AssignmentService,
	submissionService *service.SubmissionService,
	webhookService *service.WebhookService,
	analyticsService *service.AnalyticsService,
	maxUploadSize int64,
) http.Handler {
	r := chi.NewRouter()

	// Base Middlewares
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))
	r.Use(middleware.CORS)

	// Verifies "Authorization: Bearer T" and stores the outcome in the
	// context; middleware.Authenticator enforces it on protected routes.
	r.Use(jwtauth.Verify(security.TokenAuth, jwtauth.TokenFromHeader))

	handlers := []routeRegistrar{
		handler.NewSystemHandler(),
		handler.NewAuthHandler(authService),
		handler.NewAssignmentHandler(assignmentService),
		handler.NewSubmissionHandler(submissionService, maxUploadSize),
		handler.NewWebhookHandler(webhookService),
		handler.NewAnalyticsHandler(analyticsService),
	}
	mount := func(router chi.Router) {
		for _, h := range handlers {
			h.RegisterRoutes(router)
		}
	}

	// Every route is served both at the root and under /api.
	mount(r)
	r.Route("/api", mount)

	return r
}
