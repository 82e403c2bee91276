/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. AccessLog:  One slog line per request (method, path, status, duration)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the frontend
  5. Auth:       Bearer JWT on every /api route

ROUTE GROUPS:
  /healthz              Liveness, no auth
  /api/timeoff/*        Time-off lifecycle
  /api/chat/*           Chat side-channel
  /api/tasks/*          Task listings

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Bearer verification
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, auth *Authenticator, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()
	auth.Logger = h.Logger

	r.Use(middleware.RequestID)
	r.Use(AccessLog(h.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Healthz)

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/timeoff", func(r chi.Router) {
			r.Post("/", h.CreateTimeOff)
			r.Get("/mine", h.ListMyTimeOff)
			r.Get("/pending", h.ListPending)
			r.Get("/summary", h.Summary)
			r.Get("/{id}/history", h.History)
			r.Post("/{id}/decision", h.Decide)
			r.Post("/{id}/cancel", h.Cancel)
		})

		r.Route("/chat", func(r chi.Router) {
			r.Post("/tasks", h.CreateChatTasks)
			r.Post("/tool-calls", h.HandleToolCall)
		})

		r.Get("/tasks/mine", h.ListMyTasks)
	})

	return r
}

// AccessLog logs every request once it completes.
func AccessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.InfoContext(r.Context(), "http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
