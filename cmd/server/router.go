package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/phrazzld/jobfit-api/internal/api"
	apiMiddleware "github.com/phrazzld/jobfit-api/internal/api/middleware"
)

// setupRouter creates the application router with all routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.NewTraceMiddleware(app.logger))

	taskHandler := api.NewTaskHandler(app.taskService, app.config.Upload.MaxBytes, app.logger)

	var authMiddleware *apiMiddleware.AuthMiddleware
	if app.config.Auth.JWTSecret != "" {
		var err error
		authMiddleware, err = apiMiddleware.NewAuthMiddleware(app.config.Auth.JWTSecret)
		if err != nil {
			// Validated with the rest of the config at load time.
			panic(err)
		}
	}

	r.Route("/api", func(r chi.Router) {
		if authMiddleware != nil {
			r.Use(authMiddleware.Authenticate)
		}
		r.Post("/analyze", taskHandler.SubmitAnalysis)
		r.Get("/results/{id}", taskHandler.GetResult)
		r.Post("/cover-letter/{id}", taskHandler.GenerateCoverLetter)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("failed to write health check response", "error", err)
		}
	})

	return r
}
