/**
 * @description
 * This file sets up the HTTP router for the cagnotte service. It defines the
 * API endpoints, associates them with their corresponding handlers, and
 * applies middleware such as CORS and the owner/internal authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the public pot pages.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// PotRoutes creates and returns the router for the cagnotte service.
func PotRoutes(h *PotHandlers, internalAPIKey string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// The pot pages are served from a separate frontend origin.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Owner-Token"},
		MaxAge:         300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Route("/pots", func(r chi.Router) {
		r.Post("/", h.CreatePotHandler)

		r.Route("/{slug}", func(r chi.Router) {
			r.Get("/", h.GetPotHandler)
			r.Get("/contributions", h.ListContributionsHandler)
			r.Get("/estimate", h.EstimateHandler)
			r.Post("/contribute", h.ContributeHandler)

			// Owner operations accept either the owner token in the request
			// body or an owner badge in the Authorization header; the
			// middleware only annotates the context, the handler decides.
			r.Group(func(r chi.Router) {
				r.Use(OwnerBadgeMiddleware(h.service))
				r.Post("/close", h.ClosePotHandler)
				r.Post("/cycles/close", h.CloseCycleHandler)
				r.Get("/settlement-preview", h.SettlementPreviewHandler)
			})
		})
	})

	// Internal endpoints for service-to-service calls.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))
		r.Post("/internal/cycles/run-due", h.RunDueSettlementsHandler)
	})

	return r
}
