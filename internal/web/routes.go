package web

import (
	"github.com/go-chi/chi/v5"

	"github.com/photostacks/photostacks/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	stacksHandler := handlers.NewStacksHandler(s.store, s.photos, s.stacks, &s.config.StackRules, s.jobManager)
	embeddingsHandler := handlers.NewEmbeddingsHandler(s.store)
	searchHandler := handlers.NewSearchHandler(s.store, s.registry, "clip")
	statsHandler := handlers.NewStatsHandler(s.store)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/projects/{projectID}", func(r chi.Router) {
			// Stacks
			r.Get("/stacks", stacksHandler.List)
			r.Post("/stacks/generate", stacksHandler.Generate)
			r.Delete("/stacks", stacksHandler.Clear)

			// Embeddings
			r.Get("/embeddings/stats", embeddingsHandler.ProjectStats)
			r.Get("/embeddings/stale", embeddingsHandler.Stale)
			r.Delete("/embeddings/stale", embeddingsHandler.InvalidateStale)

			// Similarity search
			r.Post("/search/text", searchHandler.SearchByText)
			r.Post("/search/similar", searchHandler.FindSimilar)
		})

		// Generation jobs (long-running operations)
		r.Get("/jobs/{jobId}", stacksHandler.Status)
		r.Get("/jobs/{jobId}/events", stacksHandler.Events)
		r.Delete("/jobs/{jobId}", stacksHandler.CancelJob)

		// Maintenance
		r.Post("/embeddings/migrate-half", embeddingsHandler.MigrateHalf)

		// Stats
		r.Get("/stats", statsHandler.Get)
	})
}
