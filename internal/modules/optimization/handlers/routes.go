package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the allocation routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	// Route the original service exposed
	r.Post("/recommend", h.HandleRecommend)

	r.Route("/api/optimizer", func(r chi.Router) {
		r.Post("/recommend", h.HandleRecommend)
		if h.charts != nil {
			r.Post("/recommend/chart", h.HandleRecommendChart)
		}
		r.Get("/strategies", h.HandleStrategies)
	})
}
