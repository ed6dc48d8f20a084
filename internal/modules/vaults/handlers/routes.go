package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes mounts the vault API.
func (h *VaultHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/vaults", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.ListByOwner)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/deposit", h.Deposit)
		r.Post("/{id}/cancel", h.Cancel)
		r.Post("/{id}/fix-amounts", h.FixAmounts)
		r.Get("/{id}/events", h.Events)
		r.Get("/{id}/data-fixes", h.DataFixes)
	})
}
