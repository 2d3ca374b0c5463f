package locations

import "github.com/go-chi/chi/v5"

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/default", h.ShowDefault)
	r.Get("/{id}", h.Show)
	r.Put("/{id}", h.Update)
	r.Patch("/{id}", h.Update)
	r.Post("/{id}/default", h.SetDefault)
	r.Put("/{id}/set-default", h.SetDefault)
	r.Delete("/{id}", h.Delete)
}
