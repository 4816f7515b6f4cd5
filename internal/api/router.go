package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(app *App) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)

	r.Route("/batch", func(r chi.Router) {
		r.Post("/", app.SubmitBatchHandler)
		r.Get("/status", app.BatchStatusHandler)
		r.Get("/events", app.BatchEventsHandler)
		r.Post("/cancel", app.CancelBatchHandler)
	})

	r.Route("/review", func(r chi.Router) {
		r.Get("/", app.ReviewListHandler)
		r.Post("/toggle/{index}", app.ToggleHandler)
		r.Post("/select-all", app.SelectAllHandler)
		r.Post("/deselect-all", app.DeselectAllHandler)
		r.Post("/commit", app.CommitHandler)
		r.Post("/discard", app.DiscardHandler)
	})

	r.Get("/images/{name}", app.ImageHandler)

	return r
}
