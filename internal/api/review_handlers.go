package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/akazmin/batchlens/internal/review"
)

// BatchEventsHandler streams scheduler updates for the in-flight batch as
// server-sent events. The stream closes when the pipeline settles.
func (app *App) BatchEventsHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		respondError(w, "missing X-User-ID header", http.StatusBadRequest)
		return
	}

	updates, err := app.Controller.Stream(user)
	if err != nil {
		respondError(w, err.Error(), reviewErrorStatus(err))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	clientGone := r.Context().Done()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}

			data, err := json.Marshal(update.Data)
			if err != nil {
				slog.Error("[API] failed to marshal update", "error", err)
				continue
			}

			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", update.Type, string(data))
			flusher.Flush()

		case <-clientGone:
			return
		}
	}
}

func (app *App) ReviewListHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		respondError(w, "missing X-User-ID header", http.StatusBadRequest)
		return
	}

	filter := review.Filter(r.URL.Query().Get("filter"))
	if filter == "" {
		filter = review.FilterAll
	}

	results, err := app.Controller.Results(user, filter)
	if err != nil {
		respondError(w, err.Error(), reviewErrorStatus(err))
		return
	}

	respondJSON(w, map[string]any{
		"filter":  filter,
		"count":   len(results),
		"results": results,
	}, http.StatusOK)
}

func (app *App) ToggleHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		respondError(w, "missing X-User-ID header", http.StatusBadRequest)
		return
	}

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		respondError(w, "invalid result index", http.StatusBadRequest)
		return
	}

	if err := app.Controller.Toggle(user, index); err != nil {
		respondError(w, err.Error(), reviewErrorStatus(err))
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (app *App) SelectAllHandler(w http.ResponseWriter, r *http.Request) {
	app.setAllHandler(w, r, true)
}

func (app *App) DeselectAllHandler(w http.ResponseWriter, r *http.Request) {
	app.setAllHandler(w, r, false)
}

func (app *App) setAllHandler(w http.ResponseWriter, r *http.Request, selected bool) {
	user := userID(r)
	if user == "" {
		respondError(w, "missing X-User-ID header", http.StatusBadRequest)
		return
	}

	var err error
	if selected {
		err = app.Controller.SelectAll(user)
	} else {
		err = app.Controller.DeselectAll(user)
	}
	if err != nil {
		respondError(w, err.Error(), reviewErrorStatus(err))
		return
	}
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (app *App) CommitHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		respondError(w, "missing X-User-ID header", http.StatusBadRequest)
		return
	}

	summary, err := app.Controller.Commit(r.Context(), user)
	if err != nil {
		respondError(w, err.Error(), reviewErrorStatus(err))
		return
	}
	respondJSON(w, summary, http.StatusOK)
}

func (app *App) DiscardHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		respondError(w, "missing X-User-ID header", http.StatusBadRequest)
		return
	}

	if err := app.Controller.Discard(user); err != nil {
		respondError(w, err.Error(), reviewErrorStatus(err))
		return
	}
	respondJSON(w, map[string]string{"status": "discarded"}, http.StatusOK)
}
