package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/akazmin/batchlens/internal/intake"
	"github.com/akazmin/batchlens/internal/review"
	"github.com/akazmin/batchlens/internal/storage"
)

type App struct {
	Controller    *review.Controller
	Storage       storage.Storage
	MaxUploadSize int64
}

func PingHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

func respondJSON(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}

// userID reads the authenticated user from the gateway-injected header.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func reviewErrorStatus(err error) int {
	switch {
	case errors.Is(err, review.ErrNoUsableMedia):
		return http.StatusBadRequest
	case errors.Is(err, review.ErrBatchInProgress), errors.Is(err, review.ErrCommitInProgress):
		return http.StatusConflict
	case errors.Is(err, review.ErrNotReviewing), errors.Is(err, review.ErrNotProcessing):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// SubmitBatchHandler accepts a multipart upload of up to MaxBatch media
// files under the "media" field and starts the analysis pipeline.
func (app *App) SubmitBatchHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		respondError(w, "missing X-User-ID header", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, app.MaxUploadSize)
	if err := r.ParseMultipartForm(app.MaxUploadSize); err != nil {
		respondError(w, "upload too large", http.StatusBadRequest)
		return
	}

	headers := r.MultipartForm.File["media"]
	if len(headers) == 0 {
		respondError(w, "no media files in request", http.StatusBadRequest)
		return
	}

	var files []intake.SubmittedFile
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			respondError(w, "failed to read uploaded file", http.StatusBadRequest)
			return
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			respondError(w, "failed to read uploaded file", http.StatusBadRequest)
			return
		}
		files = append(files, intake.SubmittedFile{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
	}

	status, skipped, err := app.Controller.StartBatch(user, files)
	if err != nil {
		respondError(w, err.Error(), reviewErrorStatus(err))
		return
	}

	respondJSON(w, map[string]any{
		"phase":   status.Phase,
		"queued":  status.Total,
		"skipped": skipped,
	}, http.StatusAccepted)
}

func (app *App) BatchStatusHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		respondError(w, "missing X-User-ID header", http.StatusBadRequest)
		return
	}

	status, err := app.Controller.Status(user)
	if err != nil {
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, status, http.StatusOK)
}

func (app *App) CancelBatchHandler(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		respondError(w, "missing X-User-ID header", http.StatusBadRequest)
		return
	}

	if err := app.Controller.Cancel(user); err != nil {
		respondError(w, err.Error(), reviewErrorStatus(err))
		return
	}
	respondJSON(w, map[string]string{"status": "cancelling"}, http.StatusOK)
}

func (app *App) ImageHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		http.NotFound(w, r)
		return
	}

	file, err := app.Storage.OpenImage(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer file.Close()

	modTime := time.Now()
	if stat, ok := file.(interface{ Stat() (os.FileInfo, error) }); ok {
		if info, err := stat.Stat(); err == nil {
			modTime = info.ModTime()
		}
	}

	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeContent(w, r, name, modTime, file)
}
