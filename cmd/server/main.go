package main

import (
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/lmittmann/tint"

	"github.com/akazmin/batchlens/internal/analysis"
	"github.com/akazmin/batchlens/internal/api"
	"github.com/akazmin/batchlens/internal/batchstore"
	"github.com/akazmin/batchlens/internal/collection"
	"github.com/akazmin/batchlens/internal/recognition"
	"github.com/akazmin/batchlens/internal/review"
	"github.com/akazmin/batchlens/internal/scheduler"
	"github.com/akazmin/batchlens/internal/storage"
)

func main() {
	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: "15:04:05",
		}),
	)
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	maxUploadSize := os.Getenv("MAX_UPLOAD_SIZE")
	if maxUploadSize == "" {
		maxUploadSize = "268435456"
	}
	maxSize, err := strconv.ParseInt(maxUploadSize, 10, 64)
	if err != nil {
		log.Fatal("Invalid MAX_UPLOAD_SIZE:", err)
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "./batchlens.db"
	}

	imageDir := os.Getenv("IMAGE_DIR")
	if imageDir == "" {
		imageDir = "./images"
	}

	imageBaseURL := os.Getenv("IMAGE_BASE_URL")
	if imageBaseURL == "" {
		imageBaseURL = "http://localhost:" + port + "/images"
	}

	recognizerURL := os.Getenv("RECOGNIZER_URL")
	if recognizerURL == "" {
		recognizerURL = "http://localhost:5000"
	}

	collectionURL := os.Getenv("COLLECTION_URL")
	if collectionURL == "" {
		collectionURL = "http://localhost:6000"
	}
	collectionAPIKey := os.Getenv("COLLECTION_API_KEY")

	concurrency := scheduler.DefaultConcurrency
	if v := os.Getenv("ANALYSIS_CONCURRENCY"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			concurrency = parsed
		}
	}

	localStorage, err := storage.NewLocalStorage(imageDir, imageBaseURL)
	if err != nil {
		log.Fatal("Failed to initialize storage:", err)
	}

	store, err := batchstore.Open(dbPath)
	if err != nil {
		log.Fatal("Failed to initialize batch store:", err)
	}
	defer store.Close()

	recognizer := recognition.NewClient(recognizerURL)
	if err := recognizer.CheckHealth(); err != nil {
		slog.Warn("recognition service not reachable", "url", recognizerURL, "error", err)
	}

	collectionClient := collection.NewClient(collectionURL, collectionAPIKey)
	analyzer := analysis.NewAnalyzer(recognizer, collectionClient)
	sched := scheduler.New(analyzer, concurrency)
	controller := review.NewController(sched, store, collectionClient, localStorage)

	app := &api.App{
		Controller:    controller,
		Storage:       localStorage,
		MaxUploadSize: maxSize,
	}

	router := api.NewRouter(app)

	slog.Info("server starting",
		"port", port,
		"db_path", dbPath,
		"image_dir", imageDir,
		"recognizer_url", recognizerURL,
		"collection_url", collectionURL,
		"concurrency", concurrency,
		"max_upload_size", maxSize)

	if err := http.ListenAndServe(":"+port, router); err != nil {
		log.Fatal(err)
	}
}
