// Package intake validates a user-picked file list and turns it into the
// in-memory analysis queue. No network calls happen here.
package intake

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/akazmin/batchlens/internal/models"
)

const (
	// MaxBatch is the largest number of media items accepted per submission.
	MaxBatch = 10
	// MaxVideoSize caps individual video uploads at 20 MB.
	MaxVideoSize = 20 * 1024 * 1024
)

type SubmittedFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SkipNotice tells the user why one of their files was not queued.
type SkipNotice struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".heic": true,
}

var videoExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".webm": true,
}

// BuildQueue applies the batch limits to files and returns queued media in
// submission order plus a notice for every file that was dropped. Rejected
// files never abort the rest of the batch.
func BuildQueue(files []SubmittedFile) ([]*models.QueuedMedia, []SkipNotice) {
	var queue []*models.QueuedMedia
	var skipped []SkipNotice

	for _, file := range files {
		if len(queue) >= MaxBatch {
			skipped = append(skipped, SkipNotice{
				Filename: file.Filename,
				Reason:   fmt.Sprintf("batch limit of %d items reached", MaxBatch),
			})
			continue
		}

		isImage, isVideo := classify(file)
		if !isImage && !isVideo {
			skipped = append(skipped, SkipNotice{
				Filename: file.Filename,
				Reason:   "unsupported file type",
			})
			slog.Info("[INTAKE] skipping unsupported file", "filename", file.Filename, "content_type", file.ContentType)
			continue
		}

		if isVideo && int64(len(file.Data)) > MaxVideoSize {
			skipped = append(skipped, SkipNotice{
				Filename: file.Filename,
				Reason:   fmt.Sprintf("video exceeds %d MB limit", MaxVideoSize/(1024*1024)),
			})
			slog.Info("[INTAKE] skipping oversized video", "filename", file.Filename, "size", len(file.Data))
			continue
		}

		queue = append(queue, models.NewQueuedMedia(len(queue), file.Filename, file.ContentType, file.Data, isVideo))
	}

	return queue, skipped
}

func classify(file SubmittedFile) (isImage, isVideo bool) {
	switch {
	case strings.HasPrefix(file.ContentType, "image/"):
		return true, false
	case strings.HasPrefix(file.ContentType, "video/"):
		return false, true
	}

	// Some clients send application/octet-stream; fall back to the extension.
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if imageExtensions[ext] {
		return true, false
	}
	if videoExtensions[ext] {
		return false, true
	}
	return false, false
}
