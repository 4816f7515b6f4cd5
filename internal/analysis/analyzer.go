// Package analysis runs a single queued media item through the recognition
// service and enriches each candidate with a cropped image and a
// duplicate-lookup result.
package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/akazmin/batchlens/internal/collection"
	"github.com/akazmin/batchlens/internal/models"
	"github.com/akazmin/batchlens/internal/recognition"
)

type Analyzer struct {
	recognizer recognition.Recognizer
	collection collection.Store
}

func NewAnalyzer(recognizer recognition.Recognizer, store collection.Store) *Analyzer {
	return &Analyzer{
		recognizer: recognizer,
		collection: store,
	}
}

// Analyze returns zero or more candidate results for one media item. A media
// item that produces nothing (wrong subject, poor quality, no candidates) is
// a normal outcome and yields an empty list, not an error. Only a failure of
// the recognition call itself is an error.
func (a *Analyzer) Analyze(ctx context.Context, userID string, media *models.QueuedMedia) ([]models.AnalysisResult, error) {
	resp, err := a.recognizer.Recognize(ctx, media.Payload, media.Filename)
	if err != nil {
		return nil, fmt.Errorf("recognizing media %s: %w", media.ID, err)
	}

	if resp.SubjectMismatch || resp.QualityIssue || !resp.Identified || len(resp.Items) == 0 {
		slog.Info("[ANALYZE] no candidates for media",
			"media", media.ID,
			"subject_mismatch", resp.SubjectMismatch,
			"quality_issue", resp.QualityIssue)
		return []models.AnalysisResult{}, nil
	}

	results := make([]models.AnalysisResult, 0, len(resp.Items))
	for _, candidate := range resp.Items {
		result := models.AnalysisResult{
			Identification: candidate.Identification(),
		}

		// Videos skip cropping entirely; still images without a bounding box
		// keep the whole frame as the candidate image.
		if !media.IsVideo {
			result.CroppedImage = media.Payload
			if candidate.BoundingBox != nil {
				result.BoundingBox = candidate.BoundingBox
				cropped, err := CropByBoundingBox(media.Payload, *candidate.BoundingBox)
				if err != nil {
					slog.Warn("[ANALYZE] crop failed, keeping full image", "media", media.ID, "error", err)
				} else {
					result.CroppedImage = cropped
				}
			}
		}

		dup, err := a.collection.CheckDuplicate(ctx, userID, result.Identification)
		if err != nil {
			// Fail open: an unreachable collection store must not block the
			// candidate, it just loses the owned-already flag.
			slog.Warn("[ANALYZE] duplicate lookup failed", "media", media.ID, "error", err)
		} else if dup != nil {
			result.IsDuplicate = dup.IsDuplicate
			result.ExistingItemImage = dup.ExistingImage
		}

		results = append(results, result)
	}

	return results, nil
}
