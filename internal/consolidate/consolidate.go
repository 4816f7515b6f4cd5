// Package consolidate flattens per-media candidate lists into the single
// selectable review list.
package consolidate

import (
	"github.com/akazmin/batchlens/internal/models"
)

// Flatten walks the settled queue in submission order and lifts every result
// of every successful item into a ConsolidatedResult. Items the user likely
// does not own yet start selected; presumed-owned duplicates start
// deselected. Pure and deterministic: the same queue always yields the same
// list in the same order.
func Flatten(queue []*models.QueuedMedia) []models.ConsolidatedResult {
	var out []models.ConsolidatedResult
	for index, media := range queue {
		if media.Status != models.StatusSuccess {
			continue
		}
		for _, result := range media.Results {
			out = append(out, models.ConsolidatedResult{
				AnalysisResult: result,
				MediaID:        media.ID,
				MediaIndex:     index,
				IsSelected:     !result.IsDuplicate,
			})
		}
	}
	return out
}
