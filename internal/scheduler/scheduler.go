// Package scheduler drives the media queue through analysis with a fixed
// concurrency ceiling. The queue is processed in consecutive chunks of at
// most Concurrency items; within a chunk every item runs concurrently, and
// the next chunk does not start until every call in the current one has
// settled and its writes are applied. Cancellation is cooperative and
// chunk-granular: in-flight calls always finish and are recorded, trailing
// chunks are never dispatched.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/akazmin/batchlens/internal/models"
)

// DefaultConcurrency is the analysis concurrency window.
const DefaultConcurrency = 3

// Analyzer settles one media item, returning its candidate results or the
// error to record on it.
type Analyzer interface {
	Analyze(ctx context.Context, userID string, media *models.QueuedMedia) ([]models.AnalysisResult, error)
}

// Observer receives pipeline updates. Both callbacks run on the scheduler
// goroutine, before the next chunk starts; implementations that need their
// own pacing should hand the values off to a channel.
type Observer interface {
	// MediaUpdated fires on every status transition with a snapshot of the item.
	MediaUpdated(media models.QueuedMedia)
	// Progress fires after each chunk settles with the cumulative processed count.
	Progress(processed, total int)
}

type Scheduler struct {
	analyzer    Analyzer
	concurrency int
}

func New(analyzer Analyzer, concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scheduler{
		analyzer:    analyzer,
		concurrency: concurrency,
	}
}

type outcome struct {
	results []models.AnalysisResult
	err     error
}

// Run processes queue in place until every item is terminal or ctx is
// canceled between chunks. Items in chunks that never started remain
// pending. Only the calling goroutine writes to the queue; workers report
// through a channel and their results are applied in queue order.
func (s *Scheduler) Run(ctx context.Context, userID string, queue []*models.QueuedMedia, obs Observer) {
	total := len(queue)
	processed := 0

	for start := 0; start < total; start += s.concurrency {
		if ctx.Err() != nil {
			slog.Info("[SCHED] cancellation requested, leaving remaining items pending",
				"processed", processed, "total", total)
			return
		}

		end := start + s.concurrency
		if end > total {
			end = total
		}
		chunk := queue[start:end]

		for _, media := range chunk {
			media.Status = models.StatusAnalyzing
			if obs != nil {
				obs.MediaUpdated(*media)
			}
		}

		type indexed struct {
			pos int
			out outcome
		}
		// A dispatched chunk always finishes: the calls run on a context
		// detached from cancellation, ctx only gates the next chunk.
		callCtx := context.WithoutCancel(ctx)
		settledCh := make(chan indexed, len(chunk))
		for i, media := range chunk {
			go func(pos int, media *models.QueuedMedia) {
				results, err := s.analyzer.Analyze(callCtx, userID, media)
				settledCh <- indexed{pos: pos, out: outcome{results: results, err: err}}
			}(i, media)
		}

		// Wait for the whole chunk; a single item's failure never aborts its
		// siblings.
		settled := make([]outcome, len(chunk))
		for range chunk {
			res := <-settledCh
			settled[res.pos] = res.out
		}

		for i, media := range chunk {
			if settled[i].err != nil {
				media.Status = models.StatusError
				media.ErrorDetail = settled[i].err.Error()
				slog.Warn("[SCHED] media analysis failed", "media", media.ID, "error", settled[i].err)
			} else {
				media.Status = models.StatusSuccess
				media.Results = settled[i].results
			}
			processed++
			if obs != nil {
				obs.MediaUpdated(*media)
			}
		}

		if obs != nil {
			obs.Progress(processed, total)
		}
	}
}
