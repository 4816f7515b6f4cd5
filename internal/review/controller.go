// Package review owns the selecting -> processing -> reviewing flow for one
// user's batch: it runs the scheduler, consolidates its output, keeps the
// durable copy of the review list in sync, and commits selected items to the
// collection store.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sync"

	"github.com/akazmin/batchlens/internal/batchstore"
	"github.com/akazmin/batchlens/internal/collection"
	"github.com/akazmin/batchlens/internal/consolidate"
	"github.com/akazmin/batchlens/internal/intake"
	"github.com/akazmin/batchlens/internal/models"
	"github.com/akazmin/batchlens/internal/scheduler"
	"github.com/akazmin/batchlens/internal/storage"
)

// Phase is the top-level state of a user's batch flow.
type Phase string

const (
	// PhaseSelecting means no batch is in flight; new submissions are accepted.
	PhaseSelecting Phase = "selecting"
	// PhaseProcessing means the scheduler is running; submissions are rejected.
	PhaseProcessing Phase = "processing"
	// PhaseReviewing means the consolidated list is awaiting commit or discard.
	PhaseReviewing Phase = "reviewing"
)

// Filter narrows the review view without mutating the underlying list.
type Filter string

const (
	FilterAll        Filter = "all"
	FilterNew        Filter = "new"
	FilterDuplicates Filter = "duplicates"
)

var (
	ErrBatchInProgress  = errors.New("a batch is already in progress")
	ErrCommitInProgress = errors.New("a commit is already in progress")
	ErrNotReviewing     = errors.New("no batch is awaiting review")
	ErrNotProcessing    = errors.New("no batch is processing")
	ErrNoUsableMedia    = errors.New("no usable media in submission")
)

// Update is one event on a session's stream.
type Update struct {
	Type string
	Data any
}

// Session tracks one user's batch. Fields are guarded by the controller
// mutex; handlers receive copies, never live references.
type Session struct {
	UserID  string
	Phase   Phase
	Queue   []*models.QueuedMedia
	Results []models.ConsolidatedResult
	// ItemStates are payload-stripped snapshots of the queue, maintained by
	// the observer so status reads never touch the live queue the scheduler
	// is writing to.
	ItemStates []models.QueuedMedia
	Processed  int
	Total      int
	Updates    chan Update
	cancel     context.CancelFunc
	committing bool
}

type Controller struct {
	sched   *scheduler.Scheduler
	store   *batchstore.Store
	coll    collection.Store
	storage storage.Storage

	sessionsMu sync.Mutex
	sessions   map[string]*Session
}

func NewController(sched *scheduler.Scheduler, store *batchstore.Store, coll collection.Store, stor storage.Storage) *Controller {
	return &Controller{
		sched:    sched,
		store:    store,
		coll:     coll,
		storage:  stor,
		sessions: make(map[string]*Session),
	}
}

func slotFor(userID string) string {
	return "batch:" + userID
}

// session returns the user's session, creating it on first sight. A fresh
// session resumes straight into reviewing when a non-expired stored batch
// exists, skipping re-analysis.
func (c *Controller) session(userID string) (*Session, error) {
	if session, ok := c.sessions[userID]; ok {
		return session, nil
	}

	session := &Session{
		UserID: userID,
		Phase:  PhaseSelecting,
	}

	stored, err := c.store.Load(slotFor(userID))
	if err != nil {
		return nil, fmt.Errorf("loading stored batch: %w", err)
	}
	if stored != nil && len(stored.Results) > 0 {
		slog.Info("[REVIEW] resuming stored batch", "user", userID, "results", len(stored.Results))
		session.Phase = PhaseReviewing
		session.Results = stored.Results
	}

	c.sessions[userID] = session
	return session, nil
}

// Status is the snapshot handed to callers.
type Status struct {
	Phase     Phase                `json:"phase"`
	Processed int                  `json:"processed"`
	Total     int                  `json:"total"`
	Items     []models.QueuedMedia `json:"items,omitempty"`
}

func (c *Controller) Status(userID string) (*Status, error) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()

	session, err := c.session(userID)
	if err != nil {
		return nil, err
	}

	return &Status{
		Phase:     session.Phase,
		Processed: session.Processed,
		Total:     session.Total,
		Items:     append([]models.QueuedMedia(nil), session.ItemStates...),
	}, nil
}

// StartBatch validates files, builds the queue and launches the pipeline.
// Rejected when the user already has a batch processing or under review.
func (c *Controller) StartBatch(userID string, files []intake.SubmittedFile) (*Status, []intake.SkipNotice, error) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()

	session, err := c.session(userID)
	if err != nil {
		return nil, nil, err
	}
	if session.Phase != PhaseSelecting {
		return nil, nil, ErrBatchInProgress
	}

	queue, skipped := intake.BuildQueue(files)
	if len(queue) == 0 {
		return nil, skipped, ErrNoUsableMedia
	}

	ctx, cancel := context.WithCancel(context.Background())
	session.Phase = PhaseProcessing
	session.Queue = queue
	session.Results = nil
	session.ItemStates = make([]models.QueuedMedia, len(queue))
	for i, media := range queue {
		snapshot := *media
		snapshot.Payload = nil
		session.ItemStates[i] = snapshot
	}
	session.Processed = 0
	session.Total = len(queue)
	session.Updates = make(chan Update, 100)
	session.cancel = cancel

	slog.Info("[REVIEW] starting batch", "user", userID, "queued", len(queue), "skipped", len(skipped))
	go c.runPipeline(ctx, session)

	return &Status{Phase: session.Phase, Total: session.Total}, skipped, nil
}

// sessionObserver forwards scheduler updates onto the session stream. The
// channel is sized so a batch can never fill it, keeping the scheduler from
// blocking on a slow or absent stream reader.
type sessionObserver struct {
	controller *Controller
	session    *Session
}

func (o *sessionObserver) MediaUpdated(media models.QueuedMedia) {
	media.Payload = nil

	o.controller.sessionsMu.Lock()
	for i := range o.session.ItemStates {
		if o.session.ItemStates[i].ID == media.ID {
			o.session.ItemStates[i] = media
			break
		}
	}
	o.controller.sessionsMu.Unlock()

	o.send(Update{Type: "media", Data: media})
}

func (o *sessionObserver) Progress(processed, total int) {
	o.controller.sessionsMu.Lock()
	o.session.Processed = processed
	o.controller.sessionsMu.Unlock()

	o.send(Update{Type: "progress", Data: map[string]int{
		"processed": processed,
		"total":     total,
	}})
}

func (o *sessionObserver) send(update Update) {
	select {
	case o.session.Updates <- update:
	default:
		slog.Warn("[REVIEW] dropping update, stream buffer full", "user", o.session.UserID, "type", update.Type)
	}
}

func (c *Controller) runPipeline(ctx context.Context, session *Session) {
	defer close(session.Updates)

	c.sched.Run(ctx, session.UserID, session.Queue, &sessionObserver{controller: c, session: session})

	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()

	results := consolidate.Flatten(session.Queue)
	if err := c.store.Save(slotFor(session.UserID), results); err != nil {
		slog.Error("[REVIEW] failed to persist consolidated batch", "user", session.UserID, "error", err)
	}

	session.Results = results
	if len(results) == 0 && ctx.Err() != nil {
		// Canceled before anything usable settled; nothing to review.
		session.Phase = PhaseSelecting
	} else {
		session.Phase = PhaseReviewing
	}

	update := Update{Type: "complete", Data: map[string]any{
		"phase":   session.Phase,
		"results": len(results),
	}}
	select {
	case session.Updates <- update:
	default:
	}

	slog.Info("[REVIEW] batch settled", "user", session.UserID, "results", len(results), "phase", session.Phase)
}

// Cancel stops the running batch at the next chunk boundary. In-flight
// analyses finish and are still recorded.
func (c *Controller) Cancel(userID string) error {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()

	session, err := c.session(userID)
	if err != nil {
		return err
	}
	if session.Phase != PhaseProcessing || session.cancel == nil {
		return ErrNotProcessing
	}

	slog.Info("[REVIEW] cancel requested", "user", userID)
	session.cancel()
	return nil
}

// Stream hands out the update channel for the in-flight batch.
func (c *Controller) Stream(userID string) (<-chan Update, error) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()

	session, err := c.session(userID)
	if err != nil {
		return nil, err
	}
	if session.Updates == nil {
		return nil, ErrNotProcessing
	}
	return session.Updates, nil
}

// Results returns a filtered copy of the review list. Filtering never
// mutates the underlying list; indices used by Toggle always refer to the
// unfiltered list.
func (c *Controller) Results(userID string, filter Filter) ([]models.ConsolidatedResult, error) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()

	session, err := c.session(userID)
	if err != nil {
		return nil, err
	}
	if session.Phase != PhaseReviewing {
		return nil, ErrNotReviewing
	}

	var out []models.ConsolidatedResult
	for _, result := range session.Results {
		switch filter {
		case FilterNew:
			if result.IsDuplicate {
				continue
			}
		case FilterDuplicates:
			if !result.IsDuplicate {
				continue
			}
		}
		out = append(out, result)
	}
	return out, nil
}

// Toggle flips selection on the result at index (into the unfiltered list)
// and writes the new state through to the store.
func (c *Controller) Toggle(userID string, index int) error {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()

	session, err := c.session(userID)
	if err != nil {
		return err
	}
	if session.Phase != PhaseReviewing {
		return ErrNotReviewing
	}
	if session.committing {
		return ErrCommitInProgress
	}
	if index < 0 || index >= len(session.Results) {
		return fmt.Errorf("result index %d out of range", index)
	}

	session.Results[index].IsSelected = !session.Results[index].IsSelected
	return c.store.Save(slotFor(userID), session.Results)
}

func (c *Controller) SelectAll(userID string) error {
	return c.setAll(userID, true)
}

func (c *Controller) DeselectAll(userID string) error {
	return c.setAll(userID, false)
}

func (c *Controller) setAll(userID string, selected bool) error {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()

	session, err := c.session(userID)
	if err != nil {
		return err
	}
	if session.Phase != PhaseReviewing {
		return ErrNotReviewing
	}
	if session.committing {
		return ErrCommitInProgress
	}

	for i := range session.Results {
		session.Results[i].IsSelected = selected
	}
	return c.store.Save(slotFor(userID), session.Results)
}

// CommitSummary reports how the commit went per item.
type CommitSummary struct {
	Committed int `json:"committed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// Commit persists every selected result as a new collection entry, uploading
// its image first when there is no existing one to reuse. Commit is
// best-effort per item: one failure is logged and skipped, the rest are
// still attempted. Afterwards the stored batch is cleared and the session
// returns to selecting regardless of per-item failures.
//
// The session lock is only held to snapshot the list and to reset the
// session afterwards; uploads and store calls run unlocked so one user's
// slow commit never stalls other users' requests. Selection mutations are
// rejected while the commit is in flight.
func (c *Controller) Commit(ctx context.Context, userID string) (*CommitSummary, error) {
	c.sessionsMu.Lock()
	session, err := c.session(userID)
	if err != nil {
		c.sessionsMu.Unlock()
		return nil, err
	}
	if session.Phase != PhaseReviewing {
		c.sessionsMu.Unlock()
		return nil, ErrNotReviewing
	}
	if session.committing {
		c.sessionsMu.Unlock()
		return nil, ErrCommitInProgress
	}
	session.committing = true
	results := append([]models.ConsolidatedResult(nil), session.Results...)
	c.sessionsMu.Unlock()

	summary := &CommitSummary{}
	for i := range results {
		result := &results[i]
		if !result.IsSelected {
			summary.Skipped++
			continue
		}

		imageURL := result.ExistingItemImage
		uploadedName := ""
		if imageURL == "" && len(result.CroppedImage) > 0 {
			uploaded, err := c.storage.UploadImage(result.CroppedImage, storage.ImageInfo{
				Filename:    result.MediaID + ".jpg",
				ContentType: "image/jpeg",
			})
			if err != nil {
				slog.Warn("[REVIEW] image upload failed, skipping item",
					"user", userID, "media", result.MediaID, "error", err)
				summary.Failed++
				continue
			}
			imageURL = uploaded
			uploadedName = path.Base(uploaded)
		}

		if _, err := c.coll.Create(ctx, userID, result.Identification, imageURL); err != nil {
			slog.Warn("[REVIEW] failed to commit item",
				"user", userID, "item", result.Identification.Key(), "error", err)
			// The entry never made it to the collection, so its freshly
			// uploaded image is an orphan.
			if uploadedName != "" {
				if delErr := c.storage.DeleteImage(uploadedName); delErr != nil {
					slog.Warn("[REVIEW] failed to remove orphaned image",
						"user", userID, "image", uploadedName, "error", delErr)
				}
			}
			summary.Failed++
			continue
		}
		summary.Committed++
	}

	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	session.committing = false

	if err := c.store.Clear(slotFor(userID)); err != nil {
		return nil, fmt.Errorf("clearing stored batch: %w", err)
	}
	c.reset(session)

	slog.Info("[REVIEW] commit finished", "user", userID,
		"committed", summary.Committed, "failed", summary.Failed, "skipped", summary.Skipped)
	return summary, nil
}

// Discard abandons the review, clears the stored batch and returns to
// selecting. A user who simply navigates away without discarding keeps the
// stored batch for later resumption.
func (c *Controller) Discard(userID string) error {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()

	session, err := c.session(userID)
	if err != nil {
		return err
	}
	if session.Phase != PhaseReviewing {
		return ErrNotReviewing
	}
	if session.committing {
		return ErrCommitInProgress
	}

	if err := c.store.Clear(slotFor(userID)); err != nil {
		return fmt.Errorf("clearing stored batch: %w", err)
	}
	c.reset(session)

	slog.Info("[REVIEW] batch discarded", "user", userID)
	return nil
}

func (c *Controller) reset(session *Session) {
	session.Phase = PhaseSelecting
	session.Queue = nil
	session.Results = nil
	session.ItemStates = nil
	session.Processed = 0
	session.Total = 0
	session.Updates = nil
	session.cancel = nil
}
