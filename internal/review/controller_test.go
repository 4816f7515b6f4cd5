package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/akazmin/batchlens/internal/batchstore"
	"github.com/akazmin/batchlens/internal/collection"
	"github.com/akazmin/batchlens/internal/intake"
	"github.com/akazmin/batchlens/internal/models"
	"github.com/akazmin/batchlens/internal/scheduler"
	"github.com/akazmin/batchlens/internal/storage"
)

// fakeAnalyzer returns canned results keyed by filename.
type fakeAnalyzer struct {
	mu        sync.Mutex
	resultsBy map[string][]models.AnalysisResult
	failFiles map[string]bool
	delay     time.Duration
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, userID string, media *models.QueuedMedia) ([]models.AnalysisResult, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFiles[media.Filename] {
		return nil, errors.New("analysis failed")
	}
	if results, ok := f.resultsBy[media.Filename]; ok {
		return results, nil
	}
	return []models.AnalysisResult{}, nil
}

type fakeCollection struct {
	mu        sync.Mutex
	created   []models.Identification
	imageURLs []string
	failOn    map[string]bool
	onCreate  func()
}

func (f *fakeCollection) CheckDuplicate(ctx context.Context, userID string, item models.Identification) (*collection.DuplicateResult, error) {
	return &collection.DuplicateResult{}, nil
}

func (f *fakeCollection) Create(ctx context.Context, userID string, item models.Identification, imageURL string) (*collection.Entry, error) {
	if f.onCreate != nil {
		f.onCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[item.Key()] {
		return nil, errors.New("store rejected item")
	}
	f.created = append(f.created, item)
	f.imageURLs = append(f.imageURLs, imageURL)
	return &collection.Entry{ID: "entry"}, nil
}

type fakeStorage struct {
	mu      sync.Mutex
	uploads int
	deleted []string
	fail    bool
}

func (f *fakeStorage) UploadImage(data []byte, info storage.ImageInfo) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("upload failed")
	}
	f.uploads++
	return fmt.Sprintf("http://img/%s", info.Filename), nil
}

func (f *fakeStorage) OpenImage(name string) (io.ReadSeekCloser, error) {
	return nil, errors.New("not found")
}

func (f *fakeStorage) DeleteImage(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return nil
}

func newResult(brand string, duplicate bool) models.AnalysisResult {
	result := models.AnalysisResult{
		Identification: models.Identification{Brand: brand, Model: "Test", Year: 2020},
		IsDuplicate:    duplicate,
		CroppedImage:   []byte("jpeg"),
	}
	if duplicate {
		result.ExistingItemImage = "http://img/existing.jpg"
	}
	return result
}

type fixture struct {
	controller *Controller
	store      *batchstore.Store
	coll       *fakeCollection
	storage    *fakeStorage
}

func setup(t *testing.T, analyzer scheduler.Analyzer) *fixture {
	t.Helper()
	return setupWithStore(t, analyzer, openStore(t))
}

func openStore(t *testing.T) *batchstore.Store {
	t.Helper()
	store, err := batchstore.Open(filepath.Join(t.TempDir(), "review.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func setupWithStore(t *testing.T, analyzer scheduler.Analyzer, store *batchstore.Store) *fixture {
	t.Helper()
	coll := &fakeCollection{}
	stor := &fakeStorage{}
	controller := NewController(scheduler.New(analyzer, 3), store, coll, stor)
	return &fixture{controller: controller, store: store, coll: coll, storage: stor}
}

func imageFiles(names ...string) []intake.SubmittedFile {
	var files []intake.SubmittedFile
	for _, name := range names {
		files = append(files, intake.SubmittedFile{
			Filename:    name,
			ContentType: "image/jpeg",
			Data:        []byte("data"),
		})
	}
	return files
}

func waitForPhase(t *testing.T, c *Controller, userID string, phase Phase) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, err := c.Status(userID)
		if err != nil {
			t.Fatalf("status failed: %v", err)
		}
		if status.Phase == phase {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for phase %s", phase)
}

func TestFullBatchFlow(t *testing.T) {
	analyzer := &fakeAnalyzer{resultsBy: map[string][]models.AnalysisResult{
		"a.jpg": {newResult("Hot Wheels", false), newResult("Matchbox", false)},
		"b.jpg": {newResult("Majorette", true)},
	}}
	f := setup(t, analyzer)

	status, skipped, err := f.controller.StartBatch("u1", imageFiles("a.jpg", "b.jpg", "c.jpg"))
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if len(skipped) != 0 {
		t.Errorf("unexpected skips: %v", skipped)
	}
	if status.Phase != PhaseProcessing || status.Total != 3 {
		t.Errorf("unexpected start status: %+v", status)
	}

	waitForPhase(t, f.controller, "u1", PhaseReviewing)

	results, err := f.controller.Results("u1", FilterAll)
	if err != nil {
		t.Fatalf("results failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 consolidated results, got %d", len(results))
	}
	if !results[0].IsSelected || !results[1].IsSelected {
		t.Error("non-duplicates should start selected")
	}
	if results[2].IsSelected {
		t.Error("duplicate should start deselected")
	}

	// The consolidated list is durable before any user interaction.
	stored, err := f.store.Load("batch:u1")
	if err != nil || stored == nil {
		t.Fatalf("expected stored batch, got %v (%v)", stored, err)
	}
	if len(stored.Results) != 3 {
		t.Errorf("expected 3 stored results, got %d", len(stored.Results))
	}
}

func TestStartBatchRejectedWhileBusy(t *testing.T) {
	analyzer := &fakeAnalyzer{delay: 50 * time.Millisecond}
	f := setup(t, analyzer)

	if _, _, err := f.controller.StartBatch("u1", imageFiles("a.jpg")); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if _, _, err := f.controller.StartBatch("u1", imageFiles("b.jpg")); !errors.Is(err, ErrBatchInProgress) {
		t.Errorf("expected ErrBatchInProgress, got %v", err)
	}
}

func TestStartBatchNothingUsable(t *testing.T) {
	f := setup(t, &fakeAnalyzer{})

	_, skipped, err := f.controller.StartBatch("u1", []intake.SubmittedFile{
		{Filename: "notes.txt", ContentType: "text/plain", Data: []byte("x")},
	})
	if !errors.Is(err, ErrNoUsableMedia) {
		t.Fatalf("expected ErrNoUsableMedia, got %v", err)
	}
	if len(skipped) != 1 {
		t.Errorf("expected 1 skip notice, got %d", len(skipped))
	}
}

func TestResumeFromStoredBatch(t *testing.T) {
	store := openStore(t)
	results := []models.ConsolidatedResult{
		{AnalysisResult: newResult("Hot Wheels", false), MediaID: "m0", IsSelected: true},
	}
	if err := store.Save("batch:u1", results); err != nil {
		t.Fatalf("seeding store failed: %v", err)
	}

	// A fresh controller (fresh process) finds the batch and skips analysis.
	f := setupWithStore(t, &fakeAnalyzer{}, store)

	status, err := f.controller.Status("u1")
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Phase != PhaseReviewing {
		t.Fatalf("expected resumed session in reviewing, got %s", status.Phase)
	}

	loaded, err := f.controller.Results("u1", FilterAll)
	if err != nil {
		t.Fatalf("results failed: %v", err)
	}
	if len(loaded) != 1 || loaded[0].Identification.Brand != "Hot Wheels" {
		t.Errorf("unexpected resumed results: %+v", loaded)
	}
}

func TestToggleWritesThrough(t *testing.T) {
	analyzer := &fakeAnalyzer{resultsBy: map[string][]models.AnalysisResult{
		"a.jpg": {newResult("Hot Wheels", false)},
	}}
	f := setup(t, analyzer)

	f.controller.StartBatch("u1", imageFiles("a.jpg"))
	waitForPhase(t, f.controller, "u1", PhaseReviewing)

	if err := f.controller.Toggle("u1", 0); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}

	stored, err := f.store.Load("batch:u1")
	if err != nil || stored == nil {
		t.Fatalf("expected stored batch: %v", err)
	}
	if stored.Results[0].IsSelected {
		t.Error("toggle must write deselection through to the store")
	}

	if err := f.controller.Toggle("u1", 5); err == nil {
		t.Error("expected error for out-of-range index")
	}
}

func TestSelectAllAndDeselectAll(t *testing.T) {
	analyzer := &fakeAnalyzer{resultsBy: map[string][]models.AnalysisResult{
		"a.jpg": {newResult("A", false), newResult("B", true)},
	}}
	f := setup(t, analyzer)

	f.controller.StartBatch("u1", imageFiles("a.jpg"))
	waitForPhase(t, f.controller, "u1", PhaseReviewing)

	if err := f.controller.SelectAll("u1"); err != nil {
		t.Fatalf("select-all failed: %v", err)
	}
	results, _ := f.controller.Results("u1", FilterAll)
	for i, result := range results {
		if !result.IsSelected {
			t.Errorf("result %d not selected after select-all", i)
		}
	}

	if err := f.controller.DeselectAll("u1"); err != nil {
		t.Fatalf("deselect-all failed: %v", err)
	}
	results, _ = f.controller.Results("u1", FilterAll)
	for i, result := range results {
		if result.IsSelected {
			t.Errorf("result %d still selected after deselect-all", i)
		}
	}
}

func TestFiltersArePresentationOnly(t *testing.T) {
	analyzer := &fakeAnalyzer{resultsBy: map[string][]models.AnalysisResult{
		"a.jpg": {newResult("New1", false), newResult("Owned", true), newResult("New2", false)},
	}}
	f := setup(t, analyzer)

	f.controller.StartBatch("u1", imageFiles("a.jpg"))
	waitForPhase(t, f.controller, "u1", PhaseReviewing)

	newOnly, _ := f.controller.Results("u1", FilterNew)
	if len(newOnly) != 2 {
		t.Errorf("expected 2 new results, got %d", len(newOnly))
	}
	dupOnly, _ := f.controller.Results("u1", FilterDuplicates)
	if len(dupOnly) != 1 {
		t.Errorf("expected 1 duplicate result, got %d", len(dupOnly))
	}
	all, _ := f.controller.Results("u1", FilterAll)
	if len(all) != 3 {
		t.Errorf("filtering must not mutate the underlying list, got %d", len(all))
	}
}

func TestCommitBestEffort(t *testing.T) {
	analyzer := &fakeAnalyzer{resultsBy: map[string][]models.AnalysisResult{
		"a.jpg": {newResult("Good", false), newResult("Bad", false), newResult("Owned", true)},
	}}
	f := setup(t, analyzer)
	f.coll.failOn = map[string]bool{
		models.Identification{Brand: "Bad", Model: "Test", Year: 2020}.Key(): true,
	}

	f.controller.StartBatch("u1", imageFiles("a.jpg"))
	waitForPhase(t, f.controller, "u1", PhaseReviewing)

	// Select the duplicate too so all three are attempted-or-skipped knowingly.
	if err := f.controller.Toggle("u1", 2); err != nil {
		t.Fatalf("toggle failed: %v", err)
	}

	summary, err := f.controller.Commit(context.Background(), "u1")
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if summary.Committed != 2 {
		t.Errorf("expected 2 committed, got %d", summary.Committed)
	}
	if summary.Failed != 1 {
		t.Errorf("expected 1 failed, got %d", summary.Failed)
	}

	// Duplicate reuses its existing image instead of uploading a new one.
	f.storage.mu.Lock()
	uploads := f.storage.uploads
	deleted := len(f.storage.deleted)
	f.storage.mu.Unlock()
	if uploads != 2 {
		t.Errorf("expected 2 uploads (new items only), got %d", uploads)
	}
	// The failed item's uploaded image is orphaned and must be removed.
	if deleted != 1 {
		t.Errorf("expected 1 deleted image for the failed item, got %d", deleted)
	}

	// Commit clears the store and returns to selecting even with failures.
	stored, _ := f.store.Load("batch:u1")
	if stored != nil {
		t.Error("commit must clear the stored batch")
	}
	status, _ := f.controller.Status("u1")
	if status.Phase != PhaseSelecting {
		t.Errorf("expected selecting after commit, got %s", status.Phase)
	}
}

func TestCommitSkipsDeselected(t *testing.T) {
	analyzer := &fakeAnalyzer{resultsBy: map[string][]models.AnalysisResult{
		"a.jpg": {newResult("A", false), newResult("B", false)},
	}}
	f := setup(t, analyzer)

	f.controller.StartBatch("u1", imageFiles("a.jpg"))
	waitForPhase(t, f.controller, "u1", PhaseReviewing)

	if err := f.controller.DeselectAll("u1"); err != nil {
		t.Fatalf("deselect-all failed: %v", err)
	}

	summary, err := f.controller.Commit(context.Background(), "u1")
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if summary.Committed != 0 || summary.Skipped != 2 {
		t.Errorf("expected 0 committed / 2 skipped, got %+v", summary)
	}
	if len(f.coll.created) != 0 {
		t.Errorf("no entries should be created, got %d", len(f.coll.created))
	}
}

func TestDiscardClearsStore(t *testing.T) {
	analyzer := &fakeAnalyzer{resultsBy: map[string][]models.AnalysisResult{
		"a.jpg": {newResult("A", false)},
	}}
	f := setup(t, analyzer)

	f.controller.StartBatch("u1", imageFiles("a.jpg"))
	waitForPhase(t, f.controller, "u1", PhaseReviewing)

	if err := f.controller.Discard("u1"); err != nil {
		t.Fatalf("discard failed: %v", err)
	}

	stored, _ := f.store.Load("batch:u1")
	if stored != nil {
		t.Error("discard must clear the stored batch")
	}
	status, _ := f.controller.Status("u1")
	if status.Phase != PhaseSelecting {
		t.Errorf("expected selecting after discard, got %s", status.Phase)
	}
}

// gatedAnalyzer blocks every call until the gate opens, so tests can act
// while a chunk is reliably in flight.
type gatedAnalyzer struct {
	fakeAnalyzer
	started chan struct{}
	gate    chan struct{}
}

func (g *gatedAnalyzer) Analyze(ctx context.Context, userID string, media *models.QueuedMedia) ([]models.AnalysisResult, error) {
	g.started <- struct{}{}
	<-g.gate
	return g.fakeAnalyzer.Analyze(ctx, userID, media)
}

func TestCancelDuringProcessing(t *testing.T) {
	analyzer := &gatedAnalyzer{
		fakeAnalyzer: fakeAnalyzer{resultsBy: map[string][]models.AnalysisResult{
			"a.jpg": {newResult("A", false)},
		}},
		started: make(chan struct{}, 6),
		gate:    make(chan struct{}),
	}
	f := setup(t, analyzer)

	files := imageFiles("a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg", "f.jpg")
	if _, _, err := f.controller.StartBatch("u1", files); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Wait until chunk one is in flight, cancel, then let it finish.
	for i := 0; i < 3; i++ {
		<-analyzer.started
	}
	if err := f.controller.Cancel("u1"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	close(analyzer.gate)

	waitForPhase(t, f.controller, "u1", PhaseReviewing)

	// Chunk one (a,b,c) settled; the rest stayed pending, so only a.jpg's
	// result was consolidated.
	results, err := f.controller.Results("u1", FilterAll)
	if err != nil {
		t.Fatalf("results failed: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("expected 1 result from the settled chunk, got %d", len(results))
	}

	status, _ := f.controller.Status("u1")
	pending := 0
	for _, item := range status.Items {
		if item.Status == models.StatusPending {
			pending++
		}
	}
	if pending != 3 {
		t.Errorf("expected 3 items left pending, got %d", pending)
	}
}

// gatedCtxAnalyzer blocks like gatedAnalyzer but fails the call when its
// context was canceled, the way a real HTTP client would.
type gatedCtxAnalyzer struct {
	started chan struct{}
	gate    chan struct{}
}

func (g *gatedCtxAnalyzer) Analyze(ctx context.Context, userID string, media *models.QueuedMedia) ([]models.AnalysisResult, error) {
	g.started <- struct{}{}
	<-g.gate
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []models.AnalysisResult{newResult(media.Filename, false)}, nil
}

func TestCancelDoesNotPreemptInFlightCalls(t *testing.T) {
	analyzer := &gatedCtxAnalyzer{
		started: make(chan struct{}, 6),
		gate:    make(chan struct{}),
	}
	f := setup(t, analyzer)

	files := imageFiles("a.jpg", "b.jpg", "c.jpg", "d.jpg", "e.jpg", "f.jpg")
	if _, _, err := f.controller.StartBatch("u1", files); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// Cancel lands while chunk one is in flight; those three calls must
	// still complete with their real results.
	for i := 0; i < 3; i++ {
		<-analyzer.started
	}
	if err := f.controller.Cancel("u1"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	close(analyzer.gate)

	waitForPhase(t, f.controller, "u1", PhaseReviewing)

	results, err := f.controller.Results("u1", FilterAll)
	if err != nil {
		t.Fatalf("results failed: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("expected 3 results from the in-flight chunk, got %d", len(results))
	}

	status, _ := f.controller.Status("u1")
	for i, item := range status.Items[:3] {
		if item.Status != models.StatusSuccess {
			t.Errorf("in-flight item %d must finish despite cancel, got %s (%s)",
				i, item.Status, item.ErrorDetail)
		}
	}
	for i, item := range status.Items[3:] {
		if item.Status != models.StatusPending {
			t.Errorf("undispatched item %d should stay pending, got %s", i+3, item.Status)
		}
	}
}

func TestCancelOutsideProcessing(t *testing.T) {
	f := setup(t, &fakeAnalyzer{})
	if err := f.controller.Cancel("u1"); !errors.Is(err, ErrNotProcessing) {
		t.Errorf("expected ErrNotProcessing, got %v", err)
	}
}

func TestCommitReleasesLockDuringStoreCalls(t *testing.T) {
	analyzer := &fakeAnalyzer{resultsBy: map[string][]models.AnalysisResult{
		"a.jpg": {newResult("A", false)},
	}}
	f := setup(t, analyzer)

	f.controller.StartBatch("u1", imageFiles("a.jpg"))
	waitForPhase(t, f.controller, "u1", PhaseReviewing)

	sawUnlocked := false
	f.coll.onCreate = func() {
		// Other users' requests must be serviceable while the commit is
		// talking to the collection store.
		if f.controller.sessionsMu.TryLock() {
			sawUnlocked = true
			f.controller.sessionsMu.Unlock()
		}
		// But the same session rejects overlapping mutations.
		if _, err := f.controller.Commit(context.Background(), "u1"); !errors.Is(err, ErrCommitInProgress) {
			t.Errorf("expected ErrCommitInProgress for overlapping commit, got %v", err)
		}
		if err := f.controller.Toggle("u1", 0); !errors.Is(err, ErrCommitInProgress) {
			t.Errorf("expected ErrCommitInProgress for toggle during commit, got %v", err)
		}
	}

	summary, err := f.controller.Commit(context.Background(), "u1")
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if summary.Committed != 1 {
		t.Errorf("expected 1 committed, got %d", summary.Committed)
	}
	if !sawUnlocked {
		t.Error("session lock held across collection-store call")
	}
}

func TestStreamDeliversUpdates(t *testing.T) {
	analyzer := &fakeAnalyzer{resultsBy: map[string][]models.AnalysisResult{
		"a.jpg": {newResult("A", false)},
	}}
	f := setup(t, analyzer)

	if _, _, err := f.controller.StartBatch("u1", imageFiles("a.jpg")); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	updates, err := f.controller.Stream("u1")
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	var types []string
	for update := range updates {
		types = append(types, update.Type)
	}

	// One item: analyzing + terminal media updates, one progress report,
	// then the completion event.
	want := []string{"media", "media", "progress", "complete"}
	if len(types) != len(want) {
		t.Fatalf("expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, types)
		}
	}
}
