package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/p-n-ai/pai-papers/internal/ai"
	"github.com/p-n-ai/pai-papers/internal/extract"
	"github.com/p-n-ai/pai-papers/internal/pairing"
	"github.com/p-n-ai/pai-papers/internal/structuring"
)

// uploadGrace is how old an uploaded batch must be before a startup sweep
// treats it as abandoned rather than about to be scheduled.
const uploadGrace = time.Minute

// Structurer turns extracted document text into structured records.
type Structurer interface {
	StructureQuestions(ctx context.Context, text string, meta structuring.PaperMetadata) (structuring.StructuredQuestions, error)
	StructureAnswers(ctx context.Context, text string, meta structuring.PaperMetadata) (structuring.StructuredAnswers, error)
}

// OrchestratorConfig holds dependencies for the batch orchestrator.
type OrchestratorConfig struct {
	Store      Store
	Extractor  extract.Extractor
	Structurer Structurer
	Mapper     *Mapper       // default: built-in keywords, no lessons
	Guard      RunGuard      // default: MemoryGuard
	Events     EventLogger   // default: NopEventLogger
	Meter      ai.UsageMeter // optional per-batch token meter
	Now        func() time.Time
}

// Orchestrator drives batches through the pipeline. Each run is one
// background goroutine; the guard keeps a batch to one run at a time.
type Orchestrator struct {
	store      Store
	extractor  extract.Extractor
	structurer Structurer
	mapper     *Mapper
	guard      RunGuard
	events     EventLogger
	meter      ai.UsageMeter
	now        func() time.Time

	wg sync.WaitGroup
}

// NewOrchestrator creates a new batch orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	o := &Orchestrator{
		store:      cfg.Store,
		extractor:  cfg.Extractor,
		structurer: cfg.Structurer,
		mapper:     cfg.Mapper,
		guard:      cfg.Guard,
		events:     cfg.Events,
		meter:      cfg.Meter,
		now:        cfg.Now,
	}
	if o.store == nil {
		o.store = NewMemoryStore()
	}
	if o.mapper == nil {
		o.mapper = NewMapper(nil, nil)
	}
	if o.guard == nil {
		o.guard = NewMemoryGuard()
	}
	if o.events == nil {
		o.events = NopEventLogger{}
	}
	if o.now == nil {
		o.now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

// Schedule starts a background run of an uploaded batch. It returns
// ErrConflict when a run of the batch is already in flight.
func (o *Orchestrator) Schedule(ctx context.Context, batchID string) error {
	release, err := o.acquire(ctx, batchID)
	if err != nil {
		return err
	}
	o.start(batchID, release)
	return nil
}

// Reprocess resets a terminal batch to uploaded, deletes the questions its
// previous runs produced and schedules a fresh run. It returns ErrConflict
// unless the batch is completed or failed and no run is in flight.
func (o *Orchestrator) Reprocess(ctx context.Context, batchID string) (*Batch, error) {
	release, err := o.acquire(ctx, batchID)
	if err != nil {
		return nil, err
	}

	b, err := o.reset(ctx, batchID)
	if err != nil {
		release()
		return nil, err
	}
	o.start(batchID, release)
	return b, nil
}

// Wait blocks until every in-flight run has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) acquire(ctx context.Context, batchID string) (func(), error) {
	release, ok, err := o.guard.Acquire(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("acquire run guard: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("batch %s is already running: %w", batchID, ErrConflict)
	}
	return release, nil
}

func (o *Orchestrator) reset(ctx context.Context, batchID string) (*Batch, error) {
	b, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !b.Status.Terminal() {
		return nil, fmt.Errorf("batch %s is %s: %w", batchID, b.Status, ErrConflict)
	}

	removed, err := o.store.DeleteQuestionsByBatch(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("delete questions: %w", err)
	}

	b.Attempt++
	b.Status = StatusUploaded
	b.ErrorMessage = ""
	b.QuestionText = ""
	b.MarkschemeText = ""
	b.ExtractedQuestions = 0
	b.PairedQuestions = 0
	b.TopicsMapped = 0
	b.CompletedAt = nil
	o.appendLog(b, StatusUploaded, fmt.Sprintf("reprocess requested, removed %d questions", removed), true)

	if err := o.store.UpdateBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("reset batch: %w", err)
	}
	slog.Info("batch reset for reprocess", "batch_id", batchID, "attempt", b.Attempt, "removed_questions", removed)
	return b, nil
}

func (o *Orchestrator) start(batchID string, release func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer release()
		// Runs are detached from the request that scheduled them.
		if err := o.Run(context.Background(), batchID); err != nil {
			slog.Error("batch run failed", "batch_id", batchID, "error", err)
		}
	}()
}

// Run executes the pipeline for an uploaded batch synchronously. Callers
// are expected to hold the run guard. Any failure is recorded on the batch
// before Run returns; the returned error repeats it for the caller's logs.
func (o *Orchestrator) Run(ctx context.Context, batchID string) (err error) {
	b, err := o.store.GetBatch(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load batch: %w", err)
	}
	if b.Status != StatusUploaded {
		return fmt.Errorf("batch %s is %s, want %s: %w", batchID, b.Status, StatusUploaded, ErrConflict)
	}
	if o.meter != nil {
		o.meter.Reset(batchID)
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("batch run panicked", "batch_id", batchID, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("internal error: %v", r)
		}
		if err != nil {
			o.fail(b, err)
		}
	}()

	return o.run(ctx, b)
}

func (o *Orchestrator) run(ctx context.Context, b *Batch) error {
	meta := structuring.PaperMetadata{
		PaperCode:    b.PaperCode,
		Year:         b.Year,
		Session:      b.Session,
		PaperNumber:  b.PaperNumber,
		SubjectLevel: string(b.SubjectLevel),
		BatchID:      b.ID,
	}

	if err := o.advance(ctx, b, StatusExtracting, "extracting text from question paper and marking scheme"); err != nil {
		return err
	}
	if err := o.extractTexts(ctx, b); err != nil {
		return err
	}
	questions, answers, err := o.structure(ctx, b, meta)
	if err != nil {
		return err
	}
	b.ExtractedQuestions = len(questions.Questions)

	if err := o.advance(ctx, b, StatusPairing,
		fmt.Sprintf("structured %d questions and %d answer sets", len(questions.Questions), len(answers.Answers))); err != nil {
		return err
	}
	items := pairing.Pair(questions.Questions, answers.Answers)
	b.PairedQuestions = pairing.PairedCount(items)

	if err := o.advance(ctx, b, StatusMappingTopics,
		fmt.Sprintf("paired %d of %d questions", b.PairedQuestions, b.ExtractedQuestions)); err != nil {
		return err
	}
	mapped := 0
	for _, it := range items {
		q := o.mapper.Question(b, it)
		if err := o.store.CreateQuestion(ctx, &q); err != nil {
			return fmt.Errorf("save question %s: %w", q.QuestionNumber, err)
		}
		if len(q.Topics) > 0 {
			mapped++
		}
	}
	b.TopicsMapped = mapped

	return o.complete(ctx, b, len(items))
}

func (o *Orchestrator) extractTexts(ctx context.Context, b *Batch) error {
	qDoc, err := o.store.GetDocument(ctx, b.ID, DocumentQuestion)
	if err != nil {
		return fmt.Errorf("load question paper: %w", err)
	}
	msDoc, err := o.store.GetDocument(ctx, b.ID, DocumentMarkscheme)
	if err != nil {
		return fmt.Errorf("load marking scheme: %w", err)
	}

	var qText, msText string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(recovered(func() error {
		text, err := o.extractor.Extract(gctx, qDoc)
		if err != nil {
			return fmt.Errorf("extract question paper: %w", err)
		}
		qText = text
		return nil
	}))
	g.Go(recovered(func() error {
		text, err := o.extractor.Extract(gctx, msDoc)
		if err != nil {
			return fmt.Errorf("extract marking scheme: %w", err)
		}
		msText = text
		return nil
	}))
	if err := g.Wait(); err != nil {
		return err
	}

	b.QuestionText = extract.Clean(qText)
	b.MarkschemeText = extract.Clean(msText)
	return nil
}

func (o *Orchestrator) structure(ctx context.Context, b *Batch, meta structuring.PaperMetadata) (structuring.StructuredQuestions, structuring.StructuredAnswers, error) {
	var questions structuring.StructuredQuestions
	var answers structuring.StructuredAnswers

	g, gctx := errgroup.WithContext(ctx)
	g.Go(recovered(func() error {
		out, err := o.structurer.StructureQuestions(gctx, b.QuestionText, meta)
		if err != nil {
			return fmt.Errorf("structure question paper: %w", err)
		}
		questions = out
		return nil
	}))
	g.Go(recovered(func() error {
		out, err := o.structurer.StructureAnswers(gctx, b.MarkschemeText, meta)
		if err != nil {
			return fmt.Errorf("structure marking scheme: %w", err)
		}
		answers = out
		return nil
	}))
	if err := g.Wait(); err != nil {
		return questions, answers, err
	}
	return questions, answers, nil
}

// advance moves b to status and persists it with one log entry.
func (o *Orchestrator) advance(ctx context.Context, b *Batch, status Status, message string) error {
	b.Status = status
	o.appendLog(b, status, message, true)
	if err := o.store.UpdateBatch(ctx, b); err != nil {
		return fmt.Errorf("save batch: %w", err)
	}
	slog.Info("batch stage", "batch_id", b.ID, "stage", status, "attempt", b.Attempt)
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, b *Batch, created int) error {
	now := o.now()
	b.Status = StatusCompleted
	b.CompletedAt = &now
	o.appendLog(b, StatusCompleted,
		fmt.Sprintf("created %d questions, %d with topics", created, b.TopicsMapped), true)
	if err := o.store.UpdateBatch(ctx, b); err != nil {
		return fmt.Errorf("save batch: %w", err)
	}

	attrs := []any{
		"batch_id", b.ID,
		"attempt", b.Attempt,
		"extracted", b.ExtractedQuestions,
		"paired", b.PairedQuestions,
		"topics_mapped", b.TopicsMapped,
	}
	if o.meter != nil {
		if used, _, err := o.meter.Usage(b.ID); err == nil {
			attrs = append(attrs, "tokens", used)
		}
	}
	slog.Info("batch completed", attrs...)

	logEvent(o.events, Event{
		BatchID:   b.ID,
		Actor:     b.UploadedBy,
		EventType: EventBatchCompleted,
		Data: map[string]any{
			"attempt":             b.Attempt,
			"extracted_questions": b.ExtractedQuestions,
			"paired_questions":    b.PairedQuestions,
			"topics_mapped":       b.TopicsMapped,
		},
	})
	return nil
}

// fail records cause on the batch. The stage of the failure entry is the
// stage that was running. When the full record cannot be saved, only the
// status, message and failure entry are written.
func (o *Orchestrator) fail(b *Batch, cause error) {
	stage := b.Status
	message := extract.Clean(cause.Error())
	b.Status = StatusFailed
	b.ErrorMessage = message
	o.appendLog(b, stage, message, false)

	// The run's own context may be what failed.
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()
	if err := o.store.UpdateBatch(ctx, b); err != nil {
		if errors.Is(err, ErrNotFound) {
			slog.Warn("batch deleted during run", "batch_id", b.ID)
			return
		}
		slog.Warn("full failure record rejected, saving status only", "batch_id", b.ID, "error", err)
		if err := o.store.MarkFailed(ctx, b.ID, message, b.Logs[len(b.Logs)-1]); err != nil {
			if errors.Is(err, ErrNotFound) {
				slog.Warn("batch deleted during run", "batch_id", b.ID)
				return
			}
			slog.Error("failed to record batch failure", "batch_id", b.ID, "cause", cause, "error", err)
			return
		}
	}
	slog.Error("batch failed", "batch_id", b.ID, "stage", stage, "attempt", b.Attempt, "error", cause)

	logEvent(o.events, Event{
		BatchID:   b.ID,
		Actor:     b.UploadedBy,
		EventType: EventBatchFailed,
		Data: map[string]any{
			"attempt": b.Attempt,
			"stage":   string(stage),
			"error":   message,
		},
	})
}

// RecoverInterrupted fails batches left mid-run by a previous process so
// that they can be reprocessed. Batches whose run guard is held are
// skipped, as are uploads younger than uploadGrace. It returns the number
// of batches failed.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	var stranded []Batch
	for _, status := range []Status{StatusUploaded, StatusExtracting, StatusPairing, StatusMappingTopics} {
		for page := 1; ; page++ {
			batches, total, err := o.store.ListBatches(ctx, BatchFilter{
				Status:     status,
				Pagination: Pagination{Page: page, Limit: maxPageLimit},
			})
			if err != nil {
				return 0, fmt.Errorf("list %s batches: %w", status, err)
			}
			stranded = append(stranded, batches...)
			if len(batches) == 0 || page*maxPageLimit >= total {
				break
			}
		}
	}

	cutoff := o.now().Add(-uploadGrace)
	failed := 0
	for _, b := range stranded {
		if b.Status == StatusUploaded && b.CreatedAt.After(cutoff) {
			continue
		}
		ok, err := o.interrupt(ctx, b)
		if err != nil {
			return failed, err
		}
		if ok {
			failed++
		}
	}
	if failed > 0 {
		slog.Warn("failed batches interrupted by a restart", "count", failed)
	}
	return failed, nil
}

func (o *Orchestrator) interrupt(ctx context.Context, b Batch) (bool, error) {
	release, ok, err := o.guard.Acquire(ctx, b.ID)
	if err != nil {
		return false, fmt.Errorf("acquire run guard: %w", err)
	}
	if !ok {
		return false, nil
	}
	defer release()

	// Re-read under the guard; the batch may have moved on since listing.
	cur, err := o.store.GetBatch(ctx, b.ID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if cur.Status.Terminal() {
		return false, nil
	}

	const message = "interrupted: the server stopped before the run finished"
	entry := LogEntry{
		Timestamp: o.now(),
		Stage:     cur.Status,
		Message:   message,
		Success:   false,
		Attempt:   cur.Attempt,
	}
	if err := o.store.MarkFailed(ctx, cur.ID, message, entry); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("mark batch %s failed: %w", cur.ID, err)
	}
	logEvent(o.events, Event{
		BatchID:   cur.ID,
		Actor:     cur.UploadedBy,
		EventType: EventBatchFailed,
		Data: map[string]any{
			"attempt": cur.Attempt,
			"stage":   string(cur.Status),
			"error":   message,
		},
	})
	return true, nil
}

// recovered turns a panic in fn into an error so that it fails the batch
// instead of the process.
func recovered(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("pipeline step panicked", "panic", r, "stack", string(debug.Stack()))
				err = fmt.Errorf("internal error: %v", r)
			}
		}()
		return fn()
	}
}

func (o *Orchestrator) appendLog(b *Batch, stage Status, message string, success bool) {
	b.Logs = append(b.Logs, LogEntry{
		Timestamp: o.now(),
		Stage:     stage,
		Message:   message,
		Success:   success,
		Attempt:   b.Attempt,
	})
}
