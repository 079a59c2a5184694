package ingest

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/p-n-ai/pai-papers/internal/classify"
	"github.com/p-n-ai/pai-papers/internal/curriculum"
	"github.com/p-n-ai/pai-papers/internal/structuring"
)

const (
	minYear = 1900
	maxYear = 2100
)

// UploadRequest is one submitted question paper with its marking scheme.
// Year arrives as text so that a non-integer value is a validation error
// rather than a decoding failure.
type UploadRequest struct {
	PaperCode     string
	Year          string
	Session       string
	PaperNumber   string
	SubjectLevel  string
	QuestionDoc   []byte
	MarkschemeDoc []byte
	UploadedBy    string
}

// Validate checks every field and reports all problems at once.
func (r UploadRequest) Validate() error {
	v := &ValidationError{}
	if strings.TrimSpace(r.PaperCode) == "" {
		v.Add("paperCode", "is required")
	}
	if strings.TrimSpace(r.Year) == "" {
		v.Add("year", "is required")
	} else if y, err := strconv.Atoi(strings.TrimSpace(r.Year)); err != nil {
		v.Add("year", "must be an integer")
	} else if y < minYear || y > maxYear {
		v.Add("year", "must be between %d and %d", minYear, maxYear)
	}
	if r.SubjectLevel == "" {
		v.Add("subjectLevel", "is required")
	} else if _, ok := curriculum.ParseLevel(r.SubjectLevel); !ok {
		v.Add("subjectLevel", "must be one of %s", levelList())
	}
	if len(r.QuestionDoc) == 0 {
		v.Add("questionPdf", "is required")
	}
	if len(r.MarkschemeDoc) == 0 {
		v.Add("markschemePdf", "is required")
	}
	if strings.TrimSpace(r.UploadedBy) == "" {
		v.Add("uploadedBy", "is required")
	}
	return v.Err()
}

func levelList() string {
	levels := curriculum.Levels()
	out := make([]string, len(levels))
	for i, l := range levels {
		out[i] = string(l)
	}
	return strings.Join(out, ", ")
}

// QuestionPatch is a partial edit of a Question. Nil fields are left alone.
type QuestionPatch struct {
	Topics           *[]string            `json:"topics"`
	LessonID         *string              `json:"lessonId"`
	QuestionNumber   *string              `json:"questionNumber"`
	QuestionText     *string              `json:"questionText"`
	Subparts         *[]Subpart           `json:"subparts"`
	Answer           *string              `json:"answer"`
	SolutionSteps    *[]string            `json:"solutionSteps"`
	TotalMarks       *int                 `json:"totalMarks"`
	Difficulty       *classify.Difficulty `json:"difficulty"`
	RequiresGraph    *bool                `json:"requiresGraph"`
	RequiresDiagram  *bool                `json:"requiresDiagram"`
	ImageDescription *string              `json:"imageDescription"`
	Verified         *bool                `json:"verified"`
}

// Service exposes the batch and question operations on top of a Store and
// an Orchestrator.
type Service struct {
	store  Store
	orch   *Orchestrator
	events EventLogger
	now    func() time.Time
}

// NewService creates the ingestion service.
func NewService(store Store, orch *Orchestrator, events EventLogger) *Service {
	if events == nil {
		events = NopEventLogger{}
	}
	return &Service{
		store:  store,
		orch:   orch,
		events: events,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Upload validates req, creates the batch with its documents and schedules
// the pipeline. The returned batch is in the uploaded state.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*Batch, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	year, _ := strconv.Atoi(strings.TrimSpace(req.Year))
	level, _ := curriculum.ParseLevel(req.SubjectLevel)

	b := &Batch{
		PaperCode:        strings.TrimSpace(req.PaperCode),
		Year:             year,
		Session:          strings.TrimSpace(req.Session),
		PaperNumber:      strings.TrimSpace(req.PaperNumber),
		SubjectLevel:     level,
		Status:           StatusUploaded,
		UploadedBy:       req.UploadedBy,
		Attempt:          1,
		QuestionDigest:   digest(req.QuestionDoc),
		MarkschemeDigest: digest(req.MarkschemeDoc),
	}
	b.Logs = []LogEntry{{
		Timestamp: s.now(),
		Stage:     StatusUploaded,
		Message:   fmt.Sprintf("uploaded by %s", req.UploadedBy),
		Success:   true,
		Attempt:   1,
	}}

	if err := s.store.CreateBatch(ctx, b); err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	if err := s.putDocuments(ctx, b.ID, req); err != nil {
		s.discard(b.ID)
		return nil, err
	}

	logEvent(s.events, Event{
		BatchID:   b.ID,
		Actor:     b.UploadedBy,
		EventType: EventBatchUploaded,
		Data: map[string]any{
			"paper_code":    b.PaperCode,
			"year":          b.Year,
			"subject_level": string(b.SubjectLevel),
		},
	})
	slog.Info("batch uploaded", "batch_id", b.ID, "paper_code", b.PaperCode, "year", b.Year, "level", b.SubjectLevel)

	if err := s.orch.Schedule(ctx, b.ID); err != nil {
		s.discard(b.ID)
		return nil, fmt.Errorf("schedule batch: %w", err)
	}
	return b, nil
}

// discard removes a batch whose upload did not complete. A batch that
// cannot be removed is left for the startup sweep.
func (s *Service) discard(batchID string) {
	ctx, cancel := context.WithTimeout(context.Background(), dbTimeout)
	defer cancel()
	if err := s.store.DeleteBatch(ctx, batchID); err != nil {
		slog.Error("failed to remove incomplete batch", "batch_id", batchID, "error", err)
	}
}

func (s *Service) putDocuments(ctx context.Context, batchID string, req UploadRequest) error {
	if err := s.store.PutDocument(ctx, batchID, DocumentQuestion, req.QuestionDoc); err != nil {
		return fmt.Errorf("store question paper: %w", err)
	}
	if err := s.store.PutDocument(ctx, batchID, DocumentMarkscheme, req.MarkschemeDoc); err != nil {
		return fmt.Errorf("store marking scheme: %w", err)
	}
	return nil
}

func digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Get returns the full batch record including its log.
func (s *Service) Get(ctx context.Context, id string) (*Batch, error) {
	return s.store.GetBatch(ctx, id)
}

// List returns batch summaries matching f and the total match count.
func (s *Service) List(ctx context.Context, f BatchFilter) ([]Batch, int, error) {
	if f.Level != "" && !f.Level.Valid() {
		v := &ValidationError{}
		v.Add("level", "must be one of %s", levelList())
		return nil, 0, v
	}
	if f.Status != "" && !f.Status.Valid() {
		v := &ValidationError{}
		v.Add("status", "unknown status %q", f.Status)
		return nil, 0, v
	}
	return s.store.ListBatches(ctx, f)
}

// Delete removes a batch together with its documents and questions.
func (s *Service) Delete(ctx context.Context, id, actor string) error {
	b, err := s.store.GetBatch(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteBatch(ctx, id); err != nil {
		return err
	}
	logEvent(s.events, Event{
		BatchID:   id,
		Actor:     actor,
		EventType: EventBatchDeleted,
		Data: map[string]any{
			"paper_code": b.PaperCode,
			"status":     string(b.Status),
		},
	})
	slog.Info("batch deleted", "batch_id", id, "status", b.Status)
	return nil
}

// Reprocess restarts a completed or failed batch from scratch.
func (s *Service) Reprocess(ctx context.Context, id, actor string) (*Batch, error) {
	b, err := s.orch.Reprocess(ctx, id)
	if err != nil {
		return nil, err
	}
	logEvent(s.events, Event{
		BatchID:   id,
		Actor:     actor,
		EventType: EventBatchReprocessed,
		Data:      map[string]any{"attempt": b.Attempt},
	})
	return b, nil
}

// Questions lists questions matching f and the total match count.
func (s *Service) Questions(ctx context.Context, f QuestionFilter) ([]Question, int, error) {
	if f.Level != "" && !f.Level.Valid() {
		v := &ValidationError{}
		v.Add("level", "must be one of %s", levelList())
		return nil, 0, v
	}
	return s.store.ListQuestions(ctx, f)
}

// GetQuestion returns one question.
func (s *Service) GetQuestion(ctx context.Context, id string) (*Question, error) {
	return s.store.GetQuestion(ctx, id)
}

// UpdateQuestion applies patch on behalf of actor. Setting verified records
// actor as the verifier; clearing it clears the verifier. Total marks and
// difficulty stay consistent with the subparts.
func (s *Service) UpdateQuestion(ctx context.Context, id string, patch QuestionPatch, actor string) (*Question, error) {
	q, err := s.store.GetQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := applyPatch(q, patch, actor); err != nil {
		return nil, err
	}
	if err := s.store.UpdateQuestion(ctx, q); err != nil {
		return nil, err
	}

	logEvent(s.events, Event{
		BatchID:    q.BatchID,
		QuestionID: q.ID,
		Actor:      actor,
		EventType:  EventQuestionEdited,
		Data:       map[string]any{"fields": patch.fields()},
	})
	return q, nil
}

func checkMarks(v *ValidationError, field string, marks int) {
	switch {
	case marks < 0:
		v.Add(field, "must be zero or more")
	case marks > structuring.MaxMarks:
		v.Add(field, "must be at most %d", structuring.MaxMarks)
	}
}

func applyPatch(q *Question, p QuestionPatch, actor string) error {
	v := &ValidationError{}

	if p.QuestionText != nil && strings.TrimSpace(*p.QuestionText) == "" {
		v.Add("questionText", "must not be empty")
	}
	if p.QuestionNumber != nil && strings.TrimSpace(*p.QuestionNumber) == "" {
		v.Add("questionNumber", "must not be empty")
	}
	if p.TotalMarks != nil {
		checkMarks(v, "totalMarks", *p.TotalMarks)
	}
	if p.Subparts != nil {
		for i, sp := range *p.Subparts {
			checkMarks(v, fmt.Sprintf("subparts[%d].marks", i), sp.Marks)
		}
	}
	if p.Difficulty != nil && !p.Difficulty.Valid() {
		v.Add("difficulty", "must be one of easy, medium, hard")
	}
	if p.Verified != nil && *p.Verified && strings.TrimSpace(actor) == "" {
		v.Add("verified", "requires an authenticated verifier")
	}
	if err := v.Err(); err != nil {
		return err
	}

	subparts := q.Subparts
	if p.Subparts != nil {
		subparts = *p.Subparts
	}
	total := q.TotalMarks
	switch {
	case len(subparts) > 0:
		total = SumSubpartMarks(subparts)
		if p.Subparts != nil && total > structuring.MaxMarks {
			v.Add("subparts", "marks must add up to at most %d", structuring.MaxMarks)
		}
		if p.TotalMarks != nil && *p.TotalMarks != total {
			v.Add("totalMarks", "must equal the sum of subpart marks (%d)", total)
		}
	case p.TotalMarks != nil:
		total = *p.TotalMarks
	}
	difficulty := classify.TrainingDifficulty(total)
	if p.Difficulty != nil && *p.Difficulty != difficulty {
		v.Add("difficulty", "is derived from total marks and must be %s", difficulty)
	}
	if err := v.Err(); err != nil {
		return err
	}

	if p.Topics != nil {
		q.Topics = dedupe(*p.Topics)
	}
	if p.LessonID != nil {
		q.LessonID = strings.TrimSpace(*p.LessonID)
	}
	if p.QuestionNumber != nil {
		q.QuestionNumber = strings.TrimSpace(*p.QuestionNumber)
	}
	if p.QuestionText != nil {
		q.QuestionText = *p.QuestionText
	}
	if p.Subparts != nil {
		q.Subparts = make([]Subpart, len(subparts))
		for i, sp := range subparts {
			if sp.ExaminerNotes == nil {
				sp.ExaminerNotes = []string{}
			}
			q.Subparts[i] = sp
		}
	}
	if p.Answer != nil {
		q.Answer = *p.Answer
	}
	if p.SolutionSteps != nil {
		q.SolutionSteps = append([]string{}, *p.SolutionSteps...)
	}
	if p.RequiresGraph != nil {
		q.RequiresGraph = *p.RequiresGraph
	}
	if p.RequiresDiagram != nil {
		q.RequiresDiagram = *p.RequiresDiagram
	}
	if p.ImageDescription != nil {
		q.ImageDescription = *p.ImageDescription
	}
	if p.Verified != nil {
		q.Verified = *p.Verified
		q.VerifiedBy = ""
		if q.Verified {
			q.VerifiedBy = actor
		}
	}
	q.TotalMarks = total
	q.Difficulty = difficulty
	return nil
}

func (p QuestionPatch) fields() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(p.Topics != nil, "topics")
	add(p.LessonID != nil, "lessonId")
	add(p.QuestionNumber != nil, "questionNumber")
	add(p.QuestionText != nil, "questionText")
	add(p.Subparts != nil, "subparts")
	add(p.Answer != nil, "answer")
	add(p.SolutionSteps != nil, "solutionSteps")
	add(p.TotalMarks != nil, "totalMarks")
	add(p.Difficulty != nil, "difficulty")
	add(p.RequiresGraph != nil, "requiresGraph")
	add(p.RequiresDiagram != nil, "requiresDiagram")
	add(p.ImageDescription != nil, "imageDescription")
	add(p.Verified != nil, "verified")
	return out
}

func dedupe(in []string) []string {
	out := []string{}
	seen := make(map[string]bool)
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// DeleteQuestion removes one question.
func (s *Service) DeleteQuestion(ctx context.Context, id, actor string) error {
	q, err := s.store.GetQuestion(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteQuestion(ctx, id); err != nil {
		return err
	}
	logEvent(s.events, Event{
		BatchID:    q.BatchID,
		QuestionID: id,
		Actor:      actor,
		EventType:  EventQuestionDeleted,
		Data:       map[string]any{"question_number": q.QuestionNumber},
	})
	return nil
}

// Stats summarises batches and questions per level.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.store.Stats(ctx)
}

// Ready reports whether the store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// BatchQuestions returns every question of a batch in document order.
func (s *Service) BatchQuestions(ctx context.Context, batchID string) ([]Question, error) {
	if _, err := s.store.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	var all []Question
	for page := 1; ; page++ {
		qs, total, err := s.store.ListQuestions(ctx, QuestionFilter{
			BatchID:    batchID,
			Pagination: Pagination{Page: page, Limit: maxPageLimit},
		})
		if err != nil {
			return nil, err
		}
		all = append(all, qs...)
		if len(qs) == 0 || len(all) >= total {
			break
		}
	}
	return all, nil
}
