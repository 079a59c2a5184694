package ingest_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/p-n-ai/pai-papers/internal/classify"
	"github.com/p-n-ai/pai-papers/internal/curriculum"
	"github.com/p-n-ai/pai-papers/internal/ingest"
)

func TestUpload_Validation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(r *ingest.UploadRequest)
		wantField string
	}{
		{"missing markscheme", func(r *ingest.UploadRequest) { r.MarkschemeDoc = nil }, "markschemePdf"},
		{"missing question paper", func(r *ingest.UploadRequest) { r.QuestionDoc = nil }, "questionPdf"},
		{"missing paper code", func(r *ingest.UploadRequest) { r.PaperCode = "  " }, "paperCode"},
		{"missing year", func(r *ingest.UploadRequest) { r.Year = "" }, "year"},
		{"non-integer year", func(r *ingest.UploadRequest) { r.Year = "2023a" }, "year"},
		{"year out of range", func(r *ingest.UploadRequest) { r.Year = "23" }, "year"},
		{"unknown level", func(r *ingest.UploadRequest) { r.SubjectLevel = "GCSE" }, "subjectLevel"},
		{"level is case-sensitive", func(r *ingest.UploadRequest) { r.SubjectLevel = "as-level" }, "subjectLevel"},
		{"missing uploader", func(r *ingest.UploadRequest) { r.UploadedBy = "" }, "uploadedBy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t, asLevelQuestionsJSON, asLevelAnswersJSON)
			req := asLevelUpload()
			tt.mutate(&req)

			_, err := p.svc.Upload(t.Context(), req)
			var verr *ingest.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Upload() error = %v, want *ValidationError", err)
			}
			if !verr.Has(tt.wantField) {
				t.Errorf("fields = %+v, want %s", verr.Fields, tt.wantField)
			}

			if _, total, _ := p.svc.List(t.Context(), ingest.BatchFilter{}); total != 0 {
				t.Errorf("batches = %d, rejected upload must not create one", total)
			}
			if p.provider.CallCount() != 0 {
				t.Error("rejected upload must not reach the model")
			}
		})
	}
}

func TestUpload_ReportsEveryProblem(t *testing.T) {
	p := newPipeline(t, asLevelQuestionsJSON, asLevelAnswersJSON)

	_, err := p.svc.Upload(t.Context(), ingest.UploadRequest{UploadedBy: "admin-1"})
	var verr *ingest.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Upload() error = %v, want *ValidationError", err)
	}
	for _, f := range []string{"paperCode", "year", "subjectLevel", "questionPdf", "markschemePdf"} {
		if !verr.Has(f) {
			t.Errorf("missing problem for %s", f)
		}
	}
}

func TestUpload_RecordsBatch(t *testing.T) {
	p := newPipeline(t, asLevelQuestionsJSON, asLevelAnswersJSON)

	req := asLevelUpload()
	req.PaperCode = " 4MA1/1H "
	req.PaperNumber = "1H"
	b, err := p.svc.Upload(t.Context(), req)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	p.orch.Wait()

	if b.ID == "" || b.PaperCode != "4MA1/1H" || b.Year != 2023 || b.SubjectLevel != curriculum.LevelASLevel {
		t.Errorf("batch = %+v", b)
	}
	if b.Attempt != 1 || b.UploadedBy != "admin-1" {
		t.Errorf("attempt = %d, uploadedBy = %q", b.Attempt, b.UploadedBy)
	}
	if len(b.QuestionDigest) != 64 || b.QuestionDigest == b.MarkschemeDigest {
		t.Errorf("digests = %q / %q", b.QuestionDigest, b.MarkschemeDigest)
	}

	doc, err := p.store.GetDocument(t.Context(), b.ID, ingest.DocumentMarkscheme)
	if err != nil || !bytes.Equal(doc, req.MarkschemeDoc) {
		t.Errorf("stored markscheme = %q, %v", doc, err)
	}
	if n := len(p.events.OfType(ingest.EventBatchUploaded)); n != 1 {
		t.Errorf("upload events = %d, want 1", n)
	}
}

type brokenGuard struct{}

func (brokenGuard) Acquire(context.Context, string) (func(), bool, error) {
	return nil, false, errors.New("redis: connection refused")
}

func TestUpload_ScheduleFailureLeavesNoBatch(t *testing.T) {
	p := newPipeline(t, asLevelQuestionsJSON, asLevelAnswersJSON, withGuard(brokenGuard{}))

	if _, err := p.svc.Upload(t.Context(), asLevelUpload()); err == nil {
		t.Fatal("Upload() should fail when the run cannot be scheduled")
	}
	if _, total, _ := p.svc.List(t.Context(), ingest.BatchFilter{}); total != 0 {
		t.Errorf("batches persisted = %d, want 0", total)
	}
}

func TestList_Validation(t *testing.T) {
	p := newPipeline(t, asLevelQuestionsJSON, asLevelAnswersJSON)

	var verr *ingest.ValidationError
	if _, _, err := p.svc.List(t.Context(), ingest.BatchFilter{Status: "queued"}); !errors.As(err, &verr) {
		t.Errorf("List(bad status) error = %v, want *ValidationError", err)
	}
	if _, _, err := p.svc.List(t.Context(), ingest.BatchFilter{Level: "O-Level"}); !errors.As(err, &verr) {
		t.Errorf("List(bad level) error = %v, want *ValidationError", err)
	}
	if _, _, err := p.svc.Questions(t.Context(), ingest.QuestionFilter{Level: "O-Level"}); !errors.As(err, &verr) {
		t.Errorf("Questions(bad level) error = %v, want *ValidationError", err)
	}
}

func TestDelete_CascadesToQuestions(t *testing.T) {
	p := newPipeline(t, asLevelQuestionsJSON, asLevelAnswersJSON)
	ctx := t.Context()

	b := p.uploadAndWait(t, asLevelUpload())
	if err := p.svc.Delete(ctx, b.ID, "admin-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := p.svc.Get(ctx, b.ID); !errors.Is(err, ingest.ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if _, total, _ := p.svc.Questions(ctx, ingest.QuestionFilter{}); total != 0 {
		t.Errorf("questions after delete = %d, want 0", total)
	}
	if err := p.svc.Delete(ctx, b.ID, "admin-1"); !errors.Is(err, ingest.ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
	events := p.events.OfType(ingest.EventBatchDeleted)
	if len(events) != 1 || events[0].Actor != "admin-1" {
		t.Errorf("delete events = %+v", events)
	}
}

// firstQuestion uploads the AS-Level fixture and returns its question 2,
// which has two subparts worth 2 marks each.
func firstQuestion(t *testing.T, p *pipeline) *ingest.Question {
	t.Helper()
	b := p.uploadAndWait(t, asLevelUpload())
	qs, _, err := p.svc.Questions(t.Context(), ingest.QuestionFilter{BatchID: b.ID})
	if err != nil || len(qs) < 2 {
		t.Fatalf("Questions() = %d, %v", len(qs), err)
	}
	return &qs[1]
}

func TestUpdateQuestion_Verify(t *testing.T) {
	p := newPipeline(t, asLevelQuestionsJSON, asLevelAnswersJSON)
	q := firstQuestion(t, p)
	ctx := t.Context()

	got, err := p.svc.UpdateQuestion(ctx, q.ID, ingest.QuestionPatch{Verified: boolPtr(true)}, "reviewer-1")
	if err != nil {
		t.Fatalf("UpdateQuestion() error = %v", err)
	}
	if !got.Verified || got.VerifiedBy != "reviewer-1" {
		t.Errorf("verified = %v by %q, want true by reviewer-1", got.Verified, got.VerifiedBy)
	}

	stored, _ := p.svc.GetQuestion(ctx, q.ID)
	if !stored.Verified || stored.VerifiedBy != "reviewer-1" {
		t.Errorf("stored verification = %v by %q", stored.Verified, stored.VerifiedBy)
	}

	got, _ = p.svc.UpdateQuestion(ctx, q.ID, ingest.QuestionPatch{Verified: boolPtr(false)}, "reviewer-2")
	if got.Verified || got.VerifiedBy != "" {
		t.Errorf("unverified = %v by %q, want cleared", got.Verified, got.VerifiedBy)
	}
	if n := len(p.events.OfType(ingest.EventQuestionEdited)); n != 2 {
		t.Errorf("edit events = %d, want 2", n)
	}
}

func TestUpdateQuestion_SubpartsDriveTotal(t *testing.T) {
	p := newPipeline(t, asLevelQuestionsJSON, asLevelAnswersJSON)
	q := firstQuestion(t, p)

	subparts := append([]ingest.Subpart{}, q.Subparts...)
	subparts[0].Marks = 5
	got, err := p.svc.UpdateQuestion(t.Context(), q.ID, ingest.QuestionPatch{Subparts: &subparts}, "reviewer-1")
	if err != nil {
		t.Fatalf("UpdateQuestion() error = %v", err)
	}
	if got.TotalMarks != 7 || got.Difficulty != classify.Hard {
		t.Errorf("total = %d (%s), want 7 (hard)", got.TotalMarks, got.Difficulty)
	}
}

func TestUpdateQuestion_Validation(t *testing.T) {
	negative := []ingest.Subpart{{Label: "(a)", Text: "x", Marks: -1}}
	huge := []ingest.Subpart{{Label: "(a)", Text: "x", Marks: 1001}}
	oversum := []ingest.Subpart{{Label: "(a)", Text: "x", Marks: 600}, {Label: "(b)", Text: "y", Marks: 600}}
	tests := []struct {
		name      string
		patch     ingest.QuestionPatch
		wantField string
	}{
		{"empty text", ingest.QuestionPatch{QuestionText: strPtr("  ")}, "questionText"},
		{"empty number", ingest.QuestionPatch{QuestionNumber: strPtr("")}, "questionNumber"},
		{"negative total", ingest.QuestionPatch{TotalMarks: intPtr(-1)}, "totalMarks"},
		{"negative subpart marks", ingest.QuestionPatch{Subparts: &negative}, "subparts[0].marks"},
		{"total above the maximum", ingest.QuestionPatch{TotalMarks: intPtr(5000)}, "totalMarks"},
		{"subpart marks above the maximum", ingest.QuestionPatch{Subparts: &huge}, "subparts[0].marks"},
		{"subparts add up past the maximum", ingest.QuestionPatch{Subparts: &oversum}, "subparts"},
		{"total disagrees with subparts", ingest.QuestionPatch{TotalMarks: intPtr(9)}, "totalMarks"},
		{"unknown difficulty", ingest.QuestionPatch{Difficulty: diffPtr("extreme")}, "difficulty"},
		{"difficulty disagrees with marks", ingest.QuestionPatch{Difficulty: diffPtr(classify.Hard)}, "difficulty"},
	}

	p := newPipeline(t, asLevelQuestionsJSON, asLevelAnswersJSON)
	q := firstQuestion(t, p)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.svc.UpdateQuestion(t.Context(), q.ID, tt.patch, "reviewer-1")
			var verr *ingest.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("UpdateQuestion() error = %v, want *ValidationError", err)
			}
			if !verr.Has(tt.wantField) {
				t.Errorf("fields = %+v, want %s", verr.Fields, tt.wantField)
			}

			stored, _ := p.svc.GetQuestion(t.Context(), q.ID)
			if stored.TotalMarks != q.TotalMarks || stored.QuestionText != q.QuestionText {
				t.Error("a rejected edit must not change the question")
			}
		})
	}
}

func diffPtr(d classify.Difficulty) *classify.Difficulty { return &d }

func TestUpdateQuestion_TotalWithoutSubparts(t *testing.T) {
	p := newPipeline(t, asLevelQuestionsJSON, asLevelAnswersJSON)
	b := p.uploadAndWait(t, asLevelUpload())
	qs, _, _ := p.svc.Questions(t.Context(), ingest.QuestionFilter{BatchID: b.ID})
	q := qs[0]

	got, err := p.svc.UpdateQuestion(t.Context(), q.ID, ingest.QuestionPatch{
		TotalMarks: intPtr(1),
		Difficulty: diffPtr(classify.Easy),
		Topics:     &[]string{"Quadratics", " Quadratics", "Functions"},
		LessonID:   strPtr(""),
	}, "reviewer-1")
	if err != nil {
		t.Fatalf("UpdateQuestion() error = %v", err)
	}
	if got.TotalMarks != 1 || got.Difficulty != classify.Easy {
		t.Errorf("total = %d (%s), want 1 (easy)", got.TotalMarks, got.Difficulty)
	}
	if len(got.Topics) != 2 || got.LessonID != "" {
		t.Errorf("topics = %v, lesson = %q", got.Topics, got.LessonID)
	}
}

func TestUpdateQuestion_NotFound(t *testing.T) {
	p := newPipeline(t, asLevelQuestionsJSON, asLevelAnswersJSON)
	if _, err := p.svc.UpdateQuestion(t.Context(), "missing", ingest.QuestionPatch{}, "reviewer-1"); !errors.Is(err, ingest.ErrNotFound) {
		t.Errorf("UpdateQuestion() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteQuestion(t *testing.T) {
	p := newPipeline(t, asLevelQuestionsJSON, asLevelAnswersJSON)
	q := firstQuestion(t, p)
	ctx := t.Context()

	if err := p.svc.DeleteQuestion(ctx, q.ID, "reviewer-1"); err != nil {
		t.Fatalf("DeleteQuestion() error = %v", err)
	}
	if _, err := p.svc.GetQuestion(ctx, q.ID); !errors.Is(err, ingest.ErrNotFound) {
		t.Errorf("GetQuestion() error = %v, want ErrNotFound", err)
	}
	if _, total, _ := p.svc.Questions(ctx, ingest.QuestionFilter{BatchID: q.BatchID}); total != 2 {
		t.Errorf("remaining = %d, want 2", total)
	}
	if err := p.svc.DeleteQuestion(ctx, q.ID, "reviewer-1"); !errors.Is(err, ingest.ErrNotFound) {
		t.Errorf("second DeleteQuestion() error = %v, want ErrNotFound", err)
	}
}

func TestStats_AfterRun(t *testing.T) {
	p := newPipeline(t, asLevelQuestionsJSON, asLevelAnswersJSON)
	p.uploadAndWait(t, asLevelUpload())

	st, err := p.svc.Stats(t.Context())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	as := st.Levels[1]
	if as.Level != curriculum.LevelASLevel {
		t.Fatalf("second level = %s, want AS-Level", as.Level)
	}
	if as.TotalQuestions != 3 || as.TotalMarks != 11 || as.DistinctPapers != 1 {
		t.Errorf("AS-Level stats = %+v", as)
	}
	if as.AverageMarks != 3.67 {
		t.Errorf("AverageMarks = %v, want 3.67", as.AverageMarks)
	}
	if st.BatchesByStatus[ingest.StatusCompleted] != 1 {
		t.Errorf("BatchesByStatus = %v", st.BatchesByStatus)
	}
}

func TestExportBatch(t *testing.T) {
	p := newPipeline(t, asLevelQuestionsJSON, asLevelAnswersJSON)
	b := p.uploadAndWait(t, asLevelUpload())

	data, err := p.svc.ExportBatch(t.Context(), b.ID)
	if err != nil {
		t.Fatalf("ExportBatch() error = %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows("Questions")
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("rows = %d, want title + header + 3 questions", len(rows))
	}
	if rows[0][0] != "4MA1/1H 2023 May/June (AS-Level)" {
		t.Errorf("title = %q", rows[0][0])
	}
	if rows[1][0] != "Question" || rows[2][0] != "1" || rows[4][0] != "3" {
		t.Errorf("question column = %q, %q, %q", rows[1][0], rows[2][0], rows[4][0])
	}
	if rows[3][4] != "4" {
		t.Errorf("question 2 total = %q, want 4", rows[3][4])
	}

	if _, err := p.svc.ExportBatch(t.Context(), "missing"); !errors.Is(err, ingest.ErrNotFound) {
		t.Errorf("ExportBatch(missing) error = %v, want ErrNotFound", err)
	}
}
