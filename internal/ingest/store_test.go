package ingest_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/p-n-ai/pai-papers/internal/classify"
	"github.com/p-n-ai/pai-papers/internal/curriculum"
	"github.com/p-n-ai/pai-papers/internal/ingest"
)

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) ingest.Store {
		return ingest.NewMemoryStore()
	})
}

func newTestBatch(code string, level curriculum.Level, status ingest.Status) *ingest.Batch {
	return &ingest.Batch{
		PaperCode:    code,
		Year:         2023,
		Session:      "May/June",
		SubjectLevel: level,
		Status:       status,
		UploadedBy:   "admin-1",
		Attempt:      1,
		Logs: []ingest.LogEntry{{
			Stage:   ingest.StatusUploaded,
			Message: "uploaded",
			Success: true,
			Attempt: 1,
		}},
	}
}

func newTestQuestion(b *ingest.Batch, number string, marks int, topics ...string) *ingest.Question {
	return &ingest.Question{
		BatchID:        b.ID,
		PaperCode:      b.PaperCode,
		Year:           b.Year,
		Session:        b.Session,
		SubjectLevel:   b.SubjectLevel,
		Topics:         append([]string{}, topics...),
		QuestionNumber: number,
		QuestionText:   "Question " + number,
		Subparts: []ingest.Subpart{
			{Label: "(a)", Text: "part a", Marks: marks, Answer: "x = 2", ExaminerNotes: []string{"M1 for method"}},
		},
		Answer:        "(a) x = 2",
		SolutionSteps: []string{"(a) M1 for method"},
		TotalMarks:    marks,
		Difficulty:    classify.TrainingDifficulty(marks),
	}
}

// runStoreContract exercises behaviour every Store implementation shares.
func runStoreContract(t *testing.T, newStore func(t *testing.T) ingest.Store) {
	t.Run("batch lifecycle", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		b := newTestBatch("4MA1/1H", curriculum.LevelASLevel, ingest.StatusUploaded)
		if err := store.CreateBatch(ctx, b); err != nil {
			t.Fatalf("CreateBatch() error = %v", err)
		}
		if b.ID == "" {
			t.Fatal("CreateBatch() should assign an ID")
		}
		if b.CreatedAt.IsZero() {
			t.Error("CreateBatch() should set CreatedAt")
		}

		got, err := store.GetBatch(ctx, b.ID)
		if err != nil {
			t.Fatalf("GetBatch() error = %v", err)
		}
		if got.PaperCode != "4MA1/1H" || got.SubjectLevel != curriculum.LevelASLevel {
			t.Errorf("GetBatch() = %+v", got)
		}
		if len(got.Logs) != 1 || got.Logs[0].Stage != ingest.StatusUploaded {
			t.Errorf("Logs = %+v, want one uploaded entry", got.Logs)
		}

		got.Status = ingest.StatusExtracting
		got.QuestionText = "Q text"
		got.ExtractedQuestions = 3
		got.Logs = append(got.Logs, ingest.LogEntry{Stage: ingest.StatusExtracting, Message: "go", Success: true, Attempt: 1})
		if err := store.UpdateBatch(ctx, got); err != nil {
			t.Fatalf("UpdateBatch() error = %v", err)
		}

		again, _ := store.GetBatch(ctx, b.ID)
		if again.Status != ingest.StatusExtracting || again.ExtractedQuestions != 3 || len(again.Logs) != 2 {
			t.Errorf("after update = %+v", again)
		}
		if again.QuestionText != "Q text" {
			t.Errorf("QuestionText = %q", again.QuestionText)
		}
	})

	t.Run("mark failed", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		b := newTestBatch("9709/12", curriculum.LevelASLevel, ingest.StatusExtracting)
		b.QuestionText = "1 Solve x + 1 = 2"
		b.ExtractedQuestions = 4
		_ = store.CreateBatch(ctx, b)

		entry := ingest.LogEntry{Stage: ingest.StatusExtracting, Message: "model timed out", Success: false, Attempt: 1}
		if err := store.MarkFailed(ctx, b.ID, "model timed out", entry); err != nil {
			t.Fatalf("MarkFailed() error = %v", err)
		}

		got, _ := store.GetBatch(ctx, b.ID)
		if got.Status != ingest.StatusFailed || got.ErrorMessage != "model timed out" {
			t.Errorf("after MarkFailed = %s (%q)", got.Status, got.ErrorMessage)
		}
		if len(got.Logs) != 2 || got.Logs[1].Success || got.Logs[1].Stage != ingest.StatusExtracting {
			t.Errorf("Logs = %+v, want the failure entry appended", got.Logs)
		}
		if got.QuestionText != b.QuestionText || got.ExtractedQuestions != 4 {
			t.Errorf("MarkFailed() should keep other fields: %+v", got)
		}
	})

	t.Run("unknown batch", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()
		missing := "00000000-0000-0000-0000-000000000000"

		if _, err := store.GetBatch(ctx, missing); !errors.Is(err, ingest.ErrNotFound) {
			t.Errorf("GetBatch() error = %v, want ErrNotFound", err)
		}
		if err := store.UpdateBatch(ctx, &ingest.Batch{ID: missing, Status: ingest.StatusFailed}); !errors.Is(err, ingest.ErrNotFound) {
			t.Errorf("UpdateBatch() error = %v, want ErrNotFound", err)
		}
		if err := store.MarkFailed(ctx, missing, "x", ingest.LogEntry{}); !errors.Is(err, ingest.ErrNotFound) {
			t.Errorf("MarkFailed() error = %v, want ErrNotFound", err)
		}
		if err := store.DeleteBatch(ctx, missing); !errors.Is(err, ingest.ErrNotFound) {
			t.Errorf("DeleteBatch() error = %v, want ErrNotFound", err)
		}
		if err := store.PutDocument(ctx, missing, ingest.DocumentQuestion, []byte("x")); !errors.Is(err, ingest.ErrNotFound) {
			t.Errorf("PutDocument() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("documents", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		b := newTestBatch("0580/42", curriculum.LevelIGCSE, ingest.StatusUploaded)
		_ = store.CreateBatch(ctx, b)

		if err := store.PutDocument(ctx, b.ID, ingest.DocumentQuestion, []byte("first")); err != nil {
			t.Fatalf("PutDocument() error = %v", err)
		}
		if err := store.PutDocument(ctx, b.ID, ingest.DocumentQuestion, []byte("second")); err != nil {
			t.Fatalf("PutDocument() overwrite error = %v", err)
		}
		data, err := store.GetDocument(ctx, b.ID, ingest.DocumentQuestion)
		if err != nil {
			t.Fatalf("GetDocument() error = %v", err)
		}
		if string(data) != "second" {
			t.Errorf("GetDocument() = %q, want second", data)
		}
		if _, err := store.GetDocument(ctx, b.ID, ingest.DocumentMarkscheme); !errors.Is(err, ingest.ErrNotFound) {
			t.Errorf("GetDocument(markscheme) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("list batches", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		igcse := newTestBatch("0580/42", curriculum.LevelIGCSE, ingest.StatusCompleted)
		igcse.QuestionText = "long text"
		as := newTestBatch("9709/12", curriculum.LevelASLevel, ingest.StatusFailed)
		a := newTestBatch("9709/32", curriculum.LevelALevel, ingest.StatusCompleted)
		for _, b := range []*ingest.Batch{igcse, as, a} {
			if err := store.CreateBatch(ctx, b); err != nil {
				t.Fatalf("CreateBatch() error = %v", err)
			}
		}

		all, total, err := store.ListBatches(ctx, ingest.BatchFilter{})
		if err != nil {
			t.Fatalf("ListBatches() error = %v", err)
		}
		if total != 3 || len(all) != 3 {
			t.Fatalf("ListBatches() = %d items, total %d; want 3, 3", len(all), total)
		}
		if all[0].ID != a.ID || all[2].ID != igcse.ID {
			t.Errorf("ListBatches() should return newest first, got %s, %s, %s", all[0].PaperCode, all[1].PaperCode, all[2].PaperCode)
		}
		for _, b := range all {
			if b.QuestionText != "" || len(b.Logs) != 0 {
				t.Errorf("list entry %s should omit texts and logs", b.PaperCode)
			}
		}

		completed, total, _ := store.ListBatches(ctx, ingest.BatchFilter{Status: ingest.StatusCompleted})
		if total != 2 || len(completed) != 2 {
			t.Errorf("status filter = %d/%d, want 2/2", len(completed), total)
		}

		level, total, _ := store.ListBatches(ctx, ingest.BatchFilter{Level: curriculum.LevelASLevel})
		if total != 1 || level[0].ID != as.ID {
			t.Errorf("level filter = %+v", level)
		}

		page, total, _ := store.ListBatches(ctx, ingest.BatchFilter{Pagination: ingest.Pagination{Page: 2, Limit: 2}})
		if total != 3 || len(page) != 1 || page[0].ID != igcse.ID {
			t.Errorf("page 2 = %d items (total %d)", len(page), total)
		}

		beyond, _, _ := store.ListBatches(ctx, ingest.BatchFilter{Pagination: ingest.Pagination{Page: 9, Limit: 2}})
		if beyond == nil || len(beyond) != 0 {
			t.Errorf("page past the end = %v, want empty slice", beyond)
		}
	})

	t.Run("questions", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		b := newTestBatch("0580/42", curriculum.LevelIGCSE, ingest.StatusMappingTopics)
		_ = store.CreateBatch(ctx, b)

		q1 := newTestQuestion(b, "1", 2, "Algebra", "Quadratic Equations")
		q1.LessonID = "igcse-algebra-1"
		q2 := newTestQuestion(b, "2", 4, "Trigonometry")
		q3 := newTestQuestion(b, "3", 7)
		q3.Verified = true
		q3.VerifiedBy = "reviewer-1"
		for _, q := range []*ingest.Question{q1, q2, q3} {
			if err := store.CreateQuestion(ctx, q); err != nil {
				t.Fatalf("CreateQuestion() error = %v", err)
			}
		}

		got, err := store.GetQuestion(ctx, q1.ID)
		if err != nil {
			t.Fatalf("GetQuestion() error = %v", err)
		}
		if !reflect.DeepEqual(got.Subparts, q1.Subparts) {
			t.Errorf("Subparts = %+v, want %+v", got.Subparts, q1.Subparts)
		}
		if got.LessonID != "igcse-algebra-1" || len(got.Topics) != 2 {
			t.Errorf("GetQuestion() = %+v", got)
		}

		all, total, _ := store.ListQuestions(ctx, ingest.QuestionFilter{BatchID: b.ID})
		if total != 3 {
			t.Fatalf("total = %d, want 3", total)
		}
		for i, want := range []string{"1", "2", "3"} {
			if all[i].QuestionNumber != want {
				t.Errorf("question %d = %s, want insertion order", i, all[i].QuestionNumber)
			}
		}

		verified := true
		filters := []struct {
			name   string
			filter ingest.QuestionFilter
			want   []string
		}{
			{"topic substring ignores case", ingest.QuestionFilter{Topic: "quadratic"}, []string{"1"}},
			{"topic percent is literal", ingest.QuestionFilter{Topic: "%"}, []string{}},
			{"lesson", ingest.QuestionFilter{LessonID: "igcse-algebra-1"}, []string{"1"}},
			{"verified", ingest.QuestionFilter{Verified: &verified}, []string{"3"}},
			{"level", ingest.QuestionFilter{Level: curriculum.LevelALevel}, []string{}},
		}
		for _, tt := range filters {
			t.Run(tt.name, func(t *testing.T) {
				qs, total, err := store.ListQuestions(ctx, tt.filter)
				if err != nil {
					t.Fatalf("ListQuestions() error = %v", err)
				}
				got := make([]string, 0, len(qs))
				for _, q := range qs {
					got = append(got, q.QuestionNumber)
				}
				if !reflect.DeepEqual(got, tt.want) || total != len(tt.want) {
					t.Errorf("ListQuestions() = %v (total %d), want %v", got, total, tt.want)
				}
			})
		}

		got.Verified = true
		got.VerifiedBy = "reviewer-2"
		got.Topics = []string{"Algebra"}
		if err := store.UpdateQuestion(ctx, got); err != nil {
			t.Fatalf("UpdateQuestion() error = %v", err)
		}
		updated, _ := store.GetQuestion(ctx, q1.ID)
		if !updated.Verified || updated.VerifiedBy != "reviewer-2" || len(updated.Topics) != 1 {
			t.Errorf("after update = %+v", updated)
		}

		if err := store.DeleteQuestion(ctx, q2.ID); err != nil {
			t.Fatalf("DeleteQuestion() error = %v", err)
		}
		if _, err := store.GetQuestion(ctx, q2.ID); !errors.Is(err, ingest.ErrNotFound) {
			t.Errorf("GetQuestion() after delete error = %v, want ErrNotFound", err)
		}
		if err := store.DeleteQuestion(ctx, q2.ID); !errors.Is(err, ingest.ErrNotFound) {
			t.Errorf("second DeleteQuestion() error = %v, want ErrNotFound", err)
		}

		n, err := store.DeleteQuestionsByBatch(ctx, b.ID)
		if err != nil || n != 2 {
			t.Errorf("DeleteQuestionsByBatch() = %d, %v; want 2", n, err)
		}
	})

	t.Run("question requires batch", func(t *testing.T) {
		store := newStore(t)
		q := newTestQuestion(&ingest.Batch{ID: "00000000-0000-0000-0000-000000000000", SubjectLevel: curriculum.LevelIGCSE}, "1", 1)
		if err := store.CreateQuestion(t.Context(), q); !errors.Is(err, ingest.ErrNotFound) {
			t.Errorf("CreateQuestion() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("delete batch cascades", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		keep := newTestBatch("0580/41", curriculum.LevelIGCSE, ingest.StatusCompleted)
		drop := newTestBatch("0580/42", curriculum.LevelIGCSE, ingest.StatusCompleted)
		_ = store.CreateBatch(ctx, keep)
		_ = store.CreateBatch(ctx, drop)
		_ = store.PutDocument(ctx, drop.ID, ingest.DocumentQuestion, []byte("pdf"))
		_ = store.CreateQuestion(ctx, newTestQuestion(keep, "1", 1))
		_ = store.CreateQuestion(ctx, newTestQuestion(drop, "1", 1))
		_ = store.CreateQuestion(ctx, newTestQuestion(drop, "2", 1))

		if err := store.DeleteBatch(ctx, drop.ID); err != nil {
			t.Fatalf("DeleteBatch() error = %v", err)
		}
		if _, total, _ := store.ListQuestions(ctx, ingest.QuestionFilter{BatchID: drop.ID}); total != 0 {
			t.Errorf("deleted batch still has %d questions", total)
		}
		if _, total, _ := store.ListQuestions(ctx, ingest.QuestionFilter{}); total != 1 {
			t.Errorf("remaining questions = %d, want 1", total)
		}
		if _, err := store.GetDocument(ctx, drop.ID, ingest.DocumentQuestion); !errors.Is(err, ingest.ErrNotFound) {
			t.Errorf("GetDocument() after delete error = %v, want ErrNotFound", err)
		}
	})

	t.Run("stats", func(t *testing.T) {
		store := newStore(t)
		ctx := t.Context()

		p1 := newTestBatch("0580/42", curriculum.LevelIGCSE, ingest.StatusCompleted)
		p2 := newTestBatch("0580/41", curriculum.LevelIGCSE, ingest.StatusFailed)
		_ = store.CreateBatch(ctx, p1)
		_ = store.CreateBatch(ctx, p2)

		q1 := newTestQuestion(p1, "1", 2, "Algebra", "Graphs")
		q2 := newTestQuestion(p1, "2", 3, "Algebra")
		q2.Verified = true
		q3 := newTestQuestion(p2, "1", 4, "Graphs", "Algebra")
		for _, q := range []*ingest.Question{q1, q2, q3} {
			if err := store.CreateQuestion(ctx, q); err != nil {
				t.Fatalf("CreateQuestion() error = %v", err)
			}
		}

		st, err := store.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats() error = %v", err)
		}
		if st.TotalBatches != 2 || st.TotalQuestions != 3 {
			t.Errorf("totals = %d batches, %d questions", st.TotalBatches, st.TotalQuestions)
		}
		if st.BatchesByStatus[ingest.StatusCompleted] != 1 || st.BatchesByStatus[ingest.StatusFailed] != 1 {
			t.Errorf("BatchesByStatus = %v", st.BatchesByStatus)
		}
		if len(st.Levels) != 3 {
			t.Fatalf("Levels = %d, want one per curriculum level", len(st.Levels))
		}

		igcse := st.Levels[0]
		if igcse.Level != curriculum.LevelIGCSE {
			t.Fatalf("first level = %s, want IGCSE", igcse.Level)
		}
		if igcse.TotalQuestions != 3 || igcse.TotalMarks != 9 || igcse.AverageMarks != 3 {
			t.Errorf("IGCSE totals = %+v", igcse)
		}
		if igcse.Verified != 1 || igcse.DistinctPapers != 2 {
			t.Errorf("IGCSE verified = %d, papers = %d; want 1, 2", igcse.Verified, igcse.DistinctPapers)
		}
		wantTopics := []ingest.TopicCount{{Topic: "Algebra", Count: 3}, {Topic: "Graphs", Count: 2}}
		if !reflect.DeepEqual(igcse.Topics, wantTopics) {
			t.Errorf("IGCSE topics = %+v, want %+v", igcse.Topics, wantTopics)
		}

		empty := st.Levels[2]
		if empty.TotalQuestions != 0 || empty.AverageMarks != 0 || empty.Topics == nil {
			t.Errorf("empty level = %+v", empty)
		}
	})
}

func TestPagination_Normalize(t *testing.T) {
	tests := []struct {
		in         ingest.Pagination
		want       ingest.Pagination
		wantOffset int
	}{
		{ingest.Pagination{}, ingest.Pagination{Page: 1, Limit: 20}, 0},
		{ingest.Pagination{Page: 3, Limit: 10}, ingest.Pagination{Page: 3, Limit: 10}, 20},
		{ingest.Pagination{Page: -1, Limit: 500}, ingest.Pagination{Page: 1, Limit: 100}, 0},
	}
	for _, tt := range tests {
		if got := tt.in.Normalize(); got != tt.want {
			t.Errorf("Normalize(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
		if got := tt.in.Offset(); got != tt.wantOffset {
			t.Errorf("Offset(%+v) = %d, want %d", tt.in, got, tt.wantOffset)
		}
	}
}

func TestStatus(t *testing.T) {
	for _, s := range ingest.Statuses() {
		if !s.Valid() {
			t.Errorf("%s should be valid", s)
		}
		want := s == ingest.StatusCompleted || s == ingest.StatusFailed
		if s.Terminal() != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, s.Terminal(), want)
		}
	}
	if ingest.Status("queued").Valid() {
		t.Error("unknown status should not be valid")
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := ingest.NewMemoryStore()
	ctx := t.Context()

	b := newTestBatch("0580/42", curriculum.LevelIGCSE, ingest.StatusUploaded)
	_ = store.CreateBatch(ctx, b)
	q := newTestQuestion(b, "1", 2, "Algebra")
	_ = store.CreateQuestion(ctx, q)

	got, _ := store.GetBatch(ctx, b.ID)
	got.Logs[0].Message = "changed"
	gotQ, _ := store.GetQuestion(ctx, q.ID)
	gotQ.Topics[0] = "changed"
	gotQ.Subparts[0].ExaminerNotes[0] = "changed"

	again, _ := store.GetBatch(ctx, b.ID)
	if again.Logs[0].Message == "changed" {
		t.Error("mutating a returned batch should not change the store")
	}
	againQ, _ := store.GetQuestion(ctx, q.ID)
	if againQ.Topics[0] == "changed" || againQ.Subparts[0].ExaminerNotes[0] == "changed" {
		t.Error("mutating a returned question should not change the store")
	}
}
