package ingest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/p-n-ai/pai-papers/internal/curriculum"
)

// Store persists batches, their source documents and the questions they
// produce. Implementations return ErrNotFound for unknown IDs.
type Store interface {
	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	ListBatches(ctx context.Context, f BatchFilter) ([]Batch, int, error)
	// UpdateBatch overwrites every mutable field of an existing batch.
	UpdateBatch(ctx context.Context, b *Batch) error
	// MarkFailed sets a batch to failed with message and appends entry to
	// its log. Every other field keeps its stored value.
	MarkFailed(ctx context.Context, id, message string, entry LogEntry) error
	// DeleteBatch removes a batch with its documents and questions.
	DeleteBatch(ctx context.Context, id string) error

	PutDocument(ctx context.Context, batchID string, kind DocumentKind, data []byte) error
	GetDocument(ctx context.Context, batchID string, kind DocumentKind) ([]byte, error)

	CreateQuestion(ctx context.Context, q *Question) error
	GetQuestion(ctx context.Context, id string) (*Question, error)
	ListQuestions(ctx context.Context, f QuestionFilter) ([]Question, int, error)
	UpdateQuestion(ctx context.Context, q *Question) error
	DeleteQuestion(ctx context.Context, id string) error
	// DeleteQuestionsByBatch removes every question of a batch and reports
	// how many were deleted.
	DeleteQuestionsByBatch(ctx context.Context, batchID string) (int, error)

	Stats(ctx context.Context) (Stats, error)
	Ping(ctx context.Context) error
}

type memBatch struct {
	batch *Batch
	seq   int64
	docs  map[DocumentKind][]byte
}

type memQuestion struct {
	question *Question
	seq      int64
}

// MemoryStore is an in-memory implementation of Store.
type MemoryStore struct {
	batches   map[string]*memBatch
	questions map[string]*memQuestion
	seq       int64
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches:   make(map[string]*memBatch),
		questions: make(map[string]*memQuestion),
	}
}

func (s *MemoryStore) CreateBatch(_ context.Context, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if b.ID == "" {
		b.ID = newID()
	}
	if _, ok := s.batches[b.ID]; ok {
		return ErrConflict
	}
	now := time.Now().UTC()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if b.Logs == nil {
		b.Logs = []LogEntry{}
	}
	s.seq++
	s.batches[b.ID] = &memBatch{batch: b.Clone(), seq: s.seq, docs: make(map[DocumentKind][]byte)}
	return nil
}

func (s *MemoryStore) GetBatch(_ context.Context, id string) (*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mb, ok := s.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return mb.batch.Clone(), nil
}

func (s *MemoryStore) ListBatches(_ context.Context, f BatchFilter) ([]Batch, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*memBatch, 0, len(s.batches))
	for _, mb := range s.batches {
		if f.Level != "" && mb.batch.SubjectLevel != f.Level {
			continue
		}
		if f.Status != "" && mb.batch.Status != f.Status {
			continue
		}
		matched = append(matched, mb)
	}
	// Newest first.
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq > matched[j].seq })

	total := len(matched)
	lo, hi := window(f.Pagination, total)
	out := make([]Batch, 0, hi-lo)
	for _, mb := range matched[lo:hi] {
		out = append(out, mb.batch.Summary())
	}
	return out, total, nil
}

func (s *MemoryStore) UpdateBatch(_ context.Context, b *Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mb, ok := s.batches[b.ID]
	if !ok {
		return ErrNotFound
	}
	b.CreatedAt = mb.batch.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	mb.batch = b.Clone()
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, id, message string, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mb, ok := s.batches[id]
	if !ok {
		return ErrNotFound
	}
	mb.batch.Status = StatusFailed
	mb.batch.ErrorMessage = message
	mb.batch.Logs = append(mb.batch.Logs, entry)
	mb.batch.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DeleteBatch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.batches[id]; !ok {
		return ErrNotFound
	}
	delete(s.batches, id)
	for qid, mq := range s.questions {
		if mq.question.BatchID == id {
			delete(s.questions, qid)
		}
	}
	return nil
}

func (s *MemoryStore) PutDocument(_ context.Context, batchID string, kind DocumentKind, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mb, ok := s.batches[batchID]
	if !ok {
		return ErrNotFound
	}
	mb.docs[kind] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) GetDocument(_ context.Context, batchID string, kind DocumentKind) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mb, ok := s.batches[batchID]
	if !ok {
		return nil, ErrNotFound
	}
	data, ok := mb.docs[kind]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) CreateQuestion(_ context.Context, q *Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.batches[q.BatchID]; !ok {
		return ErrNotFound
	}
	if q.ID == "" {
		q.ID = newID()
	}
	if _, ok := s.questions[q.ID]; ok {
		return ErrConflict
	}
	now := time.Now().UTC()
	q.CreatedAt = now
	q.UpdatedAt = now
	s.seq++
	s.questions[q.ID] = &memQuestion{question: q.Clone(), seq: s.seq}
	return nil
}

func (s *MemoryStore) GetQuestion(_ context.Context, id string) (*Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mq, ok := s.questions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return mq.question.Clone(), nil
}

func (s *MemoryStore) ListQuestions(_ context.Context, f QuestionFilter) ([]Question, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*memQuestion, 0, len(s.questions))
	for _, mq := range s.questions {
		if f.Match(mq.question) {
			matched = append(matched, mq)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	total := len(matched)
	lo, hi := window(f.Pagination, total)
	out := make([]Question, 0, hi-lo)
	for _, mq := range matched[lo:hi] {
		out = append(out, *mq.question.Clone())
	}
	return out, total, nil
}

func (s *MemoryStore) UpdateQuestion(_ context.Context, q *Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mq, ok := s.questions[q.ID]
	if !ok {
		return ErrNotFound
	}
	q.CreatedAt = mq.question.CreatedAt
	q.UpdatedAt = time.Now().UTC()
	mq.question = q.Clone()
	return nil
}

func (s *MemoryStore) DeleteQuestion(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.questions[id]; !ok {
		return ErrNotFound
	}
	delete(s.questions, id)
	return nil
}

func (s *MemoryStore) DeleteQuestionsByBatch(_ context.Context, batchID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, mq := range s.questions {
		if mq.question.BatchID == batchID {
			delete(s.questions, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Stats(_ context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batches := make([]*Batch, 0, len(s.batches))
	for _, mb := range s.batches {
		batches = append(batches, mb.batch)
	}
	questions := make([]*Question, 0, len(s.questions))
	for _, mq := range s.questions {
		questions = append(questions, mq.question)
	}
	return computeStats(batches, questions), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func newID() string {
	return uuid.NewString()
}

// window returns the slice bounds of page p over n items.
func window(p Pagination, n int) (int, int) {
	p = p.Normalize()
	lo := p.Offset()
	if lo > n {
		lo = n
	}
	hi := lo + p.Limit
	if hi > n {
		hi = n
	}
	return lo, hi
}

type paperKey struct {
	code    string
	year    int
	session string
}

func computeStats(batches []*Batch, questions []*Question) Stats {
	st := Stats{
		TotalBatches:    len(batches),
		BatchesByStatus: make(map[Status]int),
		TotalQuestions:  len(questions),
	}
	for _, b := range batches {
		st.BatchesByStatus[b.Status]++
	}

	type acc struct {
		ls     LevelStats
		papers map[paperKey]bool
		topics map[string]int
	}
	byLevel := make(map[curriculum.Level]*acc)
	for _, level := range curriculum.Levels() {
		byLevel[level] = &acc{
			ls:     LevelStats{Level: level},
			papers: make(map[paperKey]bool),
			topics: make(map[string]int),
		}
	}

	for _, q := range questions {
		a, ok := byLevel[q.SubjectLevel]
		if !ok {
			continue
		}
		a.ls.TotalQuestions++
		a.ls.TotalMarks += q.TotalMarks
		if q.Verified {
			a.ls.Verified++
		}
		a.papers[paperKey{q.PaperCode, q.Year, q.Session}] = true
		for _, t := range q.Topics {
			a.topics[t]++
		}
	}

	for _, level := range curriculum.Levels() {
		a := byLevel[level]
		a.ls.DistinctPapers = len(a.papers)
		if a.ls.TotalQuestions > 0 {
			a.ls.AverageMarks = roundAverage(float64(a.ls.TotalMarks) / float64(a.ls.TotalQuestions))
		}
		a.ls.Topics = make([]TopicCount, 0, len(a.topics))
		for t, n := range a.topics {
			a.ls.Topics = append(a.ls.Topics, TopicCount{Topic: t, Count: n})
		}
		sortTopicCounts(a.ls.Topics)
		st.Levels = append(st.Levels, a.ls)
	}
	return st
}

// sortTopicCounts orders by descending count, then topic name.
func sortTopicCounts(tc []TopicCount) {
	sort.Slice(tc, func(i, j int) bool {
		if tc[i].Count != tc[j].Count {
			return tc[i].Count > tc[j].Count
		}
		return tc[i].Topic < tc[j].Topic
	})
}

func roundAverage(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
