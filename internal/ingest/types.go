// Package ingest runs the past-paper ingestion pipeline: it tracks each
// upload as a Batch, drives it through extraction, structuring, pairing and
// topic mapping, and stores the resulting Questions.
package ingest

import (
	"time"

	"github.com/p-n-ai/pai-papers/internal/classify"
	"github.com/p-n-ai/pai-papers/internal/curriculum"
)

// Status is a batch pipeline state.
type Status string

const (
	StatusUploaded      Status = "uploaded"
	StatusExtracting    Status = "extracting"
	StatusPairing       Status = "pairing"
	StatusMappingTopics Status = "mapping_topics"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// Statuses lists every state in pipeline order.
func Statuses() []Status {
	return []Status{StatusUploaded, StatusExtracting, StatusPairing, StatusMappingTopics, StatusCompleted, StatusFailed}
}

// Valid reports whether s is a defined state.
func (s Status) Valid() bool {
	switch s {
	case StatusUploaded, StatusExtracting, StatusPairing, StatusMappingTopics, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether a run has ended in s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// LogEntry is one line in a batch's append-only pipeline log.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Stage     Status    `json:"stage"`
	Message   string    `json:"message"`
	Success   bool      `json:"success"`
	Attempt   int       `json:"attempt"`
}

// Batch is one ingestion of a question paper and its marking scheme.
type Batch struct {
	ID           string           `json:"id"`
	PaperCode    string           `json:"paperCode"`
	Year         int              `json:"year"`
	Session      string           `json:"session,omitempty"`
	PaperNumber  string           `json:"paperNumber,omitempty"`
	SubjectLevel curriculum.Level `json:"subjectLevel"`

	QuestionText   string `json:"questionText,omitempty"`
	MarkschemeText string `json:"markschemeText,omitempty"`

	Status             Status     `json:"status"`
	ErrorMessage       string     `json:"errorMessage,omitempty"`
	ExtractedQuestions int        `json:"extractedQuestions"`
	PairedQuestions    int        `json:"pairedQuestions"`
	TopicsMapped       int        `json:"topicsMapped"`
	Logs               []LogEntry `json:"logs"`

	UploadedBy       string `json:"uploadedBy"`
	Attempt          int    `json:"attempt"`
	QuestionDigest   string `json:"questionDigest,omitempty"`
	MarkschemeDigest string `json:"markschemeDigest,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// Clone returns a deep copy of b.
func (b *Batch) Clone() *Batch {
	cp := *b
	cp.Logs = append([]LogEntry{}, b.Logs...)
	if b.CompletedAt != nil {
		t := *b.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Summary drops the extracted texts and logs for list views.
func (b *Batch) Summary() Batch {
	cp := *b.Clone()
	cp.QuestionText = ""
	cp.MarkschemeText = ""
	cp.Logs = []LogEntry{}
	return cp
}

// DocumentKind names one of the two source documents of a batch.
type DocumentKind string

const (
	DocumentQuestion   DocumentKind = "question"
	DocumentMarkscheme DocumentKind = "markscheme"
)

// Subpart is one labelled part of a Question with its marking-scheme entry.
type Subpart struct {
	Label         string   `json:"label"`
	Text          string   `json:"text"`
	Marks         int      `json:"marks"`
	Answer        string   `json:"answer"`
	ExaminerNotes []string `json:"examinerNotes"`
}

// Question is one examinable unit extracted from a paper.
type Question struct {
	ID           string           `json:"id"`
	BatchID      string           `json:"batchId"`
	PaperCode    string           `json:"paperCode"`
	Year         int              `json:"year"`
	Session      string           `json:"session,omitempty"`
	SubjectLevel curriculum.Level `json:"subjectLevel"`

	Topics   []string `json:"topics"`
	LessonID string   `json:"lessonId,omitempty"`

	QuestionNumber string    `json:"questionNumber"`
	QuestionText   string    `json:"questionText"`
	Subparts       []Subpart `json:"subparts"`
	Answer         string    `json:"answer"`
	SolutionSteps  []string  `json:"solutionSteps"`

	TotalMarks       int                 `json:"totalMarks"`
	Difficulty       classify.Difficulty `json:"difficulty"`
	RequiresGraph    bool                `json:"requiresGraph"`
	RequiresDiagram  bool                `json:"requiresDiagram"`
	ImageDescription string              `json:"imageDescription,omitempty"`

	Verified   bool   `json:"verified"`
	VerifiedBy string `json:"verifiedBy,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of q.
func (q *Question) Clone() *Question {
	cp := *q
	cp.Topics = append([]string{}, q.Topics...)
	cp.SolutionSteps = append([]string{}, q.SolutionSteps...)
	cp.Subparts = make([]Subpart, len(q.Subparts))
	for i, sp := range q.Subparts {
		sp.ExaminerNotes = append([]string{}, sp.ExaminerNotes...)
		cp.Subparts[i] = sp
	}
	return &cp
}

// HasTopic reports whether q is tagged with a topic containing substr,
// ignoring case.
func (q *Question) HasTopic(substr string) bool {
	for _, t := range q.Topics {
		if curriculum.ContainsFold(t, substr) {
			return true
		}
	}
	return false
}

// Pagination selects a window of a list. Page numbers start at 1.
type Pagination struct {
	Page  int
	Limit int
}

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Normalize clamps p to sane values.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = defaultPageLimit
	}
	if p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	return p
}

// Offset is the number of rows skipped before this page.
func (p Pagination) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.Limit
}

// BatchFilter narrows a batch listing. Zero values match everything.
type BatchFilter struct {
	Level  curriculum.Level
	Status Status
	Pagination
}

// QuestionFilter narrows a question listing. Zero values match everything.
type QuestionFilter struct {
	Level    curriculum.Level
	LessonID string
	Topic    string // case-insensitive substring of any topic
	Verified *bool
	BatchID  string
	Pagination
}

// Match reports whether q passes the filter, ignoring pagination.
func (f QuestionFilter) Match(q *Question) bool {
	if f.Level != "" && q.SubjectLevel != f.Level {
		return false
	}
	if f.LessonID != "" && q.LessonID != f.LessonID {
		return false
	}
	if f.Topic != "" && !q.HasTopic(f.Topic) {
		return false
	}
	if f.Verified != nil && q.Verified != *f.Verified {
		return false
	}
	if f.BatchID != "" && q.BatchID != f.BatchID {
		return false
	}
	return true
}

// Stats summarises the question bank.
type Stats struct {
	TotalBatches    int            `json:"totalBatches"`
	BatchesByStatus map[Status]int `json:"batchesByStatus"`
	TotalQuestions  int            `json:"totalQuestions"`
	Levels          []LevelStats   `json:"levels"`
}

// LevelStats summarises the questions of one curriculum level.
type LevelStats struct {
	Level          curriculum.Level `json:"level"`
	TotalQuestions int              `json:"totalQuestions"`
	TotalMarks     int              `json:"totalMarks"`
	AverageMarks   float64          `json:"averageMarks"`
	Verified       int              `json:"verified"`
	DistinctPapers int              `json:"distinctPapers"`
	Topics         []TopicCount     `json:"topics"`
}

// TopicCount is how many questions carry a topic.
type TopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}
