package ingest

import (
	"strings"

	"github.com/p-n-ai/pai-papers/internal/classify"
	"github.com/p-n-ai/pai-papers/internal/curriculum"
	"github.com/p-n-ai/pai-papers/internal/pairing"
)

// Mapper turns a paired item into a Question: it tags topics, links a
// lesson and derives marks and difficulty.
type Mapper struct {
	classifier *classify.Classifier
	lessons    *curriculum.Matcher
}

// NewMapper creates a mapper. A nil classifier falls back to the built-in
// keyword table; a nil matcher never links a lesson.
func NewMapper(classifier *classify.Classifier, lessons *curriculum.Matcher) *Mapper {
	if classifier == nil {
		classifier = classify.Default()
	}
	return &Mapper{classifier: classifier, lessons: lessons}
}

// Question builds the Question for one paired item of batch b.
func (m *Mapper) Question(b *Batch, it pairing.Item) Question {
	sq := it.Question

	q := Question{
		BatchID:         b.ID,
		PaperCode:       b.PaperCode,
		Year:            b.Year,
		Session:         b.Session,
		SubjectLevel:    b.SubjectLevel,
		QuestionNumber:  sq.QuestionNumber,
		QuestionText:    sq.FullText,
		Subparts:        []Subpart{},
		SolutionSteps:   []string{},
		RequiresDiagram: sq.HasImage,
	}
	if sq.ImageDescription != nil {
		q.ImageDescription = *sq.ImageDescription
	}

	for _, sp := range sq.Subparts {
		part := Subpart{Label: sp.Label, Text: sp.Text, ExaminerNotes: []string{}}
		if sp.Marks != nil {
			part.Marks = *sp.Marks
		}
		if it.Answers != nil {
			if ans, ok := it.Answers.Subpart(sp.Label); ok {
				part.Answer = ans.AnswerText
				part.Marks = ans.Marks
				part.ExaminerNotes = append(part.ExaminerNotes, ans.Notes...)
			}
		}
		q.Subparts = append(q.Subparts, part)
	}

	if it.Answers != nil {
		var lines []string
		for _, ans := range it.Answers.Subparts {
			lines = append(lines, labelled(ans.Label, ans.AnswerText))
			for _, note := range ans.Notes {
				q.SolutionSteps = append(q.SolutionSteps, labelled(ans.Label, note))
			}
		}
		q.Answer = strings.Join(lines, "\n")
	}

	q.TotalMarks = totalMarks(q.Subparts, it, sq.Marks)
	q.Difficulty = classify.TrainingDifficulty(q.TotalMarks)

	text := classificationText(q)
	q.Topics = m.classifier.Classify(b.SubjectLevel, text)
	q.RequiresGraph = classify.RequiresGraph(text)
	if lesson, ok := m.lessons.Match(q.Topics); ok {
		q.LessonID = lesson.ID
	}
	return q
}

// totalMarks prefers subpart marks, then the marking scheme total, then
// the marks printed against the question.
func totalMarks(subparts []Subpart, it pairing.Item, printed *int) int {
	if len(subparts) > 0 {
		return SumSubpartMarks(subparts)
	}
	if it.Answers != nil && len(it.Answers.Subparts) > 0 {
		return it.Answers.TotalMarks()
	}
	if printed != nil && *printed > 0 {
		return *printed
	}
	return 0
}

// SumSubpartMarks adds up the marks of every subpart.
func SumSubpartMarks(subparts []Subpart) int {
	total := 0
	for _, sp := range subparts {
		total += sp.Marks
	}
	return total
}

func classificationText(q Question) string {
	parts := []string{q.QuestionText}
	for _, sp := range q.Subparts {
		parts = append(parts, sp.Text)
	}
	return strings.Join(parts, "\n")
}

func labelled(label, text string) string {
	if label == "" {
		return text
	}
	return label + " " + text
}
