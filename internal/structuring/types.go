// Package structuring asks a language model to turn extracted paper text
// into validated, per-question records.
package structuring

// PaperMetadata describes the paper being structured.
type PaperMetadata struct {
	PaperCode    string `json:"paperCode"`
	Year         int    `json:"year"`
	Session      string `json:"session"`
	PaperNumber  string `json:"paperNumber"`
	SubjectLevel string `json:"subjectLevel"`

	// BatchID is charged for model usage. It is not sent to the model.
	BatchID string `json:"-"`
}

// StructuredQuestions is the validated result of structuring a question paper.
type StructuredQuestions struct {
	Questions []StructuredQuestion `json:"questions"`
}

// StructuredQuestion is one top-level question as printed on the paper.
type StructuredQuestion struct {
	QuestionNumber     string            `json:"questionNumber"`
	FullText           string            `json:"fullText"`
	Marks              *int              `json:"marks,omitempty"`
	Subparts           []QuestionSubpart `json:"subparts"`
	HasImage           bool              `json:"hasImage"`
	ImageDescription   *string           `json:"imageDescription,omitempty"`
	DetectedTopicsHint []string          `json:"detectedTopicsHint"`
}

// QuestionSubpart is a labelled part such as "(a)" or "(b)(ii)".
type QuestionSubpart struct {
	Label string `json:"label"`
	Text  string `json:"text"`
	Marks *int   `json:"marks,omitempty"`
}

// StructuredAnswers is the validated result of structuring a marking scheme.
type StructuredAnswers struct {
	Answers []AnswerSet `json:"answers"`
}

// AnswerSet holds the marking-scheme entries for one question number.
type AnswerSet struct {
	QuestionNumber string          `json:"questionNumber"`
	Subparts       []AnswerSubpart `json:"subparts"`
}

// AnswerSubpart is the expected answer and mark allocation for one part.
type AnswerSubpart struct {
	Label      string   `json:"label"`
	AnswerText string   `json:"answerText"`
	Marks      int      `json:"marks"`
	Notes      []string `json:"notes"`
}

// TotalMarks sums the marks of every subpart.
func (a AnswerSet) TotalMarks() int {
	total := 0
	for _, sp := range a.Subparts {
		total += sp.Marks
	}
	return total
}

// Subpart returns the answer entry with the given label.
func (a AnswerSet) Subpart(label string) (AnswerSubpart, bool) {
	for _, sp := range a.Subparts {
		if sp.Label == label {
			return sp, true
		}
	}
	return AnswerSubpart{}, false
}
