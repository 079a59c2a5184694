// Package pairing joins structured questions with their marking-scheme
// answers by question number.
package pairing

import "github.com/p-n-ai/pai-papers/internal/structuring"

// Item is a question with its answer set, if one was found.
type Item struct {
	Question structuring.StructuredQuestion
	Answers  *structuring.AnswerSet
}

// Paired reports whether an answer set was matched.
func (it Item) Paired() bool { return it.Answers != nil }

// Pair matches each question with the answer set whose question number is
// exactly equal. Every question is returned, in order. An answer set is used
// at most once: with duplicate question numbers it goes to the first
// question still unpaired, and later duplicates get no answer.
func Pair(questions []structuring.StructuredQuestion, answers []structuring.AnswerSet) []Item {
	pending := make(map[string][]int, len(answers))
	for i, a := range answers {
		pending[a.QuestionNumber] = append(pending[a.QuestionNumber], i)
	}

	items := make([]Item, len(questions))
	for i, q := range questions {
		items[i].Question = q
		idx := pending[q.QuestionNumber]
		if len(idx) == 0 {
			continue
		}
		a := answers[idx[0]]
		items[i].Answers = &a
		pending[q.QuestionNumber] = idx[1:]
	}
	return items
}

// PairedCount counts items that have an answer set.
func PairedCount(items []Item) int {
	n := 0
	for _, it := range items {
		if it.Paired() {
			n++
		}
	}
	return n
}
