// Package classify tags question text with curriculum topics and derives
// difficulty labels from mark totals.
package classify

import "github.com/p-n-ai/pai-papers/internal/curriculum"

// Classifier is a keyword-driven topic tagger. It is immutable once built
// and safe for concurrent use.
type Classifier struct {
	table Table
}

// New creates a classifier over a copy of table.
func New(table Table) *Classifier {
	return &Classifier{table: table.Clone()}
}

// Default returns a classifier over the built-in table.
func Default() *Classifier {
	return &Classifier{table: defaultTable}
}

// Classify returns the topics for level whose keywords occur in text,
// ignoring case. Topics come back in table order without duplicates.
func (c *Classifier) Classify(level curriculum.Level, text string) []string {
	topics := []string{}
	seen := make(map[string]bool)

	for _, tk := range c.table[level] {
		if seen[tk.Topic] {
			continue
		}
		for _, kw := range tk.Keywords {
			if curriculum.ContainsFold(text, kw) {
				topics = append(topics, tk.Topic)
				seen[tk.Topic] = true
				break
			}
		}
	}
	return topics
}

// Topics lists every topic configured for level, in table order.
func (c *Classifier) Topics(level curriculum.Level) []string {
	out := make([]string, 0, len(c.table[level]))
	for _, tk := range c.table[level] {
		out = append(out, tk.Topic)
	}
	return out
}

// Classify tags text using the built-in table.
func Classify(level curriculum.Level, text string) []string {
	return Default().Classify(level, text)
}

var graphKeywords = []string{"graph", "plot", "sketch", "axes", "coordinate grid", "grid below"}

// RequiresGraph reports whether the question asks the candidate to work on
// a graph or grid.
func RequiresGraph(text string) bool {
	for _, kw := range graphKeywords {
		if curriculum.ContainsFold(text, kw) {
			return true
		}
	}
	return false
}
