package curriculum

// LessonSource supplies lessons in a stable order.
type LessonSource interface {
	AllLessons() []Lesson
}

// Matcher links detected topics to a curriculum lesson.
type Matcher struct {
	source LessonSource
}

// NewMatcher creates a lesson matcher over source.
func NewMatcher(source LessonSource) *Matcher {
	return &Matcher{source: source}
}

// Match walks topics in order and returns the first lesson whose title or
// description contains the topic, ignoring case. The first topic that hits
// wins; lessons are not ranked.
func (m *Matcher) Match(topics []string) (Lesson, bool) {
	if m == nil || m.source == nil || len(topics) == 0 {
		return Lesson{}, false
	}

	lessons := m.source.AllLessons()
	for _, topic := range topics {
		for _, lesson := range lessons {
			if ContainsFold(lesson.Title, topic) || ContainsFold(lesson.Description, topic) {
				return lesson, true
			}
		}
	}
	return Lesson{}, false
}
