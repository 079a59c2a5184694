package classify

// Difficulty is a coarse difficulty label derived from a mark total.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// Valid reports whether d is a known label.
func (d Difficulty) Valid() bool {
	return d == Easy || d == Medium || d == Hard
}

// TrainingDifficulty labels questions extracted from past papers:
// up to 2 marks is easy, 3 to 5 medium, above 5 hard.
func TrainingDifficulty(marks int) Difficulty {
	switch {
	case marks <= 2:
		return Easy
	case marks <= 5:
		return Medium
	default:
		return Hard
	}
}

// GeneratedDifficulty labels generated practice questions: up to 2 marks is
// easy, 3 to 4 medium, above 4 hard. Keep it separate from
// TrainingDifficulty; the medium band is deliberately narrower here.
func GeneratedDifficulty(marks int) Difficulty {
	switch {
	case marks <= 2:
		return Easy
	case marks <= 4:
		return Medium
	default:
		return Hard
	}
}
