package curriculum

import (
	"strings"

	"golang.org/x/text/cases"
)

// Level is a curriculum tier a paper is written for.
type Level string

const (
	LevelIGCSE   Level = "IGCSE"
	LevelASLevel Level = "AS-Level"
	LevelALevel  Level = "A-Level"
)

// Levels returns every supported level in display order.
func Levels() []Level {
	return []Level{LevelIGCSE, LevelASLevel, LevelALevel}
}

// Valid reports whether l is one of the supported levels.
func (l Level) Valid() bool {
	switch l {
	case LevelIGCSE, LevelASLevel, LevelALevel:
		return true
	default:
		return false
	}
}

// ParseLevel converts s to a Level. Matching is exact.
func ParseLevel(s string) (Level, bool) {
	l := Level(s)
	return l, l.Valid()
}

// Lesson is a curriculum unit that extracted questions can be linked to.
type Lesson struct {
	ID          string `yaml:"id" json:"id"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	Level       Level  `yaml:"level" json:"level"`
	Unit        string `yaml:"unit" json:"unit,omitempty"`
}

// unitFile is a YAML file grouping several lessons under one unit.
type unitFile struct {
	Unit    string   `yaml:"unit"`
	Level   Level    `yaml:"level"`
	Lessons []Lesson `yaml:"lessons"`
}

// ContainsFold reports whether substr is within s under Unicode case folding.
// An empty substr never matches.
func ContainsFold(s, substr string) bool {
	if substr == "" {
		return false
	}
	fold := cases.Fold()
	return strings.Contains(fold.String(s), fold.String(substr))
}
