// Package curriculum loads curriculum lessons and links extracted
// questions to them.
package curriculum

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Loader loads and caches curriculum lessons from the filesystem.
type Loader struct {
	rootDir string
	lessons []Lesson
	byID    map[string]int
	mu      sync.RWMutex
}

// NewLoader creates a new curriculum loader and loads all lessons.
// A missing root directory yields an empty curriculum.
func NewLoader(rootDir string) (*Loader, error) {
	l := &Loader{
		rootDir: rootDir,
		byID:    make(map[string]int),
	}

	if err := l.loadAll(); err != nil {
		return nil, fmt.Errorf("loading curriculum: %w", err)
	}

	slog.Info("curriculum loaded", "lessons", len(l.lessons), "root", rootDir)
	return l, nil
}

// NewStaticLoader builds a Loader over an in-memory lesson list.
func NewStaticLoader(lessons []Lesson) *Loader {
	l := &Loader{byID: make(map[string]int)}
	for _, lesson := range lessons {
		l.add(lesson)
	}
	return l
}

// GetLesson returns a lesson by ID.
func (l *Loader) GetLesson(id string) (Lesson, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.byID[id]
	if !ok {
		return Lesson{}, false
	}
	return l.lessons[i], true
}

// AllLessons returns all loaded lessons in load order.
func (l *Loader) AllLessons() []Lesson {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Lesson(nil), l.lessons...)
}

func (l *Loader) loadAll() error {
	if _, err := os.Stat(l.rootDir); os.IsNotExist(err) {
		slog.Warn("curriculum directory not found", "root", l.rootDir)
		return nil
	}

	return filepath.Walk(l.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
			return l.loadFile(path)
		}
		return nil
	})
}

func (l *Loader) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var unit unitFile
	if err := yaml.Unmarshal(data, &unit); err != nil {
		slog.Warn("skipping invalid curriculum YAML", "path", path, "error", err)
		return nil
	}

	if len(unit.Lessons) > 0 {
		for _, lesson := range unit.Lessons {
			if lesson.Unit == "" {
				lesson.Unit = unit.Unit
			}
			if lesson.Level == "" {
				lesson.Level = unit.Level
			}
			l.add(lesson)
		}
		return nil
	}

	var lesson Lesson
	if err := yaml.Unmarshal(data, &lesson); err != nil {
		slog.Warn("skipping invalid lesson YAML", "path", path, "error", err)
		return nil
	}
	l.add(lesson)
	return nil
}

func (l *Loader) add(lesson Lesson) {
	if lesson.ID == "" || lesson.Title == "" {
		return // Not a lesson
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if i, ok := l.byID[lesson.ID]; ok {
		l.lessons[i] = lesson
		return
	}
	l.byID[lesson.ID] = len(l.lessons)
	l.lessons = append(l.lessons, lesson)
}
