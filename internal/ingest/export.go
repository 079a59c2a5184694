package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Questions"

var exportHeaders = []string{
	"Question",
	"Text",
	"Subparts",
	"Answer",
	"Total Marks",
	"Difficulty",
	"Topics",
	"Lesson",
	"Requires Graph",
	"Requires Diagram",
	"Verified",
	"Verified By",
}

// ExportBatch renders every question of a batch as an XLSX workbook for
// offline checking.
func (s *Service) ExportBatch(ctx context.Context, batchID string) ([]byte, error) {
	start := time.Now()

	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	questions, err := s.BatchQuestions(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}

	data, err := writeWorkbook(b, questions)
	if err != nil {
		return nil, err
	}

	slog.Info("batch exported",
		"batch_id", batchID,
		"rows", len(questions),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return data, nil
}

func writeWorkbook(b *Batch, questions []Question) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	title := fmt.Sprintf("%s %d %s (%s)", b.PaperCode, b.Year, b.Session, b.SubjectLevel)
	if err := f.SetCellValue(exportSheet, "A1", strings.Join(strings.Fields(title), " ")); err != nil {
		return nil, fmt.Errorf("write title: %w", err)
	}

	const headerRow = 2
	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, headerRow)
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	row := headerRow + 1
	for _, q := range questions {
		values := []any{
			q.QuestionNumber,
			q.QuestionText,
			formatSubparts(q.Subparts),
			q.Answer,
			q.TotalMarks,
			string(q.Difficulty),
			strings.Join(q.Topics, ", "),
			q.LessonID,
			q.RequiresGraph,
			q.RequiresDiagram,
			q.Verified,
			q.VerifiedBy,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(exportSheet, cell, v); err != nil {
				return nil, fmt.Errorf("write row %d: %w", row, err)
			}
		}
		row++
	}

	_ = f.SetColWidth(exportSheet, "A", "A", 10)
	_ = f.SetColWidth(exportSheet, "B", "D", 60)
	_ = f.SetColWidth(exportSheet, "E", "F", 12)
	_ = f.SetColWidth(exportSheet, "G", "H", 30)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func formatSubparts(subparts []Subpart) string {
	lines := make([]string, 0, len(subparts))
	for _, sp := range subparts {
		lines = append(lines, fmt.Sprintf("%s %s [%d]", sp.Label, sp.Text, sp.Marks))
	}
	return strings.Join(lines, "\n")
}
