package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/loghawk/loghawk/internal/models"
)

// excelReader flattens XLSX log exports: each row becomes one line, cells
// joined with a space. Numbering continues across sheets.
type excelReader struct{}

func (e *excelReader) Lines(r io.ReaderAt, size int64) ([]models.LogLine, error) {
	f, err := excelize.OpenReader(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var lines []models.LogLine
	n := 0
	for _, sheet := range f.GetSheetList() {
		rows, err := f.Rows(sheet)
		if err != nil {
			continue
		}
		for rows.Next() {
			cols, err := rows.Columns()
			if err != nil {
				break
			}
			line := strings.TrimSpace(strings.Join(cols, " "))
			if line == "" {
				continue
			}
			n++
			lines = append(lines, models.LogLine{Number: n, Content: line})
		}
		rows.Close()
	}
	return lines, nil
}
