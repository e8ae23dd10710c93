// Package report exports analysis findings as downloadable artifacts.
package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/loghawk/loghawk/internal/storage"
)

var columns = []string{
	"Severity", "Category", "Title", "Description", "Line", "Evidence",
	"Source", "Confidence", "MITRE Tactic", "MITRE Technique", "Detected At",
}

// WriteXLSX renders the findings of one analysis result to an Excel
// workbook. Rows arrive pre-sorted from storage (severity rank, then line).
func WriteXLSX(w io.Writer, upload *storage.Upload, findings []storage.FindingModel) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Findings"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return err
		}
	}

	for row, fd := range findings {
		values := []any{
			fd.Severity,
			fd.Category,
			fd.Title,
			fd.Description,
			fd.LineNumber,
			fd.LineContent,
			fd.Source,
			fd.Confidence,
			fd.MITRETactic,
			fd.MITRETechnique,
			fd.CreatedAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return err
			}
		}
	}

	if err := f.SetColWidth(sheet, "A", "K", 22); err != nil {
		return err
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// FileName derives the download name for an upload's report.
func FileName(upload *storage.Upload) string {
	return fmt.Sprintf("findings-%s.xlsx", upload.ID)
}
