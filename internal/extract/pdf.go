package extract

import (
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/loghawk/loghawk/internal/models"
)

// pdfReader extracts text page by page. Line numbering continues across
// pages so references stay stable for the whole document.
type pdfReader struct{}

func (p *pdfReader) Lines(r io.ReaderAt, size int64) ([]models.LogLine, error) {
	doc, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var lines []models.LogLine
	n := 0
	for i := 1; i <= doc.NumPage(); i++ {
		page := doc.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			// Skip unreadable pages rather than failing the whole upload.
			continue
		}
		for _, line := range strings.Split(content, "\n") {
			line = strings.TrimRight(line, "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			n++
			lines = append(lines, models.LogLine{Number: n, Content: line})
		}
	}
	return lines, nil
}
