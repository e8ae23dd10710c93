// Package extract turns uploaded files into ordered log lines. Plain text
// is the normal case; PDF and XLSX exports from log tooling are supported so
// analysts can upload whatever their SIEM handed them.
package extract

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/loghawk/loghawk/internal/models"
)

// Reader extracts ordered lines from one content format.
type Reader interface {
	Lines(r io.ReaderAt, size int64) ([]models.LogLine, error)
}

// ForFile returns the reader for the file's extension. Anything that is not
// a known binary format is treated as text.
func ForFile(name string) (Reader, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return &pdfReader{}, nil
	case ".xlsx":
		return &excelReader{}, nil
	case ".exe", ".dll", ".so", ".bin", ".zip", ".gz", ".tar",
		".jpg", ".jpeg", ".png", ".gif", ".mp3", ".mp4":
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(name))
	default:
		return &textReader{}, nil
	}
}

// textReader handles .log, .txt, .csv and any unrecognized text format.
type textReader struct{}

func (t *textReader) Lines(r io.ReaderAt, size int64) ([]models.LogLine, error) {
	scanner := bufio.NewScanner(io.NewSectionReader(r, 0, size))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []models.LogLine
	n := 0
	for scanner.Scan() {
		n++
		lines = append(lines, models.LogLine{Number: n, Content: scanner.Text()})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read text content: %w", err)
	}
	return lines, nil
}
