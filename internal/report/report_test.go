package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/loghawk/loghawk/internal/storage"
)

func TestWriteXLSX(t *testing.T) {
	upload := &storage.Upload{ID: "u-1", FileName: "access.log"}
	findings := []storage.FindingModel{
		{
			Severity:       "CRITICAL",
			Category:       "SQL_INJECTION",
			Title:          "UNION-based injection",
			Description:    "tautology in query string",
			LineNumber:     12,
			LineContent:    `GET /search?q=1 UNION SELECT password`,
			Source:         "RULE_BASED",
			Confidence:     0.9,
			MITRETactic:    "Initial Access",
			MITRETechnique: "T1190",
			CreatedAt:      time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			Severity:  "MEDIUM",
			Category:  "XSS",
			Title:     "Script tag",
			Source:    "LLM",
			CreatedAt: time.Date(2026, 3, 1, 10, 0, 1, 0, time.UTC),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, upload, findings))

	wb, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.GetRows("Findings")
	require.NoError(t, err)
	require.Len(t, rows, 3, "header plus one row per finding")
	assert.Equal(t, "Severity", rows[0][0])
	assert.Equal(t, "CRITICAL", rows[1][0])
	assert.Equal(t, "UNION-based injection", rows[1][2])
	assert.Equal(t, "12", rows[1][4])
	assert.Equal(t, "XSS", rows[2][1])
}

func TestWriteXLSXEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, &storage.Upload{ID: "u-2"}, nil))

	wb, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer wb.Close()

	rows, err := wb.GetRows("Findings")
	require.NoError(t, err)
	assert.Len(t, rows, 1, "header only")
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "findings-u-3.xlsx", FileName(&storage.Upload{ID: "u-3"}))
}
