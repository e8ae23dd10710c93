package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForFile(t *testing.T) {
	for _, name := range []string{"access.log", "notes.txt", "export.csv", "no-extension"} {
		r, err := ForFile(name)
		require.NoError(t, err, name)
		assert.IsType(t, &textReader{}, r, name)
	}

	r, err := ForFile("report.pdf")
	require.NoError(t, err)
	assert.IsType(t, &pdfReader{}, r)

	r, err = ForFile("Findings.XLSX")
	require.NoError(t, err)
	assert.IsType(t, &excelReader{}, r)

	for _, name := range []string{"malware.exe", "archive.zip", "image.png"} {
		_, err := ForFile(name)
		assert.Error(t, err, name)
	}
}

func TestTextReaderNumbersLines(t *testing.T) {
	content := "first\nsecond\n\nfourth"
	r := strings.NewReader(content)

	lines, err := (&textReader{}).Lines(r, int64(len(content)))
	require.NoError(t, err)
	require.Len(t, lines, 4)
	assert.Equal(t, 1, lines[0].Number)
	assert.Equal(t, "first", lines[0].Content)
	assert.Equal(t, 3, lines[2].Number)
	assert.Empty(t, lines[2].Content)
	assert.Equal(t, "fourth", lines[3].Content)
}

func TestDirStoreRoundTrip(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	content := "line one\nline two\n"
	n, err := store.Save("upload-1", "access.log", strings.NewReader(content))
	require.NoError(t, err)
	assert.EqualValues(t, len(content), n)

	lines, err := store.Lines("upload-1", "access.log")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "line one", lines[0].Content)
	assert.Equal(t, 2, lines[1].Number)
}

func TestDirStoreMissingUpload(t *testing.T) {
	store, err := NewDirStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Lines("never-saved", "a.log")
	assert.Error(t, err)
}
