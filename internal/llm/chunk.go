package llm

import (
	"fmt"
	"strings"

	"github.com/loghawk/loghawk/internal/models"
)

// Chunk is one bounded-size slice of the log content. Lines are rendered
// with their absolute numbers so the model can reference them directly.
type Chunk struct {
	StartLine int
	EndLine   int
	Content   string
}

// SplitChunks partitions the lines into chunks of at most maxBytes rendered
// content, never splitting inside a line. A single oversized line becomes
// its own chunk, truncated by the provider prompt limit rather than here.
func SplitChunks(lines []models.LogLine, maxBytes int) []Chunk {
	if maxBytes <= 0 {
		maxBytes = 12000
	}

	var chunks []Chunk
	var sb strings.Builder
	start := 0

	flush := func(end int) {
		if sb.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			StartLine: lines[start].Number,
			EndLine:   lines[end].Number,
			Content:   sb.String(),
		})
		sb.Reset()
	}

	for i, line := range lines {
		rendered := fmt.Sprintf("%d: %s\n", line.Number, line.Content)
		if sb.Len() > 0 && sb.Len()+len(rendered) > maxBytes {
			flush(i - 1)
			start = i
		}
		sb.WriteString(rendered)
	}
	if len(lines) > 0 {
		flush(len(lines) - 1)
	}
	return chunks
}
