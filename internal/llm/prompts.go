package llm

import (
	"fmt"
	"strings"

	"github.com/loghawk/loghawk/internal/models"
)

const analysisPromptBase = `You are a senior security analyst reviewing a web server / application log excerpt.
Each line is prefixed with its absolute line number.

Identify security-relevant events the excerpt shows: attack attempts, credential abuse, scanning, data exfiltration, privilege abuse, or anomalous traffic. Focus on context a pattern matcher would miss (multi-line attack sequences, unusual but syntactically clean requests, business-logic abuse).

Allowed categories: %s
Allowed severities: CRITICAL, HIGH, MEDIUM, LOW, INFO

Return valid JSON only, no markdown. Format:
[{"category":"...","severity":"...","title":"...","description":"...","line":123,"confidence":0.0}]
- "line" is the absolute line number of the strongest evidence, or 0 if none.
- "confidence" is 0.0-1.0; below 0.4 means likely false positive, omit those.
- "description" explains the evidence and why it matters.
If nothing is security-relevant, return [].

Log excerpt:
"""
%s
"""`

func buildPrompt(chunk Chunk) string {
	cats := make([]string, len(models.Categories))
	for i, c := range models.Categories {
		cats[i] = string(c)
	}
	return fmt.Sprintf(analysisPromptBase, strings.Join(cats, ", "), chunk.Content)
}
