package llm

import (
	"fmt"
	"strings"
)

// ExtractJSON pulls a JSON object out of a model response, tolerating
// markdown fences and surrounding prose.
func ExtractJSON(content string) (string, error) {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		if idx := strings.LastIndex(content, "```"); idx >= 0 {
			content = content[:idx]
		}
		content = strings.TrimSpace(content)
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object found in response")
	}

	return content[start : end+1], nil
}
