package chunking

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// promptTemplate overrides the built-in oracle prompt. It is loaded
// from the YAML file named by CHUNK_PROMPT_FILE. The transcript and the
// JSON shape line are always appended by render, so boundary offsets in
// the reply keep indexing the exact transcript string.
type promptTemplate struct {
	Instructions string   `yaml:"instructions"`
	Rules        []string `yaml:"rules"`
}

func loadPromptTemplate(path string) (*promptTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt template: %w", err)
	}

	var tpl promptTemplate
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	if strings.TrimSpace(tpl.Instructions) == "" {
		return nil, fmt.Errorf("prompt template %s has no instructions", path)
	}
	return &tpl, nil
}

// render fills {max_tokens} in the instructions and lays the prompt out
// the same way buildPrompt does: instructions, response shape, rules,
// then the transcript.
func (t *promptTemplate) render(transcript string, maxTokens int) string {
	var sb strings.Builder
	sb.WriteString(strings.ReplaceAll(t.Instructions, "{max_tokens}", strconv.Itoa(maxTokens)))
	if !strings.HasSuffix(t.Instructions, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("Respond with ONLY a JSON object of this exact shape, no prose, no markdown fences:\n")
	sb.WriteString(`{"chunks":[{"start_pos":0,"end_pos":120,"topic":"short topic summary","keywords":["k1","k2"],"confidence":0.9}]}`)
	if len(t.Rules) > 0 {
		sb.WriteString("\n\nRules:\n")
		for _, rule := range t.Rules {
			sb.WriteString("- ")
			sb.WriteString(rule)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("\nTranscript:\n")
	sb.WriteString(transcript)
	return sb.String()
}
