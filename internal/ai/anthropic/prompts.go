package anthropic

import (
	"fmt"
	"strings"

	"github.com/DukeRupert/besttutor/internal/ai"
)

// buildSystemPrompt appends a JSON output instruction for the schema, since
// the Messages API has no response_format parameter.
func buildSystemPrompt(system string, schema ai.Schema) string {
	if schema.Name == "" {
		return system
	}

	var b strings.Builder
	if system != "" {
		b.WriteString(system)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Respond with a single JSON document named %q and nothing else. No markdown, no commentary.", schema.Name)
	if schema.Description != "" {
		fmt.Fprintf(&b, "\nIt should contain: %s", schema.Description)
	}
	if len(schema.JSON) > 0 {
		b.WriteString("\nIt must conform to this JSON Schema:\n")
		b.Write(schema.JSON)
	}
	return b.String()
}
