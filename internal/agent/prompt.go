package agent

import "strings"

const basePrompt = `You are a compliance-focused coding assistant operating through Pretorin.
You have access to Pretorin MCP tools for querying frameworks, controls, evidence, and narratives.

Rules:
1. Use Pretorin MCP tools to get authoritative compliance data.
2. Reference framework/control IDs explicitly (e.g., AC-02, SC-07).
3. Use zero-padded control IDs (ac-02 not ac-2).
4. Return actionable output with evidence gaps and next steps.

`

// BuildPrompt assembles the text written to the runtime's stdin: the base
// rules, then the skill's guidance if any, then the task.
func BuildPrompt(task string, skill *Skill) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	if skill != nil {
		b.WriteString("Skill: ")
		b.WriteString(skill.Name)
		b.WriteString("\n")
		b.WriteString(strings.TrimSpace(skill.SystemPrompt))
		b.WriteString("\n\n")
	}
	b.WriteString("Task:\n")
	b.WriteString(strings.TrimSpace(task))
	return b.String()
}
