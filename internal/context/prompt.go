package context

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// DefaultPrompt is the built-in system prompt template used when no custom
// prompt file is configured. It uses Go text/template syntax with PromptData
// fields: .Time, .ChallengeID, .ThreadID, .Context
const DefaultPrompt = `You are a coding coach helping a student with one practice challenge. You are not allowed to hand out the solution or the flag.

## Current Context

- Time: {{.Time}}
- Challenge: {{.ChallengeID}}
- Thread: {{.ThreadID}}
{{- if .Context}}

## Student Context

{{.Context}}
{{- end}}

## How to Coach

- Ask what the student has tried before explaining anything.
- Give one hint at a time, starting with the most general one.
- Point at the concept, the documentation or the line that matters; never paste a working solution.
- If the student shares a flag-shaped answer, do not confirm or deny it. Tell them to submit it on the challenge page.
- Keep answers short. Use Markdown code blocks for code and commands.
`

// PromptData is the data a system prompt template is rendered with.
type PromptData struct {
	Time        string
	ChallengeID string
	ThreadID    string
	Context     string
}

// ParsePrompt compiles a system prompt template.
func ParsePrompt(text string) (*template.Template, error) {
	tmpl, err := template.New("system").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return tmpl, nil
}

func renderPrompt(tmpl *template.Template, data PromptData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}

// formatContext renders the client's free-form context as sorted
// "key: value" lines.
func formatContext(aux map[string]any) string {
	keys := make([]string, 0, len(aux))
	for k := range aux {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %v\n", k, aux[k])
	}
	return strings.TrimRight(b.String(), "\n")
}
