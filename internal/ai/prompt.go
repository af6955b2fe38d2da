package ai

import (
	"bytes"
	_ "embed"
	"fmt"
	"text/template"

	"github.com/cchalm/applybot/internal/heal"
)

//go:embed system_prompt.md
var systemPrompt string

//go:embed generate_prompt.tmpl
var generatePromptTemplate string

//go:embed regenerate_prompt.tmpl
var regeneratePromptTemplate string

var (
	generateTmpl   = template.Must(template.New("generate").Parse(generatePromptTemplate))
	regenerateTmpl = template.Must(template.New("regenerate").Parse(regeneratePromptTemplate))
)

// SystemPrompt returns the instructions that make the model reply in the tag grammar
func SystemPrompt() string {
	return systemPrompt
}

// GenerateData is the input of a generation prompt
type GenerateData struct {
	Prompt string
	IsEdit bool
	// RecentChanges is the rendered change history of the session, if any
	RecentChanges string
	KnownFiles    []string
}

// GeneratePrompt renders the user prompt for a generation request
func GeneratePrompt(data GenerateData) (string, error) {
	var buf bytes.Buffer
	if err := generateTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}

// RegeneratePrompt renders the prompt asking for the missing components of req
func RegeneratePrompt(req heal.Request) (string, error) {
	var buf bytes.Buffer
	if err := regenerateTmpl.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("failed to execute regenerate template: %w", err)
	}
	return buf.String(), nil
}
