// Package heal detects components the entry point imports but nobody wrote, and asks a regenerator
// to produce them.
package heal

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cchalm/applybot/internal/project"
)

// Request describes the missing components to regenerate
type Request struct {
	MissingImports []string `json:"missingImports"`
	EntryPath      string   `json:"entryPath,omitempty"`
	EntryContent   string   `json:"entryContent,omitempty"`
	// KnownFiles are the normalized paths that already exist in the project
	KnownFiles []string `json:"knownFiles,omitempty"`
}

// Result is what a regenerator produced. Components holds the paths it wrote.
type Result struct {
	Success    bool     `json:"success"`
	Components []string `json:"components"`
	Files      int      `json:"files"`
}

// Regenerator produces files for missing imports
type Regenerator interface {
	RegenerateMissing(ctx context.Context, req Request) (Result, error)
}

// Outcome is the healer's report to the pipeline
type Outcome struct {
	Missing   []string
	Healed    bool
	Generated Result
	// Warning is set when missing imports remain
	Warning string
}

// Healer checks an entry point's imports after a write and regenerates what is missing
type Healer struct {
	layout      project.Layout
	regenerator Regenerator
	logger      *zap.Logger
}

func NewHealer(layout project.Layout, regenerator Regenerator, logger *zap.Logger) *Healer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Healer{layout: layout, regenerator: regenerator, logger: logger}
}

// Heal checks the entry point at entryPath against parsed (this turn's normalized paths) and index.
// Regeneration failures degrade to a warning.
func (h *Healer) Heal(ctx context.Context, entryPath, content string, parsed []string, index *project.FileIndex) Outcome {
	missing := h.layout.MissingReferences(entryPath, content, parsed, index)
	out := Outcome{Missing: missing}
	if len(missing) == 0 {
		return out
	}
	h.logger.Warn("entry point imports missing files", zap.String("entry", entryPath), zap.Strings("imports", missing))

	if h.regenerator == nil {
		out.Warning = Warning(missing)
		return out
	}

	var known []string
	if index != nil {
		known = index.Paths()
	}
	res, err := h.regenerator.RegenerateMissing(ctx, Request{
		MissingImports: missing,
		EntryPath:      entryPath,
		EntryContent:   content,
		KnownFiles:     known,
	})
	if err != nil {
		h.logger.Error("failed to regenerate missing components", zap.Error(err))
		out.Warning = Warning(missing)
		return out
	}
	if !res.Success {
		h.logger.Warn("regenerator did not produce the missing components", zap.Strings("imports", missing))
		out.Warning = Warning(missing)
		return out
	}

	out.Healed = true
	out.Generated = res
	return out
}

// Warning is the message reported when missing imports could not be regenerated
func Warning(missing []string) string {
	return fmt.Sprintf("Missing %d imported components: %s", len(missing), strings.Join(missing, ", "))
}
