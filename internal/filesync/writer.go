// Package filesync writes resolved file blocks into the sandbox.
package filesync

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/cchalm/applybot/internal/changeset"
	"github.com/cchalm/applybot/internal/project"
	"github.com/cchalm/applybot/internal/workspace"
)

// Report lists what a write pass did. Paths are normalized project paths.
type Report struct {
	Created []string
	Updated []string
	// Skipped holds protected files that were not written
	Skipped []string
	Errors  []string
}

// Written returns the created and updated paths, in write order
func (r Report) Written() []string {
	return append(append([]string{}, r.Created...), r.Updated...)
}

type Writer struct {
	layout  project.Layout
	sandbox workspace.Sandbox
	logger  *zap.Logger
}

func NewWriter(layout project.Layout, sandbox workspace.Sandbox, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{layout: layout, sandbox: sandbox, logger: logger}
}

// Write persists blocks in order. A failed write is recorded and the remaining blocks are still
// written. Every successfully written path is added to index.
func (w *Writer) Write(ctx context.Context, blocks []changeset.FileBlock, index *project.FileIndex) Report {
	var report Report
	for _, b := range blocks {
		p := w.layout.Normalize(b.Path)
		if p == "" {
			report.Errors = append(report.Errors, fmt.Sprintf("failed to write %q: empty path", b.Path))
			continue
		}
		if w.layout.IsProtected(p) {
			w.logger.Info("skipping protected config file", zap.String("path", p))
			report.Skipped = append(report.Skipped, p)
			continue
		}

		existed := index.Has(p)
		err := w.WriteNormalized(ctx, p, b.Content, index)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("failed to write %s: %v", p, unwrapWriteError(err)))
			continue
		}
		if existed {
			report.Updated = append(report.Updated, p)
		} else {
			report.Created = append(report.Created, p)
		}
	}
	return report
}

// WriteNormalized writes content to the normalized path p, stripping stylesheet imports from
// scripts, and records p in index on success
func (w *Writer) WriteNormalized(ctx context.Context, p, content string, index *project.FileIndex) error {
	content = w.layout.StripStylesheetImports(p, content)
	err := w.sandbox.WriteFile(ctx, w.layout.AbsPath(p), content)
	if err != nil {
		w.logger.Error("failed to write file", zap.String("path", p), zap.Error(err))
		return err
	}
	w.logger.Debug("wrote file", zap.String("path", p), zap.Int("bytes", len(content)))
	index.Add(p)
	return nil
}

func unwrapWriteError(err error) error {
	var we workspace.WriteError
	if errors.As(err, &we) && we.Err != nil {
		return we.Err
	}
	return err
}
