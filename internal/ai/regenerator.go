package ai

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cchalm/applybot/internal/changeset"
	"github.com/cchalm/applybot/internal/filesync"
	"github.com/cchalm/applybot/internal/heal"
	"github.com/cchalm/applybot/internal/project"
)

// ComponentRegenerator asks the model for missing components and writes whatever it returns
type ComponentRegenerator struct {
	sender Sender
	parser *changeset.Parser
	writer *filesync.Writer
	logger *zap.Logger
}

func NewComponentRegenerator(sender Sender, writer *filesync.Writer, logger *zap.Logger) *ComponentRegenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ComponentRegenerator{
		sender: sender,
		parser: changeset.NewParser(logger),
		writer: writer,
		logger: logger,
	}
}

// RegenerateMissing succeeds when at least one file was written
func (cr *ComponentRegenerator) RegenerateMissing(ctx context.Context, req heal.Request) (heal.Result, error) {
	prompt, err := RegeneratePrompt(req)
	if err != nil {
		return heal.Result{}, err
	}

	reply, err := cr.sender.Send(ctx, SystemPrompt(), prompt, nil)
	if err != nil {
		return heal.Result{}, fmt.Errorf("failed to generate missing components: %w", err)
	}

	resp := cr.parser.Parse(reply)
	index := project.NewFileIndex(req.KnownFiles...)
	report := cr.writer.Write(ctx, resp.Files, index)
	for _, e := range report.Errors {
		cr.logger.Error("regenerated component was not written", zap.String("error", e))
	}

	written := report.Written()
	cr.logger.Info("regenerated missing components", zap.Strings("files", written))
	return heal.Result{
		Success:    len(written) > 0,
		Components: written,
		Files:      len(written),
	}, nil
}
