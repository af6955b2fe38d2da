// Package workspace provides access to the live project sandbox.
package workspace

import (
	"context"
	"fmt"
	"strings"

	"github.com/cchalm/applybot/internal/project"
)

var (
	ErrFileNotFound error = fmt.Errorf("file not found")
)

// Sandbox is the live environment that stores and runs the project. Paths are absolute sandbox
// paths.
type Sandbox interface {
	// WriteFile writes content to the file at absPath, creating parent directories as needed
	WriteFile(ctx context.Context, absPath string, content string) error
	// RunCommand runs a shell command in the project root
	RunCommand(ctx context.Context, command string) (CommandResult, error)
	// ListFiles lists every file in the project as absolute paths
	ListFiles(ctx context.Context) ([]string, error)
}

// CommandResult is the outcome of a command that ran to completion
type CommandResult struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

func (r CommandResult) Succeeded() bool {
	return r.ExitCode == 0
}

// WriteError is returned by sandboxes when a file cannot be written
type WriteError struct {
	Path string
	Err  error
}

func (we WriteError) Error() string {
	return fmt.Sprintf("failed to write %s: %v", we.Path, we.Err)
}

func (we WriteError) Unwrap() error {
	return we.Err
}

// SeedIndex adds every file the sandbox reports under the layout root to index
func SeedIndex(ctx context.Context, sb Sandbox, layout project.Layout, index *project.FileIndex) error {
	files, err := sb.ListFiles(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sandbox files: %w", err)
	}
	prefix := strings.TrimSuffix(layout.Root, "/") + "/"
	for _, f := range files {
		if rel, ok := strings.CutPrefix(f, prefix); ok && rel != "" {
			index.Add(rel)
		}
	}
	return nil
}
