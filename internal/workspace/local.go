package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds each command run in a sandbox
const DefaultCommandTimeout = 60 * time.Second

var skippedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	"dist":         true,
}

// LocalSandbox exposes a directory on this machine as the sandbox. Sandbox paths under root are
// mapped onto dir.
type LocalSandbox struct {
	root    string
	dir     string
	timeout time.Duration
}

func NewLocalSandbox(root string, dir string) (*LocalSandbox, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project directory: %w", err)
	}
	return &LocalSandbox{
		root:    path.Clean(root),
		dir:     abs,
		timeout: DefaultCommandTimeout,
	}, nil
}

func (ls *LocalSandbox) localPath(absPath string) (string, error) {
	rel, ok := strings.CutPrefix(path.Clean(absPath), ls.root+"/")
	if !ok || rel == "" || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside the project root %s", absPath, ls.root)
	}
	return filepath.Join(ls.dir, filepath.FromSlash(rel)), nil
}

func (ls *LocalSandbox) WriteFile(_ context.Context, absPath string, content string) error {
	p, err := ls.localPath(absPath)
	if err != nil {
		return WriteError{Path: absPath, Err: err}
	}
	err = os.MkdirAll(filepath.Dir(p), 0o755)
	if err != nil {
		return WriteError{Path: absPath, Err: err}
	}
	err = os.WriteFile(p, []byte(content), 0o644)
	if err != nil {
		return WriteError{Path: absPath, Err: err}
	}
	return nil
}

// RunCommand runs command through sh in the project directory. A non-zero exit is reported in the
// result, not as an error.
func (ls *LocalSandbox) RunCommand(ctx context.Context, command string) (CommandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, ls.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = ls.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("failed to run command %q: %w", command, err)
	}
	return result, nil
}

func (ls *LocalSandbox) ListFiles(_ context.Context) ([]string, error) {
	var files []string
	err := filepath.WalkDir(ls.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != ls.dir && skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(ls.dir, p)
		if err != nil {
			return err
		}
		files = append(files, path.Join(ls.root, filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk project directory: %w", err)
	}
	return files, nil
}
