package workspace

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemorySandbox keeps files in memory on top of an optional read-only base snapshot. Writes never
// touch the base, so the set of changes can be inspected afterwards. Commands are recorded and
// answered from a table of canned results.
type MemorySandbox struct {
	mu sync.Mutex

	base        map[string]string // path -> content (the starting project)
	workingTree map[string]string // path -> content (files written since)

	commands []string
	results  map[string]CommandResult
	failures map[string]error
}

func NewMemorySandbox(base map[string]string) *MemorySandbox {
	if base == nil {
		base = map[string]string{}
	}
	return &MemorySandbox{
		base:        base,
		workingTree: map[string]string{},
		results:     map[string]CommandResult{},
		failures:    map[string]error{},
	}
}

// FailWrites makes every later write to absPath fail with err
func (ms *MemorySandbox) FailWrites(absPath string, err error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.failures[absPath] = err
}

// SetCommandResult sets the result returned when command runs. Unknown commands succeed with no
// output.
func (ms *MemorySandbox) SetCommandResult(command string, result CommandResult) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.results[command] = result
}

func (ms *MemorySandbox) WriteFile(_ context.Context, absPath string, content string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err, ok := ms.failures[absPath]; ok {
		return WriteError{Path: absPath, Err: err}
	}
	ms.workingTree[absPath] = content
	return nil
}

func (ms *MemorySandbox) RunCommand(_ context.Context, command string) (CommandResult, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.commands = append(ms.commands, command)
	return ms.results[command], nil
}

func (ms *MemorySandbox) ListFiles(_ context.Context) ([]string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	seen := map[string]struct{}{}
	for p := range ms.base {
		seen[p] = struct{}{}
	}
	for p := range ms.workingTree {
		seen[p] = struct{}{}
	}
	files := make([]string, 0, len(seen))
	for p := range seen {
		files = append(files, p)
	}
	sort.Strings(files)
	return files, nil
}

// Read returns the current content of absPath with writes applied
func (ms *MemorySandbox) Read(absPath string) (string, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if content, ok := ms.workingTree[absPath]; ok {
		return content, nil
	}
	if content, ok := ms.base[absPath]; ok {
		return content, nil
	}
	return "", fmt.Errorf("%s: %w", absPath, ErrFileNotFound)
}

// Commands returns the commands run so far, in order
func (ms *MemorySandbox) Commands() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return append([]string(nil), ms.commands...)
}

// Changelist returns the files written since the sandbox was created
func (ms *MemorySandbox) Changelist() Changelist {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	modified := make(map[string]string, len(ms.workingTree))
	for p, c := range ms.workingTree {
		modified[p] = c
	}
	return Changelist{modified: modified}
}

// Changelist is a snapshot of written files
type Changelist struct {
	modified map[string]string
}

// ForEachModified calls fn for each written file in path order
func (cl Changelist) ForEachModified(fn func(path string, content string) error) error {
	paths := make([]string, 0, len(cl.modified))
	for p := range cl.modified {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		err := fn(p, cl.modified[p])
		if err != nil {
			return fmt.Errorf("error while handling modified file '%s': %w", p, err)
		}
	}
	return nil
}

func (cl Changelist) IsModified(path string) bool {
	_, ok := cl.modified[path]
	return ok
}

func (cl Changelist) IsEmpty() bool {
	return len(cl.modified) == 0
}
