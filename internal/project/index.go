package project

import "sort"

// FileIndex is the set of normalized paths known to exist in the live project. It only grows. It is
// not safe for concurrent writers; callers serialize access through the session lock.
type FileIndex struct {
	paths map[string]struct{}
}

func NewFileIndex(paths ...string) *FileIndex {
	idx := &FileIndex{paths: map[string]struct{}{}}
	for _, p := range paths {
		idx.Add(p)
	}
	return idx
}

func (idx *FileIndex) Add(p string) {
	if p == "" {
		return
	}
	idx.paths[p] = struct{}{}
}

func (idx *FileIndex) Has(p string) bool {
	_, ok := idx.paths[p]
	return ok
}

// HasAny reports whether any of paths is known
func (idx *FileIndex) HasAny(paths ...string) bool {
	for _, p := range paths {
		if idx.Has(p) {
			return true
		}
	}
	return false
}

func (idx *FileIndex) Len() int {
	return len(idx.paths)
}

// Paths returns the known paths, sorted
func (idx *FileIndex) Paths() []string {
	out := make([]string, 0, len(idx.paths))
	for p := range idx.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
