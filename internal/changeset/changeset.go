package changeset

import "strings"

// FileBlock is one file occurrence extracted from a response. IsComplete is true only when the
// closing tag was found.
type FileBlock struct {
	Path       string `json:"path"`
	Content    string `json:"content"`
	IsComplete bool   `json:"isComplete"`
}

// Response is everything extracted from a single generation turn. Files holds at most one block per
// path, in first-seen order.
type Response struct {
	Files       []FileBlock `json:"files"`
	Commands    []string    `json:"commands"`
	Packages    []string    `json:"packages"`
	Structure   *string     `json:"structure,omitempty"`
	Explanation string      `json:"explanation"`
	Template    *string     `json:"template,omitempty"`
}

// FileMap returns the files of the response keyed by path
func (r Response) FileMap() map[string]string {
	m := make(map[string]string, len(r.Files))
	for _, f := range r.Files {
		m[f.Path] = f.Content
	}
	return m
}

// Paths returns the file paths of the response in order
func (r Response) Paths() []string {
	paths := make([]string, 0, len(r.Files))
	for _, f := range r.Files {
		paths = append(paths, f.Path)
	}
	return paths
}

// LooksTruncated reports whether content contains an ellipsis that is probably a placeholder for
// omitted code. Spread and rest syntax (`...props`, `...[a]`, `...{x}`) does not count.
func LooksTruncated(content string) bool {
	if strings.Contains(content, "…") {
		return true
	}
	for i := 0; ; {
		j := strings.Index(content[i:], "...")
		if j < 0 {
			return false
		}
		k := i + j + len("...")
		if k >= len(content) || !isSpreadOperand(content[k]) {
			return true
		}
		i = k
	}
}

func isSpreadOperand(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c == '_', c == '$', c == '[', c == '{', c == '(':
		return true
	}
	return false
}

// dedupe removes empty and repeated entries, keeping the first occurrence of each
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
