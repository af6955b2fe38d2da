package project

import (
	"path"

	"github.com/cchalm/applybot/internal/imports"
)

// MissingReferences returns the relative imports of the entry point at entryPath that resolve to no
// file among parsed (normalized paths written this turn) or the index. Stylesheet imports are not
// checked. Specifiers are reported as written in the source.
func (l Layout) MissingReferences(entryPath, content string, parsed []string, index *FileIndex) []string {
	known := make(map[string]bool, len(parsed))
	for _, p := range parsed {
		known[l.Normalize(p)] = true
	}
	exists := func(p string) bool {
		return known[p] || (index != nil && index.Has(p))
	}

	dir := path.Dir(entryPath)
	var missing []string
	for _, spec := range imports.StaticSpecifiers(content) {
		if !imports.IsRelative(spec) || imports.IsStylesheet(spec) {
			continue
		}
		base := path.Join(dir, spec)
		found := exists(base)
		for _, suffix := range l.ResolveSuffixes {
			if found {
				break
			}
			found = exists(base + suffix)
		}
		if !found {
			missing = append(missing, spec)
		}
	}
	return missing
}
