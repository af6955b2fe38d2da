package imports

import (
	"regexp"
	"sort"
	"strings"
)

// Kind is the syntactic form of a module reference
type Kind int

const (
	// Static is `import x from '...'` or a side-effect `import '...'`
	Static Kind = iota
	// ReExport is `export ... from '...'`
	ReExport
	Require
	Dynamic
)

// Import is one module reference found in a source file
type Import struct {
	Specifier string
	Kind      Kind
	// Offset is the byte offset of the statement in the scanned content
	Offset int
}

// Clause patterns span lines so that multi-line named imports are matched
var (
	staticFrom   = regexp.MustCompile(`(?m)^[ \t]*import\s+(?:type\s+)?[\w$*{}\s,]+?\s+from\s+['"]([^'"\n]+)['"]`)
	sideEffect   = regexp.MustCompile(`(?m)^[ \t]*import\s+['"]([^'"\n]+)['"]`)
	reExportFrom = regexp.MustCompile(`(?m)^[ \t]*export\s+(?:type\s+)?[\w$*{}\s,]+?\s+from\s+['"]([^'"\n]+)['"]`)
	requireCall  = regexp.MustCompile(`\brequire\s*\(\s*['"]([^'"\n]+)['"]\s*\)`)
	dynamicCall  = regexp.MustCompile(`\bimport\s*\(\s*['"]([^'"\n]+)['"]\s*\)`)
)

var patterns = []struct {
	re   *regexp.Regexp
	kind Kind
}{
	{staticFrom, Static},
	{sideEffect, Static},
	{reExportFrom, ReExport},
	{requireCall, Require},
	{dynamicCall, Dynamic},
}

// Scan returns every module reference in content in document order. Each specifier is reported
// once, at its first occurrence.
func Scan(content string) []Import {
	var found []Import
	for _, p := range patterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(content, -1) {
			found = append(found, Import{
				Specifier: content[m[2]:m[3]],
				Kind:      p.kind,
				Offset:    m[0],
			})
		}
	}
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Offset < found[j].Offset
	})

	seen := make(map[string]bool, len(found))
	results := found[:0]
	for _, imp := range found {
		if seen[imp.Specifier] {
			continue
		}
		seen[imp.Specifier] = true
		results = append(results, imp)
	}
	return results
}

// Specifiers returns the specifiers of every module reference in content
func Specifiers(content string) []string {
	var specs []string
	for _, imp := range Scan(content) {
		specs = append(specs, imp.Specifier)
	}
	return specs
}

// StaticSpecifiers returns the specifiers of top-level import statements only
func StaticSpecifiers(content string) []string {
	var specs []string
	for _, imp := range Scan(content) {
		if imp.Kind == Static {
			specs = append(specs, imp.Specifier)
		}
	}
	return specs
}

func IsRelative(spec string) bool {
	return strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") || spec == "." || spec == ".."
}

var stylesheetExts = []string{".css", ".scss", ".sass", ".less"}

func IsStylesheet(spec string) bool {
	for _, ext := range stylesheetExts {
		if strings.HasSuffix(spec, ext) {
			return true
		}
	}
	return false
}

var nodeBuiltins = map[string]bool{
	"assert": true, "buffer": true, "child_process": true, "crypto": true, "dns": true,
	"events": true, "fs": true, "http": true, "https": true, "net": true, "os": true,
	"path": true, "process": true, "querystring": true, "readline": true, "stream": true,
	"string_decoder": true, "timers": true, "tls": true, "url": true, "util": true,
	"worker_threads": true, "zlib": true,
}

// PackageName returns the installable package a specifier refers to. Scoped packages keep their
// scope (`@scope/name`), others are reduced to their first path segment. Relative paths, path
// aliases, URLs and Node builtins are not packages.
func PackageName(spec string) (string, bool) {
	switch {
	case spec == "", IsRelative(spec), strings.HasPrefix(spec, "/"):
		return "", false
	case strings.HasPrefix(spec, "@/"), strings.HasPrefix(spec, "~/"), strings.HasPrefix(spec, "#"):
		return "", false
	case strings.Contains(spec, ":"):
		// node:fs, virtual:foo, https://...
		return "", false
	}

	parts := strings.Split(spec, "/")
	if strings.HasPrefix(spec, "@") {
		if len(parts) < 2 || parts[1] == "" {
			return "", false
		}
		return parts[0] + "/" + parts[1], true
	}
	if nodeBuiltins[parts[0]] {
		return "", false
	}
	return parts[0], true
}
