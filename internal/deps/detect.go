package deps

import (
	"path"
	"sort"
	"strings"

	"github.com/cchalm/applybot/internal/imports"
)

// configFiles are assumed to exist in the project template and are never scanned
var configFiles = map[string]bool{
	"package.json":       true,
	"package-lock.json":  true,
	"vite.config.js":     true,
	"vite.config.ts":     true,
	"tailwind.config.js": true,
	"tailwind.config.ts": true,
	"postcss.config.js":  true,
	"postcss.config.cjs": true,
	"tsconfig.json":      true,
}

var scriptExts = map[string]bool{
	".js":  true,
	".jsx": true,
	".ts":  true,
	".tsx": true,
	".mjs": true,
	".cjs": true,
}

// IsConfigFile reports whether p names one of the project's tooling config files
func IsConfigFile(p string) bool {
	return configFiles[path.Base(p)]
}

// Detect returns the packages referenced by the script files in files. Files are visited in path
// order and packages are reported in first-seen order.
func Detect(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		if IsConfigFile(p) || !scriptExts[strings.ToLower(path.Ext(p))] {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var names []string
	for _, p := range paths {
		for _, spec := range imports.Specifiers(files[p]) {
			if name, ok := imports.PackageName(spec); ok {
				names = append(names, name)
			}
		}
	}
	return Merge(names)
}

// Merge unions lists of package names, dropping blanks and keeping the first occurrence of each
func Merge(lists ...[]string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, list := range lists {
		for _, name := range list {
			name = strings.TrimSpace(name)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
