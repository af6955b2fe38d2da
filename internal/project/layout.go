package project

import (
	"fmt"
	"os"
	"path"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Layout describes where things live in the generated project
type Layout struct {
	// Root is the absolute project directory inside the sandbox
	Root             string   `yaml:"root"`
	SourceDir        string   `yaml:"source_dir"`
	PublicDir        string   `yaml:"public_dir"`
	RootFiles        []string `yaml:"root_files"`
	ProtectedFiles   []string `yaml:"protected_files"`
	EntryPoints      []string `yaml:"entry_points"`
	GlobalStylesheet string   `yaml:"global_stylesheet"`
	ResolveSuffixes  []string `yaml:"resolve_suffixes"`
	// MainKeywords rank component names when picking the component the entry point mounts
	MainKeywords []string `yaml:"main_keywords"`
}

// DefaultLayout is a Vite + React + Tailwind project rooted at /home/user/app
func DefaultLayout() Layout {
	return Layout{
		Root:      "/home/user/app",
		SourceDir: "src",
		PublicDir: "public",
		RootFiles: []string{
			"index.html",
			"package.json",
			"vite.config.js",
			"tailwind.config.js",
			"postcss.config.js",
		},
		ProtectedFiles: []string{
			"tailwind.config.js",
			"vite.config.js",
			"package.json",
			"package-lock.json",
			"tsconfig.json",
			"postcss.config.js",
		},
		EntryPoints:      []string{"App.jsx", "App.tsx"},
		GlobalStylesheet: "index.css",
		ResolveSuffixes:  []string{".jsx", ".js", "/index.jsx", "/index.js"},
		MainKeywords:     []string{"header", "hero", "layout", "main", "home"},
	}
}

// LoadLayout reads a YAML layout file. Fields missing from the file keep their default values.
func LoadLayout(filePath string) (Layout, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Layout{}, fmt.Errorf("failed to read layout file: %w", err)
	}
	layout := DefaultLayout()
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return Layout{}, fmt.Errorf("failed to parse layout file: %w", err)
	}
	if err := layout.Validate(); err != nil {
		return Layout{}, err
	}
	return layout, nil
}

func (l Layout) Validate() error {
	if !path.IsAbs(l.Root) {
		return fmt.Errorf("layout root must be absolute, got %q", l.Root)
	}
	if l.SourceDir == "" {
		return fmt.Errorf("layout source_dir is required")
	}
	if len(l.EntryPoints) == 0 {
		return fmt.Errorf("layout needs at least one entry point")
	}
	return nil
}

// Normalize maps a path from a response onto the project layout. Paths already under the source or
// public tree and allowed root files are kept; everything else is placed under the source tree.
func (l Layout) Normalize(p string) string {
	p = strings.TrimLeft(strings.TrimPrefix(strings.TrimSpace(p), "./"), "/")
	if p == "" {
		return p
	}
	if l.under(p, l.SourceDir) || l.under(p, l.PublicDir) || slices.Contains(l.RootFiles, p) {
		return path.Clean(p)
	}
	return path.Join(l.SourceDir, p)
}

func (l Layout) under(p, dir string) bool {
	return dir != "" && strings.HasPrefix(p, dir+"/")
}

// IsProtected reports whether the file at p must never be regenerated
func (l Layout) IsProtected(p string) bool {
	return slices.Contains(l.ProtectedFiles, path.Base(p))
}

// AbsPath is the sandbox path of a normalized project path
func (l Layout) AbsPath(p string) string {
	return path.Join(l.Root, p)
}

// EntryPointPaths are the normalized paths of the entry point candidates
func (l Layout) EntryPointPaths() []string {
	paths := make([]string, 0, len(l.EntryPoints))
	for _, e := range l.EntryPoints {
		paths = append(paths, path.Join(l.SourceDir, e))
	}
	return paths
}

// IsEntryPoint reports whether the normalized path p is an entry point
func (l Layout) IsEntryPoint(p string) bool {
	return slices.Contains(l.EntryPointPaths(), p)
}

// StylesheetPath is the normalized path of the global stylesheet
func (l Layout) StylesheetPath() string {
	return path.Join(l.SourceDir, l.GlobalStylesheet)
}

var stylesheetImport = regexp.MustCompile(`(?m)^[ \t]*import\s+['"](\.{1,2}/[^'"]+\.(?:css|scss|sass|less))['"];?[ \t]*\r?\n?`)

var scriptExts = []string{".js", ".jsx", ".ts", ".tsx"}

// StripStylesheetImports removes side-effect imports of relative stylesheets from script files,
// the global stylesheet included. Styling goes through the utility layer.
func (l Layout) StripStylesheetImports(p, content string) string {
	if !slices.Contains(scriptExts, path.Ext(p)) {
		return content
	}
	return stylesheetImport.ReplaceAllString(content, "")
}
