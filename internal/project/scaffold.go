package project

import (
	"bytes"
	_ "embed"
	"fmt"
	"path"
	"strings"
	"text/template"
	"unicode"
)

//go:embed templates/entry_point.tmpl
var entryPointTemplate string

//go:embed templates/index.css
var defaultStylesheet string

var entryPointTmpl = template.Must(template.New("entry_point").Parse(entryPointTemplate))

// Component is a generated component file the entry point imports
type Component struct {
	Path   string
	Name   string
	Import string
}

// EntryPoint is a synthesized entry point file
type EntryPoint struct {
	Path       string
	Content    string
	Components []Component
	// Main is the name of the mounted component, empty when there were no components
	Main string
}

// ScaffoldEntryPoint builds an entry point that imports every component in written and mounts the
// most likely main one. written holds normalized paths.
func (l Layout) ScaffoldEntryPoint(written []string) (EntryPoint, error) {
	components := l.components(written)
	ep := EntryPoint{
		Path:       l.EntryPointPaths()[0],
		Components: components,
	}
	if main, ok := l.pickMain(components); ok {
		ep.Main = main.Name
	}

	var buf bytes.Buffer
	err := entryPointTmpl.Execute(&buf, ep)
	if err != nil {
		return EntryPoint{}, fmt.Errorf("failed to render entry point: %w", err)
	}
	ep.Content = buf.String()
	return ep, nil
}

// DefaultStylesheet is the global stylesheet written when a project has none
func (l Layout) DefaultStylesheet() string {
	return defaultStylesheet
}

func (l Layout) components(written []string) []Component {
	var out []Component
	used := map[string]int{}
	for _, p := range written {
		ext := path.Ext(p)
		if ext != ".jsx" && ext != ".tsx" {
			continue
		}
		base := path.Base(p)
		if l.IsEntryPoint(p) || strings.HasPrefix(base, "App.") || strings.HasPrefix(base, "main.") || strings.HasPrefix(base, "index.") {
			continue
		}

		name := identifier(strings.TrimSuffix(base, ext))
		used[name]++
		if n := used[name]; n > 1 {
			name = fmt.Sprintf("%s%d", name, n)
		}

		rel := strings.TrimPrefix(strings.TrimSuffix(p, ext), l.SourceDir+"/")
		out = append(out, Component{Path: p, Name: name, Import: "./" + rel})
	}
	return out
}

// pickMain returns the first component whose file name matches the highest ranked keyword, or the
// first component
func (l Layout) pickMain(components []Component) (Component, bool) {
	if len(components) == 0 {
		return Component{}, false
	}
	for _, kw := range l.MainKeywords {
		for _, c := range components {
			if strings.Contains(strings.ToLower(path.Base(c.Path)), kw) {
				return c, true
			}
		}
	}
	return components[0], true
}

// identifier turns a file name like "hero-section" into a component name like "HeroSection"
func identifier(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	id := b.String()
	if id == "" || unicode.IsDigit(rune(id[0])) {
		id = "Component" + id
	}
	return id
}
