package changeset

import (
	"strings"

	"go.uber.org/zap"
)

// Parser extracts a Response from raw model output. Tags do not have to be well nested: an
// unterminated file tag runs until the next recognized opening tag or the end of the input.
type Parser struct {
	logger *zap.Logger
}

func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// Parse extracts and resolves every tag in raw
func (p *Parser) Parse(raw string) Response {
	sc := p.scan(raw)

	resp := Response{
		Files:       p.Resolve(sc.files),
		Commands:    sc.commands,
		Packages:    dedupe(sc.packages),
		Structure:   sc.structure,
		Template:    sc.template,
		Explanation: "",
	}
	if sc.explanation != nil {
		resp.Explanation = *sc.explanation
	}
	if resp.Commands == nil {
		resp.Commands = []string{}
	}
	return resp
}

// Resolve reduces blocks to one block per path, in first-seen order. A complete block replaces an
// incomplete one, and between blocks of equal completeness the longer content wins. A block that
// looks truncated is kept only when nothing else has been seen for its path.
func (p *Parser) Resolve(blocks []FileBlock) []FileBlock {
	index := make(map[string]int, len(blocks))
	out := make([]FileBlock, 0, len(blocks))

	for _, b := range blocks {
		i, seen := index[b.Path]
		if !seen {
			if LooksTruncated(b.Content) {
				p.logger.Warn("file contains an ellipsis and may be truncated", zap.String("path", b.Path))
			}
			index[b.Path] = len(out)
			out = append(out, b)
			continue
		}

		existing := out[i]
		if !supersedes(existing, b) {
			p.logger.Debug("discarding duplicate file block",
				zap.String("path", b.Path),
				zap.Bool("complete", b.IsComplete),
				zap.Int("length", len(b.Content)),
			)
			continue
		}
		if LooksTruncated(b.Content) {
			p.logger.Warn("ignoring later file block that contains an ellipsis", zap.String("path", b.Path))
			continue
		}

		p.logger.Info("replacing file block",
			zap.String("path", b.Path),
			zap.Bool("complete", b.IsComplete),
			zap.Int("length", len(b.Content)),
		)
		out[i] = b
	}

	for _, b := range out {
		if !b.IsComplete {
			p.logger.Warn("file appears to be truncated (no closing tag)", zap.String("path", b.Path))
		}
	}
	return out
}

func supersedes(existing, candidate FileBlock) bool {
	if !existing.IsComplete && candidate.IsComplete {
		return true
	}
	if existing.IsComplete == candidate.IsComplete {
		return len(candidate.Content) > len(existing.Content)
	}
	return false
}

type scanResult struct {
	files       []FileBlock
	commands    []string
	packages    []string
	structure   *string
	explanation *string
	template    *string
}

type scanState struct {
	p    *Parser
	out  scanResult
	open *token
	body strings.Builder
}

func (p *Parser) scan(raw string) scanResult {
	st := &scanState{p: p}

	for _, tok := range tokenize(raw) {
		if st.open == nil {
			if tok.kind == tokenOpen {
				st.begin(tok)
			}
			continue
		}

		switch {
		case tok.kind == tokenClose && tok.tag == st.open.tag:
			st.finish(true)
		case tok.kind == tokenOpen:
			st.finish(false)
			st.begin(tok)
		default:
			st.body.WriteString(tok.raw)
		}
	}
	if st.open != nil {
		st.finish(false)
	}
	return st.out
}

func (st *scanState) begin(tok token) {
	if tok.tag == tagFile && tok.attrs["path"] == "" {
		st.p.logger.Warn("skipping file tag without a path attribute", zap.String("tag", tok.raw))
		return
	}
	st.open = &tok
	st.body.Reset()
}

func (st *scanState) finish(closed bool) {
	tok := *st.open
	body := st.body.String()
	st.open = nil
	st.body.Reset()

	if tok.tag == tagFile {
		st.out.files = append(st.out.files, FileBlock{
			Path:       tok.attrs["path"],
			Content:    strings.TrimSpace(body),
			IsComplete: closed,
		})
		return
	}

	if !closed {
		st.p.logger.Warn("dropping unterminated tag", zap.String("tag", string(tok.tag)))
		return
	}

	value := strings.TrimSpace(body)
	switch tok.tag {
	case tagCommand, tagPackage, tagTemplate:
		if strings.Contains(body, "\n") {
			st.p.logger.Warn("dropping multi-line tag body", zap.String("tag", string(tok.tag)))
			return
		}
	}

	switch tok.tag {
	case tagCommand:
		if value != "" {
			st.out.commands = append(st.out.commands, value)
		}
	case tagPackage:
		st.out.packages = append(st.out.packages, value)
	case tagPackages:
		st.out.packages = append(st.out.packages, splitPackages(value)...)
	case tagStructure:
		setOnce(&st.out.structure, value)
	case tagExplanation:
		setOnce(&st.out.explanation, value)
	case tagTemplate:
		setOnce(&st.out.template, value)
	}
}

func setOnce(dst **string, value string) {
	if *dst == nil {
		*dst = &value
	}
}

func splitPackages(body string) []string {
	fields := strings.FieldsFunc(body, func(r rune) bool {
		return r == '\n' || r == ','
	})
	var out []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
