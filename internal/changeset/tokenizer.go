package changeset

import "strings"

type tagName string

const (
	tagFile        tagName = "file"
	tagCommand     tagName = "command"
	tagPackage     tagName = "package"
	tagPackages    tagName = "packages"
	tagStructure   tagName = "structure"
	tagExplanation tagName = "explanation"
	tagTemplate    tagName = "template"
)

// Longer names must come before their prefixes so "<packages>" is not read as "<package" + "s>".
var knownTags = []tagName{
	tagPackages,
	tagPackage,
	tagFile,
	tagCommand,
	tagStructure,
	tagExplanation,
	tagTemplate,
}

type tokenKind int

const (
	tokenText tokenKind = iota
	tokenOpen
	tokenClose
)

type token struct {
	kind  tokenKind
	tag   tagName
	attrs map[string]string
	// raw is the exact input text covered by the token
	raw string
}

// tokenize splits raw into recognized tag tokens and text. Anything that looks like markup but is
// not one of the known tags (JSX, HTML) stays inside a text token.
func tokenize(raw string) []token {
	var tokens []token
	textStart := 0
	i := 0
	for i < len(raw) {
		j := strings.IndexByte(raw[i:], '<')
		if j < 0 {
			break
		}
		i += j
		tok, n, ok := readTag(raw[i:])
		if !ok {
			i++
			continue
		}
		if textStart < i {
			tokens = append(tokens, token{kind: tokenText, raw: raw[textStart:i]})
		}
		tokens = append(tokens, tok)
		i += n
		textStart = i
	}
	if textStart < len(raw) {
		tokens = append(tokens, token{kind: tokenText, raw: raw[textStart:]})
	}
	return tokens
}

// readTag tries to read a known tag at the start of s, which begins with '<'. It returns the token
// and the number of bytes consumed.
func readTag(s string) (token, int, bool) {
	closing := strings.HasPrefix(s, "</")
	rest := s[1:]
	if closing {
		rest = s[2:]
	}

	for _, name := range knownTags {
		if !strings.HasPrefix(rest, string(name)) {
			continue
		}
		after := rest[len(name):]
		offset := len(s) - len(after)

		if closing {
			if strings.HasPrefix(after, ">") {
				return token{kind: tokenClose, tag: name, raw: s[:offset+1]}, offset + 1, true
			}
			continue
		}

		if strings.HasPrefix(after, ">") {
			return token{kind: tokenOpen, tag: name, raw: s[:offset+1]}, offset + 1, true
		}
		if after == "" || !isSpace(after[0]) {
			continue
		}
		attrs, n, ok := readAttrs(after)
		if !ok {
			continue
		}
		return token{kind: tokenOpen, tag: name, attrs: attrs, raw: s[:offset+n]}, offset + n, true
	}
	return token{}, 0, false
}

// readAttrs reads `name="value"` pairs up to and including the closing '>'. Values may use single
// or double quotes and may contain '>'.
func readAttrs(s string) (map[string]string, int, bool) {
	attrs := map[string]string{}
	i := 0
	for {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) {
			return nil, 0, false
		}
		if s[i] == '>' {
			return attrs, i + 1, true
		}

		start := i
		for i < len(s) && isAttrNameChar(s[i]) {
			i++
		}
		if i == start || i >= len(s) || s[i] != '=' {
			return nil, 0, false
		}
		name := s[start:i]
		i++
		if i >= len(s) || (s[i] != '"' && s[i] != '\'') {
			return nil, 0, false
		}
		quote := s[i]
		i++
		end := strings.IndexByte(s[i:], quote)
		if end < 0 {
			return nil, 0, false
		}
		attrs[name] = s[i : i+end]
		i += end + 1
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isAttrNameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_'
}
