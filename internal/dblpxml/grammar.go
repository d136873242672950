package dblpxml

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var (
	commentPattern     = regexp.MustCompile(`(?s)<!--.*?-->`)
	elementDeclPattern = regexp.MustCompile(`<!ELEMENT\s+([A-Za-z_][\w.\-]*)`)
	entityDeclPattern  = regexp.MustCompile(`<!ENTITY\s+([A-Za-z_][\w.\-]*)\s+(?:"([^"]*)"|'([^']*)')\s*>`)
	charRefPattern     = regexp.MustCompile(`&#(x[0-9A-Fa-f]+|[0-9]+);`)
)

// Grammar is the subset of a DTD the parser enforces: the set of declared
// element names and the general entities used to resolve references.
type Grammar struct {
	Elements map[string]struct{}
	Entities map[string]string
}

// LoadGrammar reads element and general entity declarations from a DTD.
// Parameter entities are ignored.
func LoadGrammar(r io.Reader) (*Grammar, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read grammar: %w", err)
	}
	text := commentPattern.ReplaceAllString(string(raw), "")

	g := &Grammar{
		Elements: make(map[string]struct{}),
		Entities: make(map[string]string),
	}
	for _, m := range elementDeclPattern.FindAllStringSubmatch(text, -1) {
		g.Elements[m[1]] = struct{}{}
	}
	for _, m := range entityDeclPattern.FindAllStringSubmatch(text, -1) {
		value := m[2]
		if value == "" {
			value = m[3]
		}
		resolved, err := resolveCharRefs(value)
		if err != nil {
			return nil, fmt.Errorf("%w: entity %q: %v", ErrParseFatal, m[1], err)
		}
		g.Entities[m[1]] = resolved
	}
	if len(g.Elements) == 0 {
		return nil, fmt.Errorf("%w: grammar declares no elements", ErrParseFatal)
	}
	return g, nil
}

// Declares reports whether name is a declared element.
func (g *Grammar) Declares(name string) bool {
	if g == nil {
		return false
	}
	_, ok := g.Elements[name]
	return ok
}

func resolveCharRefs(value string) (string, error) {
	var firstErr error
	out := charRefPattern.ReplaceAllStringFunc(value, func(ref string) string {
		body := strings.TrimSuffix(strings.TrimPrefix(ref, "&#"), ";")
		base := 10
		if strings.HasPrefix(body, "x") {
			body = body[1:]
			base = 16
		}
		code, err := strconv.ParseInt(body, base, 32)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return ref
		}
		return string(rune(code))
	})
	return out, firstErr
}
