// Package dblpxml streams a dblp dump as open/close events over a fixed set
// of element kinds. Only article, inproceedings and www subtrees are held in
// memory, and each is dropped once its close event has been handled.
package dblpxml

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"
)

// ErrParseFatal marks malformed or grammar-violating input. The run cannot
// resynchronise after it.
var ErrParseFatal = errors.New("dblp parse fatal")

type EventType int

const (
	Open EventType = iota + 1
	Close
)

func (t EventType) String() string {
	switch t {
	case Open:
		return "open"
	case Close:
		return "close"
	default:
		return "unknown"
	}
}

// Event is one structural event. On Close of a leaf kind, Element holds the
// complete subtree; it must not be retained after the handler returns.
type Event struct {
	Type    EventType
	Element *Element
}

// Handler receives events in document order. A non-nil error stops parsing
// and is returned from Parse unchanged.
type Handler func(Event) error

var emittedKinds = map[string]struct{}{
	"dblp":          {},
	"phdthesis":     {},
	"book":          {},
	"mastersthesis": {},
	"incollection":  {},
	"proceedings":   {},
	"article":       {},
	"inproceedings": {},
	"www":           {},
}

var leafKinds = map[string]struct{}{
	"article":       {},
	"inproceedings": {},
	"www":           {},
}

// IsLeafKind reports whether name is materialised by the parser.
func IsLeafKind(name string) bool {
	_, ok := leafKinds[name]
	return ok
}

type Parser struct {
	grammar *Grammar
	logger  zerolog.Logger
}

func NewParser(grammar *Grammar, logger zerolog.Logger) *Parser {
	return &Parser{
		grammar: grammar,
		logger:  logger,
	}
}

// Stats counts what one Parse call saw.
type Stats struct {
	Elements int64
	Leaves   int64
}

// Parse reads r in a single pass. Cancellation is checked between
// top-level entries.
func (p *Parser) Parse(ctx context.Context, r io.Reader, handler Handler) (Stats, error) {
	if p == nil || p.grammar == nil {
		return Stats{}, fmt.Errorf("parser grammar is not loaded")
	}
	if handler == nil {
		return Stats{}, fmt.Errorf("handler is required")
	}

	dec := xml.NewDecoder(r)
	dec.Strict = true
	dec.Entity = p.grammar.Entities
	dec.CharsetReader = charsetReader

	var (
		stats Stats
		// open elements, outermost first; nil entries are unmaterialised
		stack []*Element
		names []string
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("%w: %v", ErrParseFatal, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			if !p.grammar.Declares(name) {
				return stats, fmt.Errorf("%w: element <%s> is not declared by the grammar", ErrParseFatal, name)
			}
			stats.Elements++

			if len(names) == 1 {
				if err := ctx.Err(); err != nil {
					return stats, err
				}
			}

			var parent *Element
			if len(stack) > 0 {
				parent = stack[len(stack)-1]
			}

			var el *Element
			_, emitted := emittedKinds[name]
			switch {
			case parent != nil:
				el = newElement(t)
				parent.Children = append(parent.Children, Node{Element: el})
			case emitted:
				if IsLeafKind(name) {
					el = newElement(t)
				}
				if err := handler(Event{Type: Open, Element: elementOrHeader(el, t)}); err != nil {
					return stats, err
				}
			}
			stack = append(stack, el)
			names = append(names, name)

		case xml.EndElement:
			if len(stack) == 0 {
				return stats, fmt.Errorf("%w: unexpected </%s>", ErrParseFatal, t.Name.Local)
			}
			el := stack[len(stack)-1]
			name := names[len(names)-1]
			// clear the slot so the backing array does not pin the subtree
			stack[len(stack)-1] = nil
			stack = stack[:len(stack)-1]
			names = names[:len(names)-1]

			var parent *Element
			if len(stack) > 0 {
				parent = stack[len(stack)-1]
			}
			if parent != nil {
				continue
			}
			if _, emitted := emittedKinds[name]; !emitted {
				continue
			}
			if el != nil {
				stats.Leaves++
			}
			if err := handler(Event{Type: Close, Element: elementOrHeader(el, xml.StartElement{Name: t.Name})}); err != nil {
				return stats, err
			}

		case xml.CharData:
			if len(stack) == 0 {
				continue
			}
			if el := stack[len(stack)-1]; el != nil {
				el.Children = append(el.Children, Node{Text: string(t)})
			}
		}
	}

	if len(names) != 0 {
		return stats, fmt.Errorf("%w: unexpected end of document inside <%s>", ErrParseFatal, names[len(names)-1])
	}

	p.logger.Debug().
		Int64("elements", stats.Elements).
		Int64("leaves", stats.Leaves).
		Msg("dblp parse finished")
	return stats, nil
}

func newElement(t xml.StartElement) *Element {
	el := &Element{Name: t.Name.Local}
	if len(t.Attr) > 0 {
		el.Attrs = make(map[string]string, len(t.Attr))
		for _, a := range t.Attr {
			el.Attrs[a.Name.Local] = a.Value
		}
	}
	return el
}

func elementOrHeader(el *Element, t xml.StartElement) *Element {
	if el != nil {
		return el
	}
	return newElement(t)
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "iso-8859-1", "latin1", "latin-1", "l1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "windows-1252", "cp1252":
		return charmap.Windows1252.NewDecoder().Reader(input), nil
	default:
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
}
