package dblpxml

import "strings"

// Node is either a run of character data or a child element.
type Node struct {
	Text    string
	Element *Element
}

// Element is a materialised markup element. Only the leaf kinds carry
// children; container elements are reported with their attributes alone.
type Element struct {
	Name     string
	Attrs    map[string]string
	Children []Node
}

// Attr returns the attribute value or "".
func (e *Element) Attr(name string) string {
	if e == nil {
		return ""
	}
	return e.Attrs[name]
}

// Children returns the direct child elements named name, in document order.
func (e *Element) ChildElements(name string) []*Element {
	if e == nil {
		return nil
	}
	var out []*Element
	for _, n := range e.Children {
		if n.Element != nil && n.Element.Name == name {
			out = append(out, n.Element)
		}
	}
	return out
}

// First returns the first direct child named name, or nil.
func (e *Element) First(name string) *Element {
	if e == nil {
		return nil
	}
	for _, n := range e.Children {
		if n.Element != nil && n.Element.Name == name {
			return n.Element
		}
	}
	return nil
}

// Text is the direct character data of e, ignoring nested elements.
func (e *Element) Text() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	for _, n := range e.Children {
		if n.Element == nil {
			b.WriteString(n.Text)
		}
	}
	return b.String()
}

// TextPieces returns every text run of the subtree in document order.
func (e *Element) TextPieces() []string {
	if e == nil {
		return nil
	}
	var out []string
	var walk func(*Element)
	walk = func(el *Element) {
		for _, n := range el.Children {
			if n.Element != nil {
				walk(n.Element)
				continue
			}
			out = append(out, n.Text)
		}
	}
	walk(e)
	return out
}

// JoinedText joins every text run of the subtree with single spaces.
func (e *Element) JoinedText() string {
	return strings.Join(e.TextPieces(), " ")
}

// InnerMarkup renders the children of e with nested tags kept as literal
// text, e.g. "Fast <i>k</i>-Paths". Attributes of nested tags are dropped.
func (e *Element) InnerMarkup() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*Element)
	walk = func(el *Element) {
		for _, n := range el.Children {
			if n.Element == nil {
				b.WriteString(n.Text)
				continue
			}
			b.WriteString("<" + n.Element.Name + ">")
			walk(n.Element)
			b.WriteString("</" + n.Element.Name + ">")
		}
	}
	walk(e)
	return b.String()
}
