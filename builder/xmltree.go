package builder

import (
	"encoding/xml"
	"io"
	"strings"
)

// xmlElem is a generic, order-preserving parse of one XML element: its
// tag, attributes, and an ordered mix of child elements and text runs.
// Mapper documents are parsed into this shape first so that <include>
// expansion (spec.md §4.D.1) can clone and splice subtrees before the
// template compiler ever sees them.
type xmlElem struct {
	Tag      string
	Attrs    map[string]string
	Children []interface{} // each is *xmlElem or xmlText
}

type xmlText string

func parseXMLTree(data []byte) (*xmlElem, error) {
	dec := xml.NewDecoder(strings.NewReader(string(data)))
	var stack []*xmlElem
	var root *xmlElem

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			elem := &xmlElem{Tag: t.Name.Local, Attrs: map[string]string{}}
			for _, a := range t.Attr {
				elem.Attrs[a.Name.Local] = a.Value
			}
			stack = append(stack, elem)
		case xml.CharData:
			if len(stack) == 0 {
				continue
			}
			top := stack[len(stack)-1]
			top.Children = append(top.Children, xmlText(string(t)))
		case xml.EndElement:
			n := len(stack)
			if n == 0 {
				continue
			}
			elem := stack[n-1]
			stack = stack[:n-1]
			if len(stack) == 0 {
				root = elem
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, elem)
			}
		}
	}
	return root, nil
}

// clone deep-copies elem so an <include>d fragment can be spliced into
// multiple call sites without aliasing.
func (e *xmlElem) clone() *xmlElem {
	if e == nil {
		return nil
	}
	out := &xmlElem{Tag: e.Tag, Attrs: map[string]string{}}
	for k, v := range e.Attrs {
		out.Attrs[k] = v
	}
	for _, c := range e.Children {
		switch cc := c.(type) {
		case *xmlElem:
			out.Children = append(out.Children, cc.clone())
		case xmlText:
			out.Children = append(out.Children, cc)
		}
	}
	return out
}

// childrenByTag returns the direct child elements matching tag, in order.
func (e *xmlElem) childrenByTag(tag string) []*xmlElem {
	var out []*xmlElem
	for _, c := range e.Children {
		if el, ok := c.(*xmlElem); ok && el.Tag == tag {
			out = append(out, el)
		}
	}
	return out
}

// text concatenates this element's direct text children.
func (e *xmlElem) text() string {
	var b strings.Builder
	for _, c := range e.Children {
		if t, ok := c.(xmlText); ok {
			b.WriteString(string(t))
		}
	}
	return b.String()
}
