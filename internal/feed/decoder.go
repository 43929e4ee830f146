// Package feed decodes podcast RSS documents into a generic, sanitized tree.
//
// The tree mirrors the XML structure:
//
//   - the root element is elided, its value is returned
//   - an element holding only text becomes a string, an empty element becomes ""
//   - attributes are merged into the element object next to child elements
//   - text mixed with attributes or children is stored under the "_" key
//   - repeated siblings collapse into a []any in document order
//
// Namespace prefixes are kept verbatim ("itunes:image", "xmlns:itunes").
// Text is trimmed and sanitized so that only <br> and <a href> markup survives.
// Attribute values are kept as-is, since enclosure and image URLs must stay usable.
package feed

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html/charset"
)

// TextKey holds the text of elements that also carry attributes or children
const TextKey = "_"

// ParseError reports input that is not a well-formed XML document
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("feed: malformed XML at line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("feed: malformed XML: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Decoder converts raw feed XML into a sanitized tree. It is safe for concurrent use.
type Decoder struct {
	policy *bluemonday.Policy
}

// NewDecoder returns a Decoder allowing <br> and <a href> in text values
func NewDecoder() *Decoder {
	policy := bluemonday.NewPolicy()
	policy.AllowElements("br")
	policy.AllowAttrs("href").OnElements("a")
	policy.AllowNoAttrs().OnElements("a")

	return &Decoder{policy: policy}
}

var defaultDecoder = NewDecoder()

// Decode decodes raw with the default Decoder
func Decode(raw []byte) (any, error) {
	return defaultDecoder.Decode(raw)
}

type element struct {
	name   string
	fields map[string]any
	text   strings.Builder
}

// Decode parses raw and returns the value of its root element
func (d *Decoder) Decode(raw []byte) (any, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Strict = true
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = charset.NewReaderLabel

	var (
		stack    []*element
		root     any
		rootDone bool
	)

	for {
		// RawToken keeps namespace prefixes instead of resolving them to URLs,
		// which means tag balance has to be checked here.
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, syntaxError(dec, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if rootDone {
				return nil, positionError(dec, errors.New("multiple root elements"))
			}
			el := &element{name: elementName(t.Name), fields: make(map[string]any)}
			for _, attr := range t.Attr {
				addField(el.fields, qualifiedName(attr.Name), attr.Value)
			}
			stack = append(stack, el)

		case xml.EndElement:
			if len(stack) == 0 {
				return nil, positionError(dec, fmt.Errorf("unexpected closing tag </%s>", qualifiedName(t.Name)))
			}
			el := stack[len(stack)-1]
			if name := elementName(t.Name); name != el.name {
				return nil, positionError(dec, fmt.Errorf("element <%s> closed by </%s>", el.name, name))
			}
			stack = stack[:len(stack)-1]

			value := d.value(el)
			if len(stack) == 0 {
				root = value
				rootDone = true
			} else {
				addField(stack[len(stack)-1].fields, el.name, value)
			}

		case xml.CharData:
			if len(stack) == 0 {
				if len(bytes.TrimSpace(t)) > 0 {
					return nil, positionError(dec, errors.New("text outside of root element"))
				}
				continue
			}
			stack[len(stack)-1].text.Write(t)
		}
	}

	if len(stack) > 0 {
		return nil, positionError(dec, fmt.Errorf("unclosed element <%s>", stack[len(stack)-1].name))
	}
	if !rootDone {
		return nil, &ParseError{Err: errors.New("document has no root element")}
	}
	return root, nil
}

// value computes what an element contributes to its parent
func (d *Decoder) value(el *element) any {
	text := strings.TrimSpace(el.text.String())
	if text != "" {
		text = d.Sanitize(text)
	}
	if len(el.fields) == 0 {
		return text
	}
	if text != "" {
		addField(el.fields, TextKey, text)
	}
	return el.fields
}

// Sanitize strips every markup except <br> and <a href>.
// Text keeps its quotes, only &, < and > stay escaped.
func (d *Decoder) Sanitize(s string) string {
	return unescapeQuotes(d.policy.Sanitize(s))
}

// unescapeQuotes restores the quotes the policy escaped in text, leaving tag attributes alone
func unescapeQuotes(s string) string {
	if !strings.Contains(s, "&#") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for i := 0; i < len(s); {
		switch {
		case s[i] == '<':
			inTag = true
		case s[i] == '>':
			inTag = false
		case !inTag && strings.HasPrefix(s[i:], "&#39;"):
			b.WriteByte('\'')
			i += len("&#39;")
			continue
		case !inTag && strings.HasPrefix(s[i:], "&#34;"):
			b.WriteByte('"')
			i += len("&#34;")
			continue
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// addField stores value under name, turning repeated names into a sequence
func addField(fields map[string]any, name string, value any) {
	existing, ok := fields[name]
	if !ok {
		fields[name] = value
		return
	}
	if seq, ok := existing.([]any); ok {
		fields[name] = append(seq, value)
		return
	}
	fields[name] = []any{existing, value}
}

func qualifiedName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func elementName(n xml.Name) string {
	return strings.ReplaceAll(qualifiedName(n), "\n", "")
}

func syntaxError(dec *xml.Decoder, err error) error {
	var se *xml.SyntaxError
	if errors.As(err, &se) {
		return &ParseError{Line: se.Line, Err: errors.New(se.Msg)}
	}
	return positionError(dec, err)
}

func positionError(dec *xml.Decoder, err error) error {
	line, _ := dec.InputPos()
	return &ParseError{Line: line, Err: err}
}
