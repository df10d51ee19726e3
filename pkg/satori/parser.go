// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package satori

import (
	"strings"
	"unicode"
)

// Parse converts a Satori message string into an element sequence. The
// syntax is XML-shaped but deliberately lenient: unknown tags become plain
// elements, stray angle brackets degrade to text, and unclosed tags are
// closed at end of input. Parse never fails; the worst malformed input is
// treated as literal text.
func Parse(content string) []*Element {
	p := &parser{input: content}
	return p.parse("")
}

type parser struct {
	input string
	pos   int
}

// parse consumes elements until a matching close tag for stop (or end of
// input) is found. An empty stop means parse to the end.
func (p *parser) parse(stop string) []*Element {
	var elements []*Element
	var text strings.Builder

	flushText := func() {
		if text.Len() > 0 {
			elements = append(elements, Text(Unescape(text.String())))
			text.Reset()
		}
	}

	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c != '<' {
			text.WriteByte(c)
			p.pos++
			continue
		}

		// Close tag?
		if strings.HasPrefix(p.input[p.pos:], "</") {
			end := strings.IndexByte(p.input[p.pos:], '>')
			if end < 0 {
				// Dangling close, keep as text.
				text.WriteString(p.input[p.pos:])
				p.pos = len(p.input)
				break
			}
			name := strings.TrimSpace(p.input[p.pos+2 : p.pos+end])
			p.pos += end + 1
			if name == stop {
				flushText()
				return elements
			}
			// Mismatched close tag, ignore it.
			continue
		}

		el, ok := p.parseTag()
		if !ok {
			// Not a valid tag, treat '<' literally.
			text.WriteByte('<')
			p.pos++
			continue
		}
		flushText()
		elements = append(elements, el)
	}

	flushText()
	return elements
}

// parseTag parses one "<name attr=... >" tag at the current position,
// including children for non-self-closing tags. Returns ok=false without
// consuming input when the text at pos is not a tag.
func (p *parser) parseTag() (*Element, bool) {
	start := p.pos
	i := p.pos + 1
	nameStart := i
	for i < len(p.input) && isNameByte(p.input[i]) {
		i++
	}
	if i == nameStart {
		return nil, false
	}
	el := &Element{Type: p.input[nameStart:i]}

	for {
		for i < len(p.input) && unicode.IsSpace(rune(p.input[i])) {
			i++
		}
		if i >= len(p.input) {
			p.pos = start
			return nil, false
		}
		if strings.HasPrefix(p.input[i:], "/>") {
			p.pos = i + 2
			return el, true
		}
		if p.input[i] == '>' {
			p.pos = i + 1
			el.Children = p.parse(el.Type)
			return el, true
		}

		// Attribute name.
		attrStart := i
		for i < len(p.input) && isNameByte(p.input[i]) {
			i++
		}
		if i == attrStart {
			p.pos = start
			return nil, false
		}
		name := p.input[attrStart:i]
		value := "true" // bare attribute
		if i < len(p.input) && p.input[i] == '=' {
			i++
			if i >= len(p.input) || p.input[i] != '"' {
				p.pos = start
				return nil, false
			}
			i++
			valStart := i
			for i < len(p.input) && p.input[i] != '"' {
				i++
			}
			if i >= len(p.input) {
				p.pos = start
				return nil, false
			}
			value = Unescape(p.input[valStart:i])
			i++
		}
		if el.Attrs == nil {
			el.Attrs = make(map[string]string)
		}
		el.Attrs[name] = value
	}
}

func isNameByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_'
}
