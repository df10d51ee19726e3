// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package satori implements the Satori chat-bot protocol surface used by the
// bridge: the message element model, the event envelope, and an HTTP +
// WebSocket server exposing the action API and the event feed.
package satori

import (
	"sort"
	"strings"
)

// Element is one node of a Satori message body. Content is modeled as an
// ordered tree of tagged elements; plain text lives in elements of type
// "text" with the text stored in the "content" attribute.
//
// The set of element types understood by the bridge is closed: adding a new
// content kind means adding it here and teaching the two formatter packages
// about it, nowhere else.
type Element struct {
	Type     string
	Attrs    map[string]string
	Children []*Element
}

// Standard element types produced and consumed by the bridge.
const (
	ElementText      = "text"
	ElementBr        = "br"
	ElementAt        = "at"
	ElementSharp     = "sharp"
	ElementLink      = "a"
	ElementImage     = "img"
	ElementAudio     = "audio"
	ElementVideo     = "video"
	ElementFile      = "file"
	ElementQuote     = "quote"
	ElementBold      = "b"
	ElementItalic    = "i"
	ElementUnderline = "u"
	ElementStrike    = "s"
	ElementSpoiler   = "spl"
	ElementCode      = "code"
	ElementCodeBlock = "code-block"
	ElementButton    = "button"
	ElementButtonRow = "button-group"
	ElementMessage   = "message"
)

// Text creates a plain text element.
func Text(content string) *Element {
	return &Element{Type: ElementText, Attrs: map[string]string{"content": content}}
}

// Br creates a line break element.
func Br() *Element {
	return &Element{Type: ElementBr}
}

// At creates a user mention. Either id or name may be empty.
func At(id, name string) *Element {
	attrs := make(map[string]string, 2)
	if id != "" {
		attrs["id"] = id
	}
	if name != "" {
		attrs["name"] = name
	}
	return &Element{Type: ElementAt, Attrs: attrs}
}

// Sharp creates a channel reference.
func Sharp(id, name string) *Element {
	attrs := map[string]string{"id": id}
	if name != "" {
		attrs["name"] = name
	}
	return &Element{Type: ElementSharp, Attrs: attrs}
}

// Link creates a hyperlink wrapping the given children.
func Link(href string, children ...*Element) *Element {
	return &Element{Type: ElementLink, Attrs: map[string]string{"href": href}, Children: children}
}

// Resource creates a media element (img, audio, video, file) pointing at src.
// Title is attached when non-empty so the original filename survives the trip.
func Resource(typ, src, title string) *Element {
	attrs := map[string]string{"src": src}
	if title != "" {
		attrs["title"] = title
	}
	return &Element{Type: typ, Attrs: attrs}
}

// Quote creates a reply reference to the message with the given id.
func Quote(id string, children ...*Element) *Element {
	return &Element{Type: ElementQuote, Attrs: map[string]string{"id": id}, Children: children}
}

// Style wraps children in a decoration element (b, i, u, s, spl, code).
func Style(typ string, children ...*Element) *Element {
	return &Element{Type: typ, Children: children}
}

// TextContent returns the content attribute of a text element, or "".
func (e *Element) TextContent() string {
	if e == nil || e.Attrs == nil {
		return ""
	}
	return e.Attrs["content"]
}

// Attr returns the named attribute, or "" when absent.
func (e *Element) Attr(name string) string {
	if e == nil || e.Attrs == nil {
		return ""
	}
	return e.Attrs[name]
}

// Escape replaces the characters that are significant in Satori message
// strings with entities.
var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

// Unescape is the inverse of Escape.
var unescaper = strings.NewReplacer("&quot;", `"`, "&lt;", "<", "&gt;", ">", "&amp;", "&")

// Escape encodes raw text for embedding in a message string.
func Escape(s string) string {
	return escaper.Replace(s)
}

// Unescape decodes entity-escaped text from a message string.
func Unescape(s string) string {
	return unescaper.Replace(s)
}

// String renders the element (and its subtree) back to Satori message syntax.
func (e *Element) String() string {
	var sb strings.Builder
	e.writeTo(&sb)
	return sb.String()
}

func (e *Element) writeTo(sb *strings.Builder) {
	if e == nil {
		return
	}
	if e.Type == ElementText {
		sb.WriteString(Escape(e.TextContent()))
		return
	}
	sb.WriteByte('<')
	sb.WriteString(e.Type)
	// Attributes in stable order so rendering is deterministic.
	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteByte(' ')
		sb.WriteString(k)
		sb.WriteString(`="`)
		sb.WriteString(Escape(e.Attrs[k]))
		sb.WriteByte('"')
	}
	if len(e.Children) == 0 {
		sb.WriteString("/>")
		return
	}
	sb.WriteByte('>')
	for _, child := range e.Children {
		child.writeTo(sb)
	}
	sb.WriteString("</")
	sb.WriteString(e.Type)
	sb.WriteByte('>')
}

// Render concatenates the rendering of an element sequence.
func Render(elements []*Element) string {
	var sb strings.Builder
	for _, el := range elements {
		el.writeTo(&sb)
	}
	return sb.String()
}
