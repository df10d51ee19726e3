// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package satorifmt converts Satori message elements into a Telegram send
// plan: one or more native message parts in Telegram HTML, plus reply and
// inline-keyboard metadata.
package satorifmt

import (
	"strconv"
	"strings"

	"github.com/aiku/satori-telegram/pkg/satori"
)

// PartKind says which native send call a part maps to.
type PartKind int

const (
	PartText PartKind = iota
	PartPhoto
	PartAudio
	PartVideo
	PartDocument
)

// MediaRef points at the media payload of a non-text part. Src is the
// element src attribute verbatim; the media layer resolves it.
type MediaRef struct {
	Src   string
	Title string
}

// Part is one native message to send. HTML is the text body for text parts
// and the caption for media parts, already escaped for Telegram HTML mode.
type Part struct {
	Kind  PartKind
	HTML  string
	Media *MediaRef
}

// Button is one inline keyboard button. Data and URL are mutually exclusive.
type Button struct {
	Text string
	Data string
	URL  string
}

// Encoded is the complete send plan for one logical message.
type Encoded struct {
	Parts []Part
	// QuoteID is the gateway id of the message being replied to, "" if none.
	QuoteID string
	// Buttons holds inline keyboard rows, attached to the last part.
	Buttons [][]Button
	// Dropped lists element types that could not be represented natively.
	// Dropped segments degrade to their text content and never fail a send.
	Dropped []string
}

// Capabilities bounds the encoding. Zero values pick Telegram defaults.
type Capabilities struct {
	// MaxTextLength caps one text part; longer content splits into several
	// parts at character boundaries, never inside a formatting tag.
	MaxTextLength int
	// MaxCaptionLength caps a media caption; overflow continues in a
	// follow-up text part.
	MaxCaptionLength int
	// MaxButtonsPerRow caps one keyboard row; longer rows wrap.
	MaxButtonsPerRow int
	// DecodeUserID turns a gateway user id into the native numeric id for
	// mention links. Mentions with undecodable ids degrade to plain text.
	DecodeUserID func(id string) (int64, error)
}

func (c *Capabilities) applyDefaults() {
	if c.MaxTextLength <= 0 {
		c.MaxTextLength = 4096
	}
	if c.MaxCaptionLength <= 0 {
		c.MaxCaptionLength = 1024
	}
	if c.MaxButtonsPerRow <= 0 {
		c.MaxButtonsPerRow = 5
	}
	if c.DecodeUserID == nil {
		c.DecodeUserID = func(id string) (int64, error) {
			return strconv.ParseInt(id, 10, 64)
		}
	}
}

// Telegram HTML mode only treats these three characters specially.
var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Encode turns an element sequence into a send plan.
func Encode(elements []*satori.Element, caps Capabilities) *Encoded {
	caps.applyDefaults()
	enc := &encoder{caps: caps, out: &Encoded{}}
	for _, el := range elements {
		enc.walk(el)
	}
	enc.flush()
	enc.flushButtonRow()
	if len(enc.out.Parts) == 0 && len(enc.out.Buttons) > 0 {
		// A keyboard needs a carrier message.
		enc.out.Parts = append(enc.out.Parts, Part{Kind: PartText, HTML: "\u200b"})
	}
	return enc.out
}

type encoder struct {
	caps Capabilities
	out  *Encoded

	cur    Part
	curLen int
	open   bool

	looseRow []Button
}

// budget returns the length cap of the currently open part.
func (e *encoder) budget() int {
	if e.open && e.cur.Kind != PartText {
		return e.caps.MaxCaptionLength
	}
	return e.caps.MaxTextLength
}

func (e *encoder) flush() {
	if !e.open {
		return
	}
	e.cur.HTML = strings.TrimRight(e.cur.HTML, "\n")
	if e.cur.HTML != "" || e.cur.Media != nil {
		e.out.Parts = append(e.out.Parts, e.cur)
	}
	e.cur = Part{}
	e.curLen = 0
	e.open = false
}

// writeText appends raw text, escaping per rune so a split never lands
// inside an escape sequence or a tag.
func (e *encoder) writeText(raw string) {
	for _, r := range raw {
		piece := htmlEscaper.Replace(string(r))
		if e.open && e.curLen+len(piece) > e.budget() {
			e.flush()
		}
		if !e.open {
			e.cur = Part{Kind: PartText}
			e.open = true
		}
		e.cur.HTML += piece
		e.curLen += len(piece)
	}
}

// writeAtomic appends a pre-rendered HTML snippet that must not be split.
// A snippet larger than a whole part is emitted alone and left to the
// backend to reject; splitting it would corrupt the markup.
func (e *encoder) writeAtomic(html string) {
	if html == "" {
		return
	}
	if e.open && e.curLen+len(html) > e.budget() && e.curLen > 0 {
		e.flush()
	}
	if !e.open {
		e.cur = Part{Kind: PartText}
		e.open = true
	}
	e.cur.HTML += html
	e.curLen += len(html)
}

func (e *encoder) startMedia(kind PartKind, el *satori.Element) {
	e.flush()
	e.cur = Part{
		Kind:  kind,
		Media: &MediaRef{Src: el.Attr("src"), Title: el.Attr("title")},
	}
	e.open = true
}

func (e *encoder) walk(el *satori.Element) {
	switch el.Type {
	case satori.ElementText:
		e.writeText(el.TextContent())
	case satori.ElementBr:
		e.writeText("\n")
	case satori.ElementAt:
		e.writeAtomic(e.renderMention(el))
	case satori.ElementSharp:
		name := el.Attr("name")
		if name == "" {
			name = el.Attr("id")
		}
		e.writeText("#" + name)
	case satori.ElementLink:
		body := e.renderInline(el.Children)
		if body == "" {
			body = htmlEscaper.Replace(el.Attr("href"))
		}
		e.writeAtomic(`<a href="` + htmlEscaper.Replace(el.Attr("href")) + `">` + body + `</a>`)
	case satori.ElementImage:
		e.startMedia(PartPhoto, el)
	case satori.ElementAudio:
		e.startMedia(PartAudio, el)
	case satori.ElementVideo:
		e.startMedia(PartVideo, el)
	case satori.ElementFile:
		e.startMedia(PartDocument, el)
	case satori.ElementQuote:
		// The quoted children are a preview of the referenced message and
		// are not re-sent.
		e.out.QuoteID = el.Attr("id")
	case satori.ElementBold, "strong":
		e.writeAtomic(wrap("b", e.renderInline(el.Children)))
	case satori.ElementItalic, "em":
		e.writeAtomic(wrap("i", e.renderInline(el.Children)))
	case satori.ElementUnderline, "ins":
		e.writeAtomic(wrap("u", e.renderInline(el.Children)))
	case satori.ElementStrike, "del":
		e.writeAtomic(wrap("s", e.renderInline(el.Children)))
	case satori.ElementSpoiler:
		e.writeAtomic(wrap("tg-spoiler", e.renderInline(el.Children)))
	case satori.ElementCode:
		e.writeAtomic(wrap("code", e.renderInline(el.Children)))
	case satori.ElementCodeBlock:
		e.writeAtomic(wrap("pre", e.renderInline(el.Children)))
	case satori.ElementButton:
		e.looseRow = append(e.looseRow, buttonFrom(el))
		if len(e.looseRow) >= e.caps.MaxButtonsPerRow {
			e.flushButtonRow()
		}
	case satori.ElementButtonRow:
		e.flushButtonRow()
		var row []Button
		for _, child := range el.Children {
			if child.Type != satori.ElementButton {
				continue
			}
			row = append(row, buttonFrom(child))
			if len(row) >= e.caps.MaxButtonsPerRow {
				e.out.Buttons = append(e.out.Buttons, row)
				row = nil
			}
		}
		if len(row) > 0 {
			e.out.Buttons = append(e.out.Buttons, row)
		}
	case satori.ElementMessage:
		for _, child := range el.Children {
			e.walk(child)
		}
	default:
		e.out.Dropped = append(e.out.Dropped, el.Type)
		for _, child := range el.Children {
			e.walk(child)
		}
	}
}

func (e *encoder) flushButtonRow() {
	if len(e.looseRow) > 0 {
		e.out.Buttons = append(e.out.Buttons, e.looseRow)
		e.looseRow = nil
	}
}

// renderMention renders an at element. With a decodable user id it becomes a
// profile link; otherwise it degrades to the visible name.
func (e *encoder) renderMention(el *satori.Element) string {
	name := el.Attr("name")
	id := el.Attr("id")
	if id != "" {
		if userID, err := e.caps.DecodeUserID(id); err == nil {
			if name == "" {
				name = strconv.FormatInt(userID, 10)
			}
			return `<a href="tg://user?id=` + strconv.FormatInt(userID, 10) + `">@` + htmlEscaper.Replace(name) + `</a>`
		}
	}
	if name == "" {
		return ""
	}
	return "@" + htmlEscaper.Replace(name)
}

// renderInline renders children to HTML without part splitting; used for the
// body of atomic decorations. Media and buttons are not valid inside a
// decoration and degrade to their text content.
func (e *encoder) renderInline(children []*satori.Element) string {
	var sb strings.Builder
	for _, el := range children {
		switch el.Type {
		case satori.ElementText:
			sb.WriteString(htmlEscaper.Replace(el.TextContent()))
		case satori.ElementBr:
			sb.WriteByte('\n')
		case satori.ElementAt:
			sb.WriteString(e.renderMention(el))
		case satori.ElementLink:
			body := e.renderInline(el.Children)
			if body == "" {
				body = htmlEscaper.Replace(el.Attr("href"))
			}
			sb.WriteString(`<a href="` + htmlEscaper.Replace(el.Attr("href")) + `">` + body + `</a>`)
		case satori.ElementBold, "strong":
			sb.WriteString(wrap("b", e.renderInline(el.Children)))
		case satori.ElementItalic, "em":
			sb.WriteString(wrap("i", e.renderInline(el.Children)))
		case satori.ElementUnderline, "ins":
			sb.WriteString(wrap("u", e.renderInline(el.Children)))
		case satori.ElementStrike, "del":
			sb.WriteString(wrap("s", e.renderInline(el.Children)))
		case satori.ElementSpoiler:
			sb.WriteString(wrap("tg-spoiler", e.renderInline(el.Children)))
		case satori.ElementCode:
			sb.WriteString(wrap("code", e.renderInline(el.Children)))
		case satori.ElementCodeBlock:
			sb.WriteString(wrap("pre", e.renderInline(el.Children)))
		default:
			sb.WriteString(e.renderInline(el.Children))
		}
	}
	return sb.String()
}

func wrap(tag, body string) string {
	if body == "" {
		return ""
	}
	return "<" + tag + ">" + body + "</" + tag + ">"
}

func buttonFrom(el *satori.Element) Button {
	b := Button{
		Text: textOf(el.Children),
		Data: el.Attr("id"),
		URL:  el.Attr("href"),
	}
	if b.Text == "" {
		b.Text = b.Data
	}
	return b
}

func textOf(children []*satori.Element) string {
	var sb strings.Builder
	for _, el := range children {
		if el.Type == satori.ElementText {
			sb.WriteString(el.TextContent())
		} else {
			sb.WriteString(textOf(el.Children))
		}
	}
	return sb.String()
}
