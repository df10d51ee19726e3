// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package telegramfmt converts Telegram rich-text entities to Satori
// elements.
package telegramfmt

import (
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/mymmrac/telego"

	"github.com/aiku/satori-telegram/pkg/satori"
)

// Options adjusts entity conversion. EncodeUserID turns a native user id
// into the gateway identifier embedded in mention elements; it defaults to
// plain base-10.
type Options struct {
	EncodeUserID func(userID int64) string
}

func (o Options) encodeUserID(id int64) string {
	if o.EncodeUserID != nil {
		return o.EncodeUserID(id)
	}
	return strconv.FormatInt(id, 10)
}

// breakpoint marks an entity (or newline) boundary. Entity offsets are
// UTF-16 code unit positions, as the Bot API defines them.
type breakpoint struct {
	start  bool
	pos    int
	entity *telego.MessageEntity
}

// spanStyle tracks which decorations are active at the current position.
type spanStyle struct {
	bold, italic, underline, strike bool
	code, pre, spoiler, mention     bool
	link                            string
	user                            *telego.User
}

// Parse converts entity-annotated text into an ordered element sequence
// preserving reading order. Overlapping entities produce nested decoration
// elements; each newline becomes a br element.
func Parse(text string, entities []telego.MessageEntity, opts Options) []*satori.Element {
	if text == "" {
		return nil
	}
	units := utf16.Encode([]rune(text))

	var bps []breakpoint
	for i := range entities {
		entity := &entities[i]
		switch entity.Type {
		case telego.EntityTypeBold, telego.EntityTypeItalic, telego.EntityTypeUnderline,
			telego.EntityTypeStrikethrough, telego.EntityTypeCode, telego.EntityTypePre,
			telego.EntityTypeSpoiler, telego.EntityTypeMention,
			telego.EntityTypeTextLink, telego.EntityTypeTextMention:
			start := clamp(entity.Offset, len(units))
			end := clamp(entity.Offset+entity.Length, len(units))
			if start >= end {
				continue
			}
			bps = append(bps,
				breakpoint{start: true, pos: start, entity: entity},
				breakpoint{start: false, pos: end, entity: entity},
			)
		}
	}
	for i, u := range units {
		if u == '\n' {
			bps = append(bps,
				breakpoint{start: true, pos: i},
				breakpoint{start: false, pos: i + 1},
			)
		}
	}
	sort.SliceStable(bps, func(i, j int) bool { return bps[i].pos < bps[j].pos })

	var style spanStyle
	var elements []*satori.Element
	last := 0
	for _, bp := range bps {
		if bp.pos > last {
			content := string(utf16.Decode(units[last:bp.pos]))
			elements = append(elements, style.apply(content, opts))
		}
		if bp.entity != nil {
			style.toggle(bp.entity, bp.start)
		}
		last = bp.pos
	}
	if last < len(units) {
		elements = append(elements, style.apply(string(utf16.Decode(units[last:])), opts))
	}
	return elements
}

func (s *spanStyle) toggle(entity *telego.MessageEntity, on bool) {
	switch entity.Type {
	case telego.EntityTypeBold:
		s.bold = on
	case telego.EntityTypeItalic:
		s.italic = on
	case telego.EntityTypeUnderline:
		s.underline = on
	case telego.EntityTypeStrikethrough:
		s.strike = on
	case telego.EntityTypeCode:
		s.code = on
	case telego.EntityTypePre:
		s.pre = on
	case telego.EntityTypeSpoiler:
		s.spoiler = on
	case telego.EntityTypeMention:
		s.mention = on
	case telego.EntityTypeTextLink:
		if on {
			s.link = entity.URL
		} else {
			s.link = ""
		}
	case telego.EntityTypeTextMention:
		if on {
			s.user = entity.User
		} else {
			s.user = nil
		}
	}
}

// apply wraps one text run in the currently active decorations.
func (s *spanStyle) apply(content string, opts Options) *satori.Element {
	if content == "\n" {
		return satori.Br()
	}
	if s.mention {
		// "@username" mention without a resolved user id.
		return satori.At("", strings.TrimPrefix(content, "@"))
	}
	if s.user != nil {
		return satori.At(opts.encodeUserID(s.user.ID), s.user.Username)
	}

	el := satori.Text(content)
	if s.pre {
		return &satori.Element{Type: satori.ElementCodeBlock, Children: []*satori.Element{el}}
	}
	if s.code {
		el = satori.Style(satori.ElementCode, el)
	}
	if s.bold {
		el = satori.Style(satori.ElementBold, el)
	}
	if s.italic {
		el = satori.Style(satori.ElementItalic, el)
	}
	if s.underline {
		el = satori.Style(satori.ElementUnderline, el)
	}
	if s.strike {
		el = satori.Style(satori.ElementStrike, el)
	}
	if s.spoiler {
		el = satori.Style(satori.ElementSpoiler, el)
	}
	if s.link != "" {
		el = satori.Link(s.link, el)
	}
	return el
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}
