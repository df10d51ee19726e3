// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package satori

import "testing"

func TestParsePlainText(t *testing.T) {
	t.Parallel()
	elements := Parse("hello world")
	if len(elements) != 1 || elements[0].Type != ElementText || elements[0].TextContent() != "hello world" {
		t.Errorf("Parse: got %+v", elements)
	}
}

func TestParseUnescapesText(t *testing.T) {
	t.Parallel()
	elements := Parse("a &lt;b&gt; &amp; c")
	if elements[0].TextContent() != "a <b> & c" {
		t.Errorf("unescape: got %q", elements[0].TextContent())
	}
}

func TestParseSelfClosingTag(t *testing.T) {
	t.Parallel()
	elements := Parse(`x<at id="user:1" name="alice"/>y`)
	if len(elements) != 3 {
		t.Fatalf("Parse: got %d elements", len(elements))
	}
	at := elements[1]
	if at.Type != ElementAt || at.Attr("id") != "user:1" || at.Attr("name") != "alice" {
		t.Errorf("at element: got %+v", at)
	}
}

func TestParseNestedChildren(t *testing.T) {
	t.Parallel()
	elements := Parse("<b>bold <i>both</i></b>")
	if len(elements) != 1 || elements[0].Type != ElementBold {
		t.Fatalf("Parse: got %+v", elements)
	}
	children := elements[0].Children
	if len(children) != 2 || children[0].TextContent() != "bold " || children[1].Type != ElementItalic {
		t.Errorf("children: got %+v", children)
	}
}

func TestParseBareAttribute(t *testing.T) {
	t.Parallel()
	elements := Parse(`<message forward>x</message>`)
	if len(elements) != 1 || elements[0].Attr("forward") != "true" {
		t.Errorf("bare attribute: got %+v", elements)
	}
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()
	content := `<quote id="message:7">old</quote>hi <b>there</b><img src="data:x;base64,aGk="/>`
	if got := Render(Parse(content)); got != content {
		t.Errorf("round trip: got %q, want %q", got, content)
	}
}

func TestParseLenientOnMalformedInput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		input string
		want  string // rendered back
	}{
		{"stray open bracket", "a < b", "a &lt; b"},
		{"dangling close tag", "a</b", "a&lt;/b"},
		{"unclosed tag keeps children", "<b>rest", "<b>rest</b>"},
		{"mismatched close ignored", "<b>x</i></b>", "<b>x</b>"},
		{"empty input", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Render(Parse(tt.input)); got != tt.want {
				t.Errorf("Parse(%q): rendered %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
