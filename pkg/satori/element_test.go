// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package satori

import "testing"

func TestEscapeRoundTrip(t *testing.T) {
	t.Parallel()
	raw := `a < b & c > d "quoted"`
	if got := Unescape(Escape(raw)); got != raw {
		t.Errorf("escape round trip: got %q, want %q", got, raw)
	}
}

func TestElementString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		el   *Element
		want string
	}{
		{"text", Text("hi"), "hi"},
		{"text escaped", Text("a<b"), "a&lt;b"},
		{"br", Br(), "<br/>"},
		{"at with id and name", At("user:1", "alice"), `<at id="user:1" name="alice"/>`},
		{"sharp", Sharp("channel:2", "general"), `<sharp id="channel:2" name="general"/>`},
		{"link", Link("https://x.test", Text("go")), `<a href="https://x.test">go</a>`},
		{"image", Resource(ElementImage, "internal:telegram/1/f", ""), `<img src="internal:telegram/1/f"/>`},
		{"styled", Style(ElementBold, Text("b")), "<b>b</b>"},
		{"nested", Style(ElementBold, Style(ElementItalic, Text("x"))), "<b><i>x</i></b>"},
		{"quote", Quote("message:3", Text("old")), `<quote id="message:3">old</quote>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.el.String(); got != tt.want {
				t.Errorf("String: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRenderSequence(t *testing.T) {
	t.Parallel()
	got := Render([]*Element{Text("a"), Br(), Style(ElementBold, Text("b"))})
	if got != "a<br/><b>b</b>" {
		t.Errorf("Render: got %q", got)
	}
}

func TestTextContentAndAttrNilSafe(t *testing.T) {
	t.Parallel()
	var el *Element
	if el.TextContent() != "" || el.Attr("x") != "" {
		t.Error("nil element accessors should return empty strings")
	}
	if Br().TextContent() != "" {
		t.Error("non-text element has no text content")
	}
}
