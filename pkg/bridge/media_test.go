// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"errors"
	"testing"
)

func TestMediaRefRoundTrip(t *testing.T) {
	t.Parallel()
	tc, _ := newTestClient(t, &mockAPI{})

	ref := tc.makeMediaRef("AgACAgIAAx")
	if ref != "internal:telegram/10/AgACAgIAAx" {
		t.Errorf("makeMediaRef: got %q", ref)
	}
	fileID, err := tc.parseMediaRef(ref)
	if err != nil {
		t.Fatalf("parseMediaRef: %v", err)
	}
	if fileID != "AgACAgIAAx" {
		t.Errorf("file id: got %q", fileID)
	}
}

func TestParseMediaRefRejectsForeign(t *testing.T) {
	t.Parallel()
	tc, _ := newTestClient(t, &mockAPI{})

	tests := []string{
		"https://example.com/file",
		"internal:telegram/999/file1", // another login's ref
		"internal:telegram/10",
	}
	for _, ref := range tests {
		if _, err := tc.parseMediaRef(ref); !errors.Is(err, ErrInvalidReference) {
			t.Errorf("parseMediaRef(%q): got %v, want ErrInvalidReference", ref, err)
		}
	}
}

func TestResolveUploadInternalRefShortCircuits(t *testing.T) {
	t.Parallel()
	api := &mockAPI{}
	tc, _ := newTestClient(t, api)

	file, err := tc.resolveUpload(context.Background(), "internal:telegram/10/file1", "")
	if err != nil {
		t.Fatalf("resolveUpload: %v", err)
	}
	if file.FileID != "file1" {
		t.Errorf("input file: got %+v", file)
	}
	if calls := api.Calls(""); len(calls) != 1 { // only the getMe from setup
		t.Errorf("internal ref should need no RPC: %v", calls)
	}
}

func TestResolveUploadDataURI(t *testing.T) {
	t.Parallel()
	tc, _ := newTestClient(t, &mockAPI{})

	file, err := tc.resolveUpload(context.Background(), "data:image/png;base64,aGVsbG8=", "pic.png")
	if err != nil {
		t.Fatalf("resolveUpload: %v", err)
	}
	if file.File == nil {
		t.Fatal("data URI should produce an upload reader")
	}
	if file.File.Name() != "pic.png" {
		t.Errorf("upload name: got %q", file.File.Name())
	}
}

func TestResolveUploadRejectsBadSources(t *testing.T) {
	t.Parallel()
	tc, _ := newTestClient(t, &mockAPI{})

	tests := []string{
		"ftp://example.com/file",
		"data:image/png;base64,!!!",
		"data:image/png,plain",
		"",
	}
	for _, src := range tests {
		if _, err := tc.resolveUpload(context.Background(), src, ""); !errors.Is(err, ErrInvalidReference) {
			t.Errorf("resolveUpload(%q): got %v, want ErrInvalidReference", src, err)
		}
	}
}

func TestDecodeDataURITooLarge(t *testing.T) {
	t.Parallel()
	if _, err := decodeDataURI("data:text/plain;base64,aGVsbG8gd29ybGQ=", 4); !errors.Is(err, ErrInvalidReference) {
		t.Errorf("oversized data URI: got %v", err)
	}
}
