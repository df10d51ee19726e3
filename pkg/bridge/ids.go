// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"fmt"
	"strconv"
	"strings"
)

// Scope is the entity category an identifier is valid within.
type Scope string

const (
	ScopeUser    Scope = "user"
	ScopeChat    Scope = "chat"
	ScopeChannel Scope = "channel"
	ScopeMessage Scope = "message"
)

// Gateway identifiers are derived deterministically from the native numeric
// id plus a scope tag ("<scope>:<id>"), so the mapping is reconstructible by
// parsing and needs no lookup table. Negative ids (Telegram supergroups and
// channels) round-trip unchanged.

// EncodeID creates a gateway identifier from a native id and scope.
func EncodeID(scope Scope, id int64) string {
	return string(scope) + ":" + strconv.FormatInt(id, 10)
}

// DecodeID parses a gateway identifier back into its scope and native id.
// It fails with ErrInvalidIdentifier on an unknown scope tag, a missing
// separator, or a non-numeric payload.
func DecodeID(s string) (Scope, int64, error) {
	tag, payload, ok := strings.Cut(s, ":")
	if !ok {
		return "", 0, fmt.Errorf("%w: missing scope tag in %q", ErrInvalidIdentifier, s)
	}
	scope := Scope(tag)
	switch scope {
	case ScopeUser, ScopeChat, ScopeMessage:
	case ScopeChannel:
		// Channel payloads may carry a thread suffix, validated below.
	default:
		return "", 0, fmt.Errorf("%w: unknown scope %q", ErrInvalidIdentifier, tag)
	}
	if scope == ScopeChannel {
		payload, _, _ = strings.Cut(payload, "/")
	}
	id, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("%w: non-numeric payload in %q", ErrInvalidIdentifier, s)
	}
	return scope, id, nil
}

// MakeUserID creates a gateway user id from a Telegram user id.
func MakeUserID(userID int64) string {
	return EncodeID(ScopeUser, userID)
}

// ParseUserID extracts the Telegram user id from a gateway user id.
func ParseUserID(s string) (int64, error) {
	return parseScoped(s, ScopeUser)
}

// MakeGuildID creates a gateway guild id from a Telegram chat id.
func MakeGuildID(chatID int64) string {
	return EncodeID(ScopeChat, chatID)
}

// ParseGuildID extracts the Telegram chat id from a gateway guild id.
func ParseGuildID(s string) (int64, error) {
	return parseScoped(s, ScopeChat)
}

// MakeChannelID creates a gateway channel id from a Telegram chat id and an
// optional forum thread id (0 for none).
func MakeChannelID(chatID int64, threadID int) string {
	id := EncodeID(ScopeChannel, chatID)
	if threadID != 0 {
		id += "/" + strconv.Itoa(threadID)
	}
	return id
}

// ParseChannelID extracts the Telegram chat id and thread id (0 when absent)
// from a gateway channel id.
func ParseChannelID(s string) (chatID int64, threadID int, err error) {
	scope, id, err := DecodeID(s)
	if err != nil {
		return 0, 0, err
	}
	if scope != ScopeChannel {
		return 0, 0, fmt.Errorf("%w: %q is a %s id, expected %s", ErrInvalidReference, s, scope, ScopeChannel)
	}
	if _, suffix, ok := strings.Cut(s, "/"); ok {
		threadID, err = strconv.Atoi(suffix)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: bad thread suffix in %q", ErrInvalidIdentifier, s)
		}
	}
	return id, threadID, nil
}

// MakeMessageID creates a gateway message id from a Telegram message id.
// Telegram message ids are scoped to their chat, matching the gateway
// protocol's pairing of channel and message references.
func MakeMessageID(messageID int) string {
	return EncodeID(ScopeMessage, int64(messageID))
}

// ParseMessageID extracts the Telegram message id from a gateway message id.
func ParseMessageID(s string) (int, error) {
	id, err := parseScoped(s, ScopeMessage)
	return int(id), err
}

func parseScoped(s string, want Scope) (int64, error) {
	scope, id, err := DecodeID(s)
	if err != nil {
		return 0, err
	}
	if scope != want {
		return 0, fmt.Errorf("%w: %q is a %s id, expected %s", ErrInvalidReference, s, scope, want)
	}
	return id, nil
}
