// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"strconv"
	"sync"

	"github.com/aiku/satori-telegram/pkg/satori"
)

// historyCache keeps a bounded window of recently observed messages per
// channel. The Bot API exposes no history fetch, so message.get and
// message.list are answered from this cache; anything that has aged out of
// the window reads as not-found, which is the documented contract of a
// stateless bridge.
type historyCache struct {
	mu      sync.RWMutex
	cap     int
	perChan map[string][]*satori.Message // oldest first
}

func newHistoryCache(capacity int) *historyCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &historyCache{
		cap:     capacity,
		perChan: make(map[string][]*satori.Message),
	}
}

// Put records a message, replacing any cached copy with the same id.
func (h *historyCache) Put(channelID string, msg *satori.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.perChan[channelID]
	for i, existing := range msgs {
		if existing.ID == msg.ID {
			msgs[i] = msg
			return
		}
	}
	msgs = append(msgs, msg)
	if len(msgs) > h.cap {
		msgs = msgs[len(msgs)-h.cap:]
	}
	h.perChan[channelID] = msgs
}

// Get returns the cached message, if still within the window.
func (h *historyCache) Get(channelID, messageID string) (*satori.Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, msg := range h.perChan[channelID] {
		if msg.ID == messageID {
			return msg, true
		}
	}
	return nil, false
}

// Delete drops a message from the window.
func (h *historyCache) Delete(channelID, messageID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.perChan[channelID]
	for i, msg := range msgs {
		if msg.ID == messageID {
			h.perChan[channelID] = append(msgs[:i:i], msgs[i+1:]...)
			return
		}
	}
}

// List returns one page of cached messages, newest first, resuming from the
// opaque next token produced by a previous call. The token is an index into
// the newest-first ordering; it stays opaque to gateway clients.
func (h *historyCache) List(channelID, next string, pageSize int) ([]*satori.Message, string) {
	if pageSize <= 0 {
		pageSize = 50
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	msgs := h.perChan[channelID]

	offset := 0
	if next != "" {
		if parsed, err := strconv.Atoi(next); err == nil && parsed > 0 {
			offset = parsed
		}
	}

	total := len(msgs)
	if offset >= total {
		return nil, ""
	}

	page := make([]*satori.Message, 0, pageSize)
	for i := total - 1 - offset; i >= 0 && len(page) < pageSize; i-- {
		page = append(page, msgs[i])
	}

	nextToken := ""
	if offset+len(page) < total {
		nextToken = strconv.Itoa(offset + len(page))
	}
	return page, nextToken
}
