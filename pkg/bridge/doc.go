// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package bridge implements a Telegram-Satori bridge: it logs in as a
// Telegram bot, normalizes Bot API updates into Satori events, and serves
// the Satori action API against the Bot API.
//
// # Core Types
//
// [TelegramClient] owns the bot session. It authenticates, pumps native
// updates through the normalizer, maintains the caches both directions
// share, and serves every gateway action.
//
// # Identifiers
//
// Gateway identifiers are derived from native numeric ids with a scope tag,
// so they can be reversed by parsing alone: "user:123", "chat:-100456",
// "channel:-100456/789" (forum topics carry a thread suffix), "message:42".
// A structurally valid id of the wrong scope is a reference error, distinct
// from a malformed id.
//
// # Error Taxonomy
//
// Native API failures are classified into the sentinel errors in errors.go
// before they reach a caller. Idempotent reads retry transient failures
// with bounded backoff; writes are never retried automatically.
//
// # Sub-packages
//
//   - telegramfmt converts Telegram entity-annotated text to Satori elements.
//   - satorifmt converts Satori elements to a Telegram HTML send plan.
package bridge
