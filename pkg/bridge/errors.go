// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mymmrac/telego/telegoapi"

	"github.com/aiku/satori-telegram/pkg/satori"
)

// Error taxonomy of the bridge. Validation errors are surfaced directly to
// the calling gateway action; transient transport errors are retried for
// idempotent reads before being surfaced; segment-mapping issues degrade
// gracefully and never fail a whole action.
var (
	ErrInvalidIdentifier  = errors.New("invalid identifier")
	ErrInvalidReference   = errors.New("invalid reference")
	ErrUnsupportedSegment = errors.New("unsupported segment")
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrRateLimited        = errors.New("rate limited")
	ErrTransientTransport = errors.New("transient transport error")
	ErrSessionTerminated  = errors.New("session terminated")
	ErrNotLoggedIn        = errors.New("not logged in")
	ErrInternal           = errors.New("internal error")
)

// classifyTelegramError wraps a native Telegram API error with the matching
// taxonomy sentinel so callers never see raw native error codes. Network
// failures (no API response at all) classify as transient transport errors.
func classifyTelegramError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *telegoapi.Error
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return errors.Join(ErrTransientTransport, err)
	}
	switch {
	case apiErr.ErrorCode == http.StatusBadRequest && strings.Contains(apiErr.Description, "not found"):
		// The Bot API reports missing chats/messages as 400, not 404.
		return errors.Join(ErrNotFound, err)
	case apiErr.ErrorCode == http.StatusBadRequest:
		return errors.Join(ErrInvalidReference, err)
	case apiErr.ErrorCode == http.StatusUnauthorized, apiErr.ErrorCode == http.StatusForbidden:
		return errors.Join(ErrForbidden, err)
	case apiErr.ErrorCode == http.StatusNotFound:
		return errors.Join(ErrNotFound, err)
	case apiErr.ErrorCode == http.StatusTooManyRequests:
		return errors.Join(ErrRateLimited, err)
	default:
		return errors.Join(ErrInternal, err)
	}
}

// retryable reports whether an already-classified error may be retried for
// an idempotent read-only call.
func retryable(err error) bool {
	return errors.Is(err, ErrTransientTransport) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrInternal)
}

// asStatusError converts a taxonomy error into the protocol status error the
// gateway server answers with. Unknown errors map to an internal 500.
func asStatusError(err error) *satori.StatusError {
	switch {
	case errors.Is(err, ErrInvalidIdentifier), errors.Is(err, ErrInvalidReference):
		return satori.NewStatusError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return satori.NewStatusError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		return satori.NewStatusError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrRateLimited):
		return satori.NewStatusError(http.StatusTooManyRequests, "rate limited by the messaging backend")
	case errors.Is(err, ErrSessionTerminated), errors.Is(err, ErrNotLoggedIn):
		return satori.NewStatusError(http.StatusServiceUnavailable, err.Error())
	default:
		return satori.NewStatusError(http.StatusInternalServerError, "internal error")
	}
}
