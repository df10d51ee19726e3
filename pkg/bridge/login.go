// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/mymmrac/telego"
)

// validateLogin checks the bot credentials against the backend and returns
// the bot's own user. Rejected credentials fail fast; a network failure is
// surfaced as transient so the caller can retry the whole connect.
func (tc *TelegramClient) validateLogin(ctx context.Context) (*telego.User, error) {
	ctx, cancel := context.WithTimeout(ctx, tc.cfg.RequestTimeout())
	defer cancel()
	self, err := tc.bot.GetMe(ctx)
	if err != nil {
		classified := classifyTelegramError(err)
		if errors.Is(classified, ErrForbidden) {
			return nil, fmt.Errorf("%w: invalid bot token", ErrNotLoggedIn)
		}
		return nil, classified
	}
	if !self.IsBot {
		return nil, fmt.Errorf("%w: token does not belong to a bot account", ErrNotLoggedIn)
	}
	return self, nil
}
