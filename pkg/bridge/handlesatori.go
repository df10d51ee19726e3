// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoutil"

	"github.com/aiku/satori-telegram/pkg/bridge/satorifmt"
	"github.com/aiku/satori-telegram/pkg/satori"
)

// RegisterRoutes installs every action handler on the gateway server.
func (tc *TelegramClient) RegisterRoutes(server *satori.Server) {
	server.SetLoginSource(tc.Logins)
	server.SetProxy(tc.ProxyFile)

	server.Register("message.create", tc.wrap(tc.handleMessageCreate))
	server.Register("message.get", tc.wrap(tc.handleMessageGet))
	server.Register("message.update", tc.wrap(tc.handleMessageUpdate))
	server.Register("message.delete", tc.wrap(tc.handleMessageDelete))
	server.Register("message.list", tc.wrap(tc.handleMessageList))
	server.Register("channel.get", tc.wrap(tc.handleChannelGet))
	server.Register("channel.list", tc.wrap(tc.handleChannelList))
	server.Register("guild.get", tc.wrap(tc.handleGuildGet))
	server.Register("guild.list", tc.wrap(tc.handleGuildList))
	server.Register("guild.member.get", tc.wrap(tc.handleMemberGet))
	server.Register("guild.member.list", tc.wrap(tc.handleMemberList))
	server.Register("user.get", tc.wrap(tc.handleUserGet))
	server.Register("login.get", tc.wrap(tc.handleLoginGet))
}

type actionFunc func(ctx context.Context, req *satori.Request) (any, error)

// wrap is the common action envelope: it rejects calls outside a usable
// session state, registers the call so termination can cancel it, and folds
// taxonomy errors into protocol status errors.
func (tc *TelegramClient) wrap(fn actionFunc) satori.Handler {
	return func(ctx context.Context, req *satori.Request) (any, error) {
		switch tc.State() {
		case StateTerminated:
			return nil, asStatusError(ErrSessionTerminated)
		case StateUnauthenticated, StateAuthenticating:
			return nil, asStatusError(ErrNotLoggedIn)
		}

		ctx, release := tc.pending.track(ctx)
		defer release()

		result, err := fn(ctx, req)
		if err == nil {
			return result, nil
		}
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			err = cause
		}
		var statusErr *satori.StatusError
		if errors.As(err, &statusErr) {
			return nil, statusErr
		}
		tc.log.Warn().Err(err).Str("method", req.Method).Msg("Action failed")
		return nil, asStatusError(err)
	}
}

func bindParams[T any](req *satori.Request) (*T, error) {
	var params T
	if err := req.Bind(&params); err != nil {
		return nil, satori.NewStatusError(http.StatusBadRequest, "malformed parameters: "+err.Error())
	}
	return &params, nil
}

// retryRead runs an idempotent read RPC with bounded exponential backoff on
// transient failures. Writes never go through here: a retried write could
// duplicate a message.
func retryRead[T any](ctx context.Context, tc *TelegramClient, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	operation := func() error {
		rpcCtx, cancel := context.WithTimeout(ctx, tc.cfg.RequestTimeout())
		defer cancel()
		res, err := fn(rpcCtx)
		if err != nil {
			classified := classifyTelegramError(err)
			if retryable(classified) {
				return classified
			}
			return backoff.Permanent(classified)
		}
		result = res
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), tc.cfg.Limits.MaxRetries), ctx)
	err := backoff.Retry(operation, policy)
	return result, err
}

type messageCreateParams struct {
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
}

func (tc *TelegramClient) handleMessageCreate(ctx context.Context, req *satori.Request) (any, error) {
	params, err := bindParams[messageCreateParams](req)
	if err != nil {
		return nil, err
	}
	chatID, threadID, err := ParseChannelID(params.ChannelID)
	if err != nil {
		return nil, err
	}

	plan := satorifmt.Encode(satori.Parse(params.Content), satorifmt.Capabilities{
		MaxTextLength: tc.cfg.Limits.MaxTextLength,
		DecodeUserID:  ParseUserID,
	})
	for _, dropped := range plan.Dropped {
		tc.log.Debug().Str("element", dropped).Str("channel_id", params.ChannelID).
			Msg("Dropped unsupported element from outgoing message")
	}
	if len(plan.Parts) == 0 {
		return nil, satori.NewStatusError(http.StatusBadRequest, "empty message content")
	}

	replyTo := 0
	if plan.QuoteID != "" {
		replyTo, err = ParseMessageID(plan.QuoteID)
		if err != nil {
			return nil, err
		}
	}

	// Serialize per chat so the parts of one logical message stay adjacent.
	lock := tc.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	sent := make([]*satori.Message, 0, len(plan.Parts))
	for i, part := range plan.Parts {
		var markup *telego.InlineKeyboardMarkup
		if i == len(plan.Parts)-1 && len(plan.Buttons) > 0 {
			markup = keyboardFrom(plan.Buttons)
		}
		msg, err := tc.sendPart(ctx, chatID, threadID, part, replyTo, markup)
		if err != nil {
			if len(sent) > 0 {
				tc.log.Warn().Err(err).Int("sent_parts", len(sent)).
					Msg("Multi-part send failed midway")
			}
			return nil, err
		}
		replyTo = 0
		converted := tc.convertMessage(msg, 0)
		tc.history.Put(converted.Channel.ID, converted)
		tc.emit(&satori.Event{
			Type:      satori.EventMessageCreated,
			Timestamp: converted.CreatedAt,
			Channel:   converted.Channel,
			Guild:     converted.Guild,
			User:      converted.User,
			Message:   converted,
		})
		sent = append(sent, converted)
	}
	return sent, nil
}

func (tc *TelegramClient) sendPart(ctx context.Context, chatID int64, threadID int, part satorifmt.Part, replyTo int, markup *telego.InlineKeyboardMarkup) (*telego.Message, error) {
	cid := telegoutil.ID(chatID)
	var replyParams *telego.ReplyParameters
	if replyTo != 0 {
		replyParams = &telego.ReplyParameters{MessageID: replyTo}
	}
	var replyMarkup telego.ReplyMarkup
	if markup != nil {
		replyMarkup = markup
	}

	var file telego.InputFile
	if part.Media != nil {
		var err error
		file, err = tc.resolveUpload(ctx, part.Media.Src, part.Media.Title)
		if err != nil {
			return nil, err
		}
	}

	rpcCtx, cancel := context.WithTimeout(ctx, tc.cfg.RequestTimeout())
	defer cancel()

	var msg *telego.Message
	var err error
	switch part.Kind {
	case satorifmt.PartText:
		msg, err = tc.bot.SendMessage(rpcCtx, &telego.SendMessageParams{
			ChatID:          cid,
			Text:            part.HTML,
			ParseMode:       telego.ModeHTML,
			MessageThreadID: threadID,
			ReplyParameters: replyParams,
			ReplyMarkup:     replyMarkup,
		})
	case satorifmt.PartPhoto:
		msg, err = tc.bot.SendPhoto(rpcCtx, &telego.SendPhotoParams{
			ChatID:          cid,
			Photo:           file,
			Caption:         part.HTML,
			ParseMode:       telego.ModeHTML,
			MessageThreadID: threadID,
			ReplyParameters: replyParams,
			ReplyMarkup:     replyMarkup,
		})
	case satorifmt.PartAudio:
		msg, err = tc.bot.SendAudio(rpcCtx, &telego.SendAudioParams{
			ChatID:          cid,
			Audio:           file,
			Caption:         part.HTML,
			ParseMode:       telego.ModeHTML,
			MessageThreadID: threadID,
			ReplyParameters: replyParams,
			ReplyMarkup:     replyMarkup,
		})
	case satorifmt.PartVideo:
		msg, err = tc.bot.SendVideo(rpcCtx, &telego.SendVideoParams{
			ChatID:          cid,
			Video:           file,
			Caption:         part.HTML,
			ParseMode:       telego.ModeHTML,
			MessageThreadID: threadID,
			ReplyParameters: replyParams,
			ReplyMarkup:     replyMarkup,
		})
	case satorifmt.PartDocument:
		msg, err = tc.bot.SendDocument(rpcCtx, &telego.SendDocumentParams{
			ChatID:          cid,
			Document:        file,
			Caption:         part.HTML,
			ParseMode:       telego.ModeHTML,
			MessageThreadID: threadID,
			ReplyParameters: replyParams,
			ReplyMarkup:     replyMarkup,
		})
	default:
		return nil, fmt.Errorf("%w: unknown part kind %d", ErrInternal, part.Kind)
	}
	if err != nil {
		return nil, classifyTelegramError(err)
	}
	return msg, nil
}

func keyboardFrom(rows [][]satorifmt.Button) *telego.InlineKeyboardMarkup {
	keyboard := make([][]telego.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			button := telego.InlineKeyboardButton{Text: b.Text}
			if b.URL != "" {
				button.URL = b.URL
			} else {
				button.CallbackData = b.Data
			}
			buttons = append(buttons, button)
		}
		keyboard = append(keyboard, buttons)
	}
	return &telego.InlineKeyboardMarkup{InlineKeyboard: keyboard}
}

type messageRefParams struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

// handleMessageGet answers from the recent message window. The Bot API has
// no message fetch, so anything outside the window is not found.
func (tc *TelegramClient) handleMessageGet(ctx context.Context, req *satori.Request) (any, error) {
	params, err := bindParams[messageRefParams](req)
	if err != nil {
		return nil, err
	}
	if _, _, err := ParseChannelID(params.ChannelID); err != nil {
		return nil, err
	}
	if _, err := ParseMessageID(params.MessageID); err != nil {
		return nil, err
	}
	msg, ok := tc.history.Get(params.ChannelID, params.MessageID)
	if !ok {
		return nil, fmt.Errorf("%w: message %s not in the recent window", ErrNotFound, params.MessageID)
	}
	return msg, nil
}

type messageUpdateParams struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

func (tc *TelegramClient) handleMessageUpdate(ctx context.Context, req *satori.Request) (any, error) {
	params, err := bindParams[messageUpdateParams](req)
	if err != nil {
		return nil, err
	}
	chatID, _, err := ParseChannelID(params.ChannelID)
	if err != nil {
		return nil, err
	}
	messageID, err := ParseMessageID(params.MessageID)
	if err != nil {
		return nil, err
	}

	plan := satorifmt.Encode(satori.Parse(params.Content), satorifmt.Capabilities{
		MaxTextLength: tc.cfg.Limits.MaxTextLength,
		DecodeUserID:  ParseUserID,
	})
	if len(plan.Parts) != 1 || plan.Parts[0].Kind != satorifmt.PartText {
		return nil, fmt.Errorf("%w: edits must resolve to a single text message", ErrInvalidReference)
	}

	rpcCtx, cancel := context.WithTimeout(ctx, tc.cfg.RequestTimeout())
	defer cancel()
	editParams := &telego.EditMessageTextParams{
		ChatID:    telegoutil.ID(chatID),
		MessageID: messageID,
		Text:      plan.Parts[0].HTML,
		ParseMode: telego.ModeHTML,
	}
	if len(plan.Buttons) > 0 {
		editParams.ReplyMarkup = keyboardFrom(plan.Buttons)
	}
	msg, err := tc.bot.EditMessageText(rpcCtx, editParams)
	if err != nil {
		return nil, classifyTelegramError(err)
	}

	converted := tc.convertMessage(msg, 0)
	tc.history.Put(converted.Channel.ID, converted)
	tc.emit(&satori.Event{
		Type:      satori.EventMessageUpdated,
		Timestamp: converted.UpdatedAt,
		Channel:   converted.Channel,
		Guild:     converted.Guild,
		User:      converted.User,
		Message:   converted,
	})
	return nil, nil
}

func (tc *TelegramClient) handleMessageDelete(ctx context.Context, req *satori.Request) (any, error) {
	params, err := bindParams[messageRefParams](req)
	if err != nil {
		return nil, err
	}
	chatID, _, err := ParseChannelID(params.ChannelID)
	if err != nil {
		return nil, err
	}
	messageID, err := ParseMessageID(params.MessageID)
	if err != nil {
		return nil, err
	}

	rpcCtx, cancel := context.WithTimeout(ctx, tc.cfg.RequestTimeout())
	defer cancel()
	err = tc.bot.DeleteMessage(rpcCtx, &telego.DeleteMessageParams{
		ChatID:    telegoutil.ID(chatID),
		MessageID: messageID,
	})
	if err != nil {
		return nil, classifyTelegramError(err)
	}

	// Telegram sends no deletion update, so the bridge synthesizes the event.
	tc.history.Delete(params.ChannelID, params.MessageID)
	tc.emit(&satori.Event{
		Type:    satori.EventMessageDeleted,
		Channel: &satori.Channel{ID: params.ChannelID},
		Message: &satori.Message{ID: params.MessageID},
	})
	return nil, nil
}

type messageListParams struct {
	ChannelID string `json:"channel_id"`
	Next      string `json:"next"`
}

func (tc *TelegramClient) handleMessageList(ctx context.Context, req *satori.Request) (any, error) {
	params, err := bindParams[messageListParams](req)
	if err != nil {
		return nil, err
	}
	if _, _, err := ParseChannelID(params.ChannelID); err != nil {
		return nil, err
	}
	data, next := tc.history.List(params.ChannelID, params.Next, 50)
	return &satori.PagedMessages{Data: data, Next: next}, nil
}

type channelGetParams struct {
	ChannelID string `json:"channel_id"`
}

func (tc *TelegramClient) handleChannelGet(ctx context.Context, req *satori.Request) (any, error) {
	params, err := bindParams[channelGetParams](req)
	if err != nil {
		return nil, err
	}
	chatID, threadID, err := ParseChannelID(params.ChannelID)
	if err != nil {
		return nil, err
	}
	info, err := retryRead(ctx, tc, func(ctx context.Context) (*telego.ChatFullInfo, error) {
		return tc.bot.GetChat(ctx, &telego.GetChatParams{ChatID: telegoutil.ID(chatID)})
	})
	if err != nil {
		return nil, err
	}
	return chatInfoToChannel(info, threadID), nil
}

type channelListParams struct {
	GuildID string `json:"guild_id"`
	Next    string `json:"next"`
}

func (tc *TelegramClient) handleChannelList(ctx context.Context, req *satori.Request) (any, error) {
	params, err := bindParams[channelListParams](req)
	if err != nil {
		return nil, err
	}
	chatID, err := ParseGuildID(params.GuildID)
	if err != nil {
		return nil, err
	}
	channels := tc.cachedChannels(chatID)
	if len(channels) == 0 {
		info, err := retryRead(ctx, tc, func(ctx context.Context) (*telego.ChatFullInfo, error) {
			return tc.bot.GetChat(ctx, &telego.GetChatParams{ChatID: telegoutil.ID(chatID)})
		})
		if err != nil {
			return nil, err
		}
		channels = []*satori.Channel{chatInfoToChannel(info, 0)}
	}
	return &satori.PagedChannels{Data: channels}, nil
}

type guildGetParams struct {
	GuildID string `json:"guild_id"`
}

func (tc *TelegramClient) handleGuildGet(ctx context.Context, req *satori.Request) (any, error) {
	params, err := bindParams[guildGetParams](req)
	if err != nil {
		return nil, err
	}
	chatID, err := ParseGuildID(params.GuildID)
	if err != nil {
		return nil, err
	}
	info, err := retryRead(ctx, tc, func(ctx context.Context) (*telego.ChatFullInfo, error) {
		return tc.bot.GetChat(ctx, &telego.GetChatParams{ChatID: telegoutil.ID(chatID)})
	})
	if err != nil {
		return nil, err
	}
	return tc.chatInfoToGuild(info), nil
}

// handleGuildList reports chats observed during this session. The Bot API
// offers no chat enumeration for bots.
func (tc *TelegramClient) handleGuildList(ctx context.Context, req *satori.Request) (any, error) {
	return &satori.PagedGuilds{Data: tc.cachedGuilds()}, nil
}

type memberGetParams struct {
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`
}

func (tc *TelegramClient) handleMemberGet(ctx context.Context, req *satori.Request) (any, error) {
	params, err := bindParams[memberGetParams](req)
	if err != nil {
		return nil, err
	}
	chatID, err := ParseGuildID(params.GuildID)
	if err != nil {
		return nil, err
	}
	userID, err := ParseUserID(params.UserID)
	if err != nil {
		return nil, err
	}
	member, err := retryRead(ctx, tc, func(ctx context.Context) (telego.ChatMember, error) {
		return tc.bot.GetChatMember(ctx, &telego.GetChatMemberParams{
			ChatID: telegoutil.ID(chatID),
			UserID: userID,
		})
	})
	if err != nil {
		return nil, err
	}
	return memberToSatori(member), nil
}

type memberListParams struct {
	GuildID string `json:"guild_id"`
	Next    string `json:"next"`
}

// handleMemberList returns the chat administrators. Full membership is not
// enumerable over the Bot API.
func (tc *TelegramClient) handleMemberList(ctx context.Context, req *satori.Request) (any, error) {
	params, err := bindParams[memberListParams](req)
	if err != nil {
		return nil, err
	}
	chatID, err := ParseGuildID(params.GuildID)
	if err != nil {
		return nil, err
	}
	admins, err := retryRead(ctx, tc, func(ctx context.Context) ([]telego.ChatMember, error) {
		return tc.bot.GetChatAdministrators(ctx, &telego.GetChatAdministratorsParams{
			ChatID: telegoutil.ID(chatID),
		})
	})
	if err != nil {
		return nil, err
	}
	members := make([]*satori.GuildMember, 0, len(admins))
	for _, admin := range admins {
		members = append(members, memberToSatori(admin))
	}
	return &satori.PagedMembers{Data: members}, nil
}

type userGetParams struct {
	UserID string `json:"user_id"`
}

func (tc *TelegramClient) handleUserGet(ctx context.Context, req *satori.Request) (any, error) {
	params, err := bindParams[userGetParams](req)
	if err != nil {
		return nil, err
	}
	userID, err := ParseUserID(params.UserID)
	if err != nil {
		return nil, err
	}
	if user, ok := tc.cachedUser(userID); ok {
		return user, nil
	}
	// Unknown user: getChat on the user id resolves public profile fields
	// when the user has a private chat with the bot.
	info, err := retryRead(ctx, tc, func(ctx context.Context) (*telego.ChatFullInfo, error) {
		return tc.bot.GetChat(ctx, &telego.GetChatParams{ChatID: telegoutil.ID(userID)})
	})
	if err != nil {
		return nil, err
	}
	user := &satori.User{
		ID:   MakeUserID(info.ID),
		Name: info.Username,
		Nick: displayName(info.FirstName, info.LastName),
	}
	if info.Photo != nil {
		user.Avatar = tc.makeMediaRef(info.Photo.BigFileID)
	}
	return user, nil
}

func (tc *TelegramClient) handleLoginGet(ctx context.Context, req *satori.Request) (any, error) {
	return tc.Login(), nil
}
