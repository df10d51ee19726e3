// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"github.com/mymmrac/telego"

	"github.com/aiku/satori-telegram/pkg/bridge/telegramfmt"
	"github.com/aiku/satori-telegram/pkg/satori"
)

// handleUpdate normalizes one native update into zero or more gateway
// events. Updates are deduplicated by native update id within a bounded
// window, and a malformed update never takes down the pump.
func (tc *TelegramClient) handleUpdate(update *telego.Update) {
	defer func() {
		if r := recover(); r != nil {
			tc.log.Error().Any("panic", r).Int("update_id", update.UpdateID).
				Msg("Panic while normalizing update, skipping it")
		}
	}()

	if tc.seenUpdates.Contains(update.UpdateID) {
		tc.log.Debug().Int("update_id", update.UpdateID).Msg("Ignoring duplicate update")
		return
	}
	tc.seenUpdates.Push(update.UpdateID, struct{}{})

	switch {
	case update.Message != nil:
		tc.handleMessage(update.Message, false)
	case update.ChannelPost != nil:
		tc.handleMessage(update.ChannelPost, false)
	case update.EditedMessage != nil:
		tc.handleMessage(update.EditedMessage, true)
	case update.EditedChannelPost != nil:
		tc.handleMessage(update.EditedChannelPost, true)
	case update.CallbackQuery != nil:
		tc.handleCallbackQuery(update.CallbackQuery)
	case update.MessageReaction != nil:
		tc.handleReaction(update.MessageReaction)
	case update.MyChatMember != nil:
		tc.handleMemberUpdate(update.MyChatMember)
	case update.ChatMember != nil:
		tc.handleMemberUpdate(update.ChatMember)
	default:
		tc.log.Debug().Int("update_id", update.UpdateID).Msg("Ignoring unsupported update type")
	}
}

func threadIDOf(msg *telego.Message) int {
	if msg.IsTopicMessage {
		return msg.MessageThreadID
	}
	return 0
}

func (tc *TelegramClient) handleMessage(msg *telego.Message, edited bool) {
	tc.cacheChat(&msg.Chat, threadIDOf(msg))
	if msg.From != nil {
		tc.cacheUser(msg.From)
	}

	// Membership service messages carry no content of their own.
	if len(msg.NewChatMembers) > 0 || msg.LeftChatMember != nil {
		tc.handleServiceMessage(msg)
		return
	}

	converted := tc.convertMessage(msg, 0)
	tc.history.Put(converted.Channel.ID, converted)

	evtType := satori.EventMessageCreated
	timestamp := int64(msg.Date) * 1000
	if edited {
		evtType = satori.EventMessageUpdated
		if msg.EditDate != 0 {
			timestamp = int64(msg.EditDate) * 1000
		}
	}
	tc.emit(&satori.Event{
		Type:      evtType,
		Timestamp: timestamp,
		Channel:   converted.Channel,
		Guild:     converted.Guild,
		Member:    converted.Member,
		User:      converted.User,
		Message:   converted,
	})
}

func (tc *TelegramClient) handleServiceMessage(msg *telego.Message) {
	channel := chatToChannel(&msg.Chat, threadIDOf(msg))
	guild := chatToGuild(&msg.Chat)
	operator := userToSatori(msg.From)
	timestamp := int64(msg.Date) * 1000

	for i := range msg.NewChatMembers {
		member := &msg.NewChatMembers[i]
		tc.cacheUser(member)
		tc.emit(&satori.Event{
			Type:      satori.EventGuildMemberAdded,
			Timestamp: timestamp,
			Channel:   channel,
			Guild:     guild,
			User:      userToSatori(member),
			Member:    &satori.GuildMember{User: userToSatori(member), JoinedAt: timestamp},
			Operator:  operator,
		})
	}
	if msg.LeftChatMember != nil {
		tc.emit(&satori.Event{
			Type:      satori.EventGuildMemberRemoved,
			Timestamp: timestamp,
			Channel:   channel,
			Guild:     guild,
			User:      userToSatori(msg.LeftChatMember),
			Member:    &satori.GuildMember{User: userToSatori(msg.LeftChatMember)},
			Operator:  operator,
		})
	}
}

// convertMessage builds the gateway message resource for a native message.
// depth guards the reply recursion: the quoted message is converted once,
// without following its own reply chain.
func (tc *TelegramClient) convertMessage(msg *telego.Message, depth int) *satori.Message {
	var elements []*satori.Element

	if depth == 0 && msg.ReplyToMessage != nil {
		quoted := tc.convertMessage(msg.ReplyToMessage, depth+1)
		elements = append(elements, satori.Quote(quoted.ID, satori.Parse(quoted.Content)...))
	}

	elements = append(elements, tc.mediaElements(msg)...)

	text, entities := msg.Text, msg.Entities
	if text == "" {
		text, entities = msg.Caption, msg.CaptionEntities
	}
	elements = append(elements, telegramfmt.Parse(text, entities, telegramfmt.Options{
		EncodeUserID: MakeUserID,
	})...)

	converted := &satori.Message{
		ID:        MakeMessageID(msg.MessageID),
		Content:   satori.Render(elements),
		Channel:   chatToChannel(&msg.Chat, threadIDOf(msg)),
		Guild:     chatToGuild(&msg.Chat),
		CreatedAt: int64(msg.Date) * 1000,
	}
	if msg.EditDate != 0 {
		converted.UpdatedAt = int64(msg.EditDate) * 1000
	}
	if msg.From != nil {
		converted.User = userToSatori(msg.From)
		converted.Member = &satori.GuildMember{
			User: converted.User,
			Nick: displayName(msg.From.FirstName, msg.From.LastName),
		}
	}
	return converted
}

// mediaElements maps native attachments to media elements pointing at
// proxied internal references, so the original bytes stay on Telegram.
func (tc *TelegramClient) mediaElements(msg *telego.Message) []*satori.Element {
	var out []*satori.Element
	switch {
	case len(msg.Photo) > 0:
		// Photo sizes are ordered smallest first; take the original.
		largest := msg.Photo[len(msg.Photo)-1]
		out = append(out, satori.Resource(satori.ElementImage, tc.makeMediaRef(largest.FileID), ""))
	case msg.Sticker != nil:
		out = append(out, satori.Resource(satori.ElementImage, tc.makeMediaRef(msg.Sticker.FileID), msg.Sticker.Emoji))
	case msg.Audio != nil:
		out = append(out, satori.Resource(satori.ElementAudio, tc.makeMediaRef(msg.Audio.FileID), msg.Audio.FileName))
	case msg.Voice != nil:
		out = append(out, satori.Resource(satori.ElementAudio, tc.makeMediaRef(msg.Voice.FileID), ""))
	case msg.Video != nil:
		out = append(out, satori.Resource(satori.ElementVideo, tc.makeMediaRef(msg.Video.FileID), msg.Video.FileName))
	case msg.Animation != nil:
		out = append(out, satori.Resource(satori.ElementVideo, tc.makeMediaRef(msg.Animation.FileID), msg.Animation.FileName))
	case msg.VideoNote != nil:
		out = append(out, satori.Resource(satori.ElementVideo, tc.makeMediaRef(msg.VideoNote.FileID), ""))
	case msg.Document != nil:
		out = append(out, satori.Resource(satori.ElementFile, tc.makeMediaRef(msg.Document.FileID), msg.Document.FileName))
	}
	return out
}

func (tc *TelegramClient) handleCallbackQuery(query *telego.CallbackQuery) {
	tc.cacheUser(&query.From)

	evt := &satori.Event{
		Type:   satori.EventInteractionButton,
		User:   userToSatori(&query.From),
		Button: &satori.ButtonInteraction{ID: query.Data},
	}
	if query.Message != nil {
		chat := query.Message.GetChat()
		tc.cacheChat(&chat, 0)
		evt.Channel = chatToChannel(&chat, 0)
		evt.Guild = chatToGuild(&chat)
		evt.Message = &satori.Message{ID: MakeMessageID(query.Message.GetMessageID())}
	}
	tc.emit(evt)

	// Acknowledge so the client's loading indicator clears. Best effort.
	ctx, cancel := tc.rpcContext()
	defer cancel()
	if err := tc.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{CallbackQueryID: query.ID}); err != nil {
		tc.log.Warn().Err(err).Msg("Failed to acknowledge callback query")
	}
}

func (tc *TelegramClient) handleReaction(reaction *telego.MessageReactionUpdated) {
	tc.cacheChat(&reaction.Chat, 0)

	var user *satori.User
	if reaction.User != nil {
		tc.cacheUser(reaction.User)
		user = userToSatori(reaction.User)
	}
	channel := chatToChannel(&reaction.Chat, 0)
	guild := chatToGuild(&reaction.Chat)
	messageRef := &satori.Message{ID: MakeMessageID(reaction.MessageID)}
	timestamp := int64(reaction.Date) * 1000

	if len(reaction.NewReaction) > len(reaction.OldReaction) {
		tc.emit(&satori.Event{
			Type:      satori.EventReactionAdded,
			Timestamp: timestamp,
			Channel:   channel,
			Guild:     guild,
			User:      user,
			Message:   messageRef,
		})
	} else if len(reaction.NewReaction) < len(reaction.OldReaction) {
		tc.emit(&satori.Event{
			Type:      satori.EventReactionRemoved,
			Timestamp: timestamp,
			Channel:   channel,
			Guild:     guild,
			User:      user,
			Message:   messageRef,
		})
	}
}

func isMemberStatus(status string) bool {
	switch status {
	case telego.MemberStatusCreator, telego.MemberStatusAdministrator,
		telego.MemberStatusMember, telego.MemberStatusRestricted:
		return true
	default:
		return false
	}
}

func (tc *TelegramClient) handleMemberUpdate(change *telego.ChatMemberUpdated) {
	tc.cacheChat(&change.Chat, 0)
	tc.cacheUser(&change.From)

	wasMember := isMemberStatus(change.OldChatMember.MemberStatus())
	isMember := isMemberStatus(change.NewChatMember.MemberStatus())
	if wasMember == isMember {
		return
	}

	subject := change.NewChatMember.MemberUser()
	tc.cacheUser(&subject)
	evtType := satori.EventGuildMemberAdded
	if !isMember {
		evtType = satori.EventGuildMemberRemoved
	}
	tc.emit(&satori.Event{
		Type:      evtType,
		Timestamp: int64(change.Date) * 1000,
		Channel:   chatToChannel(&change.Chat, 0),
		Guild:     chatToGuild(&change.Chat),
		User:      userToSatori(&subject),
		Member:    memberToSatori(change.NewChatMember),
		Operator:  userToSatori(&change.From),
	})
}
