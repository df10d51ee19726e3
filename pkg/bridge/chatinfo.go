// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bridge

import (
	"strings"

	"github.com/mymmrac/telego"

	"github.com/aiku/satori-telegram/pkg/satori"
)

func displayName(firstName, lastName string) string {
	return strings.TrimSpace(firstName + " " + lastName)
}

// userToSatori converts a Telegram user into the gateway user resource.
func userToSatori(user *telego.User) *satori.User {
	if user == nil {
		return nil
	}
	return &satori.User{
		ID:    MakeUserID(user.ID),
		Name:  user.Username,
		Nick:  displayName(user.FirstName, user.LastName),
		IsBot: user.IsBot,
	}
}

func chatName(chat *telego.Chat) string {
	if chat.Title != "" {
		return chat.Title
	}
	if name := displayName(chat.FirstName, chat.LastName); name != "" {
		return name
	}
	return chat.Username
}

// chatToChannel converts a chat into a channel resource. Private chats map
// to direct channels; everything else is a text channel. threadID carries
// the forum topic a message was observed in, 0 outside forums.
func chatToChannel(chat *telego.Chat, threadID int) *satori.Channel {
	channel := &satori.Channel{
		ID:   MakeChannelID(chat.ID, threadID),
		Name: chatName(chat),
	}
	if chat.Type == telego.ChatTypePrivate {
		channel.Type = satori.ChannelTypeDirect
	}
	return channel
}

// chatToGuild converts a chat into a guild resource. Telegram has no
// guild/channel split, so a chat doubles as the guild wrapping its single
// channel. Private chats produce no guild.
func chatToGuild(chat *telego.Chat) *satori.Guild {
	if chat.Type == telego.ChatTypePrivate {
		return nil
	}
	return &satori.Guild{
		ID:   MakeGuildID(chat.ID),
		Name: chatName(chat),
	}
}

// chatInfoToGuild converts a full chat info response into a guild resource,
// including the avatar as a proxied internal media reference.
func (tc *TelegramClient) chatInfoToGuild(info *telego.ChatFullInfo) *satori.Guild {
	guild := &satori.Guild{
		ID:   MakeGuildID(info.ID),
		Name: chatName(&telego.Chat{Title: info.Title, FirstName: info.FirstName, LastName: info.LastName, Username: info.Username}),
	}
	if info.Photo != nil {
		guild.Avatar = tc.makeMediaRef(info.Photo.BigFileID)
	}
	return guild
}

// chatInfoToChannel converts a full chat info response into a channel
// resource.
func chatInfoToChannel(info *telego.ChatFullInfo, threadID int) *satori.Channel {
	channel := &satori.Channel{
		ID: MakeChannelID(info.ID, threadID),
		Name: chatName(&telego.Chat{
			Title:     info.Title,
			FirstName: info.FirstName,
			LastName:  info.LastName,
			Username:  info.Username,
		}),
	}
	if info.Type == telego.ChatTypePrivate {
		channel.Type = satori.ChannelTypeDirect
	}
	return channel
}

// memberToSatori converts a chat member into a guild member resource.
func memberToSatori(member telego.ChatMember) *satori.GuildMember {
	if member == nil {
		return nil
	}
	user := member.MemberUser()
	return &satori.GuildMember{
		User: userToSatori(&user),
		Nick: displayName(user.FirstName, user.LastName),
	}
}
