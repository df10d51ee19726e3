// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package satori

// ChannelType is the Satori channel category.
type ChannelType int

const (
	ChannelTypeText ChannelType = iota
	ChannelTypeDirect
	ChannelTypeCategory
	ChannelTypeVoice
)

// Channel is a Satori channel resource.
type Channel struct {
	ID       string      `json:"id"`
	Type     ChannelType `json:"type"`
	Name     string      `json:"name,omitempty"`
	ParentID string      `json:"parent_id,omitempty"`
}

// Guild is a Satori guild resource.
type Guild struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// User is a Satori user resource.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Nick   string `json:"nick,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	IsBot  bool   `json:"is_bot,omitempty"`
}

// GuildMember is a Satori guild member resource.
type GuildMember struct {
	User     *User  `json:"user,omitempty"`
	Nick     string `json:"nick,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	JoinedAt int64  `json:"joined_at,omitempty"`
}

// LoginStatus describes the state of a Login.
type LoginStatus int

const (
	LoginOffline LoginStatus = iota
	LoginOnline
	LoginConnect
	LoginDisconnect
	LoginReconnect
)

// Login describes one authenticated platform account exposed by the server.
type Login struct {
	User     *User       `json:"user,omitempty"`
	SelfID   string      `json:"self_id,omitempty"`
	Platform string      `json:"platform,omitempty"`
	Status   LoginStatus `json:"status"`
}

// Message is a Satori message resource. Content is a rendered element
// sequence (see Render / Parse).
type Message struct {
	ID        string       `json:"id"`
	Content   string       `json:"content"`
	Channel   *Channel     `json:"channel,omitempty"`
	Guild     *Guild       `json:"guild,omitempty"`
	Member    *GuildMember `json:"member,omitempty"`
	User      *User        `json:"user,omitempty"`
	CreatedAt int64        `json:"created_at,omitempty"`
	UpdatedAt int64        `json:"updated_at,omitempty"`
}

// ButtonInteraction carries the callback payload of a pressed button.
type ButtonInteraction struct {
	ID string `json:"id"`
}

// Event types emitted by the bridge.
const (
	EventMessageCreated     = "message-created"
	EventMessageUpdated     = "message-updated"
	EventMessageDeleted     = "message-deleted"
	EventGuildMemberAdded   = "guild-member-added"
	EventGuildMemberRemoved = "guild-member-removed"
	EventReactionAdded      = "reaction-added"
	EventReactionRemoved    = "reaction-removed"
	EventLoginUpdated       = "login-updated"
	EventInteractionButton  = "interaction/button"
)

// Event is the Satori event envelope. ID is strictly increasing within one
// session and doubles as the WebSocket resume cursor.
type Event struct {
	ID        int64              `json:"id"`
	Type      string             `json:"type"`
	Platform  string             `json:"platform"`
	SelfID    string             `json:"self_id"`
	Timestamp int64              `json:"timestamp"`
	Channel   *Channel           `json:"channel,omitempty"`
	Guild     *Guild             `json:"guild,omitempty"`
	Login     *Login             `json:"login,omitempty"`
	Member    *GuildMember       `json:"member,omitempty"`
	Message   *Message           `json:"message,omitempty"`
	Operator  *User              `json:"operator,omitempty"`
	User      *User              `json:"user,omitempty"`
	Button    *ButtonInteraction `json:"button,omitempty"`
}

// PagedMessages is the paginated result of message.list.
type PagedMessages struct {
	Data []*Message `json:"data"`
	Next string     `json:"next,omitempty"`
}

// PagedChannels is the paginated result of channel.list.
type PagedChannels struct {
	Data []*Channel `json:"data"`
	Next string     `json:"next,omitempty"`
}

// PagedGuilds is the paginated result of guild.list.
type PagedGuilds struct {
	Data []*Guild `json:"data"`
	Next string   `json:"next,omitempty"`
}

// PagedMembers is the paginated result of guild.member.list.
type PagedMembers struct {
	Data []*GuildMember `json:"data"`
	Next string         `json:"next,omitempty"`
}
