// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package platform describes the chat platform capability tokengate
// consumes: resolve a guild, read its roles and members, add or remove a
// member's role, and send messages.
//
// The reconciler, the command layer and the ingress API depend only on
// these interfaces. The production implementation lives in
// platform/discord; platform/platformtest provides an in-memory fake.
//
// # Error Classification
//
// Implementations classify failures with the sentinels below so callers
// can map them to per-role outcomes without knowing the wire protocol:
//
//	ErrNotFound  - guild, member, role or channel does not exist
//	ErrForbidden - the bot lacks permission for the call
//	ErrTransient - rate limit, network failure, 5xx
package platform

import (
	"context"
	"errors"
)

// Sentinel errors.
var (
	ErrNotFound  = errors.New("platform: not found")
	ErrForbidden = errors.New("platform: forbidden")
	ErrTransient = errors.New("platform: transient failure")
)

// Role is a live guild role.
type Role struct {
	ID   string
	Name string

	// Position is the role's rank; higher outranks lower.
	Position int
}

// Member is a guild's view of a user.
type Member struct {
	ID          string
	DisplayName string
	RoleIDs     []string
}

// HasRole reports whether the member holds roleID.
func (m Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// BotMember describes the bot's own standing in a guild.
type BotMember struct {
	UserID string

	// ManageRoles is true when the bot's effective permissions include
	// role management (directly or through administrator).
	ManageRoles bool

	// TopPosition is the highest position among the bot's roles.
	TopPosition int
}

// Client is the long-lived platform connection.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Client interface {
	// Ready reports whether the connection is established.
	Ready() bool

	// BotUser returns the bot's display name, or "" before ready.
	BotUser() string

	// Guild resolves a guild. Returns ErrNotFound if unknown.
	Guild(ctx context.Context, guildID string) (Guild, error)

	// SendDirectMessage opens a DM channel with userID and sends msg.
	SendDirectMessage(ctx context.Context, userID string, msg Message) error

	// SendChannelMessage posts msg to a guild channel.
	SendChannelMessage(ctx context.Context, channelID string, msg Message) error
}

// Guild is one resolved guild.
type Guild interface {
	ID() string

	// Member fetches a member fresh. Returns ErrNotFound if absent.
	Member(ctx context.Context, memberID string) (Member, error)

	// Roles lists every role in the guild.
	Roles(ctx context.Context) ([]Role, error)

	// Self describes the bot's permissions and rank.
	Self(ctx context.Context) (BotMember, error)

	// AddMemberRole grants roleID. reason lands in the audit log.
	AddMemberRole(ctx context.Context, memberID, roleID, reason string) error

	// RemoveMemberRole revokes roleID. reason lands in the audit log.
	RemoveMemberRole(ctx context.Context, memberID, roleID, reason string) error
}

// =============================================================================
// Messages
// =============================================================================

// Message is a platform-neutral rich message.
type Message struct {
	Content     string
	Embeds      []Embed
	LinkButtons []LinkButton
}

// Embed is a rich card.
type Embed struct {
	Title        string
	Description  string
	Color        int
	Fields       []EmbedField
	Footer       string
	ThumbnailURL string
}

// EmbedField is one titled section of an Embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// LinkButton opens URL when pressed.
type LinkButton struct {
	Label string
	URL   string
}

// RoleMention renders a role mention.
func RoleMention(roleID string) string {
	return "<@&" + roleID + ">"
}

// ChannelMention renders a channel mention.
func ChannelMention(channelID string) string {
	return "<#" + channelID + ">"
}
