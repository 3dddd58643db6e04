// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package platformtest provides an in-memory platform.Client for tests.
//
// The fake keeps guild state (roles, members, the bot's own standing),
// records every mutating call, and lets tests inject errors per role.
//
//	guild := platformtest.NewGuild("1").
//	    WithRole(platform.Role{ID: "r1", Name: "Holder", Position: 2}).
//	    WithMember("m1", "alice")
//	client := platformtest.NewClient(guild)
package platformtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AleutianAI/tokengate/services/platform"
)

// Call is one recorded mutation.
type Call struct {
	Action   string // "add" or "remove"
	MemberID string
	RoleID   string
	Reason   string
}

// SentMessage is one recorded outbound message.
type SentMessage struct {
	Target  string
	Message platform.Message
}

// =============================================================================
// Client
// =============================================================================

// Client is a fake platform.Client.
type Client struct {
	mu       sync.Mutex
	ready    bool
	botUser  string
	guilds   map[string]*Guild
	dms      []SentMessage
	channels []SentMessage

	// DMErr and ChannelErr, when set, are returned by the send methods.
	DMErr      error
	ChannelErr error
}

// NewClient returns a ready client serving guilds.
func NewClient(guilds ...*Guild) *Client {
	c := &Client{ready: true, botUser: "TokenGate#0001", guilds: map[string]*Guild{}}
	for _, g := range guilds {
		c.guilds[g.id] = g
	}
	return c
}

// SetReady toggles readiness.
func (c *Client) SetReady(ready bool) {
	c.mu.Lock()
	c.ready = ready
	c.mu.Unlock()
}

// Ready implements platform.Client.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// BotUser implements platform.Client.
func (c *Client) BotUser() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return ""
	}
	return c.botUser
}

// Guild implements platform.Client.
func (c *Client) Guild(ctx context.Context, guildID string) (platform.Guild, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.guilds[guildID]
	if !ok {
		return nil, fmt.Errorf("guild %s: %w", guildID, platform.ErrNotFound)
	}
	return g, nil
}

// SendDirectMessage implements platform.Client.
func (c *Client) SendDirectMessage(_ context.Context, userID string, msg platform.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.DMErr != nil {
		return c.DMErr
	}
	c.dms = append(c.dms, SentMessage{Target: userID, Message: msg})
	return nil
}

// SendChannelMessage implements platform.Client.
func (c *Client) SendChannelMessage(_ context.Context, channelID string, msg platform.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ChannelErr != nil {
		return c.ChannelErr
	}
	c.channels = append(c.channels, SentMessage{Target: channelID, Message: msg})
	return nil
}

// DirectMessages returns the DMs sent so far.
func (c *Client) DirectMessages() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentMessage(nil), c.dms...)
}

// ChannelMessages returns the channel posts sent so far.
func (c *Client) ChannelMessages() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]SentMessage(nil), c.channels...)
}

// =============================================================================
// Guild
// =============================================================================

// Guild is a fake platform.Guild.
type Guild struct {
	mu        sync.Mutex
	id        string
	roles     map[string]platform.Role
	members   map[string]*platform.Member
	self      platform.BotMember
	calls     []Call
	addErr    map[string]error
	removeErr map[string]error

	// MemberErr, RolesErr and SelfErr, when set, fail the matching reads.
	MemberErr error
	RolesErr  error
	SelfErr   error
}

// NewGuild returns an empty guild whose bot can manage roles below
// position 100.
func NewGuild(id string) *Guild {
	return &Guild{
		id:        id,
		roles:     map[string]platform.Role{},
		members:   map[string]*platform.Member{},
		self:      platform.BotMember{UserID: "bot", ManageRoles: true, TopPosition: 100},
		addErr:    map[string]error{},
		removeErr: map[string]error{},
	}
}

// WithRole adds role to the guild.
func (g *Guild) WithRole(role platform.Role) *Guild {
	g.mu.Lock()
	g.roles[role.ID] = role
	g.mu.Unlock()
	return g
}

// WithMember adds a member holding roleIDs.
func (g *Guild) WithMember(id, name string, roleIDs ...string) *Guild {
	g.mu.Lock()
	g.members[id] = &platform.Member{ID: id, DisplayName: name, RoleIDs: append([]string(nil), roleIDs...)}
	g.mu.Unlock()
	return g
}

// WithSelf replaces the bot's standing.
func (g *Guild) WithSelf(self platform.BotMember) *Guild {
	g.mu.Lock()
	g.self = self
	g.mu.Unlock()
	return g
}

// FailAdd makes AddMemberRole(roleID) return err.
func (g *Guild) FailAdd(roleID string, err error) *Guild {
	g.mu.Lock()
	g.addErr[roleID] = err
	g.mu.Unlock()
	return g
}

// FailRemove makes RemoveMemberRole(roleID) return err.
func (g *Guild) FailRemove(roleID string, err error) *Guild {
	g.mu.Lock()
	g.removeErr[roleID] = err
	g.mu.Unlock()
	return g
}

// ID implements platform.Guild.
func (g *Guild) ID() string { return g.id }

// Member implements platform.Guild.
func (g *Guild) Member(ctx context.Context, memberID string) (platform.Member, error) {
	if err := ctx.Err(); err != nil {
		return platform.Member{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.MemberErr != nil {
		return platform.Member{}, g.MemberErr
	}
	m, ok := g.members[memberID]
	if !ok {
		return platform.Member{}, fmt.Errorf("member %s: %w", memberID, platform.ErrNotFound)
	}
	out := *m
	out.RoleIDs = append([]string(nil), m.RoleIDs...)
	return out, nil
}

// Roles implements platform.Guild. Roles are returned by ascending position.
func (g *Guild) Roles(ctx context.Context) ([]platform.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.RolesErr != nil {
		return nil, g.RolesErr
	}
	out := make([]platform.Role, 0, len(g.roles))
	for _, r := range g.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// Self implements platform.Guild.
func (g *Guild) Self(ctx context.Context) (platform.BotMember, error) {
	if err := ctx.Err(); err != nil {
		return platform.BotMember{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.SelfErr != nil {
		return platform.BotMember{}, g.SelfErr
	}
	return g.self, nil
}

// AddMemberRole implements platform.Guild.
func (g *Guild) AddMemberRole(ctx context.Context, memberID, roleID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, Call{Action: "add", MemberID: memberID, RoleID: roleID, Reason: reason})
	if err := g.addErr[roleID]; err != nil {
		return err
	}
	m, ok := g.members[memberID]
	if !ok {
		return fmt.Errorf("member %s: %w", memberID, platform.ErrNotFound)
	}
	if _, ok := g.roles[roleID]; !ok {
		return fmt.Errorf("role %s: %w", roleID, platform.ErrNotFound)
	}
	if !m.HasRole(roleID) {
		m.RoleIDs = append(m.RoleIDs, roleID)
	}
	return nil
}

// RemoveMemberRole implements platform.Guild.
func (g *Guild) RemoveMemberRole(ctx context.Context, memberID, roleID, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, Call{Action: "remove", MemberID: memberID, RoleID: roleID, Reason: reason})
	if err := g.removeErr[roleID]; err != nil {
		return err
	}
	m, ok := g.members[memberID]
	if !ok {
		return fmt.Errorf("member %s: %w", memberID, platform.ErrNotFound)
	}
	kept := m.RoleIDs[:0]
	for _, id := range m.RoleIDs {
		if id != roleID {
			kept = append(kept, id)
		}
	}
	m.RoleIDs = kept
	return nil
}

// Calls returns every recorded mutation.
func (g *Guild) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// CallsFor returns the recorded mutations with the given action.
func (g *Guild) CallsFor(action string) []Call {
	var out []Call
	for _, c := range g.Calls() {
		if c.Action == action {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (g *Guild) ResetCalls() {
	g.mu.Lock()
	g.calls = nil
	g.mu.Unlock()
}

// MemberRoles returns the member's current role ids, or nil if absent.
func (g *Guild) MemberRoles(memberID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.members[memberID]
	if !ok {
		return nil
	}
	return append([]string(nil), m.RoleIDs...)
}

var (
	_ platform.Client = (*Client)(nil)
	_ platform.Guild  = (*Guild)(nil)
)
