// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package discord implements platform.Client on discordgo.
//
// # Description
//
// Client owns the gateway connection: Open connects, Close disconnects and
// Ready reflects the gateway state. Every guild read is a fresh REST call
// so reconciliations never act on a stale cache. Role changes carry an
// audit log reason.
//
// Slash commands are served by handing a commands.Dispatcher to Handle
// before Open. On every Ready the command table is registered for the
// configured guild (bulk overwrite) unless registration is disabled.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/AleutianAI/tokengate/services/commands"
	"github.com/AleutianAI/tokengate/services/platform"
)

// Config configures the connection.
type Config struct {
	// Token is the bot token, without the "Bot " prefix. Required.
	Token string

	// GuildID scopes command registration.
	GuildID string

	// RegisterCommands overwrites the guild's commands on Ready.
	RegisterCommands bool

	// InteractionTimeout bounds one command handler. Default 10s.
	InteractionTimeout time.Duration

	Logger *slog.Logger
}

// Client is the discordgo-backed platform connection.
//
// # Thread Safety
//
// Safe for concurrent use once Open returns.
type Client struct {
	session *discordgo.Session
	cfg     Config
	logger  *slog.Logger

	ready   atomic.Bool
	botUser atomic.Value // string
	appID   atomic.Value // string

	mu         sync.Mutex
	dispatcher *commands.Dispatcher
	removers   []func()
}

// New creates an unopened client.
//
// # Outputs
//
//   - *Client: Call Handle (optional) then Open.
//   - error: Empty token or session construction failure.
func New(cfg Config) (*Client, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord bot token is required")
	}
	if cfg.InteractionTimeout <= 0 {
		cfg.InteractionTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	c := &Client{session: session, cfg: cfg, logger: logger.With("component", "discord")}
	c.botUser.Store("")
	c.appID.Store("")
	return c, nil
}

// Handle routes slash command interactions to d. Call before Open.
func (c *Client) Handle(d *commands.Dispatcher) {
	c.mu.Lock()
	c.dispatcher = d
	c.mu.Unlock()
}

// Open connects to the gateway. Ready becomes true once the gateway
// confirms the session.
func (c *Client) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.removers = append(c.removers,
		c.session.AddHandler(c.onReady),
		c.session.AddHandler(c.onResumed),
		c.session.AddHandler(c.onDisconnect),
		c.session.AddHandler(c.onInteraction),
	)
	c.mu.Unlock()

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	c.logger.Info("discord gateway connecting")
	return nil
}

// WaitReady blocks until Ready or ctx ends.
func (c *Client) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for !c.Ready() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for discord ready: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Close disconnects and removes the event handlers.
func (c *Client) Close() error {
	c.mu.Lock()
	for _, remove := range c.removers {
		remove()
	}
	c.removers = nil
	c.mu.Unlock()

	c.ready.Store(false)
	if err := c.session.Close(); err != nil {
		return fmt.Errorf("close discord gateway: %w", err)
	}
	c.logger.Info("discord gateway closed")
	return nil
}

// Ready implements platform.Client.
func (c *Client) Ready() bool { return c.ready.Load() }

// BotUser implements platform.Client.
func (c *Client) BotUser() string {
	if !c.Ready() {
		return ""
	}
	return c.botUser.Load().(string)
}

// Guild implements platform.Client.
func (c *Client) Guild(ctx context.Context, guildID string) (platform.Guild, error) {
	if _, err := c.session.State.Guild(guildID); err == nil {
		return &guild{client: c, id: guildID}, nil
	}
	if _, err := c.session.Guild(guildID, discordgo.WithContext(ctx)); err != nil {
		return nil, fmt.Errorf("guild %s: %w", guildID, classify(err))
	}
	return &guild{client: c, id: guildID}, nil
}

// SendDirectMessage implements platform.Client.
func (c *Client) SendDirectMessage(ctx context.Context, userID string, msg platform.Message) error {
	channel, err := c.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open DM with %s: %w", userID, classify(err))
	}
	return c.SendChannelMessage(ctx, channel.ID, msg)
}

// SendChannelMessage implements platform.Client.
func (c *Client) SendChannelMessage(ctx context.Context, channelID string, msg platform.Message) error {
	if _, err := c.session.ChannelMessageSendComplex(channelID, toMessageSend(msg), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send to channel %s: %w", channelID, classify(err))
	}
	return nil
}

// =============================================================================
// Gateway Events
// =============================================================================

func (c *Client) onReady(s *discordgo.Session, r *discordgo.Ready) {
	c.botUser.Store(r.User.String())
	c.appID.Store(r.User.ID)
	c.ready.Store(true)
	c.logger.Info("discord bot ready", "bot_user", r.User.String(), "guilds", len(r.Guilds))

	if !c.cfg.RegisterCommands || c.cfg.GuildID == "" {
		return
	}
	c.mu.Lock()
	d := c.dispatcher
	c.mu.Unlock()
	if d == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.RegisterCommands(ctx, d.Commands()); err != nil {
		c.logger.Error("slash command registration failed", "guild_id", c.cfg.GuildID, "error", err)
	}
}

func (c *Client) onResumed(_ *discordgo.Session, _ *discordgo.Resumed) {
	c.ready.Store(true)
	c.logger.Info("discord session resumed")
}

func (c *Client) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	c.ready.Store(false)
	c.logger.Warn("discord gateway disconnected")
}

func (c *Client) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	c.mu.Lock()
	d := c.dispatcher
	c.mu.Unlock()
	if d == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.InteractionTimeout)
	defer cancel()

	name, req := toRequest(i)
	resp := d.Dispatch(ctx, name, req)
	if err := s.InteractionRespond(i.Interaction, toInteractionResponse(resp), discordgo.WithContext(ctx)); err != nil {
		c.logger.Error("interaction response failed", "command", name, "user_id", req.User.ID, "error", err)
	}
}

// RegisterCommands overwrites the configured guild's slash commands.
func (c *Client) RegisterCommands(ctx context.Context, table []commands.Command) error {
	appID, _ := c.appID.Load().(string)
	if appID == "" {
		return errors.New("application id unknown before ready")
	}
	cmds := make([]*discordgo.ApplicationCommand, 0, len(table))
	for _, cmd := range table {
		cmds = append(cmds, toApplicationCommand(cmd))
	}
	registered, err := c.session.ApplicationCommandBulkOverwrite(appID, c.cfg.GuildID, cmds, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("register commands: %w", classify(err))
	}
	c.logger.Info("slash commands registered", "guild_id", c.cfg.GuildID, "count", len(registered))
	return nil
}

// =============================================================================
// Guild
// =============================================================================

type guild struct {
	client *Client
	id     string
}

func (g *guild) ID() string { return g.id }

func (g *guild) Member(ctx context.Context, memberID string) (platform.Member, error) {
	m, err := g.client.session.GuildMember(g.id, memberID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.Member{}, fmt.Errorf("member %s: %w", memberID, classify(err))
	}
	return toMember(m), nil
}

func (g *guild) Roles(ctx context.Context) ([]platform.Role, error) {
	roles, err := g.client.session.GuildRoles(g.id, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("roles of %s: %w", g.id, classify(err))
	}
	out := make([]platform.Role, 0, len(roles))
	for _, r := range roles {
		out = append(out, platform.Role{ID: r.ID, Name: r.Name, Position: r.Position})
	}
	return out, nil
}

func (g *guild) Self(ctx context.Context) (platform.BotMember, error) {
	botID, _ := g.client.appID.Load().(string)
	if botID == "" {
		return platform.BotMember{}, fmt.Errorf("bot identity unknown: %w", platform.ErrTransient)
	}
	m, err := g.client.session.GuildMember(g.id, botID, discordgo.WithContext(ctx))
	if err != nil {
		return platform.BotMember{}, fmt.Errorf("bot member: %w", classify(err))
	}
	roles, err := g.client.session.GuildRoles(g.id, discordgo.WithContext(ctx))
	if err != nil {
		return platform.BotMember{}, fmt.Errorf("roles of %s: %w", g.id, classify(err))
	}
	return botStanding(g.id, botID, m.Roles, roles), nil
}

func (g *guild) AddMemberRole(ctx context.Context, memberID, roleID, reason string) error {
	err := g.client.session.GuildMemberRoleAdd(g.id, memberID, roleID,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	if err != nil {
		return fmt.Errorf("add role %s to %s: %w", roleID, memberID, classify(err))
	}
	return nil
}

func (g *guild) RemoveMemberRole(ctx context.Context, memberID, roleID, reason string) error {
	err := g.client.session.GuildMemberRoleRemove(g.id, memberID, roleID,
		discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	if err != nil {
		return fmt.Errorf("remove role %s from %s: %w", roleID, memberID, classify(err))
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// classify maps a discordgo error onto the platform sentinels.
func classify(err error) error {
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", platform.ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %w", platform.ErrForbidden, err)
		}
	}
	return fmt.Errorf("%w: %w", platform.ErrTransient, err)
}

// botStanding derives the bot's effective role permissions and rank.
// @everyone shares the guild's id and is always held.
func botStanding(guildID, botID string, memberRoleIDs []string, roles []*discordgo.Role) platform.BotMember {
	held := make(map[string]struct{}, len(memberRoleIDs)+1)
	held[guildID] = struct{}{}
	for _, id := range memberRoleIDs {
		held[id] = struct{}{}
	}

	var (
		perms int64
		top   int
	)
	for _, r := range roles {
		if _, ok := held[r.ID]; !ok {
			continue
		}
		perms |= r.Permissions
		if r.Position > top {
			top = r.Position
		}
	}
	return platform.BotMember{
		UserID:      botID,
		ManageRoles: perms&(discordgo.PermissionAdministrator|discordgo.PermissionManageRoles) != 0,
		TopPosition: top,
	}
}

func toMember(m *discordgo.Member) platform.Member {
	out := platform.Member{RoleIDs: append([]string(nil), m.Roles...)}
	if m.User != nil {
		out.ID = m.User.ID
	}
	out.DisplayName = displayName(m)
	return out
}

func displayName(m *discordgo.Member) string {
	if m == nil {
		return ""
	}
	if m.Nick != "" {
		return m.Nick
	}
	if m.User == nil {
		return ""
	}
	if m.User.GlobalName != "" {
		return m.User.GlobalName
	}
	return m.User.Username
}

var _ platform.Client = (*Client)(nil)
