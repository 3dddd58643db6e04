// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/AleutianAI/tokengate/pkg/extensions"
	"github.com/AleutianAI/tokengate/services/catalog"
	"github.com/AleutianAI/tokengate/services/platform"
)

// Command names.
const (
	CmdConnect      = "connect"
	CmdSendEmbed    = "send-embed"
	CmdRoleGoals    = "rolegoals"
	CmdAddReward    = "addreward"
	CmdRemoveReward = "removereward"
)

// Option names.
const (
	OptChannel = "channel"
	OptRole    = "discord_role"
	OptAmount  = "amount"
)

// HandlerConfig configures the built-in commands.
type HandlerConfig struct {
	// WebAppURL is the verification web app base URL.
	WebAppURL string

	// Community names the community in listings. Default "Crowdpunk".
	Community string

	// TokenSymbol is the gated token's symbol. Default "OSMO".
	TokenSymbol string

	Logger *slog.Logger
	Audit  extensions.AuditLogger
}

// Handlers implements the built-in commands.
type Handlers struct {
	catalog *catalog.Service
	client  platform.Client
	cfg     HandlerConfig
	logger  *slog.Logger
	audit   extensions.AuditLogger
}

// NewHandlers creates the command handlers.
func NewHandlers(cat *catalog.Service, client platform.Client, cfg HandlerConfig) *Handlers {
	if cfg.Community == "" {
		cfg.Community = "Crowdpunk"
	}
	if cfg.TokenSymbol == "" {
		cfg.TokenSymbol = "OSMO"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	audit := cfg.Audit
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	return &Handlers{catalog: cat, client: client, cfg: cfg, logger: logger, audit: audit}
}

// Table returns the command table.
func (h *Handlers) Table() []Command {
	return []Command{
		{
			Name:        CmdConnect,
			Description: "Get the connection link to verify your Cosmos token holdings",
			Handler:     h.Connect,
		},
		{
			Name:          CmdSendEmbed,
			Description:   "Send a custom embed to a specified channel (Admin only)",
			RequiresAdmin: true,
			Options: []Option{
				{Name: OptChannel, Description: "The channel to send the announcement embed to", Type: OptionChannel, Required: true},
			},
			Handler: h.SendEmbed,
		},
		{
			Name:        CmdRoleGoals,
			Description: "View all available roles and their requirements",
			Handler:     h.RoleGoals,
		},
		{
			Name:          CmdAddReward,
			Description:   "Add a new role reward to the database (Admin only)",
			RequiresAdmin: true,
			Options: []Option{
				{Name: OptRole, Description: "The Discord role to assign", Type: OptionRole, Required: true},
				{Name: OptAmount, Description: "The minimum token amount required (optional - leave empty for all holders)", Type: OptionNumber},
			},
			Handler: h.AddReward,
		},
		{
			Name:          CmdRemoveReward,
			Description:   "Remove a role reward from the database (Admin only)",
			RequiresAdmin: true,
			Options: []Option{
				{Name: OptRole, Description: "The Discord role to remove from the database", Type: OptionRole, Required: true},
			},
			Handler: h.RemoveReward,
		},
	}
}

// Connect replies privately with a member-bound connect link.
func (h *Handlers) Connect(_ context.Context, req Request) (Response, error) {
	h.logger.Info("connect link issued", "user_id", req.User.ID)
	return Response{Message: ConnectMessage(h.cfg.WebAppURL, req.User), Ephemeral: true}, nil
}

// SendEmbed posts the public announcement to the chosen channel.
func (h *Handlers) SendEmbed(ctx context.Context, req Request) (Response, error) {
	opt, ok := req.Option(OptChannel)
	if !ok || opt.ChannelID == "" {
		return Response{}, errors.New("a target channel is required")
	}
	if err := h.client.SendChannelMessage(ctx, opt.ChannelID, AnnouncementMessage(h.cfg.WebAppURL)); err != nil {
		return Response{}, fmt.Errorf("failed to send embed: %w", err)
	}

	h.logger.Info("announcement sent", "user_id", req.User.ID, "channel_id", opt.ChannelID)
	return Response{
		Message: platform.Message{Embeds: []platform.Embed{{
			Title:       "✅ Embed Sent Successfully",
			Description: "Embed has been sent to " + platform.ChannelMention(opt.ChannelID),
			Color:       ColorSuccess,
			Footer:      defaultFooter,
		}}},
		Ephemeral: true,
	}, nil
}

// RoleGoals lists the catalog.
func (h *Handlers) RoleGoals(ctx context.Context, _ Request) (Response, error) {
	roles, err := h.catalog.GetAllRoles(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("failed to load role goals: %w", err)
	}
	return Response{Message: platform.Message{Embeds: []platform.Embed{RoleGoalsEmbed(h.cfg.Community, h.cfg.TokenSymbol, roles)}}}, nil
}

// AddReward catalogues a role, optionally with an amount threshold.
func (h *Handlers) AddReward(ctx context.Context, req Request) (Response, error) {
	role, err := roleOption(req)
	if err != nil {
		return Response{}, err
	}

	var threshold *int64
	if opt, ok := req.Option(OptAmount); ok && opt.Number != nil {
		if *opt.Number < 0 || math.IsNaN(*opt.Number) {
			return Response{}, fmt.Errorf("amount must be zero or more, got %v", *opt.Number)
		}
		t := int64(*opt.Number)
		threshold = &t
	}

	def, err := h.catalog.AddRole(ctx, catalog.NewRoleRequest{
		Name:            role.Name,
		PlatformRoleID:  role.ID,
		AmountThreshold: threshold,
		CreatedBy:       fmt.Sprintf("%s (ID: %s)", req.User.DisplayName, req.User.ID),
	})
	if errors.Is(err, catalog.ErrConflict) {
		return ephemeral(RewardExistsEmbed(role.ID)), nil
	}
	if err != nil {
		return Response{}, fmt.Errorf("failed to add role to database: %w", err)
	}

	h.recordCatalogChange(ctx, extensions.EventCatalogRoleAdded, "add", req.User.ID, def.PlatformRoleID, def.Name)
	h.logger.Info("reward added",
		"role_id", def.PlatformRoleID,
		"role_name", def.Name,
		"kind", def.Kind,
		"user_id", req.User.ID)
	return ephemeral(RewardAddedEmbed(def, h.cfg.TokenSymbol, req.User.DisplayName)), nil
}

// RemoveReward removes a role from the catalog.
func (h *Handlers) RemoveReward(ctx context.Context, req Request) (Response, error) {
	role, err := roleOption(req)
	if err != nil {
		return Response{}, err
	}

	removed, err := h.catalog.DeleteRole(ctx, role.ID)
	if err != nil {
		return Response{}, fmt.Errorf("failed to remove role from database: %w", err)
	}
	if !removed {
		return ephemeral(RewardNotFoundEmbed(role.ID)), nil
	}

	h.recordCatalogChange(ctx, extensions.EventCatalogRoleRemoved, "remove", req.User.ID, role.ID, role.Name)
	h.logger.Info("reward removed", "role_id", role.ID, "role_name", role.Name, "user_id", req.User.ID)
	return ephemeral(RewardRemovedEmbed(*role, req.User.DisplayName)), nil
}

func (h *Handlers) recordCatalogChange(ctx context.Context, eventType, action, userID, roleID, roleName string) {
	err := h.audit.Log(ctx, extensions.AuditEvent{
		EventType:    eventType,
		UserID:       userID,
		Action:       action,
		ResourceType: "catalog_entry",
		ResourceID:   roleID,
		Outcome:      "success",
		Metadata:     map[string]any{"role_name": roleName},
	})
	if err != nil {
		h.logger.Warn("audit log failed", "event_type", eventType, "error", err)
	}
}

func roleOption(req Request) (*platform.Role, error) {
	opt, ok := req.Option(OptRole)
	if !ok || opt.Role == nil {
		return nil, errors.New("a role is required")
	}
	return opt.Role, nil
}

func ephemeral(embed platform.Embed) Response {
	return Response{Message: platform.Message{Embeds: []platform.Embed{embed}}, Ephemeral: true}
}
