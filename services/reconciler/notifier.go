// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reconciler

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/tokengate/services/platform"
)

// Notifier tells a member about granted roles. Errors are logged by the
// caller and never fail a reconciliation.
type Notifier interface {
	RolesAssigned(ctx context.Context, memberID, walletAddress string, roleNames []string) error
}

// NopNotifier sends nothing.
type NopNotifier struct{}

// RolesAssigned implements Notifier.
func (NopNotifier) RolesAssigned(context.Context, string, string, []string) error { return nil }

// DirectMessageNotifier sends the confirmation as a direct message.
type DirectMessageNotifier struct {
	client    platform.Client
	community string
}

// NewDirectMessageNotifier creates a notifier. community names the
// community in the footer; "" uses "CrowdPunk".
func NewDirectMessageNotifier(client platform.Client, community string) *DirectMessageNotifier {
	if community == "" {
		community = "CrowdPunk"
	}
	return &DirectMessageNotifier{client: client, community: community}
}

// RolesAssigned implements Notifier.
func (n *DirectMessageNotifier) RolesAssigned(ctx context.Context, memberID, walletAddress string, roleNames []string) error {
	msg := platform.Message{Embeds: []platform.Embed{RolesAssignedEmbed(walletAddress, roleNames, n.community)}}
	if err := n.client.SendDirectMessage(ctx, memberID, msg); err != nil {
		return fmt.Errorf("send roles assigned DM to %s: %w", memberID, err)
	}
	return nil
}

// RolesAssignedEmbed is the confirmation card sent after a grant.
func RolesAssignedEmbed(walletAddress string, roleNames []string, community string) platform.Embed {
	lines := make([]string, 0, len(roleNames))
	for _, name := range roleNames {
		lines = append(lines, "• "+name)
	}
	return platform.Embed{
		Title:       "🎉 Roles Assigned Successfully!",
		Description: "Your Discord roles have been updated based on your token holdings.",
		Color:       0x14b8a6,
		Fields: []platform.EmbedField{
			{Name: "✅ Assigned Roles", Value: strings.Join(lines, "\n")},
			{Name: "💰 Wallet Address", Value: "`" + walletAddress + "`"},
		},
		Footer: fmt.Sprintf("Thank you for connecting your wallet to %s!", community),
	}
}

var (
	_ Notifier = NopNotifier{}
	_ Notifier = (*DirectMessageNotifier)(nil)
)
