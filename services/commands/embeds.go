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
	"fmt"
	"strings"

	"github.com/AleutianAI/tokengate/services/catalog"
	"github.com/AleutianAI/tokengate/services/platform"
)

// Embed colors.
const (
	ColorSuccess  = 0x00ff00
	ColorError    = 0xff0000
	ColorConnect  = 0x3498db
	ColorCommunal = 0x14b8a6
)

const (
	defaultFooter    = "Cosmos Token Verifier Bot"
	announcementLogo = "https://cryptologos.cc/logos/cosmos-atom-logo.png"
	connectLabel     = "Connect Wallet & Discord"
)

const connectDescription = "**Connect your wallet to verify token holdings and unlock exclusive roles!**\n\n" +
	"**How it works:**\n" +
	"1. 🔗 Click the connection button below\n" +
	"2. 💰 Connect your Cosmos ecosystem wallet\n" +
	"3. 🔍 System verifies your token holdings across multiple chains\n" +
	"4. 🎭 Receive appropriate roles based on your holdings\n" +
	"5. 🎉 Access exclusive channels and features\n\n" +
	"**Supported Networks:** Cosmos Hub, Osmosis, Juno, Stargaze, and more\n" +
	"*Your wallet data is secure and only used for verification purposes.*"

// ConnectURL builds the wallet connection deep link. An empty memberID
// yields the generic link used in announcements.
func ConnectURL(webAppURL, memberID string) string {
	base := strings.TrimRight(webAppURL, "/") + "/connect"
	if memberID == "" {
		return base
	}
	return base + "?discord_id=" + memberID
}

// ConnectMessage is the personal connect card with a member-bound link.
func ConnectMessage(webAppURL string, user User) platform.Message {
	return platform.Message{
		Embeds: []platform.Embed{{
			Title:        "🌌 Cosmos Token Verification",
			Description:  connectDescription,
			Color:        ColorConnect,
			ThumbnailURL: user.AvatarURL,
			Footer:       defaultFooter,
		}},
		LinkButtons: []platform.LinkButton{{Label: connectLabel, URL: ConnectURL(webAppURL, user.ID)}},
	}
}

// AnnouncementMessage is the public connect card posted by send-embed.
func AnnouncementMessage(webAppURL string) platform.Message {
	return platform.Message{
		Embeds: []platform.Embed{{
			Title:        "🌌 Cosmos Token Verification",
			Description:  connectDescription,
			Color:        ColorConnect,
			ThumbnailURL: announcementLogo,
			Footer:       defaultFooter,
		}},
		LinkButtons: []platform.LinkButton{{Label: connectLabel, URL: ConnectURL(webAppURL, "")}},
	}
}

// AccessDeniedEmbed rejects a non-admin invoking an admin command.
func AccessDeniedEmbed() platform.Embed {
	return platform.Embed{
		Title:       "❌ Access Denied",
		Description: "You need administrator permissions to use this command.",
		Color:       ColorError,
		Footer:      defaultFooter,
	}
}

// ErrorEmbed renders a failure.
func ErrorEmbed(description string) platform.Embed {
	return platform.Embed{
		Title:       "❌ Error",
		Description: description,
		Color:       ColorError,
		Footer:      defaultFooter,
	}
}

// =============================================================================
// Role Goals
// =============================================================================

// tierMedals decorate the first three entries of the role goals listing.
var tierMedals = []string{"🥉", "🥈", "🥇"}

// RoleGoalsEmbed renders the catalog as a ranked list of goals.
//
// # Description
//
// Roles are ordered holder first, then by ascending threshold. The first
// three entries get medals, the rest a star. Each entry mentions the live
// role and describes the tier by its threshold.
//
// # Inputs
//
//   - community: Community name for the title.
//   - symbol: Token symbol, e.g. "OSMO".
//   - roles: The catalog, any order.
func RoleGoalsEmbed(community, symbol string, roles []catalog.RoleDefinition) platform.Embed {
	title := fmt.Sprintf("🎭 %s Role Goals", community)
	if len(roles) == 0 {
		return platform.Embed{
			Title:       title,
			Description: "No roles have been configured yet. Ask an admin to add some roles!",
			Color:       ColorCommunal,
		}
	}

	embed := platform.Embed{
		Title:       title,
		Description: fmt.Sprintf("Achieve these roles by holding %s tokens in your connected wallet!", symbol),
		Color:       ColorCommunal,
		Footer:      "Visit our web app to test role assignments!",
	}

	for i, role := range catalog.SortForDisplay(roles) {
		medal := "⭐"
		if i < len(tierMedals) {
			medal = tierMedals[i]
		}
		amountText, description := tierText(role, symbol)
		embed.Fields = append(embed.Fields, platform.EmbedField{
			Name:  fmt.Sprintf("**%d.** %s %s %s", i+1, medal, role.Name, platform.RoleMention(role.PlatformRoleID)),
			Value: fmt.Sprintf("**%s**\n%s", amountText, description),
		})
	}

	embed.Fields = append(embed.Fields, platform.EmbedField{
		Name:  "💡 How to Get Roles",
		Value: "Connect your wallet at our web app and use the role testing button!",
	})
	return embed
}

func tierText(role catalog.RoleDefinition, symbol string) (amount, description string) {
	if role.Kind == catalog.KindHolder {
		return fmt.Sprintf("1 %s", symbol), fmt.Sprintf("Entry level trader with 1+ %s tokens", symbol)
	}
	t := role.Threshold()
	amount = fmt.Sprintf("%d %s", t, symbol)
	switch {
	case t >= 10:
		description = fmt.Sprintf("Elite member with %d+ %s tokens", t, symbol)
	case t >= 5:
		description = fmt.Sprintf("Experienced community member with %d+ %s tokens", t, symbol)
	default:
		description = fmt.Sprintf("Entry level trader with %d+ %s tokens", t, symbol)
	}
	return amount, description
}

// =============================================================================
// Reward Administration
// =============================================================================

// RewardAddedEmbed confirms a catalog insert.
func RewardAddedEmbed(def catalog.RoleDefinition, symbol, addedBy string) platform.Embed {
	typeText := "🎯 **Holder Role** - Available to all token holders"
	if def.Kind == catalog.KindAmount {
		typeText = fmt.Sprintf("💰 **Amount Role** - Requires minimum %d %s", def.Threshold(), symbol)
	}
	return platform.Embed{
		Title:       "✅ Role Added Successfully",
		Description: fmt.Sprintf("Role %s has been added to the database.", platform.RoleMention(def.PlatformRoleID)),
		Color:       ColorSuccess,
		Fields: []platform.EmbedField{
			{Name: "Role Name", Value: def.Name, Inline: true},
			{Name: "Role ID", Value: def.PlatformRoleID, Inline: true},
			{Name: "Type", Value: typeText},
			{Name: "Added by", Value: addedBy, Inline: true},
		},
		Footer: "Users can now see this role in the web app!",
	}
}

// RewardExistsEmbed rejects a duplicate catalog insert.
func RewardExistsEmbed(roleID string) platform.Embed {
	return platform.Embed{
		Title:       "❌ Role Already Exists",
		Description: fmt.Sprintf("The role %s already exists in the database.", platform.RoleMention(roleID)),
		Color:       ColorError,
	}
}

// RewardRemovedEmbed confirms a catalog delete.
func RewardRemovedEmbed(role platform.Role, removedBy string) platform.Embed {
	return platform.Embed{
		Title:       "✅ Role Removed Successfully",
		Description: "The role reward has been removed from the database.",
		Color:       ColorSuccess,
		Fields: []platform.EmbedField{
			{Name: "Role Name", Value: role.Name, Inline: true},
			{Name: "Role ID", Value: role.ID, Inline: true},
		},
		Footer: "Removed by " + removedBy,
	}
}

// RewardNotFoundEmbed rejects removal of an uncatalogued role.
func RewardNotFoundEmbed(roleID string) platform.Embed {
	return platform.Embed{
		Title:       "❌ Role Not Found",
		Description: fmt.Sprintf("The role %s is not in the database.", platform.RoleMention(roleID)),
		Color:       ColorError,
	}
}

// ProgressBar renders percent (clamped to 0..100) as a bar of length cells.
func ProgressBar(percent, length int) string {
	if length <= 0 {
		return ""
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := length * percent / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", length-filled)
}
