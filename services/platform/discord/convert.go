// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/AleutianAI/tokengate/services/commands"
	"github.com/AleutianAI/tokengate/services/platform"
)

var optionTypes = map[commands.OptionType]discordgo.ApplicationCommandOptionType{
	commands.OptionString:  discordgo.ApplicationCommandOptionString,
	commands.OptionNumber:  discordgo.ApplicationCommandOptionNumber,
	commands.OptionRole:    discordgo.ApplicationCommandOptionRole,
	commands.OptionChannel: discordgo.ApplicationCommandOptionChannel,
}

func toApplicationCommand(cmd commands.Command) *discordgo.ApplicationCommand {
	out := &discordgo.ApplicationCommand{
		Name:        cmd.Name,
		Description: cmd.Description,
	}
	for _, opt := range cmd.Options {
		out.Options = append(out.Options, &discordgo.ApplicationCommandOption{
			Type:        optionTypes[opt.Type],
			Name:        opt.Name,
			Description: opt.Description,
			Required:    opt.Required,
		})
	}
	return out
}

// toRequest converts a slash command interaction into a dispatcher request.
func toRequest(i *discordgo.InteractionCreate) (string, commands.Request) {
	data := i.ApplicationCommandData()
	req := commands.Request{
		GuildID:   i.GuildID,
		ChannelID: i.ChannelID,
		Options:   make(map[string]commands.OptionValue, len(data.Options)),
	}

	switch {
	case i.Member != nil:
		req.User = toUser(i.Member.User, displayName(i.Member))
		req.IsAdmin = i.Member.Permissions&discordgo.PermissionAdministrator != 0
	case i.User != nil:
		req.User = toUser(i.User, "")
	}

	for _, opt := range data.Options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionString:
			req.Options[opt.Name] = commands.OptionValue{String: opt.StringValue()}
		case discordgo.ApplicationCommandOptionNumber:
			v := opt.FloatValue()
			req.Options[opt.Name] = commands.OptionValue{Number: &v}
		case discordgo.ApplicationCommandOptionRole:
			role := opt.RoleValue(nil, "")
			resolved := platform.Role{ID: role.ID}
			if data.Resolved != nil {
				if r, ok := data.Resolved.Roles[role.ID]; ok && r != nil {
					resolved = platform.Role{ID: r.ID, Name: r.Name, Position: r.Position}
				}
			}
			req.Options[opt.Name] = commands.OptionValue{Role: &resolved}
		case discordgo.ApplicationCommandOptionChannel:
			req.Options[opt.Name] = commands.OptionValue{ChannelID: opt.ChannelValue(nil).ID}
		}
	}
	return data.Name, req
}

func toUser(u *discordgo.User, display string) commands.User {
	if u == nil {
		return commands.User{DisplayName: display}
	}
	if display == "" {
		display = u.GlobalName
	}
	if display == "" {
		display = u.Username
	}
	return commands.User{ID: u.ID, DisplayName: display, AvatarURL: u.AvatarURL("")}
}

func toInteractionResponse(resp commands.Response) *discordgo.InteractionResponse {
	data := &discordgo.InteractionResponseData{
		Content:    resp.Message.Content,
		Embeds:     toEmbeds(resp.Message.Embeds),
		Components: toComponents(resp.Message.LinkButtons),
	}
	if resp.Ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}
}

func toMessageSend(msg platform.Message) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Content:    msg.Content,
		Embeds:     toEmbeds(msg.Embeds),
		Components: toComponents(msg.LinkButtons),
	}
}

func toEmbeds(embeds []platform.Embed) []*discordgo.MessageEmbed {
	if len(embeds) == 0 {
		return nil
	}
	out := make([]*discordgo.MessageEmbed, 0, len(embeds))
	for _, e := range embeds {
		me := &discordgo.MessageEmbed{
			Title:       e.Title,
			Description: e.Description,
			Color:       e.Color,
		}
		for _, f := range e.Fields {
			me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		if e.Footer != "" {
			me.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
		}
		if e.ThumbnailURL != "" {
			me.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.ThumbnailURL}
		}
		out = append(out, me)
	}
	return out
}

func toComponents(buttons []platform.LinkButton) []discordgo.MessageComponent {
	if len(buttons) == 0 {
		return nil
	}
	row := discordgo.ActionsRow{}
	for _, b := range buttons {
		row.Components = append(row.Components, discordgo.Button{
			Label: b.Label,
			Style: discordgo.LinkButton,
			URL:   b.URL,
		})
	}
	return []discordgo.MessageComponent{row}
}
