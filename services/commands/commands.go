// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package commands implements the community's slash commands.
//
// Commands are declared in an explicit table. The Dispatcher owns the
// cross-cutting rules so handlers never repeat them:
//
//   - Admin-only commands are rejected with a visible "Access Denied"
//     response before the handler runs.
//   - Handler errors and panics become a visible "Error" response; an
//     interaction is never left unanswered.
//
// The package is platform-neutral. The discord adapter converts
// interactions into Request values and Response values back into replies.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/AleutianAI/tokengate/services/platform"
)

// OptionType is the type of a command option.
type OptionType int

const (
	OptionString OptionType = iota
	OptionNumber
	OptionRole
	OptionChannel
)

// Option declares one command option.
type Option struct {
	Name        string
	Description string
	Type        OptionType
	Required    bool
}

// OptionValue is the value supplied for an option. Exactly one field is
// set, matching the option's type.
type OptionValue struct {
	String    string
	Number    *float64
	Role      *platform.Role
	ChannelID string
}

// User is the invoking user.
type User struct {
	ID          string
	DisplayName string
	AvatarURL   string
}

// Request is one command invocation.
type Request struct {
	GuildID   string
	ChannelID string
	User      User

	// IsAdmin is true when the user holds administrator in the guild.
	IsAdmin bool

	Options map[string]OptionValue
}

// Option returns the named option and whether it was supplied.
func (r Request) Option(name string) (OptionValue, bool) {
	v, ok := r.Options[name]
	return v, ok
}

// Response is the reply to an invocation.
type Response struct {
	Message platform.Message

	// Ephemeral replies are visible only to the invoking user.
	Ephemeral bool
}

// HandlerFunc runs a command. A returned error is rendered by the
// Dispatcher; handlers return business rejections as ordinary Responses.
type HandlerFunc func(ctx context.Context, req Request) (Response, error)

// Command is one entry of the command table.
type Command struct {
	Name          string
	Description   string
	RequiresAdmin bool
	Options       []Option
	Handler       HandlerFunc
}

// =============================================================================
// Dispatcher
// =============================================================================

// Dispatcher routes invocations to handlers.
//
// # Thread Safety
//
// Immutable after construction; safe for concurrent use.
type Dispatcher struct {
	commands map[string]Command
	order    []string
	logger   *slog.Logger
}

// NewDispatcher builds a dispatcher over table.
//
// # Outputs
//
//   - *Dispatcher: Ready to dispatch.
//   - error: A command has no name or handler, or a name repeats.
func NewDispatcher(logger *slog.Logger, table ...Command) (*Dispatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{commands: make(map[string]Command, len(table)), logger: logger}
	for _, cmd := range table {
		if cmd.Name == "" || cmd.Handler == nil {
			return nil, fmt.Errorf("command %q: name and handler are required", cmd.Name)
		}
		if _, dup := d.commands[cmd.Name]; dup {
			return nil, fmt.Errorf("command %q registered twice", cmd.Name)
		}
		d.commands[cmd.Name] = cmd
		d.order = append(d.order, cmd.Name)
	}
	return d, nil
}

// Commands returns the table in registration order.
func (d *Dispatcher) Commands() []Command {
	out := make([]Command, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.commands[name])
	}
	return out
}

// Dispatch runs the named command and always returns a Response.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, req Request) (resp Response) {
	cmd, ok := d.commands[name]
	if !ok {
		d.logger.Warn("unknown command", "command", name, "user_id", req.User.ID)
		return errorResponse(fmt.Sprintf("Unknown command: %s", name))
	}

	if cmd.RequiresAdmin && !req.IsAdmin {
		d.logger.Info("admin command rejected", "command", name, "user_id", req.User.ID)
		return Response{Message: platform.Message{Embeds: []platform.Embed{AccessDeniedEmbed()}}, Ephemeral: true}
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("command panicked",
				"command", name,
				"user_id", req.User.ID,
				"panic", r,
				"stack", string(debug.Stack()))
			resp = errorResponse("Something went wrong. Please try again later.")
		}
	}()

	resp, err := cmd.Handler(ctx, req)
	if err != nil {
		d.logger.Error("command failed", "command", name, "user_id", req.User.ID, "error", err)
		return errorResponse(err.Error())
	}
	d.logger.Debug("command handled", "command", name, "user_id", req.User.ID)
	return resp
}

func errorResponse(description string) Response {
	return Response{
		Message:   platform.Message{Embeds: []platform.Embed{ErrorEmbed(description)}},
		Ephemeral: true,
	}
}
