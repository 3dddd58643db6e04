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
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tokengate/services/platform"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okHandler(called *bool) HandlerFunc {
	return func(_ context.Context, _ Request) (Response, error) {
		*called = true
		return Response{Message: platform.Message{Content: "ok"}}, nil
	}
}

// =============================================================================
// Dispatcher Tests
// =============================================================================

func TestNewDispatcher_RejectsBadTables(t *testing.T) {
	noop := func(context.Context, Request) (Response, error) { return Response{}, nil }

	_, err := NewDispatcher(discardLogger(), Command{Name: "a", Handler: noop}, Command{Name: "a", Handler: noop})
	assert.ErrorContains(t, err, "registered twice")

	_, err = NewDispatcher(discardLogger(), Command{Name: "b"})
	assert.ErrorContains(t, err, "handler")
}

func TestDispatcher_AdminCommandRejectsNonAdmin(t *testing.T) {
	var called bool
	d, err := NewDispatcher(discardLogger(), Command{Name: "admin", RequiresAdmin: true, Handler: okHandler(&called)})
	require.NoError(t, err)

	resp := d.Dispatch(context.Background(), "admin", Request{User: User{ID: "1"}})

	assert.False(t, called, "handler must not run")
	assert.True(t, resp.Ephemeral)
	require.Len(t, resp.Message.Embeds, 1)
	assert.Equal(t, "❌ Access Denied", resp.Message.Embeds[0].Title)
}

func TestDispatcher_AdminCommandAllowsAdmin(t *testing.T) {
	var called bool
	d, err := NewDispatcher(discardLogger(), Command{Name: "admin", RequiresAdmin: true, Handler: okHandler(&called)})
	require.NoError(t, err)

	resp := d.Dispatch(context.Background(), "admin", Request{IsAdmin: true})

	assert.True(t, called)
	assert.Equal(t, "ok", resp.Message.Content)
}

func TestDispatcher_HandlerErrorRendered(t *testing.T) {
	d, err := NewDispatcher(discardLogger(), Command{
		Name: "boom",
		Handler: func(context.Context, Request) (Response, error) {
			return Response{}, errors.New("store unavailable")
		},
	})
	require.NoError(t, err)

	resp := d.Dispatch(context.Background(), "boom", Request{})

	require.Len(t, resp.Message.Embeds, 1)
	assert.Equal(t, "❌ Error", resp.Message.Embeds[0].Title)
	assert.Equal(t, "store unavailable", resp.Message.Embeds[0].Description)
}

func TestDispatcher_PanicRendered(t *testing.T) {
	d, err := NewDispatcher(discardLogger(), Command{
		Name:    "panic",
		Handler: func(context.Context, Request) (Response, error) { panic("nil map") },
	})
	require.NoError(t, err)

	resp := d.Dispatch(context.Background(), "panic", Request{})

	require.Len(t, resp.Message.Embeds, 1)
	assert.Equal(t, "❌ Error", resp.Message.Embeds[0].Title)
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	d, err := NewDispatcher(discardLogger())
	require.NoError(t, err)

	resp := d.Dispatch(context.Background(), "nope", Request{})

	require.Len(t, resp.Message.Embeds, 1)
	assert.Contains(t, resp.Message.Embeds[0].Description, "nope")
}

func TestDispatcher_CommandsKeepOrder(t *testing.T) {
	noop := func(context.Context, Request) (Response, error) { return Response{}, nil }
	d, err := NewDispatcher(discardLogger(), Command{Name: "z", Handler: noop}, Command{Name: "a", Handler: noop})
	require.NoError(t, err)

	cmds := d.Commands()

	require.Len(t, cmds, 2)
	assert.Equal(t, "z", cmds[0].Name)
	assert.Equal(t, "a", cmds[1].Name)
}

// =============================================================================
// Formatting Tests
// =============================================================================

func TestProgressBar(t *testing.T) {
	tests := []struct {
		percent, length int
		want            string
	}{
		{0, 10, "░░░░░░░░░░"},
		{50, 10, "█████░░░░░"},
		{100, 10, "██████████"},
		{35, 10, "███░░░░░░░"},
		{150, 4, "████"},
		{-5, 4, "░░░░"},
		{50, 0, ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ProgressBar(tt.percent, tt.length), "percent=%d length=%d", tt.percent, tt.length)
	}
}

func TestConnectURL(t *testing.T) {
	assert.Equal(t, "https://app.example/connect?discord_id=42", ConnectURL("https://app.example/", "42"))
	assert.Equal(t, "https://app.example/connect", ConnectURL("https://app.example", ""))
}
