// ABOUTME: End-to-end tests for the execution-context facade against a real
// ABOUTME: gateway serving the link on a loopback port.

package client

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhook/discgate/internal/chat"
	"github.com/flowhook/discgate/internal/config"
	"github.com/flowhook/discgate/internal/gateway"
	"github.com/flowhook/discgate/internal/link"
	"github.com/flowhook/discgate/internal/registry"
)

func startGateway(t *testing.T) (*Connection, *chat.Fake, *gateway.Gateway) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := config.Default()
	cfg.Link.Addr = addr
	cfg.Timing.CommandDebounce = 5 * time.Millisecond
	cfg.Timing.PlaceholderTick = 5 * time.Millisecond
	cfg.Timing.FinalizeRetryDelay = 2 * time.Millisecond
	cfg.Timing.StatusPollInterval = 5 * time.Millisecond

	fake := chat.NewFake()
	g := gateway.New(cfg, fake, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go g.Run(ctx)

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 10*time.Millisecond)

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	c, err := Connect(dialCtx, addr, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c, fake, g
}

func TestEnsureLoginTwoPhase(t *testing.T) {
	c, fake, _ := startGateway(t)

	verdict, err := c.EnsureLogin(context.Background(), link.Credentials{Token: "tok", ClientID: "cid"})
	require.NoError(t, err)
	assert.Equal(t, link.VerdictReady, verdict)
	assert.Equal(t, 1, fake.LoginCount)

	// Second call short-circuits.
	verdict, err = c.EnsureLogin(context.Background(), link.Credentials{Token: "tok", ClientID: "cid"})
	require.NoError(t, err)
	assert.Equal(t, link.VerdictAlready, verdict)
	assert.Equal(t, 1, fake.LoginCount)
}

func TestEnsureLoginMissingCredentials(t *testing.T) {
	c, _, _ := startGateway(t)

	_, err := c.EnsureLogin(context.Background(), link.Credentials{})
	assert.ErrorIs(t, err, ErrMissingCredentials)
}

func TestEnsureLoginFailure(t *testing.T) {
	c, fake, _ := startGateway(t)
	fake.LoginErr = assert.AnError

	verdict, err := c.EnsureLogin(context.Background(), link.Credentials{Token: "tok", ClientID: "cid"})
	assert.ErrorIs(t, err, ErrLoginFailed)
	assert.Equal(t, link.VerdictError, verdict)
}

func TestChannelsBeforeAndAfterLogin(t *testing.T) {
	c, fake, _ := startGateway(t)
	fake.ChannelList = []chat.Channel{{ID: "c1", Name: "general"}}
	ctx := context.Background()

	entries, err := c.Channels(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = c.EnsureLogin(ctx, link.Credentials{Token: "tok", ClientID: "cid"})
	require.NoError(t, err)

	entries, err = c.Channels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []link.ListEntry{{Name: "general", ID: "c1"}}, entries)
}

func TestRolesExcludeEveryone(t *testing.T) {
	c, fake, _ := startGateway(t)
	fake.RoleList = []chat.Role{{ID: "r0", Name: "@everyone"}, {ID: "r1", Name: "ops"}}
	ctx := context.Background()

	_, err := c.EnsureLogin(ctx, link.Credentials{Token: "tok", ClientID: "cid"})
	require.NoError(t, err)

	entries, err := c.Roles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []link.ListEntry{{Name: "ops", ID: "r1"}}, entries)
}

func TestUpsertTriggerAndSendMessage(t *testing.T) {
	c, fake, _ := startGateway(t)
	ctx := context.Background()

	_, err := c.EnsureLogin(ctx, link.Credentials{Token: "tok", ClientID: "cid"})
	require.NoError(t, err)

	require.NoError(t, c.UpsertTrigger(ctx, link.TriggerUpsert{
		WebhookID:  "wh-1",
		Kind:       registry.KindMessage,
		ChannelIDs: []string{"c1"},
		Value:      "hello",
		Active:     true,
	}))

	res, err := c.SendMessage(ctx, link.MessageParams{ChannelID: "c1", Content: "hi there"})
	require.NoError(t, err)
	assert.True(t, res.Sent)
	require.Len(t, fake.Sent, 1)
	assert.Equal(t, "c1", fake.Sent[0].ChannelID)
}

func TestSendMessageBeforeLoginIsRemoteError(t *testing.T) {
	c, _, _ := startGateway(t)

	_, err := c.SendMessage(context.Background(), link.MessageParams{ChannelID: "c1", Content: "hi"})
	var remote *link.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "not ready")
}

func TestSendPromptPersistent(t *testing.T) {
	c, _, _ := startGateway(t)
	ctx := context.Background()

	_, err := c.EnsureLogin(ctx, link.Credentials{Token: "tok", ClientID: "cid"})
	require.NoError(t, err)

	res, err := c.SendPrompt(ctx, link.PromptParams{
		ChannelID:  "c1",
		Content:    "Vote",
		Persistent: true,
		Buttons:    []link.PromptButton{{Label: "Up", Value: "up"}},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.MessageID)
}

func TestSendPromptAnsweredOverLink(t *testing.T) {
	c, fake, g := startGateway(t)
	ctx := context.Background()

	_, err := c.EnsureLogin(ctx, link.Credentials{Token: "tok", ClientID: "cid"})
	require.NoError(t, err)

	type outcome struct {
		res link.PromptResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := c.SendPrompt(ctx, link.PromptParams{
			ChannelID:      "c1",
			Content:        "Deploy?",
			TimeoutSeconds: 60,
			Buttons: []link.PromptButton{
				{Label: "Go", Value: "go"},
				{Label: "Halt", Value: "halt"},
			},
		})
		done <- outcome{res, err}
	}()

	// Wait for the prompt message to land, then answer it.
	require.Eventually(t, func() bool {
		return len(fake.Sent) == 1
	}, 5*time.Second, 10*time.Millisecond)
	msgID := fake.Sent[0].MessageID

	g.HandleEvent(ctx, chat.ComponentEvent{
		ChannelID: "c1",
		MessageID: msgID,
		Values:    []string{"go"},
		User:      chat.User{ID: "u1", Username: "dev"},
	})

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.False(t, out.res.Timeout)
		require.NotNil(t, out.res.Response)
		assert.Equal(t, "go", out.res.Response.Value)
		assert.Equal(t, "u1", out.res.Response.UserID)
	case <-time.After(10 * time.Second):
		t.Fatal("prompt never resolved")
	}
}

func TestSendPromptTimesOutAfterBudgetOverLink(t *testing.T) {
	c, _, _ := startGateway(t)
	ctx := context.Background()

	_, err := c.EnsureLogin(ctx, link.Credentials{Token: "tok", ClientID: "cid"})
	require.NoError(t, err)

	start := time.Now()
	res, err := c.SendPrompt(ctx, link.PromptParams{
		ChannelID:      "c1",
		Content:        "Anyone?",
		TimeoutSeconds: 1,
		Buttons:        []link.PromptButton{{Label: "Yes", Value: "yes"}},
	})
	require.NoError(t, err)

	// An unanswered prompt must run its full budget down, not resolve
	// instantly with a dead context.
	assert.True(t, res.Timeout)
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)
}

func TestSendAction(t *testing.T) {
	c, fake, _ := startGateway(t)
	ctx := context.Background()

	_, err := c.EnsureLogin(ctx, link.Credentials{Token: "tok", ClientID: "cid"})
	require.NoError(t, err)

	res, err := c.SendAction(ctx, link.ActionParams{
		ChannelID:            "c1",
		ActionType:           "removeMessages",
		RemoveMessagesNumber: 5,
	})
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Equal(t, []int{5}, fake.BulkDeletes)
}

func TestSetBotStatus(t *testing.T) {
	c, fake, _ := startGateway(t)
	ctx := context.Background()

	_, err := c.EnsureLogin(ctx, link.Credentials{Token: "tok", ClientID: "cid"})
	require.NoError(t, err)

	require.NoError(t, c.SetBotStatus(link.StatusParams{Status: "online", Activity: "deploying"}))
	require.Eventually(t, func() bool {
		return len(fake.PresenceCalls) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHealth(t *testing.T) {
	c, _, _ := startGateway(t)

	res, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, "idle", res.Session)
}
