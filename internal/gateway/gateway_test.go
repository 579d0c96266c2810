// ABOUTME: Tests for the gateway orchestrator: login funneling, trigger
// ABOUTME: registration, send operations, prompts, actions, and listings.

package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhook/discgate/internal/chat"
	"github.com/flowhook/discgate/internal/config"
	"github.com/flowhook/discgate/internal/link"
	"github.com/flowhook/discgate/internal/registry"
	"github.com/flowhook/discgate/internal/store"
)

func newTestGateway(t *testing.T) (*Gateway, *chat.Fake) {
	t.Helper()
	cfg := config.Default()
	cfg.Timing.CommandDebounce = 5 * time.Millisecond
	cfg.Timing.PlaceholderTick = 5 * time.Millisecond
	cfg.Timing.FinalizeRetryDelay = 2 * time.Millisecond
	cfg.Timing.StatusPollInterval = 5 * time.Millisecond

	fake := chat.NewFake()
	g := New(cfg, fake, nil, slog.Default())
	g.promptTick = 5 * time.Millisecond
	return g, fake
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func login(t *testing.T, g *Gateway) {
	t.Helper()
	res, err := g.handleCredentials(context.Background(), nil, mustJSON(t, link.Credentials{
		Token: "tok", ClientID: "cid",
	}))
	require.NoError(t, err)
	require.Equal(t, link.CredentialsResult{Verdict: "login"}, res)
	require.Eventually(t, g.session.Ready, 2*time.Second, time.Millisecond)
}

func TestCredentialsLoginSequence(t *testing.T) {
	g, fake := newTestGateway(t)
	ctx := context.Background()

	res, err := g.handleCredentials(ctx, nil, mustJSON(t, link.Credentials{}))
	require.NoError(t, err)
	assert.Equal(t, link.CredentialsResult{Verdict: "missing"}, res)

	login(t, g)
	assert.Equal(t, 1, fake.LoginCount)
	assert.Equal(t, "tok", fake.LastToken)

	// Same credentials again: no second platform login.
	res, err = g.handleCredentials(ctx, nil, mustJSON(t, link.Credentials{Token: "tok", ClientID: "cid"}))
	require.NoError(t, err)
	assert.Equal(t, link.CredentialsResult{Verdict: "already"}, res)
	assert.Equal(t, 1, fake.LoginCount)
}

func TestCredentialsRecordWorkflowEngine(t *testing.T) {
	g, _ := newTestGateway(t)

	_, err := g.handleCredentials(context.Background(), nil, mustJSON(t, link.Credentials{
		BaseURL: "http://engine:5678", APIKey: "key-1",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://engine:5678", g.currentBaseURL())
	assert.Equal(t, "key-1", g.currentAPIKey())
}

func TestTriggerUpsertRegistersTrigger(t *testing.T) {
	g, _ := newTestGateway(t)

	res, err := g.handleTrigger(context.Background(), nil, mustJSON(t, link.TriggerUpsert{
		WebhookID:  "wh-1",
		Kind:       registry.KindMessage,
		ChannelIDs: []string{"c1"},
		Value:      "hello",
		Active:     true,
		BaseURL:    "http://engine:5678",
	}))
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"active": true}, res)

	tr, ok := g.registry.Get("wh-1")
	require.True(t, ok)
	assert.Equal(t, "hello", tr.Value)
	assert.True(t, tr.Active)
	assert.Equal(t, "http://engine:5678", g.currentBaseURL())
}

func TestInteractionTriggerVerifiesWatchedMessage(t *testing.T) {
	g, fake := newTestGateway(t)
	ctx := context.Background()
	login(t, g)

	// A real message to watch.
	ref, err := fake.SendMessage(ctx, "c1", chat.SendOptions{Content: "press the button"})
	require.NoError(t, err)

	_, err = g.handleTrigger(ctx, nil, mustJSON(t, link.TriggerUpsert{
		WebhookID:            "wh-i1",
		Kind:                 registry.KindInteraction,
		ChannelIDs:           []string{"c1"},
		InteractionMessageID: ref.MessageID,
		Active:               true,
	}))
	require.NoError(t, err)

	require.Len(t, fake.Fetches, 1)
	assert.Equal(t, chat.MessageRef{ChannelID: "c1", MessageID: ref.MessageID}, fake.Fetches[0])

	// A missing message still registers the trigger; the lookup just warns.
	_, err = g.handleTrigger(ctx, nil, mustJSON(t, link.TriggerUpsert{
		WebhookID:            "wh-i2",
		Kind:                 registry.KindInteraction,
		ChannelIDs:           []string{"c1"},
		InteractionMessageID: "gone",
		Active:               true,
	}))
	require.NoError(t, err)
	assert.Len(t, fake.Fetches, 2)
	_, ok := g.registry.Get("wh-i2")
	assert.True(t, ok)

	// Non-interaction triggers never hit the platform.
	_, err = g.handleTrigger(ctx, nil, mustJSON(t, link.TriggerUpsert{
		WebhookID: "wh-m1", Kind: registry.KindMessage, ChannelIDs: []string{"c1"}, Value: "x", Active: true,
	}))
	require.NoError(t, err)
	assert.Len(t, fake.Fetches, 2)
}

func TestTriggerMissingWebhookID(t *testing.T) {
	g, _ := newTestGateway(t)

	_, err := g.handleTrigger(context.Background(), nil, mustJSON(t, link.TriggerUpsert{Kind: registry.KindMessage}))
	assert.Error(t, err)
}

func TestTriggerWithEmbeddedCredentialsLogsIn(t *testing.T) {
	g, fake := newTestGateway(t)

	_, err := g.handleTrigger(context.Background(), nil, mustJSON(t, link.TriggerUpsert{
		WebhookID:   "wh-1",
		Kind:        registry.KindMessage,
		Value:       "hi",
		Active:      true,
		Credentials: &link.Credentials{Token: "tok", ClientID: "cid"},
	}))
	require.NoError(t, err)

	require.Eventually(t, g.session.Ready, 2*time.Second, time.Millisecond)
	assert.Equal(t, 1, fake.LoginCount)
}

func TestCommandTriggerFlushesAfterLogin(t *testing.T) {
	g, fake := newTestGateway(t)

	_, err := g.handleTrigger(context.Background(), nil, mustJSON(t, link.TriggerUpsert{
		WebhookID:   "wh-cmd",
		Kind:        registry.KindCommand,
		Name:        "deploy",
		Description: "run a deploy",
		Active:      true,
	}))
	require.NoError(t, err)

	login(t, g)

	require.Eventually(t, func() bool {
		return len(fake.CommandCalls) > 0
	}, 2*time.Second, time.Millisecond)
	specs := fake.CommandCalls[len(fake.CommandCalls)-1]
	require.Len(t, specs, 1)
	assert.Equal(t, "deploy", specs[0].Name)
}

func TestSendMessageExplicitChannel(t *testing.T) {
	g, fake := newTestGateway(t)
	login(t, g)

	res, err := g.handleSendMessage(context.Background(), nil, mustJSON(t, link.MessageParams{
		ChannelID:    "c9",
		Content:      "release done",
		EmbedEnabled: true,
		Title:        "Release",
		Color:        "#00ff00",
	}))
	require.NoError(t, err)

	result := res.(link.MessageResult)
	assert.True(t, result.Sent)
	assert.Equal(t, "c9", result.ChannelID)

	opts, ok := fake.LastOpts(result.MessageID)
	require.True(t, ok)
	assert.Equal(t, "release done", opts.Content)
	require.NotNil(t, opts.Embed)
	assert.Equal(t, "Release", opts.Embed.Title)
}

func TestSendMessageRequiresSession(t *testing.T) {
	g, _ := newTestGateway(t)

	_, err := g.handleSendMessage(context.Background(), nil, mustJSON(t, link.MessageParams{ChannelID: "c1"}))
	assert.ErrorIs(t, err, ErrSessionNotReady)
}

func TestSendMessageNoChannel(t *testing.T) {
	g, _ := newTestGateway(t)
	login(t, g)

	_, err := g.handleSendMessage(context.Background(), nil, mustJSON(t, link.MessageParams{Content: "hi"}))
	assert.ErrorIs(t, err, ErrNoChannel)
}

func TestSendMessageUsesTriggerChannel(t *testing.T) {
	g, fake := newTestGateway(t)
	login(t, g)

	g.engine.BeginExecution("ex-1", "c-origin", "u1")

	res, err := g.handleSendMessage(context.Background(), nil, mustJSON(t, link.MessageParams{
		ExecutionID:    "ex-1",
		TriggerChannel: true,
		Content:        "reply",
	}))
	require.NoError(t, err)
	assert.True(t, res.(link.MessageResult).Sent)
	require.Len(t, fake.Sent, 1)
	assert.Equal(t, "c-origin", fake.Sent[0].ChannelID)
}

func TestSendMessageFinalizesPlaceholder(t *testing.T) {
	g, fake := newTestGateway(t)
	login(t, g)
	ctx := context.Background()

	g.engine.StartPlaceholder(ctx, "c1", "Working", "ph-1")
	require.Len(t, fake.Sent, 1)
	placeholderMsg := fake.Sent[0].MessageID

	g.engine.BeginExecution("ex-1", "c1", "u1")
	g.engine.AttachPlaceholder("ex-1", "ph-1")

	res, err := g.handleSendMessage(ctx, nil, mustJSON(t, link.MessageParams{
		ExecutionID:        "ex-1",
		TriggerPlaceholder: true,
		Content:            "final answer",
	}))
	require.NoError(t, err)

	result := res.(link.MessageResult)
	assert.True(t, result.Sent)
	// The placeholder message became the final message; nothing new posted.
	assert.Equal(t, placeholderMsg, result.MessageID)
	assert.Len(t, fake.Sent, 1)

	opts, ok := fake.LastOpts(placeholderMsg)
	require.True(t, ok)
	assert.Equal(t, "final answer", opts.Content)
}

func TestPromptAnsweredByInteraction(t *testing.T) {
	g, fake := newTestGateway(t)
	login(t, g)
	ctx := context.Background()

	type outcome struct {
		res any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := g.handleSendPrompt(ctx, nil, mustJSON(t, link.PromptParams{
			ChannelID:      "c1",
			Content:        "Proceed?",
			TimeoutSeconds: 600,
			Buttons: []link.PromptButton{
				{Label: "Yes", Value: "yes"},
				{Label: "No", Value: "no"},
			},
		}))
		done <- outcome{res, err}
	}()

	require.Eventually(t, func() bool { return g.prompts.Len() == 1 }, 2*time.Second, time.Millisecond)
	require.NotEmpty(t, fake.Sent)
	msgID := fake.Sent[0].MessageID

	n := g.HandleEvent(ctx, chat.ComponentEvent{
		ChannelID: "c1",
		MessageID: msgID,
		Values:    []string{"yes"},
		User:      chat.User{ID: "u1", Username: "amara", Tag: "amara#0001"},
	})
	assert.Equal(t, 0, n)

	select {
	case out := <-done:
		require.NoError(t, out.err)
		result := out.res.(link.PromptResult)
		require.NotNil(t, result.Response)
		assert.Equal(t, "yes", result.Response.Value)
		assert.Equal(t, "u1", result.Response.UserID)
		assert.False(t, result.Timeout)
	case <-time.After(2 * time.Second):
		t.Fatal("prompt never settled")
	}

	// The interactive message shows the chosen label.
	opts, ok := fake.LastOpts(msgID)
	require.True(t, ok)
	assert.Contains(t, opts.Content, "Yes")
	assert.Equal(t, 0, g.prompts.Len())
}

func TestPromptTimesOut(t *testing.T) {
	g, fake := newTestGateway(t)
	login(t, g)

	res, err := g.handleSendPrompt(context.Background(), nil, mustJSON(t, link.PromptParams{
		ChannelID:      "c1",
		Content:        "Proceed?",
		TimeoutSeconds: 1,
		Buttons:        []link.PromptButton{{Label: "Yes", Value: "yes"}},
	}))
	require.NoError(t, err)

	result := res.(link.PromptResult)
	assert.True(t, result.Timeout)
	assert.Nil(t, result.Response)
	assert.Equal(t, 0, g.prompts.Len())

	opts, ok := fake.LastOpts(result.MessageID)
	require.True(t, ok)
	assert.Contains(t, opts.Content, "Timed out")
}

func TestPromptPersistent(t *testing.T) {
	g, fake := newTestGateway(t)
	login(t, g)
	ctx := context.Background()

	res, err := g.handleSendPrompt(ctx, nil, mustJSON(t, link.PromptParams{
		ChannelID:  "c1",
		Content:    "Vote",
		Persistent: true,
		Buttons:    []link.PromptButton{{Label: "Up", Value: "up"}},
	}))
	require.NoError(t, err)

	result := res.(link.PromptResult)
	assert.True(t, result.Success)
	require.NotEmpty(t, result.MessageID)
	require.Len(t, fake.Sent, 1)

	// The prompt stays armed and records a later interaction.
	g.HandleEvent(ctx, chat.ComponentEvent{
		MessageID: result.MessageID,
		Values:    []string{"up"},
		User:      chat.User{ID: "u2"},
	})
	p, ok := g.prompts.Get(result.MessageID)
	require.True(t, ok)
	assert.True(t, p.Answered())
	assert.Equal(t, "u2", p.Responder.ID)
}

func TestPromptRestrictedToTriggeringUser(t *testing.T) {
	g, _ := newTestGateway(t)
	login(t, g)
	ctx := context.Background()

	g.engine.BeginExecution("ex-1", "c1", "u-owner")

	type outcome struct {
		res any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := g.handleSendPrompt(ctx, nil, mustJSON(t, link.PromptParams{
			ExecutionID:              "ex-1",
			Content:                  "Only you",
			TimeoutSeconds:           600,
			RestrictToTriggeringUser: true,
			Buttons:                  []link.PromptButton{{Label: "Go", Value: "go"}},
		}))
		done <- outcome{res, err}
	}()

	require.Eventually(t, func() bool { return g.prompts.Len() == 1 }, 2*time.Second, time.Millisecond)
	msgID := latestPromptMessage(g)
	require.NotEmpty(t, msgID)

	// Wrong user: swallowed, prompt stays pending.
	g.HandleEvent(ctx, chat.ComponentEvent{MessageID: msgID, Values: []string{"go"}, User: chat.User{ID: "u-other"}})
	p, ok := g.prompts.Get(msgID)
	require.True(t, ok)
	assert.False(t, p.Answered())

	// Triggering user: accepted.
	g.HandleEvent(ctx, chat.ComponentEvent{MessageID: msgID, Values: []string{"go"}, User: chat.User{ID: "u-owner"}})

	select {
	case out := <-done:
		require.NoError(t, out.err)
		result := out.res.(link.PromptResult)
		require.NotNil(t, result.Response)
		assert.Equal(t, "u-owner", result.Response.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("prompt never settled")
	}
}

func TestActionRemoveMessages(t *testing.T) {
	g, fake := newTestGateway(t)
	login(t, g)

	res, err := g.handleSendAction(context.Background(), nil, mustJSON(t, link.ActionParams{
		ChannelID:            "c1",
		ActionType:           "removeMessages",
		RemoveMessagesNumber: 3,
	}))
	require.NoError(t, err)
	assert.True(t, res.(link.ActionResult).Done)
	assert.Equal(t, []int{3}, fake.BulkDeletes)
}

func TestActionRoleMutations(t *testing.T) {
	g, fake := newTestGateway(t)
	login(t, g)
	ctx := context.Background()

	_, err := g.handleSendAction(ctx, nil, mustJSON(t, link.ActionParams{
		ActionType:    "addRole",
		UserID:        "u1",
		RoleUpdateIDs: []string{"r1", "r2"},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1:r1", "u1:r2"}, fake.RoleAdds)

	_, err = g.handleSendAction(ctx, nil, mustJSON(t, link.ActionParams{
		ActionType:    "removeRole",
		UserID:        "u1",
		RoleUpdateIDs: []string{"r1"},
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1:r1"}, fake.RoleRemoves)
}

func TestActionUnknownType(t *testing.T) {
	g, _ := newTestGateway(t)
	login(t, g)

	_, err := g.handleSendAction(context.Background(), nil, mustJSON(t, link.ActionParams{ActionType: "explode"}))
	assert.Error(t, err)
}

func TestActionDeletesPlaceholderFirst(t *testing.T) {
	g, fake := newTestGateway(t)
	login(t, g)
	ctx := context.Background()

	g.engine.StartPlaceholder(ctx, "c1", "Working", "ph-1")
	require.Len(t, fake.Sent, 1)
	placeholderMsg := fake.Sent[0].MessageID

	g.engine.BeginExecution("ex-1", "c1", "u1")
	g.engine.AttachPlaceholder("ex-1", "ph-1")

	_, err := g.handleSendAction(ctx, nil, mustJSON(t, link.ActionParams{
		ExecutionID:          "ex-1",
		TriggerPlaceholder:   true,
		ActionType:           "removeMessages",
		RemoveMessagesNumber: 2,
	}))
	require.NoError(t, err)

	require.Len(t, fake.Deletes, 1)
	assert.Equal(t, placeholderMsg, fake.Deletes[0].MessageID)
	assert.Equal(t, []int{2}, fake.BulkDeletes)
}

func TestListChannels(t *testing.T) {
	g, fake := newTestGateway(t)
	fake.ChannelList = []chat.Channel{{ID: "c1", Name: "general"}, {ID: "c2", Name: "ops"}}
	ctx := context.Background()

	// Before login the listing is empty, not an error.
	res, err := g.handleListChannels(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, res)

	login(t, g)
	res, err = g.handleListChannels(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []link.ListEntry{{Name: "general", ID: "c1"}, {Name: "ops", ID: "c2"}}, res)
}

func TestListRolesExcludesEveryone(t *testing.T) {
	g, fake := newTestGateway(t)
	fake.RoleList = []chat.Role{{ID: "r0", Name: "@everyone"}, {ID: "r1", Name: "ops"}}
	login(t, g)

	res, err := g.handleListRoles(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []link.ListEntry{{Name: "ops", ID: "r1"}}, res)
}

func TestBotStatus(t *testing.T) {
	g, fake := newTestGateway(t)
	ctx := context.Background()

	_, err := g.handleBotStatus(ctx, nil, mustJSON(t, link.StatusParams{Status: "online"}))
	assert.ErrorIs(t, err, ErrSessionNotReady)

	login(t, g)
	_, err = g.handleBotStatus(ctx, nil, mustJSON(t, link.StatusParams{
		Activity: "watching builds", ActivityType: 3, Status: "online",
	}))
	require.NoError(t, err)
	require.Len(t, fake.PresenceCalls, 1)
	assert.Equal(t, "watching builds", fake.PresenceCalls[0].Activity)
}

func TestHealth(t *testing.T) {
	g, _ := newTestGateway(t)

	res, err := g.handleHealth(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, link.HealthResult{Status: "ok", Session: "idle"}, res)

	login(t, g)
	res, err = g.handleHealth(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, link.HealthResult{Status: "ok", Session: "ready"}, res)
}

type fakeActivity struct {
	logs       []store.LogEntry
	dispatches []store.DispatchRecord
}

func (f *fakeActivity) RecentLogs(_ context.Context, limit int) ([]store.LogEntry, error) {
	if limit > 0 && limit < len(f.logs) {
		return f.logs[:limit], nil
	}
	return f.logs, nil
}

func (f *fakeActivity) RecordDispatch(_ context.Context, r store.DispatchRecord) error {
	f.dispatches = append(f.dispatches, r)
	return nil
}

func TestLogsHandler(t *testing.T) {
	cfg := config.Default()
	activity := &fakeActivity{logs: []store.LogEntry{
		{Timestamp: time.Now(), Level: "INFO", Message: "logged in"},
		{Timestamp: time.Now(), Level: "WARN", Message: "dispatch failed"},
	}}
	g := New(cfg, chat.NewFake(), activity, slog.Default())

	res, err := g.handleLogs(context.Background(), nil, mustJSON(t, link.LogsRequest{Limit: 1}))
	require.NoError(t, err)

	entries := res.([]link.LogEntry)
	require.Len(t, entries, 1)
	assert.Equal(t, "logged in", entries[0].Message)
	assert.Equal(t, "INFO", entries[0].Level)
}

func latestPromptMessage(g *Gateway) string {
	// Prompts are keyed by message id; with one pending prompt the fake's
	// sequential ids make msg-1 the only candidate.
	for _, id := range []string{"msg-1", "msg-2", "msg-3"} {
		if _, ok := g.prompts.Get(id); ok {
			return id
		}
	}
	return ""
}
