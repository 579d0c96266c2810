// ABOUTME: Tests for event routing: predicate order, role gating, and
// ABOUTME: trigger deactivation on delivery failure.

package router

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowhook/discgate/internal/chat"
	"github.com/flowhook/discgate/internal/registry"
	"github.com/flowhook/discgate/internal/webhook"
)

type recordedDispatch struct {
	TriggerID string
	BaseURL   string
	Payload   webhook.Payload
}

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []recordedDispatch
	failFor map[string]bool
}

func (d *fakeDispatcher) Dispatch(_ context.Context, t registry.Trigger, baseURL string, payload webhook.Payload) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, recordedDispatch{TriggerID: t.ID, BaseURL: baseURL, Payload: payload})
	return !d.failFor[t.ID]
}

func (d *fakeDispatcher) ids() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, 0, len(d.calls))
	for _, c := range d.calls {
		out = append(out, c.TriggerID)
	}
	return out
}

func newRouter(t *testing.T, triggers ...registry.Trigger) (*Router, *registry.Registry, *fakeDispatcher) {
	t.Helper()
	reg := registry.New(nil, nil)
	for _, tr := range triggers {
		reg.Upsert(tr)
	}
	d := &fakeDispatcher{failFor: map[string]bool{}}
	r := New(reg, d, func() string { return "http://engine:5678" }, false, slog.Default())
	return r, reg, d
}

func msgEvent(channel, content string) chat.MessageEvent {
	return chat.MessageEvent{
		ChannelID: channel,
		MessageID: "m1",
		Content:   content,
		Author:    chat.User{ID: "u1", Username: "amara", Tag: "amara#0001"},
	}
}

func TestLiteralValueMatchesWholeLine(t *testing.T) {
	r, _, d := newRouter(t, registry.Trigger{
		ID: "t1", Kind: registry.KindMessage, ChannelIDs: []string{"c1"}, Value: "hello", Active: true,
	})

	assert.Equal(t, 1, r.HandleEvent(context.Background(), msgEvent("c1", "hello")))
	assert.Equal(t, 0, r.HandleEvent(context.Background(), msgEvent("c1", "hello there")))
	assert.Equal(t, 0, r.HandleEvent(context.Background(), msgEvent("c2", "hello")))

	require.Len(t, d.calls, 1)
	assert.Equal(t, "hello", d.calls[0].Payload.Content)
	assert.Equal(t, "c1", d.calls[0].Payload.ChannelID)
	assert.Equal(t, "http://engine:5678", d.calls[0].BaseURL)
}

func TestLiteralValueCaseInsensitiveByDefault(t *testing.T) {
	r, _, d := newRouter(t,
		registry.Trigger{ID: "loose", Kind: registry.KindMessage, ChannelIDs: []string{"c1"}, Value: "Deploy", Active: true},
		registry.Trigger{ID: "strict", Kind: registry.KindMessage, ChannelIDs: []string{"c1"}, Value: "Deploy", CaseSensitive: true, Active: true},
	)

	r.HandleEvent(context.Background(), msgEvent("c1", "deploy"))
	assert.Equal(t, []string{"loose"}, d.ids())
}

func TestPatternMatch(t *testing.T) {
	r, _, d := newRouter(t, registry.Trigger{
		ID: "t1", Kind: registry.KindMessage, ChannelIDs: []string{"all"}, Pattern: `deploy (\w+)`, Active: true,
	})

	assert.Equal(t, 1, r.HandleEvent(context.Background(), msgEvent("anywhere", "please deploy api now")))
	assert.Equal(t, 0, r.HandleEvent(context.Background(), msgEvent("anywhere", "ship it")))
	require.Len(t, d.calls, 1)
}

func TestBotMentionShortCircuitsContentPredicate(t *testing.T) {
	r, _, d := newRouter(t, registry.Trigger{
		ID: "t1", Kind: registry.KindMessage, ChannelIDs: []string{"c1"}, BotMention: true, Value: "never", Active: true,
	})

	ev := msgEvent("c1", "hey bot, what gives")
	ev.MentionsBot = true
	assert.Equal(t, 1, r.HandleEvent(context.Background(), ev))
	require.Len(t, d.calls, 1)
}

func TestBotAuthorIgnored(t *testing.T) {
	r, _, d := newRouter(t, registry.Trigger{
		ID: "t1", Kind: registry.KindMessage, ChannelIDs: []string{"c1"}, Value: "hello", Active: true,
	})

	ev := msgEvent("c1", "hello")
	ev.AuthorBot = true
	assert.Equal(t, 0, r.HandleEvent(context.Background(), ev))
	assert.Empty(t, d.calls)
}

func TestRoleGateBeforeContentPredicate(t *testing.T) {
	r, _, d := newRouter(t, registry.Trigger{
		ID: "t1", Kind: registry.KindMessage, ChannelIDs: []string{"c1"}, Value: "hello",
		RoleIDs: []string{"admins"}, Active: true,
	})

	ev := msgEvent("c1", "hello")
	assert.Equal(t, 0, r.HandleEvent(context.Background(), ev))

	ev.UserRoles = []string{"admins", "everyone"}
	assert.Equal(t, 1, r.HandleEvent(context.Background(), ev))
	require.Len(t, d.calls, 1)
	assert.Equal(t, []string{"admins", "everyone"}, d.calls[0].Payload.UserRoles)
}

func TestMessageUpdateMatchesOnChannelMembershipOnly(t *testing.T) {
	r, _, d := newRouter(t, registry.Trigger{
		ID: "t1", Kind: registry.KindMessageUpdate, ChannelIDs: []string{"c1"}, Value: "unrelated", Active: true,
	})

	ev := msgEvent("c1", "completely different text")
	ev.Edited = true
	assert.Equal(t, 1, r.HandleEvent(context.Background(), ev))
	require.Len(t, d.calls, 1)
}

func TestEachMatchingTriggerDispatchedExactlyOnce(t *testing.T) {
	r, _, d := newRouter(t,
		registry.Trigger{ID: "a", Kind: registry.KindMessage, ChannelIDs: []string{"c1"}, Value: "go", Active: true},
		registry.Trigger{ID: "b", Kind: registry.KindMessage, ChannelIDs: []string{"all"}, Value: "go", Active: true},
		registry.Trigger{ID: "c", Kind: registry.KindMessage, ChannelIDs: []string{"c2"}, Value: "go", Active: true},
	)

	n := r.HandleEvent(context.Background(), msgEvent("c1", "go"))
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"a", "b"}, d.ids())
}

func TestDispatchFailureDeactivatesOnlyFailingTrigger(t *testing.T) {
	r, reg, d := newRouter(t,
		registry.Trigger{ID: "bad", Kind: registry.KindMessage, ChannelIDs: []string{"c1"}, Value: "go", Active: true},
		registry.Trigger{ID: "good", Kind: registry.KindMessage, ChannelIDs: []string{"c1"}, Value: "go", Active: true},
	)
	d.failFor["bad"] = true

	assert.Equal(t, 2, r.HandleEvent(context.Background(), msgEvent("c1", "go")))

	// The broken trigger is out of rotation; the healthy one keeps firing.
	assert.Equal(t, 1, r.HandleEvent(context.Background(), msgEvent("c1", "go")))
	tr, ok := reg.Get("bad")
	require.True(t, ok)
	assert.False(t, tr.Active)
}

func TestDispatchFailureKeptInTestMode(t *testing.T) {
	reg := registry.New(nil, nil)
	reg.Upsert(registry.Trigger{ID: "bad", Kind: registry.KindMessage, ChannelIDs: []string{"c1"}, Value: "go", Active: true})
	d := &fakeDispatcher{failFor: map[string]bool{"bad": true}}
	r := New(reg, d, func() string { return "" }, true, nil)

	r.HandleEvent(context.Background(), msgEvent("c1", "go"))
	tr, ok := reg.Get("bad")
	require.True(t, ok)
	assert.True(t, tr.Active)
}

func TestThreadCreateMatchesName(t *testing.T) {
	r, _, d := newRouter(t,
		registry.Trigger{ID: "named", Kind: registry.KindThreadCreate, ChannelIDs: []string{"parent"}, Value: "incident", Active: true},
		registry.Trigger{ID: "gated", Kind: registry.KindThreadCreate, ChannelIDs: []string{"parent"}, Value: "incident", RoleIDs: []string{"ops"}, Active: true},
	)

	n := r.HandleEvent(context.Background(), chat.ThreadEvent{ParentID: "parent", ThreadID: "th1", Name: "incident"})
	assert.Equal(t, 1, n)
	require.Len(t, d.calls, 1)
	assert.Equal(t, "named", d.calls[0].TriggerID)
	assert.Equal(t, "th1", d.calls[0].Payload.ChannelID)
}

func TestThreadUpdateMatchesThreadMembership(t *testing.T) {
	r, _, d := newRouter(t, registry.Trigger{
		ID: "t1", Kind: registry.KindThreadUpdate, ChannelIDs: []string{"th1"}, Active: true,
	})

	assert.Equal(t, 1, r.HandleEvent(context.Background(), chat.ThreadEvent{ParentID: "parent", ThreadID: "th1", Name: "renamed", Updated: true}))
	assert.Equal(t, 0, r.HandleEvent(context.Background(), chat.ThreadEvent{ParentID: "parent", ThreadID: "other", Name: "renamed", Updated: true}))
	require.Len(t, d.calls, 1)
}

func TestMemberJoin(t *testing.T) {
	r, _, d := newRouter(t, registry.Trigger{
		ID: "t1", Kind: registry.KindUserJoins, ChannelIDs: []string{"welcome"}, Active: true,
	})

	n := r.HandleEvent(context.Background(), chat.MemberJoinEvent{User: chat.User{ID: "u9", Username: "newbie"}})
	assert.Equal(t, 1, n)
	require.Len(t, d.calls, 1)
	assert.Equal(t, "u9", d.calls[0].Payload.UserID)
	assert.Equal(t, "welcome", d.calls[0].Payload.ChannelID)

	assert.Equal(t, 0, r.HandleEvent(context.Background(), chat.MemberJoinEvent{User: chat.User{ID: "sys"}, SystemID: true}))
}

func TestRoleAddedFiltersOnWatchedRoles(t *testing.T) {
	r, _, d := newRouter(t,
		registry.Trigger{ID: "any-add", Kind: registry.KindUserRoleAdded, Active: true},
		registry.Trigger{ID: "ops-add", Kind: registry.KindUserRoleAdded, RoleUpdateIDs: []string{"ops"}, Active: true},
		registry.Trigger{ID: "rm", Kind: registry.KindUserRoleRemoved, Active: true},
	)

	n := r.HandleEvent(context.Background(), chat.MemberUpdateEvent{
		User:          chat.User{ID: "u1"},
		PreviousRoles: []string{"everyone"},
		AddedRoles:    []string{"dev"},
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"any-add"}, d.ids())
}

func TestRoleGateUsesPreChangeRoles(t *testing.T) {
	r, _, d := newRouter(t, registry.Trigger{
		ID: "t1", Kind: registry.KindUserRoleAdded, RoleIDs: []string{"member"}, Active: true,
	})

	n := r.HandleEvent(context.Background(), chat.MemberUpdateEvent{
		User:          chat.User{ID: "u1"},
		PreviousRoles: []string{"guest"},
		AddedRoles:    []string{"member"},
	})
	assert.Equal(t, 0, n)
	assert.Empty(t, d.calls)
}

func TestNickUpdate(t *testing.T) {
	r, _, d := newRouter(t, registry.Trigger{
		ID: "t1", Kind: registry.KindUserNickUpdated, Active: true,
	})

	n := r.HandleEvent(context.Background(), chat.MemberUpdateEvent{
		User:         chat.User{ID: "u1"},
		PreviousNick: "old",
		Nick:         "new",
	})
	assert.Equal(t, 1, n)
	require.Len(t, d.calls, 1)
	assert.Equal(t, "new", d.calls[0].Payload.Nick)
}

func TestPresenceMatchesStatusOrAny(t *testing.T) {
	r, _, d := newRouter(t,
		registry.Trigger{ID: "online", Kind: registry.KindPresence, ChannelIDs: []string{"g1"}, Presence: "online", Active: true},
		registry.Trigger{ID: "any", Kind: registry.KindPresence, ChannelIDs: []string{"g1"}, Presence: "any", Active: true},
		registry.Trigger{ID: "dnd", Kind: registry.KindPresence, ChannelIDs: []string{"g1"}, Presence: "dnd", Active: true},
	)

	n := r.HandleEvent(context.Background(), chat.PresenceEvent{GuildID: "g1", User: chat.User{ID: "u1"}, Status: "online"})
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{"online", "any"}, d.ids())
}

func TestCommandMatchesByName(t *testing.T) {
	r, _, d := newRouter(t,
		registry.Trigger{ID: "ship", Kind: registry.KindCommand, ChannelIDs: []string{"all"}, Name: "ship", Active: true},
		registry.Trigger{ID: "other", Kind: registry.KindCommand, ChannelIDs: []string{"all"}, Name: "status", Active: true},
	)

	n := r.HandleEvent(context.Background(), chat.CommandEvent{
		ChannelID: "c1", Name: "ship", Input: "api",
		User: chat.User{ID: "u1", Username: "amara"},
	})
	assert.Equal(t, 1, n)
	require.Len(t, d.calls, 1)
	assert.Equal(t, "ship", d.calls[0].TriggerID)
	assert.Equal(t, []string{"api"}, d.calls[0].Payload.InteractionValues)
}

func TestComponentMatchesByMessageIdentity(t *testing.T) {
	r, _, d := newRouter(t,
		registry.Trigger{ID: "t1", Kind: registry.KindInteraction, InteractionMessageID: "m5", Active: true},
		registry.Trigger{ID: "t2", Kind: registry.KindInteraction, InteractionMessageID: "m6", Active: true},
	)

	n := r.HandleEvent(context.Background(), chat.ComponentEvent{
		ChannelID: "c1", MessageID: "m5", Values: []string{"yes"},
		User: chat.User{ID: "u1"},
	})
	assert.Equal(t, 1, n)
	require.Len(t, d.calls, 1)
	assert.Equal(t, "t1", d.calls[0].TriggerID)
	assert.Equal(t, "m5", d.calls[0].Payload.InteractionMessageID)
	assert.Equal(t, []string{"yes"}, d.calls[0].Payload.InteractionValues)
}

func TestInvalidPatternNeverMatches(t *testing.T) {
	r, _, d := newRouter(t, registry.Trigger{
		ID: "t1", Kind: registry.KindMessage, ChannelIDs: []string{"c1"}, Pattern: `([unclosed`, Active: true,
	})

	assert.Equal(t, 0, r.HandleEvent(context.Background(), msgEvent("c1", "anything")))
	assert.Empty(t, d.calls)
}
