// ABOUTME: Routes inbound platform events to matching triggers and dispatches them.
// ABOUTME: Fixed predicate order per kind; a failing trigger is deactivated, never propagated.

package router

import (
	"context"
	"log/slog"
	"regexp"

	"github.com/flowhook/discgate/internal/chat"
	"github.com/flowhook/discgate/internal/registry"
	"github.com/flowhook/discgate/internal/webhook"
)

// Dispatcher posts a matched event for one trigger and reports success.
type Dispatcher interface {
	Dispatch(ctx context.Context, t registry.Trigger, baseURL string, payload webhook.Payload) bool
}

// Registry is the trigger lookup surface the router reads.
type Registry interface {
	CandidatesFor(channelID string) []registry.Trigger
	AllActive() []registry.Trigger
	Deactivate(id string)
}

// Router evaluates platform events against the trigger registry.
type Router struct {
	registry   Registry
	dispatcher Dispatcher
	logger     *slog.Logger

	// baseURL supplies the workflow engine base URL current at dispatch time.
	baseURL func() string

	// keepBrokenTriggers suppresses deactivation on delivery failure, used
	// in engine test mode where webhooks are expected to come and go.
	keepBrokenTriggers bool
}

// New creates a Router.
func New(reg Registry, dispatcher Dispatcher, baseURL func() string, keepBrokenTriggers bool, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry:           reg,
		dispatcher:         dispatcher,
		logger:             logger.With("component", "router"),
		baseURL:            baseURL,
		keepBrokenTriggers: keepBrokenTriggers,
	}
}

// HandleEvent evaluates one event against the registry and dispatches every
// match. Returns the number of dispatch attempts. A failing dispatch
// deactivates its trigger and never blocks evaluation of the remaining
// candidates.
func (r *Router) HandleEvent(ctx context.Context, ev chat.Event) int {
	switch e := ev.(type) {
	case chat.MessageEvent:
		return r.handleMessage(ctx, e)
	case chat.ThreadEvent:
		return r.handleThread(ctx, e)
	case chat.MemberJoinEvent:
		return r.handleMemberJoin(ctx, e)
	case chat.MemberUpdateEvent:
		return r.handleMemberUpdate(ctx, e)
	case chat.PresenceEvent:
		return r.handlePresence(ctx, e)
	case chat.CommandEvent:
		return r.handleCommand(ctx, e)
	case chat.ComponentEvent:
		return r.handleComponent(ctx, e)
	default:
		return 0
	}
}

func (r *Router) handleMessage(ctx context.Context, e chat.MessageEvent) int {
	if e.AuthorBot || e.Content == "" {
		return 0
	}

	kind := registry.KindMessage
	if e.Edited {
		kind = registry.KindMessageUpdate
	}

	dispatched := 0
	for _, t := range r.registry.CandidatesFor(e.ChannelID) {
		if t.Kind != kind {
			continue
		}
		if !r.roleGate(t, e.UserRoles) {
			continue
		}

		// Message updates match on channel membership alone; creation
		// additionally needs a content predicate.
		if kind == registry.KindMessage && !matchContent(t, e.Content, e.MentionsBot) {
			continue
		}

		r.dispatch(ctx, t, webhook.Payload{
			Content:   e.Content,
			ChannelID: e.ChannelID,
			MessageID: e.MessageID,
			UserID:    e.Author.ID,
			UserName:  e.Author.Username,
			UserTag:   e.Author.Tag,
			UserRoles: e.UserRoles,
		})
		dispatched++
	}
	return dispatched
}

func (r *Router) handleThread(ctx context.Context, e chat.ThreadEvent) int {
	dispatched := 0

	if e.Updated {
		for _, t := range r.registry.CandidatesFor(e.ThreadID) {
			if t.Kind != registry.KindThreadUpdate {
				continue
			}
			r.dispatch(ctx, t, webhook.Payload{ChannelID: e.ThreadID, Content: e.Name})
			dispatched++
		}
		return dispatched
	}

	for _, t := range r.registry.CandidatesFor(e.ParentID) {
		if t.Kind != registry.KindThreadCreate {
			continue
		}
		// No member context on thread creation; a role-gated trigger
		// cannot be satisfied.
		if len(t.RoleIDs) > 0 {
			continue
		}
		if !matchContent(t, e.Name, false) {
			continue
		}
		r.dispatch(ctx, t, webhook.Payload{ChannelID: e.ThreadID, Content: e.Name})
		dispatched++
	}
	return dispatched
}

func (r *Router) handleMemberJoin(ctx context.Context, e chat.MemberJoinEvent) int {
	if e.SystemID {
		return 0
	}

	dispatched := 0
	for _, t := range r.registry.AllActive() {
		if t.Kind != registry.KindUserJoins {
			continue
		}
		r.dispatch(ctx, t, webhook.Payload{
			ChannelID: firstChannel(t),
			UserID:    e.User.ID,
			UserName:  e.User.Username,
			UserTag:   e.User.Tag,
		})
		dispatched++
	}
	return dispatched
}

func (r *Router) handleMemberUpdate(ctx context.Context, e chat.MemberUpdateEvent) int {
	dispatched := 0

	if len(e.AddedRoles) > 0 || len(e.RemovedRoles) > 0 {
		for _, t := range r.registry.AllActive() {
			var updateSet []string
			switch t.Kind {
			case registry.KindUserRoleAdded:
				updateSet = e.AddedRoles
			case registry.KindUserRoleRemoved:
				updateSet = e.RemovedRoles
			default:
				continue
			}
			if len(updateSet) == 0 {
				continue
			}
			// The role gate inspects the roles held before the change.
			if !r.roleGate(t, e.PreviousRoles) {
				continue
			}
			if len(t.RoleUpdateIDs) > 0 && !intersects(t.RoleUpdateIDs, updateSet) {
				continue
			}
			r.dispatch(ctx, t, webhook.Payload{
				ChannelID:    firstChannel(t),
				UserID:       e.User.ID,
				UserName:     e.User.Username,
				UserTag:      e.User.Tag,
				AddedRoles:   e.AddedRoles,
				RemovedRoles: e.RemovedRoles,
			})
			dispatched++
		}
	}

	if e.PreviousNick != e.Nick {
		for _, t := range r.registry.AllActive() {
			if t.Kind != registry.KindUserNickUpdated {
				continue
			}
			r.dispatch(ctx, t, webhook.Payload{
				ChannelID: firstChannel(t),
				UserID:    e.User.ID,
				UserName:  e.User.Username,
				UserTag:   e.User.Tag,
				Nick:      e.Nick,
			})
			dispatched++
		}
	}

	return dispatched
}

func (r *Router) handlePresence(ctx context.Context, e chat.PresenceEvent) int {
	dispatched := 0
	for _, t := range r.registry.CandidatesFor(e.GuildID) {
		if t.Kind != registry.KindPresence {
			continue
		}
		if !r.roleGate(t, e.UserRoles) {
			continue
		}
		if t.Presence != e.Status && t.Presence != "any" {
			continue
		}
		r.dispatch(ctx, t, webhook.Payload{
			ChannelID: e.GuildID,
			UserID:    e.User.ID,
			UserName:  e.User.Username,
			UserTag:   e.User.Tag,
			Presence:  e.Status,
			UserRoles: e.UserRoles,
		})
		dispatched++
	}
	return dispatched
}

func (r *Router) handleCommand(ctx context.Context, e chat.CommandEvent) int {
	dispatched := 0
	for _, t := range r.registry.CandidatesFor(e.ChannelID) {
		if t.Kind != registry.KindCommand || t.Name != e.Name {
			continue
		}
		if !r.roleGate(t, e.UserRoles) {
			continue
		}
		var values []string
		if e.Input != "" {
			values = []string{e.Input}
		}
		r.dispatch(ctx, t, webhook.Payload{
			ChannelID:         e.ChannelID,
			UserID:            e.User.ID,
			UserName:          e.User.Username,
			UserTag:           e.User.Tag,
			InteractionValues: values,
			UserRoles:         e.UserRoles,
		})
		dispatched++
	}
	return dispatched
}

func (r *Router) handleComponent(ctx context.Context, e chat.ComponentEvent) int {
	dispatched := 0
	for _, t := range r.registry.AllActive() {
		if t.Kind != registry.KindInteraction || t.InteractionMessageID != e.MessageID {
			continue
		}
		if !r.roleGate(t, e.UserRoles) {
			continue
		}
		r.dispatch(ctx, t, webhook.Payload{
			ChannelID:            e.ChannelID,
			UserID:               e.User.ID,
			UserName:             e.User.Username,
			UserTag:              e.User.Tag,
			InteractionMessageID: e.MessageID,
			InteractionValues:    e.Values,
			UserRoles:            e.UserRoles,
		})
		dispatched++
	}
	return dispatched
}

// dispatch posts one match. Delivery failure deactivates the trigger so a
// broken workflow stops being invoked; evaluation of sibling candidates
// continues regardless.
func (r *Router) dispatch(ctx context.Context, t registry.Trigger, payload webhook.Payload) {
	if r.dispatcher.Dispatch(ctx, t, r.baseURL(), payload) {
		return
	}
	if !r.keepBrokenTriggers {
		r.registry.Deactivate(t.ID)
	}
}

// roleGate passes when the trigger has no allow-list or the user holds at
// least one listed role.
func (r *Router) roleGate(t registry.Trigger, userRoles []string) bool {
	if len(t.RoleIDs) == 0 {
		return true
	}
	return intersects(t.RoleIDs, userRoles)
}

// matchContent applies the message predicate: bot mention, configured
// pattern, or literal value anchored whole-line, in that order.
func matchContent(t registry.Trigger, content string, mentionsBot bool) bool {
	if t.BotMention && mentionsBot {
		return true
	}

	expr := ""
	switch {
	case t.Pattern != "":
		expr = t.Pattern
	case t.Value != "":
		expr = "^" + regexp.QuoteMeta(t.Value) + "$"
	default:
		return false
	}
	if !t.CaseSensitive {
		expr = "(?i)" + expr
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return false
	}
	return re.MatchString(content)
}

func intersects(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func firstChannel(t registry.Trigger) string {
	for _, ch := range t.ChannelIDs {
		if ch != registry.ChannelAll {
			return ch
		}
	}
	return ""
}
