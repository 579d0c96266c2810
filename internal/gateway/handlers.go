// ABOUTME: Link subject handlers: credentials, trigger, execution, send
// ABOUTME: operations, listings, bot status, and activity log retrieval.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/flowhook/discgate/internal/chat"
	"github.com/flowhook/discgate/internal/link"
	"github.com/flowhook/discgate/internal/prompt"
	"github.com/flowhook/discgate/internal/registry"
	"github.com/flowhook/discgate/internal/session"
)

// ErrNoChannel indicates a send operation named no channel and no execution
// to derive one from.
var ErrNoChannel = errors.New("no target channel")

// ErrSessionNotReady indicates an operation that needs a live platform
// session arrived before login completed.
var ErrSessionNotReady = errors.New("session not ready")

func (g *Gateway) registerHandlers() {
	g.link.Handle(link.SubjectCredentials, g.handleCredentials)
	g.link.Handle(link.SubjectTrigger, g.handleTrigger)
	g.link.Handle(link.SubjectExecution, g.handleExecution)
	g.link.Handle(link.SubjectMessage, g.handleSendMessage)
	g.link.Handle(link.SubjectPrompt, g.handleSendPrompt)
	g.link.Handle(link.SubjectAction, g.handleSendAction)
	g.link.Handle(link.SubjectChannels, g.handleListChannels)
	g.link.Handle(link.SubjectRoles, g.handleListRoles)
	g.link.Handle(link.SubjectBotStatus, g.handleBotStatus)
	g.link.Handle(link.SubjectLogs, g.handleLogs)
	g.link.Handle(link.SubjectHealth, g.handleHealth)
}

// handleCredentials answers with an immediate verdict. When a login actually
// starts, the terminal outcome follows as a push on the same connection.
func (g *Gateway) handleCredentials(ctx context.Context, conn *link.Conn, payload json.RawMessage) (any, error) {
	var creds link.Credentials
	if err := json.Unmarshal(payload, &creds); err != nil {
		return nil, fmt.Errorf("decoding credentials: %w", err)
	}

	g.noteWorkflowEngine(creds.BaseURL, creds.APIKey)
	verdict := g.requestLogin(conn, creds.Token, creds.ClientID)
	return link.CredentialsResult{Verdict: string(verdict)}, nil
}

// requestLogin funnels one credential set into the session manager and, when
// a login starts, arranges the follow-up push with the terminal verdict.
func (g *Gateway) requestLogin(conn *link.Conn, token, clientID string) session.Verdict {
	verdict, result := g.session.RequestLogin(g.runContext(), token, clientID)
	if result == nil {
		return verdict
	}

	go func() {
		terminal := <-result
		if conn == nil {
			return
		}
		if err := conn.Push(link.SubjectCredentials, link.CredentialsResult{Verdict: string(terminal)}); err != nil {
			g.logger.Debug("login verdict push failed", "error", err)
		}
	}()
	return verdict
}

func (g *Gateway) handleTrigger(ctx context.Context, conn *link.Conn, payload json.RawMessage) (any, error) {
	var up link.TriggerUpsert
	if err := json.Unmarshal(payload, &up); err != nil {
		return nil, fmt.Errorf("decoding trigger: %w", err)
	}
	if up.WebhookID == "" {
		return nil, errors.New("trigger missing webhook id")
	}

	g.noteWorkflowEngine(up.BaseURL, "")
	if up.Credentials != nil {
		g.noteWorkflowEngine(up.Credentials.BaseURL, up.Credentials.APIKey)
		g.requestLogin(conn, up.Credentials.Token, up.Credentials.ClientID)
	}

	t := triggerFromUpsert(up)
	g.verifyInteractionMessage(ctx, t)
	g.registry.Upsert(t)
	return map[string]bool{"active": up.Active}, nil
}

// verifyInteractionMessage checks that the message an interaction trigger
// watches still exists. A deleted message leaves the trigger permanently
// silent, which is worth a warning at registration time.
func (g *Gateway) verifyInteractionMessage(ctx context.Context, t registry.Trigger) {
	if t.Kind != registry.KindInteraction || t.InteractionMessageID == "" || !g.session.Ready() {
		return
	}
	channelID := ""
	for _, c := range t.ChannelIDs {
		if c != registry.ChannelAll {
			channelID = c
			break
		}
	}
	if channelID == "" {
		return
	}
	if _, err := g.client.FetchMessage(ctx, channelID, t.InteractionMessageID); err != nil {
		g.logger.Warn("interaction trigger watches a missing message",
			"trigger_id", t.ID, "channel_id", channelID, "message_id", t.InteractionMessageID)
	}
}

func (g *Gateway) handleExecution(ctx context.Context, _ *link.Conn, payload json.RawMessage) (any, error) {
	var notice link.ExecutionNotice
	if err := json.Unmarshal(payload, &notice); err != nil {
		return nil, fmt.Errorf("decoding execution notice: %w", err)
	}
	if notice.ExecutionID == "" {
		return nil, errors.New("execution notice missing execution id")
	}

	g.noteWorkflowEngine(notice.BaseURL, notice.APIKey)
	g.engine.BeginExecution(notice.ExecutionID, notice.ChannelID, notice.UserID)

	if notice.PlaceholderID != "" {
		g.engine.AttachPlaceholder(notice.ExecutionID, notice.PlaceholderID)
		g.engine.PollExecution(g.runContext(), notice.ExecutionID, notice.PlaceholderID, g.currentBaseURL(), g.currentAPIKey())
	}
	return map[string]bool{"registered": true}, nil
}

func (g *Gateway) handleSendMessage(ctx context.Context, _ *link.Conn, payload json.RawMessage) (any, error) {
	var params link.MessageParams
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, fmt.Errorf("decoding message params: %w", err)
	}
	if !g.session.Ready() {
		return nil, ErrSessionNotReady
	}

	channelID, err := g.resolveChannel(params.ChannelID, params.TriggerChannel, params.ExecutionID)
	if err != nil {
		return nil, err
	}

	opts := buildSendOptions(params)

	// When the trigger posted a placeholder, claim it and convert it into
	// the final message instead of posting a second one.
	if params.TriggerPlaceholder {
		if placeholderID := g.placeholderFor(params.ExecutionID); placeholderID != "" {
			if realID, ok := g.engine.FinalizePlaceholder(ctx, placeholderID); ok {
				if err := g.client.EditMessage(ctx, channelID, realID, opts); err != nil {
					g.logger.Warn("placeholder edit failed", "channel_id", channelID, "error", err)
					return link.MessageResult{Sent: false}, nil
				}
				return link.MessageResult{Sent: true, ChannelID: channelID, MessageID: realID}, nil
			}
		}
	}

	ref, err := g.client.SendMessage(ctx, channelID, opts)
	if err != nil {
		g.logger.Warn("send failed", "channel_id", channelID, "error", err)
		return link.MessageResult{Sent: false}, nil
	}
	return link.MessageResult{Sent: true, ChannelID: ref.ChannelID, MessageID: ref.MessageID}, nil
}

func (g *Gateway) handleSendPrompt(ctx context.Context, _ *link.Conn, payload json.RawMessage) (any, error) {
	var params link.PromptParams
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, fmt.Errorf("decoding prompt params: %w", err)
	}
	if !g.session.Ready() {
		return nil, ErrSessionNotReady
	}

	channelID := params.ChannelID
	if channelID == "" {
		if m, ok := g.engine.Execution(params.ExecutionID); ok {
			channelID = m.ChannelID
		}
	}
	if channelID == "" {
		return nil, ErrNoChannel
	}

	opts, buttons, selects := buildPromptOptions(params)
	ref, err := g.client.SendMessage(ctx, channelID, opts)
	if err != nil {
		return link.PromptResult{Error: err.Error()}, nil
	}

	allowedRoles := g.promptAllowedRoles(params)
	g.prompts.Create(ref.MessageID, prompt.Prompt{
		ExecutionID:              params.ExecutionID,
		Content:                  params.Content,
		ChannelID:                ref.ChannelID,
		MessageID:                ref.MessageID,
		RestrictToRoles:          params.RestrictToRoles,
		AllowedRoles:             allowedRoles,
		RestrictToTriggeringUser: params.RestrictToTriggeringUser,
		Buttons:                  buttons,
		Select:                   selects,
		Persistent:               params.Persistent,
	})

	if params.Persistent {
		// The workflow resumes immediately; the prompt stays armed and
		// later interactions are recorded against it.
		return link.PromptResult{Success: true, MessageID: ref.MessageID}, nil
	}

	return g.awaitPromptAnswer(ctx, ref, params, opts)
}

// awaitPromptAnswer ticks down the prompt timeout, refreshing the countdown
// suffix on the message, until a human answers or time runs out.
func (g *Gateway) awaitPromptAnswer(ctx context.Context, ref chat.MessageRef, params link.PromptParams, opts chat.SendOptions) (any, error) {
	remaining := params.TimeoutSeconds

	for {
		if p, ok := g.prompts.Get(ref.MessageID); ok && p.Answered() {
			taken, _ := g.prompts.Take(ref.MessageID)
			return g.settlePrompt(ctx, ref, params, taken)
		}

		if params.TimeoutSeconds > 0 {
			if remaining <= 0 {
				g.prompts.Delete(ref.MessageID)
				final := opts
				final.Components = nil
				final.Content = params.Content + "\n\n*Timed out*"
				if err := g.client.EditMessage(ctx, ref.ChannelID, ref.MessageID, final); err != nil {
					g.logger.Debug("prompt timeout edit failed", "message_id", ref.MessageID, "error", err)
				}
				return link.PromptResult{Timeout: true, MessageID: ref.MessageID}, nil
			}

			countdown := opts
			countdown.Content = params.Content + "\n\n*" + strconv.Itoa(remaining) + "s remaining*"
			if err := g.client.EditMessage(ctx, ref.ChannelID, ref.MessageID, countdown); err != nil {
				g.logger.Debug("prompt countdown edit failed", "message_id", ref.MessageID, "error", err)
			}
			remaining--
		}

		select {
		case <-ctx.Done():
			g.prompts.Delete(ref.MessageID)
			return link.PromptResult{Timeout: true, MessageID: ref.MessageID}, nil
		case <-time.After(g.promptTick):
		}
	}
}

// settlePrompt replaces the interactive message with the chosen answer and
// reports it back to the workflow.
func (g *Gateway) settlePrompt(ctx context.Context, ref chat.MessageRef, params link.PromptParams, p prompt.Prompt) (any, error) {
	value := ""
	if p.Value != nil {
		value = *p.Value
	}

	label := value
	if l, ok := p.FindLabel(value); ok {
		label = l
	}

	final := chat.SendOptions{Content: params.Content + "\n\n**" + label + "**"}
	if err := g.client.EditMessage(ctx, ref.ChannelID, ref.MessageID, final); err != nil {
		g.logger.Debug("prompt settle edit failed", "message_id", ref.MessageID, "error", err)
	}

	return link.PromptResult{
		MessageID: ref.MessageID,
		Response: &link.PromptAnswer{
			Value:    value,
			UserID:   p.Responder.ID,
			UserName: p.Responder.Username,
			UserTag:  p.Responder.Tag,
		},
	}, nil
}

func (g *Gateway) handleSendAction(ctx context.Context, _ *link.Conn, payload json.RawMessage) (any, error) {
	var params link.ActionParams
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, fmt.Errorf("decoding action params: %w", err)
	}
	if !g.session.Ready() {
		return nil, ErrSessionNotReady
	}

	channelID, err := g.resolveChannel(params.ChannelID, params.TriggerChannel, params.ExecutionID)
	if err != nil && params.ActionType == "removeMessages" {
		return nil, err
	}

	// A lingering placeholder would survive the action as a stray animated
	// message; claim and remove it first.
	if params.TriggerPlaceholder {
		if placeholderID := g.placeholderFor(params.ExecutionID); placeholderID != "" {
			if realID, ok := g.engine.FinalizePlaceholder(ctx, placeholderID); ok && channelID != "" {
				if err := g.client.DeleteMessage(ctx, channelID, realID); err != nil {
					g.logger.Debug("placeholder delete failed", "message_id", realID, "error", err)
				}
			}
		}
	}

	switch params.ActionType {
	case "removeMessages":
		if err := g.client.BulkDelete(ctx, channelID, params.RemoveMessagesNumber); err != nil {
			return nil, fmt.Errorf("removing messages: %w", err)
		}
	case "addRole", "removeRole":
		if params.UserID == "" {
			return nil, errors.New("role action missing user id")
		}
		for _, roleID := range params.RoleUpdateIDs {
			var roleErr error
			if params.ActionType == "addRole" {
				roleErr = g.client.AddRole(ctx, params.UserID, roleID, params.AuditLogReason)
			} else {
				roleErr = g.client.RemoveRole(ctx, params.UserID, roleID, params.AuditLogReason)
			}
			if roleErr != nil {
				return nil, fmt.Errorf("%s %s: %w", params.ActionType, roleID, roleErr)
			}
		}
	default:
		return nil, fmt.Errorf("unknown action type %q", params.ActionType)
	}

	return link.ActionResult{Done: true, ChannelID: channelID, Action: params.ActionType}, nil
}

// handleListChannels answers with the channel inventory, or an empty list
// when no session exists yet. Editors poll this while credentials settle.
func (g *Gateway) handleListChannels(ctx context.Context, _ *link.Conn, _ json.RawMessage) (any, error) {
	if !g.session.Ready() {
		return []link.ListEntry{}, nil
	}
	channels, err := g.client.Channels(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	entries := make([]link.ListEntry, 0, len(channels))
	for _, ch := range channels {
		entries = append(entries, link.ListEntry{Name: ch.Name, ID: ch.ID})
	}
	return entries, nil
}

func (g *Gateway) handleListRoles(ctx context.Context, _ *link.Conn, _ json.RawMessage) (any, error) {
	if !g.session.Ready() {
		return []link.ListEntry{}, nil
	}
	roles, err := g.client.Roles(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}
	entries := make([]link.ListEntry, 0, len(roles))
	for _, r := range roles {
		if r.Name == "@everyone" {
			continue
		}
		entries = append(entries, link.ListEntry{Name: r.Name, ID: r.ID})
	}
	return entries, nil
}

func (g *Gateway) handleBotStatus(ctx context.Context, _ *link.Conn, payload json.RawMessage) (any, error) {
	var params link.StatusParams
	if err := json.Unmarshal(payload, &params); err != nil {
		return nil, fmt.Errorf("decoding status params: %w", err)
	}
	if !g.session.Ready() {
		return nil, ErrSessionNotReady
	}

	err := g.client.SetPresence(ctx, chat.Presence{
		Activity:     params.Activity,
		ActivityType: params.ActivityType,
		Status:       params.Status,
	})
	if err != nil {
		return nil, fmt.Errorf("setting presence: %w", err)
	}
	return map[string]bool{"updated": true}, nil
}

func (g *Gateway) handleLogs(ctx context.Context, _ *link.Conn, payload json.RawMessage) (any, error) {
	var req link.LogsRequest
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decoding logs request: %w", err)
		}
	}
	if g.activity == nil {
		return []link.LogEntry{}, nil
	}

	logs, err := g.activity.RecentLogs(ctx, req.Limit)
	if err != nil {
		return nil, fmt.Errorf("reading logs: %w", err)
	}
	entries := make([]link.LogEntry, 0, len(logs))
	for _, l := range logs {
		entries = append(entries, link.LogEntry{
			At:      l.Timestamp.Format(time.RFC3339),
			Level:   l.Level,
			Message: l.Message,
		})
	}
	return entries, nil
}

func (g *Gateway) handleHealth(_ context.Context, _ *link.Conn, _ json.RawMessage) (any, error) {
	return link.HealthResult{Status: "ok", Session: g.session.State().String()}, nil
}

// resolveChannel picks the target channel: an explicit id wins, otherwise
// the triggering execution's channel.
func (g *Gateway) resolveChannel(channelID string, triggerChannel bool, executionID string) (string, error) {
	if channelID != "" && !triggerChannel {
		return channelID, nil
	}
	if m, ok := g.engine.Execution(executionID); ok && m.ChannelID != "" {
		return m.ChannelID, nil
	}
	if channelID != "" {
		return channelID, nil
	}
	return "", ErrNoChannel
}

func (g *Gateway) placeholderFor(executionID string) string {
	if m, ok := g.engine.Execution(executionID); ok {
		return m.PlaceholderID
	}
	return ""
}

// promptAllowedRoles snapshots the trigger role allow-list for prompts that
// restrict answering. The execution's trigger is unknown here, so the union
// of all role-gated active triggers serves as the allow-list.
func (g *Gateway) promptAllowedRoles(params link.PromptParams) []string {
	if !params.RestrictToRoles {
		return nil
	}
	seen := map[string]struct{}{}
	var roles []string
	for _, t := range g.registry.AllActive() {
		for _, r := range t.RoleIDs {
			if _, dup := seen[r]; !dup {
				seen[r] = struct{}{}
				roles = append(roles, r)
			}
		}
	}
	return roles
}

// triggerFromUpsert converts the wire registration into a registry trigger.
func triggerFromUpsert(up link.TriggerUpsert) registry.Trigger {
	return registry.Trigger{
		ID:                   up.WebhookID,
		Kind:                 up.Kind,
		ChannelIDs:           up.ChannelIDs,
		RoleIDs:              up.RoleIDs,
		RoleUpdateIDs:        up.RoleUpdateIDs,
		Pattern:              up.Pattern,
		Value:                up.Value,
		CaseSensitive:        up.CaseSensitive,
		BotMention:           up.BotMention,
		Name:                 up.Name,
		Description:          up.Description,
		CommandFieldType:     up.CommandFieldType,
		CommandFieldDesc:     up.CommandFieldDesc,
		CommandFieldRequired: up.CommandFieldRequired,
		InteractionMessageID: up.InteractionMessageID,
		Presence:             up.Presence,
		Placeholder:          up.Placeholder,
		Active:               up.Active,
	}
}

// buildSendOptions converts message params into platform send options.
func buildSendOptions(params link.MessageParams) chat.SendOptions {
	content := params.Content
	for _, role := range params.MentionRoles {
		content += " <@&" + role + ">"
	}

	opts := chat.SendOptions{
		Content:  content,
		FileURLs: params.FileURLs,
	}

	if params.EmbedEnabled {
		embed := &chat.Embed{
			Title:        params.Title,
			URL:          params.URL,
			Description:  params.Description,
			Color:        params.Color,
			Timestamp:    params.Timestamp,
			FooterText:   params.FooterText,
			FooterIcon:   params.FooterIcon,
			ImageURL:     params.ImageURL,
			ThumbnailURL: params.ThumbnailURL,
			AuthorName:   params.AuthorName,
			AuthorIcon:   params.AuthorIcon,
			AuthorURL:    params.AuthorURL,
		}
		for _, f := range params.Fields {
			embed.Fields = append(embed.Fields, chat.EmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		opts.Embed = embed
	}

	return opts
}

// buildPromptOptions assembles the interactive message for a prompt and
// returns the component sets for the prompt table.
func buildPromptOptions(params link.PromptParams) (chat.SendOptions, []chat.Button, []chat.SelectOption) {
	content := params.Content
	for _, role := range params.MentionRoles {
		content += " <@&" + role + ">"
	}

	components := &chat.Components{
		ButtonRows:        params.ButtonRows,
		SelectPlaceholder: params.SelectPlaceholder,
		MinValues:         params.MinValues,
		MaxValues:         params.MaxValues,
	}

	var buttons []chat.Button
	for _, b := range params.Buttons {
		buttons = append(buttons, chat.Button{
			Label:    b.Label,
			Value:    b.Value,
			Style:    b.Style,
			Emoji:    b.Emoji,
			Disabled: b.Disabled,
		})
	}
	var selects []chat.SelectOption
	for _, s := range params.Select {
		selects = append(selects, chat.SelectOption{
			Label:       s.Label,
			Value:       s.Value,
			Description: s.Description,
			Emoji:       s.Emoji,
			Default:     s.Default,
		})
	}
	components.Buttons = buttons
	components.Select = selects

	opts := chat.SendOptions{Content: content, Components: components}
	if params.ColorHex != "" {
		opts.Embed = &chat.Embed{Description: content, Color: params.ColorHex}
		opts.Content = ""
	}

	return opts, buttons, selects
}
