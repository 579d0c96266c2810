// ABOUTME: Converts raw discordgo gateway events into the chat.Event union.
// ABOUTME: Conversion keeps only the fields trigger matching cares about.

package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/flowhook/discgate/internal/chat"
)

func (c *Client) registerHandlers(s *discordgo.Session) {
	s.AddHandler(c.onGuildCreate)
	s.AddHandler(c.onMessageCreate)
	s.AddHandler(c.onMessageUpdate)
	s.AddHandler(c.onThreadCreate)
	s.AddHandler(c.onThreadUpdate)
	s.AddHandler(c.onMemberAdd)
	s.AddHandler(c.onMemberUpdate)
	s.AddHandler(c.onPresenceUpdate)
	s.AddHandler(c.onInteraction)
}

func (c *Client) emit(ev chat.Event) {
	if c.sink == nil {
		return
	}
	c.sink.HandleEvent(context.Background(), ev)
}

// onGuildCreate pins the first guild the session serves. Later guilds are
// ignored; discgate is single-guild.
func (c *Client) onGuildCreate(s *discordgo.Session, g *discordgo.GuildCreate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.guildID == "" {
		c.guildID = g.ID
		c.logger.Info("guild attached", "guild_id", g.ID, "name", g.Name)
	}
}

func (c *Client) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	c.emit(c.messageEvent(m.Message, false))
}

func (c *Client) onMessageUpdate(s *discordgo.Session, m *discordgo.MessageUpdate) {
	if m.Author == nil {
		// Embed-resolution updates carry no author; nothing to match on.
		return
	}
	c.emit(c.messageEvent(m.Message, true))
}

func (c *Client) messageEvent(m *discordgo.Message, edited bool) chat.MessageEvent {
	ev := chat.MessageEvent{
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		Content:   m.Content,
		Edited:    edited,
	}
	if m.Author != nil {
		ev.Author = userOf(m.Author)
		ev.AuthorBot = m.Author.Bot
	}
	if m.Member != nil {
		ev.UserRoles = m.Member.Roles
	}
	botID := c.BotUserID()
	for _, u := range m.Mentions {
		if u.ID == botID {
			ev.MentionsBot = true
			break
		}
	}
	return ev
}

func (c *Client) onThreadCreate(s *discordgo.Session, t *discordgo.ThreadCreate) {
	if !t.NewlyCreated {
		return
	}
	c.emit(chat.ThreadEvent{
		ParentID: t.ParentID,
		ThreadID: t.ID,
		Name:     t.Name,
	})
}

func (c *Client) onThreadUpdate(s *discordgo.Session, t *discordgo.ThreadUpdate) {
	c.emit(chat.ThreadEvent{
		ParentID: t.ParentID,
		ThreadID: t.ID,
		Name:     t.Name,
		Updated:  true,
	})
}

func (c *Client) onMemberAdd(s *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if m.User == nil {
		return
	}
	c.emit(chat.MemberJoinEvent{
		User:     userOf(m.User),
		SystemID: m.User.System,
	})
}

func (c *Client) onMemberUpdate(s *discordgo.Session, m *discordgo.GuildMemberUpdate) {
	if m.User == nil {
		return
	}

	ev := chat.MemberUpdateEvent{
		User: userOf(m.User),
		Nick: m.Nick,
	}
	if m.BeforeUpdate != nil {
		ev.PreviousRoles = m.BeforeUpdate.Roles
		ev.PreviousNick = m.BeforeUpdate.Nick
		ev.AddedRoles = diff(m.Roles, m.BeforeUpdate.Roles)
		ev.RemovedRoles = diff(m.BeforeUpdate.Roles, m.Roles)
	} else {
		ev.PreviousRoles = m.Roles
		ev.PreviousNick = m.Nick
	}
	c.emit(ev)
}

func (c *Client) onPresenceUpdate(s *discordgo.Session, p *discordgo.PresenceUpdate) {
	if p.User == nil {
		return
	}

	ev := chat.PresenceEvent{
		GuildID: p.GuildID,
		User:    chat.User{ID: p.User.ID, Username: p.User.Username},
		Status:  string(p.Status),
	}
	if s.State != nil {
		if member, err := s.State.Member(p.GuildID, p.User.ID); err == nil {
			ev.UserRoles = member.Roles
		}
	}
	c.emit(ev)
}

func (c *Client) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		c.onCommand(s, i)
	case discordgo.InteractionMessageComponent:
		c.onComponent(s, i)
	}
}

func (c *Client) onCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()

	ev := chat.CommandEvent{
		ChannelID: i.ChannelID,
		Name:      data.Name,
	}
	if len(data.Options) > 0 {
		ev.Input = optionValue(data.Options[0])
	}
	if i.Member != nil {
		ev.UserRoles = i.Member.Roles
		if i.Member.User != nil {
			ev.User = userOf(i.Member.User)
		}
	} else if i.User != nil {
		ev.User = userOf(i.User)
	}

	ack := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "Received.",
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
	if err := s.InteractionRespond(i.Interaction, ack); err != nil {
		c.logger.Warn("command ack failed", "command", data.Name, "error", err)
	}

	c.emit(ev)
}

func (c *Client) onComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.MessageComponentData()

	ev := chat.ComponentEvent{
		ChannelID: i.ChannelID,
		IsSelect:  data.ComponentType == discordgo.SelectMenuComponent,
	}
	if ev.IsSelect {
		ev.Values = data.Values
	} else {
		ev.Values = []string{data.CustomID}
	}
	if i.Message != nil {
		ev.MessageID = i.Message.ID
	}
	if i.Member != nil {
		ev.UserRoles = i.Member.Roles
		if i.Member.User != nil {
			ev.User = userOf(i.Member.User)
		}
	} else if i.User != nil {
		ev.User = userOf(i.User)
	}

	ack := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}
	if err := s.InteractionRespond(i.Interaction, ack); err != nil {
		c.logger.Warn("component ack failed", "message_id", ev.MessageID, "error", err)
	}

	c.emit(ev)
}

// optionValue renders a command option's value as the string form used for
// trigger input, regardless of the option's declared type.
func optionValue(o *discordgo.ApplicationCommandInteractionDataOption) string {
	if o == nil || o.Value == nil {
		return ""
	}
	return fmt.Sprint(o.Value)
}

func userOf(u *discordgo.User) chat.User {
	return chat.User{
		ID:       u.ID,
		Username: u.Username,
		Tag:      u.String(),
	}
}

// diff returns the elements of a not present in b.
func diff(a, b []string) []string {
	var out []string
	for _, x := range a {
		found := false
		for _, y := range b {
			if x == y {
				found = true
				break
			}
		}
		if !found {
			out = append(out, x)
		}
	}
	return out
}
