// ABOUTME: Discord implementation of the chat.Client interface on discordgo.
// ABOUTME: Tracks the first guild the session serves; all operations act on it.

package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/flowhook/discgate/internal/chat"
)

// ErrNoGuild indicates no guild is available yet for a guild-scoped call.
var ErrNoGuild = errors.New("no guild available")

// Client wraps a discordgo session behind the chat.Client interface.
type Client struct {
	logger *slog.Logger

	mu      sync.Mutex
	session *discordgo.Session
	guildID string
	botID   string

	// sink receives converted platform events; set before Login.
	sink Sink
}

// Sink consumes converted platform events.
type Sink interface {
	HandleEvent(ctx context.Context, ev chat.Event) int
}

// New creates an unconnected Client. Events flow into sink once Login
// succeeds; a nil sink drops them.
func New(sink Sink, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		logger: logger.With("component", "discord"),
		sink:   sink,
	}
}

// Login opens the platform session. A prior session, if any, is closed
// first; credential rotation reaches here as a fresh Login.
func (c *Client) Login(ctx context.Context, token string) error {
	c.mu.Lock()
	old := c.session
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}

	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	s.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildPresences |
		discordgo.IntentsMessageContent

	c.registerHandlers(s)

	if err := s.Open(); err != nil {
		return fmt.Errorf("opening session: %w", err)
	}

	c.mu.Lock()
	c.session = s
	if s.State != nil && s.State.User != nil {
		c.botID = s.State.User.ID
	}
	c.mu.Unlock()

	c.logger.Info("platform session open", "bot_id", c.BotUserID())
	return nil
}

// Close tears the session down.
func (c *Client) Close() error {
	c.mu.Lock()
	s := c.session
	c.session = nil
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

func (c *Client) BotUserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.botID
}

func (c *Client) current() (*discordgo.Session, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, "", chat.ErrNotReady
	}
	if c.guildID == "" {
		return c.session, "", ErrNoGuild
	}
	return c.session, c.guildID, nil
}

func (c *Client) Channels(ctx context.Context) ([]chat.Channel, error) {
	s, guildID, err := c.current()
	if err != nil {
		return nil, err
	}

	raw, err := s.GuildChannels(guildID)
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}

	var out []chat.Channel
	for _, ch := range raw {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		out = append(out, chat.Channel{ID: ch.ID, Name: ch.Name})
	}
	return out, nil
}

func (c *Client) Roles(ctx context.Context) ([]chat.Role, error) {
	s, guildID, err := c.current()
	if err != nil {
		return nil, err
	}

	raw, err := s.GuildRoles(guildID)
	if err != nil {
		return nil, fmt.Errorf("listing roles: %w", err)
	}

	out := make([]chat.Role, 0, len(raw))
	for _, r := range raw {
		out = append(out, chat.Role{ID: r.ID, Name: r.Name})
	}
	return out, nil
}

func (c *Client) SendMessage(ctx context.Context, channelID string, opts chat.SendOptions) (chat.MessageRef, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return chat.MessageRef{}, chat.ErrNotReady
	}

	msg, err := s.ChannelMessageSendComplex(channelID, buildMessageSend(opts))
	if err != nil {
		return chat.MessageRef{}, fmt.Errorf("sending message: %w", err)
	}
	return chat.MessageRef{ChannelID: channelID, MessageID: msg.ID}, nil
}

func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, opts chat.SendOptions) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return chat.ErrNotReady
	}

	edit := discordgo.NewMessageEdit(channelID, messageID)
	edit.SetContent(opts.Content)
	if opts.Embed != nil {
		edit.SetEmbed(buildEmbed(opts.Embed))
	}

	if _, err := s.ChannelMessageEditComplex(edit); err != nil {
		return fmt.Errorf("editing message: %w", err)
	}
	return nil
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return chat.ErrNotReady
	}
	if err := s.ChannelMessageDelete(channelID, messageID); err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}

func (c *Client) FetchMessage(ctx context.Context, channelID, messageID string) (chat.MessageRef, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return chat.MessageRef{}, chat.ErrNotReady
	}
	msg, err := s.ChannelMessage(channelID, messageID)
	if err != nil {
		return chat.MessageRef{}, chat.ErrMessageNotFound
	}
	return chat.MessageRef{ChannelID: channelID, MessageID: msg.ID}, nil
}

func (c *Client) BulkDelete(ctx context.Context, channelID string, count int) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return chat.ErrNotReady
	}
	if count <= 0 {
		return nil
	}
	if count > 100 {
		count = 100
	}

	msgs, err := s.ChannelMessages(channelID, count, "", "", "")
	if err != nil {
		return fmt.Errorf("listing messages: %w", err)
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.ChannelMessagesBulkDelete(channelID, ids); err != nil {
		return fmt.Errorf("bulk deleting: %w", err)
	}
	return nil
}

func (c *Client) AddRole(ctx context.Context, userID, roleID, reason string) error {
	s, guildID, err := c.current()
	if err != nil {
		return err
	}
	if err := s.GuildMemberRoleAdd(guildID, userID, roleID); err != nil {
		return fmt.Errorf("adding role: %w", err)
	}
	return nil
}

func (c *Client) RemoveRole(ctx context.Context, userID, roleID, reason string) error {
	s, guildID, err := c.current()
	if err != nil {
		return err
	}
	if err := s.GuildMemberRoleRemove(guildID, userID, roleID); err != nil {
		return fmt.Errorf("removing role: %w", err)
	}
	return nil
}

func (c *Client) ReplaceCommands(ctx context.Context, specs []chat.CommandSpec) error {
	s, guildID, err := c.current()
	if err != nil {
		return err
	}
	if s.State == nil || s.State.User == nil {
		return chat.ErrNotReady
	}

	cmds := make([]*discordgo.ApplicationCommand, 0, len(specs))
	for _, spec := range specs {
		cmd := &discordgo.ApplicationCommand{
			Name:        spec.Name,
			Description: spec.Description,
		}
		if spec.FieldType != "" {
			cmd.Options = []*discordgo.ApplicationCommandOption{{
				Type:        optionType(spec.FieldType),
				Name:        "input",
				Description: orDefault(spec.FieldDescription, "input"),
				Required:    spec.FieldRequired,
			}}
		}
		cmds = append(cmds, cmd)
	}

	if _, err := s.ApplicationCommandBulkOverwrite(s.State.User.ID, guildID, cmds); err != nil {
		return fmt.Errorf("replacing commands: %w", err)
	}
	return nil
}

func (c *Client) SetPresence(ctx context.Context, p chat.Presence) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return chat.ErrNotReady
	}

	data := discordgo.UpdateStatusData{Status: p.Status}
	if p.Activity != "" {
		data.Activities = []*discordgo.Activity{{
			Name: p.Activity,
			Type: discordgo.ActivityType(p.ActivityType),
		}}
	}
	if err := s.UpdateStatusComplex(data); err != nil {
		return fmt.Errorf("updating presence: %w", err)
	}
	return nil
}

func optionType(fieldType string) discordgo.ApplicationCommandOptionType {
	switch fieldType {
	case "number":
		return discordgo.ApplicationCommandOptionNumber
	case "integer":
		return discordgo.ApplicationCommandOptionInteger
	case "boolean":
		return discordgo.ApplicationCommandOptionBoolean
	default:
		return discordgo.ApplicationCommandOptionString
	}
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func buildMessageSend(opts chat.SendOptions) *discordgo.MessageSend {
	content := opts.Content
	if len(opts.FileURLs) > 0 {
		content = strings.TrimSpace(content + "\n" + strings.Join(opts.FileURLs, "\n"))
	}

	send := &discordgo.MessageSend{Content: content}
	if opts.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{buildEmbed(opts.Embed)}
	}
	if opts.Components != nil {
		send.Components = buildComponents(opts.Components)
	}
	return send
}

func buildEmbed(e *chat.Embed) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       e.Title,
		URL:         e.URL,
		Description: e.Description,
		Timestamp:   e.Timestamp,
		Color:       parseColor(e.Color),
	}
	if e.FooterText != "" || e.FooterIcon != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: e.FooterText, IconURL: e.FooterIcon}
	}
	if e.ImageURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: e.ImageURL}
	}
	if e.ThumbnailURL != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.ThumbnailURL}
	}
	if e.AuthorName != "" {
		embed.Author = &discordgo.MessageEmbedAuthor{Name: e.AuthorName, IconURL: e.AuthorIcon, URL: e.AuthorURL}
	}
	for _, f := range e.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	return embed
}

// parseColor converts a "#rrggbb" hex string into the integer Discord wants.
func parseColor(hex string) int {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0
	}
	v := 0
	for _, r := range hex {
		v <<= 4
		switch {
		case r >= '0' && r <= '9':
			v |= int(r - '0')
		case r >= 'a' && r <= 'f':
			v |= int(r-'a') + 10
		case r >= 'A' && r <= 'F':
			v |= int(r-'A') + 10
		default:
			return 0
		}
	}
	return v
}

func buildComponents(c *chat.Components) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent

	if len(c.Select) > 0 {
		options := make([]discordgo.SelectMenuOption, 0, len(c.Select))
		for _, o := range c.Select {
			options = append(options, discordgo.SelectMenuOption{
				Label:       o.Label,
				Value:       o.Value,
				Description: o.Description,
				Default:     o.Default,
			})
		}
		minValues := c.MinValues
		menu := discordgo.SelectMenu{
			CustomID:    "select",
			Placeholder: c.SelectPlaceholder,
			MinValues:   &minValues,
			MaxValues:   c.MaxValues,
			Options:     options,
		}
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{menu}})
		return rows
	}

	perRow := len(c.Buttons)
	if c.ButtonRows > 1 {
		perRow = (len(c.Buttons) + c.ButtonRows - 1) / c.ButtonRows
	}
	if perRow <= 0 || perRow > 5 {
		perRow = 5
	}

	var row []discordgo.MessageComponent
	for _, b := range c.Buttons {
		style := discordgo.PrimaryButton
		if b.Style > 0 {
			style = discordgo.ButtonStyle(b.Style)
		}
		row = append(row, discordgo.Button{
			Label:    b.Label,
			CustomID: b.Value,
			Style:    style,
			Disabled: b.Disabled,
		})
		if len(row) == perRow {
			rows = append(rows, discordgo.ActionsRow{Components: row})
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, discordgo.ActionsRow{Components: row})
	}
	return rows
}
