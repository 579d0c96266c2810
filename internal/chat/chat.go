// ABOUTME: Chat platform boundary types and the Client interface discgate drives.
// ABOUTME: The concrete platform library is an external collaborator behind this interface.

package chat

import (
	"context"
	"errors"
)

// ErrNotReady indicates the client has no live platform session.
var ErrNotReady = errors.New("chat client not ready")

// ErrChannelNotFound indicates the requested channel does not exist or is
// not a text channel.
var ErrChannelNotFound = errors.New("channel not found")

// ErrMessageNotFound indicates the requested message does not exist.
var ErrMessageNotFound = errors.New("message not found")

// Channel is a text channel visible to the bot.
type Channel struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Role is a guild role.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// User identifies the platform user behind an event or interaction.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Tag      string `json:"tag"`
}

// EmbedField is one name/value pair inside an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Embed is the rich-content block attached to a message.
type Embed struct {
	Title        string       `json:"title,omitempty"`
	URL          string       `json:"url,omitempty"`
	Description  string       `json:"description,omitempty"`
	Color        string       `json:"color,omitempty"`
	Timestamp    string       `json:"timestamp,omitempty"`
	FooterText   string       `json:"footerText,omitempty"`
	FooterIcon   string       `json:"footerIcon,omitempty"`
	ImageURL     string       `json:"imageUrl,omitempty"`
	ThumbnailURL string       `json:"thumbnailUrl,omitempty"`
	AuthorName   string       `json:"authorName,omitempty"`
	AuthorIcon   string       `json:"authorIcon,omitempty"`
	AuthorURL    string       `json:"authorUrl,omitempty"`
	Fields       []EmbedField `json:"fields,omitempty"`
}

// Button is one interactive button on a message.
type Button struct {
	Label    string `json:"label"`
	Value    string `json:"value"`
	Style    int    `json:"style,omitempty"`
	Emoji    string `json:"emoji,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// SelectOption is one entry of a select menu.
type SelectOption struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	Emoji       string `json:"emoji,omitempty"`
	Default     bool   `json:"default,omitempty"`
}

// Components describes the interactive rows attached to a message. Only the
// selection values and message identity matter to discgate; layout belongs
// to the platform library.
type Components struct {
	Buttons           []Button       `json:"buttons,omitempty"`
	ButtonRows        int            `json:"buttonRows,omitempty"`
	ButtonPlaceholder string         `json:"buttonPlaceholder,omitempty"`
	Select            []SelectOption `json:"select,omitempty"`
	SelectPlaceholder string         `json:"selectPlaceholder,omitempty"`
	MinValues         int            `json:"minValues,omitempty"`
	MaxValues         int            `json:"maxValues,omitempty"`
}

// SendOptions is everything needed to post or edit a message.
type SendOptions struct {
	Content    string      `json:"content"`
	Embed      *Embed      `json:"embed,omitempty"`
	Components *Components `json:"components,omitempty"`
	FileURLs   []string    `json:"fileUrls,omitempty"`
}

// MessageRef identifies a posted message.
type MessageRef struct {
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
}

// CommandSpec is the bulk-registration shape of one slash command.
type CommandSpec struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	FieldType        string `json:"fieldType,omitempty"` // text, number, integer, boolean
	FieldDescription string `json:"fieldDescription,omitempty"`
	FieldRequired    bool   `json:"fieldRequired,omitempty"`
}

// Presence is the bot's own presence update.
type Presence struct {
	Activity     string `json:"activity"`
	ActivityType int    `json:"activityType"`
	Status       string `json:"status"`
}

// Client is the platform connection discgate drives. Implementations wrap
// the real platform library; tests use Fake.
//
// A single guild is assumed: channel and role listings, role mutations, and
// command registration all act on the first guild the session serves.
type Client interface {
	// Login establishes the platform session for the given bot token.
	Login(ctx context.Context, token string) error

	// BotUserID reports the logged-in bot's user id, empty before login.
	BotUserID() string

	Channels(ctx context.Context) ([]Channel, error)
	Roles(ctx context.Context) ([]Role, error)

	SendMessage(ctx context.Context, channelID string, opts SendOptions) (MessageRef, error)
	EditMessage(ctx context.Context, channelID, messageID string, opts SendOptions) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	FetchMessage(ctx context.Context, channelID, messageID string) (MessageRef, error)

	BulkDelete(ctx context.Context, channelID string, count int) error
	AddRole(ctx context.Context, userID, roleID, reason string) error
	RemoveRole(ctx context.Context, userID, roleID, reason string) error

	ReplaceCommands(ctx context.Context, specs []CommandSpec) error
	SetPresence(ctx context.Context, p Presence) error
}
