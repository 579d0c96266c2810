// ABOUTME: Wire protocol for the link between execution contexts and the gateway.
// ABOUTME: JSON frames over a local WebSocket; request, response, and push types.

package link

import "encoding/json"

// Frame types.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypePush     = "push"
)

// Subjects carried on the link. Request/response unless noted.
const (
	SubjectCredentials = "credentials"
	SubjectTrigger     = "trigger"
	SubjectExecution   = "execution"
	SubjectMessage     = "send:message"
	SubjectPrompt      = "send:prompt"
	SubjectAction      = "send:action"
	SubjectChannels    = "list:channels"
	SubjectRoles       = "list:roles"
	SubjectBotStatus   = "bot:status"
	SubjectLogs        = "logs:recent"
	SubjectHealth      = "health"
)

// Frame is the envelope for every link message. Requests carry an id the
// response echoes; pushes carry no id and are matched by subject.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Subject string          `json:"subject"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Credentials is the login request payload.
type Credentials struct {
	Token    string `json:"token"`
	ClientID string `json:"clientId"`
	APIKey   string `json:"apiKey,omitempty"`
	BaseURL  string `json:"baseUrl,omitempty"`
}

// Login verdicts answered on the credentials subject. The "login" verdict is
// followed by a push carrying the terminal "ready" or "error" once the
// asynchronous login settles.
const (
	VerdictMissing   = "missing"
	VerdictLogin     = "login"
	VerdictReady     = "ready"
	VerdictAlready   = "already"
	VerdictDifferent = "different"
	VerdictError     = "error"
)

// CredentialsResult answers the credentials subject and is reused for the
// follow-up push carrying the terminal verdict.
type CredentialsResult struct {
	Verdict string `json:"verdict"`
}

// TriggerUpsert mirrors one workflow trigger registration.
type TriggerUpsert struct {
	WebhookID            string       `json:"webhookId"`
	Kind                 string       `json:"type"`
	ChannelIDs           []string     `json:"channelIds,omitempty"`
	RoleIDs              []string     `json:"roleIds,omitempty"`
	RoleUpdateIDs        []string     `json:"roleUpdateIds,omitempty"`
	Pattern              string       `json:"pattern,omitempty"`
	Value                string       `json:"value,omitempty"`
	Name                 string       `json:"name,omitempty"`
	Description          string       `json:"description,omitempty"`
	CommandFieldType     string       `json:"commandFieldType,omitempty"`
	CommandFieldDesc     string       `json:"commandFieldDescription,omitempty"`
	CommandFieldRequired bool         `json:"commandFieldRequired,omitempty"`
	InteractionMessageID string       `json:"interactionMessageId,omitempty"`
	Placeholder          string       `json:"placeholder,omitempty"`
	BotMention           bool         `json:"botMention,omitempty"`
	CaseSensitive        bool         `json:"caseSensitive,omitempty"`
	Presence             string       `json:"presence,omitempty"`
	Active               bool         `json:"active"`
	BaseURL              string       `json:"baseUrl,omitempty"`
	Credentials          *Credentials `json:"credentials,omitempty"`
}

// ExecutionNotice registers an in-flight workflow execution.
type ExecutionNotice struct {
	ExecutionID   string `json:"executionId"`
	PlaceholderID string `json:"placeholderId,omitempty"`
	ChannelID     string `json:"channelId"`
	APIKey        string `json:"apiKey,omitempty"`
	BaseURL       string `json:"baseUrl"`
	UserID        string `json:"userId,omitempty"`
}

// MessageParams is the send:message request payload.
type MessageParams struct {
	ExecutionID        string   `json:"executionId,omitempty"`
	ChannelID          string   `json:"channelId,omitempty"`
	TriggerChannel     bool     `json:"triggerChannel,omitempty"`
	TriggerPlaceholder bool     `json:"triggerPlaceholder,omitempty"`
	Content            string   `json:"content,omitempty"`
	MentionRoles       []string `json:"mentionRoles,omitempty"`
	FileURLs           []string `json:"fileUrls,omitempty"`

	// Embed fields
	EmbedEnabled bool              `json:"embed,omitempty"`
	Title        string            `json:"title,omitempty"`
	URL          string            `json:"url,omitempty"`
	Description  string            `json:"description,omitempty"`
	Color        string            `json:"color,omitempty"`
	Timestamp    string            `json:"timestamp,omitempty"`
	FooterText   string            `json:"footerText,omitempty"`
	FooterIcon   string            `json:"footerIconUrl,omitempty"`
	ImageURL     string            `json:"imageUrl,omitempty"`
	ThumbnailURL string            `json:"thumbnailUrl,omitempty"`
	AuthorName   string            `json:"authorName,omitempty"`
	AuthorIcon   string            `json:"authorIconUrl,omitempty"`
	AuthorURL    string            `json:"authorUrl,omitempty"`
	Fields       []MessageField    `json:"fields,omitempty"`
}

// MessageField is one embed field of a send:message request.
type MessageField struct {
	Name   string `json:"name,omitempty"`
	Value  string `json:"value,omitempty"`
	Inline bool   `json:"inline,omitempty"`
}

// MessageResult answers send:message. Sent is false when delivery failed.
type MessageResult struct {
	Sent      bool   `json:"sent"`
	ChannelID string `json:"channelId,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

// PromptButton mirrors chat button options on the wire.
type PromptButton struct {
	Label    string `json:"label"`
	Value    string `json:"value"`
	Style    int    `json:"style,omitempty"`
	Emoji    string `json:"emoji,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

// PromptSelectOption mirrors chat select options on the wire.
type PromptSelectOption struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	Emoji       string `json:"emoji,omitempty"`
	Default     bool   `json:"default,omitempty"`
}

// PromptParams is the send:prompt request payload.
type PromptParams struct {
	ExecutionID              string               `json:"executionId"`
	ChannelID                string               `json:"channelId"`
	Content                  string               `json:"content"`
	TimeoutSeconds           int                  `json:"timeout,omitempty"`
	Persistent               bool                 `json:"persistent,omitempty"`
	RestrictToRoles          bool                 `json:"restrictToRoles,omitempty"`
	RestrictToTriggeringUser bool                 `json:"restrictToTriggeringUser,omitempty"`
	MentionRoles             []string             `json:"mentionRoles,omitempty"`
	Buttons                  []PromptButton       `json:"buttons,omitempty"`
	ButtonRows               int                  `json:"buttonsRow,omitempty"`
	Select                   []PromptSelectOption `json:"select,omitempty"`
	SelectPlaceholder        string               `json:"selectPlaceholder,omitempty"`
	MinValues                int                  `json:"minValues,omitempty"`
	MaxValues                int                  `json:"maxValues,omitempty"`
	ColorHex                 string               `json:"colorHex,omitempty"`
}

// PromptAnswer is the recorded human response inside a PromptResult.
type PromptAnswer struct {
	Value    string `json:"value"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	UserTag  string `json:"userTag"`
}

// PromptResult answers send:prompt. Exactly one of Response, Timeout, or
// Success (persistent prompts) is meaningful; Error carries failures.
type PromptResult struct {
	Response  *PromptAnswer `json:"response,omitempty"`
	Timeout   bool          `json:"timeout,omitempty"`
	Success   bool          `json:"success,omitempty"`
	MessageID string        `json:"messageId,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// ActionParams is the send:action request payload.
type ActionParams struct {
	ExecutionID          string   `json:"executionId,omitempty"`
	ChannelID            string   `json:"channelId,omitempty"`
	TriggerChannel       bool     `json:"triggerChannel,omitempty"`
	TriggerPlaceholder   bool     `json:"triggerPlaceholder,omitempty"`
	ActionType           string   `json:"actionType"` // removeMessages, addRole, removeRole
	RemoveMessagesNumber int      `json:"removeMessagesNumber,omitempty"`
	UserID               string   `json:"userId,omitempty"`
	RoleUpdateIDs        []string `json:"roleUpdateIds,omitempty"`
	AuditLogReason       string   `json:"auditLogReason,omitempty"`
}

// ActionResult answers send:action.
type ActionResult struct {
	Done      bool   `json:"done"`
	ChannelID string `json:"channelId,omitempty"`
	Action    string `json:"action,omitempty"`
}

// StatusParams is the bot:status fire-and-forget payload.
type StatusParams struct {
	Activity     string `json:"botActivity"`
	ActivityType int    `json:"botActivityType"`
	Status       string `json:"botStatus"`
}

// ListEntry is one channel or role in a listing response.
type ListEntry struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

// HealthResult answers the health subject.
type HealthResult struct {
	Status  string `json:"status"`
	Session string `json:"session"`
}

// LogsRequest asks for the most recent activity log entries.
type LogsRequest struct {
	Limit int `json:"limit,omitempty"`
}

// LogEntry is one activity log line.
type LogEntry struct {
	At      string `json:"at"`
	Level   string `json:"level"`
	Message string `json:"message"`
}
