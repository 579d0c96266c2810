// ABOUTME: Closed tagged union of platform events consumed by the router.
// ABOUTME: One variant per trigger kind, produced by the platform adapter.

package chat

// Event is the closed union of platform events. The adapter at the platform
// boundary converts raw library payloads into exactly one of the variants
// below; the router never sees untyped payloads.
type Event interface {
	isEvent()
}

// MessageEvent covers new messages and message edits.
type MessageEvent struct {
	ChannelID   string
	MessageID   string
	Content     string
	Author      User
	AuthorBot   bool
	MentionsBot bool
	UserRoles   []string
	Edited      bool
}

// ThreadEvent covers thread creation and thread updates. ParentID is the
// channel the thread hangs off; ThreadID is the thread itself.
type ThreadEvent struct {
	ParentID string
	ThreadID string
	Name     string
	Updated  bool
}

// MemberJoinEvent fires when a user joins the guild.
type MemberJoinEvent struct {
	User     User
	SystemID bool
}

// MemberUpdateEvent covers role grants/revocations and nickname changes.
type MemberUpdateEvent struct {
	User          User
	PreviousRoles []string
	AddedRoles    []string
	RemovedRoles  []string
	PreviousNick  string
	Nick          string
}

// PresenceEvent fires when a guild member's presence changes.
type PresenceEvent struct {
	GuildID   string
	User      User
	Status    string
	UserRoles []string
}

// CommandEvent fires when a slash command is invoked.
type CommandEvent struct {
	ChannelID string
	Name      string
	Input     string
	User      User
	UserRoles []string
}

// ComponentEvent fires when a button or select menu on a message is used.
type ComponentEvent struct {
	ChannelID string
	MessageID string
	Values    []string
	IsSelect  bool
	User      User
	UserRoles []string
}

func (MessageEvent) isEvent()      {}
func (ThreadEvent) isEvent()       {}
func (MemberJoinEvent) isEvent()   {}
func (MemberUpdateEvent) isEvent() {}
func (PresenceEvent) isEvent()     {}
func (CommandEvent) isEvent()      {}
func (ComponentEvent) isEvent()    {}
