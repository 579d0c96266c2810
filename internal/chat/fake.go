// ABOUTME: Mock Client implementation for testing
// ABOUTME: Records calls and serves scripted channels, roles, and messages

package chat

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Client implementation for testing. It records every
// mutating call and assigns sequential message ids.
type Fake struct {
	mu sync.Mutex

	LoginErr   error
	LoginCount int
	LastToken  string
	BotID      string

	ChannelList []Channel
	RoleList    []Role

	SendErr  error
	nextID   int
	Sent     []MessageRef
	SentOpts map[string]SendOptions // messageID -> last send/edit opts
	Edits    []MessageRef
	Deletes  []MessageRef
	Fetches  []MessageRef

	BulkDeletes   []int
	RoleAdds      []string // "userID:roleID"
	RoleRemoves   []string
	CommandCalls  [][]CommandSpec
	PresenceCalls []Presence
}

// NewFake creates a Fake with empty scripted data.
func NewFake() *Fake {
	return &Fake{
		BotID:    "bot-1",
		SentOpts: make(map[string]SendOptions),
	}
}

func (f *Fake) Login(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LoginCount++
	f.LastToken = token
	return f.LoginErr
}

func (f *Fake) BotUserID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.BotID
}

func (f *Fake) Channels(ctx context.Context) ([]Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Channel(nil), f.ChannelList...), nil
}

func (f *Fake) Roles(ctx context.Context) ([]Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Role(nil), f.RoleList...), nil
}

func (f *Fake) SendMessage(ctx context.Context, channelID string, opts SendOptions) (MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return MessageRef{}, f.SendErr
	}
	f.nextID++
	ref := MessageRef{ChannelID: channelID, MessageID: fmt.Sprintf("msg-%d", f.nextID)}
	f.Sent = append(f.Sent, ref)
	f.SentOpts[ref.MessageID] = opts
	return ref, nil
}

func (f *Fake) EditMessage(ctx context.Context, channelID, messageID string, opts SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Edits = append(f.Edits, MessageRef{ChannelID: channelID, MessageID: messageID})
	f.SentOpts[messageID] = opts
	return nil
}

func (f *Fake) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deletes = append(f.Deletes, MessageRef{ChannelID: channelID, MessageID: messageID})
	return nil
}

func (f *Fake) FetchMessage(ctx context.Context, channelID, messageID string) (MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Fetches = append(f.Fetches, MessageRef{ChannelID: channelID, MessageID: messageID})
	if _, ok := f.SentOpts[messageID]; !ok {
		return MessageRef{}, ErrMessageNotFound
	}
	return MessageRef{ChannelID: channelID, MessageID: messageID}, nil
}

func (f *Fake) BulkDelete(ctx context.Context, channelID string, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BulkDeletes = append(f.BulkDeletes, count)
	return nil
}

func (f *Fake) AddRole(ctx context.Context, userID, roleID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RoleAdds = append(f.RoleAdds, userID+":"+roleID)
	return nil
}

func (f *Fake) RemoveRole(ctx context.Context, userID, roleID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RoleRemoves = append(f.RoleRemoves, userID+":"+roleID)
	return nil
}

func (f *Fake) ReplaceCommands(ctx context.Context, specs []CommandSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CommandCalls = append(f.CommandCalls, append([]CommandSpec(nil), specs...))
	return nil
}

func (f *Fake) SetPresence(ctx context.Context, p Presence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PresenceCalls = append(f.PresenceCalls, p)
	return nil
}

// EditCount reports how many edits were applied to the given message.
func (f *Fake) EditCount(messageID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.Edits {
		if e.MessageID == messageID {
			n++
		}
	}
	return n
}

// LastOpts returns the most recent send/edit options for a message.
func (f *Fake) LastOpts(messageID string) (SendOptions, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	opts, ok := f.SentOpts[messageID]
	return opts, ok
}
