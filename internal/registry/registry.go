// ABOUTME: Registry of workflow triggers with a derived per-channel dispatch index.
// ABOUTME: Index rebuilds are copy-then-swap so readers never see a half-built list.

package registry

import (
	"log/slog"
	"sync"
)

// Trigger kinds.
const (
	KindMessage         = "message"
	KindMessageUpdate   = "message_update"
	KindThreadCreate    = "thread_create"
	KindThreadUpdate    = "thread_update"
	KindUserJoins       = "user_joins"
	KindUserRoleAdded   = "user_role_added"
	KindUserRoleRemoved = "user_role_removed"
	KindUserNickUpdated = "user_nick_updated"
	KindPresence        = "presence"
	KindCommand         = "command"
	KindInteraction     = "interaction"
)

// ChannelAll is the sentinel bucket matching every channel.
const ChannelAll = "all"

// Trigger is one registered workflow trigger. Values are immutable once
// inserted; mutation happens by re-upserting a fresh value.
type Trigger struct {
	ID            string
	Kind          string
	ChannelIDs    []string
	RoleIDs       []string
	RoleUpdateIDs []string

	// Message matching
	Pattern       string
	Value         string
	CaseSensitive bool
	BotMention    bool

	// Command registration
	Name                 string
	Description          string
	CommandFieldType     string
	CommandFieldDesc     string
	CommandFieldRequired bool

	// Interaction matching
	InteractionMessageID string

	// Presence matching ("any" accepts every status)
	Presence string

	Placeholder string
	Active      bool
}

// Registry holds all known triggers and the channel index derived from the
// active ones. Inactive triggers stay registered (a later upsert may
// reactivate them) but never appear in the index.
type Registry struct {
	logger *slog.Logger

	// onCommandChange fires after any mutation that touched a command-kind
	// trigger, active or not. The debouncer hangs off this hook.
	onCommandChange func()

	mu       sync.RWMutex
	triggers map[string]Trigger
	index    map[string][]Trigger
}

// New creates an empty Registry. onCommandChange may be nil.
func New(logger *slog.Logger, onCommandChange func()) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:          logger.With("component", "registry"),
		onCommandChange: onCommandChange,
		triggers:        make(map[string]Trigger),
		index:           make(map[string][]Trigger),
	}
}

// Upsert inserts or replaces the trigger with the same id and rebuilds the
// channel index. An empty channel set normalizes to the "all" bucket.
func (r *Registry) Upsert(t Trigger) {
	if len(t.ChannelIDs) == 0 {
		t.ChannelIDs = []string{ChannelAll}
	}

	r.mu.Lock()
	r.triggers[t.ID] = t
	r.rebuildLocked()
	r.mu.Unlock()

	r.logger.Debug("trigger upserted", "id", t.ID, "kind", t.Kind, "active", t.Active)

	if t.Kind == KindCommand && r.onCommandChange != nil {
		r.onCommandChange()
	}
}

// Deactivate marks the trigger inactive and rebuilds the index. Used after a
// delivery failure so a broken workflow stops being invoked. Unknown ids are
// ignored.
func (r *Registry) Deactivate(id string) {
	r.mu.Lock()
	t, ok := r.triggers[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	t.Active = false
	r.triggers[id] = t
	r.rebuildLocked()
	r.mu.Unlock()

	r.logger.Warn("trigger deactivated", "id", id, "kind", t.Kind)

	if t.Kind == KindCommand && r.onCommandChange != nil {
		r.onCommandChange()
	}
}

// rebuildLocked derives a fresh channel index from the trigger set and swaps
// it in whole. Must be called with mu held for writing.
func (r *Registry) rebuildLocked() {
	index := make(map[string][]Trigger)
	for _, t := range r.triggers {
		if !t.Active {
			continue
		}
		for _, ch := range t.ChannelIDs {
			index[ch] = append(index[ch], t)
		}
	}
	r.index = index
}

// Get returns the trigger with the given id.
func (r *Registry) Get(id string) (Trigger, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.triggers[id]
	return t, ok
}

// CandidatesFor returns the active triggers relevant to a channel: its
// literal bucket followed by the "all" bucket. The returned slice is a
// snapshot safe to iterate while the index is rebuilt.
func (r *Registry) CandidatesFor(channelID string) []Trigger {
	r.mu.RLock()
	index := r.index
	r.mu.RUnlock()

	literal := index[channelID]
	all := index[ChannelAll]

	out := make([]Trigger, 0, len(literal)+len(all))
	out = append(out, literal...)
	if channelID != ChannelAll {
		out = append(out, all...)
	}
	return out
}

// AllActive returns every active trigger across all channels, deduplicated.
func (r *Registry) AllActive() []Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Trigger, 0, len(r.triggers))
	for _, t := range r.triggers {
		if t.Active {
			out = append(out, t)
		}
	}
	return out
}

// ActiveCommands returns the active command-kind triggers, the input to a
// bulk registration flush.
func (r *Registry) ActiveCommands() []Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Trigger
	for _, t := range r.triggers {
		if t.Active && t.Kind == KindCommand {
			out = append(out, t)
		}
	}
	return out
}

// Channels returns the channel ids currently present in the index,
// including the "all" bucket when any trigger uses it.
func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.index))
	for ch := range r.index {
		out = append(out, ch)
	}
	return out
}
