// ABOUTME: Prompt lifecycle table: Pending -> Answered -> Consumed, or Pending -> TimedOut.
// ABOUTME: Late responses after a terminal transition are ignored by the value-still-nil guard.

package prompt

import (
	"sync"

	"github.com/flowhook/discgate/internal/chat"
)

// Prompt is one interactive message awaiting a human response. A Prompt is
// Pending while Value is nil and Answered once a response is recorded;
// removal via Take is the Consumed transition, removal via Delete the
// TimedOut one. Persistent prompts skip the timeout edge entirely and are
// read by a later Take.
type Prompt struct {
	ExecutionID string
	Content     string

	// Value is nil until a response is accepted. The first accepted
	// response is terminal; later attempts leave it untouched.
	Value *string

	Responder chat.User

	ChannelID string
	MessageID string

	RestrictToRoles          bool
	AllowedRoles             []string
	RestrictToTriggeringUser bool

	Buttons    []chat.Button
	Select     []chat.SelectOption
	Persistent bool
}

// Answered reports whether a response has been recorded.
func (p *Prompt) Answered() bool {
	return p.Value != nil
}

// FindLabel resolves a selection value to its display label.
func (p *Prompt) FindLabel(value string) (string, bool) {
	for _, b := range p.Buttons {
		if b.Value == value {
			return b.Label, true
		}
	}
	for _, s := range p.Select {
		if s.Value == value {
			return s.Label, true
		}
	}
	return "", false
}

// AllowsRoles reports whether a responder holding userRoles passes the
// prompt's role restriction.
func (p *Prompt) AllowsRoles(userRoles []string) bool {
	if !p.RestrictToRoles || len(p.AllowedRoles) == 0 {
		return true
	}
	for _, allowed := range p.AllowedRoles {
		for _, held := range userRoles {
			if allowed == held {
				return true
			}
		}
	}
	return false
}

// Table holds the pending and answered prompts, keyed by the message id
// the interactive components hang on.
type Table struct {
	mu      sync.Mutex
	prompts map[string]*Prompt
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{prompts: make(map[string]*Prompt)}
}

// Create registers a prompt under its message id.
func (t *Table) Create(messageID string, p Prompt) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p.MessageID = messageID
	t.prompts[messageID] = &p
}

// Get returns a copy of the prompt for a message id.
func (t *Table) Get(messageID string) (Prompt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.prompts[messageID]
	if !ok {
		return Prompt{}, false
	}
	return *p, true
}

// Respond records a response if the prompt exists and is still Pending.
// Returns whether the response was accepted; a prompt already Answered,
// Consumed, or TimedOut ignores the attempt.
func (t *Table) Respond(messageID, value string, responder chat.User) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.prompts[messageID]
	if !ok || p.Value != nil {
		return false
	}
	v := value
	p.Value = &v
	p.Responder = responder
	return true
}

// Take consumes the prompt: the entry is removed and returned. This is the
// Consumed transition for answered prompts and the passive read for
// persistent ones.
func (t *Table) Take(messageID string) (Prompt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.prompts[messageID]
	if !ok {
		return Prompt{}, false
	}
	delete(t.prompts, messageID)
	return *p, true
}

// Delete removes the prompt without reading it, the TimedOut transition.
func (t *Table) Delete(messageID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.prompts, messageID)
}

// Len reports the number of live prompts.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.prompts)
}
