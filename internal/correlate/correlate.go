// ABOUTME: Correlation engine: execution, placeholder, and waiting tables with lifecycle rules.
// ABOUTME: Resolves races between placeholder animation, finalize/delete, and status polling.

package correlate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowhook/discgate/internal/chat"
	"github.com/flowhook/discgate/internal/registry"
	"github.com/flowhook/discgate/internal/webhook"
)

// finalizeRetryBudget bounds how long a finalizer waits for the animation
// loop to yield before proceeding anyway.
const finalizeRetryBudget = 10

// Poster delivers dispatched events to the workflow engine.
type Poster interface {
	Post(ctx context.Context, baseURL, webhookID string, payload webhook.Payload) error
}

// StatusChecker asks the workflow engine whether an execution completed.
type StatusChecker interface {
	Finished(ctx context.Context, baseURL, executionID, apiKey string) (bool, error)
}

// Messenger is the chat subset placeholders need.
type Messenger interface {
	SendMessage(ctx context.Context, channelID string, opts chat.SendOptions) (chat.MessageRef, error)
	EditMessage(ctx context.Context, channelID, messageID string, opts chat.SendOptions) error
}

// ExecutionMatch correlates one in-flight workflow execution to its chat
// context.
type ExecutionMatch struct {
	ExecutionID   string
	ChannelID     string
	UserID        string
	PlaceholderID string
}

// Engine owns the correlation tables. The gateway process is its only
// caller; execution contexts reach it exclusively through link messages.
type Engine struct {
	poster    Poster
	status    StatusChecker
	messenger Messenger
	logger    *slog.Logger

	tick         time.Duration // placeholder animation interval
	retryDelay   time.Duration // finalize retry spacing
	pollInterval time.Duration // execution status poll spacing

	mu         sync.Mutex
	executions map[string]ExecutionMatch
	targets    map[string]string // placeholderID -> real message id
	waiting    map[string]bool   // placeholderID -> animation still editing
}

// Config bundles the Engine timings.
type Config struct {
	PlaceholderTick    time.Duration
	FinalizeRetryDelay time.Duration
	StatusPollInterval time.Duration
}

// NewEngine creates an Engine. Zero timings take the production defaults.
func NewEngine(poster Poster, status StatusChecker, messenger Messenger, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PlaceholderTick == 0 {
		cfg.PlaceholderTick = 800 * time.Millisecond
	}
	if cfg.FinalizeRetryDelay == 0 {
		cfg.FinalizeRetryDelay = 300 * time.Millisecond
	}
	if cfg.StatusPollInterval == 0 {
		cfg.StatusPollInterval = 3 * time.Second
	}
	return &Engine{
		poster:       poster,
		status:       status,
		messenger:    messenger,
		logger:       logger.With("component", "correlate"),
		tick:         cfg.PlaceholderTick,
		retryDelay:   cfg.FinalizeRetryDelay,
		pollInterval: cfg.StatusPollInterval,
		executions:   make(map[string]ExecutionMatch),
		targets:      make(map[string]string),
		waiting:      make(map[string]bool),
	}
}

// Dispatch posts one matched event to the workflow engine. When the trigger
// wants a placeholder, a correlation id is generated, carried in the payload,
// and a placeholder message is started after a successful post. Returns
// whether the post succeeded; the caller deactivates the trigger on failure.
func (e *Engine) Dispatch(ctx context.Context, t registry.Trigger, baseURL string, payload webhook.Payload) bool {
	placeholderID := ""
	if t.Placeholder != "" {
		placeholderID = uuid.New().String()
		payload.PlaceholderID = placeholderID
	}

	if err := e.poster.Post(ctx, baseURL, t.ID, payload); err != nil {
		e.logger.Warn("dispatch failed", "trigger_id", t.ID, "error", err)
		return false
	}

	if placeholderID != "" && payload.ChannelID != "" {
		e.StartPlaceholder(ctx, payload.ChannelID, t.Placeholder, placeholderID)
	}
	return true
}

// BeginExecution inserts an ExecutionMatch for a newly announced execution.
func (e *Engine) BeginExecution(executionID, channelID, userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executions[executionID] = ExecutionMatch{
		ExecutionID: executionID,
		ChannelID:   channelID,
		UserID:      userID,
	}
}

// AttachPlaceholder records the placeholder correlation id on an existing
// execution. Unknown executions are a silent no-op: the execution may have
// already completed.
func (e *Engine) AttachPlaceholder(executionID, placeholderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.executions[executionID]
	if !ok {
		return
	}
	m.PlaceholderID = placeholderID
	e.executions[executionID] = m
}

// Execution returns the match for an execution id.
func (e *Engine) Execution(executionID string) (ExecutionMatch, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.executions[executionID]
	return m, ok
}

// DeleteExecution drops the match for an execution id.
func (e *Engine) DeleteExecution(executionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.executions, executionID)
}

// ResolvePlaceholderTarget maps a placeholder correlation id to the real
// message it animates.
func (e *Engine) ResolvePlaceholderTarget(placeholderID string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.targets[placeholderID]
	return id, ok
}

// Waiting reports whether the animation loop still owns the message.
func (e *Engine) Waiting(placeholderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.waiting[placeholderID]
}

// FinalizePlaceholder claims a placeholder for mutation. The table entry is
// removed first, so a second concurrent finalizer finds nothing and cannot
// double-act; the animation loop notices the removal and yields. The call
// then waits for the loop to yield, bounded by the retry budget, and
// proceeds anyway once the budget is spent so a stuck animator cannot
// deadlock the caller. Returns the real message id to mutate.
func (e *Engine) FinalizePlaceholder(ctx context.Context, placeholderID string) (string, bool) {
	e.mu.Lock()
	realID, ok := e.targets[placeholderID]
	if ok {
		delete(e.targets, placeholderID)
	}
	e.mu.Unlock()

	if !ok {
		return "", false
	}

	for attempt := 0; attempt < finalizeRetryBudget && e.Waiting(placeholderID); attempt++ {
		select {
		case <-ctx.Done():
			return realID, true
		case <-time.After(e.retryDelay):
		}
	}
	if e.Waiting(placeholderID) {
		e.logger.Warn("placeholder still animating after retry budget, proceeding", "placeholder_id", placeholderID)
	}
	return realID, true
}

// StartPlaceholder posts the placeholder message and runs its animation
// loop: an appended-dots cycle re-editing the message every tick. The loop
// re-checks its table entry on every tick and exits cleanly once the entry
// disappears, restoring the base text and clearing the waiting flag.
func (e *Engine) StartPlaceholder(ctx context.Context, channelID, text, placeholderID string) {
	ref, err := e.messenger.SendMessage(ctx, channelID, chat.SendOptions{Content: text})
	if err != nil {
		e.logger.Warn("placeholder send failed", "channel_id", channelID, "error", err)
		return
	}

	e.mu.Lock()
	e.targets[placeholderID] = ref.MessageID
	e.waiting[placeholderID] = true
	e.mu.Unlock()

	go e.animate(ctx, channelID, ref.MessageID, text, placeholderID)
}

func (e *Engine) animate(ctx context.Context, channelID, messageID, text, placeholderID string) {
	defer func() {
		e.messenger.EditMessage(ctx, channelID, messageID, chat.SendOptions{Content: text})
		e.mu.Lock()
		delete(e.waiting, placeholderID)
		e.mu.Unlock()
	}()

	dots := 0
	for {
		if _, alive := e.ResolvePlaceholderTarget(placeholderID); !alive {
			return
		}

		dots++
		if dots > 3 {
			dots = 0
		}
		content := text
		for i := 0; i < dots; i++ {
			content += "."
		}
		e.messenger.EditMessage(ctx, channelID, messageID, chat.SendOptions{Content: content})

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.tick):
		}
	}
}

// PollExecution watches an execution until the workflow engine reports it
// finished (or errors), then drops both the placeholder and the execution
// entries. Each cycle schedules exactly one pending wait, and the loop ends
// the moment the placeholder target disappears.
func (e *Engine) PollExecution(ctx context.Context, executionID, placeholderID, baseURL, apiKey string) {
	go func() {
		for {
			done, err := e.status.Finished(ctx, baseURL, executionID, apiKey)
			if err != nil {
				e.logger.Debug("execution status poll failed", "execution_id", executionID, "error", err)
			}
			if done {
				e.mu.Lock()
				delete(e.targets, placeholderID)
				delete(e.executions, executionID)
				e.mu.Unlock()
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(e.pollInterval):
			}

			if _, alive := e.ResolvePlaceholderTarget(placeholderID); !alive {
				return
			}
		}
	}()
}
