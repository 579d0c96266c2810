// ABOUTME: Execution-context facade over the gateway link.
// ABOUTME: Typed operations with call budgets; listing timeouts degrade to empty results.

package client

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/flowhook/discgate/internal/link"
)

// ErrMissingCredentials indicates the gateway refused a login because token
// or client id was absent.
var ErrMissingCredentials = errors.New("credentials missing")

// ErrLoginFailed indicates the gateway's platform login settled with an
// error verdict.
var ErrLoginFailed = errors.New("platform login failed")

// Connection is one execution context's typed view of the gateway.
type Connection struct {
	link   *link.Client
	logger *slog.Logger

	connectTimeout time.Duration
	listTimeout    time.Duration
}

// Connect dials the gateway link at addr, retrying until the gateway process
// exists or ctx expires.
func Connect(ctx context.Context, addr string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lc, err := link.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return &Connection{
		link:           lc,
		logger:         logger.With("component", "client"),
		connectTimeout: link.ConnectTimeout,
		listTimeout:    link.ListTimeout,
	}, nil
}

// Close tears down the link connection.
func (c *Connection) Close() error {
	return c.link.Close()
}

// EnsureLogin hands credentials to the gateway and waits for the session to
// settle. The immediate verdict decides the wait: a fresh login blocks until
// the terminal verdict is pushed; an established or in-flight session
// returns at once.
func (c *Connection) EnsureLogin(ctx context.Context, creds link.Credentials) (string, error) {
	// Subscribe before asking so the terminal push cannot slip past.
	pushes := c.link.Pushes(link.SubjectCredentials)

	reqCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	var res link.CredentialsResult
	if err := c.link.Request(reqCtx, link.SubjectCredentials, creds, &res); err != nil {
		return "", err
	}

	switch res.Verdict {
	case link.VerdictMissing:
		return res.Verdict, ErrMissingCredentials
	case link.VerdictAlready, link.VerdictReady, link.VerdictDifferent:
		return res.Verdict, nil
	case link.VerdictLogin:
		return c.awaitLoginVerdict(ctx, pushes)
	default:
		return res.Verdict, errors.New("unknown login verdict " + res.Verdict)
	}
}

func (c *Connection) awaitLoginVerdict(ctx context.Context, pushes <-chan json.RawMessage) (string, error) {
	timer := time.NewTimer(c.connectTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
			return "", link.ErrRequestTimeout
		case raw, ok := <-pushes:
			if !ok {
				return "", link.ErrClosed
			}
			var res link.CredentialsResult
			if err := json.Unmarshal(raw, &res); err != nil {
				continue
			}
			switch res.Verdict {
			case link.VerdictReady:
				return res.Verdict, nil
			case link.VerdictError:
				return res.Verdict, ErrLoginFailed
			}
			// Ignore intermediate pushes meant for other callers.
		}
	}
}

// Channels lists the text channels the bot can see. A timed-out gateway
// degrades to an empty list so editor dropdowns render instead of erroring.
func (c *Connection) Channels(ctx context.Context) ([]link.ListEntry, error) {
	return c.list(ctx, link.SubjectChannels)
}

// Roles lists the guild roles, without @everyone.
func (c *Connection) Roles(ctx context.Context) ([]link.ListEntry, error) {
	return c.list(ctx, link.SubjectRoles)
}

func (c *Connection) list(ctx context.Context, subject string) ([]link.ListEntry, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	var entries []link.ListEntry
	err := c.link.Request(reqCtx, subject, nil, &entries)
	if errors.Is(err, link.ErrRequestTimeout) {
		c.logger.Warn("listing timed out", "subject", subject)
		return []link.ListEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []link.ListEntry{}
	}
	return entries, nil
}

// UpsertTrigger registers or replaces one workflow trigger.
func (c *Connection) UpsertTrigger(ctx context.Context, up link.TriggerUpsert) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()
	return c.link.Request(reqCtx, link.SubjectTrigger, up, nil)
}

// NotifyExecution announces an in-flight workflow execution.
func (c *Connection) NotifyExecution(ctx context.Context, notice link.ExecutionNotice) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()
	return c.link.Request(reqCtx, link.SubjectExecution, notice, nil)
}

// SendMessage posts a message through the shared session.
func (c *Connection) SendMessage(ctx context.Context, params link.MessageParams) (link.MessageResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	var res link.MessageResult
	err := c.link.Request(reqCtx, link.SubjectMessage, params, &res)
	return res, err
}

// SendPrompt posts an interactive prompt and blocks until a human answers,
// the prompt times out, or (persistent prompts) the message is armed. The
// wait budget derives from the prompt's own timeout.
func (c *Connection) SendPrompt(ctx context.Context, params link.PromptParams) (link.PromptResult, error) {
	reqCtx := ctx
	if params.TimeoutSeconds > 0 {
		budget := time.Duration(params.TimeoutSeconds)*time.Second + c.connectTimeout
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	var res link.PromptResult
	err := c.link.Request(reqCtx, link.SubjectPrompt, params, &res)
	return res, err
}

// SendAction runs a moderation action through the shared session.
func (c *Connection) SendAction(ctx context.Context, params link.ActionParams) (link.ActionResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	var res link.ActionResult
	err := c.link.Request(reqCtx, link.SubjectAction, params, &res)
	return res, err
}

// SetBotStatus updates the bot presence. Fire-and-forget: a write failure is
// the only reportable error.
func (c *Connection) SetBotStatus(params link.StatusParams) error {
	return c.link.Notify(link.SubjectBotStatus, params)
}

// Health asks the gateway for its session state.
func (c *Connection) Health(ctx context.Context) (link.HealthResult, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	var res link.HealthResult
	err := c.link.Request(reqCtx, link.SubjectHealth, nil, &res)
	return res, err
}

// RecentLogs fetches the most recent gateway activity log lines.
func (c *Connection) RecentLogs(ctx context.Context, limit int) ([]link.LogEntry, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	var entries []link.LogEntry
	err := c.link.Request(reqCtx, link.SubjectLogs, link.LogsRequest{Limit: limit}, &entries)
	return entries, err
}
