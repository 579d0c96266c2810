// ABOUTME: Gateway orchestrator wiring session, registry, router, correlation,
// ABOUTME: prompts, command registration, and the link server into one process.

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowhook/discgate/internal/chat"
	"github.com/flowhook/discgate/internal/commands"
	"github.com/flowhook/discgate/internal/config"
	"github.com/flowhook/discgate/internal/correlate"
	"github.com/flowhook/discgate/internal/link"
	"github.com/flowhook/discgate/internal/prompt"
	"github.com/flowhook/discgate/internal/registry"
	"github.com/flowhook/discgate/internal/router"
	"github.com/flowhook/discgate/internal/session"
	"github.com/flowhook/discgate/internal/store"
	"github.com/flowhook/discgate/internal/webhook"
)

// ActivityStore is the persistence slice the gateway writes to. Nil disables
// activity recording.
type ActivityStore interface {
	RecentLogs(ctx context.Context, limit int) ([]store.LogEntry, error)
	RecordDispatch(ctx context.Context, r store.DispatchRecord) error
}

// Gateway owns the singleton platform session and every table derived from
// it. Execution contexts reach it exclusively through the link server.
type Gateway struct {
	cfg      *config.Config
	client   chat.Client
	logger   *slog.Logger
	activity ActivityStore

	session   *session.Manager
	registry  *registry.Registry
	router    *router.Router
	engine    *correlate.Engine
	prompts   *prompt.Table
	debouncer *commands.Debouncer
	link      *link.Server

	// promptTick paces prompt countdown edits; tests shrink it.
	promptTick time.Duration

	// runCtx outlives individual link requests; background work started by a
	// handler (login, polling, placeholder animation) hangs off it.
	runMu  sync.Mutex
	runCtx context.Context

	mu      sync.Mutex
	baseURL string
	apiKey  string
}

// New wires a Gateway around the given platform client. The activity store
// may be nil.
func New(cfg *config.Config, client chat.Client, activity ActivityStore, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		cfg:        cfg,
		client:     client,
		logger:     logger.With("component", "gateway"),
		activity:   activity,
		prompts:    prompt.NewTable(),
		promptTick: time.Second,
		runCtx:     context.Background(),
	}

	// The hook reads g.debouncer at call time, so construction order is safe.
	g.registry = registry.New(logger, func() {
		if g.debouncer != nil {
			g.debouncer.Schedule()
		}
	})
	g.debouncer = commands.New(client, g.registry, cfg.Timing.CommandDebounce, logger)

	g.session = session.NewManager(client, logger, func(token, clientID string) {
		// Fresh session: push the current command set immediately.
		g.debouncer.FlushNow(g.runContext())
	})

	poster := webhook.NewPoster(cfg.Workflow.TestMode, logger)
	g.engine = correlate.NewEngine(poster, webhook.NewStatusClient(), client, correlate.Config{
		PlaceholderTick:    cfg.Timing.PlaceholderTick,
		FinalizeRetryDelay: cfg.Timing.FinalizeRetryDelay,
		StatusPollInterval: cfg.Timing.StatusPollInterval,
	}, logger)

	g.router = router.New(g.registry, &auditingDispatcher{g: g}, g.currentBaseURL, cfg.Workflow.TestMode, logger)

	g.link = link.NewServer(logger)
	g.registerHandlers()

	return g
}

// Run serves the link until the context is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	g.runMu.Lock()
	g.runCtx = ctx
	g.runMu.Unlock()

	g.logger.Info("gateway starting", "link_addr", g.cfg.Link.Addr)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		err := g.link.Serve(ctx, g.cfg.Link.Addr)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err := eg.Wait()
	g.debouncer.CancelPending()
	g.logger.Info("gateway stopped")
	return err
}

// Link exposes the link server, for embedding its handler in tests.
func (g *Gateway) Link() *link.Server {
	return g.link
}

// Registry exposes the trigger registry.
func (g *Gateway) Registry() *registry.Registry {
	return g.registry
}

// Engine exposes the correlation engine.
func (g *Gateway) Engine() *correlate.Engine {
	return g.engine
}

// HandleEvent feeds one platform event through the gateway. Component
// interactions are offered to the prompt table first; everything else, and
// interactions no prompt claims, goes to the trigger router. Returns the
// number of trigger dispatches.
func (g *Gateway) HandleEvent(ctx context.Context, ev chat.Event) int {
	if ce, ok := ev.(chat.ComponentEvent); ok {
		if g.respondToPrompt(ce) {
			return 0
		}
	}
	return g.router.HandleEvent(ctx, ev)
}

// respondToPrompt records a component interaction against a pending prompt.
// Returns false when no prompt owns the message, leaving the event to the
// trigger router.
func (g *Gateway) respondToPrompt(ce chat.ComponentEvent) bool {
	p, ok := g.prompts.Get(ce.MessageID)
	if !ok {
		return false
	}

	if p.RestrictToTriggeringUser {
		if m, found := g.engine.Execution(p.ExecutionID); found && m.UserID != "" && m.UserID != ce.User.ID {
			g.logger.Debug("prompt response from non-triggering user ignored", "message_id", ce.MessageID, "user_id", ce.User.ID)
			return true
		}
	}
	if p.RestrictToRoles && !p.AllowsRoles(ce.UserRoles) {
		g.logger.Debug("prompt response lacking required role ignored", "message_id", ce.MessageID, "user_id", ce.User.ID)
		return true
	}

	value := strings.Join(ce.Values, ",")
	if g.prompts.Respond(ce.MessageID, value, ce.User) {
		g.logger.Info("prompt answered", "message_id", ce.MessageID, "user_id", ce.User.ID)
	}
	return true
}

func (g *Gateway) runContext() context.Context {
	g.runMu.Lock()
	defer g.runMu.Unlock()
	return g.runCtx
}

// currentBaseURL prefers the base URL announced by the most recent trigger or
// credentials message, falling back to the configured one.
func (g *Gateway) currentBaseURL() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.baseURL != "" {
		return g.baseURL
	}
	return g.cfg.Workflow.BaseURL
}

func (g *Gateway) currentAPIKey() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.apiKey
}

// noteWorkflowEngine records the engine coordinates carried on credentials
// and trigger messages.
func (g *Gateway) noteWorkflowEngine(baseURL, apiKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if baseURL != "" {
		g.baseURL = baseURL
	}
	if apiKey != "" {
		g.apiKey = apiKey
	}
}

// auditingDispatcher wraps the correlation engine's dispatch with the
// activity store's audit trail.
type auditingDispatcher struct {
	g *Gateway
}

func (d *auditingDispatcher) Dispatch(ctx context.Context, t registry.Trigger, baseURL string, payload webhook.Payload) bool {
	delivered := d.g.engine.Dispatch(ctx, t, baseURL, payload)
	if d.g.activity != nil {
		_ = d.g.activity.RecordDispatch(ctx, store.DispatchRecord{
			TriggerID:     t.ID,
			Kind:          t.Kind,
			ChannelID:     payload.ChannelID,
			PlaceholderID: payload.PlaceholderID,
			Delivered:     delivered,
		})
	}
	return delivered
}
