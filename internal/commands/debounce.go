// ABOUTME: Debounced bulk slash-command registration with a shape cache.
// ABOUTME: Batches trigger mutations into one replace-all call per quiescent window.

package commands

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/flowhook/discgate/internal/chat"
	"github.com/flowhook/discgate/internal/registry"
)

const cacheSize = 128

// Registrar issues the bulk replace-all-commands call on the platform.
type Registrar interface {
	ReplaceCommands(ctx context.Context, specs []chat.CommandSpec) error
}

// Source supplies the currently active command triggers at flush time.
type Source interface {
	ActiveCommands() []registry.Trigger
}

// Debouncer coalesces bursts of command-trigger mutations into a single bulk
// registration call after a quiescent window. Re-scheduling inside the
// window resets the timer rather than firing twice.
type Debouncer struct {
	registrar Registrar
	source    Source
	window    time.Duration
	logger    *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
	cache *lru.Cache[string, chat.CommandSpec]
}

// New creates a Debouncer flushing after the given quiescent window.
func New(registrar Registrar, source Source, window time.Duration, logger *slog.Logger) *Debouncer {
	if logger == nil {
		logger = slog.Default()
	}
	cache, _ := lru.New[string, chat.CommandSpec](cacheSize)
	return &Debouncer{
		registrar: registrar,
		source:    source,
		window:    window,
		logger:    logger.With("component", "commands"),
		cache:     cache,
	}
}

// Schedule arms (or re-arms) the flush timer.
func (d *Debouncer) Schedule() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, func() {
		d.FlushNow(context.Background())
	})
}

// CancelPending stops any armed flush without firing it.
func (d *Debouncer) CancelPending() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// FlushNow builds the full active command set and issues one bulk replace.
// An empty set still issues the call (clearing stale platform commands) and
// resets the shape cache.
func (d *Debouncer) FlushNow(ctx context.Context) {
	d.mu.Lock()
	if d.timer != nil {
		// An armed window is superseded by this flush; left running it
		// would fire a second, redundant bulk replace.
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	triggers := d.source.ActiveCommands()

	specs := make([]chat.CommandSpec, 0, len(triggers))
	for _, t := range triggers {
		if t.Name == "" || t.Description == "" {
			continue
		}

		key := shapeKey(t)
		if spec, ok := d.cache.Get(key); ok {
			specs = append(specs, spec)
			continue
		}

		spec := chat.CommandSpec{
			Name:             t.Name,
			Description:      t.Description,
			FieldType:        t.CommandFieldType,
			FieldDescription: t.CommandFieldDesc,
			FieldRequired:    t.CommandFieldRequired,
		}
		d.cache.Add(key, spec)
		specs = append(specs, spec)
	}

	if len(specs) == 0 {
		d.cache.Purge()
	}

	if err := d.registrar.ReplaceCommands(ctx, specs); err != nil {
		d.logger.Error("bulk command registration failed", "count", len(specs), "error", err)
		return
	}

	d.logger.Info("commands registered", "count", len(specs))
}

func shapeKey(t registry.Trigger) string {
	return t.Name + "\x00" + t.Description + "\x00" + t.CommandFieldType
}
