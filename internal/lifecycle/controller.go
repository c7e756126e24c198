// Package lifecycle owns the compiled workflow at process scope. It
// recompiles the workflow when the retrieval tool changes, debounces bursts
// of index mutations so at most one rebuild happens per cooldown window, and
// publishes the current engine atomically so query-serving paths never block
// on, or observe, a rebuild in progress.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kb4n0/ragline-go/internal/tools"
	"github.com/kb4n0/ragline-go/internal/workflow"
)

// defaultCooldown is the minimum interval between non-forced rebuilds.
const defaultCooldown = 5 * time.Second

// BuildEngineFunc compiles a workflow engine bound to the given tool.
type BuildEngineFunc func(ctx context.Context, tool *tools.RetrieverTool) (*workflow.Engine, error)

// Config holds the dependencies and tuning for a Controller.
type Config struct {
	// Manager owns the retrieval tool the engine is compiled against.
	Manager *tools.Manager

	// Build compiles an engine from a tool.
	Build BuildEngineFunc

	// Cooldown is the debounce window for non-forced refreshes.
	// Defaults to 5s if zero.
	Cooldown time.Duration

	// DocumentsDir is where the best-effort topology visualization is
	// written. Empty disables the artifact.
	DocumentsDir string

	// Logger is the structured logger. Defaults to slog.Default if nil.
	Logger *slog.Logger
}

// Controller owns the current compiled workflow engine. The compile path is
// guarded by one lock shared with the refresh-timestamp bookkeeping, so a
// compile always observes a fully-published retrieval tool; readers load the
// current engine through an atomic pointer and are never blocked by rebuilds.
type Controller struct {
	// mu guards the compile path and lastRefresh.
	mu sync.Mutex

	// current is the published engine; nil until the first successful compile.
	current atomic.Pointer[workflow.Engine]

	// manager supplies the retrieval tool for each compile.
	manager *tools.Manager

	// build compiles an engine from a tool.
	build BuildEngineFunc

	// cooldown is the debounce window for non-forced refreshes.
	cooldown time.Duration

	// lastRefresh is when the last rebuild completed. Zero means never.
	lastRefresh time.Time

	// documentsDir is the visualization output directory.
	documentsDir string

	// log is the structured logger.
	log *slog.Logger

	// refreshCh queues background refresh requests (the value is the force
	// flag). Buffered so schedulers never block on the worker.
	refreshCh chan bool

	// stop terminates the background worker.
	stop chan struct{}

	// stopOnce guards Close against double invocation.
	stopOnce sync.Once
}

// NewController constructs a Controller and starts its background refresh
// worker. Call Close to stop the worker.
func NewController(cfg *Config) (*Controller, error) {
	if cfg.Manager == nil {
		return nil, fmt.Errorf("lifecycle: Manager must not be nil")
	}
	if cfg.Build == nil {
		return nil, fmt.Errorf("lifecycle: Build must not be nil")
	}

	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	c := &Controller{
		manager:      cfg.Manager,
		build:        cfg.Build,
		cooldown:     cooldown,
		documentsDir: cfg.DocumentsDir,
		log:          log,
		refreshCh:    make(chan bool, 8),
		stop:         make(chan struct{}),
	}
	go c.refreshWorker()

	return c, nil
}

// Compile builds (or rebuilds) the workflow engine and publishes it as
// current. When refreshTools is true the retrieval tool is rebuilt first;
// otherwise the current (lazily constructed) tool is reused.
func (c *Controller) Compile(ctx context.Context, refreshTools bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.compileLocked(ctx, refreshTools)
}

// compileLocked performs the compile. Must be called with mu held: the tool
// fetch and the engine publication form one critical section so the engine
// never closes over a half-built tool.
func (c *Controller) compileLocked(ctx context.Context, refreshTools bool) error {
	tool, err := c.manager.Get(ctx, refreshTools)
	if err != nil {
		return fmt.Errorf("lifecycle: obtaining retrieval tool failed: %w", err)
	}

	engine, err := c.build(ctx, tool)
	if err != nil {
		return fmt.Errorf("lifecycle: engine compile failed: %w", err)
	}

	c.current.Store(engine)
	c.writeVisualization()
	c.log.Info("lifecycle: workflow compiled", slog.Bool("tools_refreshed", refreshTools))
	return nil
}

// MaybeRefresh rebuilds the engine with a refreshed tool, subject to the
// debounce policy: a non-forced call within the cooldown window is a no-op
// returning false. A forced call always rebuilds and resets the window.
// The returned error is non-nil only when a rebuild was attempted and failed;
// the previously published engine then remains current and serving.
func (c *Controller) MaybeRefresh(ctx context.Context, force bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && time.Since(c.lastRefresh) < c.cooldown {
		return false, nil
	}

	if err := c.compileLocked(ctx, true); err != nil {
		return false, err
	}
	c.lastRefresh = time.Now()
	return true, nil
}

// Current returns the published engine, or nil when no compile has succeeded
// yet. Readers keep using the instance they loaded even if a rebuild
// publishes a newer one mid-execution.
func (c *Controller) Current() *workflow.Engine {
	return c.current.Load()
}

// Ensure returns the current engine, lazily compiling on the cold-start path
// where the startup compile failed or never ran.
func (c *Controller) Ensure(ctx context.Context) (*workflow.Engine, error) {
	if e := c.current.Load(); e != nil {
		return e, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.current.Load(); e != nil {
		return e, nil
	}
	if err := c.compileLocked(ctx, false); err != nil {
		return nil, err
	}
	return c.current.Load(), nil
}

// ScheduleRefresh queues a background refresh, decoupled from the caller's
// latency. The contract is "refresh will eventually run", not synchronous
// completion. Never blocks: if the queue is full a refresh is already
// pending, which is sufficient.
func (c *Controller) ScheduleRefresh(force bool) {
	select {
	case c.refreshCh <- force:
	default:
	}
}

// refreshWorker drains queued refresh requests until Close is called.
func (c *Controller) refreshWorker() {
	for {
		select {
		case <-c.stop:
			return
		case force := <-c.refreshCh:
			refreshed, err := c.MaybeRefresh(context.Background(), force)
			if err != nil {
				c.log.Error("lifecycle: background refresh failed", slog.Any("error", err))
				continue
			}
			if refreshed {
				c.log.Info("lifecycle: background refresh complete")
			}
		}
	}
}

// Close stops the background refresh worker.
func (c *Controller) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// writeVisualization persists the workflow topology as a Mermaid file.
// Best-effort: failures are logged, never propagated.
func (c *Controller) writeVisualization() {
	if c.documentsDir == "" {
		return
	}
	if err := os.MkdirAll(c.documentsDir, 0o755); err != nil {
		c.log.Warn("lifecycle: could not create documents dir", slog.Any("error", err))
		return
	}
	path := filepath.Join(c.documentsDir, "graph.mmd")
	if err := os.WriteFile(path, []byte(workflow.Mermaid()), 0o644); err != nil {
		c.log.Warn("lifecycle: could not write graph visualization", slog.Any("error", err))
		return
	}
	c.log.Debug("lifecycle: graph visualization written", slog.String("path", path))
}
