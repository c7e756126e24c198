package tools

import (
	"context"
	"fmt"
	"sync"
)

// BuildFunc constructs a fresh RetrieverTool bound to the current state of
// the knowledge index. It is called with the Manager's lock held, so the
// entire build is one critical section: concurrent refreshes serialize and
// the last one wins.
type BuildFunc func(ctx context.Context) (*RetrieverTool, error)

// Manager owns the current retrieval tool. It supports lazy first build and
// explicit refresh, and guarantees that readers never observe a partially
// constructed tool: the shared reference is only replaced after a build
// completes, and a failed build leaves the previous tool current.
type Manager struct {
	// mu guards tool. The critical section spans the whole rebuild.
	mu sync.Mutex

	// tool is the current published tool, nil until the first build.
	tool *RetrieverTool

	// build constructs a new tool from the live index.
	build BuildFunc
}

// NewManager constructs a Manager that builds tools with build.
func NewManager(build BuildFunc) (*Manager, error) {
	if build == nil {
		return nil, fmt.Errorf("tools: build function must not be nil")
	}
	return &Manager{build: build}, nil
}

// Get returns the current tool. With refresh=false the tool is lazily
// constructed on first call and then reused; with refresh=true the tool is
// unconditionally rebuilt first.
func (m *Manager) Get(ctx context.Context, refresh bool) (*RetrieverTool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if refresh || m.tool == nil {
		return m.rebuildLocked(ctx)
	}
	return m.tool, nil
}

// Refresh unconditionally rebuilds the tool and returns the new instance.
// Equivalent to Get(ctx, true).
func (m *Manager) Refresh(ctx context.Context) (*RetrieverTool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rebuildLocked(ctx)
}

// rebuildLocked builds a new tool and publishes it. Must be called with mu
// held. On build failure the previously published tool remains current and
// the error is returned to whoever requested the refresh.
func (m *Manager) rebuildLocked(ctx context.Context) (*RetrieverTool, error) {
	next, err := m.build(ctx)
	if err != nil {
		return nil, fmt.Errorf("tools: tool rebuild failed: %w", err)
	}

	// Replace-on-complete: the superseded tool is not closed here because
	// in-flight executions keep using the snapshot they started with.
	m.tool = next

	return next, nil
}
