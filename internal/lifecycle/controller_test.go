package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/kb4n0/ragline-go/internal/rag"
	"github.com/kb4n0/ragline-go/internal/tools"
	"github.com/kb4n0/ragline-go/internal/workflow"
)

// stubModel satisfies model.ToolCallingChatModel with canned responses; the
// controller tests never run the workflow, they only compile it.
type stubModel struct{}

func (stubModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage("ok", nil), nil
}

func (stubModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("stub model: streaming not supported")
}

func (m stubModel) WithTools(_ []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

type stubRetriever struct{}

func (stubRetriever) Retrieve(_ context.Context, _ string, _ int) ([]rag.Document, error) {
	return nil, nil
}

// testHarness bundles a controller with counters for tool and engine builds.
type testHarness struct {
	ctrl         *Controller
	toolBuilds   *atomic.Int32
	engineBuilds *atomic.Int32
}

func newTestController(t *testing.T, cfg Config) *testHarness {
	t.Helper()

	var toolBuilds, engineBuilds atomic.Int32

	manager, err := tools.NewManager(func(_ context.Context) (*tools.RetrieverTool, error) {
		toolBuilds.Add(1)
		return tools.NewRetrieverTool(stubRetriever{}, 4, nil)
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	cfg.Manager = manager
	if cfg.Build == nil {
		cfg.Build = func(ctx context.Context, tool *tools.RetrieverTool) (*workflow.Engine, error) {
			engineBuilds.Add(1)
			return workflow.New(ctx, &workflow.Config{ChatModel: stubModel{}, Tool: tool})
		}
	}

	ctrl, err := NewController(&cfg)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	t.Cleanup(ctrl.Close)

	return &testHarness{ctrl: ctrl, toolBuilds: &toolBuilds, engineBuilds: &engineBuilds}
}

func TestNewController_Validation(t *testing.T) {
	t.Parallel()

	manager, err := tools.NewManager(func(_ context.Context) (*tools.RetrieverTool, error) {
		return tools.NewRetrieverTool(stubRetriever{}, 4, nil)
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if _, err := NewController(&Config{Manager: manager}); err == nil {
		t.Error("expected error for nil Build")
	}
	build := func(ctx context.Context, tool *tools.RetrieverTool) (*workflow.Engine, error) {
		return workflow.New(ctx, &workflow.Config{ChatModel: stubModel{}, Tool: tool})
	}
	if _, err := NewController(&Config{Build: build}); err == nil {
		t.Error("expected error for nil Manager")
	}
}

func TestController_EnsureLazyColdStart(t *testing.T) {
	t.Parallel()

	h := newTestController(t, Config{Cooldown: time.Hour})

	if h.ctrl.Current() != nil {
		t.Fatal("no engine should be published before the first compile")
	}

	first, err := h.ctrl.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if first == nil {
		t.Fatal("Ensure returned nil engine")
	}

	second, err := h.ctrl.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if first != second {
		t.Error("repeated Ensure should reuse the published engine")
	}
	if got := h.engineBuilds.Load(); got != 1 {
		t.Errorf("expected exactly 1 engine build, got %d", got)
	}
	if h.ctrl.Current() != first {
		t.Error("Current should return the engine Ensure published")
	}
}

func TestController_MaybeRefreshDebounce(t *testing.T) {
	t.Parallel()

	h := newTestController(t, Config{Cooldown: time.Hour})

	refreshed, err := h.ctrl.MaybeRefresh(context.Background(), false)
	if err != nil {
		t.Fatalf("MaybeRefresh: %v", err)
	}
	if !refreshed {
		t.Fatal("first refresh should run")
	}
	builds := h.engineBuilds.Load()

	// Inside the cooldown window a non-forced refresh is a no-op.
	refreshed, err = h.ctrl.MaybeRefresh(context.Background(), false)
	if err != nil {
		t.Fatalf("MaybeRefresh: %v", err)
	}
	if refreshed {
		t.Error("non-forced refresh inside cooldown should be debounced")
	}
	if got := h.engineBuilds.Load(); got != builds {
		t.Errorf("debounced refresh must not rebuild, builds %d -> %d", builds, got)
	}

	// Forced refresh ignores the window.
	refreshed, err = h.ctrl.MaybeRefresh(context.Background(), true)
	if err != nil {
		t.Fatalf("MaybeRefresh: %v", err)
	}
	if !refreshed {
		t.Error("forced refresh should always run")
	}
	if got := h.engineBuilds.Load(); got != builds+1 {
		t.Errorf("forced refresh should rebuild once, builds %d -> %d", builds, got)
	}
}

func TestController_FailedRefreshKeepsEngine(t *testing.T) {
	t.Parallel()

	var fail atomic.Bool
	var engineBuilds atomic.Int32

	h := newTestController(t, Config{
		Cooldown: time.Hour,
		Build: func(ctx context.Context, tool *tools.RetrieverTool) (*workflow.Engine, error) {
			if fail.Load() {
				return nil, fmt.Errorf("model unavailable")
			}
			engineBuilds.Add(1)
			return workflow.New(ctx, &workflow.Config{ChatModel: stubModel{}, Tool: tool})
		},
	})

	good, err := h.ctrl.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	fail.Store(true)
	if _, err := h.ctrl.MaybeRefresh(context.Background(), true); err == nil {
		t.Fatal("expected refresh to surface the compile error")
	}
	if h.ctrl.Current() != good {
		t.Error("failed refresh must leave the previous engine published")
	}
}

func TestController_ScheduleRefreshNeverBlocks(t *testing.T) {
	t.Parallel()

	h := newTestController(t, Config{Cooldown: time.Hour})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			h.ctrl.ScheduleRefresh(false)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ScheduleRefresh blocked")
	}
}

func TestController_BackgroundRefreshRuns(t *testing.T) {
	t.Parallel()

	h := newTestController(t, Config{Cooldown: time.Hour})

	h.ctrl.ScheduleRefresh(true)

	deadline := time.After(5 * time.Second)
	for h.ctrl.Current() == nil {
		select {
		case <-deadline:
			t.Fatal("background refresh never published an engine")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestController_WritesVisualization(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	h := newTestController(t, Config{Cooldown: time.Hour, DocumentsDir: dir})

	if _, err := h.ctrl.Ensure(context.Background()); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "graph.mmd"))
	if err != nil {
		t.Fatalf("reading visualization: %v", err)
	}
	for _, node := range []string{"decide", "retrieve", "grade", "rewrite", "answer"} {
		if !strings.Contains(string(data), node) {
			t.Errorf("visualization missing node %q", node)
		}
	}
}
