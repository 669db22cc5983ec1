package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// --- Registry ---

func TestToolRegistry_RegisterAndGet(t *testing.T) {
	r := testRegistry()

	tool, ok := r.Get("echo")
	if !ok {
		t.Fatal("echo not found")
	}
	if tool.Definition.Description != "Echoes the text argument" {
		t.Errorf("got %q", tool.Definition.Description)
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("found a tool that was never registered")
	}
}

func TestToolRegistry_RejectsInvalid(t *testing.T) {
	r := NewToolRegistry()
	if err := r.Register(Tool{Definition: ToolDefinition{Name: ""}}); err == nil {
		t.Error("registered a tool without a name")
	}
	if err := r.Register(Tool{Definition: ToolDefinition{Name: "x"}}); err == nil {
		t.Error("registered a tool without an implementation")
	}
}

func TestToolRegistry_OrderPreserved(t *testing.T) {
	r := testRegistry()
	want := []string{"echo", "fail", "boom"}
	got := r.Names()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// Re-registering keeps the original position.
	_ = r.Register(Tool{
		Definition: ToolDefinition{Name: "echo", Description: "replaced"},
		Fn:         func(context.Context, map[string]any) (any, error) { return nil, nil },
	})
	if got := r.Names(); got[0] != "echo" || len(got) != 3 {
		t.Errorf("after overwrite: %v", got)
	}
	tool, _ := r.Get("echo")
	if tool.Definition.Description != "replaced" {
		t.Error("overwrite did not replace the definition")
	}
}

func TestToolRegistry_Unregister(t *testing.T) {
	r := testRegistry()
	if !r.Unregister("fail") {
		t.Error("unregister reported missing for a present tool")
	}
	if r.Unregister("fail") {
		t.Error("unregister reported present for a removed tool")
	}
	got := r.Names()
	if len(got) != 2 || got[0] != "echo" || got[1] != "boom" {
		t.Errorf("names after unregister: %v", got)
	}
}

func TestToolRegistry_DefinitionsSubset(t *testing.T) {
	r := testRegistry()

	all := r.Definitions()
	if len(all) != 3 {
		t.Errorf("got %d definitions, want 3", len(all))
	}
	subset := r.Definitions("boom", "echo", "missing")
	if len(subset) != 2 {
		t.Fatalf("got %d definitions, want 2", len(subset))
	}
	// Registration order, not request order.
	if subset[0].Name != "echo" || subset[1].Name != "boom" {
		t.Errorf("got %v", []string{subset[0].Name, subset[1].Name})
	}
}

// --- Executor ---

func TestToolExecutorExecute_Success(t *testing.T) {
	e := NewToolExecutor(testRegistry())

	result := e.Execute(context.Background(), ToolCall{
		ID:   "c1",
		Name: "echo",
		Args: map[string]any{"text": "hi"},
	})

	if !result.Success {
		t.Fatalf("unexpected failure: %s", result.Error)
	}
	if result.ToolCallID != "c1" {
		t.Errorf("got ID %q, want c1", result.ToolCallID)
	}
	if result.Result != "echo: hi" {
		t.Errorf("got %v, want echo: hi", result.Result)
	}
}

func TestToolExecutorExecute_UnknownTool(t *testing.T) {
	e := NewToolExecutor(testRegistry())

	result := e.Execute(context.Background(), ToolCall{ID: "c1", Name: "nope"})

	if result.Success {
		t.Fatal("unknown tool reported success")
	}
	want := `tool "nope" not found. Available tools: echo, fail, boom`
	if result.Error != want {
		t.Errorf("got %q, want %q", result.Error, want)
	}
}

func TestToolExecutorExecute_MissingRequiredArg(t *testing.T) {
	e := NewToolExecutor(testRegistry())

	result := e.Execute(context.Background(), ToolCall{ID: "c1", Name: "echo", Args: map[string]any{}})

	if result.Success {
		t.Fatal("missing required argument reported success")
	}
	if !strings.Contains(result.Error, `required argument "text" missing`) {
		t.Errorf("got %q", result.Error)
	}
}

func TestToolExecutorExecute_ExtraArgsDropped(t *testing.T) {
	r := NewToolRegistry()
	var seen map[string]any
	_ = r.Register(Tool{
		Definition: ToolDefinition{
			Name: "probe",
			Parameters: []ToolParameter{
				{Name: "keep", Type: "string", Required: true},
				{Name: "opt", Type: "string"},
			},
		},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			seen = args
			return "ok", nil
		},
	})
	e := NewToolExecutor(r)

	result := e.Execute(context.Background(), ToolCall{
		ID:   "c1",
		Name: "probe",
		Args: map[string]any{"keep": "yes", "stray": "no"},
	})

	if !result.Success {
		t.Fatalf("unexpected failure: %s", result.Error)
	}
	if _, ok := seen["stray"]; ok {
		t.Error("undeclared argument reached the tool")
	}
	if _, ok := seen["opt"]; ok {
		t.Error("absent optional argument was bound")
	}
	if seen["keep"] != "yes" {
		t.Errorf("got %v, want yes", seen["keep"])
	}
}

func TestToolExecutorExecute_ErrorBecomesResult(t *testing.T) {
	e := NewToolExecutor(testRegistry())

	result := e.Execute(context.Background(), ToolCall{ID: "c1", Name: "fail"})

	if result.Success {
		t.Fatal("failing tool reported success")
	}
	if !strings.Contains(result.Error, `error executing "fail"`) {
		t.Errorf("got %q", result.Error)
	}
}

func TestToolExecutorExecute_PanicIsolated(t *testing.T) {
	e := NewToolExecutor(testRegistry())

	result := e.Execute(context.Background(), ToolCall{ID: "c1", Name: "boom"})

	if result.Success {
		t.Fatal("panicking tool reported success")
	}
	if !strings.Contains(result.Error, "panic") || !strings.Contains(result.Error, "kaboom") {
		t.Errorf("got %q, want panic surfaced as error text", result.Error)
	}
}

func TestToolExecutorExecuteAll_OrderPreserved(t *testing.T) {
	r := NewToolRegistry()
	_ = r.Register(Tool{
		Definition: ToolDefinition{
			Name:       "tag",
			Parameters: []ToolParameter{{Name: "v", Type: "string", Required: true}},
		},
		Fn: func(_ context.Context, args map[string]any) (any, error) {
			// Stagger completions so input order must be restored explicitly.
			if args["v"] == "0" {
				time.Sleep(30 * time.Millisecond)
			}
			return args["v"], nil
		},
	})
	e := NewToolExecutor(r)

	calls := make([]ToolCall, 4)
	for i := range calls {
		calls[i] = ToolCall{ID: fmt.Sprintf("c%d", i), Name: "tag", Args: map[string]any{"v": fmt.Sprint(i)}}
	}
	results := e.ExecuteAll(context.Background(), calls)

	if len(results) != 4 {
		t.Fatalf("got %d results, want 4", len(results))
	}
	for i, res := range results {
		if res.ToolCallID != fmt.Sprintf("c%d", i) {
			t.Errorf("results[%d].ToolCallID = %q", i, res.ToolCallID)
		}
		if res.Result != fmt.Sprint(i) {
			t.Errorf("results[%d] = %v, want %d", i, res.Result, i)
		}
	}
}

func TestToolExecutorExecuteAll_MixedOutcomes(t *testing.T) {
	e := NewToolExecutor(testRegistry())

	results := e.ExecuteAll(context.Background(), []ToolCall{
		{ID: "a", Name: "echo", Args: map[string]any{"text": "one"}},
		{ID: "b", Name: "boom"},
		{ID: "c", Name: "fail"},
		{ID: "d", Name: "missing"},
	})

	if !results[0].Success {
		t.Errorf("echo failed: %s", results[0].Error)
	}
	for i := 1; i < 4; i++ {
		if results[i].Success {
			t.Errorf("results[%d] reported success", i)
		}
	}
}

func TestToolExecutorExecuteAll_WorkerPoolBound(t *testing.T) {
	var running, peak atomic.Int32
	r := NewToolRegistry()
	_ = r.Register(Tool{
		Definition: ToolDefinition{Name: "slow"},
		Fn: func(context.Context, map[string]any) (any, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			running.Add(-1)
			return "done", nil
		},
	})
	e := NewToolExecutor(r, ExecutorWorkers(2))

	calls := make([]ToolCall, 6)
	for i := range calls {
		calls[i] = ToolCall{ID: fmt.Sprint(i), Name: "slow"}
	}
	results := e.ExecuteAll(context.Background(), calls)

	if len(results) != 6 {
		t.Fatalf("got %d results, want 6", len(results))
	}
	if p := peak.Load(); p > 2 {
		t.Errorf("peak concurrency %d, want <= 2", p)
	}
}

func TestToolExecutorExecuteAll_CancelledContext(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	r := NewToolRegistry()
	_ = r.Register(Tool{
		Definition: ToolDefinition{Name: "block"},
		Fn: func(ctx context.Context, _ map[string]any) (any, error) {
			once.Do(func() { close(started) })
			select {
			case <-release:
			case <-ctx.Done():
			}
			return "late", ctx.Err()
		},
	})
	e := NewToolExecutor(r)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	defer close(release)

	calls := []ToolCall{
		{ID: "a", Name: "block"},
		{ID: "b", Name: "block"},
		{ID: "c", Name: "block"},
	}
	results := e.ExecuteAll(ctx, calls)

	if len(results) != 3 {
		t.Fatalf("got %d results, want one per call", len(results))
	}
	for i, res := range results {
		if res.Success {
			t.Errorf("results[%d] reported success after cancellation", i)
		}
		if res.Error == "" {
			t.Errorf("results[%d] has no error text", i)
		}
	}
}

func TestToolExecutorExecuteAll_Empty(t *testing.T) {
	e := NewToolExecutor(testRegistry())
	if results := e.ExecuteAll(context.Background(), nil); len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestBindArgs_OptionalDefaults(t *testing.T) {
	def := ToolDefinition{
		Name: "t",
		Parameters: []ToolParameter{
			{Name: "req", Type: "string", Required: true},
			{Name: "opt", Type: "number"},
		},
	}

	bound, err := bindArgs(def, map[string]any{"req": "v", "opt": 2.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bound["opt"] != 2.5 {
		t.Errorf("got %v, want 2.5", bound["opt"])
	}

	if _, err := bindArgs(def, nil); err == nil {
		t.Error("missing required arg accepted")
	}
}
