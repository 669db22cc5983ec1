package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ToolFunc is the Go implementation behind a tool. Args are already bound
// by name against the tool's declared parameters when the function runs.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool couples a wire-visible definition with its implementation.
type Tool struct {
	Definition ToolDefinition
	Fn         ToolFunc
}

// ToolRegistry maps tool names to tools. Registration order is preserved
// for stable enumeration in error messages and provider schemas.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool with the same name.
func (r *ToolRegistry) Register(t Tool) error {
	if t.Definition.Name == "" {
		return &ErrValidation{Field: "tool", Reason: "name must not be empty"}
	}
	if t.Fn == nil {
		return &ErrValidation{Field: "tool", Reason: fmt.Sprintf("tool %q has no implementation", t.Definition.Name)}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Definition.Name]; !exists {
		r.order = append(r.order, t.Definition.Name)
	}
	r.tools[t.Definition.Name] = t
	return nil
}

// Unregister removes a tool. Reports whether it was present.
func (r *ToolRegistry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return false
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get looks up a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions returns tool definitions. With no arguments it returns every
// registered definition; otherwise only the named ones, skipping names that
// are not registered. Order follows registration order.
func (r *ToolRegistry) Definitions(names ...string) []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	want := func(string) bool { return true }
	if len(names) > 0 {
		set := make(map[string]bool, len(names))
		for _, n := range names {
			set[n] = true
		}
		want = func(n string) bool { return set[n] }
	}
	var defs []ToolDefinition
	for _, n := range r.order {
		if want(n) {
			defs = append(defs, r.tools[n].Definition)
		}
	}
	return defs
}

// maxToolWorkers bounds the executor's worker pool: at most this many tool
// calls of one batch run concurrently.
const maxToolWorkers = 5

// ToolExecutor runs tool calls against a registry. Failures never surface
// as errors: every outcome, including unknown names, missing arguments,
// returned errors, and panics, is encoded in the ToolResult.
type ToolExecutor struct {
	registry *ToolRegistry
	workers  int
	logger   *slog.Logger
}

// ExecutorOption configures a ToolExecutor.
type ExecutorOption func(*ToolExecutor)

// ExecutorWorkers sets the worker pool bound (default 5).
func ExecutorWorkers(n int) ExecutorOption {
	return func(e *ToolExecutor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// ExecutorLogger sets the structured logger for execution events.
func ExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(e *ToolExecutor) { e.logger = l }
}

// NewToolExecutor creates an executor over the given registry.
func NewToolExecutor(registry *ToolRegistry, opts ...ExecutorOption) *ToolExecutor {
	e := &ToolExecutor{registry: registry, workers: maxToolWorkers}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = nopLogger
	}
	return e
}

// Definitions exposes the underlying registry's definitions, for building
// provider requests from an agent's allowed tool names.
func (e *ToolExecutor) Definitions(names ...string) []ToolDefinition {
	return e.registry.Definitions(names...)
}

// Execute runs one tool call and returns its result. The ToolCallID is
// carried over unmodified.
func (e *ToolExecutor) Execute(ctx context.Context, call ToolCall) ToolResult {
	return e.execute(ctx, call).result
}

// ExecuteAll runs a batch of tool calls concurrently through the bounded
// worker pool and returns one result per call, in input order.
func (e *ToolExecutor) ExecuteAll(ctx context.Context, calls []ToolCall) []ToolResult {
	outcomes := e.executeAll(ctx, calls)
	results := make([]ToolResult, len(outcomes))
	for i, o := range outcomes {
		results[i] = o.result
	}
	return results
}

// toolOutcome pairs a wire-level result with its measured duration.
type toolOutcome struct {
	result   ToolResult
	duration time.Duration
}

func (e *ToolExecutor) execute(ctx context.Context, call ToolCall) toolOutcome {
	start := time.Now()
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return toolOutcome{
			result: ToolResult{
				ToolCallID: call.ID,
				Success:    false,
				Error:      fmt.Sprintf("tool %q not found. Available tools: %s", call.Name, strings.Join(e.registry.Names(), ", ")),
			},
			duration: time.Since(start),
		}
	}
	bound, err := bindArgs(tool.Definition, call.Args)
	if err != nil {
		return toolOutcome{
			result:   ToolResult{ToolCallID: call.ID, Success: false, Error: err.Error()},
			duration: time.Since(start),
		}
	}
	result, err := safeToolCall(ctx, tool, bound)
	d := time.Since(start)
	if err != nil {
		e.logger.Debug("tool failed", "tool", call.Name, "duration", d, "error", err)
		return toolOutcome{
			result:   ToolResult{ToolCallID: call.ID, Success: false, Error: fmt.Sprintf("error executing %q: %v", call.Name, err)},
			duration: d,
		}
	}
	e.logger.Debug("tool executed", "tool", call.Name, "duration", d)
	return toolOutcome{
		result:   ToolResult{ToolCallID: call.ID, Success: true, Result: result},
		duration: d,
	}
}

// executeAll is ExecuteAll with per-call timings, for trace and metrics use.
func (e *ToolExecutor) executeAll(ctx context.Context, calls []ToolCall) []toolOutcome {
	if len(calls) == 0 {
		return nil
	}
	// Fast path: single call, no goroutine needed.
	if len(calls) == 1 {
		return []toolOutcome{e.execute(ctx, calls[0])}
	}

	type workItem struct {
		idx  int
		call ToolCall
	}
	type indexedOutcome struct {
		idx     int
		outcome toolOutcome
	}

	workCh := make(chan workItem, len(calls))
	for i, c := range calls {
		workCh <- workItem{idx: i, call: c}
	}
	close(workCh)

	resultCh := make(chan indexedOutcome, len(calls))

	// Spawn a fixed pool of workers, never more goroutines than calls.
	numWorkers := min(len(calls), e.workers)
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for range numWorkers {
		go func() {
			defer wg.Done()
			for w := range workCh {
				if ctx.Err() != nil {
					resultCh <- indexedOutcome{w.idx, toolOutcome{result: ToolResult{
						ToolCallID: w.call.ID,
						Success:    false,
						Error:      ctx.Err().Error(),
					}}}
					continue
				}
				resultCh <- indexedOutcome{w.idx, e.execute(ctx, w.call)}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	// Collect results, bailing out if ctx is cancelled while calls are in-flight.
	outcomes := make([]toolOutcome, len(calls))
	seen := make([]bool, len(calls))
collect:
	for received := 0; received < len(calls); received++ {
		select {
		case r, ok := <-resultCh:
			if !ok {
				break collect
			}
			outcomes[r.idx] = r.outcome
			seen[r.idx] = true
		case <-ctx.Done():
			for i := range outcomes {
				if !seen[i] {
					outcomes[i] = toolOutcome{result: ToolResult{
						ToolCallID: calls[i].ID,
						Success:    false,
						Error:      ctx.Err().Error(),
					}}
				}
			}
			return outcomes
		}
	}
	for i := range outcomes {
		if !seen[i] {
			outcomes[i] = toolOutcome{result: ToolResult{
				ToolCallID: calls[i].ID,
				Success:    false,
				Error:      "result not received",
			}}
		}
	}
	return outcomes
}

// bindArgs filters the provided arguments down to the tool's declared
// parameters. A missing required parameter is an error; a missing optional
// one is omitted; undeclared arguments are dropped.
func bindArgs(def ToolDefinition, args map[string]any) (map[string]any, error) {
	bound := make(map[string]any, len(def.Parameters))
	for _, p := range def.Parameters {
		v, ok := args[p.Name]
		if !ok {
			if p.Required {
				return nil, fmt.Errorf("required argument %q missing for tool %q", p.Name, def.Name)
			}
			continue
		}
		bound[p.Name] = v
	}
	return bound, nil
}

// safeToolCall invokes the tool function with panic isolation: a panic in
// one tool becomes an error without affecting sibling calls.
func safeToolCall(ctx context.Context, t Tool, args map[string]any) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = fmt.Errorf("tool %q panic: %v", t.Definition.Name, p)
		}
	}()
	return t.Fn(ctx, args)
}
