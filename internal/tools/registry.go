// Package tools hosts the tool registry and the builtin tool backends. The
// registry gives the loop one uniform surface: execute(name, params) with a
// per-call timeout, output truncation, and errors folded into short
// human-readable strings that never escape as panics or Go errors.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/animara-ai/animara/internal/providers"
)

// Handler executes one tool call.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Tool is a registered tool descriptor.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON-schema object; nil means no parameters.
	Parameters map[string]interface{}
	Handler    Handler
}

// Registry is the name-keyed tool map.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*Tool
	timeout time.Duration
	maxOut  int

	truncations atomic.Int64
}

// NewRegistry creates a registry with the per-call timeout and the output
// character cap (L_out).
func NewRegistry(timeout time.Duration, maxOutput int) *Registry {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxOutput <= 0 {
		maxOutput = 8000
	}
	return &Registry{
		tools:   make(map[string]*Tool),
		timeout: timeout,
		maxOut:  maxOutput,
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	r.tools[t.Name] = t
	r.mu.Unlock()
}

// Unregister removes a tool (MCP server teardown).
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.tools, name)
	r.mu.Unlock()
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderDefs builds the wire manifest. A non-empty filter selects a
// subset; unknown names in the filter are skipped.
func (r *Registry) ProviderDefs(filter []string) []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := filter
	if len(names) == 0 {
		names = make([]string, 0, len(r.tools))
		for name := range r.tools {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t, ok := r.tools[name]
		if !ok {
			continue
		}
		params := t.Parameters
		if params == nil {
			params = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.FunctionSpec{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return defs
}

// Truncations reports how many tool outputs hit the size cap.
func (r *Registry) Truncations() int64 { return r.truncations.Load() }

// Execute runs a tool with the per-call timeout. It always returns a Result;
// lookup misses, handler errors, timeouts and panics become short error
// texts for the model.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]interface{}) *Result {
	ctx, span := otel.Tracer("tools").Start(ctx, "tool.execute")
	defer span.End()
	span.SetAttributes(attribute.String("tool", name))

	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ErrorResult(fmt.Sprintf("❌ инструмент %q не найден", name))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- outcome{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		text, err := t.Handler(ctx, args)
		ch <- outcome{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		slog.Warn("tools.execute.timeout", "tool", name, "timeout", r.timeout)
		return ErrorResult(fmt.Sprintf("❌ timeout: %s не ответил за %s", name, r.timeout))
	case out := <-ch:
		if out.err != nil {
			slog.Warn("tools.execute.failed", "tool", name, "error", out.err)
			res := ErrorResult(fmt.Sprintf("❌ %s: %v", name, out.err))
			res.Err = out.err
			return res
		}
		text, truncated := TruncateOutput(out.text, r.maxOut)
		if truncated {
			r.truncations.Add(1)
			slog.Info("tools.output.truncated", "tool", name, "chars", len(out.text))
		}
		return &Result{ForLLM: text, Truncated: truncated}
	}
}

// TruncateOutput caps tool output at max characters, keeping a prefix and a
// suffix around a marker. The result never exceeds max plus the marker.
func TruncateOutput(s string, max int) (string, bool) {
	runes := []rune(s)
	if len(runes) <= max {
		return s, false
	}
	marker := fmt.Sprintf("\n…[обрезано %d символов]…\n", len(runes)-max)
	head := max * 3 / 5
	tail := max - head
	return string(runes[:head]) + marker + string(runes[len(runes)-tail:]), true
}
