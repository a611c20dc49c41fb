package tools

import (
	"context"
	"fmt"
	"strings"
)

type callerKey struct{}

// WithCaller stamps the calling person ID onto the context; caller-scoped
// tools read it back during execution.
func WithCaller(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerKey{}, callerID)
}

// CallerFrom returns the person ID stamped by WithCaller, or "".
func CallerFrom(ctx context.Context) string {
	id, _ := ctx.Value(callerKey{}).(string)
	return id
}

// MemorySearchFunc runs a caller-scoped long-term memory search and returns
// formatted results.
type MemorySearchFunc func(ctx context.Context, callerID, query string) (string, error)

// NewMemorySearchTool exposes long-term memory search to the model. The
// caller ID comes from the execution context, never from the model.
func NewMemorySearchTool(search MemorySearchFunc) *Tool {
	return &Tool{
		Name:        "memory_search",
		Description: "Поиск в долговременной памяти (прошлые разговоры и факты)",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{"type": "string", "description": "Что вспомнить"},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			query := strings.TrimSpace(stringArg(args, "query"))
			if query == "" {
				return "", fmt.Errorf("пустой запрос к памяти")
			}
			caller := CallerFrom(ctx)
			if caller == "" {
				return "", fmt.Errorf("не определён вызывающий")
			}
			return search(ctx, caller, query)
		},
	}
}
