package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/animara-ai/animara/internal/tools"
)

// bridgeName builds the registry name for a remote tool. The prefix defaults
// to the server name so tools from different servers cannot collide.
func bridgeName(serverName, prefix, toolName string) string {
	if prefix == "" {
		prefix = serverName + "_"
	}
	return prefix + toolName
}

// bridgeTool wraps a remote MCP tool as a registry tool. Calls check the
// server's connected flag first and carry their own timeout.
func bridgeTool(serverName, prefix string, remote mcpgo.Tool, client *mcpclient.Client, timeout time.Duration, connected *atomic.Bool) *tools.Tool {
	return &tools.Tool{
		Name:        bridgeName(serverName, prefix, remote.Name),
		Description: remote.Description,
		Parameters:  schemaToMap(remote.InputSchema),
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			if !connected.Load() {
				return "", fmt.Errorf("сервер %s недоступен", serverName)
			}
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			req := mcpgo.CallToolRequest{}
			req.Params.Name = remote.Name
			req.Params.Arguments = args

			result, err := client.CallTool(ctx, req)
			if err != nil {
				return "", err
			}
			text := contentText(result.Content)
			if result.IsError {
				return "", fmt.Errorf("%s", text)
			}
			return text, nil
		},
	}
}

func schemaToMap(schema mcpgo.ToolInputSchema) map[string]interface{} {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func contentText(content []mcpgo.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := mcpgo.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
