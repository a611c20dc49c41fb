package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// PremiumProvider talks to the external high-capability backend over the
// OpenAI wire with native structured tool calls.
type PremiumProvider struct {
	apiKey      string
	apiBase     string
	client      *http.Client
	retryConfig RetryConfig

	mu           sync.RWMutex
	defaultModel string
}

// NewPremiumProvider creates the premium backend adapter.
func NewPremiumProvider(apiBase, apiKey, model string, timeout time.Duration) *PremiumProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &PremiumProvider{
		apiKey:       apiKey,
		apiBase:      strings.TrimSuffix(apiBase, "/"),
		defaultModel: model,
		client:       &http.Client{Timeout: timeout},
		retryConfig:  DefaultRetryConfig(),
	}
}

func (p *PremiumProvider) Name() string { return "premium" }

func (p *PremiumProvider) DefaultModel() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.defaultModel
}

// SetModel swaps the default model at runtime (godmode admin).
func (p *PremiumProvider) SetModel(model string) {
	p.mu.Lock()
	p.defaultModel = model
	p.mu.Unlock()
}

// Available reports whether the adapter has credentials.
func (p *PremiumProvider) Available() bool { return p.apiKey != "" }

type premiumResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// Chat sends a conversation with a typed tool manifest and relays any
// structured tool calls back to the loop.
func (p *PremiumProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if !p.Available() {
		return nil, fmt.Errorf("premium: no API key configured")
	}

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		body := p.buildRequestBody(req)
		respBody, err := p.doRequest(ctx, "/v1/chat/completions", body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var parsed premiumResponse
		if err := json.NewDecoder(respBody).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("premium: decode response: %w", err)
		}
		return p.parseResponse(&parsed)
	})
}

func (p *PremiumProvider) buildRequestBody(req ChatRequest) map[string]interface{} {
	model := req.Model
	if model == "" {
		model = p.DefaultModel()
	}

	msgs := make([]map[string]interface{}, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, map[string]interface{}{"role": "system", "content": req.System})
	}
	for _, m := range req.Messages {
		// Replayed session history keeps tool results without call ids and
		// without the assistant turn that requested them; the native wire
		// rejects such an orphan tool role, so those fold into user turns.
		if m.Role == "tool" && m.ToolCallID == "" {
			msgs = append(msgs, map[string]interface{}{
				"role":    "user",
				"content": "Результат инструмента: " + m.Content,
			})
			continue
		}
		msg := map[string]interface{}{"role": m.Role}
		// Assistant turns carrying tool_calls may have empty content.
		if m.Content != "" || len(m.ToolCalls) == 0 {
			msg["content"] = m.Content
		}
		if len(m.ToolCalls) > 0 {
			calls := make([]map[string]interface{}, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				calls[i] = map[string]interface{}{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]interface{}{
						"name":      tc.Name,
						"arguments": string(argsJSON),
					},
				}
			}
			msg["tool_calls"] = calls
		}
		if m.ToolCallID != "" {
			msg["tool_call_id"] = m.ToolCallID
		}
		msgs = append(msgs, msg)
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": msgs,
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
		body["tool_choice"] = "auto"
	}
	if v, ok := req.Options[OptMaxTokens]; ok {
		body["max_tokens"] = v
	}
	if v, ok := req.Options[OptTemperature]; ok {
		body["temperature"] = v
	}
	return body
}

func (p *PremiumProvider) parseResponse(resp *premiumResponse) (*ChatResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("premium: empty choices")
	}
	choice := resp.Choices[0]

	result := &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage:        resp.Usage,
	}
	for _, tc := range choice.Message.ToolCalls {
		args := make(map[string]interface{})
		_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      strings.TrimSpace(tc.Function.Name),
			Arguments: args,
		})
	}
	if len(result.ToolCalls) > 0 {
		result.FinishReason = "tool_calls"
	}
	return result, nil
}

func (p *PremiumProvider) doRequest(ctx context.Context, path string, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("premium: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("premium: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("premium: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("premium: %s", string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

// Ping verifies the credentials against the models endpoint.
func (p *PremiumProvider) Ping(ctx context.Context) error {
	if !p.Available() {
		return fmt.Errorf("premium: no API key configured")
	}
	httpReq, err := http.NewRequestWithContext(ctx, "GET", p.apiBase+"/v1/models", nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("premium: ping failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}
	return nil
}
