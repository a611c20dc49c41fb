package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"golang.org/x/time/rate"
)

// LocalProvider talks to a local OpenAI-compatible chat-completions endpoint
// (vLLM, llama.cpp, ollama). Tools are advertised in the system prompt and the
// model signals a call with a literal <tool>{json}</tool> block; there is no
// native tool_calls wire here.
type LocalProvider struct {
	endpoint     string
	defaultModel string
	client       *http.Client
	limiter      *rate.Limiter
	retryConfig  RetryConfig
}

// NewLocalProvider creates a local backend adapter.
func NewLocalProvider(endpoint, model string, timeout time.Duration) *LocalProvider {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &LocalProvider{
		endpoint:     endpoint,
		defaultModel: model,
		client:       &http.Client{Timeout: timeout},
		limiter:      rate.NewLimiter(rate.Limit(2), 4),
		retryConfig:  DefaultRetryConfig(),
	}
}

func (p *LocalProvider) Name() string         { return "local" }
func (p *LocalProvider) DefaultModel() string { return p.defaultModel }

// thinkingCues flag turns that benefit from the model's thinking mode:
// arithmetic, step-by-step asks, puzzles, code, analysis, planning.
var thinkingCues = []*regexp.Regexp{
	regexp.MustCompile(`\d+\s*[-+*/^]\s*\d+`),
	regexp.MustCompile(`(?i)сколько будет`),
	regexp.MustCompile(`(?i)посчитай|вычисли|реши\b`),
	regexp.MustCompile(`(?i)шаг за шагом|по шагам|step by step`),
	regexp.MustCompile(`(?i)головоломк|загадк|парадокс`),
	regexp.MustCompile(`(?i)напиши (код|функцию|скрипт|программу)|код на `),
	regexp.MustCompile(`(?i)проанализируй|сравни подробно`),
	regexp.MustCompile(`(?i)составь план|спланируй|продумай`),
}

// NeedsThinking reports whether the user turn matches a thinking cue.
func NeedsThinking(text string) bool {
	for _, re := range thinkingCues {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

type localChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// Chat sends the conversation and parses the free-text reply: think spans are
// stripped and a <tool>{json}</tool> block, if present, becomes a ToolCall.
func (p *LocalProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		body := p.buildRequestBody(req)
		respBody, err := p.doRequest(ctx, "/v1/chat/completions", body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var parsed localChatResponse
		if err := json.NewDecoder(respBody).Decode(&parsed); err != nil {
			return nil, fmt.Errorf("local: decode response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return nil, fmt.Errorf("local: empty choices")
		}

		raw := parsed.Choices[0].Message.Content
		content := CleanThink(raw)

		result := &ChatResponse{
			Content:      content,
			FinishReason: parsed.Choices[0].FinishReason,
			Usage:        parsed.Usage,
		}
		if call, rest, ok := ParseToolSyntax(content); ok {
			result.ToolCalls = []ToolCall{call}
			result.Content = rest
			result.FinishReason = "tool_calls"
		}
		return result, nil
	})
}

func (p *LocalProvider) buildRequestBody(req ChatRequest) map[string]interface{} {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	msgs := make([]map[string]string, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, map[string]string{"role": "system", "content": req.System})
	}
	for _, m := range req.Messages {
		role := m.Role
		if role == "tool" {
			// No tool role on the free-text wire; feed results back as user turns.
			role = "user"
		}
		msgs = append(msgs, map[string]string{"role": role, "content": m.Content})
	}

	body := map[string]interface{}{
		"model":    model,
		"messages": msgs,
	}
	if v, ok := req.Options[OptMaxTokens]; ok {
		body["max_tokens"] = v
	}
	if v, ok := req.Options[OptTemperature]; ok {
		body["temperature"] = v
	}
	if v, ok := req.Options[OptEnableThinking].(bool); ok {
		body["chat_template_kwargs"] = map[string]interface{}{"enable_thinking": v}
	}
	return body
}

func (p *LocalProvider) doRequest(ctx context.Context, path string, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("local: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.endpoint+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("local: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("local: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("local: %s", string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}

// ListModels proxies the backend's model list (GET /v1/models).
func (p *LocalProvider) ListModels(ctx context.Context) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", p.endpoint+"/v1/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("local: list models: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	slog.Debug("local.models.listed", "bytes", len(data))
	return data, nil
}
