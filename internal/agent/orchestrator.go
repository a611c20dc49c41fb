// Package agent drives the per-turn reason-act loop: prompt assembly,
// routing, backend calls, tool execution, memory flush and background fact
// mining. One Orchestrator serves all callers; turns of the same caller are
// serialized by the session manager's turn lock.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/animara-ai/animara/internal/budget"
	"github.com/animara-ai/animara/internal/config"
	"github.com/animara-ai/animara/internal/facts"
	"github.com/animara-ai/animara/internal/providers"
	"github.com/animara-ai/animara/internal/retrieval"
	"github.com/animara-ai/animara/internal/router"
	"github.com/animara-ai/animara/internal/sessions"
	"github.com/animara-ai/animara/internal/store"
	"github.com/animara-ai/animara/internal/tools"
	"github.com/animara-ai/animara/internal/workspace"
)

// ErrEmptyMessage rejects blank user turns before any session mutation.
var ErrEmptyMessage = errors.New("empty user message")

// lastResort is returned when every backend path failed. The client never
// sees empty content.
const lastResort = "Извини, я сейчас не могу ответить. Попробуй ещё раз чуть позже."

const iterationLimitReply = "Я не смог закончить задачу за отведённое число шагов. Попробуй переформулировать запрос."

// Deps wires the orchestrator's collaborators, all process-wide singletons
// built at startup.
type Deps struct {
	Config    *config.Config
	Sessions  *sessions.Manager
	Workspace *workspace.Loader
	Retriever *retrieval.Retriever
	Registry  *tools.Registry
	Local     providers.Provider
	Premium   *providers.PremiumProvider
	Router    *router.Router
	Facts     *facts.Persister
	Store     store.VectorStore
	Embedder  retrieval.Embedder
	Hub       *Hub
}

// Orchestrator runs turns.
type Orchestrator struct {
	cfg       *config.Config
	sessions  *sessions.Manager
	workspace *workspace.Loader
	retriever *retrieval.Retriever
	registry  *tools.Registry
	local     providers.Provider
	premium   *providers.PremiumProvider
	router    *router.Router
	facts     *facts.Persister
	store     store.VectorStore
	embedder  retrieval.Embedder
	hub       *Hub
	bg        *Background
}

func New(d Deps) *Orchestrator {
	hub := d.Hub
	if hub == nil {
		hub = NewHub()
	}
	return &Orchestrator{
		cfg:       d.Config,
		sessions:  d.Sessions,
		workspace: d.Workspace,
		retriever: d.Retriever,
		registry:  d.Registry,
		local:     d.Local,
		premium:   d.Premium,
		router:    d.Router,
		facts:     d.Facts,
		store:     d.Store,
		embedder:  d.Embedder,
		hub:       hub,
		bg:        NewBackground(2, 64),
	}
}

// Hub exposes the event stream for the WebSocket endpoint.
func (o *Orchestrator) Hub() *Hub { return o.hub }

// Close drains background work.
func (o *Orchestrator) Close(ctx context.Context) error {
	return o.bg.Close(ctx)
}

// TurnOptions are the per-request knobs from the HTTP surface.
type TurnOptions struct {
	Model       string
	EnableTools bool
	Temperature float64
	MaxTokens   int
}

// DefaultTurnOptions mirrors the request-body defaults.
func DefaultTurnOptions() TurnOptions {
	return TurnOptions{EnableTools: true, Temperature: 0.7, MaxTokens: 2000}
}

// TurnResult is the finalized assistant reply plus loop observability.
type TurnResult struct {
	Content   string
	Model     string
	Route     string
	ToolsUsed []string
}

// HandleTurn runs one user turn end to end.
func (o *Orchestrator) HandleTurn(ctx context.Context, callerID, text string, opts TurnOptions) (*TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	ctx, span := otel.Tracer("agent").Start(ctx, "agent.turn")
	defer span.End()
	span.SetAttributes(attribute.String("caller", callerID))

	lock := o.sessions.TurnLock(callerID)
	lock.Lock()
	defer lock.Unlock()

	o.sessions.GetOrCreate(callerID)

	if o.sessions.NeedsFlush(callerID) {
		if err := o.Flush(ctx, callerID); err != nil {
			slog.Warn("agent.flush.failed", "caller", callerID, "error", err)
		}
	}

	// Mode toggles answer without touching a model.
	if tg, ok := router.CheckToggle(text); ok {
		o.sessions.SetGodMode(callerID, tg.On)
		o.sessions.Append(callerID, "user", text, false)
		o.sessions.Append(callerID, "assistant", tg.Ack, false)
		slog.Info("agent.godmode.toggled", "caller", callerID, "on", tg.On)
		return &TurnResult{Content: tg.Ack, Route: "toggle", Model: o.modelName(callerID)}, nil
	}

	o.sessions.Append(callerID, "user", text, false)
	o.bg.Go("facts", func(bctx context.Context) { o.mineFacts(bctx, callerID, text) })

	system := o.composeSystem(ctx, callerID, text, opts.EnableTools)
	history := o.sessions.History(callerID)
	system, history, applied := budget.TruncateOverflow(system, history, o.cfg.LLM.ContextWindow, o.cfg.Budget.MinResponseTokens)
	if len(applied) > 0 {
		slog.Info("agent.context.trimmed", "caller", callerID, "stages", strings.Join(applied, ","))
	}

	decision := o.router.Classify(text)
	span.SetAttributes(attribute.String("route", decision.Route))

	var result *TurnResult
	if decision.Route == router.RouteDirect || !opts.EnableTools {
		result = o.runDirect(ctx, callerID, text, system, history, opts)
	} else {
		result = o.runLoop(ctx, callerID, text, system, history, decision.Tools, opts)
	}

	if result.Content == "" {
		result.Content = lastResort
	}
	o.sessions.Append(callerID, "assistant", result.Content, false)
	o.hub.Publish(Event{Type: EventFinal, Session: callerID, Data: map[string]any{
		"route": result.Route, "model": result.Model, "tools": result.ToolsUsed,
	}})
	return result, nil
}

// provider picks the backend for the caller's mode, falling back to local
// when the premium key is absent.
func (o *Orchestrator) provider(callerID string) providers.Provider {
	if o.sessions.GodMode(callerID) && o.premium != nil && o.premium.Available() {
		return o.premium
	}
	return o.local
}

func (o *Orchestrator) modelName(callerID string) string {
	return o.provider(callerID).DefaultModel()
}

// chatOptions computes per-call options with the dynamic output budget.
func (o *Orchestrator) chatOptions(text, system string, history []providers.Message, opts TurnOptions) map[string]interface{} {
	input := budget.Estimate(system) + budget.MessagesTokens(history)
	maxOut, limited := budget.MaxOutput(o.cfg.LLM.ContextWindow, input, opts.MaxTokens, o.cfg.Budget.ReserveTokens)
	if limited {
		slog.Warn("agent.budget.output_capped", "max_output", maxOut, "requested", opts.MaxTokens)
	}
	m := map[string]interface{}{
		providers.OptMaxTokens:   maxOut,
		providers.OptTemperature: opts.Temperature,
	}
	if providers.NeedsThinking(text) {
		m[providers.OptEnableThinking] = true
	}
	return m
}

// runDirect makes one tool-free call. On error or empty content it falls
// back to a single agent iteration with an open tool set.
func (o *Orchestrator) runDirect(ctx context.Context, callerID, text, system string, history []providers.Message, opts TurnOptions) *TurnResult {
	p := o.provider(callerID)
	resp, err := p.Chat(ctx, providers.ChatRequest{
		System:   system,
		Messages: history,
		Options:  o.chatOptions(text, system, history, opts),
	})

	content := ""
	if err != nil {
		slog.Warn("agent.direct.failed", "caller", callerID, "provider", p.Name(), "error", err)
	} else {
		content = strings.TrimSpace(providers.StripToolSyntax(resp.Content))
	}
	if content == "" {
		if opts.EnableTools {
			return o.runLoop(ctx, callerID, text, system, history, nil, opts)
		}
		return &TurnResult{Route: router.RouteDirect, Model: p.DefaultModel()}
	}
	return &TurnResult{Content: content, Route: router.RouteDirect, Model: p.DefaultModel()}
}

// runLoop is the bounded reason-act loop.
func (o *Orchestrator) runLoop(ctx context.Context, callerID, text, system string, history []providers.Message, toolFilter []string, opts TurnOptions) *TurnResult {
	p := o.provider(callerID)
	maxIter := o.cfg.Loop.MaxToolIterations
	if maxIter <= 0 {
		maxIter = 5
	}

	defs := o.registry.ProviderDefs(toolFilter)
	if len(defs) == 0 {
		defs = o.registry.ProviderDefs(nil)
	}
	system = system + "\n\n" + toolRules(defs, p.Name() == "local")

	result := &TurnResult{Route: router.RouteAgent, Model: p.DefaultModel()}
	msgs := history

	for iter := 1; iter <= maxIter; iter++ {
		o.hub.Publish(Event{Type: EventIteration, Session: callerID, Data: map[string]any{"n": iter}})

		resp, err := p.Chat(ctx, providers.ChatRequest{
			System:   system,
			Messages: msgs,
			Tools:    defs,
			Options:  o.chatOptions(text, system, msgs, opts),
		})
		if err != nil {
			// One cross-adapter fallback; auth errors surface as-is.
			var herr *providers.HTTPError
			if errors.As(err, &herr) && herr.IsAuth() {
				result.Content = "⚠️ Премиум-модель не настроена: проверь ключ API."
				return result
			}
			if alt := o.otherProvider(p); alt != nil {
				slog.Warn("agent.loop.provider_fallback", "from", p.Name(), "to", alt.Name(), "error", err)
				p = alt
				result.Model = p.DefaultModel()
				resp, err = p.Chat(ctx, providers.ChatRequest{
					System:   system,
					Messages: msgs,
					Tools:    defs,
					Options:  o.chatOptions(text, system, msgs, opts),
				})
			}
			if err != nil {
				slog.Error("agent.loop.backend_failed", "caller", callerID, "iteration", iter, "error", err)
				result.Content = lastResort
				return result
			}
		}

		if len(resp.ToolCalls) == 0 {
			result.Content = strings.TrimSpace(providers.StripToolSyntax(resp.Content))
			return result
		}

		assistant := providers.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		msgs = append(msgs, assistant)
		if resp.Content != "" {
			o.sessions.Append(callerID, "assistant", resp.Content, false)
		}

		for _, tc := range resp.ToolCalls {
			o.hub.Publish(Event{Type: EventToolCall, Session: callerID, Data: map[string]any{"tool": tc.Name}})
			slog.Info("agent.tool.call", "caller", callerID, "tool", tc.Name, "iteration", iter)

			tctx := tools.WithCaller(ctx, callerID)
			res := o.registry.Execute(tctx, tc.Name, tc.Arguments)
			o.sessions.IncToolCalls(callerID)
			result.ToolsUsed = appendUnique(result.ToolsUsed, tc.Name)

			o.hub.Publish(Event{Type: EventToolResult, Session: callerID, Data: map[string]any{
				"tool": tc.Name, "is_error": res.IsError, "truncated": res.Truncated,
			}})

			msgs = append(msgs, providers.Message{Role: "tool", Content: res.ForLLM, ToolCallID: tc.ID})
			o.sessions.Append(callerID, "tool", res.ForLLM, true)
		}
	}

	slog.Warn("agent.loop.iteration_limit", "caller", callerID, "max", maxIter)
	result.Content = iterationLimitReply
	return result
}

func (o *Orchestrator) otherProvider(p providers.Provider) providers.Provider {
	if p == o.local && o.premium != nil && o.premium.Available() {
		return o.premium
	}
	if p != o.local {
		return o.local
	}
	return nil
}

// mineFacts extracts durable facts from one user turn and persists the
// unseen ones. Failures are logged and never surfaced.
func (o *Orchestrator) mineFacts(ctx context.Context, callerID, text string) {
	for _, f := range facts.Extract(text) {
		if !o.sessions.MarkFactSeen(callerID, f.Content) {
			continue
		}
		if err := o.facts.Persist(ctx, callerID, f); err != nil {
			slog.Warn("agent.facts.persist_failed", "caller", callerID, "kind", f.Kind, "error", err)
		}
	}
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// toolRules renders the manifest section of the system prompt. The local
// backend reads its tools from here; the anti-hallucination rules apply to
// both backends.
func toolRules(defs []providers.ToolDefinition, freeTextSyntax bool) string {
	var b strings.Builder
	b.WriteString("ДОСТУПНЫЕ ИНСТРУМЕНТЫ:\n")
	for _, d := range defs {
		fmt.Fprintf(&b, "• %s — %s\n", d.Function.Name, d.Function.Description)
	}
	if freeTextSyntax {
		b.WriteString("\nФОРМАТ ВЫЗОВА ИНСТРУМЕНТА:\n")
		b.WriteString(`<tool>{"name": "имя_инструмента", "params": {"ключ": "значение"}}</tool>` + "\n")
	}
	b.WriteString("\nПРАВИЛА:\n")
	b.WriteString("- Используй инструменты ТОЛЬКО когда нужна актуальная информация\n")
	b.WriteString("- НИКОГДА не выдумывай результат инструмента — жди настоящий ответ\n")
	b.WriteString("- Для простых вопросов отвечай сразу БЕЗ инструментов\n")
	b.WriteString("- После получения результата дай краткий ответ пользователю")
	return b.String()
}
