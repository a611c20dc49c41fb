package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/animara-ai/animara/internal/config"
	"github.com/animara-ai/animara/internal/facts"
	"github.com/animara-ai/animara/internal/index"
	"github.com/animara-ai/animara/internal/providers"
	"github.com/animara-ai/animara/internal/retrieval"
	"github.com/animara-ai/animara/internal/router"
	"github.com/animara-ai/animara/internal/sessions"
	"github.com/animara-ai/animara/internal/store/sqlite"
	"github.com/animara-ai/animara/internal/tools"
	"github.com/animara-ai/animara/internal/workspace"
)

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

// scriptedProvider replays canned responses in order; the last one repeats.
type scriptedProvider struct {
	name      string
	responses []*providers.ChatResponse
	errs      []error
	calls     atomic.Int32
	requests  []providers.ChatRequest
}

func (p *scriptedProvider) Name() string         { return p.name }
func (p *scriptedProvider) DefaultModel() string { return p.name + "-model" }

func (p *scriptedProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	n := int(p.calls.Add(1)) - 1
	p.requests = append(p.requests, req)
	if n < len(p.errs) && p.errs[n] != nil {
		return nil, p.errs[n]
	}
	if n >= len(p.responses) {
		n = len(p.responses) - 1
	}
	return p.responses[n], nil
}

func newTestOrchestrator(t *testing.T, local *scriptedProvider) *Orchestrator {
	t.Helper()

	cfg := config.Default()
	cfg.Identity.OwnerID = "owner"
	cfg.Workspace.Path = t.TempDir()
	os.WriteFile(filepath.Join(cfg.Workspace.Path, "persona.md"), []byte("# Персона\nАнимара."), 0644)

	vs, err := sqlite.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { vs.Close() })

	emb := fixedEmbedder{}
	ws := workspace.New(cfg.Workspace.Path, time.Minute, 64)
	reg := tools.NewRegistry(time.Second, 1000)

	o := New(Deps{
		Config:    cfg,
		Sessions:  sessions.NewManager(sessions.DefaultConfig()),
		Workspace: ws,
		Retriever: retrieval.New(vs, index.New(), emb, "owner", retrieval.Options{}),
		Registry:  reg,
		Local:     local,
		Router:    router.New(),
		Facts:     facts.NewPersister(vs, emb),
		Store:     vs,
		Embedder:  emb,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		o.Close(ctx)
	})
	return o
}

func TestHandleTurn_EmptyMessageRejected(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedProvider{name: "local", responses: []*providers.ChatResponse{{Content: "x"}}})
	if _, err := o.HandleTurn(context.Background(), "owner", "   ", DefaultTurnOptions()); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("want ErrEmptyMessage, got %v", err)
	}
}

func TestHandleTurn_DirectGreeting(t *testing.T) {
	local := &scriptedProvider{name: "local", responses: []*providers.ChatResponse{{Content: "Привет! Как дела?"}}}
	o := newTestOrchestrator(t, local)

	res, err := o.HandleTurn(context.Background(), "owner", "Привет", DefaultTurnOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Route != router.RouteDirect {
		t.Errorf("route = %s", res.Route)
	}
	if res.Content != "Привет! Как дела?" {
		t.Errorf("content = %q", res.Content)
	}
	if got := local.calls.Load(); got != 1 {
		t.Errorf("local called %d times, want 1", got)
	}
	// Direct calls never advertise tools.
	if len(local.requests[0].Tools) != 0 {
		t.Error("tools sent on the direct path")
	}
	stats, _ := o.sessions.Stats("owner")
	if stats.ToolCalls != 0 {
		t.Errorf("tool_calls = %d", stats.ToolCalls)
	}
}

func TestHandleTurn_GodModeToggle(t *testing.T) {
	local := &scriptedProvider{name: "local", responses: []*providers.ChatResponse{{Content: "x"}}}
	o := newTestOrchestrator(t, local)

	res, err := o.HandleTurn(context.Background(), "owner", "включи режим бога", DefaultTurnOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Route != "toggle" || !strings.Contains(res.Content, "Режим бога") {
		t.Errorf("toggle reply wrong: %+v", res)
	}
	if !o.sessions.GodMode("owner") {
		t.Error("god mode not set")
	}
	if local.calls.Load() != 0 {
		t.Error("toggle must not call a model")
	}

	res, _ = o.HandleTurn(context.Background(), "owner", "выключи режим бога", DefaultTurnOptions())
	if o.sessions.GodMode("owner") {
		t.Error("god mode not cleared")
	}
	if !strings.Contains(res.Content, "Обычный режим") {
		t.Errorf("off ack wrong: %q", res.Content)
	}
}

func TestHandleTurn_ToolLoop(t *testing.T) {
	local := &scriptedProvider{name: "local", responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "1", Name: "yougile_create", Arguments: map[string]interface{}{"title": "купить молоко"}}}, FinishReason: "tool_calls"},
		{Content: "Готово, задача создана."},
	}}
	o := newTestOrchestrator(t, local)
	o.registry.Register(&tools.Tool{
		Name: "yougile_create",
		Handler: func(_ context.Context, args map[string]interface{}) (string, error) {
			return "✅ создано: " + args["title"].(string), nil
		},
	})

	res, err := o.HandleTurn(context.Background(), "owner", "добавь задачу: купить молоко", DefaultTurnOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Route != router.RouteAgent {
		t.Errorf("route = %s", res.Route)
	}
	if res.Content != "Готово, задача создана." {
		t.Errorf("content = %q", res.Content)
	}
	if len(res.ToolsUsed) != 1 || res.ToolsUsed[0] != "yougile_create" {
		t.Errorf("tools used = %v", res.ToolsUsed)
	}
	stats, _ := o.sessions.Stats("owner")
	if stats.ToolCalls != 1 {
		t.Errorf("session tool_calls = %d, want 1", stats.ToolCalls)
	}
	// Second request must carry the tool result back.
	var sawResult bool
	for _, m := range local.requests[1].Messages {
		if m.Role == "tool" && strings.Contains(m.Content, "✅ создано") {
			sawResult = true
		}
	}
	if !sawResult {
		t.Error("tool result not fed back to the model")
	}
}

func TestHandleTurn_IterationLimit(t *testing.T) {
	// The model keeps asking for tools and never answers.
	local := &scriptedProvider{name: "local", responses: []*providers.ChatResponse{
		{ToolCalls: []providers.ToolCall{{ID: "1", Name: "get_current_time", Arguments: map[string]interface{}{}}}},
	}}
	o := newTestOrchestrator(t, local)
	o.registry.Register(tools.NewTimeTool())
	o.cfg.Loop.MaxToolIterations = 3

	res, err := o.HandleTurn(context.Background(), "owner", "добавь задачу и проверь систему и погоду", DefaultTurnOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != iterationLimitReply {
		t.Errorf("content = %q", res.Content)
	}
	if local.calls.Load() != 3 {
		t.Errorf("model called %d times, want 3", local.calls.Load())
	}
}

func TestHandleTurn_DirectFallbackOnEmpty(t *testing.T) {
	// Direct call yields empty content; the turn falls back to an agent
	// iteration and still never returns empty to the client.
	local := &scriptedProvider{name: "local", responses: []*providers.ChatResponse{
		{Content: ""},
		{Content: "Вот ответ."},
	}}
	o := newTestOrchestrator(t, local)

	res, err := o.HandleTurn(context.Background(), "owner", "Привет", DefaultTurnOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Content != "Вот ответ." {
		t.Errorf("content = %q", res.Content)
	}
	if local.calls.Load() != 2 {
		t.Errorf("model called %d times, want 2", local.calls.Load())
	}
}

func TestHandleTurn_NeverEmptyContent(t *testing.T) {
	local := &scriptedProvider{name: "local", responses: []*providers.ChatResponse{{Content: ""}}}
	o := newTestOrchestrator(t, local)

	res, err := o.HandleTurn(context.Background(), "owner", "Привет", TurnOptions{EnableTools: false, Temperature: 0.7, MaxTokens: 100})
	if err != nil {
		t.Fatal(err)
	}
	if res.Content == "" {
		t.Fatal("empty content returned to client")
	}
	if res.Content != lastResort {
		t.Errorf("content = %q", res.Content)
	}
}

func TestHandleTurn_NonOwnerGetsFallbackPersona(t *testing.T) {
	local := &scriptedProvider{name: "local", responses: []*providers.ChatResponse{{Content: "ответ"}}}
	o := newTestOrchestrator(t, local)

	if _, err := o.HandleTurn(context.Background(), "guest42", "Привет", DefaultTurnOptions()); err != nil {
		t.Fatal(err)
	}
	system := local.requests[0].System
	if strings.Contains(system, "Персона") {
		t.Error("owner workspace leaked to non-owner caller")
	}
	if !strings.Contains(system, o.workspace.FallbackPersona()) {
		t.Error("fallback persona missing for non-owner")
	}
}

func TestFlush_SummaryPersistedAndCompacted(t *testing.T) {
	local := &scriptedProvider{name: "local", responses: []*providers.ChatResponse{
		{Content: "- владелец любит кофе\n- проект сдан в августе"},
	}}
	o := newTestOrchestrator(t, local)

	for i := 0; i < 6; i++ {
		o.sessions.Append("owner", "user", strings.Repeat("длинное сообщение ", 20), false)
	}
	if err := o.Flush(context.Background(), "owner"); err != nil {
		t.Fatal(err)
	}

	stats, _ := o.sessions.Stats("owner")
	if stats.Messages > 3 {
		t.Errorf("session not compacted: %d messages", stats.Messages)
	}
	if stats.FlushDone != 1 {
		t.Errorf("flush_done = %d", stats.FlushDone)
	}

	path := filepath.Join(o.cfg.Workspace.Path, "memory", time.Now().Format("2006-01-02")+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("memory file not written: %v", err)
	}
	if !strings.Contains(string(data), "любит кофе") {
		t.Errorf("summary missing from memory file:\n%s", data)
	}
}

func TestFlush_NothingImportantSkipsPersist(t *testing.T) {
	local := &scriptedProvider{name: "local", responses: []*providers.ChatResponse{{Content: flushNone}}}
	o := newTestOrchestrator(t, local)

	o.sessions.Append("owner", "user", "привет", false)
	if err := o.Flush(context.Background(), "owner"); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(o.cfg.Workspace.Path, "memory", time.Now().Format("2006-01-02")+".md")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("memory file written for an empty summary")
	}
}

func TestPersistFlushFacts_InsertsBullets(t *testing.T) {
	o := newTestOrchestrator(t, &scriptedProvider{name: "local", responses: []*providers.ChatResponse{{Content: "x"}}})

	o.persistFlushFacts(context.Background(), "owner", "- факт один\n\n- факт два")

	recs, err := o.store.MemoriesByCaller(context.Background(), "owner", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("want 2 records, got %d", len(recs))
	}
	for _, r := range recs {
		if r.MemoryType != "flush" || r.Confidence != 0.7 {
			t.Errorf("record = %+v", r)
		}
	}
}

func TestHubPublishSubscribe(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(Event{Type: EventFinal, Session: "owner"})
	select {
	case ev := <-ch:
		if ev.Type != EventFinal || ev.TS.IsZero() {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	if h.Subscribers() != 0 {
		t.Error("subscriber not removed")
	}
}

func TestBackground_RunsAndDrains(t *testing.T) {
	b := NewBackground(2, 8)
	var done atomic.Int32
	for i := 0; i < 5; i++ {
		b.Go("work", func(context.Context) { done.Add(1) })
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if done.Load() != 5 {
		t.Errorf("ran %d tasks, want 5", done.Load())
	}
}

func TestBackground_DropsWhenSaturated(t *testing.T) {
	b := NewBackground(1, 1)
	release := make(chan struct{})
	b.Go("blocker", func(context.Context) { <-release })
	time.Sleep(20 * time.Millisecond) // let the worker pick it up
	b.Go("queued", func(context.Context) {})
	b.Go("dropped", func(context.Context) {}) // queue full, must not block

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Close(ctx); err != nil {
		t.Fatal(err)
	}
}
