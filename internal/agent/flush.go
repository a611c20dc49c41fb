package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animara-ai/animara/internal/providers"
	"github.com/animara-ai/animara/internal/sessions"
	"github.com/animara-ai/animara/internal/store"
)

const (
	flushNone        = "НЕТ_ВАЖНОГО"
	flushConfidence  = 0.7
	flushTemperature = 0.3
	flushMaxTokens   = 500
	flushTimeout     = 60 * time.Second
)

const flushPrompt = `Ниже разговор с пользователем. Выдели из него 3-7 фактов,
которые стоит запомнить надолго (важные события, решения, предпочтения,
данные о пользователе). Каждый факт с новой строки, начиная с "- ".
Если ничего важного нет, напиши ровно одно слово: ` + flushNone + `.`

// Flush summarizes an oversize session into durable memory, then compacts
// the ring. Persistence failures are non-fatal: compaction still happens and
// the flush may retry on the next turn.
func (o *Orchestrator) Flush(ctx context.Context, callerID string) error {
	conversation := o.sessions.Context(callerID, o.cfg.Session.MaxMessages)
	if conversation == "" {
		return nil
	}

	summary, err := o.summarize(ctx, conversation)
	if err != nil {
		return fmt.Errorf("flush summary: %w", err)
	}

	if summary != "" {
		if err := o.workspace.AppendMemory("flush", summary); err != nil {
			slog.Warn("agent.flush.workspace_failed", "caller", callerID, "error", err)
		}
		o.bg.Go("flush-persist", func(bctx context.Context) {
			o.persistFlushFacts(bctx, callerID, summary)
		})
	}

	o.sessions.Compact(callerID)
	slog.Info("agent.flush.done", "caller", callerID, "summary_chars", len(summary))
	return nil
}

// summarize asks the local model for durable facts; an empty string means
// nothing worth keeping.
func (o *Orchestrator) summarize(ctx context.Context, conversation string) (string, error) {
	sctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	resp, err := o.local.Chat(sctx, providers.ChatRequest{
		System:   flushPrompt,
		Messages: []providers.Message{{Role: "user", Content: conversation}},
		Options: map[string]interface{}{
			providers.OptMaxTokens:   flushMaxTokens,
			providers.OptTemperature: flushTemperature,
		},
	})
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" || strings.Contains(summary, flushNone) {
		return "", nil
	}
	return summary, nil
}

// Finalize tears a session down and schedules a farewell summary of its
// remaining context.
func (o *Orchestrator) Finalize(callerID string) (sessions.Stats, bool) {
	stats, finalContext, ok := o.sessions.End(callerID)
	if !ok {
		return stats, false
	}
	if finalContext != "" {
		o.bg.Go("finalize", func(bctx context.Context) {
			summary, err := o.summarize(bctx, finalContext)
			if err != nil {
				slog.Warn("agent.finalize.summary_failed", "caller", callerID, "error", err)
				return
			}
			if summary == "" {
				return
			}
			if err := o.workspace.AppendMemory("сессия завершена", summary); err != nil {
				slog.Warn("agent.finalize.workspace_failed", "caller", callerID, "error", err)
			}
			o.persistFlushFacts(bctx, callerID, summary)
		})
	}
	return stats, true
}

// Sweep finalizes every expired session. Called from the maintenance loop.
func (o *Orchestrator) Sweep() int {
	swept := o.sessions.SweepExpired()
	for callerID, finalContext := range swept {
		if finalContext == "" {
			continue
		}
		o.bg.Go("sweep-finalize", func(bctx context.Context) {
			summary, err := o.summarize(bctx, finalContext)
			if err != nil || summary == "" {
				return
			}
			if err := o.workspace.AppendMemory("сессия истекла", summary); err != nil {
				slog.Warn("agent.sweep.workspace_failed", "caller", callerID, "error", err)
			}
			o.persistFlushFacts(bctx, callerID, summary)
		})
	}
	return len(swept)
}

// persistFlushFacts embeds each bullet line of the summary and inserts it as
// a flush-type memory record.
func (o *Orchestrator) persistFlushFacts(ctx context.Context, callerID, summary string) {
	for _, line := range strings.Split(summary, "\n") {
		content := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-•*"))
		if content == "" {
			continue
		}
		embedding, err := o.embedder.Embed(ctx, content)
		if err != nil {
			slog.Warn("agent.flush.embed_failed", "caller", callerID, "error", err)
			continue
		}
		now := time.Now()
		rec := &store.MemoryRecord{
			ID:         uuid.NewString(),
			CallerID:   callerID,
			Content:    content,
			Embedding:  embedding,
			MemoryType: "flush",
			Confidence: flushConfidence,
			Active:     true,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := o.store.InsertMemory(ctx, rec); err != nil {
			slog.Warn("agent.flush.insert_failed", "caller", callerID, "error", err)
		}
	}
}
