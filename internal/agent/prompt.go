package agent

import (
	"context"
	"log/slog"
	"strings"

	"github.com/animara-ai/animara/internal/budget"
	"github.com/animara-ai/animara/internal/retrieval"
)

const recentContextMessages = 6

// composeSystem builds the system prompt: workspace context (owner only),
// the RAG block when retrieval triggers, and the recent session context.
// The tool manifest is appended later, only on the agent path.
func (o *Orchestrator) composeSystem(ctx context.Context, callerID, text string, enableTools bool) string {
	var parts []string

	if callerID == o.cfg.Identity.OwnerID {
		if wc := o.workspace.Context(); wc != "" {
			parts = append(parts, wc)
		} else {
			parts = append(parts, o.workspace.FallbackPersona())
		}
	} else {
		parts = append(parts, o.workspace.FallbackPersona())
	}

	if retrieval.ShouldRetrieve(text) {
		if block := o.ragBlock(ctx, callerID, text); block != "" {
			parts = append(parts, block)
		}
	}

	if sc := o.sessions.Context(callerID, recentContextMessages); sc != "" {
		parts = append(parts, "## Недавний разговор:\n"+sc)
	}

	return strings.Join(parts, "\n\n")
}

// ragBlock runs the hybrid retriever and renders hits under the budget
// marker so overflow trimming can find the section.
func (o *Orchestrator) ragBlock(ctx context.Context, callerID, query string) string {
	hits, err := o.retriever.Search(ctx, query, callerID)
	if err != nil {
		slog.Warn("agent.retrieval.failed", "caller", callerID, "error", err)
		return ""
	}
	if len(hits) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(budget.RAGMarker)
	for _, h := range hits {
		b.WriteString("\n- ")
		b.WriteString(strings.TrimSpace(h))
	}
	return b.String()
}
