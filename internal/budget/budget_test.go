package budget

import (
	"strings"
	"testing"

	"github.com/animara-ai/animara/internal/providers"
)

func TestEstimate(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abc", 1},
		{"abcd", 2},
		{"привет", 2}, // 6 runes, not 12 bytes
	}
	for _, tc := range cases {
		if got := Estimate(tc.in); got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestMessagesTokens(t *testing.T) {
	msgs := []providers.Message{
		{Role: "user", Content: "abc"},    // 1 + 4
		{Role: "assistant", Content: ""},  // 0 + 4
	}
	if got := MessagesTokens(msgs); got != 9 {
		t.Errorf("MessagesTokens = %d, want 9", got)
	}
}

func TestMaxOutput(t *testing.T) {
	cases := []struct {
		name               string
		window, in, cap, s int
		want               int
		shrunk             bool
	}{
		{"plenty of room", 32768, 1000, 2000, 512, 2000, false},
		{"headroom limits", 32768, 31000, 2000, 512, 1256, true},
		{"floor holds", 32768, 32600, 2000, 512, 256, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, shrunk := MaxOutput(tc.window, tc.in, tc.cap, tc.s)
			if got != tc.want || shrunk != tc.shrunk {
				t.Errorf("MaxOutput = (%d, %v), want (%d, %v)", got, shrunk, tc.want, tc.shrunk)
			}
		})
	}
}

func ragSystem(ragRunes int) string {
	return "Ты — ассистент.\n" + RAGMarker + "\n" + strings.Repeat("п", ragRunes) + "\n## Правила\nНе выдумывай."
}

// TestTruncateOverflow_RAGOnly checks the key property of stage 1: when the
// RAG block alone covers the overflow, history is untouched.
func TestTruncateOverflow_RAGOnly(t *testing.T) {
	system := ragSystem(3000) // ~1000 tokens of RAG
	history := []providers.Message{
		{Role: "user", Content: strings.Repeat("и", 300)},
		{Role: "user", Content: "а что сейчас?"},
	}
	window := Estimate(system) + MessagesTokens(history) + 100 // min_response=256 ⇒ over by ~156

	gotSystem, gotHistory, applied := TruncateOverflow(system, history, window, 256)
	if len(gotHistory) != len(history) {
		t.Fatalf("history changed: %d -> %d messages", len(history), len(gotHistory))
	}
	if len(applied) == 0 || applied[0] != "rag_truncated" {
		t.Fatalf("applied = %v, want rag_truncated first", applied)
	}
	if got := Estimate(gotSystem) + MessagesTokens(gotHistory); got > window-256 {
		t.Errorf("still over budget: %d > %d", got, window-256)
	}
	if !strings.Contains(gotSystem, "Не выдумывай") {
		t.Error("text after the RAG block must survive")
	}
}

func TestTruncateOverflow_DropsRAGThenHistory(t *testing.T) {
	system := ragSystem(600)
	history := make([]providers.Message, 0, 30)
	for i := 0; i < 30; i++ {
		history = append(history, providers.Message{Role: "user", Content: strings.Repeat("д", 900)})
	}

	gotSystem, gotHistory, applied := TruncateOverflow(system, history, 2000, 256)
	if strings.Contains(gotSystem, RAGMarker) {
		t.Error("RAG block should be gone entirely")
	}
	if len(gotHistory) == 0 {
		t.Fatal("the last turn must always survive")
	}
	if gotHistory[len(gotHistory)-1].Content != history[len(history)-1].Content {
		t.Error("eviction must drop from the front")
	}
	joined := strings.Join(applied, ",")
	if !strings.Contains(joined, "rag_dropped") || !strings.Contains(joined, "history_dropped") {
		t.Errorf("applied = %v", applied)
	}
}

func TestTruncateOverflow_SystemTailLastResort(t *testing.T) {
	system := strings.Repeat("с", 30000) // no RAG block
	history := []providers.Message{{Role: "user", Content: "вопрос?"}}

	gotSystem, _, applied := TruncateOverflow(system, history, 1000, 256)
	if len(applied) == 0 || applied[len(applied)-1] != "system_truncated" {
		t.Fatalf("applied = %v", applied)
	}
	if Estimate(gotSystem) > 1000 {
		t.Errorf("system still too large: %d tokens", Estimate(gotSystem))
	}
	if Estimate(gotSystem) < 200 {
		t.Errorf("system shrank below its floor: %d tokens", Estimate(gotSystem))
	}
}

func TestTruncateOverflow_NoopWhenWithinBudget(t *testing.T) {
	system := "короткий промпт"
	history := []providers.Message{{Role: "user", Content: "привет"}}
	gotSystem, gotHistory, applied := TruncateOverflow(system, history, 32768, 256)
	if gotSystem != system || len(gotHistory) != 1 || applied != nil {
		t.Errorf("expected a no-op, got applied=%v", applied)
	}
}
