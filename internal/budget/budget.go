// Package budget implements character-based token accounting for the proxy:
// estimation, dynamic response headroom, and three-stage context trimming.
package budget

import (
	"strings"
	"unicode/utf8"

	"github.com/animara-ai/animara/internal/providers"
)

// RAGMarker opens the retrieved-memory section inside the system prompt.
// The overflow trimmer finds the block by this exact line.
const RAGMarker = "## Релевантная информация из памяти:"

const (
	// perMessageOverhead approximates role/formatting tokens per message.
	perMessageOverhead = 4
	// charsPerToken is tuned for Cyrillic-heavy input; Latin text estimates
	// slightly high, which the safety reserve absorbs.
	charsPerToken = 3
	// systemFloorTokens is the smallest the system prompt may shrink to.
	systemFloorTokens = 200
	// outputFloor is the hard minimum response budget.
	outputFloor = 256
)

// Estimate returns the token estimate for a text: max(1, ⌈runes/3⌉),
// 0 for empty text.
func Estimate(s string) int {
	if s == "" {
		return 0
	}
	n := utf8.RuneCountInString(s)
	tokens := (n + charsPerToken - 1) / charsPerToken
	if tokens < 1 {
		return 1
	}
	return tokens
}

// MessagesTokens sums the per-message estimates plus fixed overhead.
func MessagesTokens(msgs []providers.Message) int {
	total := 0
	for _, m := range msgs {
		total += Estimate(m.Content) + perMessageOverhead
	}
	return total
}

// MaxOutput computes the dynamic response budget:
// clamp(contextWindow − input − reserve, 256, responseCap).
// The second return is true when the budget had to shrink below the cap.
func MaxOutput(contextWindow, input, responseCap, reserve int) (int, bool) {
	headroom := contextWindow - input - reserve
	if headroom >= responseCap {
		return responseCap, false
	}
	if headroom < outputFloor {
		return outputFloor, true
	}
	return headroom, true
}

// TruncateOverflow fits (system, history) into contextWindow − minResponse
// estimated tokens. Trim priority: the RAG block inside the system prompt,
// then the oldest non-system history, then the system prompt tail. The last
// user turn always survives. Returns the trimmed pair and the stages applied.
func TruncateOverflow(system string, history []providers.Message, contextWindow, minResponse int) (string, []providers.Message, []string) {
	budget := contextWindow - minResponse
	var applied []string

	over := Estimate(system) + MessagesTokens(history) - budget
	if over <= 0 {
		return system, history, nil
	}

	// Stage 1: shrink or drop the RAG block.
	if block, start, end := findRAGBlock(system); block != "" {
		blockTokens := Estimate(block)
		if blockTokens > over {
			keepRunes := (blockTokens - over) * charsPerToken
			system = system[:start] + truncateRunes(block, keepRunes) + system[end:]
			applied = append(applied, "rag_truncated")
		} else {
			system = system[:start] + system[end:]
			applied = append(applied, "rag_dropped")
		}
		over = Estimate(system) + MessagesTokens(history) - budget
		if over <= 0 {
			return system, history, applied
		}
	}

	// Stage 2: evict oldest history, keeping at least the final turn.
	dropped := 0
	for over > 0 && len(history) > 1 {
		over -= Estimate(history[0].Content) + perMessageOverhead
		history = history[1:]
		dropped++
	}
	if dropped > 0 {
		applied = append(applied, "history_dropped")
	}
	if over <= 0 {
		return system, history, applied
	}

	// Stage 3: cut the system prompt tail down to its floor.
	keepTokens := budget - MessagesTokens(history)
	if keepTokens < systemFloorTokens {
		keepTokens = systemFloorTokens
	}
	if Estimate(system) > keepTokens {
		system = truncateRunes(system, keepTokens*charsPerToken)
		applied = append(applied, "system_truncated")
	}
	return system, history, applied
}

// findRAGBlock locates the retrieved-memory section: from the marker line to
// the next "## " heading or the end of the prompt.
func findRAGBlock(system string) (block string, start, end int) {
	start = strings.Index(system, RAGMarker)
	if start < 0 {
		return "", 0, 0
	}
	rest := system[start+len(RAGMarker):]
	if next := strings.Index(rest, "\n## "); next >= 0 {
		end = start + len(RAGMarker) + next
	} else {
		end = len(system)
	}
	return system[start:end], start, end
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
