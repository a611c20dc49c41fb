// Package sessions owns per-caller turn state: the bounded message ring,
// token accounting, tool-result pruning, expiry and compaction. All access
// goes through the Manager, which serializes operations per session.
package sessions

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"

	"github.com/animara-ai/animara/internal/budget"
	"github.com/animara-ai/animara/internal/providers"
)

// prunedMarker closes a truncated tool result so pruning is applied once.
const prunedMarker = " [pruned]"

// Message is one session entry. TokenEstimate is fixed at append time and
// only adjusted when the content itself is truncated by pruning.
type Message struct {
	Role          string    `json:"role"`
	Content       string    `json:"content"`
	TS            time.Time `json:"ts"`
	TokenEstimate int       `json:"token_estimate"`
	IsToolResult  bool      `json:"is_tool_result"`
	Pruned        bool      `json:"pruned,omitempty"`
}

// Session is the per-caller state. Fields are mutated only under the
// Manager's lock.
type Session struct {
	ID           string
	CallerID     string
	Messages     []Message
	TotalTokens  int
	CreatedAt    time.Time
	LastActivity time.Time
	GodMode      bool
	ToolCalls    int
	FactsSeen    map[string]bool
	FlushCounter int
}

func newSession(callerID string) *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		CallerID:     callerID,
		FactsSeen:    make(map[string]bool),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Stats is the observable session summary exposed on the HTTP surface.
type Stats struct {
	ID             string `json:"id"`
	Messages       int    `json:"messages"`
	TotalTokens    int    `json:"total_tokens"`
	FlushThreshold int    `json:"flush_threshold"`
	NeedsFlush     bool   `json:"needs_flush"`
	FlushDone      int    `json:"flush_done"`
	ToolCalls      int    `json:"tool_calls"`
	GodMode        bool   `json:"god_mode"`
}

// append adds a message, updates accounting, prunes old tool results and
// evicts from the front of the ring.
func (s *Session) append(role, content string, isToolResult bool, cfg Config) {
	msg := Message{
		Role:          role,
		Content:       content,
		TS:            time.Now(),
		TokenEstimate: budget.Estimate(content),
		IsToolResult:  isToolResult,
	}
	s.Messages = append(s.Messages, msg)
	s.TotalTokens += msg.TokenEstimate
	s.LastActivity = msg.TS

	s.pruneToolResults(cfg)

	for len(s.Messages) > cfg.MaxMessages {
		s.TotalTokens -= s.Messages[0].TokenEstimate
		s.Messages = s.Messages[1:]
	}
}

// pruneToolResults truncates tool results that precede the N-th most-recent
// assistant message. Each result is truncated exactly once.
func (s *Session) pruneToolResults(cfg Config) {
	cutoff := s.nthRecentAssistantIndex(cfg.PruneAfterMessages)
	if cutoff < 0 {
		return
	}
	for i := 0; i < cutoff; i++ {
		m := &s.Messages[i]
		if !m.IsToolResult || m.Pruned {
			continue
		}
		if len([]rune(m.Content)) <= cfg.PruneToolMaxChars {
			m.Pruned = true
			continue
		}
		truncated := string([]rune(m.Content)[:cfg.PruneToolMaxChars]) + prunedMarker
		s.TotalTokens -= m.TokenEstimate
		m.Content = truncated
		m.TokenEstimate = budget.Estimate(truncated)
		m.Pruned = true
		s.TotalTokens += m.TokenEstimate
	}
}

// nthRecentAssistantIndex returns the index of the n-th most-recent
// assistant message, or -1 when fewer exist.
func (s *Session) nthRecentAssistantIndex(n int) int {
	seen := 0
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == "assistant" {
			seen++
			if seen == n {
				return i
			}
		}
	}
	return -1
}

// compact retains the last 3 messages, recomputes the token counter and
// increments the flush counter.
func (s *Session) compact() {
	if len(s.Messages) > 3 {
		s.Messages = append([]Message(nil), s.Messages[len(s.Messages)-3:]...)
	}
	total := 0
	for _, m := range s.Messages {
		total += m.TokenEstimate
	}
	s.TotalTokens = total
	s.FlushCounter++
}

// context formats the last k messages with role labels, capping each
// content at maxChars of display width.
func (s *Session) context(k, maxChars int) string {
	msgs := s.Messages
	if len(msgs) > k {
		msgs = msgs[len(msgs)-k:]
	}
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(roleLabel(m.Role))
		b.WriteString(": ")
		b.WriteString(runewidth.Truncate(m.Content, maxChars, "…"))
		b.WriteString("\n")
	}
	return b.String()
}

func roleLabel(role string) string {
	switch role {
	case "user":
		return "Пользователь"
	case "assistant":
		return "Ассистент"
	case "tool":
		return "Инструмент"
	default:
		return "Система"
	}
}

// history converts the ring into provider messages (tool results become
// tool-role turns).
func (s *Session) history() []providers.Message {
	out := make([]providers.Message, 0, len(s.Messages))
	for _, m := range s.Messages {
		role := m.Role
		if m.IsToolResult {
			role = "tool"
		}
		out = append(out, providers.Message{Role: role, Content: m.Content})
	}
	return out
}
