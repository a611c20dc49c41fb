package sessions

import (
	"log/slog"
	"sync"
	"time"

	"github.com/animara-ai/animara/internal/providers"
)

// Config bounds every session the manager owns.
type Config struct {
	MaxMessages        int           // M, ring capacity
	PruneAfterMessages int           // N, assistant messages before tool pruning
	PruneToolMaxChars  int           // pruned tool result cap
	FlushThreshold     int           // T_flush in tokens
	Timeout            time.Duration // T_idle
}

// DefaultConfig mirrors the production tuning.
func DefaultConfig() Config {
	return Config{
		MaxMessages:        20,
		PruneAfterMessages: 3,
		PruneToolMaxChars:  200,
		FlushThreshold:     28000,
		Timeout:            30 * time.Minute,
	}
}

// Manager owns all sessions, keyed by caller id. Every operation holds the
// manager lock, so token accounting and message ordering stay consistent
// under concurrent turns.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cfg      Config

	// turnLocks serializes whole turns per caller (lock spans retrieval,
	// backend calls and appends, so it lives outside mu).
	turnLocks sync.Map // caller id -> *sync.Mutex
}

// NewManager creates an empty session manager.
func NewManager(cfg Config) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
	}
}

// TurnLock returns the per-caller mutex serializing full turns.
func (m *Manager) TurnLock(callerID string) *sync.Mutex {
	v, _ := m.turnLocks.LoadOrStore(callerID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// GetOrCreate returns the caller's session id, replacing an expired session
// with a fresh one.
func (m *Manager) GetOrCreate(callerID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(callerID).ID
}

func (m *Manager) getOrCreateLocked(callerID string) *Session {
	if s, ok := m.sessions[callerID]; ok {
		if time.Since(s.LastActivity) <= m.cfg.Timeout {
			return s
		}
		slog.Info("session.expired", "caller", callerID, "id", s.ID)
		delete(m.sessions, callerID)
	}
	s := newSession(callerID)
	m.sessions[callerID] = s
	slog.Debug("session.created", "caller", callerID, "id", s.ID)
	return s
}

// Append ingests a message into the caller's session.
func (m *Manager) Append(callerID, role, content string, isToolResult bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreateLocked(callerID).append(role, content, isToolResult, m.cfg)
}

// History returns the session messages as provider messages (a copy).
func (m *Manager) History(callerID string) []providers.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[callerID]; ok {
		return s.history()
	}
	return nil
}

// Context formats the last k messages for prompt inclusion.
func (m *Manager) Context(callerID string, k int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[callerID]; ok {
		return s.context(k, 300)
	}
	return ""
}

// Compact keeps the last 3 messages and bumps the flush counter.
func (m *Manager) Compact(callerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[callerID]; ok {
		s.compact()
		slog.Info("session.compacted", "caller", callerID, "flush_counter", s.FlushCounter)
	}
}

// NeedsFlush reports whether the session crossed the flush threshold.
func (m *Manager) NeedsFlush(callerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[callerID]
	return ok && s.TotalTokens > m.cfg.FlushThreshold
}

// Stats returns the observable summary, or false when no session exists.
func (m *Manager) Stats(callerID string) (Stats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[callerID]
	if !ok {
		return Stats{}, false
	}
	return Stats{
		ID:             s.ID,
		Messages:       len(s.Messages),
		TotalTokens:    s.TotalTokens,
		FlushThreshold: m.cfg.FlushThreshold,
		NeedsFlush:     s.TotalTokens > m.cfg.FlushThreshold,
		FlushDone:      s.FlushCounter,
		ToolCalls:      s.ToolCalls,
		GodMode:        s.GodMode,
	}, true
}

// SetGodMode flips the premium-routing flag; no other state is touched.
func (m *Manager) SetGodMode(callerID string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getOrCreateLocked(callerID).GodMode = on
}

// GodMode reads the premium-routing flag.
func (m *Manager) GodMode(callerID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[callerID]
	return ok && s.GodMode
}

// IncToolCalls counts one executed tool call.
func (m *Manager) IncToolCalls(callerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[callerID]; ok {
		s.ToolCalls++
	}
}

// MarkFactSeen records a mined fact, returning false when the exact content
// was already seen this session.
func (m *Manager) MarkFactSeen(callerID, content string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getOrCreateLocked(callerID)
	if s.FactsSeen[content] {
		return false
	}
	s.FactsSeen[content] = true
	return true
}

// SeenFacts returns the facts mined this session.
func (m *Manager) SeenFacts(callerID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[callerID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.FactsSeen))
	for f := range s.FactsSeen {
		out = append(out, f)
	}
	return out
}

// ActiveCount reports the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// End removes the caller's session and returns its final context for an
// optional finalize summary.
func (m *Manager) End(callerID string) (Stats, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callerID]
	if !ok {
		return Stats{}, "", false
	}
	stats := Stats{
		ID: s.ID, Messages: len(s.Messages), TotalTokens: s.TotalTokens,
		FlushThreshold: m.cfg.FlushThreshold, FlushDone: s.FlushCounter,
		ToolCalls: s.ToolCalls, GodMode: s.GodMode,
	}
	ctx := s.context(6, 300)
	delete(m.sessions, callerID)
	slog.Info("session.ended", "caller", callerID, "id", s.ID)
	return stats, ctx, true
}

// SweepExpired drops idle sessions and returns their caller ids with the
// final context of each, for finalize summaries.
func (m *Manager) SweepExpired() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	expired := make(map[string]string)
	for caller, s := range m.sessions {
		if time.Since(s.LastActivity) > m.cfg.Timeout {
			expired[caller] = s.context(6, 300)
			delete(m.sessions, caller)
			slog.Info("session.swept", "caller", caller, "id", s.ID)
		}
	}
	return expired
}
