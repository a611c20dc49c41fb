package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/animara-ai/animara/internal/agent"
	"github.com/animara-ai/animara/internal/budget"
)

// chatRequest is the accepted OpenAI-style body.
type chatRequest struct {
	Model    string `json:"model,omitempty"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	PersonID  string `json:"person_id,omitempty"`
	ExtraBody *struct {
		PersonID string `json:"person_id,omitempty"`
	} `json:"extra_body,omitempty"`
	EnableTools *bool    `json:"enable_tools,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	ShowStats   *bool    `json:"show_stats,omitempty"`
}

// callerID resolves the caller: top-level person_id, then extra_body, then
// the configured default.
func (s *Server) callerID(req *chatRequest) string {
	if req.PersonID != "" {
		return req.PersonID
	}
	if req.ExtraBody != nil && req.ExtraBody.PersonID != "" {
		return req.ExtraBody.PersonID
	}
	if s.cfg.Identity.DefaultCallerID != "" {
		return s.cfg.Identity.DefaultCallerID
	}
	return s.cfg.Identity.OwnerID
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages required")
		return
	}

	// The last user message is the turn content.
	var text string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			text = req.Messages[i].Content
			break
		}
	}
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, "empty user message")
		return
	}

	caller := s.callerID(&req)
	opts := agent.DefaultTurnOptions()
	opts.Model = req.Model
	if req.EnableTools != nil {
		opts.EnableTools = *req.EnableTools
	}
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		opts.MaxTokens = *req.MaxTokens
	}

	result, err := s.orch.HandleTurn(r.Context(), caller, text, opts)
	if err != nil {
		if errors.Is(err, agent.ErrEmptyMessage) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("http.chat.failed", "caller", caller, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]interface{}{
		"id":      "chatcmpl-" + time.Now().Format("20060102150405"),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   result.Model,
		"choices": []map[string]interface{}{
			{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": result.Content},
				"finish_reason": "stop",
			},
		},
	}
	if req.ShowStats == nil || *req.ShowStats {
		stats, _ := s.sessions.Stats(caller)
		animara := map[string]interface{}{
			"session": stats,
			"model":   result.Model,
			"route":   result.Route,
		}
		if len(result.ToolsUsed) > 0 {
			animara["tools_used"] = result.ToolsUsed
		}
		resp["animara_stats"] = animara
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if !s.ready.Load() {
		status = "initializing"
	}
	healthy, failed := 0, 0
	if s.mcp != nil {
		healthy, failed = s.mcp.Counts()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          status,
		"version":         s.version,
		"features":        []string{"sessions", "hybrid_search", "tools", "godmode", "flush"},
		"tools":           s.registry.Names(),
		"active_sessions": s.sessions.ActiveCount(),
		"bm25_docs":       s.retriever.IndexSize(),
		"mcp": map[string]interface{}{
			"healthy_servers": healthy,
			"failed_servers":  failed,
			"agent_available": s.premium != nil && s.premium.Available(),
		},
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	raw, err := s.local.ListModels(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "models: "+err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	caller := r.PathValue("caller")
	stats, ok := s.sessions.Stats(caller)
	if !ok {
		writeError(w, http.StatusNotFound, "no session for "+caller)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": stats,
		"facts":   s.sessions.SeenFacts(caller),
	})
}

func (s *Server) handleSessionEnd(w http.ResponseWriter, r *http.Request) {
	caller := r.PathValue("caller")
	stats, ok := s.orch.Finalize(caller)
	if !ok {
		writeError(w, http.StatusNotFound, "no session for "+caller)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ended": true, "session": stats})
}

func (s *Server) handleSessionFlush(w http.ResponseWriter, r *http.Request) {
	caller := r.PathValue("caller")
	if _, ok := s.sessions.Stats(caller); !ok {
		writeError(w, http.StatusNotFound, "no session for "+caller)
		return
	}

	lock := s.sessions.TurnLock(caller)
	lock.Lock()
	defer lock.Unlock()

	if err := s.orch.Flush(r.Context(), caller); err != nil {
		writeError(w, http.StatusInternalServerError, "flush: "+err.Error())
		return
	}
	stats, _ := s.sessions.Stats(caller)
	writeJSON(w, http.StatusOK, map[string]interface{}{"flushed": true, "session": stats})
}

func (s *Server) handleWorkspaceGet(w http.ResponseWriter, _ *http.Request) {
	content := s.workspace.Context()
	preview := content
	if r := []rune(preview); len(r) > 500 {
		preview = string(r[:500])
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chars":   len([]rune(content)),
		"tokens":  budget.Estimate(content),
		"preview": preview,
	})
}

func (s *Server) handleWorkspaceWrite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Content) == "" {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}
	if err := s.workspace.AppendMemory("заметка", body.Content); err != nil {
		writeError(w, http.StatusInternalServerError, "write: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"written": true})
}

func (s *Server) handleToolsList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": s.registry.Names()})
}

func (s *Server) handleToolInvoke(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var body struct {
		Params map[string]interface{} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err.Error() != "EOF" {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if !s.registry.Has(name) {
		writeError(w, http.StatusNotFound, "unknown tool: "+name)
		return
	}
	res := s.registry.Execute(r.Context(), name, body.Params)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":    res.ForLLM,
		"is_error":  res.IsError,
		"truncated": res.Truncated,
	})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()
	n, err := s.retriever.RebuildIndex(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "rebuild: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rebuilt": true, "documents": n})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q required")
		return
	}
	caller := r.URL.Query().Get("person_id")
	if caller == "" {
		caller = s.cfg.Identity.OwnerID
	}
	hits, err := s.retriever.Search(r.Context(), q, caller)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"query": q, "results": hits})
}

func (s *Server) handleGodmodeGet(w http.ResponseWriter, r *http.Request) {
	available := s.premium != nil && s.premium.Available()
	resp := map[string]interface{}{"available": available}
	if available {
		resp["model"] = s.premium.DefaultModel()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGodmodeModel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Model) == "" {
		writeError(w, http.StatusBadRequest, "model required")
		return
	}
	if s.premium == nil || !s.premium.Available() {
		writeError(w, http.StatusServiceUnavailable, "premium backend not configured")
		return
	}
	s.premium.SetModel(body.Model)
	writeJSON(w, http.StatusOK, map[string]string{"model": body.Model})
}

func (s *Server) handleGodmodeRefresh(w http.ResponseWriter, r *http.Request) {
	if s.premium == nil || !s.premium.Available() {
		writeError(w, http.StatusServiceUnavailable, "premium backend not configured")
		return
	}
	if err := s.premium.Ping(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "ping: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "model": s.premium.DefaultModel()})
}
