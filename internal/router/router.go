// Package router implements the deterministic two-level route classifier:
// mode toggles first, then tool patterns, then direct patterns, then a
// keyword score with a length default. First hit wins; the classifier never
// calls a model.
package router

import (
	"regexp"
	"strings"
	"sync/atomic"
)

// Routes.
const (
	RouteDirect = "direct"
	RouteAgent  = "agent"
)

// Decision is the classifier output.
type Decision struct {
	Route      string   `json:"route"`
	Tools      []string `json:"tools,omitempty"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`
}

// Toggle is a recognized god-mode switch with its canned acknowledgement.
type Toggle struct {
	On  bool
	Ack string
}

// Exact-match phrase lists (lowercased, trimmed). No partial-match
// fallback: a phrase inside a longer sentence does not toggle.
var (
	godModeOn = map[string]bool{
		"включи бога":       true,
		"режим бога":        true,
		"включи режим бога": true,
		"godmode on":        true,
		"god mode on":       true,
		"включи премиум":    true,
	}
	godModeOff = map[string]bool{
		"выключи бога":       true,
		"обычный режим":      true,
		"выключи режим бога": true,
		"godmode off":        true,
		"god mode off":       true,
		"выключи премиум":    true,
	}
)

const (
	ackOn  = "⚡ Режим бога включён. Отвечает премиум-модель."
	ackOff = "🌙 Обычный режим. Отвечает локальная модель."
)

// CheckToggle matches the closed god-mode phrase lists.
func CheckToggle(text string) (Toggle, bool) {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if godModeOn[normalized] {
		return Toggle{On: true, Ack: ackOn}, true
	}
	if godModeOff[normalized] {
		return Toggle{On: false, Ack: ackOff}, true
	}
	return Toggle{}, false
}

type toolPattern struct {
	re    *regexp.Regexp
	tools []string
}

// toolPatterns map request wording to the tool subset exposed to the loop.
// Evaluated in order; every match contributes its set.
var toolPatterns = []toolPattern{
	{regexp.MustCompile(`(?i)утренн\w+ (сводк|брифинг)|что у меня сегодня`),
		[]string{"get_current_time", "yougile_tasks", "web_search"}},
	{regexp.MustCompile(`(?i)задач\w*|таск\w*|доск\w*|канбан`),
		[]string{"yougile_tasks", "yougile_find", "yougile_create"}},
	{regexp.MustCompile(`(?i)добавь|создай|запиши в доску`),
		[]string{"yougile_create"}},
	{regexp.MustCompile(`(?i)интернет|новост\w*|погод\w*|загугли|найди в сети`),
		[]string{"web_search", "web_fetch"}},
	{regexp.MustCompile(`(?i)открой (страницу|сайт|ссылку)|по ссылке`),
		[]string{"web_fetch"}},
	{regexp.MustCompile(`(?i)помнишь|вспомни|что ты знаешь обо мне|моя памят\w*`),
		[]string{"memory_search"}},
	{regexp.MustCompile(`(?i)который час|сколько времени|какое сегодня число|какой сегодня день`),
		[]string{"get_current_time"}},
	{regexp.MustCompile(`(?i)систем\w*|сервер\w*|gpu|видеокарт\w*|docker|диск\w*|память сервера`),
		[]string{"system_check"}},
}

// directPatterns catch turns that never need tools.
var directPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(привет|здравствуй|добрый (день|вечер|утро)|хай|ку)\b`),
	regexp.MustCompile(`(?i)^(спасибо|благодарю|пасиб)`),
	regexp.MustCompile(`(?i)^(пока|до свидания|до завтра|спокойной ночи)`),
	regexp.MustCompile(`(?i)кто ты|как тебя зовут|что ты умеешь|ты кто`),
	regexp.MustCompile(`(?i)^что такое |^кто такой |объясни|расскажи про`),
	regexp.MustCompile(`(?i)напиши (код|функцию|стих)|переведи|сократи|перескажи`),
	regexp.MustCompile(`(?i)как (ты )?думаешь|твоё мнение|посоветуй`),
}

// toolKeywords feed the fallback overlap score. Each keyword carries the
// best-guess tool set for turns that reach this level; the matched sets are
// unioned into the decision.
var toolKeywords = map[string][]string{
	"задача": {"yougile_tasks", "yougile_find", "yougile_create"},
	"задачу": {"yougile_tasks", "yougile_find", "yougile_create"},
	"задачи": {"yougile_tasks", "yougile_find", "yougile_create"},
	"доска":  {"yougile_tasks", "yougile_find", "yougile_create"},
	"создай": {"yougile_create"},

	"найди":   {"web_search", "web_fetch"},
	"поиск":   {"web_search", "web_fetch"},
	"новости": {"web_search", "web_fetch"},
	"погода":  {"web_search", "web_fetch"},

	"время": {"get_current_time"},
	"час":   {"get_current_time"},

	"сервер":  {"system_check"},
	"система": {"system_check"},
	"проверь": {"system_check"},

	"помнишь": {"memory_search"},
	"память":  {"memory_search"},
}

// Router classifies turns and keeps cumulative counters.
type Router struct {
	direct atomic.Int64
	agent  atomic.Int64
	total  atomic.Int64
}

// New creates a router.
func New() *Router { return &Router{} }

// Stats are the cumulative routing counters.
type Stats struct {
	Direct int64 `json:"direct"`
	Agent  int64 `json:"agent"`
	Total  int64 `json:"total"`
}

// Stats returns a snapshot of the counters.
func (r *Router) Stats() Stats {
	return Stats{Direct: r.direct.Load(), Agent: r.agent.Load(), Total: r.total.Load()}
}

// Classify routes one user turn. Toggles are handled by the caller via
// CheckToggle before classification.
func (r *Router) Classify(text string) Decision {
	d := r.classify(text)
	r.total.Add(1)
	if d.Route == RouteAgent {
		r.agent.Add(1)
	} else {
		r.direct.Add(1)
	}
	return d
}

func (r *Router) classify(text string) Decision {
	trimmed := strings.TrimSpace(text)

	// Slash commands go to the agent with every tool available.
	if strings.HasPrefix(trimmed, "/") {
		return Decision{Route: RouteAgent, Confidence: 1.0, Reason: "slash_command"}
	}

	// Level 2: tool-pattern table. Union of every matching set, conf 0.9.
	var tools []string
	seen := map[string]bool{}
	for _, tp := range toolPatterns {
		if tp.re.MatchString(trimmed) {
			for _, tool := range tp.tools {
				if !seen[tool] {
					seen[tool] = true
					tools = append(tools, tool)
				}
			}
		}
	}
	if len(tools) > 0 {
		return Decision{Route: RouteAgent, Tools: tools, Confidence: 0.9, Reason: "tool_pattern"}
	}

	// Level 3: direct-pattern table.
	for _, re := range directPatterns {
		if re.MatchString(trimmed) {
			return Decision{Route: RouteDirect, Confidence: 0.85, Reason: "direct_pattern"}
		}
	}

	// Level 4: keyword overlap score, then length default.
	words := strings.Fields(strings.ToLower(trimmed))
	overlap := 0
	var kwTools []string
	kwSeen := map[string]bool{}
	for _, w := range words {
		set, ok := toolKeywords[strings.Trim(w, ".,!?:;")]
		if !ok {
			continue
		}
		overlap++
		for _, tool := range set {
			if !kwSeen[tool] {
				kwSeen[tool] = true
				kwTools = append(kwTools, tool)
			}
		}
	}
	score := float64(overlap) / 3
	if score > 1 {
		score = 1
	}
	if score > 0.5 {
		return Decision{Route: RouteAgent, Tools: kwTools, Confidence: score, Reason: "keyword_score"}
	}

	if len(words) <= 8 {
		return Decision{Route: RouteDirect, Confidence: 0.6, Reason: "short_default"}
	}
	return Decision{Route: RouteAgent, Confidence: 0.5, Reason: "long_default"}
}
