package router

import (
	"testing"
)

func TestCheckToggle(t *testing.T) {
	cases := []struct {
		in      string
		matched bool
		on      bool
	}{
		{"включи бога", true, true},
		{"  Режим Бога  ", true, true},
		{"godmode on", true, true},
		{"выключи бога", true, false},
		{"обычный режим", true, false},
		{"расскажи про режим бога в играх", false, false}, // no partial match
		{"привет", false, false},
	}
	for _, tc := range cases {
		toggle, ok := CheckToggle(tc.in)
		if ok != tc.matched {
			t.Errorf("CheckToggle(%q) matched = %v, want %v", tc.in, ok, tc.matched)
			continue
		}
		if ok && toggle.On != tc.on {
			t.Errorf("CheckToggle(%q) on = %v, want %v", tc.in, toggle.On, tc.on)
		}
		if ok && toggle.Ack == "" {
			t.Errorf("CheckToggle(%q): empty acknowledgement", tc.in)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		in        string
		wantRoute string
		wantTool  string // one tool that must be in the set; "" = don't care
	}{
		// Tool patterns.
		{"добавь задачу: купить молоко", RouteAgent, "yougile_create"},
		{"что на моей доске?", RouteAgent, "yougile_tasks"},
		{"какая погода в Москве?", RouteAgent, "web_search"},
		{"найди в сети свежие новости", RouteAgent, "web_search"},
		{"что ты помнишь обо мне?", RouteAgent, "memory_search"},
		{"который час?", RouteAgent, "get_current_time"},
		{"проверь gpu на сервере", RouteAgent, "system_check"},
		{"утренняя сводка", RouteAgent, "yougile_tasks"},

		// Direct patterns.
		{"привет", RouteDirect, ""},
		{"спасибо большое", RouteDirect, ""},
		{"кто ты такой?", RouteDirect, ""},
		{"что такое квантовая запутанность", RouteDirect, ""},
		{"напиши стих про осень", RouteDirect, ""},
		{"переведи hello на французский", RouteDirect, ""},
		{"как ты думаешь, стоит ли?", RouteDirect, ""},

		// Defaults.
		{"угу", RouteDirect, ""},
		{"/unknowncmd", RouteAgent, ""},
	}

	for _, tc := range cases {
		r := New()
		d := r.Classify(tc.in)
		if d.Route != tc.wantRoute {
			t.Errorf("Classify(%q) route = %s (%s), want %s", tc.in, d.Route, d.Reason, tc.wantRoute)
			continue
		}
		if tc.wantTool != "" && !contains(d.Tools, tc.wantTool) {
			t.Errorf("Classify(%q) tools = %v, want to include %s", tc.in, d.Tools, tc.wantTool)
		}
	}
}

func TestClassify_ToolPatternConfidence(t *testing.T) {
	d := New().Classify("добавь задачу: полить цветы")
	if d.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", d.Confidence)
	}
}

func TestClassify_SlashCommandEmptyToolSet(t *testing.T) {
	d := New().Classify("/weird")
	if d.Route != RouteAgent || len(d.Tools) != 0 {
		t.Errorf("slash command: %+v", d)
	}
}

func TestClassify_LongDefaultGoesAgent(t *testing.T) {
	d := New().Classify("расскажи-ка мне пожалуйста очень подробно обо всех возможных вариантах решения этой запутанной истории без лишних слов")
	_ = d // length > 8 tokens, no patterns
	if d.Route != RouteAgent || len(d.Tools) != 0 {
		t.Errorf("long default: %+v", d)
	}
}

func TestStatsCounters(t *testing.T) {
	r := New()
	r.Classify("привет")
	r.Classify("добавь задачу: тест")
	r.Classify("спасибо")

	s := r.Stats()
	if s.Total != 3 || s.Direct != 2 || s.Agent != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}

func TestClassify_KeywordScoreCarriesToolSet(t *testing.T) {
	d := New().Classify("проверь пожалуйста поиск, а то память что-то барахлит")
	if d.Route != RouteAgent || d.Reason != "keyword_score" {
		t.Fatalf("decision = %+v", d)
	}
	if len(d.Tools) == 0 {
		t.Fatal("keyword route must carry a best-guess tool set")
	}
	for _, want := range []string{"system_check", "web_search", "memory_search"} {
		if !contains(d.Tools, want) {
			t.Errorf("tools = %v, want to include %s", d.Tools, want)
		}
	}
	if contains(d.Tools, "yougile_create") {
		t.Errorf("tools = %v, must not include unmatched groups", d.Tools)
	}
}
