package providers

import "testing"

func TestCleanThink(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"no tags", "обычный ответ", "обычный ответ"},
		{"closed span stripped", "<think>думаю</think>Ответ готов", "Ответ готов"},
		{"span in the middle", "Начало <think>мысли</think> конец", "Начало  конец"},
		{"think only falls back to body", "<think>вся суть здесь</think>", "вся суть здесь"},
		{"unclosed open drops tail", "Ответ.<think>и тут модель зависла", "Ответ."},
		{"unclosed open only falls back", "<think>незакрытая мысль", "незакрытая мысль"},
		{"stray close keeps tail", "мусор</think>Чистый ответ", "Чистый ответ"},
		{"two spans", "<think>a</think>X<think>b</think>Y", "XY"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanThink(tc.in); got != tc.want {
				t.Errorf("CleanThink(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseToolSyntax(t *testing.T) {
	call, rest, ok := ParseToolSyntax(`Сейчас проверю. <tool>{"name":"web_search","params":{"query":"погода"}}</tool>`)
	if !ok {
		t.Fatal("expected a tool call")
	}
	if call.Name != "web_search" {
		t.Errorf("name = %q, want web_search", call.Name)
	}
	if call.Arguments["query"] != "погода" {
		t.Errorf("query = %v, want погода", call.Arguments["query"])
	}
	if rest != "Сейчас проверю." {
		t.Errorf("rest = %q", rest)
	}
}

func TestParseToolSyntax_OlderEnvelope(t *testing.T) {
	call, _, ok := ParseToolSyntax(`<tool>{"tool":"get_current_time","arguments":{}}</tool>`)
	if !ok {
		t.Fatal("expected a tool call")
	}
	if call.Name != "get_current_time" {
		t.Errorf("name = %q", call.Name)
	}
	if call.Arguments == nil {
		t.Error("arguments must never be nil")
	}
}

func TestParseToolSyntax_Unclosed(t *testing.T) {
	call, _, ok := ParseToolSyntax(`<tool>{"name":"yougile_tasks","params":{"limit":5}}`)
	if !ok {
		t.Fatal("expected a tool call from an unclosed block")
	}
	if call.Name != "yougile_tasks" {
		t.Errorf("name = %q", call.Name)
	}
}

func TestParseToolSyntax_NoCall(t *testing.T) {
	for _, in := range []string{
		"просто текст",
		`<tool>{broken json}</tool>`,
		`<tool>{"params":{"x":1}}</tool>`, // no name
	} {
		if _, rest, ok := ParseToolSyntax(in); ok {
			t.Errorf("ParseToolSyntax(%q): unexpected call", in)
		} else if rest != in {
			t.Errorf("ParseToolSyntax(%q): text must pass through unchanged", in)
		}
	}
}

func TestStripToolSyntax(t *testing.T) {
	got := StripToolSyntax(`Готово. <tool>{"name":"x","params":{}}</tool>`)
	if got != "Готово." {
		t.Errorf("got %q", got)
	}
}

func TestNeedsThinking(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"сколько будет 17 * 23?", true},
		{"реши задачу шаг за шагом", true},
		{"напиши код на go для парсинга", true},
		{"привет, как дела?", false},
		{"какая сегодня погода", false},
	}
	for _, tc := range cases {
		if got := NeedsThinking(tc.in); got != tc.want {
			t.Errorf("NeedsThinking(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
