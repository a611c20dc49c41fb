package telegram

import (
	"strings"
	"testing"
)

func TestSplitMessage_Short(t *testing.T) {
	parts := SplitMessage("привет", 4096)
	if len(parts) != 1 || parts[0] != "привет" {
		t.Errorf("parts = %v", parts)
	}
}

func TestSplitMessage_PrefersNewlines(t *testing.T) {
	text := strings.Repeat("строка текста\n", 100)
	parts := SplitMessage(text, 200)

	for i, p := range parts {
		if len([]rune(p)) > 200 {
			t.Errorf("part %d exceeds limit: %d runes", i, len([]rune(p)))
		}
		if i < len(parts)-1 && !strings.HasSuffix(p, "\n") {
			t.Errorf("part %d not cut on newline", i)
		}
	}
	if got := strings.Join(parts, ""); got != text {
		t.Error("parts do not reassemble the original")
	}
}

func TestSplitMessage_HardCutWithoutNewlines(t *testing.T) {
	text := strings.Repeat("я", 10000)
	parts := SplitMessage(text, 4096)

	if len(parts) != 3 {
		t.Fatalf("want 3 parts, got %d", len(parts))
	}
	for i, p := range parts {
		if len([]rune(p)) > 4096 {
			t.Errorf("part %d exceeds limit", i)
		}
	}
	if strings.Join(parts, "") != text {
		t.Error("content lost in split")
	}
}
