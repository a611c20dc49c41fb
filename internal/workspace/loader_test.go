package workspace

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestContext_ConcatenatesKnownFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "persona.md"), "# Персона\nАнимара.")
	writeFile(t, filepath.Join(dir, "tips.md"), "# Подсказки")
	writeFile(t, filepath.Join(dir, "random.md"), "не должен попасть")

	l := New(dir, time.Minute, 64)
	got := l.Context()

	if !strings.Contains(got, "Персона") || !strings.Contains(got, "Подсказки") {
		t.Errorf("context missing known files:\n%s", got)
	}
	if strings.Contains(got, "не должен попасть") {
		t.Error("unknown file leaked into context")
	}
	if strings.Index(got, "Персона") > strings.Index(got, "Подсказки") {
		t.Error("file order not preserved")
	}
}

func TestContext_IncludesTodayMemory(t *testing.T) {
	dir := t.TempDir()
	today := time.Now().Format("2006-01-02")
	writeFile(t, filepath.Join(dir, "memory", today+".md"), "## [09:00] заметка дня")

	l := New(dir, time.Minute, 64)
	if !strings.Contains(l.Context(), "заметка дня") {
		t.Error("today's memory missing from context")
	}
}

func TestTTLCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persona.md")
	writeFile(t, path, "первая версия")

	l := New(dir, time.Hour, 64)
	if !strings.Contains(l.Context(), "первая версия") {
		t.Fatal("initial read failed")
	}

	// Within the TTL the change is invisible.
	writeFile(t, path, "вторая версия")
	if strings.Contains(l.Context(), "вторая версия") {
		t.Error("cache did not hold within TTL")
	}

	// Invalidation makes it visible immediately.
	l.invalidate(path)
	if !strings.Contains(l.Context(), "вторая версия") {
		t.Error("invalidation did not refresh the entry")
	}
}

func TestPerFileCap(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "persona.md"), strings.Repeat("x", 4096))

	l := New(dir, time.Minute, 1) // 1 KB cap
	if got := len(l.Context()); got > 1024 {
		t.Errorf("per-file cap ignored: %d bytes", got)
	}
}

func TestAppendMemory(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, time.Minute, 64)

	if err := l.AppendMemory("flush", "- факт один\n- факт два"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.AppendMemory("flush", "- факт три"); err != nil {
		t.Fatalf("second append: %v", err)
	}

	path := filepath.Join(dir, "memory", time.Now().Format("2006-01-02")+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read memory file: %v", err)
	}
	text := string(data)

	headers := regexp.MustCompile(`(?m)^## \[\d{2}:\d{2}\] flush$`).FindAllString(text, -1)
	if len(headers) != 2 {
		t.Errorf("want 2 timestamped blocks, got %d:\n%s", len(headers), text)
	}
	if !strings.Contains(text, "факт один") || !strings.Contains(text, "факт три") {
		t.Error("appended content missing (append-only violated?)")
	}

	// The fresh write must be visible through the loader at once.
	if !strings.Contains(l.Context(), "факт три") {
		t.Error("append did not invalidate the cache")
	}
}

func TestFallbackPersona(t *testing.T) {
	l := New(t.TempDir(), time.Minute, 64)
	if l.FallbackPersona() == "" {
		t.Fatal("fallback persona must be non-empty")
	}
	if strings.Contains(l.FallbackPersona(), "owner") {
		t.Error("fallback persona must not reference owner files")
	}
}
