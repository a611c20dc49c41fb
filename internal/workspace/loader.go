// Package workspace reads the persona/memory markdown directory that grounds
// the system prompt, with a short TTL cache, and appends durable notes to the
// dated memory files.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// contextFiles are concatenated, in this order, into the workspace context.
var contextFiles = []string{
	"persona.md",
	"identity.md",
	"owner.md",
	"tools.md",
	"tips.md",
}

const fileSeparator = "\n\n---\n\n"

// fallbackPersona replaces the workspace context for non-owner callers: the
// owner's files must never reach other callers.
const fallbackPersona = "Ты — Анимара, дружелюбный ассистент. Отвечай кратко и по делу."

type cacheEntry struct {
	content  string
	loadedAt time.Time
}

// Loader reads workspace files with a TTL cache. An optional fsnotify
// watcher invalidates entries as soon as files change on disk.
type Loader struct {
	dir          string
	ttl          time.Duration
	maxFileBytes int

	mu    sync.Mutex
	cache map[string]cacheEntry

	watcher *fsnotify.Watcher
}

// New creates a loader over the workspace directory.
func New(dir string, ttl time.Duration, maxFileKB int) *Loader {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if maxFileKB <= 0 {
		maxFileKB = 64
	}
	return &Loader{
		dir:          dir,
		ttl:          ttl,
		maxFileBytes: maxFileKB * 1024,
		cache:        make(map[string]cacheEntry),
	}
}

// Watch starts fsnotify-based cache invalidation over the workspace root
// and its memory subdirectory. Optional; the TTL alone is correct without it.
func (l *Loader) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(l.dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}
	// The memory dir may not exist yet; that is fine.
	_ = w.Add(filepath.Join(l.dir, "memory"))

	l.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					l.invalidate(ev.Name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Warn("workspace.watch.error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the watcher if one is running.
func (l *Loader) Close() {
	if l.watcher != nil {
		l.watcher.Close()
	}
}

func (l *Loader) invalidate(path string) {
	l.mu.Lock()
	delete(l.cache, path)
	l.mu.Unlock()
	slog.Debug("workspace.cache.invalidated", "file", filepath.Base(path))
}

// readCached returns a file's contents through the TTL cache, capped at the
// per-file limit. Missing files read as empty.
func (l *Loader) readCached(path string) string {
	l.mu.Lock()
	if e, ok := l.cache[path]; ok && time.Since(e.loadedAt) < l.ttl {
		l.mu.Unlock()
		return e.content
	}
	l.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		data = nil
	}
	if len(data) > l.maxFileBytes {
		data = data[:l.maxFileBytes]
	}
	content := string(data)

	l.mu.Lock()
	l.cache[path] = cacheEntry{content: content, loadedAt: time.Now()}
	l.mu.Unlock()
	return content
}

// Context assembles the owner's workspace context: the named files plus
// today's and yesterday's memory, joined with separators.
func (l *Loader) Context() string {
	var parts []string
	for _, name := range contextFiles {
		if c := strings.TrimSpace(l.readCached(filepath.Join(l.dir, name))); c != "" {
			parts = append(parts, c)
		}
	}
	now := time.Now()
	for _, day := range []time.Time{now, now.AddDate(0, 0, -1)} {
		p := l.memoryFile(day)
		if c := strings.TrimSpace(l.readCached(p)); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, fileSeparator)
}

// FallbackPersona is the context returned for non-owner callers.
func (l *Loader) FallbackPersona() string { return fallbackPersona }

func (l *Loader) memoryFile(day time.Time) string {
	return filepath.Join(l.dir, "memory", day.Format("2006-01-02")+".md")
}

// AppendMemory appends a "## [HH:MM] label" block to today's memory file,
// creating parent directories as needed, then invalidates the cache entry.
func (l *Loader) AppendMemory(label, content string) error {
	path := l.memoryFile(time.Now())
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}

	block := fmt.Sprintf("\n## [%s] %s\n%s\n", time.Now().Format("15:04"), label, strings.TrimSpace(content))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open memory file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(block); err != nil {
		return fmt.Errorf("append memory: %w", err)
	}

	l.invalidate(path)
	slog.Info("workspace.memory.appended", "label", label, "file", filepath.Base(path))
	return nil
}
