// Package facts mines durable user facts from conversation turns with an
// ordered regex table, and persists them to the memory store off the reply
// path.
package facts

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animara-ai/animara/internal/store"
)

// Fact is one mined statement about the user.
type Fact struct {
	Kind    string // "fact", "preference", "project", "hobby", "skill", "plan"
	Content string
}

// factConfidence is fixed for pattern-mined facts; flush-derived memories
// use a lower value.
const factConfidence = 0.8

type pattern struct {
	kind  string
	re    *regexp.Regexp
	label string
}

// patterns are evaluated in order on each user turn; every matching pattern
// contributes a fact. The capture is cut at sentence punctuation by the
// regexes themselves.
var patterns = []pattern{
	{"fact", regexp.MustCompile(`(?i)меня зовут ([\p{L}\- ]{2,40})`), "Имя"},
	{"fact", regexp.MustCompile(`(?i)мне (\d{1,3}) (?:лет|года?)`), "Возраст"},
	{"fact", regexp.MustCompile(`(?i)я живу в ([\p{L}\- ]{2,60})`), "Живёт в"},
	{"fact", regexp.MustCompile(`(?i)я работаю ([^.!?\n]{3,80})`), "Работа"},
	{"preference", regexp.MustCompile(`(?i)я люблю ([^.!?\n]{3,80})`), "Любит"},
	{"preference", regexp.MustCompile(`(?i)мне нравится ([^.!?\n]{3,80})`), "Нравится"},
	{"preference", regexp.MustCompile(`(?i)я не люблю ([^.!?\n]{3,80})`), "Не любит"},
	{"project", regexp.MustCompile(`(?i)(?:мой проект|работаю над проектом) ([^.!?\n]{3,80})`), "Проект"},
	{"hobby", regexp.MustCompile(`(?i)(?:моё хобби|я увлекаюсь) ([^.!?\n]{3,80})`), "Хобби"},
	{"skill", regexp.MustCompile(`(?i)я умею ([^.!?\n]{3,80})`), "Умеет"},
	{"plan", regexp.MustCompile(`(?i)я (?:планирую|собираюсь) ([^.!?\n]{3,80})`), "Планирует"},
}

// Extract applies the pattern table to a user turn. Pure; dedupe against the
// session happens in the caller.
func Extract(text string) []Fact {
	var out []Fact
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		captured := strings.TrimSpace(m[1])
		if captured == "" {
			continue
		}
		out = append(out, Fact{
			Kind:    p.kind,
			Content: fmt.Sprintf("%s: %s", p.label, captured),
		})
	}
	return out
}

// Embedder matches retrieval.Embedder without importing it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Persister writes mined facts into the memory store.
type Persister struct {
	store    store.VectorStore
	embedder Embedder
}

// NewPersister creates a fact persister.
func NewPersister(vs store.VectorStore, emb Embedder) *Persister {
	return &Persister{store: vs, embedder: emb}
}

// Persist embeds and inserts one fact. Failures are the caller's to log;
// they never surface to the user.
func (p *Persister) Persist(ctx context.Context, callerID string, f Fact) error {
	embedding, err := p.embedder.Embed(ctx, f.Content)
	if err != nil {
		return fmt.Errorf("embed fact: %w", err)
	}
	now := time.Now()
	rec := &store.MemoryRecord{
		ID:         uuid.NewString(),
		CallerID:   callerID,
		Content:    f.Content,
		Embedding:  embedding,
		MemoryType: f.Kind,
		Confidence: factConfidence,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.store.InsertMemory(ctx, rec); err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}
	slog.Debug("facts.persisted", "caller", callerID, "kind", f.Kind)
	return nil
}
