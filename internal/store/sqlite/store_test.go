package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/animara-ai/animara/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mem(id, caller, content string, emb []float32) *store.MemoryRecord {
	now := time.Now()
	return &store.MemoryRecord{
		ID: id, CallerID: caller, Content: content, Embedding: emb,
		MemoryType: "fact", Confidence: 0.8, Active: true,
		CreatedAt: now, UpdatedAt: now,
	}
}

func TestMemoryInsertAndSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InsertMemory(ctx, mem("m1", "owner", "любит кофе", []float32{1, 0})); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertMemory(ctx, mem("m2", "owner", "работает над проектом", []float32{0, 1})); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertMemory(ctx, mem("m3", "guest42", "чужая память", []float32{1, 0})); err != nil {
		t.Fatalf("insert: %v", err)
	}

	hits, err := s.SearchMemories(ctx, "owner", []float32{1, 0.01}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2 (caller filter must hold)", len(hits))
	}
	if hits[0].Content != "любит кофе" {
		t.Errorf("closest = %q", hits[0].Content)
	}
	for _, h := range hits {
		if h.Content == "чужая память" {
			t.Error("another caller's memory leaked into results")
		}
	}
}

func TestActiveMemoriesAndByCaller(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, r := range []*store.MemoryRecord{
		mem("a", "owner", "один", []float32{1}),
		mem("b", "owner", "два", []float32{1}),
	} {
		if err := s.InsertMemory(ctx, r); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	all, err := s.ActiveMemories(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("active = %d, want 2", len(all))
	}

	byCaller, err := s.MemoriesByCaller(ctx, "owner", 10)
	if err != nil {
		t.Fatalf("by caller: %v", err)
	}
	if len(byCaller) != 2 {
		t.Errorf("by caller = %d, want 2", len(byCaller))
	}
}

func TestConversationsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rec := &store.ConversationRecord{
		ID: "c1", CallerID: "owner", Role: "user",
		Content: "привет", Embedding: []float32{0.5, 0.5}, CreatedAt: time.Now(),
	}
	if err := s.InsertConversation(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	recent, err := s.RecentConversations(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Content != "привет" {
		t.Errorf("recent = %+v", recent)
	}

	hits, err := s.SearchConversations(ctx, "owner", []float32{0.5, 0.5}, 3)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("hits = %d", len(hits))
	}
}
