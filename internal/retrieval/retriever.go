// Package retrieval fuses dense vector search with BM25 lexical search over
// the memory and conversation collections. The lexical path is an owner-only
// privilege: substring-style recall across the owner's memory must not be
// reachable by other callers.
package retrieval

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/animara-ai/animara/internal/index"
	"github.com/animara-ai/animara/internal/store"
)

// Embedder encodes query text into the collection's vector space.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Options tune the fusion.
type Options struct {
	VectorWeight float64 // default 0.7
	BM25Weight   float64 // default 0.3
	TopK         int     // default 5
}

// Retriever is side-effect-free: Search never mutates stores or sessions.
type Retriever struct {
	store    store.VectorStore
	index    *index.Index
	embedder Embedder
	ownerID  string
	opts     Options
}

// New creates a hybrid retriever.
func New(vs store.VectorStore, ix *index.Index, emb Embedder, ownerID string, opts Options) *Retriever {
	if opts.VectorWeight == 0 {
		opts.VectorWeight = 0.7
	}
	if opts.BM25Weight == 0 {
		opts.BM25Weight = 0.3
	}
	if opts.TopK == 0 {
		opts.TopK = 5
	}
	return &Retriever{store: vs, index: ix, embedder: emb, ownerID: ownerID, opts: opts}
}

// interrogatives gate retrieval: a turn without a question mark or one of
// these words skips the search entirely.
var interrogatives = []string{
	"что", "как", "где", "когда", "почему", "какой", "какая",
	"помнишь", "знаешь", "расскажи", "напомни",
}

// ShouldRetrieve reports whether the user turn warrants memory retrieval.
func ShouldRetrieve(text string) bool {
	if strings.Contains(text, "?") {
		return true
	}
	lower := strings.ToLower(text)
	for _, w := range interrogatives {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

type fused struct {
	content string
	score   float64
}

// Search returns up to TopK contents in descending fused score, distinct by
// content hash. Vector similarity is max(0, 1 − distance); conversations
// weigh half; the BM25 contribution is max-normalized per query and applies
// to the owner only.
func (r *Retriever) Search(ctx context.Context, query, callerID string) ([]string, error) {
	ctx, span := otel.Tracer("retrieval").Start(ctx, "hybrid_search")
	defer span.End()
	span.SetAttributes(attribute.String("caller", callerID))

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	acc := make(map[uint64]*fused)
	add := func(content string, score float64) {
		h := contentHash(content)
		if f, ok := acc[h]; ok {
			f.score += score
		} else {
			acc[h] = &fused{content: content, score: score}
		}
	}

	memHits, err := r.store.SearchMemories(ctx, callerID, embedding, r.opts.TopK*2)
	if err != nil {
		return nil, fmt.Errorf("vector memories: %w", err)
	}
	for _, h := range memHits {
		add(h.Content, similarity(h.Distance)*r.opts.VectorWeight)
	}

	convHits, err := r.store.SearchConversations(ctx, callerID, embedding, r.opts.TopK*2)
	if err != nil {
		return nil, fmt.Errorf("vector conversations: %w", err)
	}
	for _, h := range convHits {
		add(h.Content, similarity(h.Distance)*r.opts.VectorWeight*0.5)
	}

	if callerID == r.ownerID {
		lexHits := r.index.Search(query, r.opts.TopK*2)
		if len(lexHits) > 0 {
			top := lexHits[0].Score
			for _, h := range lexHits {
				add(h.Doc.Content, h.Score/top*r.opts.BM25Weight)
			}
		}
	}

	results := make([]fused, 0, len(acc))
	for _, f := range acc {
		results = append(results, *f)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].score > results[j].score })
	if len(results) > r.opts.TopK {
		results = results[:r.opts.TopK]
	}

	out := make([]string, len(results))
	for i, f := range results {
		out[i] = f.content
	}
	slog.Debug("retrieval.search.done", "caller", callerID, "hits", len(out))
	return out, nil
}

// RebuildIndex reloads every active memory and recent conversation into the
// lexical index. Idempotent for a fixed store snapshot.
func (r *Retriever) RebuildIndex(ctx context.Context) (int, error) {
	memories, err := r.store.ActiveMemories(ctx)
	if err != nil {
		return 0, fmt.Errorf("load memories: %w", err)
	}
	conversations, err := r.store.RecentConversations(ctx, 2000)
	if err != nil {
		return 0, fmt.Errorf("load conversations: %w", err)
	}

	docs := make([]index.Doc, 0, len(memories)+len(conversations))
	for _, m := range memories {
		docs = append(docs, index.Doc{Collection: "memories", ID: m.ID, Content: m.Content})
	}
	for _, c := range conversations {
		docs = append(docs, index.Doc{Collection: "conversations", ID: c.ID, Content: c.Content})
	}

	r.index.Build(docs)
	slog.Info("retrieval.index.rebuilt", "docs", len(docs))
	return len(docs), nil
}

// IndexSize reports the lexical index document count for the health surface.
func (r *Retriever) IndexSize() int { return r.index.Size() }

func similarity(distance float64) float64 {
	if s := 1 - distance; s > 0 {
		return s
	}
	return 0
}

func contentHash(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
