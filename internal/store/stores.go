// Package store persists memory and conversation records with their
// embeddings. Two backends exist: sqlite (default, single file) and
// postgres. Similarity search is brute-force cosine over the caller's
// records, computed in Go so both backends behave identically.
package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// MemoryRecord is a durable memory with its embedding.
type MemoryRecord struct {
	ID         string
	CallerID   string
	Content    string
	Embedding  []float32
	MemoryType string // "fact", "preference", "project", "hobby", "skill", "plan", "flush"
	Confidence float64
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ConversationRecord is one archived conversation turn.
type ConversationRecord struct {
	ID        string
	CallerID  string
	Role      string
	Content   string
	Embedding []float32
	CreatedAt time.Time
}

// Scored is a search hit with its cosine distance (lower is closer).
type Scored struct {
	ID       string
	Content  string
	Distance float64
}

// VectorStore is the record store the retriever and extractor depend on.
type VectorStore interface {
	InsertMemory(ctx context.Context, rec *MemoryRecord) error
	InsertConversation(ctx context.Context, rec *ConversationRecord) error
	// SearchMemories returns the closest active memories of one caller.
	SearchMemories(ctx context.Context, callerID string, embedding []float32, limit int) ([]Scored, error)
	// SearchConversations returns the closest conversation turns of one caller.
	SearchConversations(ctx context.Context, callerID string, embedding []float32, limit int) ([]Scored, error)
	// ActiveMemories returns every active memory (all callers) for indexing.
	ActiveMemories(ctx context.Context) ([]MemoryRecord, error)
	// RecentConversations returns up to limit conversation turns for indexing.
	RecentConversations(ctx context.Context, limit int) ([]ConversationRecord, error)
	// MemoriesByCaller returns one caller's active memories, newest first.
	MemoriesByCaller(ctx context.Context, callerID string, limit int) ([]MemoryRecord, error)
	Close() error
}

// EncodeEmbedding packs a float32 vector as a little-endian blob.
func EncodeEmbedding(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeEmbedding unpacks a little-endian float32 blob.
func DecodeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// CosineDistance returns 1 − cos(a, b). Mismatched or zero vectors score
// the maximum distance.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// RankByDistance scores candidates against a query embedding and returns the
// closest limit hits, ascending by distance.
func RankByDistance(query []float32, ids, contents []string, embeddings [][]float32, limit int) []Scored {
	scored := make([]Scored, 0, len(ids))
	for i := range ids {
		scored = append(scored, Scored{
			ID:       ids[i],
			Content:  contents[i],
			Distance: CosineDistance(query, embeddings[i]),
		})
	}
	// Insertion sort: candidate sets are small (bounded DB queries).
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].Distance < scored[j-1].Distance; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
