// Package sqlite implements the vector store on a single sqlite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "modernc.org/sqlite"

	"github.com/animara-ai/animara/internal/store"
)

// Store is a sqlite-backed store.VectorStore.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the sqlite store and applies migrations.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite tolerates one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)

	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migration driver: %w", err)
	}
	if err := store.Migrate("sqlite", driver); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) InsertMemory(ctx context.Context, rec *store.MemoryRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, caller_id, content, embedding, memory_type, confidence, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CallerID, rec.Content, store.EncodeEmbedding(rec.Embedding),
		rec.MemoryType, rec.Confidence, rec.Active, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func (s *Store) InsertConversation(ctx context.Context, rec *store.ConversationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, caller_id, role, content, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CallerID, rec.Role, rec.Content, store.EncodeEmbedding(rec.Embedding), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *Store) SearchMemories(ctx context.Context, callerID string, embedding []float32, limit int) ([]store.Scored, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, embedding FROM memories
		WHERE caller_id = ? AND active = 1`, callerID)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	return rankRows(rows, embedding, limit)
}

func (s *Store) SearchConversations(ctx context.Context, callerID string, embedding []float32, limit int) ([]store.Scored, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, embedding FROM conversations
		WHERE caller_id = ?
		ORDER BY created_at DESC LIMIT 2000`, callerID)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	return rankRows(rows, embedding, limit)
}

func rankRows(rows *sql.Rows, query []float32, limit int) ([]store.Scored, error) {
	defer rows.Close()
	var ids, contents []string
	var embeddings [][]float32
	for rows.Next() {
		var id, content string
		var blob []byte
		if err := rows.Scan(&id, &content, &blob); err != nil {
			return nil, err
		}
		emb, err := store.DecodeEmbedding(blob)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
		contents = append(contents, content)
		embeddings = append(embeddings, emb)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return store.RankByDistance(query, ids, contents, embeddings, limit), nil
}

func (s *Store) ActiveMemories(ctx context.Context) ([]store.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, caller_id, content, memory_type, confidence, created_at, updated_at
		FROM memories WHERE active = 1`)
	if err != nil {
		return nil, fmt.Errorf("active memories: %w", err)
	}
	defer rows.Close()

	var out []store.MemoryRecord
	for rows.Next() {
		var rec store.MemoryRecord
		rec.Active = true
		if err := rows.Scan(&rec.ID, &rec.CallerID, &rec.Content, &rec.MemoryType,
			&rec.Confidence, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) RecentConversations(ctx context.Context, limit int) ([]store.ConversationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, caller_id, role, content, created_at FROM conversations
		ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent conversations: %w", err)
	}
	defer rows.Close()

	var out []store.ConversationRecord
	for rows.Next() {
		var rec store.ConversationRecord
		if err := rows.Scan(&rec.ID, &rec.CallerID, &rec.Role, &rec.Content, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) MemoriesByCaller(ctx context.Context, callerID string, limit int) ([]store.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, caller_id, content, memory_type, confidence, created_at, updated_at
		FROM memories WHERE caller_id = ? AND active = 1
		ORDER BY created_at DESC LIMIT ?`, callerID, limit)
	if err != nil {
		return nil, fmt.Errorf("memories by caller: %w", err)
	}
	defer rows.Close()

	var out []store.MemoryRecord
	for rows.Next() {
		var rec store.MemoryRecord
		rec.Active = true
		if err := rows.Scan(&rec.ID, &rec.CallerID, &rec.Content, &rec.MemoryType,
			&rec.Confidence, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var _ store.VectorStore = (*Store)(nil)
