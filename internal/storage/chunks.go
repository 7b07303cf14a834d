package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/shiru/internal/models"
)

// ChunkStore keeps chunk text and metadata in SQLite, next to the vectors file.
type ChunkStore struct {
	db *sql.DB
}

// OpenChunkStore opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func OpenChunkStore(dbPath string) (*ChunkStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &ChunkStore{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS chunks (
		id INTEGER PRIMARY KEY,
		source TEXT NOT NULL DEFAULT '',
		source_tag TEXT NOT NULL DEFAULT '',
		start_index INTEGER NOT NULL DEFAULT 0,
		char_len INTEGER NOT NULL,
		metadata TEXT,
		text TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// BatchPutChunks inserts chunks in one transaction. Existing ids are kept as they are.
func (s *ChunkStore) BatchPutChunks(ctx context.Context, chunks []models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO chunks (id, source, source_tag, start_index, char_len, metadata, text)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, ch := range chunks {
		metadataJSON, err := json.Marshal(ch.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata of chunk %d: %w", ch.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.Source(), ch.SourceTag, ch.StartIndex, ch.CharLen, string(metadataJSON), ch.Text,
		); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", ch.ID, err)
		}
	}
	return tx.Commit()
}

// AllChunks returns every stored chunk keyed by id.
func (s *ChunkStore) AllChunks(ctx context.Context) (map[int64]models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_tag, start_index, char_len, metadata, text FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]models.Chunk)
	for rows.Next() {
		var ch models.Chunk
		var metadataJSON sql.NullString
		if err := rows.Scan(&ch.ID, &ch.SourceTag, &ch.StartIndex, &ch.CharLen, &metadataJSON, &ch.Text); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
			meta, err := decodeMetadata(metadataJSON.String)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata of chunk %d: %w", ch.ID, err)
			}
			ch.Metadata = meta
		}
		out[ch.ID] = ch
	}
	return out, rows.Err()
}

// decodeMetadata restores integer values as int so metadata round-trips unchanged.
func decodeMetadata(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var meta map[string]any
	if err := dec.Decode(&meta); err != nil {
		return nil, err
	}
	for k, v := range meta {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			meta[k] = int(i)
		} else if f, err := n.Float64(); err == nil {
			meta[k] = f
		}
	}
	return meta, nil
}

// SetMeta stores a key/value pair describing the index.
func (s *ChunkStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// Meta returns the value stored for key.
func (s *ChunkStore) Meta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// CountChunks returns the number of stored chunks.
func (s *ChunkStore) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// Close checkpoints the WAL and closes the database.
func (s *ChunkStore) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}
