package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate entity
	ErrAlreadyExists = errors.New("already exists")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Single writer; also keeps :memory: databases on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withTx runs fn in a transaction, committing on success.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Index operations

func (s *SQLiteStorage) CreateIndex(ctx context.Context, def *IndexDefinition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("index name is required")
	}
	fields, err := json.Marshal(def.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	query := `
		INSERT INTO indexes (name, fields, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			fields = excluded.fields,
			updated_at = excluded.updated_at
		RETURNING created_at
	`
	now := time.Now()
	if err := s.db.QueryRowContext(ctx, query, def.Name, string(fields), now, now).Scan(&def.CreatedAt); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}
	def.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) GetIndex(ctx context.Context, name string) (*IndexDefinition, error) {
	return getIndex(ctx, s.db, name)
}

func getIndex(ctx context.Context, q querier, name string) (*IndexDefinition, error) {
	var def IndexDefinition
	var fields string
	err := q.QueryRowContext(ctx,
		`SELECT name, fields, created_at, updated_at FROM indexes WHERE name = ?`, name,
	).Scan(&def.Name, &fields, &def.CreatedAt, &def.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &def.Fields); err != nil {
		return nil, fmt.Errorf("corrupt field list for index %s: %w", name, err)
	}
	return &def, nil
}

// DeleteIndex drops an index and, through the foreign key, its documents.
func (s *SQLiteStorage) DeleteIndex(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM indexes WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("failed to delete index: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) IndexStats(ctx context.Context, name string) (*IndexStats, error) {
	if _, err := s.GetIndex(ctx, name); err != nil {
		return nil, err
	}
	var stats IndexStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(LENGTH(content) + COALESCE(LENGTH(embedding), 0)), 0)
		FROM documents WHERE index_name = ?
	`, name).Scan(&stats.DocumentCount, &stats.StorageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read index stats: %w", err)
	}
	return &stats, nil
}

// Document operations

// UpsertDocuments writes docs keyed by id, replacing existing documents with
// the same id. Per-document problems are reported in the results; an error
// is returned only when the index is missing or the database fails.
func (s *SQLiteStorage) UpsertDocuments(ctx context.Context, index string, docs []*Document) ([]DocumentResult, error) {
	results := make([]DocumentResult, 0, len(docs))
	err := s.withTx(ctx, func(q querier) error {
		def, err := getIndex(ctx, q, index)
		if err != nil {
			return err
		}
		dim := def.VectorDimension()
		for _, doc := range docs {
			if r, ok := rejectDocument(doc, dim); !ok {
				results = append(results, r)
				continue
			}
			if err := upsertDocument(ctx, q, index, doc); err != nil {
				return err
			}
			results = append(results, DocumentResult{Key: doc.ID, Status: true, StatusCode: http.StatusOK})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func rejectDocument(doc *Document, dim int) (DocumentResult, bool) {
	switch {
	case doc == nil || doc.ID == "":
		return DocumentResult{StatusCode: http.StatusBadRequest, ErrorMessage: "document key is required"}, false
	case doc.Content == "":
		return DocumentResult{Key: doc.ID, StatusCode: http.StatusBadRequest, ErrorMessage: "content is required"}, false
	case len(doc.Embedding) > 0 && dim > 0 && len(doc.Embedding) != dim:
		return DocumentResult{
			Key:          doc.ID,
			StatusCode:   http.StatusBadRequest,
			ErrorMessage: fmt.Sprintf("embedding has %d dimensions, index expects %d", len(doc.Embedding), dim),
		}, false
	}
	return DocumentResult{}, true
}

func upsertDocument(ctx context.Context, q querier, index string, doc *Document) error {
	query := `
		INSERT INTO documents (
			index_name, id, content, title, filepath, url, language, original_language,
			translated, chunk_index, total_chunks, content_hash, embedding, dimension, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(index_name, id) DO UPDATE SET
			content = excluded.content,
			title = excluded.title,
			filepath = excluded.filepath,
			url = excluded.url,
			language = excluded.language,
			original_language = excluded.original_language,
			translated = excluded.translated,
			chunk_index = excluded.chunk_index,
			total_chunks = excluded.total_chunks,
			content_hash = excluded.content_hash,
			embedding = excluded.embedding,
			dimension = excluded.dimension,
			updated_at = excluded.updated_at
	`
	var blob []byte
	if len(doc.Embedding) > 0 {
		blob = serializeVector(doc.Embedding)
	}
	now := time.Now()
	_, err := q.ExecContext(ctx, query,
		index, doc.ID, doc.Content, doc.Title, doc.FilePath, doc.URL, doc.Language, doc.OriginalLanguage,
		doc.Translated, doc.ChunkIndex, doc.TotalChunks, doc.ContentHash, blob, len(doc.Embedding), now)
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
	}
	doc.UpdatedAt = now
	return nil
}

// DeleteDocuments removes ids from the index. Deleting a missing key
// succeeds, matching search-service semantics.
func (s *SQLiteStorage) DeleteDocuments(ctx context.Context, index string, ids []string) ([]DocumentResult, error) {
	results := make([]DocumentResult, 0, len(ids))
	err := s.withTx(ctx, func(q querier) error {
		if _, err := getIndex(ctx, q, index); err != nil {
			return err
		}
		for _, id := range ids {
			if id == "" {
				results = append(results, DocumentResult{StatusCode: http.StatusBadRequest, ErrorMessage: "document key is required"})
				continue
			}
			if _, err := q.ExecContext(ctx, `DELETE FROM documents WHERE index_name = ? AND id = ?`, index, id); err != nil {
				return fmt.Errorf("failed to delete document %s: %w", id, err)
			}
			results = append(results, DocumentResult{Key: id, Status: true, StatusCode: http.StatusOK})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *SQLiteStorage) GetDocument(ctx context.Context, index, id string) (*Document, error) {
	query := `
		SELECT id, content, title, filepath, url, language, original_language,
		       translated, chunk_index, total_chunks, content_hash, embedding, updated_at
		FROM documents
		WHERE index_name = ? AND id = ?
	`
	var doc Document
	var title, filepath, url, lang, origLang, hash sql.NullString
	var blob []byte
	err := s.db.QueryRowContext(ctx, query, index, id).Scan(
		&doc.ID, &doc.Content, &title, &filepath, &url, &lang, &origLang,
		&doc.Translated, &doc.ChunkIndex, &doc.TotalChunks, &hash, &blob, &doc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	doc.Title = title.String
	doc.FilePath = filepath.String
	doc.URL = url.String
	doc.Language = lang.String
	doc.OriginalLanguage = origLang.String
	doc.ContentHash = hash.String
	if len(blob) > 0 {
		doc.Embedding = deserializeVector(blob)
	}
	return &doc, nil
}

// ListKeys returns every document id in the index, sorted.
func (s *SQLiteStorage) ListKeys(ctx context.Context, index string) ([]string, error) {
	if _, err := s.GetIndex(ctx, index); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents WHERE index_name = ? ORDER BY id`, index)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	keys := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		keys = append(keys, id)
	}
	return keys, rows.Err()
}

// Search operations

func (s *SQLiteStorage) SearchVector(ctx context.Context, index string, vector []float32, limit int, filters *SearchFilters) ([]VectorResult, error) {
	return searchVector(ctx, s.db, index, vector, limit, filters)
}

func (s *SQLiteStorage) SearchText(ctx context.Context, index string, query string, limit int, filters *SearchFilters) ([]TextResult, error) {
	return searchText(ctx, s.db, index, query, limit, filters)
}
