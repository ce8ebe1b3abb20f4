package index

import (
	"context"
	"errors"

	"github.com/floringheorghiu/multilingual-rag/internal/storage"
)

// LocalBackend stores the index in the SQLite database.
type LocalBackend struct {
	store storage.Storage
}

// NewLocalBackend creates a backend over store. The caller owns store.
func NewLocalBackend(store storage.Storage) *LocalBackend {
	return &LocalBackend{store: store}
}

func (b *LocalBackend) Name() string {
	return "sqlite"
}

// Storage returns the underlying store.
func (b *LocalBackend) Storage() storage.Storage {
	return b.store
}

func (b *LocalBackend) CreateIndex(ctx context.Context, schema *Schema) error {
	return b.store.CreateIndex(ctx, &storage.IndexDefinition{Name: schema.Name, Fields: schema.Fields})
}

func (b *LocalBackend) GetIndex(ctx context.Context, name string) (*Schema, error) {
	def, err := b.store.GetIndex(ctx, name)
	if err != nil {
		return nil, localErr(err)
	}
	return &Schema{Name: def.Name, Fields: def.Fields}, nil
}

func (b *LocalBackend) Stats(ctx context.Context, name string) (*Stats, error) {
	st, err := b.store.IndexStats(ctx, name)
	if err != nil {
		return nil, localErr(err)
	}
	return &Stats{DocumentCount: st.DocumentCount, StorageSize: st.StorageSize}, nil
}

func (b *LocalBackend) Upload(ctx context.Context, name string, docs []Document) ([]DocumentStatus, error) {
	records := make([]*storage.Document, len(docs))
	for i, d := range docs {
		records[i] = &storage.Document{
			ID:               d.ID,
			Content:          d.Content,
			Title:            d.Title,
			FilePath:         d.FilePath,
			URL:              d.URL,
			Language:         d.Language,
			OriginalLanguage: d.OriginalLanguage,
			Translated:       d.Translated,
			ChunkIndex:       d.ChunkIndex,
			TotalChunks:      d.TotalChunks,
			ContentHash:      d.ContentHash,
			Embedding:        d.Embedding,
		}
	}
	results, err := b.store.UpsertDocuments(ctx, name, records)
	if err != nil {
		return nil, localErr(err)
	}
	return toStatuses(results), nil
}

func (b *LocalBackend) Delete(ctx context.Context, name string, ids []string) ([]DocumentStatus, error) {
	results, err := b.store.DeleteDocuments(ctx, name, ids)
	if err != nil {
		return nil, localErr(err)
	}
	return toStatuses(results), nil
}

func (b *LocalBackend) ListKeys(ctx context.Context, name string) ([]string, error) {
	keys, err := b.store.ListKeys(ctx, name)
	if err != nil {
		return nil, localErr(err)
	}
	return keys, nil
}

func toStatuses(results []storage.DocumentResult) []DocumentStatus {
	out := make([]DocumentStatus, len(results))
	for i, r := range results {
		out[i] = DocumentStatus{Key: r.Key, Succeeded: r.Status, StatusCode: r.StatusCode, ErrorMessage: r.ErrorMessage}
	}
	return out
}

func localErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrIndexNotFound
	}
	return err
}

var _ Backend = (*LocalBackend)(nil)
