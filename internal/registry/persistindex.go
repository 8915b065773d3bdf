package registry

import (
	"context"
	"fmt"
	"path/filepath"

	chromem "github.com/philippgille/chromem-go"
)

// EmbeddingIndex persists module embeddings to disk, keyed by content hash,
// so an engine restart does not recompute vectors for unchanged content.
// It wraps a chromem-go persistent collection.
type EmbeddingIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// EmbeddingIndexConfig configures the persistent index.
type EmbeddingIndexConfig struct {
	PersistPath string // directory for the gob file; empty = in-memory
	Collection  string // collection name (default "module-embeddings")
}

// NewEmbeddingIndex opens (or creates) the persistent embedding index.
func NewEmbeddingIndex(cfg EmbeddingIndexConfig) (*EmbeddingIndex, error) {
	if cfg.Collection == "" {
		cfg.Collection = "module-embeddings"
	}

	var db *chromem.DB
	var err error
	if cfg.PersistPath != "" {
		persistFile := filepath.Join(cfg.PersistPath, "embeddings.gob")
		db, err = chromem.NewPersistentDB(persistFile, false)
		if err != nil {
			return nil, fmt.Errorf("open persistent embedding index: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	// Embeddings are always supplied explicitly, so the embedding function is
	// never invoked; chromem requires one regardless.
	noEmbed := func(_ context.Context, _ string) ([]float32, error) {
		return nil, fmt.Errorf("embedding index does not compute embeddings")
	}
	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("create embedding index collection: %w", err)
	}

	return &EmbeddingIndex{db: db, collection: collection}, nil
}

// Lookup returns the persisted embedding for a content hash, if present.
func (x *EmbeddingIndex) Lookup(ctx context.Context, contentHash string) ([]float32, bool) {
	if x == nil || x.collection == nil {
		return nil, false
	}
	doc, err := x.collection.GetByID(ctx, contentHash)
	if err != nil || len(doc.Embedding) == 0 {
		return nil, false
	}
	return doc.Embedding, true
}

// Store persists an embedding under the content hash. Errors are returned so
// the caller can log them, but persistence failures never affect correctness:
// the index is purely a warm-start optimization.
func (x *EmbeddingIndex) Store(ctx context.Context, contentHash string, embedding []float32) error {
	if x == nil || x.collection == nil || len(embedding) == 0 {
		return nil
	}
	err := x.collection.AddDocument(ctx, chromem.Document{
		ID:        contentHash,
		Content:   contentHash,
		Embedding: embedding,
	})
	if err != nil {
		return fmt.Errorf("persist embedding %s: %w", contentHash, err)
	}
	return nil
}

// Count returns the number of persisted embeddings.
func (x *EmbeddingIndex) Count() int {
	if x == nil || x.collection == nil {
		return 0
	}
	return x.collection.Count()
}
