package vectorstore

import (
	"context"
	"errors"
)

// Document is one (id, text, metadata, vector) quadruple handed to the index.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]any
	Vector   []float32
}

// Hit is a nearest-neighbour match returned by a similarity query.
type Hit struct {
	ID       string
	Text     string
	Metadata map[string]any
	Distance float64
}

// ErrCollectionNotFound signals a query against a collection that was never
// created. Retrieval treats it as an empty result, never a failure.
var ErrCollectionNotFound = errors.New("collection not found")

// Store abstracts the external vector index. Collections are named
// partitions; each collection's documents were all embedded with the same
// embedding function and dimensionality.
type Store interface {
	// EnsureCollection creates the named collection if needed.
	EnsureCollection(ctx context.Context, name string) error
	// Upsert writes documents into the collection, overwriting by id.
	Upsert(ctx context.Context, collection string, docs []Document) error
	// Query returns the topK nearest documents to the query vector.
	Query(ctx context.Context, collection string, vector []float32, topK int) ([]Hit, error)
}
