package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/edukit/tutorchat/pkg/models"
)

// ErrCollectionNotFound distinguishes "collection not ready" from "ready but
// zero matches". Callers should check existence before searching.
var ErrCollectionNotFound = errors.New("collection not found")

// Store manages a named vector collection and serves nearest-neighbor
// queries over it.
type Store interface {
	// ResetCollection drops the collection if it exists and recreates it
	// empty, configured for cosine similarity at vectorSize dimensions.
	ResetCollection(ctx context.Context, name string, vectorSize int) error

	CollectionExists(ctx context.Context, name string) (bool, error)

	CollectionInfo(ctx context.Context, name string) (models.CollectionInfo, error)

	// Upsert writes one point per (chunk, embedding) pair in durable
	// batches and returns the number of points written. The two slices
	// must have equal length.
	Upsert(ctx context.Context, name string, chunks []models.Chunk, embeddings [][]float32) (int, error)

	// Search returns up to topK matches with similarity >= scoreThreshold,
	// descending by score. A non-empty sourceFilter restricts candidates
	// to chunks from that source before ranking.
	Search(ctx context.Context, name string, vector []float32, topK int, scoreThreshold float64, sourceFilter string) ([]models.RetrievalResult, error)

	Close()
}

// PointID returns the deterministic identifier for a chunk: a UUIDv5 of
// "source::chunk_index". Re-ingesting identical content yields identical
// ids, which is what makes upsert idempotent.
func PointID(source string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(fmt.Sprintf("%s::%d", source, chunkIndex))).String()
}

// roundScore rounds a similarity score to 4 decimal places.
func roundScore(s float64) float64 {
	return math.Round(s*10000) / 10000
}
