package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"

	"github.com/edukit/tutorchat/pkg/models"
)

// PG implements Store on Postgres with the pgvector extension. Each
// collection is one table holding points of a fixed dimensionality.
type PG struct {
	pool        *pgxpool.Pool
	upsertBatch int
}

// Collection names become table names, so they are restricted to plain
// identifiers.
var identRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const undefinedTable = "42P01"

// NewPG connects to the database at url.
func NewPG(ctx context.Context, url string, upsertBatchSize int) (*PG, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if upsertBatchSize <= 0 {
		upsertBatchSize = 200
	}
	return &PG{pool: pool, upsertBatch: upsertBatchSize}, nil
}

func (s *PG) Close() { s.pool.Close() }

func validName(name string) error {
	if !identRE.MatchString(name) {
		return fmt.Errorf("invalid collection name %q", name)
	}
	return nil
}

// ResetCollection drops and recreates the collection table with a cosine
// ivfflat index at the given dimensionality.
func (s *PG) ResetCollection(ctx context.Context, name string, vectorSize int) error {
	if err := validName(name); err != nil {
		return err
	}
	q := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

DROP TABLE IF EXISTS %[1]s;

CREATE TABLE %[1]s (
  id          UUID PRIMARY KEY,
  embedding   vector(%[2]d),
  text        TEXT NOT NULL,
  source      TEXT NOT NULL,
  title       TEXT NOT NULL DEFAULT '',
  module      TEXT NOT NULL DEFAULT '',
  chunk_index INT  NOT NULL
);

CREATE INDEX %[1]s_embedding_idx
  ON %[1]s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);

CREATE INDEX %[1]s_source_idx
  ON %[1]s (source);
`, name, vectorSize)
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("reset collection %s: %w", name, err)
	}
	log.Info().Str("collection", name).Int("dim", vectorSize).Msg("reset pgvector collection")
	return nil
}

func (s *PG) CollectionExists(ctx context.Context, name string) (bool, error) {
	if err := validName(name); err != nil {
		return false, err
	}
	var exists bool
	err := s.pool.QueryRow(ctx, "SELECT to_regclass($1) IS NOT NULL", name).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PG) CollectionInfo(ctx context.Context, name string) (models.CollectionInfo, error) {
	if err := validName(name); err != nil {
		return models.CollectionInfo{}, err
	}
	var count int
	err := s.pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", name)).Scan(&count)
	if err != nil {
		if isUndefinedTable(err) {
			return models.CollectionInfo{}, ErrCollectionNotFound
		}
		return models.CollectionInfo{}, err
	}
	return models.CollectionInfo{Name: name, PointsCount: count, Status: "green"}, nil
}

// Upsert writes points in batches using pgx batched statements; each batch
// round-trip completes before the next begins.
func (s *PG) Upsert(ctx context.Context, name string, chunks []models.Chunk, embeddings [][]float32) (int, error) {
	if len(chunks) != len(embeddings) {
		return 0, fmt.Errorf("chunks and embeddings length mismatch: %d != %d", len(chunks), len(embeddings))
	}
	if err := validName(name); err != nil {
		return 0, err
	}

	q := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, text, source, title, module, chunk_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			embedding   = EXCLUDED.embedding,
			text        = EXCLUDED.text,
			source      = EXCLUDED.source,
			title       = EXCLUDED.title,
			module      = EXCLUDED.module,
			chunk_index = EXCLUDED.chunk_index;`, name)

	for start := 0; start < len(chunks); start += s.upsertBatch {
		end := start + s.upsertBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		b := &pgx.Batch{}
		for i := start; i < end; i++ {
			c := chunks[i]
			b.Queue(q,
				PointID(c.Source, c.ChunkIndex), pgvector.NewVector(embeddings[i]),
				c.Text, c.Source, c.Title, c.Module, c.ChunkIndex,
			)
		}
		if err := s.pool.SendBatch(ctx, b).Close(); err != nil {
			return 0, fmt.Errorf("upsert batch at %d: %w", start, err)
		}
		log.Debug().Int("upserted", end).Int("total", len(chunks)).Msg("upsert progress")
	}
	return len(chunks), nil
}

// Search ranks by cosine similarity with the threshold and source filter in
// the query itself, so both cuts apply before the LIMIT.
func (s *PG) Search(ctx context.Context, name string, vector []float32, topK int, scoreThreshold float64, sourceFilter string) ([]models.RetrievalResult, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`
		SELECT text, source, title, chunk_index, 1 - (embedding <=> $1) AS score
		FROM %s
		WHERE ($2 = '' OR source = $2)
		  AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1
		LIMIT $4`, name)

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vector), sourceFilter, scoreThreshold, topK)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, ErrCollectionNotFound
		}
		return nil, err
	}
	defer rows.Close()

	var out []models.RetrievalResult
	for rows.Next() {
		var r models.RetrievalResult
		if err := rows.Scan(&r.Text, &r.Source, &r.Title, &r.ChunkIndex, &r.Score); err != nil {
			return nil, err
		}
		r.Score = roundScore(r.Score)
		out = append(out, r)
	}
	return out, rows.Err()
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTable
}
