package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edukit/tutorchat/pkg/models"
)

// Qdrant is a REST client for a Qdrant cluster implementing Store.
type Qdrant struct {
	url         string
	apiKey      string
	upsertBatch int
	http        *http.Client
}

// QdrantConfig configures the Qdrant client.
type QdrantConfig struct {
	URL             string
	APIKey          string
	UpsertBatchSize int
	Timeout         time.Duration
}

// NewQdrant creates a Qdrant client. Timeout defaults to 30s and the upsert
// batch size to 200 when unset.
func NewQdrant(cfg QdrantConfig) *Qdrant {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	batch := cfg.UpsertBatchSize
	if batch <= 0 {
		batch = 200
	}
	return &Qdrant{
		url:         cfg.URL,
		apiKey:      cfg.APIKey,
		upsertBatch: batch,
		http:        &http.Client{Timeout: timeout},
	}
}

func (q *Qdrant) Close() {}

// ResetCollection drops name if present, then recreates it fresh with cosine
// distance. Destructive and unconditional: prior vectors are discarded.
func (q *Qdrant) ResetCollection(ctx context.Context, name string, vectorSize int) error {
	exists, err := q.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		log.Info().Str("collection", name).Msg("dropping existing collection")
		if err := q.do(ctx, http.MethodDelete, "/collections/"+name, nil, nil); err != nil {
			return fmt.Errorf("delete collection %s: %w", name, err)
		}
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	if err := q.do(ctx, http.MethodPut, "/collections/"+name, body, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	log.Info().Str("collection", name).Int("dim", vectorSize).Msg("created collection")
	return nil
}

func (q *Qdrant) CollectionExists(ctx context.Context, name string) (bool, error) {
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return false, fmt.Errorf("list collections: %w", err)
	}
	for _, c := range resp.Result.Collections {
		if c.Name == name {
			return true, nil
		}
	}
	return false, nil
}

func (q *Qdrant) CollectionInfo(ctx context.Context, name string) (models.CollectionInfo, error) {
	var resp struct {
		Result struct {
			PointsCount int    `json:"points_count"`
			Status      string `json:"status"`
		} `json:"result"`
	}
	err := q.do(ctx, http.MethodGet, "/collections/"+name, nil, &resp)
	if err != nil {
		return models.CollectionInfo{}, err
	}
	return models.CollectionInfo{
		Name:        name,
		PointsCount: resp.Result.PointsCount,
		Status:      resp.Result.Status,
	}, nil
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Upsert writes points in batches, waiting for each batch to durably apply
// before issuing the next. Chunks and embeddings must be parallel slices.
func (q *Qdrant) Upsert(ctx context.Context, name string, chunks []models.Chunk, embeddings [][]float32) (int, error) {
	if len(chunks) != len(embeddings) {
		return 0, fmt.Errorf("chunks and embeddings length mismatch: %d != %d", len(chunks), len(embeddings))
	}

	points := make([]qdrantPoint, len(chunks))
	for i, c := range chunks {
		points[i] = qdrantPoint{
			ID:     PointID(c.Source, c.ChunkIndex),
			Vector: embeddings[i],
			Payload: map[string]any{
				"text":        c.Text,
				"source":      c.Source,
				"title":       c.Title,
				"module":      c.Module,
				"chunk_index": c.ChunkIndex,
			},
		}
	}

	for start := 0; start < len(points); start += q.upsertBatch {
		end := start + q.upsertBatch
		if end > len(points) {
			end = len(points)
		}
		body := map[string]any{"points": points[start:end]}
		if err := q.do(ctx, http.MethodPut, "/collections/"+name+"/points?wait=true", body, nil); err != nil {
			return 0, fmt.Errorf("upsert batch at %d: %w", start, err)
		}
		log.Debug().Int("upserted", end).Int("total", len(points)).Msg("upsert progress")
	}
	return len(points), nil
}

// Search runs a nearest-neighbor query with the score threshold and the
// optional source filter applied server-side, so filtered-out points never
// consume a ranking slot.
func (q *Qdrant) Search(ctx context.Context, name string, vector []float32, topK int, scoreThreshold float64, sourceFilter string) ([]models.RetrievalResult, error) {
	body := map[string]any{
		"vector":          vector,
		"limit":           topK,
		"score_threshold": scoreThreshold,
		"with_payload":    true,
	}
	if sourceFilter != "" {
		body["filter"] = map[string]any{
			"must": []map[string]any{
				{"key": "source", "match": map[string]any{"value": sourceFilter}},
			},
		}
	}

	var resp struct {
		Result []struct {
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, "/collections/"+name+"/points/search", body, &resp); err != nil {
		return nil, err
	}

	results := make([]models.RetrievalResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		res := models.RetrievalResult{Score: roundScore(r.Score)}
		if v, ok := r.Payload["text"].(string); ok {
			res.Text = v
		}
		if v, ok := r.Payload["source"].(string); ok {
			res.Source = v
		}
		if v, ok := r.Payload["title"].(string); ok {
			res.Title = v
		}
		if v, ok := r.Payload["chunk_index"].(float64); ok {
			res.ChunkIndex = int(v)
		}
		results = append(results, res)
	}
	return results, nil
}

// do issues one JSON request against the cluster. 404 maps to
// ErrCollectionNotFound so callers can tell "not ready" apart from failure.
func (q *Qdrant) do(ctx context.Context, method, path string, body, out any) error {
	var payload *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(b)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.url+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode == http.StatusNotFound {
		return ErrCollectionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Status struct {
				Error string `json:"error"`
			} `json:"status"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Status.Error != "" {
			return fmt.Errorf("qdrant %s %s: %s", method, path, e.Status.Error)
		}
		return fmt.Errorf("qdrant %s %s: %s", method, path, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
