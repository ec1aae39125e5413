package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/edukit/tutorchat/internal/ai"
	"github.com/edukit/tutorchat/internal/vectorstore"
	"github.com/edukit/tutorchat/pkg/models"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Options carries the tunables for one ingestion pipeline.
type Options struct {
	DocsRoot       string
	Collection     string
	MaxChunkChars  int
	OverlapChars   int
	EmbedBatchSize int

	// Normalizer converts raw document text to plain prose. Defaults to
	// Normalize; the ingestion CLI swaps in Flatten.
	Normalizer func(string) string
}

// Service runs the full ingestion pipeline: discover documents, normalize
// and chunk them, embed the chunks, then reset and repopulate the vector
// collection. Every run replaces the collection wholesale.
type Service struct {
	Client ai.Client
	Store  vectorstore.Store
	Opts   Options

	Walker     FileSystemWalker
	FileReader FileReader
}

// New creates an ingestion Service with default filesystem dependencies.
func New(client ai.Client, store vectorstore.Store, opts Options) *Service {
	if opts.Normalizer == nil {
		opts.Normalizer = Normalize
	}
	return &Service{
		Client:     client,
		Store:      store,
		Opts:       opts,
		Walker:     &DefaultFileSystemWalker{},
		FileReader: &DefaultFileReader{},
	}
}

// Run executes one ingestion pass. An empty corpus (no matching files, or no
// chunks after normalization) returns zero stats without touching the store.
func (s *Service) Run(ctx context.Context) (models.IngestStats, error) {
	files, err := s.discover()
	if err != nil {
		return models.IngestStats{}, fmt.Errorf("discover documents: %w", err)
	}
	if len(files) == 0 {
		log.Info().Str("root", s.Opts.DocsRoot).Msg("no documents found, nothing to ingest")
		return models.IngestStats{}, nil
	}

	chunks, err := s.buildChunks(files)
	if err != nil {
		return models.IngestStats{}, err
	}
	if len(chunks) == 0 {
		log.Info().Int("files", len(files)).Msg("no chunks after normalization, nothing to ingest")
		return models.IngestStats{Files: len(files)}, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	embeddings, err := EmbedTexts(ctx, s.Client, texts, s.Opts.EmbedBatchSize)
	if err != nil {
		return models.IngestStats{}, fmt.Errorf("embed chunks: %w", err)
	}

	if err := s.Store.ResetCollection(ctx, s.Opts.Collection, s.Client.Dim()); err != nil {
		return models.IngestStats{}, fmt.Errorf("reset collection: %w", err)
	}
	upserted, err := s.Store.Upsert(ctx, s.Opts.Collection, chunks, embeddings)
	if err != nil {
		return models.IngestStats{}, fmt.Errorf("upsert points: %w", err)
	}

	stats := models.IngestStats{Files: len(files), Chunks: len(chunks), PointsUpserted: upserted}
	log.Info().
		Int("files", stats.Files).
		Int("chunks", stats.Chunks).
		Int("points", stats.PointsUpserted).
		Msg("ingestion complete")
	return stats, nil
}

// discover returns all .md and .mdx files under the docs root, sorted by
// path so chunk identity is deterministic across runs.
func (s *Service) discover() ([]string, error) {
	var files []string
	err := s.Walker.Walk(s.Opts.DocsRoot, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".md", ".mdx":
				files = append(files, path)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// buildChunks reads every document and produces the flat, ordered chunk list.
// chunk_index increases per document across all of its sections.
func (s *Service) buildChunks(files []string) ([]models.Chunk, error) {
	var all []models.Chunk
	for _, path := range files {
		raw, err := s.FileReader.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		text := s.Opts.Normalizer(string(raw))
		if text == "" {
			log.Info().Str("path", path).Msg("document empty after normalization, skipping")
			continue
		}

		source := deriveSource(s.Opts.DocsRoot, path)
		module := deriveModule(s.Opts.DocsRoot, path)

		idx := 0
		for _, sec := range SplitSections(text) {
			for _, sub := range ChunkText(sec.Body, s.Opts.MaxChunkChars, s.Opts.OverlapChars) {
				text := sub
				if sec.Title != "" {
					// The title rides along in the embedded text, not
					// just the payload.
					text = sec.Title + "\n\n" + sub
				}
				all = append(all, models.Chunk{
					Text:       text,
					Source:     source,
					Title:      sec.Title,
					Module:     module,
					ChunkIndex: idx,
				})
				idx++
			}
		}
		log.Debug().Str("source", source).Int("chunks", idx).Msg("document chunked")
	}
	return all, nil
}

// EmbedTexts embeds texts in consecutive batches of at most batchSize,
// returning vectors in the same order as the input. Batch boundaries are a
// rate-limit concern only; a failed batch aborts the whole phase.
func EmbedTexts(ctx context.Context, client ai.Client, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := start + batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := client.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch at %d: %w", start, err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedding batch at %d: got %d vectors for %d texts", start, len(batch), end-start)
		}
		vectors = append(vectors, batch...)
		log.Debug().Int("embedded", end).Int("total", len(texts)).Msg("embedding progress")
	}
	return vectors, nil
}

// deriveSource converts an absolute document path to its source key: the
// path relative to the docs root, extension stripped, forward slashes.
func deriveSource(root, path string) string {
	rel := relPath(root, path)
	rel = strings.TrimSuffix(rel, filepath.Ext(rel))
	return filepath.ToSlash(rel)
}

// deriveModule returns the top-level directory under the docs root, or ""
// for documents sitting at the root itself.
func deriveModule(root, path string) string {
	rel := filepath.ToSlash(relPath(root, path))
	if i := strings.Index(rel, "/"); i > 0 {
		return rel[:i]
	}
	return ""
}

func relPath(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return r
}
