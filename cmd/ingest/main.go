package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/edukit/tutorchat/internal/ai"
	"github.com/edukit/tutorchat/internal/config"
	"github.com/edukit/tutorchat/internal/ingest"
	"github.com/edukit/tutorchat/internal/vectorstore"
)

func main() {
	fs := pflag.NewFlagSet("tutorchat-ingest", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zlog.Logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	if _, err := os.Stat(cfg.DocsPath); err != nil {
		log.Fatalf("docs path does not exist: %s", cfg.DocsPath)
	}

	var clientConfig *ai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Provider:   ai.ProviderOpenAI,
		}
	case "vertexai", "google":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderVertexAI,
		}
	case "stub":
		clientConfig = &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}
	default:
		log.Fatalf("unsupported provider: %s", cfg.Provider)
	}

	ctx := context.Background()

	client, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatal(err)
	}
	if client.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}

	var store vectorstore.Store
	switch cfg.VectorBackend {
	case "qdrant":
		store = vectorstore.NewQdrant(vectorstore.QdrantConfig{
			URL:             cfg.QdrantURL,
			APIKey:          cfg.QdrantAPIKey,
			UpsertBatchSize: cfg.UpsertBatchSize,
		})
	case "pgvector":
		store, err = vectorstore.NewPG(ctx, cfg.Database, cfg.UpsertBatchSize)
		if err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatalf("unsupported vector backend: %s", cfg.VectorBackend)
	}
	defer store.Close()

	// The CLI flattens all residual Markdown syntax; the embedded text ends
	// up as plain prose.
	svc := ingest.New(client, store, ingest.Options{
		DocsRoot:       cfg.DocsPath,
		Collection:     cfg.Collection,
		MaxChunkChars:  cfg.MaxChunkChars,
		OverlapChars:   cfg.ChunkOverlapChars,
		EmbedBatchSize: cfg.EmbedBatchSize,
		Normalizer:     ingest.Flatten,
	})

	stats, err := svc.Run(ctx)
	if err != nil {
		log.Fatal(err)
	}
	zlog.Info().
		Int("files", stats.Files).
		Int("chunks", stats.Chunks).
		Int("points", stats.PointsUpserted).
		Str("collection", cfg.Collection).
		Msg("done")
}
