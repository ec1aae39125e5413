package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/edukit/tutorchat/internal/ai"
	"github.com/edukit/tutorchat/internal/chat"
	"github.com/edukit/tutorchat/internal/config"
	"github.com/edukit/tutorchat/internal/history"
	"github.com/edukit/tutorchat/internal/ingest"
	"github.com/edukit/tutorchat/internal/vectorstore"
)

func main() {
	// Create flagset for configuration
	fs := pflag.NewFlagSet("tutorchat-api", pflag.ExitOnError)

	// Load configuration
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// Set up logging
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().
		Str("provider", cfg.Provider).
		Str("vector_backend", cfg.VectorBackend).
		Str("collection", cfg.Collection).
		Str("log_level", cfg.LogLevel).
		Msg("starting tutorchat api")

	clientConfig, err := buildClientConfig(cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx := context.Background()

	client, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}
	logger.Info().Int("embedding_dim", client.Dim()).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	vectors, err := buildVectorStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create vector store: %v", err)
	}
	defer vectors.Close()

	hist, err := history.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer hist.Close()
	if err := hist.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	ingestSvc := ingest.New(client, vectors, ingest.Options{
		DocsRoot:       cfg.DocsPath,
		Collection:     cfg.Collection,
		MaxChunkChars:  cfg.MaxChunkChars,
		OverlapChars:   cfg.ChunkOverlapChars,
		EmbedBatchSize: cfg.EmbedBatchSize,
	})
	chatSvc := chat.NewService(client, vectors, hist, chat.Options{
		Collection:     cfg.Collection,
		TopK:           cfg.TopK,
		ScoreThreshold: cfg.ScoreThreshold,
		HistoryTurns:   cfg.HistoryTurns,
		MaxChatTokens:  cfg.MaxChatTokens,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		ready, err := vectors.CollectionExists(ctx, cfg.Collection)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, map[string]any{"status": "ok", "collection_ready": ready})
	})

	mux.HandleFunc("/ingest", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
		defer cancel()

		stats, err := ingestSvc.Run(ctx)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, map[string]any{
			"files":           stats.Files,
			"chunks":          stats.Chunks,
			"points_upserted": stats.PointsUpserted,
			"message": fmt.Sprintf("Ingested %d files → %d chunks (%d vectors upserted).",
				stats.Files, stats.Chunks, stats.PointsUpserted),
		})
	})

	mux.HandleFunc("/chat", handleChat(chatSvc, false))
	mux.HandleFunc("/chat-selected", handleChat(chatSvc, true))

	mux.HandleFunc("/personalize", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req chat.PersonalizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
		defer cancel()

		out, err := chatSvc.Personalize(ctx, req)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, map[string]string{"personalized_content": out})
	})

	mux.HandleFunc("/translate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Text           string `json:"text"`
			TargetLanguage string `json:"target_language"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
		defer cancel()

		out, err := chatSvc.Translate(ctx, req.Text, req.TargetLanguage)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, map[string]string{"translated_text": out})
	})

	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		sessions, err := hist.ListSessions(ctx, limit)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, sessions)
	})

	mux.HandleFunc("/sessions/", func(w http.ResponseWriter, r *http.Request) {
		// Supports DELETE /sessions/{id}/history
		rel := strings.TrimPrefix(r.URL.Path, "/sessions/")
		rel = strings.TrimSuffix(rel, "/")
		if !strings.HasSuffix(rel, "/history") {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		sessionID := strings.TrimSuffix(rel, "/history")

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		deleted, err := hist.DeleteSessionHistory(ctx, sessionID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]int{"deleted": deleted})
	})

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(corsMiddleware(cfg.GetAllowedOrigins(), mux)),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}

// handleChat serves /chat and /chat-selected; the latter requires the
// highlighted-text field.
func handleChat(svc *chat.Service, requireSelected bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req chat.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			http.Error(w, "question is required", http.StatusBadRequest)
			return
		}
		if requireSelected && strings.TrimSpace(req.SelectedText) == "" {
			http.Error(w, "selected_text is required", http.StatusBadRequest)
			return
		}
		if !requireSelected {
			req.SelectedText = ""
		}

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()

		resp, err := svc.Answer(ctx, req)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		writeJSON(w, resp)
	}
}

func buildClientConfig(cfg config.Specification) (*ai.ClientConfig, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Provider:   ai.ProviderOpenAI,
		}, nil
	case "vertexai", "google":
		return &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderVertexAI,
		}, nil
	case "stub":
		return &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}, nil
	default:
		return nil, errors.New("unsupported provider: " + cfg.Provider)
	}
}

func buildVectorStore(ctx context.Context, cfg config.Specification) (vectorstore.Store, error) {
	switch cfg.VectorBackend {
	case "qdrant":
		return vectorstore.NewQdrant(vectorstore.QdrantConfig{
			URL:             cfg.QdrantURL,
			APIKey:          cfg.QdrantAPIKey,
			UpsertBatchSize: cfg.UpsertBatchSize,
		}), nil
	case "pgvector":
		return vectorstore.NewPG(ctx, cfg.Database, cfg.UpsertBatchSize)
	default:
		return nil, errors.New("unsupported vector backend: " + cfg.VectorBackend)
	}
}

func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", 500)
	}
}
