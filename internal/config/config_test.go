package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/pflag"
)

// setArgs replaces os.Args for the duration of one test so Load does not
// trip over the test binary's own flags.
func setArgs(t *testing.T, args ...string) {
	t.Helper()
	old := os.Args
	os.Args = append([]string{"tutorchat"}, args...)
	t.Cleanup(func() { os.Args = old })
}

func newFlagSet() *pflag.FlagSet {
	return pflag.NewFlagSet("test", pflag.ContinueOnError)
}

func TestLoadDefaults(t *testing.T) {
	setArgs(t)

	cfg, err := Load("", newFlagSet())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Provider != "stub" {
		t.Errorf("Provider = %q", cfg.Provider)
	}
	if cfg.Collection != "textbook_chunks" {
		t.Errorf("Collection = %q", cfg.Collection)
	}
	if cfg.VectorBackend != "qdrant" || cfg.QdrantURL != "http://localhost:6333" {
		t.Errorf("backend = %q url = %q", cfg.VectorBackend, cfg.QdrantURL)
	}
	if cfg.TopK != 5 || cfg.ScoreThreshold != 0.25 {
		t.Errorf("retrieval tunables = %d/%v", cfg.TopK, cfg.ScoreThreshold)
	}
	if cfg.MaxChunkChars != 1500 || cfg.ChunkOverlapChars != 150 {
		t.Errorf("chunking tunables = %d/%d", cfg.MaxChunkChars, cfg.ChunkOverlapChars)
	}
	if cfg.HistoryTurns != 6 || cfg.MaxChatTokens != 1024 {
		t.Errorf("chat tunables = %d/%d", cfg.HistoryTurns, cfg.MaxChatTokens)
	}
	if cfg.EmbedBatchSize != 100 || cfg.UpsertBatchSize != 200 {
		t.Errorf("batch sizes = %d/%d", cfg.EmbedBatchSize, cfg.UpsertBatchSize)
	}
	if cfg.Port != 8080 || cfg.LogLevel != "info" {
		t.Errorf("port/log = %d/%q", cfg.Port, cfg.LogLevel)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setArgs(t)
	t.Setenv("TUTORCHAT_PROVIDER", "openai")
	t.Setenv("TUTORCHAT_TOP_K", "10")
	t.Setenv("TUTORCHAT_SCORE_THRESHOLD", "0.5")
	t.Setenv("TUTORCHAT_VECTOR_BACKEND", "pgvector")
	t.Setenv("TUTORCHAT_DB_URL", "postgres://u:p@db:5432/x")

	cfg, err := Load("", newFlagSet())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider != "openai" || cfg.TopK != 10 || cfg.ScoreThreshold != 0.5 {
		t.Errorf("env overrides not applied: %+v", cfg)
	}
	if cfg.VectorBackend != "pgvector" || cfg.Database != "postgres://u:p@db:5432/x" {
		t.Errorf("backend/database = %q/%q", cfg.VectorBackend, cfg.Database)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	setArgs(t)

	path := filepath.Join(t.TempDir(), "tutorchat.yaml")
	data := []byte(`
collection: my_chunks
topK: 7
maxChunkChars: 900
logLevel: debug
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, newFlagSet())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Collection != "my_chunks" || cfg.TopK != 7 || cfg.MaxChunkChars != 900 {
		t.Errorf("yaml values not applied: %+v", cfg)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	// Untouched keys keep their defaults.
	if cfg.ScoreThreshold != 0.25 {
		t.Errorf("ScoreThreshold = %v, want default", cfg.ScoreThreshold)
	}
}

func TestLoadEnvBeatsYAML(t *testing.T) {
	setArgs(t)
	t.Setenv("TUTORCHAT_TOP_K", "3")

	path := filepath.Join(t.TempDir(), "tutorchat.yaml")
	if err := os.WriteFile(path, []byte("topK: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, newFlagSet())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TopK != 3 {
		t.Errorf("TopK = %d, env must beat yaml", cfg.TopK)
	}
}

func TestLoadFlagsBeatEnv(t *testing.T) {
	setArgs(t, "--top-k", "9", "--collection", "flag_chunks")
	t.Setenv("TUTORCHAT_TOP_K", "3")

	cfg, err := Load("", newFlagSet())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TopK != 9 || cfg.Collection != "flag_chunks" {
		t.Errorf("flags must beat env: TopK=%d Collection=%q", cfg.TopK, cfg.Collection)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "unknown backend",
			env:  map[string]string{"TUTORCHAT_VECTOR_BACKEND": "redis"},
		},
		{
			name: "qdrant backend without url",
			env:  map[string]string{"TUTORCHAT_QDRANT_URL": ""},
		},
		{
			name: "zero top-k",
			env:  map[string]string{"TUTORCHAT_TOP_K": "0"},
		},
		{
			name: "empty database",
			env:  map[string]string{"TUTORCHAT_DB_URL": " "},
		},
		{
			name: "zero chunk size",
			env:  map[string]string{"TUTORCHAT_MAX_CHUNK_CHARS": "0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setArgs(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load("", newFlagSet()); err == nil {
				t.Error("Load() should have failed validation")
			}
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	setArgs(t)
	if _, err := Load("/does/not/exist.yaml", newFlagSet()); err == nil {
		t.Error("Load() should fail on an explicit missing config file")
	}
}

func TestGetAllowedOrigins(t *testing.T) {
	s := Specification{AllowedOrigins: "http://localhost:3000, https://edu.example.com ,,"}
	got := s.GetAllowedOrigins()
	want := []string{"http://localhost:3000", "https://edu.example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetAllowedOrigins() = %v, want %v", got, want)
	}
}
