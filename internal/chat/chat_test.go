package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/edukit/tutorchat/pkg/models"
)

func init() {
	// Suppress logs during testing
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

// MockAIClient implements ai.Client for testing
type MockAIClient struct {
	EmbedFunc    func(ctx context.Context, texts []string) ([][]float32, error)
	CompleteFunc func(ctx context.Context, messages []models.ChatMessage, maxTokens int, temperature float32) (string, error)
}

func (m *MockAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.5}
	}
	return out, nil
}

func (m *MockAIClient) Complete(ctx context.Context, messages []models.ChatMessage, maxTokens int, temperature float32) (string, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, messages, maxTokens, temperature)
	}
	return "mock answer", nil
}

func (m *MockAIClient) Dim() int { return 1 }

// MockVectorStore implements vectorstore.Store for testing
type MockVectorStore struct {
	Exists      bool
	SearchFunc  func(ctx context.Context, name string, vector []float32, topK int, scoreThreshold float64, sourceFilter string) ([]models.RetrievalResult, error)
	SearchCalls int
}

func (m *MockVectorStore) ResetCollection(ctx context.Context, name string, vectorSize int) error {
	return nil
}

func (m *MockVectorStore) CollectionExists(ctx context.Context, name string) (bool, error) {
	return m.Exists, nil
}

func (m *MockVectorStore) CollectionInfo(ctx context.Context, name string) (models.CollectionInfo, error) {
	return models.CollectionInfo{Name: name}, nil
}

func (m *MockVectorStore) Upsert(ctx context.Context, name string, chunks []models.Chunk, embeddings [][]float32) (int, error) {
	return len(chunks), nil
}

func (m *MockVectorStore) Search(ctx context.Context, name string, vector []float32, topK int, scoreThreshold float64, sourceFilter string) ([]models.RetrievalResult, error) {
	m.SearchCalls++
	if m.SearchFunc != nil {
		return m.SearchFunc(ctx, name, vector, topK, scoreThreshold, sourceFilter)
	}
	return nil, nil
}

func (m *MockVectorStore) Close() {}

type addedMessage struct {
	Role    string
	Content string
}

// MockChatStore implements history.ChatStore for testing
type MockChatStore struct {
	Messages   []models.ChatMessage
	Added      []addedMessage
	NewCalls   int
	EnsureFunc func(ctx context.Context, sessionID string) (string, error)
}

func (m *MockChatStore) EnsureSession(ctx context.Context, sessionID string) (string, error) {
	if m.EnsureFunc != nil {
		return m.EnsureFunc(ctx, sessionID)
	}
	return sessionID, nil
}

func (m *MockChatStore) NewSession(ctx context.Context) (string, error) {
	m.NewCalls++
	return "11111111-2222-3333-4444-555555555555", nil
}

func (m *MockChatStore) AddMessage(ctx context.Context, sessionID, role, content string) error {
	m.Added = append(m.Added, addedMessage{Role: role, Content: content})
	return nil
}

func (m *MockChatStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]models.ChatMessage, error) {
	if limit < len(m.Messages) {
		return m.Messages[len(m.Messages)-limit:], nil
	}
	return m.Messages, nil
}

func (m *MockChatStore) DeleteSessionHistory(ctx context.Context, sessionID string) (int, error) {
	return 0, nil
}

func (m *MockChatStore) ListSessions(ctx context.Context, limit int) ([]models.SessionSummary, error) {
	return []models.SessionSummary{{SessionID: "s", CreatedAt: time.Now(), MessageCount: 0}}, nil
}

func defaultOptions() Options {
	return Options{
		Collection:     "textbook_chunks",
		TopK:           5,
		ScoreThreshold: 0.25,
		HistoryTurns:   6,
		MaxChatTokens:  1024,
	}
}

func TestAnswer_HappyPath(t *testing.T) {
	var completed []models.ChatMessage
	client := &MockAIClient{
		CompleteFunc: func(ctx context.Context, messages []models.ChatMessage, maxTokens int, temperature float32) (string, error) {
			completed = messages
			if maxTokens != 1024 {
				t.Errorf("maxTokens = %d, want 1024", maxTokens)
			}
			return "nodes communicate over topics", nil
		},
	}
	vectors := &MockVectorStore{
		Exists: true,
		SearchFunc: func(ctx context.Context, name string, vector []float32, topK int, threshold float64, filter string) ([]models.RetrievalResult, error) {
			if topK != 5 || threshold != 0.25 {
				t.Errorf("search tunables = %d/%v", topK, threshold)
			}
			return []models.RetrievalResult{
				{Text: "nodes body", Source: "module1-ros2/chapter1", Title: "Nodes", Score: 0.91},
			}, nil
		},
	}
	hist := &MockChatStore{
		Messages: []models.ChatMessage{
			{Role: "user", Content: "earlier question"},
			{Role: "assistant", Content: "earlier answer"},
		},
	}
	svc := NewService(client, vectors, hist, defaultOptions())

	resp, err := svc.Answer(context.Background(), Request{
		Question:  "what is a node?",
		SessionID: "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee",
	})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	if resp.Answer != "nodes communicate over topics" {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.SessionID != "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee" {
		t.Errorf("session id = %q", resp.SessionID)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Score != 0.91 {
		t.Errorf("sources = %+v", resp.Sources)
	}

	// system, two history messages, then the composed user turn.
	if len(completed) != 4 {
		t.Fatalf("completion got %d messages, want 4", len(completed))
	}
	if completed[0].Role != "system" {
		t.Errorf("first message role = %q", completed[0].Role)
	}
	if completed[1].Content != "earlier question" || completed[2].Content != "earlier answer" {
		t.Error("history not threaded oldest-first")
	}
	final := completed[3]
	if final.Role != "user" || !strings.Contains(final.Content, "Student question: what is a node?") {
		t.Errorf("final message = %+v", final)
	}
	if !strings.Contains(final.Content, "[1] module1-ros2/chapter1 — Nodes") {
		t.Errorf("context header missing from %q", final.Content)
	}

	// Both turns persisted, user first.
	if len(hist.Added) != 2 || hist.Added[0].Role != "user" || hist.Added[1].Role != "assistant" {
		t.Errorf("persisted = %+v", hist.Added)
	}
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	svc := NewService(&MockAIClient{}, &MockVectorStore{}, &MockChatStore{}, defaultOptions())
	if _, err := svc.Answer(context.Background(), Request{Question: "   "}); err == nil {
		t.Fatal("blank question should be rejected")
	}
}

func TestAnswer_NewSessionWhenUnset(t *testing.T) {
	hist := &MockChatStore{}
	svc := NewService(&MockAIClient{}, &MockVectorStore{Exists: true}, hist, defaultOptions())

	resp, err := svc.Answer(context.Background(), Request{Question: "hi"})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if hist.NewCalls != 1 {
		t.Errorf("NewSession calls = %d, want 1", hist.NewCalls)
	}
	if resp.SessionID != "11111111-2222-3333-4444-555555555555" {
		t.Errorf("session id = %q", resp.SessionID)
	}
}

func TestAnswer_SkipsSearchWhenCollectionMissing(t *testing.T) {
	vectors := &MockVectorStore{Exists: false}
	svc := NewService(&MockAIClient{}, vectors, &MockChatStore{}, defaultOptions())

	resp, err := svc.Answer(context.Background(), Request{Question: "hi"})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if vectors.SearchCalls != 0 {
		t.Error("search must be skipped when the collection is not ready")
	}
	if len(resp.Sources) != 0 {
		t.Errorf("sources = %+v, want none", resp.Sources)
	}
}

func TestAnswer_CompletionFailureLeavesHistoryUntouched(t *testing.T) {
	hist := &MockChatStore{}
	client := &MockAIClient{
		CompleteFunc: func(ctx context.Context, messages []models.ChatMessage, maxTokens int, temperature float32) (string, error) {
			return "", errors.New("model overloaded")
		},
	}
	svc := NewService(client, &MockVectorStore{Exists: true}, hist, defaultOptions())

	if _, err := svc.Answer(context.Background(), Request{Question: "hi"}); err == nil {
		t.Fatal("completion failure should propagate")
	}
	if len(hist.Added) != 0 {
		t.Errorf("messages persisted despite failed completion: %+v", hist.Added)
	}
}

func TestBuildMessages_SelectedTextTruncated(t *testing.T) {
	long := strings.Repeat("s", maxSelectedChars+500)
	messages := BuildMessages("explain this", nil, nil, long)

	final := messages[len(messages)-1].Content
	if !strings.Contains(final, "highlighted the following excerpt") {
		t.Error("selected-text preamble missing")
	}
	if strings.Contains(final, strings.Repeat("s", maxSelectedChars+1)) {
		t.Error("selected text not truncated")
	}
	if !strings.Contains(final, "```\n"+strings.Repeat("s", maxSelectedChars)+"\n```") {
		t.Error("selected text not fenced")
	}
}

func TestBuildMessages_UntitledChunkHeader(t *testing.T) {
	chunks := []models.RetrievalResult{{Text: "preamble text", Source: "overview", Title: ""}}
	messages := BuildMessages("q", chunks, nil, "")

	final := messages[len(messages)-1].Content
	if !strings.Contains(final, "[1] overview\npreamble text") {
		t.Errorf("untitled header wrong in %q", final)
	}
	if strings.Contains(final, "—") {
		t.Error("separator rendered for an empty title")
	}
}

func TestBuildMessages_ChunksJoinedWithSeparators(t *testing.T) {
	chunks := []models.RetrievalResult{
		{Text: "a", Source: "s1", Title: "T1"},
		{Text: "b", Source: "s2", Title: "T2"},
	}
	messages := BuildMessages("q", chunks, nil, "")

	final := messages[len(messages)-1].Content
	if strings.Count(final, "\n\n---\n\n") != 1 {
		t.Errorf("expected one separator between two chunks in %q", final)
	}
}

func TestPersonalize_RequiresContent(t *testing.T) {
	svc := NewService(&MockAIClient{}, &MockVectorStore{}, &MockChatStore{}, defaultOptions())
	if _, err := svc.Personalize(context.Background(), PersonalizeRequest{}); err == nil {
		t.Fatal("empty content should be rejected")
	}
}

func TestPersonalize_ProfileInPrompt(t *testing.T) {
	var sys string
	client := &MockAIClient{
		CompleteFunc: func(ctx context.Context, messages []models.ChatMessage, maxTokens int, temperature float32) (string, error) {
			sys = messages[0].Content
			return "adapted", nil
		},
	}
	svc := NewService(client, &MockVectorStore{}, &MockChatStore{}, defaultOptions())

	out, err := svc.Personalize(context.Background(), PersonalizeRequest{
		Content:         "# Chapter",
		ExperienceLevel: "beginner",
		HasGPU:          true,
		ROSExperience:   "none",
		LearningStyle:   "visual",
	})
	if err != nil {
		t.Fatalf("Personalize() error = %v", err)
	}
	if out != "adapted" {
		t.Errorf("out = %q", out)
	}
	for _, want := range []string{"beginner", "Has NVIDIA GPU: Yes", "none", "visual"} {
		if !strings.Contains(sys, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestTranslate_DefaultsToUrdu(t *testing.T) {
	var sys string
	client := &MockAIClient{
		CompleteFunc: func(ctx context.Context, messages []models.ChatMessage, maxTokens int, temperature float32) (string, error) {
			sys = messages[0].Content
			return "ترجمہ", nil
		},
	}
	svc := NewService(client, &MockVectorStore{}, &MockChatStore{}, defaultOptions())

	if _, err := svc.Translate(context.Background(), "hello", ""); err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if !strings.Contains(sys, "urdu") {
		t.Errorf("prompt = %q, want the default target language", sys)
	}
}
