package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/edukit/tutorchat/internal/ai"
	"github.com/edukit/tutorchat/internal/history"
	"github.com/edukit/tutorchat/internal/vectorstore"
	"github.com/edukit/tutorchat/pkg/models"
)

const systemPrompt = `You are a helpful teaching assistant for a university course on Physical AI and Robotics.
Your knowledge comes from the course textbook. Answer the student's question clearly and
accurately, using the provided textbook excerpts as your primary source.

Guidelines:
- If the excerpts contain the answer, use them. Cite the section title when helpful.
- If the excerpts are insufficient, say so honestly and draw on general knowledge.
- Keep answers concise but complete. Use fenced code blocks for all code snippets.
- Do not fabricate information about specific robots, APIs, or hardware.`

// Highlighted excerpts longer than this are truncated before prompting.
const maxSelectedChars = 2000

// Options carries the retrieval and prompting tunables.
type Options struct {
	Collection     string
	TopK           int
	ScoreThreshold float64
	HistoryTurns   int
	MaxChatTokens  int
}

// Service answers student questions with retrieval-augmented completions,
// tracking conversation state per session.
type Service struct {
	Client  ai.Client
	Vectors vectorstore.Store
	History history.ChatStore
	Opts    Options
}

// NewService wires the chat service with its capability handles.
func NewService(client ai.Client, vectors vectorstore.Store, hist history.ChatStore, opts Options) *Service {
	return &Service{Client: client, Vectors: vectors, History: hist, Opts: opts}
}

// Request is one chat turn from a student.
type Request struct {
	Question     string `json:"question"`
	SessionID    string `json:"session_id,omitempty"`
	SourceFilter string `json:"source_filter,omitempty"`
	SelectedText string `json:"selected_text,omitempty"`
}

// Response carries the answer plus the retrieval provenance.
type Response struct {
	Answer    string      `json:"answer"`
	SessionID string      `json:"session_id"`
	Sources   []SourceRef `json:"sources"`
}

// SourceRef identifies one retrieved chunk that informed the answer.
type SourceRef struct {
	Source string  `json:"source"`
	Title  string  `json:"title"`
	Score  float64 `json:"score"`
}

// Answer runs one RAG turn: resolve the session, embed the question,
// retrieve context if the collection is ready, assemble the prompt with
// recent history, complete, and only then persist both turns.
func (s *Service) Answer(ctx context.Context, req Request) (Response, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Response{}, errors.New("question is required")
	}

	var sessionID string
	var err error
	if req.SessionID != "" {
		sessionID, err = s.History.EnsureSession(ctx, req.SessionID)
	} else {
		sessionID, err = s.History.NewSession(ctx)
	}
	if err != nil {
		return Response{}, fmt.Errorf("resolve session: %w", err)
	}

	vectors, err := s.Client.Embed(ctx, []string{question})
	if err != nil {
		return Response{}, fmt.Errorf("embed question: %w", err)
	}
	if len(vectors) != 1 {
		return Response{}, errors.New("embedding capability returned no vector")
	}

	var chunks []models.RetrievalResult
	exists, err := s.Vectors.CollectionExists(ctx, s.Opts.Collection)
	if err != nil {
		return Response{}, fmt.Errorf("check collection: %w", err)
	}
	if exists {
		chunks, err = s.Vectors.Search(ctx, s.Opts.Collection, vectors[0],
			s.Opts.TopK, s.Opts.ScoreThreshold, req.SourceFilter)
		if err != nil {
			return Response{}, fmt.Errorf("retrieve context: %w", err)
		}
	} else {
		log.Warn().Str("collection", s.Opts.Collection).Msg("collection not ready, answering without context")
	}

	// Each turn is a user+assistant pair.
	hist, err := s.History.RecentMessages(ctx, sessionID, s.Opts.HistoryTurns*2)
	if err != nil {
		return Response{}, fmt.Errorf("fetch history: %w", err)
	}

	messages := BuildMessages(question, chunks, hist, req.SelectedText)
	answer, err := s.Client.Complete(ctx, messages, s.Opts.MaxChatTokens, 0.2)
	if err != nil {
		return Response{}, fmt.Errorf("completion: %w", err)
	}

	// History is written only after a successful completion so a failed
	// call never corrupts the transcript.
	if err := s.History.AddMessage(ctx, sessionID, "user", question); err != nil {
		return Response{}, fmt.Errorf("persist question: %w", err)
	}
	if err := s.History.AddMessage(ctx, sessionID, "assistant", answer); err != nil {
		return Response{}, fmt.Errorf("persist answer: %w", err)
	}

	sources := make([]SourceRef, 0, len(chunks))
	for _, c := range chunks {
		sources = append(sources, SourceRef{Source: c.Source, Title: c.Title, Score: c.Score})
	}
	return Response{Answer: answer, SessionID: sessionID, Sources: sources}, nil
}

// BuildMessages assembles the completion message list: system prompt, the
// session history oldest-first, then a user message combining the optional
// highlighted excerpt, the retrieved context block, and the question.
func BuildMessages(question string, chunks []models.RetrievalResult, hist []models.ChatMessage, selectedText string) []models.ChatMessage {
	var contextParts []string
	for i, c := range chunks {
		header := fmt.Sprintf("[%d] %s", i+1, c.Source)
		if c.Title != "" {
			header = fmt.Sprintf("[%d] %s — %s", i+1, c.Source, c.Title)
		}
		contextParts = append(contextParts, header+"\n"+c.Text)
	}
	contextBlock := strings.Join(contextParts, "\n\n---\n\n")

	var userParts []string
	if selectedText != "" {
		if len(selectedText) > maxSelectedChars {
			selectedText = selectedText[:maxSelectedChars]
		}
		userParts = append(userParts,
			"The student has highlighted the following excerpt from the textbook:\n\n```\n"+selectedText+"\n```")
	}
	if contextBlock != "" {
		userParts = append(userParts, "Relevant textbook excerpts:\n\n"+contextBlock)
	}
	userParts = append(userParts, "Student question: "+question)

	messages := make([]models.ChatMessage, 0, len(hist)+2)
	messages = append(messages, models.ChatMessage{Role: "system", Content: systemPrompt})
	messages = append(messages, hist...)
	messages = append(messages, models.ChatMessage{Role: "user", Content: strings.Join(userParts, "\n\n")})
	return messages
}

// PersonalizeRequest describes the student profile to adapt content for.
type PersonalizeRequest struct {
	Content         string `json:"content"`
	ExperienceLevel string `json:"experience_level"`
	HasGPU          bool   `json:"has_gpu"`
	ROSExperience   string `json:"ros_experience"`
	LearningStyle   string `json:"learning_style"`
}

// Personalize rewrites chapter content to suit the student's background.
func (s *Service) Personalize(ctx context.Context, req PersonalizeRequest) (string, error) {
	if strings.TrimSpace(req.Content) == "" {
		return "", errors.New("content is required")
	}
	gpu := "No"
	if req.HasGPU {
		gpu = "Yes"
	}
	prompt := "You are an expert educator specialising in Physical AI and Robotics. " +
		"Rewrite the following course chapter content so it is perfectly suited " +
		"to this student's background:\n\n" +
		"- Experience level: " + req.ExperienceLevel + "\n" +
		"- Has NVIDIA GPU: " + gpu + "\n" +
		"- ROS experience: " + req.ROSExperience + "\n" +
		"- Preferred learning style: " + req.LearningStyle + "\n\n" +
		"Adaptation rules:\n" +
		"• Beginner: simplify jargon, add plain-English explanations before code, use everyday analogies.\n" +
		"• Intermediate: assume standard programming knowledge; keep technical terms but explain domain-specific ones.\n" +
		"• Advanced: be concise, use precise terminology, skip basic explanations.\n" +
		"• Visual learner: add ASCII diagrams, describe visual structure, use tables.\n" +
		"• Hands-on learner: lead with code examples and exercises, minimise theory.\n" +
		"• Reading learner: favour detailed prose explanations and context.\n" +
		"• Has GPU: include GPU-specific commands and tips where relevant.\n" +
		"• ROS experience 'none': explain all ROS concepts from scratch.\n" +
		"• ROS experience 'some': reference ROS 1 concepts briefly when introducing ROS 2.\n" +
		"• ROS experience 'expert': assume full ROS 2 proficiency; focus on nuances.\n\n" +
		"Preserve all headings and code blocks. Return only the rewritten content."

	return s.Client.Complete(ctx, []models.ChatMessage{
		{Role: "system", Content: prompt},
		{Role: "user", Content: req.Content},
	}, 4000, 0.3)
}

// Translate renders text in the target language.
func (s *Service) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("text is required")
	}
	if targetLanguage == "" {
		targetLanguage = "urdu"
	}
	prompt := "You are a professional translator. Translate the following text to " +
		targetLanguage + ". Preserve the structure and meaning. " +
		"Return only the translated text, nothing else."

	return s.Client.Complete(ctx, []models.ChatMessage{
		{Role: "system", Content: prompt},
		{Role: "user", Content: text},
	}, 4000, 0.1)
}
