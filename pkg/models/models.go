package models

import "time"

// Chunk is the atomic retrievable unit produced by ingestion.
type Chunk struct {
	Text       string `json:"text"`
	Source     string `json:"source"`
	Title      string `json:"title"`
	Module     string `json:"module"`
	ChunkIndex int    `json:"chunk_index"`
}

// RetrievalResult is one ranked match returned by the retriever.
type RetrievalResult struct {
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	Title      string  `json:"title"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// ChatMessage is a single turn in a conversation, oldest-first when listed.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SessionSummary describes one chat session with its message count.
type SessionSummary struct {
	SessionID    string    `json:"session_id"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

// IngestStats reports the outcome of one ingestion run. A run over an empty
// corpus returns all zeros; that is a valid terminal state, not an error.
type IngestStats struct {
	Files          int `json:"files"`
	Chunks         int `json:"chunks"`
	PointsUpserted int `json:"points_upserted"`
}

// CollectionInfo reports the state of a vector collection.
type CollectionInfo struct {
	Name        string `json:"name"`
	PointsCount int    `json:"points_count"`
	Status      string `json:"status"`
}
