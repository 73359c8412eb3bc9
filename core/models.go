package core

import (
	"time"
)

// ========== Transcript data ==========

// Segment is one time-coded span of transcribed speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Chunk is a merged window of one or more segments sized for retrieval.
type Chunk struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Entry is a chunk plus its embedding, persisted per video.
type Entry struct {
	VideoID   string    `json:"video_id"`
	Text      string    `json:"text"`
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
	Embedding []float32 `json:"embedding,omitempty"`
}

// ScoredEntry pairs an entry with its similarity to a query.
type ScoredEntry struct {
	Score float64 `json:"score"`
	Entry Entry   `json:"entry"`
}

// ========== Videos ==========

type VideoStatus string

const (
	StatusProcessing VideoStatus = "processing"
	StatusReady      VideoStatus = "ready"
	StatusError      VideoStatus = "error"
)

// Valid reports whether s is one of the known states.
func (s VideoStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusReady, StatusError:
		return true
	}
	return false
}

type Video struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	MediaPath   string      `json:"media_path"`
	DurationSec float64     `json:"duration_sec"`
	Status      VideoStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ========== Progress ==========

// Pipeline stage names carried by progress events.
const (
	StageTranscribe = "transcribe"
	StageChunk      = "chunk"
	StageEmbed      = "embed"
	StageIndex      = "index"
	StageReady      = "ready"
	StageError      = "error"
)

// ProgressEvent describes pipeline advancement for one video.
type ProgressEvent struct {
	Stage   string `json:"stage"`
	Percent int    `json:"pct"`
	Message string `json:"message"`
}

// ========== Search ==========

type SearchMatch struct {
	Timestamp float64 `json:"timestamp"`
	HHMMSS    string  `json:"hhmmss"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
	FrameURL  string  `json:"frameUrl,omitempty"`
}

type SearchResponse struct {
	Best         SearchMatch   `json:"best"`
	Alternatives []SearchMatch `json:"alternatives"`
}
