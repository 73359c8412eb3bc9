package core

import "context"

// Transcriber turns a media file into ordered, time-coded segments.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath, modelSize string) ([]Segment, error)
}

// Embedder maps text into a fixed-dimension, L2-normalized vector space.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// TokenStream is a finite, cancellable sequence of generated text tokens.
// Recv returns io.EOF once the stream is exhausted.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}

// Generator streams an answer for a system and user prompt.
type Generator interface {
	Stream(ctx context.Context, systemPrompt, userPrompt string) (TokenStream, error)
}

type FrameExtractor interface {
	ExtractFrame(ctx context.Context, mediaPath, outPath string, timestamp float64) error
}

type DurationProber interface {
	ProbeDuration(ctx context.Context, mediaPath string) (float64, error)
}

// ProgressPublisher is the publish side of the progress fan-out. Publish must not block.
type ProgressPublisher interface {
	Publish(videoID string, ev ProgressEvent)
}
