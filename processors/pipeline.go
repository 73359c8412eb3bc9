package processors

import (
	"context"
	"fmt"
	"log"

	"videoRAG/core"
)

var pipelineLogger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)

// EntryWriter is the write side of the entry index.
type EntryWriter interface {
	ReplaceEntries(ctx context.Context, videoID string, entries []core.Entry) error
}

// StatusWriter records a video's processing state.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, id string, status core.VideoStatus) error
}

// Pipeline turns a video's media into a searchable index:
// transcribe, chunk, embed, then replace the index in one step.
type Pipeline struct {
	Transcriber core.Transcriber
	Embedder    core.Embedder
	Index       EntryWriter
	Videos      StatusWriter
	Progress    core.ProgressPublisher

	WhisperModel string
	ChunkWindow  float64
}

type stage struct {
	name    string
	percent int
	message string
}

var (
	stageTranscribe = stage{core.StageTranscribe, 10, "Transcribing..."}
	stageChunk      = stage{core.StageChunk, 30, "Chunking transcript..."}
	stageEmbed      = stage{core.StageEmbed, 60, "Embedding text..."}
	stageIndex      = stage{core.StageIndex, 80, "Saving index..."}
	stageReady      = stage{core.StageReady, 100, "Ready"}
)

func (p *Pipeline) announce(videoID string, s stage) {
	p.Progress.Publish(videoID, core.ProgressEvent{Stage: s.name, Percent: s.percent, Message: s.message})
}

// Run processes video synchronously. On failure the video is marked error, an
// error event is published and a *core.PipelineError is returned. The previous
// index is only touched by the final replace.
func (p *Pipeline) Run(ctx context.Context, video *core.Video) error {
	current := core.StageTranscribe
	err := p.run(ctx, video, &current)
	if err == nil {
		return nil
	}

	pipelineLogger.Printf("video %s failed at %s: %v", video.ID, current, err)
	// status must land even if the caller's context is gone
	if serr := p.Videos.UpdateStatus(context.WithoutCancel(ctx), video.ID, core.StatusError); serr != nil {
		pipelineLogger.Printf("failed to mark video %s as error: %v", video.ID, serr)
	}
	video.Status = core.StatusError
	p.Progress.Publish(video.ID, core.ProgressEvent{
		Stage:   core.StageError,
		Percent: 100,
		Message: fmt.Sprintf("Error: %v", err),
	})
	return &core.PipelineError{Stage: current, Err: err}
}

func (p *Pipeline) run(ctx context.Context, video *core.Video, current *string) error {
	*current = core.StageTranscribe
	p.announce(video.ID, stageTranscribe)
	segments, err := p.Transcriber.Transcribe(ctx, video.MediaPath, p.WhisperModel)
	if err != nil {
		return err
	}
	pipelineLogger.Printf("video %s: %d segments", video.ID, len(segments))

	*current = core.StageChunk
	p.announce(video.ID, stageChunk)
	chunks := ChunkSegments(segments, p.ChunkWindow)

	*current = core.StageEmbed
	p.announce(video.ID, stageEmbed)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := p.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}

	*current = core.StageIndex
	p.announce(video.ID, stageIndex)
	entries, err := BuildEntries(video.ID, chunks, vectors)
	if err != nil {
		return err
	}
	if err := p.Index.ReplaceEntries(ctx, video.ID, entries); err != nil {
		return &core.IndexError{VideoID: video.ID, Err: err}
	}

	*current = core.StageReady
	if err := p.Videos.UpdateStatus(ctx, video.ID, core.StatusReady); err != nil {
		return err
	}
	video.Status = core.StatusReady
	p.announce(video.ID, stageReady)
	pipelineLogger.Printf("video %s ready with %d entries", video.ID, len(entries))
	return nil
}

// BuildEntries pairs chunks with their vectors. Every vector must have the
// same dimension and there must be one per chunk.
func BuildEntries(videoID string, chunks []core.Chunk, vectors [][]float32) ([]core.Entry, error) {
	if len(chunks) != len(vectors) {
		return nil, &core.IndexError{VideoID: videoID, Err: fmt.Errorf("%d chunks but %d embeddings", len(chunks), len(vectors))}
	}
	entries := make([]core.Entry, len(chunks))
	for i, c := range chunks {
		if len(vectors[i]) == 0 || len(vectors[i]) != len(vectors[0]) {
			return nil, &core.IndexError{VideoID: videoID, Err: fmt.Errorf("embedding %d has dimension %d, expected %d", i, len(vectors[i]), len(vectors[0]))}
		}
		entries[i] = core.Entry{VideoID: videoID, Text: c.Text, Start: c.Start, End: c.End, Embedding: vectors[i]}
	}
	return entries, nil
}
