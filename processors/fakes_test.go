package processors

import (
	"context"
	"errors"
	"os"
	"sync"

	"videoRAG/core"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
	calls   int
}

func (f *fakeEmbedder) vec(text string) []float32 {
	if v, ok := f.vectors[text]; ok {
		return append([]float32(nil), v...)
	}
	return []float32{float32(len(text)), 1}
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vec(t)
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedOne(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.vec(text), nil
}

type fakeTranscriber struct {
	segments []core.Segment
	err      error
	model    string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ string, modelSize string) ([]core.Segment, error) {
	f.model = modelSize
	return f.segments, f.err
}

type fakeFrames struct {
	mu    sync.Mutex
	calls []float64
	err   error
}

func (f *fakeFrames) ExtractFrame(_ context.Context, _, _ string, ts float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ts)
	return f.err
}

type fakeProber struct {
	duration float64
	err      error
}

func (f fakeProber) ProbeDuration(context.Context, string) (float64, error) {
	return f.duration, f.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]core.ProgressEvent
}

func newRecorder() *recordingPublisher {
	return &recordingPublisher{events: map[string][]core.ProgressEvent{}}
}

func (r *recordingPublisher) Publish(videoID string, ev core.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[videoID] = append(r.events[videoID], ev)
}

func (r *recordingPublisher) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, evs := range r.events {
		n += len(evs)
	}
	return n
}

func (r *recordingPublisher) stages(videoID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events[videoID] {
		out = append(out, ev.Stage)
	}
	return out
}

// failingIndex fails every replace and otherwise behaves like a static index.
type failingIndex struct {
	entries map[string][]core.Entry
}

var errIndexDown = errors.New("index unavailable")

func (f *failingIndex) ReplaceEntries(context.Context, string, []core.Entry) error { return errIndexDown }

func (f *failingIndex) ListEntries(_ context.Context, videoID string) ([]core.Entry, error) {
	return f.entries[videoID], nil
}

func (f *failingIndex) DeleteEntries(_ context.Context, videoID string) error {
	delete(f.entries, videoID)
	return nil
}

func writeFile(path string) error {
	return os.WriteFile(path, []byte("jpg"), 0o644)
}
