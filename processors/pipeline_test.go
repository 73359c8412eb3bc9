package processors

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"videoRAG/core"
	"videoRAG/storage"
)

func newTestService(t *testing.T, tr *fakeTranscriber, emb *fakeEmbedder, prober fakeProber) (*VideoService, *storage.Store, *recordingPublisher) {
	t.Helper()
	store := storage.NewMemoryStore()
	rec := newRecorder()
	svc := NewVideoService(ServiceOptions{
		Store:          store,
		Transcriber:    tr,
		Embedder:       emb,
		Frames:         &fakeFrames{},
		Prober:         prober,
		Progress:       rec,
		WhisperModel:   "small",
		ChunkWindow:    15,
		MaxDurationSec: 180,
		FramesDir:      t.TempDir(),
	})
	return svc, store, rec
}

var sampleSegments = []core.Segment{
	{Start: 0, End: 5, Text: "a"},
	{Start: 6, End: 10, Text: "b"},
	{Start: 25, End: 30, Text: "c"},
}

func TestSubmitRunsAllStages(t *testing.T) {
	tr := &fakeTranscriber{segments: sampleSegments}
	svc, store, rec := newTestService(t, tr, &fakeEmbedder{}, fakeProber{duration: 42})

	video, err := svc.Submit(context.Background(), SubmitRequest{MediaPath: "/tmp/talk.MP4"})
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	if video.Status != core.StatusReady || video.Title != "talk" || video.DurationSec != 42 {
		t.Errorf("unexpected video %+v", video)
	}
	if tr.model != "small" {
		t.Errorf("transcriber got model %q", tr.model)
	}

	want := []string{core.StageTranscribe, core.StageChunk, core.StageEmbed, core.StageIndex, core.StageReady}
	if got := rec.stages(video.ID); !reflect.DeepEqual(got, want) {
		t.Errorf("stages = %v, want %v", got, want)
	}
	evs := rec.events[video.ID]
	if evs[0].Percent != 10 || evs[4].Percent != 100 || evs[4].Message != "Ready" {
		t.Errorf("unexpected events %+v", evs)
	}

	entries, _ := store.ListEntries(context.Background(), video.ID)
	if len(entries) != 2 || entries[0].Text != "a b" || entries[1].Text != "c" {
		t.Errorf("unexpected index %+v", entries)
	}
	stored, _ := store.GetVideo(context.Background(), video.ID)
	if stored.Status != core.StatusReady {
		t.Errorf("stored status %s", stored.Status)
	}
}

func TestSubmitRejectsLongMediaBeforeWork(t *testing.T) {
	tr := &fakeTranscriber{segments: sampleSegments}
	svc, store, rec := newTestService(t, tr, &fakeEmbedder{}, fakeProber{duration: 181.0})

	_, err := svc.Submit(context.Background(), SubmitRequest{MediaPath: "clip.mp4"})
	if !errors.Is(err, core.ErrMediaTooLong) || !core.IsInputError(err) {
		t.Fatalf("expected too-long input error, got %v", err)
	}
	if rec.total() != 0 {
		t.Errorf("no progress events should be published, got %d", rec.total())
	}
	if tr.model != "" {
		t.Error("transcription started for rejected media")
	}
	if list, _ := store.ListVideos(context.Background()); len(list) != 0 {
		t.Errorf("rejected media created a video: %+v", list)
	}
}

func TestSubmitRejectsUnsupportedExtension(t *testing.T) {
	svc, _, rec := newTestService(t, &fakeTranscriber{}, &fakeEmbedder{}, fakeProber{duration: 10})
	for _, path := range []string{"clip.avi", "noext", ""} {
		_, err := svc.Submit(context.Background(), SubmitRequest{MediaPath: path})
		if !core.IsInputError(err) {
			t.Errorf("%q: expected input error, got %v", path, err)
		}
	}
	if rec.total() != 0 {
		t.Error("rejected uploads published events")
	}
}

func TestSubmitProbeFailureIsServiceUnavailable(t *testing.T) {
	svc, store, _ := newTestService(t, &fakeTranscriber{}, &fakeEmbedder{}, fakeProber{err: errors.New("ffprobe not found")})
	_, err := svc.Submit(context.Background(), SubmitRequest{MediaPath: "clip.webm"})
	var sue *core.ServiceUnavailableError
	if !errors.As(err, &sue) {
		t.Fatalf("expected ServiceUnavailableError, got %v", err)
	}
	if list, _ := store.ListVideos(context.Background()); len(list) != 0 {
		t.Error("probe failure created a video")
	}
}

func TestPipelineFailureMarksErrorAndPublishes(t *testing.T) {
	tr := &fakeTranscriber{err: &core.ServiceUnavailableError{Service: "whisper", Err: errors.New("model missing")}}
	svc, store, rec := newTestService(t, tr, &fakeEmbedder{}, fakeProber{duration: 30})

	video, err := svc.Submit(context.Background(), SubmitRequest{MediaPath: "clip.mov"})
	var perr *core.PipelineError
	if !errors.As(err, &perr) || perr.Stage != core.StageTranscribe {
		t.Fatalf("expected transcribe pipeline error, got %v", err)
	}
	var sue *core.ServiceUnavailableError
	if !errors.As(err, &sue) {
		t.Error("service error should stay visible through the pipeline error")
	}
	stored, _ := store.GetVideo(context.Background(), video.ID)
	if stored.Status != core.StatusError {
		t.Errorf("expected error status, got %s", stored.Status)
	}
	evs := rec.events[video.ID]
	last := evs[len(evs)-1]
	if last.Stage != core.StageError || last.Percent != 100 || !strings.HasPrefix(last.Message, "Error: ") {
		t.Errorf("unexpected final event %+v", last)
	}
}

func TestReprocessFailureKeepsPreviousIndex(t *testing.T) {
	ctx := context.Background()
	tr := &fakeTranscriber{segments: sampleSegments}
	emb := &fakeEmbedder{}
	svc, store, _ := newTestService(t, tr, emb, fakeProber{duration: 30})

	video, err := svc.Submit(ctx, SubmitRequest{MediaPath: "clip.mp4"})
	if err != nil {
		t.Fatal(err)
	}
	before, _ := store.ListEntries(ctx, video.ID)

	emb.err = errors.New("embedding quota exceeded")
	tr.segments = []core.Segment{{Start: 0, End: 1, Text: "replacement"}}
	_, err = svc.Reprocess(ctx, video.ID, true)
	var perr *core.PipelineError
	if !errors.As(err, &perr) || perr.Stage != core.StageEmbed {
		t.Fatalf("expected embed failure, got %v", err)
	}

	after, _ := store.ListEntries(ctx, video.ID)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("previous index disturbed\nbefore: %+v\nafter:  %+v", before, after)
	}
	stored, _ := store.GetVideo(ctx, video.ID)
	if stored.Status != core.StatusError {
		t.Errorf("expected error status, got %s", stored.Status)
	}
}

func TestPipelineIndexFailureIsIndexError(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	video := &core.Video{ID: "v1", MediaPath: "x.mp4", Status: core.StatusProcessing}
	_ = store.CreateVideo(ctx, video)
	idx := &failingIndex{entries: map[string][]core.Entry{"v1": {{Text: "old", Embedding: []float32{1}}}}}
	rec := newRecorder()
	p := &Pipeline{
		Transcriber: &fakeTranscriber{segments: sampleSegments},
		Embedder:    &fakeEmbedder{},
		Index:       idx,
		Videos:      store,
		Progress:    rec,
	}

	err := p.Run(ctx, video)
	var ierr *core.IndexError
	if !errors.As(err, &ierr) || !errors.Is(err, errIndexDown) {
		t.Fatalf("expected IndexError wrapping the store failure, got %v", err)
	}
	if got := idx.entries["v1"]; len(got) != 1 || got[0].Text != "old" {
		t.Errorf("previous entries changed: %+v", got)
	}
	if video.Status != core.StatusError {
		t.Errorf("expected error status, got %s", video.Status)
	}
}

func TestBuildEntriesValidation(t *testing.T) {
	chunks := []core.Chunk{{Text: "a"}, {Text: "b"}}
	if _, err := BuildEntries("v", chunks, [][]float32{{1}}); err == nil {
		t.Error("expected count mismatch error")
	}
	_, err := BuildEntries("v", chunks, [][]float32{{1, 2}, {1}})
	var ierr *core.IndexError
	if !errors.As(err, &ierr) {
		t.Errorf("expected IndexError for mixed dimensions, got %v", err)
	}
	got, err := BuildEntries("v", chunks, [][]float32{{1, 2}, {3, 4}})
	if err != nil || len(got) != 2 || got[1].VideoID != "v" {
		t.Errorf("unexpected entries %+v, %v", got, err)
	}
}

func TestSubmitAsyncAndSearch(t *testing.T) {
	ctx := context.Background()
	emb := &fakeEmbedder{vectors: map[string][]float32{"a b": {1, 0}, "c": {0, 1}, "where is c": {0, 1}}}
	svc, _, _ := newTestService(t, &fakeTranscriber{segments: sampleSegments}, emb, fakeProber{duration: 30})

	video, err := svc.SubmitAsync(ctx, SubmitRequest{MediaPath: "clip.mp4", Title: "Demo"})
	if err != nil {
		t.Fatal(err)
	}
	if video.Status != core.StatusProcessing {
		t.Errorf("async submit should return a processing video, got %s", video.Status)
	}
	svc.Wait()

	resp, err := svc.Search(ctx, video.ID, "where is c")
	if err != nil {
		t.Fatalf("Search() failed: %v", err)
	}
	if resp.Best.Text != "c" || resp.Best.Timestamp != 25 {
		t.Errorf("unexpected best %+v", resp.Best)
	}

	hits, err := svc.ChatRetrieve(ctx, video.ID, "where is c", 5)
	if err != nil || len(hits) != 2 {
		t.Errorf("ChatRetrieve() = %+v, %v", hits, err)
	}
}

func TestDeleteRemovesFrames(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, &fakeTranscriber{segments: sampleSegments}, &fakeEmbedder{}, fakeProber{duration: 30})
	video, err := svc.Submit(ctx, SubmitRequest{MediaPath: "clip.mp4"})
	if err != nil {
		t.Fatal(err)
	}
	frame := filepath.Join(svc.framesDir, FrameFileName(video.ID, 0.5))
	if err := writeFile(frame); err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, video.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(frame); !os.IsNotExist(err) {
		t.Error("frame survived video deletion")
	}
	if _, err := svc.Get(ctx, video.ID); !errors.Is(err, core.ErrVideoNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestChatRetrieveRequiresReady(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t, &fakeTranscriber{}, &fakeEmbedder{}, fakeProber{})
	_ = store.CreateVideo(ctx, &core.Video{ID: "p", Status: core.StatusProcessing})
	_, err := svc.ChatRetrieve(ctx, "p", "anything", 5)
	var conflict *core.StateConflictError
	if !errors.As(err, &conflict) {
		t.Errorf("expected state conflict, got %v", err)
	}
}
