package processors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"videoRAG/core"
)

// AllowedExtensions lists the container formats accepted for ingestion.
var AllowedExtensions = map[string]bool{".mp4": true, ".mov": true, ".webm": true}

// VideoStore is what the service needs from storage.
type VideoStore interface {
	CreateVideo(ctx context.Context, v *core.Video) error
	GetVideo(ctx context.Context, id string) (*core.Video, error)
	UpdateStatus(ctx context.Context, id string, status core.VideoStatus) error
	DeleteVideo(ctx context.Context, id string) error
	ReplaceEntries(ctx context.Context, videoID string, entries []core.Entry) error
	ListEntries(ctx context.Context, videoID string) ([]core.Entry, error)
}

type SubmitRequest struct {
	Title     string
	MediaPath string
}

// VideoService is the entry point used by the HTTP layer and the CLI.
type VideoService struct {
	store          VideoStore
	pipeline       *Pipeline
	retriever      *Retriever
	prober         core.DurationProber
	maxDurationSec float64
	framesDir      string

	// background runs started by SubmitAsync and Reprocess
	wg sync.WaitGroup
}

type ServiceOptions struct {
	Store          VideoStore
	Transcriber    core.Transcriber
	Embedder       core.Embedder
	Frames         core.FrameExtractor
	Prober         core.DurationProber
	Progress       core.ProgressPublisher
	WhisperModel   string
	ChunkWindow    float64
	MaxDurationSec float64
	FramesDir      string
}

func NewVideoService(opts ServiceOptions) *VideoService {
	if opts.MaxDurationSec <= 0 {
		opts.MaxDurationSec = 180
	}
	return &VideoService{
		store: opts.Store,
		pipeline: &Pipeline{
			Transcriber:  opts.Transcriber,
			Embedder:     opts.Embedder,
			Index:        opts.Store,
			Videos:       opts.Store,
			Progress:     opts.Progress,
			WhisperModel: opts.WhisperModel,
			ChunkWindow:  opts.ChunkWindow,
		},
		retriever: &Retriever{
			Entries:   opts.Store,
			Embedder:  opts.Embedder,
			Frames:    opts.Frames,
			FramesDir: opts.FramesDir,
			Logger:    pipelineLogger,
		},
		prober:         opts.Prober,
		maxDurationSec: opts.MaxDurationSec,
		framesDir:      opts.FramesDir,
	}
}

func (s *VideoService) Retriever() *Retriever { return s.retriever }

// validate rejects media before anything is created or published.
func (s *VideoService) validate(ctx context.Context, req SubmitRequest) (float64, error) {
	if strings.TrimSpace(req.MediaPath) == "" {
		return 0, core.NewInputError(core.ErrMissingMedia, "")
	}
	ext := strings.ToLower(filepath.Ext(req.MediaPath))
	if !AllowedExtensions[ext] {
		return 0, core.NewInputError(core.ErrUnsupportedMedia, fmt.Sprintf("%q, allowed: .mp4, .mov, .webm", ext))
	}
	duration, err := s.prober.ProbeDuration(ctx, req.MediaPath)
	if err != nil {
		return 0, &core.ServiceUnavailableError{Service: "ffprobe", Err: err}
	}
	if duration > s.maxDurationSec {
		return 0, core.NewInputError(core.ErrMediaTooLong,
			fmt.Sprintf("%.1fs exceeds the %.0fs limit", duration, s.maxDurationSec))
	}
	return duration, nil
}

func (s *VideoService) create(ctx context.Context, req SubmitRequest) (*core.Video, error) {
	duration, err := s.validate(ctx, req)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(req.MediaPath), filepath.Ext(req.MediaPath))
	}
	video := &core.Video{
		ID:          uuid.NewString(),
		Title:       title,
		MediaPath:   req.MediaPath,
		DurationSec: duration,
		Status:      core.StatusProcessing,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateVideo(ctx, video); err != nil {
		return nil, fmt.Errorf("create video: %w", err)
	}
	return video, nil
}

// Submit validates media, creates the video and processes it before returning.
// A pipeline failure returns the video in error state together with the error.
func (s *VideoService) Submit(ctx context.Context, req SubmitRequest) (*core.Video, error) {
	video, err := s.create(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.pipeline.Run(ctx, video); err != nil {
		return video, err
	}
	return video, nil
}

// SubmitAsync returns the processing video at once and runs the pipeline in
// the background, so clients can attach to the progress channel first.
func (s *VideoService) SubmitAsync(ctx context.Context, req SubmitRequest) (*core.Video, error) {
	video, err := s.create(ctx, req)
	if err != nil {
		return nil, err
	}
	s.runInBackground(ctx, *video)
	return video, nil
}

// Reprocess re-runs the pipeline for an existing video. The current index keeps
// serving until the new one replaces it.
func (s *VideoService) Reprocess(ctx context.Context, id string, wait bool) (*core.Video, error) {
	video, err := s.store.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateStatus(ctx, id, core.StatusProcessing); err != nil {
		return nil, err
	}
	video.Status = core.StatusProcessing
	if !wait {
		s.runInBackground(ctx, *video)
		return video, nil
	}
	if err := s.pipeline.Run(ctx, video); err != nil {
		return video, err
	}
	return video, nil
}

func (s *VideoService) runInBackground(ctx context.Context, video core.Video) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		// the request that started the run may finish long before the pipeline
		if err := s.pipeline.Run(context.WithoutCancel(ctx), &video); err != nil {
			pipelineLogger.Printf("background processing of %s failed: %v", video.ID, err)
		}
	}()
}

// Wait blocks until background runs have finished.
func (s *VideoService) Wait() { s.wg.Wait() }

func (s *VideoService) Get(ctx context.Context, id string) (*core.Video, error) {
	return s.store.GetVideo(ctx, id)
}

// Delete removes the video, its entries and any generated preview frames.
func (s *VideoService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteVideo(ctx, id); err != nil {
		return err
	}
	if s.framesDir != "" {
		matches, _ := filepath.Glob(filepath.Join(s.framesDir, id+"_*.jpg"))
		for _, m := range matches {
			if err := os.Remove(m); err != nil {
				pipelineLogger.Printf("remove frame %s: %v", m, err)
			}
		}
	}
	return nil
}

func (s *VideoService) Search(ctx context.Context, id, query string) (*core.SearchResponse, error) {
	video, err := s.store.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.retriever.Search(ctx, video, query)
}

// ChatRetrieve gathers chat context for a ready video.
func (s *VideoService) ChatRetrieve(ctx context.Context, id, question string, topK int) ([]core.ScoredEntry, error) {
	video, err := s.store.GetVideo(ctx, id)
	if err != nil {
		return nil, err
	}
	if video.Status != core.StatusReady {
		return nil, &core.StateConflictError{VideoID: id, Status: video.Status}
	}
	return s.retriever.Retrieve(ctx, id, question, topK)
}
