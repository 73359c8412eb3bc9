package processors

import (
	"context"
	"errors"
	"sync"

	"github.com/sashabaranov/go-openai"

	"videoRAG/config"
	"videoRAG/core"
)

// Lazy builds a service on first use and keeps it for the life of the process.
// A failed build is not cached; the next call tries again.
type Lazy[T any] struct {
	name  string
	build func(ctx context.Context) (T, error)

	mu    sync.Mutex
	value T
	ready bool
}

func NewLazy[T any](name string, build func(ctx context.Context) (T, error)) *Lazy[T] {
	return &Lazy[T]{name: name, build: build}
}

// Get returns the built service or a ServiceUnavailableError.
func (l *Lazy[T]) Get(ctx context.Context) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ready {
		return l.value, nil
	}
	v, err := l.build(ctx)
	if err != nil {
		var zero T
		var sue *core.ServiceUnavailableError
		if errors.As(err, &sue) {
			return zero, err
		}
		return zero, &core.ServiceUnavailableError{Service: l.name, Err: err}
	}
	l.value, l.ready = v, true
	return v, nil
}

// Built returns the service if it has already been built.
func (l *Lazy[T]) Built() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value, l.ready
}

// LazyTranscriber defers model setup to the first transcription.
type LazyTranscriber struct{ *Lazy[core.Transcriber] }

func (t LazyTranscriber) Transcribe(ctx context.Context, mediaPath, modelSize string) ([]core.Segment, error) {
	svc, err := t.Get(ctx)
	if err != nil {
		return nil, err
	}
	return svc.Transcribe(ctx, mediaPath, modelSize)
}

// LazyEmbedder defers model setup to the first embedding call.
type LazyEmbedder struct{ *Lazy[core.Embedder] }

func (e LazyEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	svc, err := e.Get(ctx)
	if err != nil {
		return nil, err
	}
	return svc.EmbedBatch(ctx, texts)
}

func (e LazyEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	svc, err := e.Get(ctx)
	if err != nil {
		return nil, err
	}
	return svc.EmbedOne(ctx, text)
}

// Close releases the embedder if it was ever built and holds native resources.
func (e LazyEmbedder) Close() error {
	svc, ok := e.Built()
	if !ok {
		return nil
	}
	if c, ok := svc.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// Services bundles the external collaborators the pipeline and chat depend on.
type Services struct {
	Transcriber core.Transcriber
	Embedder    core.Embedder
	Generator   core.Generator
	Media       *FFmpegMedia
}

func openAIClient(cfg *config.Config) (*openai.Client, error) {
	if !cfg.HasValidAPI() {
		return nil, errors.New("api_key and base_url must be configured")
	}
	c := openai.DefaultConfig(cfg.APIKey)
	c.BaseURL = cfg.BaseURL
	return openai.NewClientWithConfig(c), nil
}

// NewServices wires providers from configuration. Nothing is contacted or
// loaded here; each handle initializes on first use.
func NewServices(cfg *config.Config) *Services {
	transcriber := NewLazy("transcriber", func(ctx context.Context) (core.Transcriber, error) {
		switch cfg.TranscribeProvider {
		case "whisper":
			return LocalWhisper{Command: cfg.WhisperCommand}, nil
		default:
			client, err := openAIClient(cfg)
			if err != nil {
				return nil, err
			}
			return NewOpenAITranscriber(client), nil
		}
	})

	embedder := NewLazy("embedder", func(ctx context.Context) (core.Embedder, error) {
		switch cfg.EmbedProvider {
		case "onnx":
			return NewONNXEmbedder(ONNXConfig{
				ModelPath:     cfg.ONNXModelPath,
				TokenizerPath: cfg.ONNXTokenizerPath,
				LibraryPath:   cfg.ONNXLibraryPath,
				BatchSize:     cfg.EmbedBatchSize,
			})
		default:
			client, err := openAIClient(cfg)
			if err != nil {
				return nil, err
			}
			return NewOpenAIEmbedder(client, cfg.EmbeddingModel, cfg.EmbeddingDim, BatchOptions{
				BatchSize:   cfg.EmbedBatchSize,
				Concurrency: cfg.EmbedConcurrency,
				RatePerMin:  cfg.EmbedRPM,
			}), nil
		}
	})

	generator := NewLazy("generator", func(ctx context.Context) (core.Generator, error) {
		client, err := openAIClient(cfg)
		if err != nil {
			return nil, err
		}
		return NewOpenAIGenerator(client, cfg.ChatModel), nil
	})

	return &Services{
		Transcriber: LazyTranscriber{transcriber},
		Embedder:    LazyEmbedder{embedder},
		Generator:   LazyGenerator{generator},
		Media:       NewFFmpegMedia(cfg.FFmpegPath, cfg.FFprobePath),
	}
}

// LazyGenerator defers client setup to the first chat request.
type LazyGenerator struct{ *Lazy[core.Generator] }

func (g LazyGenerator) Stream(ctx context.Context, systemPrompt, userPrompt string) (core.TokenStream, error) {
	svc, err := g.Get(ctx)
	if err != nil {
		return nil, err
	}
	return svc.Stream(ctx, systemPrompt, userPrompt)
}
