package processors

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"videoRAG/core"
)

var embedLogger = log.New(log.Writer(), "[EMBED] ", log.LstdFlags)

// BatchOptions bounds how embedding requests are fanned out.
type BatchOptions struct {
	BatchSize   int
	Concurrency int
	// RatePerMin caps request starts per minute; zero disables limiting.
	RatePerMin int
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.BatchSize <= 0 {
		o.BatchSize = 32
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	return o
}

type batchFunc func(ctx context.Context, texts []string) ([][]float32, error)

// embedInBatches splits texts into batches, runs them with bounded parallelism
// and returns vectors in input order. The first failing batch cancels the rest.
func embedInBatches(ctx context.Context, texts []string, opts BatchOptions, fn batchFunc) ([][]float32, error) {
	opts = opts.withDefaults()
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	var limiter *rate.Limiter
	if opts.RatePerMin > 0 {
		// tokens per second = RPM / 60
		limiter = rate.NewLimiter(rate.Limit(float64(opts.RatePerMin)/60.0), 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)

	for start := 0; start < len(texts); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(texts))
		g.Go(func() error {
			if limiter != nil {
				if err := limiter.Wait(gctx); err != nil {
					return fmt.Errorf("rate limiter: %w", err)
				}
			}
			vecs, err := fn(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed batch %d-%d: %w", start, end, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embed batch %d-%d: got %d vectors for %d texts", start, end, len(vecs), end-start)
			}
			// batches write disjoint ranges
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// OpenAIEmbedder embeds text through an OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dim    int
	opts   BatchOptions
}

func NewOpenAIEmbedder(client *openai.Client, model string, dim int, opts BatchOptions) *OpenAIEmbedder {
	return &OpenAIEmbedder{client: client, model: model, dim: dim, opts: opts}
}

func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embedLogger.Printf("embedding %d texts with %s", len(texts), e.model)
	return embedInBatches(ctx, texts, e.opts, e.request)
}

func (e *OpenAIEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEmbedder) request(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	}
	// only the v3 models accept a reduced dimension
	if e.dim > 0 && strings.HasPrefix(e.model, "text-embedding-3") {
		req.Dimensions = e.dim
	}
	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("embedding API failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d vectors for %d texts", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) {
			idx = i
		}
		out[idx] = core.Normalize(d.Embedding)
	}
	return out, nil
}
