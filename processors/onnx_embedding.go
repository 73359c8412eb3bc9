package processors

import (
	"context"
	"fmt"
	"sync"

	tokenizer "github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"

	"videoRAG/core"
)

// ONNXConfig locates a sentence-transformer style model exported to ONNX.
type ONNXConfig struct {
	ModelPath     string
	TokenizerPath string
	// LibraryPath is the onnxruntime shared library; empty uses the loader default.
	LibraryPath string
	BatchSize   int
}

// ONNXEmbedder runs a local transformer and mean-pools its last hidden state.
type ONNXEmbedder struct {
	tok     *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession
	opts    BatchOptions

	mu sync.Mutex
}

func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	tok, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load tokenizer: %w", err)
	}

	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()
	if err := opts.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableAll); err != nil {
		return nil, fmt.Errorf("failed to set graph optimization: %w", err)
	}
	if err := opts.SetIntraOpNumThreads(0); err != nil {
		embedLogger.Printf("warning: failed to set thread count: %v", err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	embedLogger.Printf("loaded ONNX model %s", cfg.ModelPath)

	return &ONNXEmbedder{
		tok:     tok,
		session: session,
		opts:    BatchOptions{BatchSize: cfg.BatchSize, Concurrency: 1},
	}, nil
}

func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedInBatches(ctx, texts, e.opts, e.run)
}

func (e *ONNXEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.run(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *ONNXEmbedder) run(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	inputs := make([]tokenizer.EncodeInput, len(texts))
	for i, t := range texts {
		inputs[i] = tokenizer.NewSingleEncodeInput(tokenizer.NewInputSequence(t))
	}
	encodings, err := e.tok.EncodeBatch(inputs, true)
	if err != nil {
		return nil, fmt.Errorf("tokenization failed: %w", err)
	}

	maxLen := 0
	for _, enc := range encodings {
		maxLen = max(maxLen, len(enc.GetIds()))
	}
	batch := len(encodings)
	inputIDs := make([]int64, batch*maxLen)
	mask := make([]int64, batch*maxLen)
	typeIDs := make([]int64, batch*maxLen)
	for i, enc := range encodings {
		ids, am := enc.GetIds(), enc.GetAttentionMask()
		for j := range ids {
			inputIDs[i*maxLen+j] = int64(ids[j])
			mask[i*maxLen+j] = int64(am[j])
		}
	}

	shape := ort.NewShape(int64(batch), int64(maxLen))
	idsT, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsT.Destroy()
	maskT, err := ort.NewTensor(shape, mask)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskT.Destroy()
	typeT, err := ort.NewTensor(shape, typeIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer typeT.Destroy()

	outputs := make([]ort.Value, 1)
	if err := e.session.Run([]ort.Value{idsT, maskT, typeT}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output tensor is not float32")
	}
	s := out.GetShape()
	return meanPool(out.GetData(), mask, int(s[0]), int(s[1]), int(s[2])), nil
}

// meanPool averages hidden states over unmasked tokens and L2-normalizes the
// result. hidden is laid out [batch, seq, dim]; mask is [batch, seq].
func meanPool(hidden []float32, mask []int64, batch, seq, dim int) [][]float32 {
	vecs := make([][]float32, batch)
	for b := 0; b < batch; b++ {
		v := make([]float32, dim)
		var n float32
		for t := 0; t < seq; t++ {
			if mask[b*seq+t] == 0 {
				continue
			}
			n++
			row := hidden[(b*seq+t)*dim : (b*seq+t+1)*dim]
			for d, x := range row {
				v[d] += x
			}
		}
		if n > 0 {
			for d := range v {
				v[d] /= n
			}
		}
		vecs[b] = core.Normalize(v)
	}
	return vecs
}

func (e *ONNXEmbedder) Close() error {
	if e.session != nil {
		e.session.Destroy()
	}
	return ort.DestroyEnvironment()
}
