package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"videoRAG/core"
	"videoRAG/utils"
)

// OpenAITranscriber calls the hosted Whisper endpoint and keeps its segment timings.
type OpenAITranscriber struct {
	client *openai.Client
	model  string
}

func NewOpenAITranscriber(client *openai.Client) *OpenAITranscriber {
	return &OpenAITranscriber{client: client, model: openai.Whisper1}
}

// Transcribe ignores modelSize; the hosted API exposes a single model.
func (t *OpenAITranscriber) Transcribe(ctx context.Context, mediaPath, modelSize string) ([]core.Segment, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: mediaPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("transcription API failed: %w", err)
	}
	segs := make([]core.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segs = append(segs, core.Segment{Start: s.Start, End: s.End, Text: strings.TrimSpace(s.Text)})
	}
	return segs, nil
}

// LocalWhisper runs a local transcription script that prints a JSON array of
// {start, end, text} objects. The script receives the media path and model size.
type LocalWhisper struct {
	Command string
}

func (l LocalWhisper) Transcribe(ctx context.Context, mediaPath, modelSize string) ([]core.Segment, error) {
	name, args := utils.SplitCommand(l.Command)
	if name == "" {
		return nil, &core.ServiceUnavailableError{Service: "whisper", Err: fmt.Errorf("no whisper command configured")}
	}
	args = append(args, mediaPath, modelSize)
	output, err := utils.RunCommand(ctx, name, args...)
	if err != nil {
		return nil, fmt.Errorf("local whisper transcription failed: %w", err)
	}
	return parseWhisperOutput(output)
}

func parseWhisperOutput(output []byte) ([]core.Segment, error) {
	var segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	}
	if err := json.Unmarshal(output, &segments); err != nil {
		return nil, fmt.Errorf("failed to parse whisper output: %w", err)
	}
	result := make([]core.Segment, len(segments))
	for i, seg := range segments {
		result[i] = core.Segment{Start: seg.Start, End: seg.End, Text: strings.TrimSpace(seg.Text)}
	}
	return result, nil
}
