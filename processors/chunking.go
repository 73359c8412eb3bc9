package processors

import (
	"strings"

	"videoRAG/core"
)

// DefaultChunkWindow is the merge window in seconds when none is configured.
const DefaultChunkWindow = 15.0

// ChunkSegments coalesces ordered segments into retrieval-sized chunks in a
// single forward pass. A segment joins the open chunk when its end lies within
// window seconds of the chunk's start; otherwise the chunk is closed and the
// segment opens the next one.
func ChunkSegments(segments []core.Segment, window float64) []core.Chunk {
	if len(segments) == 0 {
		return []core.Chunk{}
	}
	if window <= 0 {
		window = DefaultChunkWindow
	}

	chunks := make([]core.Chunk, 0, len(segments))
	var text strings.Builder
	cur := core.Chunk{Start: segments[0].Start, End: segments[0].End}
	text.WriteString(segments[0].Text)

	for _, seg := range segments[1:] {
		if seg.End-cur.Start <= window {
			cur.End = seg.End
			if text.Len() > 0 {
				text.WriteByte(' ')
			}
			text.WriteString(seg.Text)
			continue
		}
		cur.Text = text.String()
		chunks = append(chunks, cur)

		cur = core.Chunk{Start: seg.Start, End: seg.End}
		text.Reset()
		text.WriteString(seg.Text)
	}
	cur.Text = text.String()
	return append(chunks, cur)
}

// ChunksAsSegments lets a chunk list be fed back through ChunkSegments.
func ChunksAsSegments(chunks []core.Chunk) []core.Segment {
	out := make([]core.Segment, len(chunks))
	for i, c := range chunks {
		out[i] = core.Segment{Start: c.Start, End: c.End, Text: c.Text}
	}
	return out
}
