package processors

import (
	"math/rand"
	"reflect"
	"testing"

	"videoRAG/core"
)

func TestChunkSegmentsMergesWithinWindow(t *testing.T) {
	segs := []core.Segment{
		{Start: 0, End: 5, Text: "a"},
		{Start: 6, End: 10, Text: "b"},
		{Start: 25, End: 30, Text: "c"},
	}
	got := ChunkSegments(segs, 15)
	want := []core.Chunk{
		{Start: 0, End: 10, Text: "a b"},
		{Start: 25, End: 30, Text: "c"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ChunkSegments() = %+v, want %+v", got, want)
	}
}

func TestChunkSegmentsEdgeCases(t *testing.T) {
	if got := ChunkSegments(nil, 15); len(got) != 0 {
		t.Errorf("empty input should give empty output, got %+v", got)
	}

	one := ChunkSegments([]core.Segment{{Start: 1, End: 2, Text: "solo"}}, 15)
	if len(one) != 1 || one[0].Text != "solo" {
		t.Errorf("single segment should give one chunk, got %+v", one)
	}

	// A segment longer than the window opens its own chunk and anchors the next comparison.
	long := ChunkSegments([]core.Segment{
		{Start: 0, End: 3, Text: "x"},
		{Start: 3, End: 40, Text: "long"},
		{Start: 40, End: 50, Text: "y"},
		{Start: 50, End: 56, Text: "z"},
	}, 15)
	want := []core.Chunk{
		{Start: 0, End: 3, Text: "x"},
		{Start: 3, End: 40, Text: "long"},
		{Start: 40, End: 50, Text: "y"},
		{Start: 50, End: 56, Text: "z"},
	}
	if !reflect.DeepEqual(long, want) {
		t.Errorf("got %+v, want %+v", long, want)
	}
}

func TestChunkSegmentsAnchorsToChunkStart(t *testing.T) {
	// Each gap is small, but the third segment ends more than 15s after the chunk start.
	got := ChunkSegments([]core.Segment{
		{Start: 0, End: 6, Text: "one"},
		{Start: 6, End: 12, Text: "two"},
		{Start: 12, End: 18, Text: "three"},
	}, 15)
	if len(got) != 2 || got[0].Text != "one two" || got[1].Start != 12 {
		t.Errorf("unexpected chunks %+v", got)
	}
}

func TestChunkSegmentsEmptyTextNoLeadingSpace(t *testing.T) {
	got := ChunkSegments([]core.Segment{
		{Start: 0, End: 1, Text: ""},
		{Start: 1, End: 2, Text: "hello"},
	}, 15)
	if got[0].Text != "hello" {
		t.Errorf("expected %q, got %q", "hello", got[0].Text)
	}
}

func TestChunkSegmentsDefaultWindow(t *testing.T) {
	segs := []core.Segment{{Start: 0, End: 5, Text: "a"}, {Start: 5, End: 14, Text: "b"}}
	if got := ChunkSegments(segs, 0); len(got) != 1 {
		t.Errorf("non-positive window should fall back to %vs, got %+v", DefaultChunkWindow, got)
	}
}

func randomSegments(r *rand.Rand, n int) []core.Segment {
	segs := make([]core.Segment, 0, n)
	t := 0.0
	for i := 0; i < n; i++ {
		start := t + r.Float64()*3
		end := start + 0.5 + r.Float64()*20
		segs = append(segs, core.Segment{Start: start, End: end, Text: string(rune('a' + i%26))})
		t = end
	}
	return segs
}

func TestChunkSegmentsProperties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		segs := randomSegments(r, r.Intn(30))
		window := 5 + r.Float64()*25
		chunks := ChunkSegments(segs, window)

		for i := 1; i < len(chunks); i++ {
			if chunks[i].Start < chunks[i-1].Start {
				t.Fatalf("trial %d: chunk starts out of order: %+v", trial, chunks)
			}
			if chunks[i].Start < chunks[i-1].End {
				t.Fatalf("trial %d: chunks overlap: %+v", trial, chunks)
			}
		}

		again := ChunkSegments(ChunksAsSegments(chunks), window)
		if !reflect.DeepEqual(chunks, again) {
			t.Fatalf("trial %d: re-chunking changed output\nfirst:  %+v\nsecond: %+v", trial, chunks, again)
		}
	}
}
