package processors

import (
	"context"
	"fmt"
	"log"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"videoRAG/core"
	"videoRAG/utils"
)

// EntryLister is the read side of the entry index.
type EntryLister interface {
	ListEntries(ctx context.Context, videoID string) ([]core.Entry, error)
}

// Rank scores entries against query by cosine similarity. Entries are first
// put in ascending start order so the stable sort breaks score ties by start.
// At least one result is returned when entries is non-empty.
func Rank(query []float32, entries []core.Entry, topK int) []core.ScoredEntry {
	ordered := append([]core.Entry(nil), entries...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	scored := make([]core.ScoredEntry, len(ordered))
	for i, e := range ordered {
		scored[i] = core.ScoredEntry{Score: core.Cosine(query, e.Embedding), Entry: e}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	topK = max(topK, 1)
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// Retriever answers similarity queries over one video's indexed entries.
type Retriever struct {
	Entries  EntryLister
	Embedder core.Embedder

	// Frames and FramesDir enable best-match previews in Search.
	Frames    core.FrameExtractor
	FramesDir string
	Logger    *log.Logger
}

func (r *Retriever) logf(format string, args ...any) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}

// Retrieve embeds query and returns the topK closest entries of videoID.
func (r *Retriever) Retrieve(ctx context.Context, videoID, query string, topK int) ([]core.ScoredEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, core.NewInputError(core.ErrEmptyQuery, "")
	}
	entries, err := r.Entries.ListEntries(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("load entries for %s: %w", videoID, err)
	}
	if len(entries) == 0 {
		return nil, core.ErrEmptyIndex
	}
	qvec, err := r.Embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return Rank(qvec, entries, topK), nil
}

// Search returns the best match plus up to two alternatives for a ready video.
func (r *Retriever) Search(ctx context.Context, video *core.Video, query string) (*core.SearchResponse, error) {
	if strings.TrimSpace(query) == "" {
		return nil, core.NewInputError(core.ErrEmptyQuery, "")
	}
	if video.Status != core.StatusReady {
		return nil, &core.StateConflictError{VideoID: video.ID, Status: video.Status}
	}
	hits, err := r.Retrieve(ctx, video.ID, query, 3)
	if err != nil {
		return nil, err
	}

	resp := &core.SearchResponse{Best: toMatch(hits[0]), Alternatives: make([]core.SearchMatch, 0, len(hits)-1)}
	for _, h := range hits[1:] {
		resp.Alternatives = append(resp.Alternatives, toMatch(h))
	}
	resp.Best.FrameURL = r.preview(ctx, video, hits[0].Entry.Start+0.5)
	return resp, nil
}

// preview makes sure a frame exists for ts and returns its URL. Extraction
// failures are logged and the URL is returned anyway.
func (r *Retriever) preview(ctx context.Context, video *core.Video, ts float64) string {
	name := FrameFileName(video.ID, ts)
	url := "/media/frames/" + name
	if r.Frames == nil || r.FramesDir == "" {
		return url
	}
	path := filepath.Join(r.FramesDir, name)
	if utils.FileExists(path) {
		return url
	}
	if err := r.Frames.ExtractFrame(ctx, video.MediaPath, path, ts); err != nil {
		r.logf("frame preview for %s at %.2fs failed: %v", video.ID, ts, err)
	}
	return url
}

// FrameFileName is "<videoID>_<milliseconds>.jpg".
func FrameFileName(videoID string, ts float64) string {
	return fmt.Sprintf("%s_%d.jpg", videoID, int64(ts*1000))
}

func toMatch(h core.ScoredEntry) core.SearchMatch {
	return core.SearchMatch{
		Timestamp: h.Entry.Start,
		HHMMSS:    core.FormatHHMMSS(h.Entry.Start),
		Text:      h.Entry.Text,
		Score:     math.Round(h.Score*10000) / 10000,
	}
}

// ChatContext renders ranked entries as "[mm:ss] text" lines, best first.
func ChatContext(hits []core.ScoredEntry) string {
	lines := make([]string, len(hits))
	for i, h := range hits {
		lines[i] = fmt.Sprintf("[%s] %s", core.FormatClock(h.Entry.Start), h.Entry.Text)
	}
	return strings.Join(lines, "\n")
}
