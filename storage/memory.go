package storage

import (
	"context"
	"sort"
	"sync"

	"videoRAG/core"
)

type MemoryVideoRepository struct {
	mu     sync.RWMutex
	videos map[string]core.Video
}

func NewMemoryVideoRepository() *MemoryVideoRepository {
	return &MemoryVideoRepository{videos: map[string]core.Video{}}
}

func (r *MemoryVideoRepository) CreateVideo(_ context.Context, v *core.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videos[v.ID] = *v
	return nil
}

func (r *MemoryVideoRepository) GetVideo(_ context.Context, id string) (*core.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, core.ErrVideoNotFound
	}
	return &v, nil
}

func (r *MemoryVideoRepository) ListVideos(_ context.Context) ([]*core.Video, error) {
	r.mu.RLock()
	out := make([]*core.Video, 0, len(r.videos))
	for _, v := range r.videos {
		v := v
		out = append(out, &v)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryVideoRepository) UpdateStatus(_ context.Context, id string, status core.VideoStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return core.ErrVideoNotFound
	}
	v.Status = status
	r.videos[id] = v
	return nil
}

func (r *MemoryVideoRepository) DeleteVideo(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.videos[id]; !ok {
		return core.ErrVideoNotFound
	}
	delete(r.videos, id)
	return nil
}

// MemoryEntryIndex stores each video's entries as an immutable slice that is
// swapped whole on replace.
type MemoryEntryIndex struct {
	mu   sync.RWMutex
	docs map[string][]core.Entry
}

func NewMemoryEntryIndex() *MemoryEntryIndex {
	return &MemoryEntryIndex{docs: map[string][]core.Entry{}}
}

func (s *MemoryEntryIndex) ReplaceEntries(ctx context.Context, videoID string, entries []core.Entry) error {
	// build off-lock; the swap below is the only visible step
	next := make([]core.Entry, len(entries))
	for i, e := range entries {
		e.VideoID = videoID
		e.Embedding = append([]float32(nil), e.Embedding...)
		next[i] = e
	}
	sort.SliceStable(next, func(i, j int) bool { return next[i].Start < next[j].Start })
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.docs[videoID] = next
	s.mu.Unlock()
	return nil
}

func (s *MemoryEntryIndex) ListEntries(_ context.Context, videoID string) ([]core.Entry, error) {
	s.mu.RLock()
	cur := s.docs[videoID]
	s.mu.RUnlock()
	// stored slices are never mutated, a shallow copy is enough
	return append([]core.Entry(nil), cur...), nil
}

func (s *MemoryEntryIndex) DeleteEntries(_ context.Context, videoID string) error {
	s.mu.Lock()
	delete(s.docs, videoID)
	s.mu.Unlock()
	return nil
}
