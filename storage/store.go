package storage

import (
	"context"
	"fmt"
	"log"

	"videoRAG/config"
	"videoRAG/core"
)

var storeLogger = log.New(log.Writer(), "[STORE] ", log.LstdFlags)

// VideoRepository persists video records and their status.
type VideoRepository interface {
	CreateVideo(ctx context.Context, v *core.Video) error
	GetVideo(ctx context.Context, id string) (*core.Video, error)
	ListVideos(ctx context.Context) ([]*core.Video, error)
	UpdateStatus(ctx context.Context, id string, status core.VideoStatus) error
	DeleteVideo(ctx context.Context, id string) error
}

// EntryIndex holds each video's embedded transcript entries.
type EntryIndex interface {
	// ReplaceEntries swaps a video's whole entry set. Readers see either the
	// previous set or the new one, never a mix, and a failure keeps the previous set.
	ReplaceEntries(ctx context.Context, videoID string, entries []core.Entry) error
	// ListEntries returns a video's entries ordered by ascending start.
	ListEntries(ctx context.Context, videoID string) ([]core.Entry, error)
	DeleteEntries(ctx context.Context, videoID string) error
}

// Store combines the repository and the index. DeleteVideo cascades to entries.
type Store struct {
	Videos  VideoRepository
	Entries EntryIndex

	closers []func()
}

func (s *Store) CreateVideo(ctx context.Context, v *core.Video) error {
	return s.Videos.CreateVideo(ctx, v)
}

func (s *Store) GetVideo(ctx context.Context, id string) (*core.Video, error) {
	return s.Videos.GetVideo(ctx, id)
}

func (s *Store) ListVideos(ctx context.Context) ([]*core.Video, error) {
	return s.Videos.ListVideos(ctx)
}

func (s *Store) UpdateStatus(ctx context.Context, id string, status core.VideoStatus) error {
	return s.Videos.UpdateStatus(ctx, id, status)
}

func (s *Store) ReplaceEntries(ctx context.Context, videoID string, entries []core.Entry) error {
	return s.Entries.ReplaceEntries(ctx, videoID, entries)
}

func (s *Store) ListEntries(ctx context.Context, videoID string) ([]core.Entry, error) {
	return s.Entries.ListEntries(ctx, videoID)
}

// DeleteVideo removes the video and everything indexed for it.
func (s *Store) DeleteVideo(ctx context.Context, id string) error {
	if _, err := s.Videos.GetVideo(ctx, id); err != nil {
		return err
	}
	if err := s.Entries.DeleteEntries(ctx, id); err != nil {
		return fmt.Errorf("delete entries for %s: %w", id, err)
	}
	return s.Videos.DeleteVideo(ctx, id)
}

func (s *Store) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// NewMemoryStore keeps everything in process memory.
func NewMemoryStore() *Store {
	return &Store{Videos: NewMemoryVideoRepository(), Entries: NewMemoryEntryIndex()}
}

// Open selects a backend from cfg.Store. Backends that fail to connect fall
// back to memory with a warning, matching local development setups.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.Store {
	case "pgvector":
		pg, err := NewPostgresStore(ctx, cfg.PostgresURL, cfg.EmbeddingDim)
		if err != nil {
			storeLogger.Printf("pgvector store unavailable, falling back to memory: %v", err)
			return NewMemoryStore(), nil
		}
		storeLogger.Printf("using pgvector store")
		return &Store{Videos: pg, Entries: pg, closers: []func(){pg.Close}}, nil

	case "milvus":
		mv, err := NewMilvusIndex(ctx, MilvusConfig{
			Address:    cfg.MilvusAddr,
			Username:   cfg.MilvusUsername,
			Password:   cfg.MilvusPassword,
			APIKey:     cfg.MilvusAPIKey,
			Collection: cfg.MilvusCollection,
			Dim:        cfg.EmbeddingDim,
		})
		if err != nil {
			storeLogger.Printf("milvus store unavailable, falling back to memory: %v", err)
			return NewMemoryStore(), nil
		}
		store := &Store{Entries: mv, closers: []func(){func() { _ = mv.Close() }}}
		if cfg.PostgresURL != "" {
			pg, err := NewPostgresStore(ctx, cfg.PostgresURL, cfg.EmbeddingDim)
			if err != nil {
				storeLogger.Printf("postgres video repository unavailable, keeping videos in memory: %v", err)
			} else {
				store.Videos = pg
				store.closers = append(store.closers, pg.Close)
			}
		}
		if store.Videos == nil {
			store.Videos = NewMemoryVideoRepository()
		}
		storeLogger.Printf("using milvus store (collection %s)", cfg.MilvusCollection)
		return store, nil

	case "memory", "":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}
