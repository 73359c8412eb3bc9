package main

import (
	"context"
	"fmt"
	"log"

	"videoRAG/config"
	"videoRAG/core"
	"videoRAG/processors"
	"videoRAG/progress"
	"videoRAG/storage"
	"videoRAG/utils"
)

// app holds the wired services shared by every command.
type app struct {
	cfg      *config.Config
	store    *storage.Store
	hub      *progress.Hub
	relay    *progress.RedisRelay
	services *processors.Services
	videos   *processors.VideoService
}

// newApp connects storage and the optional progress relay. publisher, when
// non-nil, receives progress events instead of the hub directly.
func newApp(ctx context.Context, cfg *config.Config, publisher func(hub *progress.Hub) core.ProgressPublisher) (*app, error) {
	for _, dir := range []string{cfg.DataRoot, cfg.MediaDir(), cfg.FramesDir()} {
		if err := utils.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	log.Printf("Store initialized: %s", cfg.Store)

	a := &app{cfg: cfg, store: store, hub: progress.NewHub(cfg.ProgressBuffer)}
	if cfg.RedisAddr != "" {
		relay, err := progress.NewRedisRelay(ctx, cfg.RedisAddr, cfg.RedisChannel, a.hub)
		if err != nil {
			log.Printf("Warning: progress relay disabled: %v", err)
		} else {
			a.relay = relay
		}
	}

	var pub core.ProgressPublisher = a.hub
	if publisher != nil {
		pub = publisher(a.hub)
	}

	a.services = processors.NewServices(cfg)
	a.videos = processors.NewVideoService(processors.ServiceOptions{
		Store:          store,
		Transcriber:    a.services.Transcriber,
		Embedder:       a.services.Embedder,
		Frames:         a.services.Media,
		Prober:         a.services.Media,
		Progress:       pub,
		WhisperModel:   cfg.WhisperModel,
		ChunkWindow:    cfg.ChunkWindowSec,
		MaxDurationSec: cfg.MaxDurationSec,
		FramesDir:      cfg.FramesDir(),
	})
	return a, nil
}

// close waits for background processing and releases connections.
func (a *app) close() {
	a.videos.Wait()
	if a.relay != nil {
		if err := a.relay.Close(); err != nil {
			log.Printf("close relay: %v", err)
		}
	}
	if closer, ok := a.services.Embedder.(interface{ Close() error }); ok {
		closer.Close()
	}
	a.store.Close()
}
