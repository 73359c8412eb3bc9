// Package progress fans pipeline progress events out to listeners keyed by video.
// Delivery is best effort: events published with no listener are dropped and a
// listener whose buffer is full misses events rather than stalling the publisher.
package progress

import (
	"log"
	"sync"

	"videoRAG/core"
)

var logger = log.New(log.Writer(), "[PROGRESS] ", log.LstdFlags)

const DefaultBuffer = 16

type Hub struct {
	buffer int

	mu      sync.RWMutex
	subs    map[string]map[*Subscription]struct{}
	forward func(videoID string, ev core.ProgressEvent)
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{buffer: buffer, subs: map[string]map[*Subscription]struct{}{}}
}

// Publish delivers ev to current subscribers of videoID and never blocks.
func (h *Hub) Publish(videoID string, ev core.ProgressEvent) {
	logger.Printf("video %s: %s %d%% %s", videoID, ev.Stage, ev.Percent, ev.Message)
	h.deliver(videoID, ev)

	h.mu.RLock()
	fwd := h.forward
	h.mu.RUnlock()
	if fwd != nil {
		fwd(videoID, ev)
	}
}

// deliver is the local half of Publish; relayed events enter here so they are
// not forwarded again.
func (h *Hub) deliver(videoID string, ev core.ProgressEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[videoID] {
		select {
		case sub.ch <- ev:
		default:
			logger.Printf("subscriber buffer full for video %s, dropping %s event", videoID, ev.Stage)
		}
	}
}

// setForwarder installs a non-blocking hook that sees every local publish.
func (h *Hub) setForwarder(fn func(videoID string, ev core.ProgressEvent)) {
	h.mu.Lock()
	h.forward = fn
	h.mu.Unlock()
}

// Subscribe registers a listener that receives events published from now on.
func (h *Hub) Subscribe(videoID string) *Subscription {
	sub := &Subscription{hub: h, videoID: videoID, ch: make(chan core.ProgressEvent, h.buffer)}
	h.mu.Lock()
	if h.subs[videoID] == nil {
		h.subs[videoID] = map[*Subscription]struct{}{}
	}
	h.subs[videoID][sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) SubscriberCount(videoID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[videoID])
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set := h.subs[sub.videoID]; set != nil {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.videoID)
		}
	}
	// publishers send under the read lock, so closing here cannot race a send
	close(sub.ch)
}

type Subscription struct {
	hub     *Hub
	videoID string
	ch      chan core.ProgressEvent
	once    sync.Once
}

// Events is closed after Close.
func (s *Subscription) Events() <-chan core.ProgressEvent { return s.ch }

func (s *Subscription) VideoID() string { return s.videoID }

func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.unsubscribe(s) })
}
