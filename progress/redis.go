package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"videoRAG/core"
)

type envelope struct {
	Origin  string             `json:"origin"`
	VideoID string             `json:"video_id"`
	Event   core.ProgressEvent `json:"event"`
}

// RedisRelay mirrors a hub's publishes across processes over Redis pub/sub.
// Each process tags its messages with an origin ID and ignores its own echoes,
// so a listener sees each event once no matter which process published it.
type RedisRelay struct {
	client  *redis.Client
	channel string
	origin  string
	hub     *Hub

	out    chan envelope
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRedisRelay connects to addr and attaches to hub. Events are published on
// "<channel>:<videoID>".
func NewRedisRelay(ctx context.Context, addr, channel string, hub *Hub) (*RedisRelay, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	r := newRelay(client, channel, hub)

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	ps := client.PSubscribe(runCtx, channel+":*")
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		ps.Close()
		client.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	go r.pump(runCtx)
	go r.listen(runCtx, ps)
	hub.setForwarder(r.enqueue)
	logger.Printf("relaying progress through redis %s (origin %s)", addr, r.origin)
	return r, nil
}

func newRelay(client *redis.Client, channel string, hub *Hub) *RedisRelay {
	return &RedisRelay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		hub:     hub,
		out:     make(chan envelope, 256),
		done:    make(chan struct{}),
	}
}

// enqueue hands an event to the pump without blocking the publisher.
func (r *RedisRelay) enqueue(videoID string, ev core.ProgressEvent) {
	select {
	case r.out <- envelope{Origin: r.origin, VideoID: videoID, Event: ev}:
	default:
		logger.Printf("redis relay queue full, dropping %s event for %s", ev.Stage, videoID)
	}
}

func (r *RedisRelay) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-r.out:
			payload, err := json.Marshal(env)
			if err != nil {
				logger.Printf("marshal relay event: %v", err)
				continue
			}
			if err := r.client.Publish(ctx, r.channel+":"+env.VideoID, payload).Err(); err != nil {
				logger.Printf("redis publish failed: %v", err)
			}
		}
	}
}

func (r *RedisRelay) listen(ctx context.Context, ps *redis.PubSub) {
	defer close(r.done)
	defer ps.Close()
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			r.handle(msg.Channel, msg.Payload)
		}
	}
}

// handle delivers a relayed event locally unless this process published it.
func (r *RedisRelay) handle(channel, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		logger.Printf("ignoring malformed relay message on %s: %v", channel, err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	if env.VideoID == "" {
		env.VideoID = strings.TrimPrefix(channel, r.channel+":")
	}
	r.hub.deliver(env.VideoID, env.Event)
}

func (r *RedisRelay) Close() error {
	r.hub.setForwarder(nil)
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
	return r.client.Close()
}
