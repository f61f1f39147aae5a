package stream

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	channelPrefix = "trips:"
	channelSuffix = ":changes"

	subscribeTimeout = 2 * time.Second
)

// Hub fans trip changes out to websocket viewers. With Redis configured,
// changes are also relayed to the hubs of other instances.
type Hub struct {
	id      string
	redis   *redis.Client
	pubsub  *redis.PubSub
	log     logrus.FieldLogger
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
}

type Client struct {
	TripID string
	Send   chan []byte
}

// envelope carries the origin hub so an instance skips its own relays.
type envelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

func NewHub(redisClient *redis.Client, log logrus.FieldLogger) *Hub {
	h := &Hub{
		id:      uuid.NewString(),
		redis:   redisClient,
		log:     log,
		clients: map[string]map[*Client]struct{}{},
	}

	if redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
		defer cancel()

		h.pubsub = redisClient.PSubscribe(ctx, channelPrefix+"*"+channelSuffix)
		if _, err := h.pubsub.Receive(ctx); err != nil {
			log.WithError(err).Warn("redis subscribe failed, change feed is local only")
		}
		go h.subscribeRedis()
	}
	return h
}

func (h *Hub) Register(tripID string) *Client {
	client := &Client{
		TripID: tripID,
		Send:   make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[tripID] == nil {
		h.clients[tripID] = map[*Client]struct{}{}
	}
	h.clients[tripID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if tripClients, ok := h.clients[client.TripID]; ok {
		if _, registered := tripClients[client]; !registered {
			return
		}
		delete(tripClients, client)
		if len(tripClients) == 0 {
			delete(h.clients, client.TripID)
		}
		close(client.Send)
	}
}

// Viewers reports how many websocket viewers follow tripID on this instance.
func (h *Hub) Viewers(tripID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[tripID])
}

// Broadcast sends payload, which must be JSON, to every viewer of tripID.
func (h *Hub) Broadcast(tripID string, payload []byte) {
	h.deliver(tripID, payload)

	if h.redis != nil {
		msg, err := json.Marshal(envelope{Origin: h.id, Payload: payload})
		if err != nil {
			h.log.WithError(err).WithField("trip_id", tripID).Error("encode change")
			return
		}
		if err := h.redis.Publish(context.Background(), redisChannel(tripID), msg).Err(); err != nil {
			h.log.WithError(err).WithField("trip_id", tripID).Warn("redis publish error")
		}
	}
}

// Publish encodes event as JSON and broadcasts it.
func (h *Hub) Publish(tripID string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.Broadcast(tripID, payload)
	return nil
}

// Close stops relaying from Redis.
func (h *Hub) Close() error {
	if h.pubsub == nil {
		return nil
	}
	return h.pubsub.Close()
}

func (h *Hub) deliver(tripID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[tripID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) subscribeRedis() {
	for msg := range h.pubsub.Channel() {
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			h.log.WithError(err).WithField("channel", msg.Channel).Warn("dropping malformed change")
			continue
		}
		if env.Origin == h.id {
			continue
		}
		if tripID := tripIDFromChannel(msg.Channel); tripID != "" {
			h.deliver(tripID, env.Payload)
		}
	}
}

func redisChannel(tripID string) string {
	return channelPrefix + tripID + channelSuffix
}

func tripIDFromChannel(ch string) string {
	// trips:{trip}:changes
	if len(ch) <= len(channelPrefix)+len(channelSuffix) ||
		!strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
