package stream

import (
	"bytes"
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const outboxSize = 256

// Hub fans live trip updates out to websocket clients. With Redis configured,
// updates are also relayed to other instances over trips:<id>:live.
type Hub struct {
	redis   *redis.Client
	log     logrus.FieldLogger
	origin  []byte
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	outbox chan outboxMsg
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Client struct {
	TripID string
	Send   chan []byte
}

type outboxMsg struct {
	tripID  string
	payload []byte
}

func NewHub(redisClient *redis.Client, log logrus.FieldLogger) *Hub {
	if log == nil {
		log = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		redis:   redisClient,
		log:     log,
		origin:  []byte(uuid.NewString() + "|"),
		clients: map[string]map[*Client]struct{}{},
		cancel:  cancel,
	}

	if redisClient != nil {
		h.outbox = make(chan outboxMsg, outboxSize)
		ready := make(chan struct{})
		h.wg.Add(2)
		go h.publishRedis(ctx)
		go h.subscribeRedis(ctx, ready)
		<-ready
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

// Subscribers reports how many local clients follow tripID.
func (h *Hub) Subscribers(tripID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[tripID])
}

// Broadcast never blocks: slow clients and a full Redis outbox drop the update.
func (h *Hub) Broadcast(tripID string, payload []byte) {
	h.deliver(tripID, payload)

	if h.outbox != nil {
		select {
		case h.outbox <- outboxMsg{tripID: tripID, payload: payload}:
		default:
			h.log.WithField("trip_id", tripID).Warn("live outbox full, dropping redis relay")
		}
	}
}

// Close stops the Redis relay goroutines.
func (h *Hub) Close() {
	h.cancel()
	h.wg.Wait()
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

func (h *Hub) publishRedis(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-h.outbox:
			body := append(append([]byte{}, h.origin...), msg.payload...)
			if err := h.redis.Publish(ctx, redisChannel(msg.tripID), body).Err(); err != nil && ctx.Err() == nil {
				h.log.WithError(err).WithField("trip_id", msg.tripID).Warn("redis publish failed")
			}
		}
	}
}

func (h *Hub) subscribeRedis(ctx context.Context, ready chan<- struct{}) {
	defer h.wg.Done()
	pubsub := h.redis.PSubscribe(ctx, "trips:*:live")
	defer pubsub.Close()
	close(ready)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			body := []byte(msg.Payload)
			if bytes.HasPrefix(body, h.origin) {
				continue
			}
			if i := bytes.IndexByte(body, '|'); i >= 0 {
				body = body[i+1:]
			}
			h.deliver(tripIDFromChannel(msg.Channel), body)
		}
	}
}

func redisChannel(tripID string) string {
	return "trips:" + tripID + ":live"
}

func tripIDFromChannel(ch string) string {
	// trips:{trip}:live
	const prefix = "trips:"
	const suffix = ":live"
	if len(ch) <= len(prefix)+len(suffix) {
		return ""
	}
	return ch[len(prefix) : len(ch)-len(suffix)]
}
