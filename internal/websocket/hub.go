package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"trip-planner-be/internal/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const clusterChannel = "cluster_events"

// MessageHandler receives text frames sent by a connected user.
type MessageHandler func(ctx context.Context, userID uuid.UUID, data []byte)

type Hub struct {
	// A user may hold several connections (tabs, devices).
	clients map[uuid.UUID][]*client

	register   chan *client
	unregister chan *client

	mu sync.RWMutex

	// Redis connection for cross-instance delivery. Optional.
	rdb      redis.UniversalClient
	pubsub   *redis.PubSub
	instance string

	onMessage MessageHandler

	logger logger.ILogger
}

type clusterMessage struct {
	Origin       string          `json:"origin"`
	TargetUserID string          `json:"target_user_id"`
	Message      json.RawMessage `json:"message"`
}

func NewHub(rdb redis.UniversalClient, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		clients:    make(map[uuid.UUID][]*client),
		rdb:        rdb,
		instance:   uuid.NewString(),
		logger:     log,
	}
}

// OnMessage installs the handler for inbound frames. Call before
// Start.
func (h *Hub) OnMessage(fn MessageHandler) {
	h.onMessage = fn
}

// Start subscribes to the cluster channel (when redis is configured) and
// runs the registration loop until ctx is done.
func (h *Hub) Start(ctx context.Context) error {
	if h.rdb != nil {
		h.pubsub = h.rdb.Subscribe(ctx, clusterChannel)
		if _, err := h.pubsub.Receive(ctx); err != nil {
			h.pubsub.Close()
			return fmt.Errorf("subscribe %s: %w", clusterChannel, err)
		}
		go h.consumeCluster()
	}
	go h.run(ctx)
	return nil
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			if h.pubsub != nil {
				h.pubsub.Close()
			}
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.clients[conn.userID] = append(h.clients[conn.userID], conn)
			h.mu.Unlock()
			h.logger.Info("HUB", "Client registered", map[string]interface{}{"user_id": conn.userID.String()})

		case conn := <-h.unregister:
			h.mu.Lock()
			clients := h.clients[conn.userID]
			for i, c := range clients {
				if c == conn {
					h.clients[conn.userID] = append(clients[:i], clients[i+1:]...)
					close(conn.outbox)
					break
				}
			}
			if len(h.clients[conn.userID]) == 0 {
				delete(h.clients, conn.userID)
				h.logger.Info("HUB", "Client completely unregistered", map[string]interface{}{"user_id": conn.userID.String()})
			}
			h.mu.Unlock()
		}
	}
}

// Send delivers v as JSON to every connection of userID, on this instance
// and, through redis, on every other one.
func (h *Hub) Send(ctx context.Context, userID uuid.UUID, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	h.deliver(userID, data)

	if h.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(clusterMessage{
		Origin:       h.instance,
		TargetUserID: userID.String(),
		Message:      data,
	})
	if err != nil {
		return err
	}
	return h.rdb.Publish(ctx, clusterChannel, payload).Err()
}

func (h *Hub) deliver(userID uuid.UUID, data []byte) {
	var stale []*client

	h.mu.RLock()
	for _, conn := range h.clients[userID] {
		select {
		case conn.outbox <- data:
		default:
			stale = append(stale, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range stale {
		h.logger.Warn("HUB", "Client send buffer full, dropping connection", map[string]interface{}{"user_id": userID.String()})
		go func(c *client) { h.unregister <- c }(conn)
	}
}

func (h *Hub) consumeCluster() {
	for msg := range h.pubsub.Channel() {
		var payload clusterMessage
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			h.logger.Warn("HUB", "Unreadable cluster message", map[string]interface{}{"error": err.Error()})
			continue
		}
		if payload.Origin == h.instance {
			continue
		}
		uid, err := uuid.Parse(payload.TargetUserID)
		if err != nil {
			continue
		}
		h.deliver(uid, payload.Message)
	}
}

// Connections reports how many connections userID has on this instance.
func (h *Hub) Connections(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

func (h *Hub) dispatch(ctx context.Context, conn *client, data []byte) {
	if h.onMessage != nil {
		h.onMessage(ctx, conn.userID, data)
	}
}
