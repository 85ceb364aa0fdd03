package websocket

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"muni-chatbot-be/internal/pkg/logger"

	"github.com/redis/go-redis/v9"
)

type Hub struct {
	// Registered clients map: ConversationID -> List of Clients (multi-tab)
	clients map[string][]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Lock for safe map access
	mu sync.RWMutex

	// Redis connection for cross-instance communication
	rdb *redis.Client

	// Dedicated Logger
	logger logger.ILogger
}

// clusterEvent is the cross-instance envelope on the "cluster_events"
// channel. Message embeds the event object verbatim so peer instances can
// push it to their sockets unmodified.
type clusterEvent struct {
	TargetConversationID string          `json:"target_conversation_id"`
	Message              json.RawMessage `json:"message"`
}

func encodeClusterEvent(target string, data []byte) []byte {
	payload, _ := json.Marshal(clusterEvent{
		TargetConversationID: target,
		Message:              json.RawMessage(data),
	})
	return payload
}

func NewHub(rdb *redis.Client, log logger.ILogger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string][]*Client),
		rdb:        rdb,
		logger:     log,
	}
}

func (h *Hub) Run() {
	// Start Redis Subscriber if Redis is available
	if h.rdb != nil {
		go h.subscribeToRedis()
	}

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ConversationID] = append(h.clients[client.ConversationID], client)
			h.mu.Unlock()
			h.logger.Info("Hub", "Client registered", map[string]interface{}{"conversation_id": client.ConversationID})

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.ConversationID]; ok {
				for i, c := range clients {
					if c == client {
						// Remove from slice
						h.clients[client.ConversationID] = append(clients[:i], clients[i+1:]...)
						close(client.Send)
						break
					}
				}
				if len(h.clients[client.ConversationID]) == 0 {
					delete(h.clients, client.ConversationID)
					h.logger.Info("Hub", "Client completely unregistered", map[string]interface{}{"conversation_id": client.ConversationID})
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast sends an event to ALL connected clients, regardless of
// conversation. Used for service-wide notices.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	for _, clients := range h.clients {
		for _, client := range clients {
			select {
			case client.Send <- data:
			default:
				go func(c *Client) { h.unregister <- c }(client)
			}
		}
	}
	h.mu.RUnlock()

	// Publish to Redis for other instances, "*" targets everyone
	if h.rdb != nil {
		h.rdb.Publish(context.Background(), "cluster_events", encodeClusterEvent("*", data))
	}
}

// Send delivers an event to every open socket of one conversation.
func (h *Hub) Send(conversationID string, data []byte) {
	// 1. Deliver locally. The lock is held across delivery so unregister
	// cannot close a channel mid-send.
	h.mu.RLock()
	for _, client := range h.clients[conversationID] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn("Hub", "Client Send buffer full, dropping message", map[string]interface{}{"conversation_id": conversationID})
			go func(c *Client) { h.unregister <- c }(client)
		}
	}
	h.mu.RUnlock()

	// 2. Publish to Redis so other instances can deliver to sockets they hold
	if h.rdb != nil {
		h.rdb.Publish(context.Background(), "cluster_events", encodeClusterEvent(conversationID, data))
	}
}

func (h *Hub) subscribeToRedis() {
	// Every instance subscribes to "cluster_events" where payloads carry
	// {target_conversation_id, message}. When a message arrives, check if
	// we hold the conversation locally. If yes, deliver.
	ctx := context.Background()
	pubsub := h.rdb.Subscribe(ctx, "cluster_events")
	defer pubsub.Close()

	ch := pubsub.Channel()

	for msg := range ch {
		// Parse message
		var payload clusterEvent
		if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
			log.Printf("Redis msg parse error: %v", err)
			continue
		}

		// Check for Broadcast
		if payload.TargetConversationID == "*" {
			h.mu.RLock()
			for _, clients := range h.clients {
				for _, client := range clients {
					select {
					case client.Send <- payload.Message:
					default:
						go func(c *Client) { h.unregister <- c }(client)
					}
				}
			}
			h.mu.RUnlock()
			continue
		}

		// Check local
		h.mu.RLock()
		for _, client := range h.clients[payload.TargetConversationID] {
			select {
			case client.Send <- payload.Message:
			default:
				go func(c *Client) { h.unregister <- c }(client)
			}
		}
		h.mu.RUnlock()
	}
}
