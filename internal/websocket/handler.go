package websocket

import (
	"github.com/gofiber/websocket/v2"
)

// ServeWs handles websocket requests from the widget. Each connection is
// bound to one conversation and receives its event stream.
func ServeWs(hub *Hub, c *websocket.Conn, conversationID string, onInbound func(string, []byte)) {
	client := &Client{
		Hub:            hub,
		Conn:           c,
		ConversationID: conversationID,
		Send:           make(chan []byte, 256),
		OnInbound:      onInbound,
	}
	client.Hub.register <- client

	go client.writePump()
	client.readPump() // Run readPump in current goroutine (handler)
}
