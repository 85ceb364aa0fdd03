package store

import (
	"time"

	"muni-chatbot-be/pkg/agent"
	"muni-chatbot-be/pkg/conversation"
	"muni-chatbot-be/pkg/speech"
)

// Conversation is the in-memory state of one active widget visit.
type Conversation struct {
	ID        string `json:"id"`
	VisitorId string `json:"visitor_id"`

	Controller *conversation.Controller `json:"-"`
	Recorder   *conversation.Recorder   `json:"-"`
	Client     *agent.Client            `json:"-"`
	Speech     *speech.Mode             `json:"-"`

	CreatedAt time.Time `json:"created_at"`
}
