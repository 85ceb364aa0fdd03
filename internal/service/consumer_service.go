package service

import (
	"context"
	"encoding/json"
	"log"

	"muni-chatbot-be/internal/dto"
	"muni-chatbot-be/internal/websocket"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

type IConsumerService interface {
	Consume(ctx context.Context) error
}

// consumerService bridges the in-process event bus to the websocket hub:
// every chat event published by the conversation layer is pushed to the
// sockets of its conversation.
type consumerService struct {
	pubSub    *gochannel.GoChannel
	topicName string
	hub       *websocket.Hub
}

func NewConsumerService(
	pubSub *gochannel.GoChannel,
	topicName string,
	hub *websocket.Hub,
) IConsumerService {
	return &consumerService{
		pubSub:    pubSub,
		topicName: topicName,
		hub:       hub,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.pubSub.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(msg *message.Message) {
	var event dto.ChatEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		log.Printf("[ERROR] Failed to unmarshal chat event: %v", err)
		msg.Ack() // Ack invalid messages to prevent infinite retry
		return
	}

	if event.ConversationId == "" {
		log.Printf("[ERROR] Chat event without conversation id, dropping")
		msg.Ack()
		return
	}

	cs.hub.Send(event.ConversationId, msg.Payload)
	msg.Ack()
}
