package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"muni-chatbot-be/internal/config"
	"muni-chatbot-be/internal/constant"
	"muni-chatbot-be/internal/dto"
	"muni-chatbot-be/internal/pkg/logger"
	"muni-chatbot-be/internal/repository/contract"
	"muni-chatbot-be/internal/repository/memory"
	"muni-chatbot-be/pkg/agent"
	"muni-chatbot-be/pkg/conversation"
	"muni-chatbot-be/pkg/matcher"
	"muni-chatbot-be/pkg/speech"
	"muni-chatbot-be/pkg/store"
	"muni-chatbot-be/pkg/tree"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

var ErrConversationNotFound = errors.New("conversation not found or expired")

type IChatbotService interface {
	StartConversation(ctx context.Context, visitorId string) (*dto.ChatReply, error)
	HandleMessage(ctx context.Context, req dto.ChatMessageRequest) (*dto.ChatReply, error)
	UploadFile(ctx context.Context, conversationId, fileName string, data []byte) (*dto.ChatReply, error)
	GetConfig(ctx context.Context) dto.ConfigResponse
	ProcessAudio(ctx context.Context, conversationId, usuario, correo string, audio io.Reader, fileName string) (*dto.AudioResponse, error)
}

type chatbotService struct {
	cfg          *config.Config
	index        *tree.Index
	matcher      *matcher.Matcher
	convRepo     *memory.ConversationRepository
	identityRepo contract.IdentityRepository
	pubSub       *gochannel.GoChannel
	transcriber  speech.Transcriber
	log          logger.ILogger
}

func NewChatbotService(
	cfg *config.Config,
	index *tree.Index,
	convRepo *memory.ConversationRepository,
	identityRepo contract.IdentityRepository,
	pubSub *gochannel.GoChannel,
	transcriber speech.Transcriber,
	log logger.ILogger,
) IChatbotService {
	return &chatbotService{
		cfg:          cfg,
		index:        index,
		matcher:      matcher.New(index),
		convRepo:     convRepo,
		identityRepo: identityRepo,
		pubSub:       pubSub,
		transcriber:  transcriber,
		log:          log,
	}
}

// handlerRelay breaks the construction cycle between the agent client
// (which needs its handler up front) and the controller (which needs the
// client as its link). Events arriving before bind are impossible: the
// client only connects once the controller asks it to.
type handlerRelay struct {
	target atomic.Pointer[conversation.Controller]
}

func (h *handlerRelay) bind(c *conversation.Controller) { h.target.Store(c) }

func (h *handlerRelay) OnSessionAssigned(sessionId, message string) {
	if c := h.target.Load(); c != nil {
		c.OnSessionAssigned(sessionId, message)
	}
}

func (h *handlerRelay) OnAgentStatus(p agent.AgentStatusPayload) {
	if c := h.target.Load(); c != nil {
		c.OnAgentStatus(p)
	}
}

func (h *handlerRelay) OnMessage(p agent.MessagePayload) {
	if c := h.target.Load(); c != nil {
		c.OnMessage(p)
	}
}

func (h *handlerRelay) OnFileTransfer(enabled bool, message string, notify bool) {
	if c := h.target.Load(); c != nil {
		c.OnFileTransfer(enabled, message, notify)
	}
}

func (h *handlerRelay) OnAgentDisconnected() {
	if c := h.target.Load(); c != nil {
		c.OnAgentDisconnected()
	}
}

func (h *handlerRelay) OnConnectionLost() bool {
	if c := h.target.Load(); c != nil {
		return c.OnConnectionLost()
	}
	return false
}

func (h *handlerRelay) OnReconnecting(attempt, max int) {
	if c := h.target.Load(); c != nil {
		c.OnReconnecting(attempt, max)
	}
}

func (h *handlerRelay) OnReconnected() {
	if c := h.target.Load(); c != nil {
		c.OnReconnected()
	}
}

func (h *handlerRelay) OnReconnectExhausted() {
	if c := h.target.Load(); c != nil {
		c.OnReconnectExhausted()
	}
}

func (s *chatbotService) StartConversation(ctx context.Context, visitorId string) (*dto.ChatReply, error) {
	conversationId := uuid.New().String()

	recorder := conversation.NewRecorder()
	recorder.OnEvent = s.eventPublisher(conversationId)

	relay := &handlerRelay{}
	policy := agent.RetryPolicy{
		MaxAttempts: s.cfg.AgentHub.MaxReconnects,
		Schedule:    agent.DefaultRetryPolicy().Schedule,
	}
	client := agent.NewClient(
		s.cfg.AgentHub.URL,
		relay,
		policy,
		time.Duration(s.cfg.AgentHub.HeartbeatSeconds)*time.Second,
		s.log,
	)

	// One mute flag per conversation: an escalation must never silence
	// another visitor's widget.
	speechMode := speech.NewMode()
	controller := conversation.NewController(s.index, s.matcher, client, recorder, s.log, conversation.Config{
		Speech:           speechMode,
		PersistSessionId: s.sessionPersister(ctx, visitorId),
		FailureThreshold: s.cfg.Chat.FailureThreshold,
	})
	relay.bind(controller)

	displayName := ""
	if visitorId != "" {
		if identity := s.lookupIdentity(ctx, visitorId); identity != nil {
			displayName = identity.FullName
			controller.SetIdentity(identity.FullName, identity.Email)
			if identity.LastSessionId != nil {
				controller.SetSessionId(*identity.LastSessionId)
			}
		}
	}

	recorder.Message(constant.ChatMessageRoleBot, s.welcomeMessage(displayName))
	controller.Start()

	conv := &store.Conversation{
		ID:         conversationId,
		VisitorId:  visitorId,
		Controller: controller,
		Recorder:   recorder,
		Client:     client,
		Speech:     speechMode,
		CreatedAt:  time.Now(),
	}
	s.convRepo.Save(conv)

	return s.buildReply(conv), nil
}

func (s *chatbotService) HandleMessage(ctx context.Context, req dto.ChatMessageRequest) (*dto.ChatReply, error) {
	conv, found := s.convRepo.Get(req.ConversationId)
	if !found {
		// Expired or never started: open a fresh conversation. The input
		// is not replayed against it; the caller sees the new menu.
		return s.StartConversation(ctx, "")
	}
	s.convRepo.Touch(conv.ID)

	if req.OptionId != "" {
		conv.Controller.HandleOption(ctx, req.OptionId)
	} else {
		conv.Controller.HandleText(ctx, req.Mensaje)
	}

	return s.buildReply(conv), nil
}

func (s *chatbotService) UploadFile(ctx context.Context, conversationId, fileName string, data []byte) (*dto.ChatReply, error) {
	conv, found := s.convRepo.Get(conversationId)
	if !found {
		return nil, ErrConversationNotFound
	}
	s.convRepo.Touch(conv.ID)

	conv.Controller.UploadFile(fileName, data)
	return s.buildReply(conv), nil
}

// GetConfig never fails: any missing configuration falls back to the
// built-in welcome message.
func (s *chatbotService) GetConfig(ctx context.Context) dto.ConfigResponse {
	msg := s.cfg.Chat.WelcomeMessage
	if strings.TrimSpace(msg) == "" {
		msg = constant.DefaultWelcomeMessage
	}
	return dto.ConfigResponse{MensajeBienvenida: msg}
}

func (s *chatbotService) ProcessAudio(ctx context.Context, conversationId, usuario, correo string, audio io.Reader, fileName string) (*dto.AudioResponse, error) {
	if s.transcriber == nil {
		return &dto.AudioResponse{Respuesta: "⚠️ Transcripción de audio no disponible"}, nil
	}

	text, err := s.transcriber.Transcribe(ctx, audio, fileName, "")
	if err != nil {
		s.log.Error("Chatbot", "Audio transcription failed", map[string]interface{}{"error": err.Error()})
		return &dto.AudioResponse{Respuesta: "⚠️ Error enviando audio."}, nil
	}

	if strings.TrimSpace(text) == "" {
		return &dto.AudioResponse{Respuesta: "✓ Audio recibido"}, nil
	}

	reply, err := s.HandleMessage(ctx, dto.ChatMessageRequest{
		ConversationId: conversationId,
		Mensaje:        text,
	})
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, m := range reply.Messages {
		if m.Role != constant.ChatMessageRoleUser {
			lines = append(lines, m.Text)
		}
	}
	return &dto.AudioResponse{
		SessionId: reply.SessionId,
		Respuesta: strings.Join(lines, "\n"),
	}, nil
}

func (s *chatbotService) buildReply(conv *store.Conversation) *dto.ChatReply {
	events := conv.Recorder.Drain()

	reply := &dto.ChatReply{
		ConversationId:      conv.ID,
		SessionId:           conv.Controller.SessionId(),
		Mode:                conv.Controller.Mode().String(),
		Messages:            []dto.ChatLine{},
		FileTransferEnabled: conv.Client.FileTransferEnabled(),
		SpeechMuted:         conv.Speech.Muted(),
	}

	for _, e := range events {
		switch e.Kind {
		case conversation.EventMessage:
			reply.Messages = append(reply.Messages, dto.ChatLine{
				Role:      e.Role,
				Text:      e.Text,
				Timestamp: e.Timestamp,
			})
		case conversation.EventOptions:
			reply.Options = e.Options
			reply.OptionsCleared = false
		case conversation.EventClearOptions:
			reply.Options = nil
			reply.OptionsCleared = true
		case conversation.EventRequestRegistration:
			reply.RegistrationNeeded = true
		}
	}
	return reply
}

// eventPublisher streams every conversation event onto the in-process bus
// so websocket consumers can push them live.
func (s *chatbotService) eventPublisher(conversationId string) func(conversation.Event) {
	return func(e conversation.Event) {
		event := dto.ChatEvent{
			ConversationId: conversationId,
			Kind:           e.Kind,
			Role:           e.Role,
			Text:           e.Text,
			Options:        e.Options,
			SessionId:      e.SessionId,
			Enabled:        e.Enabled,
			Timestamp:      e.Timestamp,
		}
		payload, err := json.Marshal(event)
		if err != nil {
			return
		}
		msg := message.NewMessage(watermill.NewUUID(), payload)
		if err := s.pubSub.Publish(s.cfg.Chat.EventTopic, msg); err != nil {
			s.log.Warn("Chatbot", "Failed to publish chat event", map[string]interface{}{"error": err.Error()})
		}
	}
}

// sessionPersister stores newly assigned agent session ids on the visitor
// record. Best effort: a storage failure never interrupts the chat.
func (s *chatbotService) sessionPersister(ctx context.Context, visitorId string) func(string) {
	if visitorId == "" || s.identityRepo == nil {
		return nil
	}
	id, err := uuid.Parse(visitorId)
	if err != nil {
		return nil
	}
	return func(sessionId string) {
		if err := s.identityRepo.SaveLastSessionId(context.WithoutCancel(ctx), id, sessionId); err != nil {
			s.log.Warn("Chatbot", "Failed to persist session id", map[string]interface{}{"error": err.Error()})
		}
	}
}

type identitySnapshot struct {
	FullName      string
	Email         string
	LastSessionId *string
}

func (s *chatbotService) lookupIdentity(ctx context.Context, visitorId string) *identitySnapshot {
	if s.identityRepo == nil {
		return nil
	}
	id, err := uuid.Parse(visitorId)
	if err != nil {
		return nil
	}
	rec, err := s.identityRepo.FindById(ctx, id)
	if err != nil || rec == nil {
		return nil
	}
	return &identitySnapshot{
		FullName:      rec.FullName,
		Email:         rec.Email,
		LastSessionId: rec.LastSessionId,
	}
}

// welcomeMessage resolves the configured greeting and substitutes the
// ${nombre} placeholder.
func (s *chatbotService) welcomeMessage(displayName string) string {
	msg := s.GetConfig(context.Background()).MensajeBienvenida
	if displayName != "" {
		return strings.ReplaceAll(msg, "${nombre}", displayName)
	}
	msg = strings.ReplaceAll(msg, "¡Hola ${nombre}!", "¡Hola!")
	return strings.ReplaceAll(msg, "${nombre}", "")
}
