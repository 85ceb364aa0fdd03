package service

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"muni-chatbot-be/internal/config"
	"muni-chatbot-be/internal/constant"
	"muni-chatbot-be/internal/dto"
	"muni-chatbot-be/internal/entity"
	"muni-chatbot-be/internal/repository/memory"
	"muni-chatbot-be/pkg/tree"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		AgentHub: config.AgentHubConfig{
			// Unroutable on purpose: tests never reach a real hub.
			URL:              "ws://127.0.0.1:1/chatHub",
			HeartbeatSeconds: 30,
			MaxReconnects:    1,
		},
		Chat: config.ChatConfig{
			SessionTTLMinutes: 120,
			FailureThreshold:  2,
			EventTopic:        "CHAT_EVENTS_TEST",
		},
	}
}

func newTestService(t *testing.T, cfg *config.Config, repo *fakeIdentityRepo) (IChatbotService, *gochannel.GoChannel) {
	t.Helper()
	index, err := tree.Load()
	require.NoError(t, err)

	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
	svc := NewChatbotService(
		cfg,
		index,
		memory.NewConversationRepository(time.Hour),
		repo,
		pubSub,
		nil,
		nopLogger{},
	)
	return svc, pubSub
}

func TestStartConversationAnonymousWelcome(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), newFakeIdentityRepo())

	reply, err := svc.StartConversation(context.Background(), "")
	require.NoError(t, err)

	require.NotEmpty(t, reply.ConversationId)
	require.NotEmpty(t, reply.Messages)
	assert.NotContains(t, reply.Messages[0].Text, "${nombre}")
	assert.Equal(t, "MENU", reply.Mode)
	assert.NotEmpty(t, reply.Options)
}

func TestStartConversationPersonalizesWelcome(t *testing.T) {
	repo := newFakeIdentityRepo()
	stored := &entity.UserIdentity{
		Id:       uuid.New(),
		FullName: "María González",
		Email:    "maria@test.cl",
	}
	repo.byEmail[stored.Email] = stored
	svc, _ := newTestService(t, testConfig(), repo)

	reply, err := svc.StartConversation(context.Background(), stored.Id.String())
	require.NoError(t, err)

	require.NotEmpty(t, reply.Messages)
	assert.Contains(t, reply.Messages[0].Text, "María González")
}

func TestHandleMessageExpiredConversationStartsFresh(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), newFakeIdentityRepo())

	reply, err := svc.HandleMessage(context.Background(), dto.ChatMessageRequest{
		ConversationId: uuid.New().String(),
		Mensaje:        "hola",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, reply.ConversationId)
	assert.NotEmpty(t, reply.Messages)
	assert.Equal(t, "MENU", reply.Mode)
}

func TestHandleMessageRoutesOptions(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), newFakeIdentityRepo())

	started, err := svc.StartConversation(context.Background(), "")
	require.NoError(t, err)

	reply, err := svc.HandleMessage(context.Background(), dto.ChatMessageRequest{
		ConversationId: started.ConversationId,
		Mensaje:        "-",
		OptionId:       "menu-principal",
	})
	require.NoError(t, err)

	assert.Equal(t, started.ConversationId, reply.ConversationId)
	assert.NotEmpty(t, reply.Messages)
	assert.NotEmpty(t, reply.Options)
}

func TestGetConfigFallsBackToDefault(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), newFakeIdentityRepo())

	res := svc.GetConfig(context.Background())
	assert.Equal(t, constant.DefaultWelcomeMessage, res.MensajeBienvenida)

	cfg := testConfig()
	cfg.Chat.WelcomeMessage = "Hola ${nombre}"
	svc, _ = newTestService(t, cfg, newFakeIdentityRepo())
	assert.Equal(t, "Hola ${nombre}", svc.GetConfig(context.Background()).MensajeBienvenida)
}

func TestProcessAudioWithoutTranscriber(t *testing.T) {
	svc, _ := newTestService(t, testConfig(), newFakeIdentityRepo())

	res, err := svc.ProcessAudio(context.Background(), "", "", "", strings.NewReader("audio"), "nota.webm")
	require.NoError(t, err)
	assert.Contains(t, res.Respuesta, "no disponible")
}

type fixedTranscriber struct{ text string }

func (f fixedTranscriber) Transcribe(context.Context, io.Reader, string, string) (string, error) {
	return f.text, nil
}

func TestProcessAudioRoutesTranscript(t *testing.T) {
	index, err := tree.Load()
	require.NoError(t, err)
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
	svc := NewChatbotService(
		testConfig(),
		index,
		memory.NewConversationRepository(time.Hour),
		newFakeIdentityRepo(),
		pubSub,
		fixedTranscriber{text: "menú principal"},
		nopLogger{},
	)

	started, err := svc.StartConversation(context.Background(), "")
	require.NoError(t, err)

	res, err := svc.ProcessAudio(context.Background(), started.ConversationId, "", "", strings.NewReader("audio"), "nota.webm")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Respuesta)
}

func TestProcessAudioEmptyTranscript(t *testing.T) {
	index, err := tree.Load()
	require.NoError(t, err)
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
	svc := NewChatbotService(
		testConfig(),
		index,
		memory.NewConversationRepository(time.Hour),
		newFakeIdentityRepo(),
		pubSub,
		fixedTranscriber{text: "   "},
		nopLogger{},
	)

	res, err := svc.ProcessAudio(context.Background(), "", "", "", strings.NewReader("audio"), "nota.webm")
	require.NoError(t, err)
	assert.Equal(t, "✓ Audio recibido", res.Respuesta)
}

func TestConversationsCarryIndependentSpeechModes(t *testing.T) {
	index, err := tree.Load()
	require.NoError(t, err)
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, watermill.NopLogger{})
	convRepo := memory.NewConversationRepository(time.Hour)
	svc := NewChatbotService(
		testConfig(),
		index,
		convRepo,
		newFakeIdentityRepo(),
		pubSub,
		nil,
		nopLogger{},
	)

	first, err := svc.StartConversation(context.Background(), "")
	require.NoError(t, err)
	second, err := svc.StartConversation(context.Background(), "")
	require.NoError(t, err)

	assert.False(t, first.SpeechMuted)
	assert.False(t, second.SpeechMuted)

	convA, ok := convRepo.Get(first.ConversationId)
	require.True(t, ok)
	convB, ok := convRepo.Get(second.ConversationId)
	require.True(t, ok)
	require.NotSame(t, convA.Speech, convB.Speech)

	// Muting one visitor's widget must not silence another's.
	convA.Speech.SetAgentMode(true)
	assert.True(t, convA.Speech.Muted())
	assert.False(t, convB.Speech.Muted())

	reply, err := svc.HandleMessage(context.Background(), dto.ChatMessageRequest{
		ConversationId: second.ConversationId,
		Mensaje:        "-",
		OptionId:       "menu-principal",
	})
	require.NoError(t, err)
	assert.False(t, reply.SpeechMuted)
}

func TestChatEventsPublishedOnBus(t *testing.T) {
	cfg := testConfig()
	svc, pubSub := newTestService(t, cfg, newFakeIdentityRepo())

	messages, err := pubSub.Subscribe(context.Background(), cfg.Chat.EventTopic)
	require.NoError(t, err)

	reply, err := svc.StartConversation(context.Background(), "")
	require.NoError(t, err)

	select {
	case msg := <-messages:
		msg.Ack()
		assert.Contains(t, string(msg.Payload), reply.ConversationId)
	case <-time.After(2 * time.Second):
		t.Fatal("no chat event published")
	}
}
