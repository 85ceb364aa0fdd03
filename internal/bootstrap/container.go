package bootstrap

import (
	"context"
	"log"
	"time"

	"muni-chatbot-be/internal/config"
	"muni-chatbot-be/internal/controller"
	"muni-chatbot-be/internal/pkg/logger"
	"muni-chatbot-be/internal/repository/implementation"
	"muni-chatbot-be/internal/repository/memory"
	"muni-chatbot-be/internal/service"
	"muni-chatbot-be/internal/websocket"
	"muni-chatbot-be/pkg/speech"
	"muni-chatbot-be/pkg/tree"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	ChatbotController controller.IChatbotController

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService

	// WebSockets
	WebSocketHub *websocket.Hub
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	// Buffered so a slow websocket consumer never stalls the request path.
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermillLogger,
	)

	// 3. Decision tree
	index, err := tree.Load()
	if err != nil {
		log.Fatalf("[FATAL] Failed to load decision tree: %v", err)
	}

	// Redis
	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v", err)
	}

	// WebSocket Hub
	wsLogger := logger.NewIsolatedLogger("logs/chat_events.log")
	wsHub := websocket.NewHub(rdb, wsLogger)
	go wsHub.Run()

	// 4. Repositories
	identityRepo := implementation.NewIdentityRepository(db)
	convRepo := memory.NewConversationRepository(
		time.Duration(cfg.Chat.SessionTTLMinutes) * time.Minute,
	)

	// 5. Speech-to-text (optional)
	var transcriber speech.Transcriber
	if cfg.Speech.TranscriberURL != "" {
		transcriber = speech.NewHTTPTranscriber(
			cfg.Speech.TranscriberURL,
			time.Duration(cfg.Speech.TimeoutSeconds)*time.Second,
		)
		log.Printf("[INFO] Audio transcription enabled via %s", cfg.Speech.TranscriberURL)
	} else {
		log.Printf("[INFO] Audio transcription disabled (no transcriber URL)")
	}

	// 6. Services
	chatbotService := service.NewChatbotService(
		cfg,
		index,
		convRepo,
		identityRepo,
		pubSub,
		transcriber,
		sysLogger,
	)
	identityService := service.NewIdentityService(identityRepo, sysLogger)
	consumerService := service.NewConsumerService(
		pubSub,
		cfg.Chat.EventTopic,
		wsHub,
	)

	// 7. Controllers
	return &Container{
		ChatbotController: controller.NewChatbotController(chatbotService, identityService, wsHub, sysLogger),
		ConsumerService:   consumerService,
		WebSocketHub:      wsHub,
	}
}
