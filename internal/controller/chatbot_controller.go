package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"

	"muni-chatbot-be/internal/dto"
	"muni-chatbot-be/internal/pkg/logger"
	"muni-chatbot-be/internal/pkg/serverutils"
	"muni-chatbot-be/internal/service"
	internalWS "muni-chatbot-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/golang-jwt/jwt/v5"
)

type IChatbotController interface {
	RegisterRoutes(r fiber.Router)
	Register(ctx *fiber.Ctx) error
	Start(ctx *fiber.Ctx) error
	Message(ctx *fiber.Ctx) error
	UploadFile(ctx *fiber.Ctx) error
	GetConfig(ctx *fiber.Ctx) error
	ProcessAudio(ctx *fiber.Ctx) error
	Profile(ctx *fiber.Ctx) error
	ServeWs(ctx *fiber.Ctx) error
}

type chatbotController struct {
	chatService     service.IChatbotService
	identityService service.IIdentityService
	hub             *internalWS.Hub
	logger          logger.ILogger
}

func NewChatbotController(
	chatService service.IChatbotService,
	identityService service.IIdentityService,
	hub *internalWS.Hub,
	log logger.ILogger,
) IChatbotController {
	return &chatbotController{
		chatService:     chatService,
		identityService: identityService,
		hub:             hub,
		logger:          log,
	}
}

func (c *chatbotController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/chatbot")
	h.Post("/registro", c.Register)
	h.Post("/iniciar", c.Start)
	h.Post("/mensaje", c.Message)
	h.Post("/archivo", c.UploadFile)
	h.Get("/config", c.GetConfig)
	h.Post("/audio", c.ProcessAudio)
	h.Get("/perfil", serverutils.JwtMiddleware, c.Profile)

	// WebSocket event stream
	r.Get("/ws/chat", c.ServeWs)
}

// Register stores the visitor's name and email and issues a visitor token.
func (c *chatbotController) Register(ctx *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "invalid request body"))
	}
	if err := serverutils.ValidateRequest(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, err.Error()))
	}

	res, err := c.identityService.Register(ctx.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidName) || errors.Is(err, service.ErrInvalidEmail) {
			return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, err.Error()))
		}
		return ctx.Status(fiber.StatusInternalServerError).JSON(serverutils.ErrorResponse(500, err.Error()))
	}
	return ctx.JSON(serverutils.SuccessResponse("registered", res))
}

// Start opens a new conversation. A visitor token is optional: known
// visitors get their identity and last agent session restored.
func (c *chatbotController) Start(ctx *fiber.Ctx) error {
	visitorId := c.visitorIdFromRequest(ctx)

	res, err := c.chatService.StartConversation(ctx.Context(), visitorId)
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(serverutils.ErrorResponse(500, err.Error()))
	}
	return ctx.JSON(serverutils.SuccessResponse("conversation started", res))
}

func (c *chatbotController) Message(ctx *fiber.Ctx) error {
	var req dto.ChatMessageRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "invalid request body"))
	}
	if req.Mensaje == "" && req.OptionId == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "mensaje or option_id is required"))
	}

	res, err := c.chatService.HandleMessage(ctx.Context(), req)
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(serverutils.ErrorResponse(500, err.Error()))
	}
	return ctx.JSON(serverutils.SuccessResponse("ok", res))
}

func (c *chatbotController) UploadFile(ctx *fiber.Ctx) error {
	conversationId := ctx.FormValue("conversation_id")
	if conversationId == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "conversation_id is required"))
	}

	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "file is required"))
	}

	f, err := fileHeader.Open()
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "cannot read file"))
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "cannot read file"))
	}

	res, err := c.chatService.UploadFile(ctx.Context(), conversationId, fileHeader.Filename, data)
	if err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			return ctx.Status(fiber.StatusNotFound).JSON(serverutils.ErrorResponse(404, err.Error()))
		}
		return ctx.Status(fiber.StatusInternalServerError).JSON(serverutils.ErrorResponse(500, err.Error()))
	}
	return ctx.JSON(serverutils.SuccessResponse("ok", res))
}

// GetConfig returns the widget bootstrap configuration. It never errors:
// the widget must always be able to render a greeting.
func (c *chatbotController) GetConfig(ctx *fiber.Ctx) error {
	return ctx.JSON(c.chatService.GetConfig(ctx.Context()))
}

// ProcessAudio accepts a recorded voice note, transcribes it and routes
// the text through the conversation. The form contract matches the
// widget: AudioFile, sessionId, usuario, correo.
func (c *chatbotController) ProcessAudio(ctx *fiber.Ctx) error {
	fileHeader, err := ctx.FormFile("AudioFile")
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "AudioFile is required"))
	}

	conversationId := ctx.FormValue("sessionId")
	usuario := ctx.FormValue("usuario")
	correo := ctx.FormValue("correo")

	f, err := fileHeader.Open()
	if err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "cannot read audio"))
	}
	defer f.Close()

	res, err := c.chatService.ProcessAudio(ctx.Context(), conversationId, usuario, correo, f, fileHeader.Filename)
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(serverutils.ErrorResponse(500, err.Error()))
	}
	return ctx.JSON(res)
}

// Profile returns the registered visitor's stored identity.
func (c *chatbotController) Profile(ctx *fiber.Ctx) error {
	visitorId, _ := ctx.Locals("visitor_id").(string)
	if visitorId == "" {
		return ctx.Status(fiber.StatusUnauthorized).JSON(serverutils.ErrorResponse(401, "unauthorized"))
	}

	res, err := c.identityService.Profile(ctx.Context(), visitorId)
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(serverutils.ErrorResponse(500, err.Error()))
	}
	if res == nil {
		return ctx.Status(fiber.StatusNotFound).JSON(serverutils.ErrorResponse(404, "visitor not found"))
	}
	return ctx.JSON(serverutils.SuccessResponse("ok", res))
}

// ServeWs upgrades to a websocket bound to one conversation and streams
// its events.
func (c *chatbotController) ServeWs(ctx *fiber.Ctx) error {
	conversationId := ctx.Query("conversation_id")
	if conversationId == "" {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing conversation_id"})
	}

	if websocket.IsWebSocketUpgrade(ctx) {
		return websocket.New(func(conn *websocket.Conn) {
			c.logger.Info("ChatbotController", "Starting WebSocket session", map[string]interface{}{"conversation_id": conversationId})
			internalWS.ServeWs(c.hub, conn, conversationId, c.handleInboundFrame)
			c.logger.Info("ChatbotController", "WebSocket session ended", map[string]interface{}{"conversation_id": conversationId})
		})(ctx)
	}
	return fiber.ErrUpgradeRequired
}

// handleInboundFrame routes user text arriving over the websocket through
// the same path as POST /mensaje. Replies come back as streamed events, so
// the drained batch reply is discarded here.
func (c *chatbotController) handleInboundFrame(conversationId string, data []byte) {
	var frame struct {
		Mensaje  string `json:"mensaje"`
		OptionId string `json:"option_id"`
	}
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn("ChatbotController", "Dropping malformed websocket frame", map[string]interface{}{"conversation_id": conversationId})
		return
	}
	if frame.Mensaje == "" && frame.OptionId == "" {
		return
	}

	_, err := c.chatService.HandleMessage(context.Background(), dto.ChatMessageRequest{
		ConversationId: conversationId,
		Mensaje:        frame.Mensaje,
		OptionId:       frame.OptionId,
	})
	if err != nil {
		c.logger.Warn("ChatbotController", "Websocket message handling failed", map[string]interface{}{"error": err.Error()})
	}
}

// visitorIdFromRequest extracts the visitor id from an optional bearer
// token. Anonymous visitors simply get an empty id.
func (c *chatbotController) visitorIdFromRequest(ctx *fiber.Ctx) string {
	tokenStr := ctx.Query("token")
	if tokenStr == "" {
		authHeader := ctx.Get("Authorization")
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			tokenStr = authHeader[7:]
		}
	}
	if tokenStr == "" {
		return ""
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fiber.ErrUnauthorized
		}
		return []byte(os.Getenv("JWT_SECRET")), nil
	})
	if err != nil || !token.Valid {
		c.logger.Warn("ChatbotController", "Invalid visitor token, continuing anonymous", map[string]interface{}{"error": err})
		return ""
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	visitorId, _ := claims["visitor_id"].(string)
	return visitorId
}
