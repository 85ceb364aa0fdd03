package dto

import (
	"time"

	"github.com/google/uuid"

	"muni-chatbot-be/pkg/navigator"
)

type RegisterRequest struct {
	Nombre string `json:"nombre" validate:"required,min=3"`
	Correo string `json:"correo" validate:"required,email"`
}

type RegisterResponse struct {
	VisitorId uuid.UUID `json:"visitor_id"`
	Token     string    `json:"token"`
}

type ChatMessageRequest struct {
	ConversationId string `json:"conversation_id"`
	Mensaje        string `json:"mensaje" validate:"required"`
	// OptionId carries a button selection instead of free text.
	OptionId string `json:"option_id,omitempty"`
}

type ChatLine struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type ChatReply struct {
	ConversationId      string             `json:"conversation_id"`
	SessionId           string             `json:"session_id,omitempty"`
	Mode                string             `json:"mode"`
	Messages            []ChatLine         `json:"messages"`
	Options             []navigator.Option `json:"options"`
	OptionsCleared      bool               `json:"options_cleared"`
	FileTransferEnabled bool               `json:"file_transfer_enabled"`
	SpeechMuted         bool               `json:"speech_muted"`
	RegistrationNeeded  bool               `json:"registration_needed,omitempty"`
}

type ProfileResponse struct {
	Nombre          string `json:"nombre"`
	Correo          string `json:"correo"`
	UltimoSessionId string `json:"ultimo_session_id,omitempty"`
}

type ConfigResponse struct {
	MensajeBienvenida string `json:"mensajeBienvenida"`
}

type AudioResponse struct {
	SessionId string `json:"sessionId,omitempty"`
	Respuesta string `json:"respuesta"`
}

// ChatEvent is one outbound conversation event published on the in-process
// bus and relayed to the widget websocket.
type ChatEvent struct {
	ConversationId string             `json:"conversation_id"`
	Kind           string             `json:"kind"`
	Role           string             `json:"role,omitempty"`
	Text           string             `json:"text,omitempty"`
	Options        []navigator.Option `json:"options,omitempty"`
	SessionId      string             `json:"session_id,omitempty"`
	Enabled        bool               `json:"enabled,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
}
