package agent

import (
	"encoding/json"
	"regexp"
)

// Remote procedures invoked on the hub. Names are part of the wire
// contract and must not change.
const (
	TargetRegisterUser       = "RegisterUser"
	TargetHeartbeat          = "Heartbeat"
	TargetSendMessageToAgent = "SendMessageToAgent"
	TargetUploadFile         = "UploadFile"
	TargetDisconnectUser     = "DisconnectUser"
)

// Events pushed by the hub.
const (
	EventSessionAssigned      = "SessionAssigned"
	EventAgentStatusUpdate    = "AgentStatusUpdate"
	EventReceiveMessage       = "ReceiveMessage"
	EventAgentModeActivated   = "AgentModeActivated"
	EventAgentModeDeactivated = "AgentModeDeactivated"
	EventAgentDisconnected    = "AgentDisconnected"
)

// Payload kinds carried by ReceiveMessage.
const (
	MessageTypeSystem     = "system_message"
	MessageTypeAgent      = "agent_message"
	MessageTypeFileUpload = "file_upload"
	MessageTypeBot        = "bot_message"
)

// Invocation is an outbound named remote procedure call.
type Invocation struct {
	Target    string `json:"target"`
	Arguments []any  `json:"arguments"`
}

// envelope frames every inbound hub push.
type envelope struct {
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

// AgentInfo identifies the human agent attached to a session.
type AgentInfo struct {
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// SessionAssignedPayload carries the asynchronously issued session id.
type SessionAssignedPayload struct {
	SessionId string `json:"sessionId"`
	Message   string `json:"message,omitempty"`
}

// AgentStatusPayload signals agent attachment or queue progress.
type AgentStatusPayload struct {
	Status  string     `json:"status"`
	Message string     `json:"message"`
	Agent   *AgentInfo `json:"agent,omitempty"`
}

// MessagePayload is one inbound chat message of any kind.
type MessagePayload struct {
	Type      string     `json:"type"`
	Message   string     `json:"message"`
	Agent     *AgentInfo `json:"agent,omitempty"`
	Timestamp string     `json:"timestamp,omitempty"`
	FileName  string     `json:"fileName,omitempty"`
	FileSize  string     `json:"fileSize,omitempty"`
	FileType  string     `json:"fileType,omitempty"`
}

// AgentModePayload toggles file-transfer capability.
type AgentModePayload struct {
	Message     string `json:"message,omitempty"`
	ShowMessage *bool  `json:"showMessage,omitempty"`
}

var sessionIdPattern = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// ValidSessionId reports whether a remote-issued session id matches the
// fixed UUID-like structural pattern. Malformed ids must never be trusted
// or persisted.
func ValidSessionId(id string) bool {
	if len(id) != 36 {
		return false
	}
	return sessionIdPattern.MatchString(id)
}
