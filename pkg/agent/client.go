package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"muni-chatbot-be/internal/pkg/logger"

	"github.com/gorilla/websocket"
)

// Status of the live-agent connection.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusReconnecting:
		return "RECONNECTING"
	default:
		return "DISCONNECTED"
	}
}

// Placeholders used when the visitor never completed registration.
const (
	AnonymousName  = "Usuario Anónimo"
	AnonymousEmail = "anonimo@municipalidad.cl"
)

// DefaultHeartbeatInterval is the liveness ping period while connected.
const DefaultHeartbeatInterval = 30 * time.Second

// MaxFileSize bounds file uploads to the agent.
const MaxFileSize = 10 * 1024 * 1024

var allowedExtensions = map[string]struct{}{
	".pdf":  {},
	".doc":  {},
	".docx": {},
}

var (
	ErrNotConnected         = errors.New("agent: no active connection")
	ErrNoSession            = errors.New("agent: no session id assigned")
	ErrFileTransferDisabled = errors.New("agent: file transfer is not enabled")
	ErrFileTooLarge         = errors.New("agent: file exceeds the 10MB limit")
	ErrFileTypeNotAllowed   = errors.New("agent: only pdf, doc and docx files are allowed")
)

// Identity is what the client registers with. SessionId carries a
// previously issued id so the hub can resume the server-side session.
type Identity struct {
	DisplayName string
	Email       string
	SessionId   string
}

// Handler receives every inbound hub event plus connection lifecycle
// notifications. All callbacks run on the client's read or reconnect
// goroutine; implementations serialize against their own state.
type Handler interface {
	OnSessionAssigned(sessionId, message string)
	OnAgentStatus(p AgentStatusPayload)
	OnMessage(p MessagePayload)
	// OnFileTransfer is invoked only on explicit hub activation or
	// deactivation events; capability is never inferred locally.
	OnFileTransfer(enabled bool, message string, notify bool)
	OnAgentDisconnected()
	// OnConnectionLost is called after an unexpected transport closure.
	// Returning true asks the client to run its bounded reconnection.
	OnConnectionLost() bool
	OnReconnecting(attempt, max int)
	OnReconnected()
	OnReconnectExhausted()
}

// Client owns the websocket connection to the live-agent hub for one
// conversation: connect, register, heartbeat, reconnect-with-backoff and
// teardown. Inbound handlers are bound before the read loop starts, so no
// early hub push can be dropped.
type Client struct {
	url               string
	dialer            *websocket.Dialer
	handler           Handler
	policy            RetryPolicy
	heartbeatInterval time.Duration
	log               logger.ILogger

	writeMu sync.Mutex

	mu            sync.Mutex
	conn          *websocket.Conn
	status        Status
	inProgress    bool
	identity      Identity
	fileEnabled   bool
	heartbeatStop chan struct{}
}

func NewClient(url string, handler Handler, policy RetryPolicy, heartbeatInterval time.Duration, log logger.ILogger) *Client {
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	return &Client{
		url:               url,
		dialer:            &websocket.Dialer{HandshakeTimeout: 15 * time.Second},
		handler:           handler,
		policy:            policy,
		heartbeatInterval: heartbeatInterval,
		log:               log,
	}
}

// SetIdentity records what the next Connect registers with.
func (c *Client) SetIdentity(identity Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = identity
}

// SessionId returns the currently held session id, if any.
func (c *Client) SessionId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity.SessionId
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// FileTransferEnabled reports whether the hub has activated file uploads.
func (c *Client) FileTransferEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fileEnabled && c.status == StatusConnected
}

// HeartbeatActive reports whether the liveness ticker is running. It is
// true exactly while the connection status is CONNECTED.
func (c *Client) HeartbeatActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heartbeatStop != nil
}

// Connect establishes the hub connection and registers the user. It
// returns (false, nil) when a connect is already in progress and
// (true, nil) when already connected. Any stale connection is torn down
// first. The heartbeat starts only once registration has been sent.
func (c *Client) Connect(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.inProgress {
		c.mu.Unlock()
		return false, nil
	}
	if c.status == StatusConnected {
		c.mu.Unlock()
		return true, nil
	}
	c.inProgress = true
	if c.status != StatusReconnecting {
		c.status = StatusConnecting
	}
	stale := c.conn
	c.conn = nil
	c.stopHeartbeatLocked()
	identity := c.identity
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inProgress = false
		c.mu.Unlock()
	}()

	if stale != nil {
		stale.Close()
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.setStatus(StatusDisconnected)
		return false, classifyConnectError(err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// The dispatch table is bound before any frame is read.
	go c.readLoop(conn)

	displayName := identity.DisplayName
	email := identity.Email
	if displayName == "" {
		displayName = AnonymousName
	}
	if email == "" {
		email = AnonymousEmail
	}
	var existingSession any
	if identity.SessionId != "" {
		existingSession = identity.SessionId
	}

	if err := c.invokeOn(conn, TargetRegisterUser, displayName, email, existingSession); err != nil {
		c.teardownConn(conn)
		c.setStatus(StatusDisconnected)
		return false, classifyConnectError(err)
	}

	c.mu.Lock()
	if c.conn != conn {
		// The transport died between registration and here; the read
		// loop already tore the connection down and owns the state.
		c.mu.Unlock()
		return false, classifyConnectError(errors.New("connection lost during registration"))
	}
	c.status = StatusConnected
	c.startHeartbeatLocked()
	c.mu.Unlock()

	c.log.Info("AgentClient", "Connected and registered", map[string]interface{}{"user": displayName})
	return true, nil
}

// SendMessage forwards user text to the agent. It never touches the
// network unless connected with an assigned session id.
func (c *Client) SendMessage(text string) error {
	c.mu.Lock()
	status := c.status
	sessionId := c.identity.SessionId
	c.mu.Unlock()

	if status != StatusConnected {
		return ErrNotConnected
	}
	if sessionId == "" {
		return ErrNoSession
	}
	return c.invoke(TargetSendMessageToAgent, sessionId, text)
}

// UploadFile validates and forwards a file to the agent. Validation
// failures are purely local: no network call is made.
func (c *Client) UploadFile(fileName string, data []byte) error {
	c.mu.Lock()
	status := c.status
	sessionId := c.identity.SessionId
	enabled := c.fileEnabled
	c.mu.Unlock()

	if !enabled || status != StatusConnected {
		return ErrFileTransferDisabled
	}
	if sessionId == "" {
		return ErrNoSession
	}
	if len(data) > MaxFileSize {
		return ErrFileTooLarge
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	if _, ok := allowedExtensions[ext]; !ok {
		return ErrFileTypeNotAllowed
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	return c.invoke(TargetUploadFile, sessionId, fileName, encoded, ext)
}

// Disconnect stops the heartbeat first, then sends the explicit
// disconnect notice while the transport is still up, then releases the
// connection. The ordering lets the hub free server-side resources tied
// to the session id even if the transport stop fails afterwards.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	sessionId := c.identity.SessionId
	c.identity.SessionId = ""
	c.status = StatusDisconnected
	c.fileEnabled = false
	c.mu.Unlock()

	if conn == nil {
		return
	}
	if sessionId != "" {
		if err := c.invokeOn(conn, TargetDisconnectUser, sessionId); err != nil {
			c.log.Warn("AgentClient", "Disconnect notice failed", map[string]interface{}{"error": err.Error()})
		}
	}
	c.writeMu.Lock()
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	conn.Close()
}

func (c *Client) invoke(target string, args ...any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.invokeOn(conn, target, args...)
}

func (c *Client) invokeOn(conn *websocket.Conn, target string, args ...any) error {
	if args == nil {
		args = []any{}
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(Invocation{Target: target, Arguments: args})
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleTransportClosed(conn, err)
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) handleTransportClosed(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// Intentional teardown or an already superseded connection.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.stopHeartbeatLocked()
	c.status = StatusDisconnected
	c.fileEnabled = false
	c.mu.Unlock()

	c.log.Warn("AgentClient", "Transport closed unexpectedly", map[string]interface{}{"error": err.Error()})

	if c.handler.OnConnectionLost() {
		go c.reconnectLoop()
	}
}

// reconnectLoop runs the bounded reconnection policy. It is not
// cancellable mid-flight; the attempts ceiling is the only way out.
func (c *Client) reconnectLoop() {
	c.setStatus(StatusReconnecting)
	for attempt := 1; ; attempt++ {
		if c.policy.Exhausted(attempt) {
			c.setStatus(StatusDisconnected)
			c.handler.OnReconnectExhausted()
			return
		}
		c.handler.OnReconnecting(attempt, c.policy.MaxAttempts)
		time.Sleep(c.policy.Delay(attempt))

		ok, err := c.Connect(context.Background())
		if ok {
			c.handler.OnReconnected()
			return
		}
		if err != nil {
			c.log.Warn("AgentClient", "Reconnect attempt failed", map[string]interface{}{
				"attempt": attempt,
				"error":   err.Error(),
			})
		}
		c.setStatus(StatusReconnecting)
	}
}

func (c *Client) dispatch(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Warn("AgentClient", "Unparseable hub frame", map[string]interface{}{"error": err.Error()})
		return
	}

	switch env.Target {
	case EventSessionAssigned:
		var p SessionAssignedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		if !ValidSessionId(p.SessionId) {
			c.log.Warn("AgentClient", "Discarding malformed session id", map[string]interface{}{"sessionId": p.SessionId})
			return
		}
		c.mu.Lock()
		c.identity.SessionId = p.SessionId
		c.mu.Unlock()
		c.handler.OnSessionAssigned(p.SessionId, p.Message)

	case EventAgentStatusUpdate:
		var p AgentStatusPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		c.handler.OnAgentStatus(p)

	case EventReceiveMessage:
		var p MessagePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		c.handler.OnMessage(p)

	case EventAgentModeActivated:
		var p AgentModePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			p = AgentModePayload{}
		}
		c.mu.Lock()
		c.fileEnabled = true
		c.mu.Unlock()
		notify := p.ShowMessage == nil || *p.ShowMessage
		c.handler.OnFileTransfer(true, p.Message, notify)

	case EventAgentModeDeactivated:
		var p AgentModePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			p = AgentModePayload{}
		}
		c.mu.Lock()
		c.fileEnabled = false
		c.mu.Unlock()
		c.handler.OnFileTransfer(false, p.Message, false)

	case EventAgentDisconnected:
		c.handler.OnAgentDisconnected()

	default:
		// Unrecognized tags fall back to a generic system rendering.
		var p MessagePayload
		if err := json.Unmarshal(env.Payload, &p); err == nil && p.Message != "" {
			p.Type = MessageTypeSystem
			c.handler.OnMessage(p)
			return
		}
		c.log.Warn("AgentClient", "Unknown hub event", map[string]interface{}{"target": env.Target})
	}
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Client) teardownConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.stopHeartbeatLocked()
	c.mu.Unlock()
	conn.Close()
}

// startHeartbeatLocked launches the liveness ticker. Caller holds c.mu.
func (c *Client) startHeartbeatLocked() {
	c.stopHeartbeatLocked()
	stop := make(chan struct{})
	c.heartbeatStop = stop

	go func() {
		ticker := time.NewTicker(c.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				// Heartbeat failures are swallowed so a single missed
				// beat never triggers disconnect handling.
				if err := c.invoke(TargetHeartbeat); err != nil {
					c.log.Warn("AgentClient", "Heartbeat failed", map[string]interface{}{"error": err.Error()})
				}
			}
		}
	}()
}

// stopHeartbeatLocked stops the liveness ticker. Caller holds c.mu.
func (c *Client) stopHeartbeatLocked() {
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
}
