package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"muni-chatbot-be/internal/pkg/logger"
	"muni-chatbot-be/pkg/agent"
	"muni-chatbot-be/pkg/matcher"
	"muni-chatbot-be/pkg/navigator"
	"muni-chatbot-be/pkg/tree"
)

// Mode of one conversation. Exactly one of the navigator or the agent
// link is active at a time.
type Mode int

const (
	ModeMenu Mode = iota
	ModeAgent
)

func (m Mode) String() string {
	if m == ModeAgent {
		return "AGENT"
	}
	return "MENU"
}

// Option ids owned by the controller rather than the navigator.
const (
	OptCompleteData    = "completar-datos"
	OptUseAnonymous    = "usar-anonimo"
	OptCancel          = "cancelar"
	OptWaitForAgent    = "esperar-agente"
	OptCopySessionId   = "copiar-id"
	OptCancelAgent     = "cancelar-agente"
	OptRetryConnect    = "reintentar"
	OptContinueNormal  = "continuar-normal"
	OptShowSessionId   = "mostrar-sessionid"
	OptForceDisconnect = "forzar-desconexion"
	OptDisconnectAgent = "desconectar-agente"
)

// DefaultFinalizeDelay is how long a remote finalization wording waits
// before the session is actually torn down.
const DefaultFinalizeDelay = 1500 * time.Millisecond

// Agent-authored text that means the conversation is over.
var finalizeWording = regexp.MustCompile(`(?i)finalizar|desconectar|terminar|cerrar.*chat|fin.*conversaci[oó]n`)

// System notices that mean the server dropped the session.
var disconnectWording = regexp.MustCompile(`(?i)desconect|cerr.*sesi[oó]n|timeout`)

// Emitter renders controller output toward whatever transport carries
// the widget. It extends the navigator's presenter with the affordances
// only the controller needs.
type Emitter interface {
	Message(role, text string)
	Options(options []navigator.Option)
	ClearOptions()
	// SessionId displays the agent session id with a copy affordance.
	SessionId(sessionId string)
	// FileTransfer toggles the file-send affordance.
	FileTransfer(enabled bool)
	// RequestRegistration asks the transport to present the
	// registration form.
	RequestRegistration()
}

// AgentLink is the outbound hub connection as the controller sees it.
// *agent.Client satisfies it.
type AgentLink interface {
	SetIdentity(identity agent.Identity)
	Connect(ctx context.Context) (bool, error)
	SendMessage(text string) error
	UploadFile(fileName string, data []byte) error
	Disconnect()
	SessionId() string
	Status() agent.Status
	FileTransferEnabled() bool
}

// SpeechMode mutes synthesized speech while a human agent is attached.
type SpeechMode interface {
	SetAgentMode(enabled bool)
}

// HistoryEntry is one rendered line of the conversation transcript.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Config carries the optional controller collaborators.
type Config struct {
	// FinalizeDelay overrides DefaultFinalizeDelay when positive.
	FinalizeDelay time.Duration
	// Speech, when set, is muted while in agent mode.
	Speech SpeechMode
	// PersistSessionId, when set, is called with every newly assigned
	// session id so it survives the conversation.
	PersistSessionId func(sessionId string)
	// FailureThreshold overrides the navigator's consecutive-failure
	// count before the escalation offer. Zero keeps the default.
	FailureThreshold int
}

// Controller is the single source of truth for one conversation: it owns
// the mode, routes input to the navigator or the agent link, and runs
// escalation and finalization. A mutex serializes user input against
// asynchronous agent events. It implements agent.Handler.
type Controller struct {
	mu sync.Mutex

	nav     *navigator.Navigator
	link    AgentLink
	emitter Emitter
	log     logger.ILogger

	finalizeDelay    time.Duration
	speech           SpeechMode
	persistSessionId func(string)

	mode          Mode
	displayName   string
	email         string
	sessionId     string
	history       []HistoryEntry
	transitioning bool
}

func NewController(index *tree.Index, m *matcher.Matcher, link AgentLink, emitter Emitter, log logger.ILogger, cfg Config) *Controller {
	c := &Controller{
		link:             link,
		emitter:          emitter,
		log:              log,
		finalizeDelay:    cfg.FinalizeDelay,
		speech:           cfg.Speech,
		persistSessionId: cfg.PersistSessionId,
	}
	if c.finalizeDelay <= 0 {
		c.finalizeDelay = DefaultFinalizeDelay
	}
	c.nav = navigator.New(index, m, presenterFunc{c}, func() bool {
		return c.sessionId != ""
	}, cfg.FailureThreshold)
	return c
}

// presenterFunc adapts the controller's emit path to the navigator's
// presenter so transcript recording stays in one place.
type presenterFunc struct{ c *Controller }

func (p presenterFunc) Message(role, text string)          { p.c.say(role, text) }
func (p presenterFunc) Options(options []navigator.Option) { p.c.emitter.Options(options) }
func (p presenterFunc) ClearOptions()                      { p.c.emitter.ClearOptions() }

// Mode returns the current conversation mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SessionId returns the last assigned agent session id, if any.
func (c *Controller) SessionId() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionId
}

// History returns a copy of the transcript so far.
func (c *Controller) History() []HistoryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]HistoryEntry(nil), c.history...)
}

// SetIdentity records who the visitor is. An empty pair keeps the
// conversation anonymous until escalation forces the choice.
func (c *Controller) SetIdentity(displayName, email string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.displayName = displayName
	c.email = email
}

// SetSessionId seeds a previously stored agent session id, validated
// before trust.
func (c *Controller) SetSessionId(sessionId string) {
	if !agent.ValidSessionId(sessionId) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionId = sessionId
}

// Start opens the conversation at the main menu.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nav.ShowRoot()
}

// HandleText routes one line of user input by mode.
func (c *Controller) HandleText(ctx context.Context, input string) {
	input = strings.TrimSpace(input)
	if input == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.record("user", input)

	if c.mode == ModeAgent {
		c.handleAgentText(input)
		return
	}
	c.applySignal(ctx, c.nav.HandleText(input))
}

// HandleOption routes one selected option id by owner: controller-owned
// ids first, everything else to the navigator.
func (c *Controller) HandleOption(ctx context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch id {
	case OptCompleteData:
		c.say("bot", "📝 Actualiza tus datos:")
		c.emitter.RequestRegistration()

	case OptUseAnonymous:
		c.displayName = agent.AnonymousName
		c.email = agent.AnonymousEmail
		c.escalate(ctx)

	case OptCancel:
		c.nav.ShowRoot()

	case OptWaitForAgent:
		c.emitter.ClearOptions()
		c.say("system", "⏳ Esperando conexión del agente...")
		c.say("bot", "💡 Cuando el agente se conecte, podrás empezar a chatear")

	case OptCopySessionId:
		if c.sessionId != "" {
			c.emitter.SessionId(c.sessionId)
			c.say("system", "📋 Session ID copiado al portapapeles")
		}

	case OptCancelAgent, OptDisconnectAgent, OptForceDisconnect:
		if id == OptForceDisconnect {
			c.say("system", "⚠️ Forzando desconexión...")
		}
		c.finalizeLocked()

	case OptRetryConnect:
		c.escalate(ctx)

	case OptContinueNormal:
		c.emitter.ClearOptions()
		c.say("system", "💬 Continuando conversación normal...")

	case OptShowSessionId:
		if c.sessionId != "" {
			c.say("system", fmt.Sprintf("🔑 Tu Session ID: %s", c.sessionId))
			c.say("system", "💡 Puedes continuar escribiendo mensajes al agente")
		}

	default:
		c.applySignal(ctx, c.nav.HandleOption(id))
	}
}

// UploadFile forwards a file to the agent, translating rejections into
// user-facing notices.
func (c *Controller) UploadFile(fileName string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeAgent {
		c.say("system", "❌ Solo puedes enviar archivos cuando hablas con un agente")
		return
	}

	err := c.link.UploadFile(fileName, data)
	switch {
	case err == nil:
		c.say("user", fmt.Sprintf("📎 Enviando %s...", fileName))
	case errors.Is(err, agent.ErrFileTooLarge):
		c.say("system", "❌ Archivo demasiado grande. Máximo 10MB")
	case errors.Is(err, agent.ErrFileTypeNotAllowed):
		c.say("system", "❌ Solo se permiten archivos PDF, DOC y DOCX")
	case errors.Is(err, agent.ErrFileTransferDisabled):
		c.say("system", "❌ Envío de archivos deshabilitado")
	default:
		c.say("system", "❌ Error al enviar archivo: "+err.Error())
	}
}

// Finalize tears the agent session down and returns to the menu.
func (c *Controller) Finalize() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalizeLocked()
}

func (c *Controller) handleAgentText(input string) {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "/opciones") || strings.Contains(lower, "/help") {
		c.showEmergencyOptions()
		return
	}

	err := c.link.SendMessage(input)
	switch {
	case err == nil:
	case errors.Is(err, agent.ErrNoSession):
		c.say("system", "⚠️ Session ID no disponible. Esperando...")
	default:
		c.say("system", "❌ Error al enviar mensaje. Intenta de nuevo.")
		c.say("system", "💡 Escribe \"/opciones\" si necesitas ayuda")
	}
}

func (c *Controller) applySignal(ctx context.Context, sig navigator.Signal) {
	switch sig {
	case navigator.SignalEscalateRequested:
		c.escalate(ctx)
	case navigator.SignalRestartSoft:
		c.restart(true)
	case navigator.SignalRestartFull:
		c.restart(false)
	case navigator.SignalShowSessionId:
		if c.sessionId != "" {
			c.emitter.SessionId(c.sessionId)
		}
	}
}

// escalate runs the menu-to-agent transition. Overlapping transition
// requests are discarded, not queued.
func (c *Controller) escalate(ctx context.Context) {
	if c.transitioning {
		c.log.Warn("Conversation", "Transition already in progress, discarding escalation", nil)
		return
	}
	c.transitioning = true
	defer func() { c.transitioning = false }()

	if c.displayName == "" || c.email == "" {
		c.say("system", "⚠️ Necesitas completar tus datos antes de conectar con un agente")
		c.emitter.Options([]navigator.Option{
			{Id: OptCompleteData, Text: "📝 Completar datos"},
			{Id: OptUseAnonymous, Text: "👤 Conectar como anónimo"},
			{Id: OptCancel, Text: "❌ Cancelar"},
		})
		return
	}

	if c.link.Status() == agent.StatusConnected {
		c.say("system", "✅ Ya estás conectado con un agente")
		c.showAgentOptions()
		return
	}

	c.mode = ModeAgent
	if c.speech != nil {
		c.speech.SetAgentMode(true)
	}
	c.emitter.ClearOptions()
	c.say("bot", "👨‍💼 Conectando con un agente humano...")
	c.say("system", fmt.Sprintf("👤 Conectando como: %s", c.displayName))
	c.say("system", "🔄 Estableciendo conexión con el servidor...")

	c.link.SetIdentity(agent.Identity{
		DisplayName: c.displayName,
		Email:       c.email,
		SessionId:   c.sessionId,
	})

	if _, err := c.link.Connect(ctx); err != nil {
		c.handleConnectError(err)
	}
}

func (c *Controller) handleConnectError(err error) {
	c.mode = ModeMenu
	if c.speech != nil {
		c.speech.SetAgentMode(false)
	}

	reason := "Error de conexión."
	var cerr *agent.ConnectError
	if errors.As(err, &cerr) {
		reason = cerr.Kind.UserMessage() + "."
	}
	c.say("bot", "❌ No se pudo conectar con el servidor. "+reason)
	c.say("bot", "¿Quieres intentar conectarte nuevamente?")
	c.emitter.Options([]navigator.Option{
		{Id: OptRetryConnect, Text: "🔄 Intentar otra vez"},
		{Id: navigator.OptNavMenu, Text: "🏠 Volver al menú principal"},
	})
}

// finalizeLocked is the single agent-to-menu teardown path: mute flag
// reverted, link released, options cleared, file transfer disabled, then
// back to the navigator. Caller holds c.mu.
func (c *Controller) finalizeLocked() {
	if c.transitioning {
		c.log.Warn("Conversation", "Transition already in progress, discarding finalize", nil)
		return
	}
	c.transitioning = true
	defer func() { c.transitioning = false }()

	wasAgent := c.mode == ModeAgent
	c.mode = ModeMenu
	if c.speech != nil {
		c.speech.SetAgentMode(false)
	}
	c.link.Disconnect()
	c.emitter.ClearOptions()
	c.emitter.FileTransfer(false)

	if wasAgent {
		c.say("system", "🔌 Desconectado del agente humano.")
	}
	c.say("bot", "👋 Gracias por usar nuestro servicio de chat con agente.")
	c.say("bot", "¿Hay algo más en lo que pueda ayudarte?")
	c.nav.ShowNavigationOptions()
}

// scheduleFinalize delays the teardown so the triggering notice stays
// readable before the menu takes over.
func (c *Controller) scheduleFinalize() {
	time.AfterFunc(c.finalizeDelay, c.Finalize)
}

func (c *Controller) showAgentOptions() {
	c.emitter.ClearOptions()
	c.emitter.Options([]navigator.Option{
		{Id: OptShowSessionId, Text: "🔑 Ver Session ID"},
		{Id: OptDisconnectAgent, Text: "🔌 Desconectar del agente"},
		{Id: navigator.OptNavMenu, Text: "🏠 Volver al menú principal"},
	})
}

func (c *Controller) showWaitOptions() {
	c.emitter.Options([]navigator.Option{
		{Id: OptWaitForAgent, Text: "⏳ Esperar a que el agente se conecte"},
		{Id: OptCopySessionId, Text: "📋 Copiar Session ID nuevamente"},
		{Id: OptCancelAgent, Text: "❌ Cancelar y volver al menú"},
	})
}

func (c *Controller) showEmergencyOptions() {
	c.say("system", "🆘 Opciones de emergencia:")
	c.emitter.Options([]navigator.Option{
		{Id: OptContinueNormal, Text: "💬 Continuar conversación normal"},
		{Id: OptShowSessionId, Text: "🔑 Ver Session ID"},
		{Id: OptForceDisconnect, Text: "⚠️ Forzar desconexión"},
	})
}

func (c *Controller) restart(keepIdentity bool) {
	if c.mode == ModeAgent {
		c.link.Disconnect()
		if c.speech != nil {
			c.speech.SetAgentMode(false)
		}
		c.mode = ModeMenu
	}
	c.sessionId = ""
	c.history = nil
	if !keepIdentity {
		c.displayName = ""
		c.email = ""
	}
	c.emitter.ClearOptions()
	c.emitter.FileTransfer(false)
	c.say("system", "🔄 Conversación reiniciada")
	c.nav.ShowRoot()
}

// say renders a line and records it in the transcript.
func (c *Controller) say(role, text string) {
	c.record(role, text)
	c.emitter.Message(role, text)
}

func (c *Controller) record(role, text string) {
	c.history = append(c.history, HistoryEntry{Role: role, Text: text, Timestamp: time.Now()})
}

// --- agent.Handler ---

// OnSessionAssigned stores the remote-issued id and presents the wait
// choices.
func (c *Controller) OnSessionAssigned(sessionId, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessionId = sessionId
	if c.persistSessionId != nil {
		c.persistSessionId(sessionId)
	}

	c.say("system", "🔑 Sesión creada exitosamente")
	c.say("system", fmt.Sprintf("📋 Session ID: %s", sessionId))
	if message != "" {
		c.say("system", fmt.Sprintf("💡 %s", message))
	}
	c.emitter.SessionId(sessionId)
	c.say("system", "🎯 Ahora puedes:")
	c.showWaitOptions()
}

func (c *Controller) OnAgentStatus(p agent.AgentStatusPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p.Status != "connected" {
		c.say("system", fmt.Sprintf("📊 %s", p.Message))
		return
	}

	c.say("system", fmt.Sprintf("✅ %s", p.Message))
	if p.Agent != nil {
		name := p.Agent.Name
		if name == "" {
			name = "Asistente"
		}
		c.say("system", fmt.Sprintf("👨‍💼 Agente: %s", name))
	}
	c.emitter.ClearOptions()
	c.say("system", "💬 El agente está listo. Puedes empezar a escribir tus mensajes.")
}

func (c *Controller) OnMessage(p agent.MessagePayload) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch p.Type {
	case agent.MessageTypeAgent:
		name := "Agente"
		if p.Agent != nil && p.Agent.Name != "" {
			name = p.Agent.Name
		}
		c.say("agent", fmt.Sprintf("👨‍💼 %s: %s", name, p.Message))
		if finalizeWording.MatchString(p.Message) {
			c.say("system", "🔚 El agente ha finalizado la conversación")
			c.scheduleFinalize()
		}

	case agent.MessageTypeSystem:
		c.say("system", fmt.Sprintf("ℹ️ %s", p.Message))
		if disconnectWording.MatchString(p.Message) {
			c.scheduleFinalize()
		}

	case agent.MessageTypeFileUpload:
		c.say("user", fmt.Sprintf("📎 Archivo enviado: %s (%s)", p.FileName, p.FileSize))

	case agent.MessageTypeBot:
		c.say("bot", p.Message)

	default:
		c.say("system", p.Message)
	}
}

func (c *Controller) OnFileTransfer(enabled bool, message string, notify bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.emitter.FileTransfer(enabled)
	if enabled && notify {
		c.say("system", "📎 Ahora puedes enviar archivos al agente")
		return
	}
	if !enabled && message != "" {
		c.say("system", message)
	}
}

func (c *Controller) OnAgentDisconnected() {
	c.mu.Lock()
	c.say("system", "🔌 El agente ha cerrado la sesión")
	c.mu.Unlock()
	c.scheduleFinalize()
}

// OnConnectionLost asks for reconnection only while in agent mode.
func (c *Controller) OnConnectionLost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mode != ModeAgent {
		return false
	}
	c.say("system", "⚠️ Se perdió la conexión con el servidor")
	return true
}

func (c *Controller) OnReconnecting(attempt, max int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.say("system", fmt.Sprintf("🔄 Reintentando conexión (%d/%d)...", attempt, max))
}

func (c *Controller) OnReconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.say("system", "✅ Reconectado con el servidor")
}

func (c *Controller) OnReconnectExhausted() {
	c.mu.Lock()
	c.say("system", "❌ No fue posible restablecer la conexión con el agente")
	c.mu.Unlock()
	c.Finalize()
}
