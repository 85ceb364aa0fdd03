package navigator

import (
	"fmt"

	"muni-chatbot-be/pkg/matcher"
	"muni-chatbot-be/pkg/tree"
)

// RootNodeId is the id of the decision-tree root.
const RootNodeId = "root"

// DefaultFailureThreshold is how many consecutive unmatched inputs it
// takes before the navigator offers escalation to a human agent.
const DefaultFailureThreshold = 2

// State of the menu-side conversation.
type State int

const (
	StateAtRoot State = iota
	StateAtNode
	StateAwaitingSelection
)

// Signal tells the owning controller that the navigator needs something it
// cannot do itself. The navigator never initiates an escalation on its own.
type Signal int

const (
	SignalNone Signal = iota
	// SignalEscalationOffered means the failure threshold was reached and
	// the accept/menu/retry choice was just presented.
	SignalEscalationOffered
	// SignalEscalateRequested means the user explicitly asked for an agent.
	SignalEscalateRequested
	// SignalRestartSoft asks for a conversation restart keeping identity.
	SignalRestartSoft
	// SignalRestartFull asks for a restart that also clears identity.
	SignalRestartFull
	// SignalShowSessionId asks the controller to display the stored
	// agent-session id.
	SignalShowSessionId
)

// Option ids used for navigator-owned selectable choices.
const (
	OptEscalate      = "escalar-agente"
	OptMainMenu      = "menu-principal"
	OptRetry         = "intentar-nuevo"
	OptNavMenu       = "menu"
	OptNavHelp       = "ayuda"
	OptNavAgent      = "agente"
	OptNavRestart    = "reiniciar"
	OptRestartSoft   = "reinicio-suave"
	OptRestartFull   = "reinicio-completo"
	OptLastSessionId = "mostrar-ultimo-sessionid"
)

// Option is a selectable choice presented to the user.
type Option struct {
	Id   string `json:"id"`
	Text string `json:"text"`
}

// Presenter renders navigator output. It stands in for the widget UI; the
// conversation controller forwards it to the transport.
type Presenter interface {
	Message(role, text string)
	Options(options []Option)
	ClearOptions()
}

// Navigator walks the decision tree on behalf of one conversation. It owns
// the current menu position and the consecutive-failure counter, and it is
// only ever driven from the controller goroutine that owns the session.
type Navigator struct {
	index   *tree.Index
	matcher *matcher.Matcher
	p       Presenter

	// hasStoredSessionId tells whether an earlier agent session id is on
	// record, which unlocks the "show last session id" choice. Optional.
	hasStoredSessionId func() bool

	state         State
	currentNodeId string
	failures      int
	threshold     int
}

// New builds a navigator over the tree. failureThreshold values below 1
// fall back to DefaultFailureThreshold.
func New(index *tree.Index, m *matcher.Matcher, p Presenter, hasStoredSessionId func() bool, failureThreshold int) *Navigator {
	if failureThreshold < 1 {
		failureThreshold = DefaultFailureThreshold
	}
	return &Navigator{
		index:              index,
		matcher:            m,
		p:                  p,
		hasStoredSessionId: hasStoredSessionId,
		state:              StateAtRoot,
		currentNodeId:      RootNodeId,
		threshold:          failureThreshold,
	}
}

// CurrentNodeId returns the current menu position.
func (n *Navigator) CurrentNodeId() string { return n.currentNodeId }

// Failures returns the consecutive unmatched-input count.
func (n *Navigator) Failures() int { return n.failures }

// State returns the current navigator state.
func (n *Navigator) State() State { return n.state }

// ShowRoot resets the navigator to the main menu and presents it.
func (n *Navigator) ShowRoot() {
	n.currentNodeId = RootNodeId
	n.state = StateAtRoot
	n.failures = 0

	root := n.index.Root()
	if root.Text != "" {
		n.p.Message("bot", root.Text)
	}
	n.p.Message("bot", "👆 Selecciona una opción o escribe tu consulta:")
	n.p.Options(nodesToOptions(root.Children))
}

// HandleText interprets free-text input at the current menu position.
// Interpretation priority is fixed: numeric selection, exact/fuzzy child
// match, keyword search, navigation command, then the failure path.
func (n *Navigator) HandleText(input string) Signal {
	verdict := n.matcher.Match(input, n.currentNodeId)

	switch verdict.Kind {
	case matcher.KindSelection:
		n.failures = 0
		return n.selectNode(verdict.Node)

	case matcher.KindSearchResults:
		n.failures = 0
		n.presentSearchResults(verdict.Results)
		return SignalNone

	case matcher.KindCommand:
		n.failures = 0
		return n.handleCommand(verdict.Command)

	default:
		return n.handleNoMatch()
	}
}

// HandleOption applies a button selection. Unknown ids are treated as tree
// node ids, matching how search results and menu options are rendered.
func (n *Navigator) HandleOption(id string) Signal {
	switch id {
	case OptEscalate, OptNavAgent:
		n.failures = 0
		return SignalEscalateRequested
	case OptMainMenu, OptNavMenu:
		n.ShowRoot()
		return SignalNone
	case OptRetry:
		n.failures = 0
		n.showCurrentOptions()
		return SignalNone
	case OptNavHelp:
		n.showHelp()
		return SignalNone
	case OptNavRestart:
		n.p.Message("system", "🔄 ¿Qué tipo de reinicio quieres?")
		n.p.Options([]Option{
			{Id: OptRestartSoft, Text: "🔄 Reiniciar conversación (mantener datos)"},
			{Id: OptRestartFull, Text: "🗑️ Reinicio completo (borrar todo)"},
		})
		return SignalNone
	case OptRestartSoft:
		return SignalRestartSoft
	case OptRestartFull:
		return SignalRestartFull
	case OptLastSessionId:
		return SignalShowSessionId
	default:
		node := n.index.FindNode(id)
		if node == nil {
			n.p.Message("bot", "❌ Opción no encontrada")
			n.showCurrentOptions()
			return SignalNone
		}
		n.failures = 0
		return n.selectNode(node)
	}
}

// selectNode applies a resolved tree selection. Children take precedence
// over a destination link.
func (n *Navigator) selectNode(node *tree.Node) Signal {
	if node.HasChildren() {
		n.currentNodeId = node.Id
		n.state = StateAtNode
		n.p.Message("bot", fmt.Sprintf("📂 %s", node.Text))
		n.p.Options(nodesToOptions(node.Children))
		return SignalNone
	}

	if node.Link != "" {
		n.p.Message("bot", fmt.Sprintf("✅ %s", node.Text))
		n.p.Message("bot", fmt.Sprintf("🔗 Haz clic en el siguiente enlace: %s", node.Link))
		n.p.Message("bot", "¿Necesitas ayuda con algo más?")
		n.showNavigationOptions()
		return SignalNone
	}

	// Informational dead end.
	n.p.Message("bot", fmt.Sprintf("ℹ️ %s", node.Text))
	n.p.Message("bot", "¿Necesitas ayuda con algo más?")
	n.showNavigationOptions()
	return SignalNone
}

func (n *Navigator) presentSearchResults(results []matcher.SearchResult) {
	n.state = StateAwaitingSelection
	n.p.Message("bot", "🔍 Encontré estas opciones relacionadas:")

	options := make([]Option, 0, len(results))
	for _, r := range results {
		text := r.Node.Text
		if r.Node.Link != "" {
			text += " 🔗"
		}
		options = append(options, Option{Id: r.Node.Id, Text: text})
	}
	n.p.Options(options)
}

func (n *Navigator) handleCommand(cmd matcher.Command) Signal {
	switch cmd {
	case matcher.CommandHome, matcher.CommandBack:
		n.p.Message("bot", "🏠 Volviendo al menú principal...")
		n.ShowRoot()
	case matcher.CommandHelp:
		n.showHelp()
	default:
		n.showCurrentOptions()
	}
	return SignalNone
}

func (n *Navigator) handleNoMatch() Signal {
	n.failures++
	if n.failures >= n.threshold {
		n.state = StateAwaitingSelection
		n.p.Message("bot", "🤔 No pude encontrar una respuesta en el menú.")
		n.p.Message("bot", "¿Te gustaría hablar con un agente humano?")
		n.p.Options([]Option{
			{Id: OptEscalate, Text: "👨‍💼 Sí, conectar con agente"},
			{Id: OptMainMenu, Text: "🏠 Volver al menú principal"},
			{Id: OptRetry, Text: "🔄 Intentar de nuevo"},
		})
		return SignalEscalationOffered
	}

	n.p.Message("bot", "❓ No encontré esa opción. Aquí tienes algunas sugerencias:")
	n.p.Message("bot", "💡 Intenta ser más específico, con palabras como \"licencia\", \"pago\" o \"trámite\".")
	n.showCurrentOptions()
	return SignalNone
}

func (n *Navigator) showCurrentOptions() {
	node := n.index.FindNode(n.currentNodeId)
	if node != nil && node.HasChildren() {
		n.p.Message("bot", "📋 Estas son las opciones disponibles:")
		n.p.Options(nodesToOptions(node.Children))
		return
	}
	n.ShowRoot()
}

func (n *Navigator) showHelp() {
	lines := []string{
		"🆘 Ayuda del asistente",
		"• Haz clic en los botones para seleccionar opciones",
		"• También puedes escribir palabras clave para buscar",
		"• Usa comandos como \"menú\" o \"ayuda\" cuando lo necesites",
		"• 👨‍💼 Puedes conectar con un agente humano para consultas complejas",
		"• 📎 El envío de archivos está disponible al hablar con un agente",
	}
	for _, line := range lines {
		n.p.Message("bot", line)
	}
	n.p.Message("bot", "¿En qué más puedo ayudarte?")
	n.showNavigationOptions()
}

// ShowNavigationOptions presents the standard navigation choices. The
// controller uses it when handing the conversation back to the menu.
func (n *Navigator) ShowNavigationOptions() {
	n.showNavigationOptions()
}

func (n *Navigator) showNavigationOptions() {
	options := []Option{
		{Id: OptNavMenu, Text: "🏠 Volver al Menú Principal"},
		{Id: OptNavHelp, Text: "🆘 Ayuda"},
		{Id: OptNavAgent, Text: "👨‍💼 Conectar con Agente"},
		{Id: OptNavRestart, Text: "🔄 Reiniciar Chatbot"},
	}
	if n.hasStoredSessionId != nil && n.hasStoredSessionId() {
		options = append(options, Option{Id: OptLastSessionId, Text: "📋 Ver último Session ID usado"})
	}
	n.p.Options(options)
}

func nodesToOptions(nodes []*tree.Node) []Option {
	options := make([]Option, 0, len(nodes))
	for _, node := range nodes {
		options = append(options, Option{Id: node.Id, Text: node.Text})
	}
	return options
}
