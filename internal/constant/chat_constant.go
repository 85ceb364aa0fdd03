package constant

const (
	ChatMessageRoleUser   = "user"
	ChatMessageRoleBot    = "bot"
	ChatMessageRoleAgent  = "agent"
	ChatMessageRoleSystem = "system"

	// DefaultWelcomeMessage carries a ${nombre} placeholder substituted
	// with the registered visitor name.
	DefaultWelcomeMessage = "¡Hola ${nombre}! Bienvenido a la Municipalidad de Puente Alto 🏢\n\nSoy tu asistente virtual y estoy aquí para ayudarte."
)
