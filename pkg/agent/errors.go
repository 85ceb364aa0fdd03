package agent

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies a connection-establishment failure for user-facing
// messaging.
type ErrorKind int

const (
	ErrKindGeneric ErrorKind = iota
	ErrKindNotFound
	ErrKindTimeout
	ErrKindInvalidParams
)

// ConnectError wraps a transport failure with its classification.
type ConnectError struct {
	Kind ErrorKind
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("agent: connect failed (%s): %v", e.Kind.UserMessage(), e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// UserMessage renders the classification in the widget's language.
func (k ErrorKind) UserMessage() string {
	switch k {
	case ErrKindNotFound:
		return "Servidor no encontrado"
	case ErrKindTimeout:
		return "Tiempo de conexión agotado"
	case ErrKindInvalidParams:
		return "Error de parámetros en el servidor"
	default:
		return "Fallo en la conexión"
	}
}

// classifyConnectError maps a dial/registration failure onto the fixed
// error taxonomy.
func classifyConnectError(err error) *ConnectError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ConnectError{Kind: ErrKindTimeout, Err: err}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "404") || strings.Contains(msg, "not found") || strings.Contains(msg, "no such host"):
		return &ConnectError{Kind: ErrKindNotFound, Err: err}
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return &ConnectError{Kind: ErrKindTimeout, Err: err}
	case strings.Contains(msg, "invalid"):
		return &ConnectError{Kind: ErrKindInvalidParams, Err: err}
	default:
		return &ConnectError{Kind: ErrKindGeneric, Err: err}
	}
}
