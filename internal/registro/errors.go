package registro

import (
	"errors"
	"fmt"
)

var ErrMissingToken = errors.New("missing csrf token")

// TransportError covers network failures and non-2xx responses that did not
// carry an application error body. StatusCode is 0 when no response arrived.
type TransportError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return fmt.Sprintf("Erro de comunicação com o servidor: %v", e.Err)
	}
	return "Erro de comunicação com o servidor"
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError is a 2xx response whose body is not the JSON the
// endpoint promises.
type MalformedResponseError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *MalformedResponseError) Error() string {
	return "A resposta do servidor não é um JSON válido"
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// ApplicationError is a response with status "error".
type ApplicationError struct {
	StatusCode int
	Message    string
}

func (e *ApplicationError) Error() string {
	if e.Message == "" {
		return "Erro ao processar a solicitação"
	}
	return e.Message
}

// ValidationError is a client-side precondition failure; no request was sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// UserMessage returns the text shown to an operator for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var validationErr *ValidationError
	var appErr *ApplicationError
	var transportErr *TransportError
	var malformedErr *MalformedResponseError
	switch {
	case errors.As(err, &validationErr):
		return validationErr.Error()
	case errors.As(err, &appErr):
		return appErr.Error()
	case errors.As(err, &transportErr):
		return transportErr.Error()
	case errors.As(err, &malformedErr):
		return malformedErr.Error()
	default:
		return err.Error()
	}
}
