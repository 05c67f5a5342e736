package apiapp

import (
	"errors"
	"net/http"

	"github.com/phillip-england/registro/internal/registro"
)

var (
	ErrNotFound             = errors.New("registro não encontrado")
	ErrNotPending           = errors.New("registro não está pendente de saída")
	ErrMissingJustification = errors.New("justificativa ausente")
	ErrMissingPassword      = errors.New("senha não fornecida")
	ErrWrongPassword        = errors.New("senha incorreta")
	ErrServidorNotFound     = errors.New("servidor não encontrado")
	ErrNoPendingEntry       = errors.New("nenhuma entrada pendente")
	ErrAlreadyInside        = errors.New("servidor já possui entrada pendente")
)

// inputError carries a message meant for the user, returned with 400.
type inputError struct {
	message string
}

func (e *inputError) Error() string {
	return e.message
}

func badInput(message string) error {
	return &inputError{message: message}
}

// errorResponse maps a handler error to its status and user-facing message.
func errorResponse(err error) (int, string) {
	var input *inputError
	var validation *registro.ValidationError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Message
	case errors.As(err, &input):
		return http.StatusBadRequest, input.message
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, "Registro não encontrado."
	case errors.Is(err, ErrServidorNotFound):
		return http.StatusNotFound, "Servidor não encontrado."
	case errors.Is(err, ErrNotPending):
		return http.StatusBadRequest, "Este registro não está pendente de saída."
	case errors.Is(err, ErrNoPendingEntry):
		return http.StatusBadRequest, "Nenhuma entrada pendente encontrada para este servidor."
	case errors.Is(err, ErrAlreadyInside):
		return http.StatusBadRequest, "Este servidor já possui uma entrada pendente."
	case errors.Is(err, ErrMissingJustification):
		return http.StatusBadRequest, "É necessário informar uma justificativa para excluir o registro."
	case errors.Is(err, ErrMissingPassword):
		return http.StatusBadRequest, "Senha não fornecida"
	case errors.Is(err, ErrWrongPassword):
		return http.StatusUnauthorized, "Senha incorreta"
	default:
		return http.StatusInternalServerError, "Erro interno do servidor"
	}
}
