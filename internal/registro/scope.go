package registro

import (
	"fmt"
	"strings"
)

// Scope selects which deployment a client talks to. It is fixed when the
// client is built and never re-derived from a request path.
type Scope string

const (
	ScopeProduction Scope = "producao"
	ScopeTraining   Scope = "treinamento"
)

const trainingPrefix = "/treinamento"

func ParseScope(raw string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "producao", "produção", "production":
		return ScopeProduction, nil
	case "treinamento", "training":
		return ScopeTraining, nil
	default:
		return "", fmt.Errorf("unknown scope %q (want producao or treinamento)", raw)
	}
}

// ScopeFromPath derives the scope from a page path. It is meant for one-time
// startup configuration only.
func ScopeFromPath(path string) Scope {
	for _, segment := range strings.Split(path, "/") {
		if segment == "treinamento" {
			return ScopeTraining
		}
	}
	return ScopeProduction
}

func (s Scope) Prefix() string {
	if s == ScopeTraining {
		return trainingPrefix
	}
	return ""
}

func (s Scope) Label() string {
	if s == ScopeTraining {
		return "Treinamento"
	}
	return "Produção"
}

func (s Scope) String() string {
	return string(s)
}
