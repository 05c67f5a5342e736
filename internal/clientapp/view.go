package clientapp

import (
	"html/template"
	"net/url"
	"sync"
	"time"

	"github.com/phillip-england/registro/internal/contextmenu"
	"github.com/phillip-england/registro/internal/dashboard"
	"github.com/phillip-england/registro/internal/editflow"
	"github.com/phillip-england/registro/internal/registro"
	"github.com/phillip-england/registro/internal/table"
)

const csrfFormField = "csrfmiddlewaretoken"

// pageView holds the latest published snapshot for page renders. A reload
// request marks it stale so the next page fetches before rendering.
type pageView struct {
	mu       sync.Mutex
	snap     dashboard.Snapshot
	has      bool
	stale    bool
	reloaded int
}

func (v *pageView) Publish(s dashboard.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.snap = s
	v.has = true
	v.stale = false
}

func (v *pageView) Reload() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stale = true
	v.reloaded++
}

// fresh returns the snapshot when one exists, is not stale, and is younger
// than maxAge. A non-positive maxAge never counts as fresh.
func (v *pageView) fresh(now time.Time, maxAge time.Duration) (dashboard.Snapshot, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.has || v.stale || maxAge <= 0 {
		return dashboard.Snapshot{}, false
	}
	if now.Sub(v.snap.RefreshedAt) >= maxAge {
		return dashboard.Snapshot{}, false
	}
	return v.snap, true
}

type pageData struct {
	Title          string
	Scope          registro.Scope
	CSRF           string
	Success        string
	Error          string
	RefreshSeconds int

	Snapshot   dashboard.Snapshot
	Columns    []string
	ActionName map[contextmenu.Action]string

	Form       *editflow.Form
	Validation string
}

var templateFuncs = template.FuncMap{
	"isError": func(n *table.Notice) bool { return n != nil && n.Kind == table.KindError },
	"clock": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Format("02/01/2006 15:04:05")
	},
}

func pageTitle(scope registro.Scope) string {
	if scope == registro.ScopeTraining {
		return "Controle de Acesso - Treinamento"
	}
	return "Controle de Acesso"
}

func actionNames() map[contextmenu.Action]string {
	names := map[contextmenu.Action]string{}
	for _, a := range []contextmenu.Action{contextmenu.ActionEdit, contextmenu.ActionDelete, contextmenu.ActionRegisterExit} {
		names[a] = a.Label()
	}
	return names
}

func redirectWith(kind, message string) string {
	if message == "" {
		return "/"
	}
	return "/?" + url.Values{kind: {message}}.Encode()
}
