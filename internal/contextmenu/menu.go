// Package contextmenu positions and drives the per-row action menu.
//
// A Menu is opened by a pointer event on a row and dispatches the chosen
// action to a typed handler table instead of per-row callbacks. Dismissal on
// outside clicks, Escape and resize belongs to the page script.
package contextmenu

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/phillip-england/registro/internal/registro"
)

type Action string

const (
	ActionEdit         Action = "editar"
	ActionDelete       Action = "excluir"
	ActionRegisterExit Action = "saida"
)

const Margin = 5

var DefaultSize = Size{Width: 150, Height: 120}

var (
	ErrClosed          = errors.New("menu is not open")
	ErrActionForbidden = errors.New("action not available for this record")
	ErrNoHandler       = errors.New("no handler registered for action")
)

func ParseAction(raw string) (Action, error) {
	switch a := Action(raw); a {
	case ActionEdit, ActionDelete, ActionRegisterExit:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", raw)
	}
}

func (a Action) Label() string {
	switch a {
	case ActionEdit:
		return "Editar"
	case ActionDelete:
		return "Excluir"
	case ActionRegisterExit:
		return "Registrar saída"
	default:
		return string(a)
	}
}

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Rect struct {
	Point
	Size
}

// PointerEvent is the context-menu event that opens a menu. Seq lets the page
// tell the opening event apart from a later dismissing click.
type PointerEvent struct {
	Seq uint64
	At  Point
}

// Position keeps the menu inside the viewport: each axis is pulled back so the
// far edge stays Margin pixels from the viewport edge, and never below 0.
func Position(click Point, menu, viewport Size) Point {
	if menu.Width <= 0 || menu.Height <= 0 {
		menu = DefaultSize
	}
	x := min(click.X, viewport.Width-menu.Width-Margin)
	y := min(click.Y, viewport.Height-menu.Height-Margin)
	return Point{X: max(x, 0), Y: max(y, 0)}
}

// ActionsFor lists the actions offered for a record.
func ActionsFor(rec registro.Record) []Action {
	actions := []Action{ActionEdit, ActionDelete}
	if rec.SaidaPendente {
		actions = append(actions, ActionRegisterExit)
	}
	return actions
}

type Handler func(ctx context.Context, id int64) error

type State struct {
	Open     bool     `json:"open"`
	Position Point    `json:"position"`
	Actions  []Action `json:"actions,omitempty"`
	TargetID int64    `json:"target_id,omitempty"`
	Seq      uint64   `json:"seq,omitempty"`
}

type Menu struct {
	mu       sync.Mutex
	viewport Size
	size     Size
	handlers map[Action]Handler
	open     bool
	openedBy uint64
	rect     Rect
	target   registro.Record
	actions  []Action
}

func New(viewport Size, handlers map[Action]Handler) *Menu {
	return &Menu{viewport: viewport, size: DefaultSize, handlers: handlers}
}

// Measure records the rendered menu size; a zero size keeps the default.
func (m *Menu) Measure(size Size) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size.Width > 0 && size.Height > 0 {
		m.size = size
	}
}

// Open shows the menu for rec at ev, replacing any menu already open.
func (m *Menu) Open(ev PointerEvent, rec registro.Record) State {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeLocked()
	m.open = true
	m.target = rec
	m.actions = ActionsFor(rec)
	m.rect = Rect{Point: Position(ev.At, m.size, m.viewport), Size: m.size}
	m.openedBy = ev.Seq
	return m.stateLocked()
}

// Select closes the menu and runs the handler for action against the record
// the menu was opened on.
func (m *Menu) Select(ctx context.Context, action Action) error {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return ErrClosed
	}
	allowed := slices.Contains(m.actions, action)
	id := m.target.ID
	handler := m.handlers[action]
	m.closeLocked()
	m.mu.Unlock()

	if !allowed {
		return fmt.Errorf("%w: %s", ErrActionForbidden, action)
	}
	if handler == nil {
		return fmt.Errorf("%w: %s", ErrNoHandler, action)
	}
	return handler(ctx, id)
}

func (m *Menu) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Menu) stateLocked() State {
	if !m.open {
		return State{}
	}
	return State{
		Open:     true,
		Position: m.rect.Point,
		Actions:  slices.Clone(m.actions),
		TargetID: m.target.ID,
		Seq:      m.openedBy,
	}
}

func (m *Menu) closeLocked() {
	m.open = false
	m.openedBy = 0
	m.actions = nil
	m.target = registro.Record{}
	m.rect = Rect{}
}
