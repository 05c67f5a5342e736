package contextmenu

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillip-england/registro/internal/registro"
)

func TestPositionClampsToViewport(t *testing.T) {
	viewport := Size{Width: 1000, Height: 800}

	tests := []struct {
		name  string
		click Point
		menu  Size
		want  Point
	}{
		{name: "inside", click: Point{X: 100, Y: 200}, menu: DefaultSize, want: Point{X: 100, Y: 200}},
		{name: "bottom right corner", click: Point{X: 980, Y: 780}, menu: DefaultSize, want: Point{X: 845, Y: 675}},
		{name: "right edge only", click: Point{X: 990, Y: 10}, menu: DefaultSize, want: Point{X: 845, Y: 10}},
		{name: "unmeasured menu uses default", click: Point{X: 980, Y: 780}, want: Point{X: 845, Y: 675}},
		{name: "measured menu", click: Point{X: 980, Y: 780}, menu: Size{Width: 200, Height: 90}, want: Point{X: 795, Y: 705}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Position(tt.click, tt.menu, viewport)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, got.X, viewport.Width-150)
			assert.LessOrEqual(t, got.Y, viewport.Height-90)
		})
	}
}

func TestPositionNeverNegative(t *testing.T) {
	got := Position(Point{X: 50, Y: 50}, DefaultSize, Size{Width: 100, Height: 100})
	assert.Equal(t, Point{}, got)
}

func TestActionsFor(t *testing.T) {
	assert.Equal(t, []Action{ActionEdit, ActionDelete}, ActionsFor(registro.Record{}))
	assert.Equal(t, []Action{ActionEdit, ActionDelete, ActionRegisterExit}, ActionsFor(registro.Record{SaidaPendente: true}))
}

func TestOpenReplacesPreviousMenu(t *testing.T) {
	m := New(Size{Width: 1000, Height: 800}, nil)

	first := m.Open(PointerEvent{Seq: 1, At: Point{X: 10, Y: 10}}, registro.Record{ID: 1})
	second := m.Open(PointerEvent{Seq: 2, At: Point{X: 980, Y: 780}}, registro.Record{ID: 2, SaidaPendente: true})

	assert.Equal(t, int64(1), first.TargetID)
	assert.Equal(t, int64(2), second.TargetID)
	assert.Equal(t, m.State(), second)
	assert.Equal(t, Point{X: 845, Y: 675}, second.Position)
	assert.Len(t, second.Actions, 3)
}

func TestStateEchoesOpeningEvent(t *testing.T) {
	m := New(Size{Width: 1000, Height: 800}, nil)
	assert.Equal(t, State{}, m.State())

	state := m.Open(PointerEvent{Seq: 7, At: Point{X: 100, Y: 100}}, registro.Record{ID: 3})
	assert.Equal(t, uint64(7), state.Seq)

	require.ErrorIs(t, m.Select(context.Background(), ActionRegisterExit), ErrActionForbidden)
	assert.Equal(t, State{}, m.State())
}

func TestSelectDispatchesAndCloses(t *testing.T) {
	var gotID int64
	var gotAction Action
	handler := func(a Action) Handler {
		return func(ctx context.Context, id int64) error {
			gotID, gotAction = id, a
			return nil
		}
	}
	m := New(Size{Width: 1000, Height: 800}, map[Action]Handler{
		ActionEdit:         handler(ActionEdit),
		ActionDelete:       handler(ActionDelete),
		ActionRegisterExit: handler(ActionRegisterExit),
	})

	require.ErrorIs(t, m.Select(context.Background(), ActionEdit), ErrClosed)

	m.Open(PointerEvent{Seq: 1}, registro.Record{ID: 5})
	require.ErrorIs(t, m.Select(context.Background(), ActionRegisterExit), ErrActionForbidden)
	assert.False(t, m.State().Open)

	m.Open(PointerEvent{Seq: 2}, registro.Record{ID: 5, SaidaPendente: true})
	require.NoError(t, m.Select(context.Background(), ActionRegisterExit))
	assert.Equal(t, int64(5), gotID)
	assert.Equal(t, ActionRegisterExit, gotAction)
	assert.False(t, m.State().Open)
}

func TestSelectWithoutHandler(t *testing.T) {
	m := New(Size{Width: 1000, Height: 800}, map[Action]Handler{})
	m.Open(PointerEvent{Seq: 1}, registro.Record{ID: 1})
	require.ErrorIs(t, m.Select(context.Background(), ActionDelete), ErrNoHandler)
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("saida")
	require.NoError(t, err)
	assert.Equal(t, ActionRegisterExit, a)
	assert.Equal(t, "Registrar saída", a.Label())

	_, err = ParseAction("apagar")
	require.Error(t, err)
}
