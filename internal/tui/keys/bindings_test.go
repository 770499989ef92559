package keys

import (
	"slices"
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestViewBindingWinsOverGlobal(t *testing.T) {
	r := NewRegistry()
	var got []string
	r.AddGlobal("quit", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = append(got, "global") }})
	r.AddView("thread", "back", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = append(got, "view") }})

	q := tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)
	r.HandleEvent("thread", q)
	r.HandleEvent("list", q)

	if !slices.Equal(got, []string{"view", "global"}) {
		t.Errorf("handled by %v", got)
	}
}

func TestHandleEventMatchesKeys(t *testing.T) {
	r := NewRegistry()
	fired := false
	r.AddGlobal("back", &Action{Key: tcell.KeyEscape, Handler: func() { fired = true }})

	if r.HandleEvent("list", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone)) {
		t.Error("unbound rune was handled")
	}
	if !r.HandleEvent("list", tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone)) || !fired {
		t.Error("escape was not handled")
	}
}

func TestNames(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal("quit", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() {}})
	r.AddView("thread", "compose", &Action{Key: tcell.KeyRune, Rune: 'i', Handler: func() {}})
	r.AddView("thread", "quit", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() {}})

	if got := r.Names("thread"); !slices.Equal(got, []string{"compose", "quit"}) {
		t.Errorf("Names(thread) = %v", got)
	}
	if got := r.Names("list"); !slices.Equal(got, []string{"quit"}) {
		t.Errorf("Names(list) = %v", got)
	}
}
