package ui

import (
	"errors"
	"slices"
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

type fakePage struct {
	*tview.Box
	name   string
	events []string
}

func newFakePage(name string) *fakePage {
	return &fakePage{Box: tview.NewBox(), name: name}
}

func (p *fakePage) Name() string      { return p.name }
func (p *fakePage) Init()             { p.events = append(p.events, "init") }
func (p *fakePage) Start()            { p.events = append(p.events, "start") }
func (p *fakePage) Stop()             { p.events = append(p.events, "stop") }
func (p *fakePage) Hints() []MenuHint { return nil }

func TestPagesStack(t *testing.T) {
	pages := NewPages()
	list, thread, info := newFakePage("Conversations"), newFakePage("bob"), newFakePage("Details")
	pages.Add("list", list)
	pages.Add("thread", thread)
	pages.Add("info", info)

	var tops []string
	pages.SetOnChange(func(top Page) { tops = append(tops, top.Name()) })

	pages.Reset("list")
	pages.Push("thread")
	pages.Push("thread")
	pages.Push("info")

	if got := pages.Names(); !slices.Equal(got, []string{"Conversations", "bob", "Details"}) {
		t.Errorf("Names() = %v", got)
	}
	if pages.Pop() != "info" || pages.CurrentKey() != "thread" {
		t.Errorf("after pop current = %q", pages.CurrentKey())
	}
	pages.Pop()
	if pages.Pop() != "" {
		t.Error("popped the last page")
	}
	if pages.Current() != Page(list) {
		t.Error("current is not the list")
	}

	if !slices.Equal(tops, []string{"Conversations", "bob", "Details", "bob", "Conversations"}) {
		t.Errorf("onChange tops = %v", tops)
	}
	if !slices.Equal(thread.events, []string{"init", "start", "stop", "start", "stop"}) {
		t.Errorf("thread events = %v", thread.events)
	}
}

func TestPromptHistory(t *testing.T) {
	p := NewPrompt(DefaultTheme())
	p.Activate(PromptCommand)
	var submitted []string
	p.SetOnSubmit(func(_ PromptMode, text string) { submitted = append(submitted, text) })

	for _, cmd := range []string{"read", "read", "leave"} {
		p.SetText(cmd)
		p.InputHandler()(tcell.NewEventKey(tcell.KeyEnter, 0, tcell.ModNone), func(tview.Primitive) {})
	}
	if !slices.Equal(submitted, []string{"read", "read", "leave"}) {
		t.Errorf("submitted = %v", submitted)
	}
	if got := p.History(); !slices.Equal(got, []string{"read", "leave"}) {
		t.Errorf("History() = %v, want duplicates collapsed", got)
	}

	p.Activate(PromptCommand)
	p.recall(-1)
	if p.GetText() != "leave" {
		t.Errorf("recall = %q, want leave", p.GetText())
	}
	p.recall(-1)
	p.recall(-1)
	if p.GetText() != "read" {
		t.Errorf("recall past start = %q, want read", p.GetText())
	}
	p.recall(1)
	p.recall(1)
	if p.GetText() != "" {
		t.Errorf("recall past end = %q, want empty", p.GetText())
	}
}

func TestFlashErrUsesStatusMessage(t *testing.T) {
	f := NewFlashModel()
	f.Err(grpcstatus.Error(codes.NotFound, "unknown conversation"))
	msg := f.Current()
	if msg == nil || msg.Text != "unknown conversation" || msg.Level != FlashErr {
		t.Errorf("Current() = %+v", msg)
	}
	select {
	case got := <-f.Watch():
		if got.Text != "unknown conversation" {
			t.Errorf("watched %q", got.Text)
		}
	default:
		t.Error("nothing on the watch channel")
	}

	f.Err(errors.New("plain"))
	if f.Current().Text != "plain" {
		t.Errorf("plain error text = %q", f.Current().Text)
	}
}

func TestStateColor(t *testing.T) {
	theme := DefaultTheme()
	if theme.StateColor("READY") != theme.OnlineColor {
		t.Error("READY is not shown online")
	}
	if theme.StateColor("DEGRADED") != theme.FlashErrColor {
		t.Error("DEGRADED is not shown as an error")
	}
	if ColorName(tcell.ColorBlack) != "black" {
		t.Errorf("ColorName(black) = %q", ColorName(tcell.ColorBlack))
	}
}
