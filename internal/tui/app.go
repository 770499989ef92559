// Package tui is the terminal client. It renders the daemon's view and
// forwards key presses and commands to it; all state lives in the daemon.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/huddle/internal/api"
	"github.com/matheus3301/huddle/internal/bus"
	"github.com/matheus3301/huddle/internal/chat"
	"github.com/matheus3301/huddle/internal/status"
	"github.com/matheus3301/huddle/internal/tui/keys"
	"github.com/matheus3301/huddle/internal/tui/model"
	"github.com/matheus3301/huddle/internal/tui/ui"
	"github.com/matheus3301/huddle/internal/tui/views"
)

const (
	pageList   = "list"
	pageThread = "thread"
	pageInfo   = "info"
	pageHelp   = "help"

	requestTimeout = 10 * time.Second
	headerHeight   = 7
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	theme    *ui.Theme
	vm       *model.ViewModel
	client   *api.Client
	registry *keys.Registry
	flash    *ui.FlashModel

	root     *tview.Flex
	info     *ui.SessionInfo
	menu     *ui.Menu
	crumbs   *ui.Crumbs
	pages    *ui.Pages
	prompt   *ui.Prompt
	flashBar *ui.FlashBar

	list    *views.ConversationList
	thread  *views.MessageThread
	details *views.ConversationInfo
	help    *views.HelpView

	promptOpen bool
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewApp creates the TUI application for the daemon behind c.
func NewApp(c *api.Client) *App {
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:      tview.NewApplication(),
		theme:    theme,
		vm:       model.NewViewModel(c),
		client:   c,
		registry: keys.NewRegistry(),
		flash:    ui.NewFlashModel(),
		info:     ui.NewSessionInfo(theme),
		menu:     ui.NewMenu(theme, headerHeight-1),
		crumbs:   ui.NewCrumbs(theme),
		pages:    ui.NewPages(),
		prompt:   ui.NewPrompt(theme),
		flashBar: ui.NewFlashBar(theme),
		list:     views.NewConversationList(theme),
		thread:   views.NewMessageThread(theme),
		details:  views.NewConversationInfo(theme),
		help:     views.NewHelpView(theme),
		ctx:      ctx,
		cancel:   cancel,
	}

	a.setupPages()
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()
	return a
}

func (a *App) setupPages() {
	a.pages.Add(pageList, a.list)
	a.pages.Add(pageThread, a.thread)
	a.pages.Add(pageInfo, a.details)
	a.pages.Add(pageHelp, a.help)
	a.pages.SetOnChange(func(top ui.Page) {
		a.crumbs.Update(a.pages.Names())
		a.menu.Update(top.Hints())
		a.app.SetFocus(top)
	})
}

func (a *App) setupBindings() {
	key := func(r rune, fn func()) *keys.Action {
		return &keys.Action{Key: tcell.KeyRune, Rune: r, Handler: fn}
	}

	a.registry.AddGlobal("quit", key('q', a.Stop))
	a.registry.AddGlobal("command", key(':', func() { a.openPrompt(ui.PromptCommand) }))
	a.registry.AddGlobal("help", key('?', func() { a.pages.Push(pageHelp) }))
	a.registry.AddGlobal("reconnect", key('r', func() {
		a.do("reconnect", func(ctx context.Context) error { return a.vm.Reconnect(ctx) })
	}))

	a.registry.AddView(pageList, "filter", key('/', func() { a.openPrompt(ui.PromptFilter) }))
	a.registry.AddView(pageList, "clear-filter", key('0', a.list.ClearFilter))
	for n := 1; n <= 9; n++ {
		a.registry.AddView(pageList, "jump-"+strconv.Itoa(n), key(rune('0'+n), func() {
			if id := a.list.ConversationByIndex(n); id != "" {
				a.openConversation(id)
			}
		}))
	}
	a.registry.AddView(pageList, "down", key('j', func() { a.moveList(1) }))
	a.registry.AddView(pageList, "up", key('k', func() { a.moveList(-1) }))

	a.registry.AddView(pageThread, "compose", key('i', func() { a.app.SetFocus(a.thread.Composer()) }))
	a.registry.AddView(pageThread, "details", key('d', func() { a.pages.Push(pageInfo) }))
	a.registry.AddView(pageThread, "older", key('o', func() {
		a.do("load older", func(ctx context.Context) error {
			n, err := a.vm.LoadOlder(ctx)
			if err == nil && n == 0 {
				a.flash.Info("No older messages")
			}
			return err
		})
	}))
	a.registry.AddView(pageThread, "retry", key('R', func() {
		a.do("retry", func(ctx context.Context) error {
			_, err := a.vm.Retry(ctx, "")
			return err
		})
	}))
}

func (a *App) setupCallbacks() {
	a.list.SetSelectedFunc(func(row, _ int) {
		if id := a.list.ConversationByIndex(row); id != "" {
			a.openConversation(id)
		}
	})

	a.thread.SetOnSend(func(text string) {
		a.do("send", func(ctx context.Context) error {
			m, err := a.vm.Send(ctx, text)
			if err == nil && m.Status == chat.StatusFailed {
				a.flash.Warn("Message not delivered, press R to retry")
			}
			return err
		})
	})
	a.thread.SetOnTyping(func(composing bool) {
		go func() {
			ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
			defer cancel()
			_ = a.vm.Typing(ctx, composing)
		}()
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.closePrompt()
		switch mode {
		case ui.PromptCommand:
			a.runCommand(ParseCommand(text))
		case ui.PromptFilter:
			a.pages.Reset(pageList)
			a.list.SetFilter(text)
		}
	})
	a.prompt.SetOnCancel(a.closePrompt)
}

func (a *App) setupLayout() {
	header := tview.NewFlex().
		AddItem(a.info, 40, 0, false).
		AddItem(a.menu, 0, 1, false).
		AddItem(ui.NewLogo(a.theme), 22, 0, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, headerHeight, 0, false).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.flashBar, 1, 0, false)

	a.app.SetRoot(a.root, true)
	a.app.SetInputCapture(a.handleKey)
	a.pages.Reset(pageList)
}

func (a *App) handleKey(event *tcell.EventKey) *tcell.EventKey {
	if a.promptOpen {
		return event
	}
	focused := a.app.GetFocus()

	if event.Key() == tcell.KeyEscape {
		if focused == a.thread.Composer() {
			a.app.SetFocus(a.thread.Messages())
			return nil
		}
		a.back()
		return nil
	}

	// Let text input widgets handle all keys normally.
	if _, ok := focused.(*tview.InputField); ok {
		return event
	}
	if a.registry.HandleEvent(a.pages.CurrentKey(), event) {
		return nil
	}
	return event
}

func (a *App) back() {
	switch a.pages.CurrentKey() {
	case pageList:
		if a.list.Filter() != "" {
			a.list.ClearFilter()
		}
	case pageThread:
		a.thread.ClearComposer()
		a.pages.Pop()
		a.do("close", func(ctx context.Context) error { return a.vm.CloseConversation(ctx) })
	default:
		a.pages.Pop()
	}
}

func (a *App) moveList(step int) {
	row, _ := a.list.GetSelection()
	if next := row + step; next >= 1 && next < a.list.GetRowCount() {
		a.list.Select(next, 0)
	}
}

func (a *App) openPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	a.promptOpen = true
	a.root.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) closePrompt() {
	a.promptOpen = false
	a.root.ResizeItem(a.prompt, 0, 0)
	a.app.SetFocus(a.pages.Current())
}

func (a *App) openConversation(id string) {
	a.do("open", func(ctx context.Context) error {
		if err := a.vm.Open(ctx, id); err != nil {
			return err
		}
		a.app.QueueUpdate(func() {
			a.pages.Reset(pageList)
			a.pages.Push(pageThread)
		})
		return nil
	})
}

// do runs a daemon call off the UI goroutine, flashes its error and redraws.
func (a *App) do(what string, fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
		defer cancel()
		if err := fn(ctx); err != nil && a.ctx.Err() == nil {
			a.flash.Err(fmt.Errorf("%s: %w", what, err))
		}
		a.app.QueueUpdateDraw(a.render)
	}()
}

// render copies the view model into every widget. UI goroutine only.
func (a *App) render() {
	me := a.vm.UserID()
	convs := a.vm.Conversations()

	if st := a.vm.Status(); st != nil {
		unread := 0
		for _, c := range convs {
			unread += c.UnreadCount
		}
		a.info.Update(&ui.SessionData{
			Session:       st.Session,
			User:          st.UserID,
			State:         st.State,
			Attempt:       st.Attempt,
			Queued:        st.Pending,
			Conversations: len(convs),
			Unread:        unread,
			Uptime:        time.Duration(st.UptimeMs) * time.Millisecond,
		})
	}
	a.list.Update(convs, me)

	conv, open := a.vm.ActiveConversation()
	switch a.pages.CurrentKey() {
	case pageThread, pageInfo:
		if !open {
			a.pages.Reset(pageList)
			break
		}
		a.thread.Update(conv, a.vm.Messages(), a.vm.TypingNames(), me)
		a.details.Update(conv, me)
	}

	a.crumbs.Update(a.pages.Names())
	a.menu.Update(a.pages.Current().Hints())
	a.flashBar.Update(a.flash.Current())
}

// Run starts the TUI application and blocks until it exits.
func (a *App) Run() error {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, requestTimeout)
		if err := a.vm.Refresh(ctx); err != nil {
			a.flash.Err(err)
		}
		cancel()
		a.app.QueueUpdateDraw(a.render)

		go a.vm.Watch(a.ctx, a.openStream, time.Second, a.onEvent)
		a.tick()
	}()

	return a.app.Run()
}

func (a *App) openStream(ctx context.Context) (model.Stream, error) {
	w, err := a.client.Watch(ctx, model.WatchKinds...)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (a *App) onEvent(evt *api.WatchEvent) {
	switch evt.Kind {
	case string(bus.MessageFailed):
		a.flash.Warn("A message could not be delivered, press R to retry")
	case string(bus.SessionStatusChanged):
		if st := a.vm.Status(); st != nil && st.State == string(status.Degraded) {
			a.flash.Warn("Connection lost, press r to reconnect")
		}
	}
	a.app.QueueUpdateDraw(a.render)
}

// tick redraws on new flash messages and once a second so expiry and
// uptime stay current.
func (a *App) tick() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.flash.Watch():
		case <-ticker.C:
		case <-a.ctx.Done():
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.flashBar.Update(a.flash.Current())
		})
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
