package ui

import "github.com/rivo/tview"

// Page is a Component that can be drawn.
type Page interface {
	Component
	tview.Primitive
}

// Pages is a stack of registered pages on top of tview.Pages. Only the top
// page is visible; it is started when it surfaces and stopped when covered.
type Pages struct {
	*tview.Pages
	pages    map[string]Page
	stack    []string
	onChange func(top Page)
}

// NewPages creates an empty page stack.
func NewPages() *Pages {
	return &Pages{
		Pages: tview.NewPages(),
		pages: make(map[string]Page),
	}
}

// Add registers p under key, hidden.
func (p *Pages) Add(key string, page Page) {
	page.Init()
	p.pages[key] = page
	p.AddPage(key, page, true, false)
}

// SetOnChange sets a callback fired with the new top page after every
// stack change.
func (p *Pages) SetOnChange(fn func(top Page)) {
	p.onChange = fn
}

// Push shows key on top of the stack. Pushing the current top is a no-op.
func (p *Pages) Push(key string) {
	if p.CurrentKey() == key {
		return
	}
	if top := p.Current(); top != nil {
		top.Stop()
		p.HidePage(p.CurrentKey())
	}
	p.stack = append(p.stack, key)
	p.surface()
}

// Pop removes the top page and shows the one below. The last page stays.
func (p *Pages) Pop() string {
	if len(p.stack) <= 1 {
		return ""
	}
	key := p.CurrentKey()
	p.pages[key].Stop()
	p.HidePage(key)
	p.stack = p.stack[:len(p.stack)-1]
	p.surface()
	return key
}

// Reset clears the stack and shows only key.
func (p *Pages) Reset(key string) {
	for _, k := range p.stack {
		p.HidePage(k)
	}
	if top := p.Current(); top != nil {
		top.Stop()
	}
	p.stack = []string{key}
	p.surface()
}

// CurrentKey returns the key of the top page.
func (p *Pages) CurrentKey() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

// Current returns the top page, or nil if the stack is empty.
func (p *Pages) Current() Page {
	return p.pages[p.CurrentKey()]
}

// Names returns the display names of the stacked pages, bottom first.
func (p *Pages) Names() []string {
	names := make([]string, len(p.stack))
	for i, k := range p.stack {
		names[i] = p.pages[k].Name()
	}
	return names
}

func (p *Pages) surface() {
	key := p.CurrentKey()
	p.ShowPage(key)
	p.SendToFront(key)
	top := p.pages[key]
	top.Start()
	if p.onChange != nil {
		p.onChange(top)
	}
}
