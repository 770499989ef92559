package ui

// MenuHint describes a keyboard shortcut for display in the menu.
type MenuHint struct {
	Key         string
	Description string
	Numeric     bool // shown in the numeric key color
}

// Component is a page the app can push. Start runs when it becomes the
// top page and Stop when it leaves.
type Component interface {
	Name() string
	Init()
	Start()
	Stop()
	Hints() []MenuHint
}
