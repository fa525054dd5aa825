package client

import "github.com/charmbracelet/bubbles/key"

// keyMap holds the global key bindings recognized outside of normal
// line-editing (§4.6: "Next/prev channel keys rotate through channels
// in creation order").
type keyMap struct {
	NextChannel key.Binding
	PrevChannel key.Binding
	ForceQuit   key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		NextChannel: key.NewBinding(key.WithKeys("ctrl+n", "tab")),
		PrevChannel: key.NewBinding(key.WithKeys("ctrl+p", "shift+tab")),
		ForceQuit:   key.NewBinding(key.WithKeys("ctrl+c")),
	}
}
