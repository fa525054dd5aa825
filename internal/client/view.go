package client

import (
	"fmt"
	"strings"
)

// View renders a deliberately plain-text layout: a channel bar, the
// active channel's scrollback tail, any live notifications, and the
// line editor. Visual polish is out of scope; this mirrors the data
// a richer renderer would consume (§4.6, and §1 Non-goals on widget
// polish).
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderChannelBar())
	b.WriteString("\n")
	b.WriteString(viewportStyle().Render(m.renderActiveBuffer()))
	b.WriteString("\n")
	for _, n := range m.notifications {
		b.WriteString("! " + n.text + "\n")
	}
	b.WriteString(m.renderEditor())
	return b.String()
}

func (m Model) renderChannelBar() string {
	if len(m.channels) == 0 {
		return "(no channels — :new <name> <cmd…>)"
	}
	parts := make([]string, 0, len(m.channels))
	for _, c := range m.channels {
		name := c.name
		if c.name == m.active {
			name = "[" + name + "]"
		}
		if c.exited {
			name += fmt.Sprintf("(exit %d)", c.exitCode)
		} else if buf, ok := m.buffers[c.name]; ok && buf.Unread() {
			name += "*"
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, " ")
}

func (m Model) renderActiveBuffer() string {
	buf, ok := m.buffers[m.active]
	if !ok {
		return ""
	}
	lines := buf.Lines()
	visible := m.height - 4
	if visible < 1 {
		visible = 1
	}
	offset := buf.Scroll()
	end := len(lines) - offset
	if end < 0 {
		end = 0
	}
	start := end - visible
	if start < 0 {
		start = 0
	}
	return strings.Join(lines[start:end], "\n")
}

func (m Model) renderEditor() string {
	return "> " + m.editor[:m.cursor] + "█" + m.editor[m.cursor:]
}
