package tui

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/user/coachchat/internal/types"
)

const thinkingText = "thinking…"

// renderer turns a transcript into the text shown in the viewport. It also
// serves as the session's Measurer, so the heights the session anchors
// against are exactly the heights drawn.
type renderer struct {
	width int

	mu       sync.Mutex
	markdown *glamour.TermRenderer
	cache    map[string]string
}

func newRenderer(width int, style string) *renderer {
	r := &renderer{width: max(width, 10), cache: make(map[string]string)}
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(r.width),
	)
	if err == nil {
		r.markdown = md
	}
	return r
}

// Render draws msgs, oldest first, separated by blank lines.
func (r *renderer) Render(msgs []types.Message) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	blocks := make([]string, 0, len(msgs))
	for _, m := range msgs {
		blocks = append(blocks, r.block(m))
	}
	return strings.Join(blocks, "\n\n")
}

// Measure reports the number of rows Render produces.
func (r *renderer) Measure(msgs []types.Message) int {
	if len(msgs) == 0 {
		return 0
	}
	return lipgloss.Height(r.Render(msgs))
}

func (r *renderer) block(m types.Message) string {
	if m.Pending {
		return coachLabelStyle.Render("Coach") + "\n" + pendingStyle.Render(thinkingText)
	}
	key := m.ID + "\x00" + m.Content
	if out, ok := r.cache[key]; ok {
		return out
	}
	var out string
	if m.Role == types.RoleUser {
		out = userLabelStyle.Render("You") + "\n" + r.plain(m.Content)
	} else {
		out = coachLabelStyle.Render("Coach") + "\n" + r.rich(m.Content)
	}
	r.cache[key] = out
	return out
}

func (r *renderer) plain(content string) string {
	return lipgloss.NewStyle().Width(r.width).Render(content)
}

func (r *renderer) rich(content string) string {
	if r.markdown == nil {
		return r.plain(content)
	}
	out, err := r.markdown.Render(content)
	if err != nil {
		return r.plain(content)
	}
	return strings.Trim(out, "\n")
}
