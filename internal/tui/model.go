// Package tui is a terminal front end for one assistant conversation.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/user/coachchat/internal/session"
	"github.com/user/coachchat/internal/types"
)

// Rows taken by everything except the transcript.
const chromeHeight = 6

type (
	snapshotMsg session.Snapshot
	loadedMsg   struct{ err error }
	olderMsg    struct{ err error }
	clearedMsg  struct{ err error }
)

type sentMsg struct {
	text   string
	result types.SendResult
}

// Options tunes the UI.
type Options struct {
	// MarkdownStyle is a glamour standard style name, e.g. "dark".
	MarkdownStyle string
}

// Model is the bubbletea model of the chat screen.
type Model struct {
	ctx    context.Context
	sess   *session.Session
	target types.TargetID
	opts   Options

	updates     chan session.Snapshot
	unsubscribe func()

	keys     keyMap
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	render   *renderer

	snap   session.Snapshot
	flash  string
	width  int
	height int
	ready  bool
}

// New creates the chat screen for target. The session must outlive the
// program; call Close once it exits.
func New(ctx context.Context, sess *session.Session, target types.TargetID, opts Options) Model {
	if opts.MarkdownStyle == "" {
		opts.MarkdownStyle = "dark"
	}

	input := textinput.New()
	input.Placeholder = "Ask your coach…"
	input.Prompt = "› "
	input.Focus()

	vp := viewport.New(80, 20)
	vp.KeyMap = scrollKeys()

	// Latest snapshot wins; stale ones are dropped.
	updates := make(chan session.Snapshot, 1)
	unsubscribe := sess.Subscribe(func(s session.Snapshot) {
		for {
			select {
			case updates <- s:
				return
			default:
				select {
				case <-updates:
				default:
				}
			}
		}
	})

	return Model{
		ctx:         ctx,
		sess:        sess,
		target:      target,
		opts:        opts,
		updates:     updates,
		unsubscribe: unsubscribe,
		keys:        defaultKeyMap(),
		viewport:    vp,
		input:       input,
		spinner:     spinner.New(spinner.WithSpinner(spinner.Dot)),
		render:      newRenderer(80, opts.MarkdownStyle),
		snap:        sess.Snapshot(),
	}
}

// Close stops listening to the session.
func (m Model) Close() {
	m.unsubscribe()
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, m.waitForSnapshot(), m.loadLatest())
}

func (m Model) waitForSnapshot() tea.Cmd {
	return func() tea.Msg {
		select {
		case s := <-m.updates:
			return snapshotMsg(s)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) loadLatest() tea.Cmd {
	return func() tea.Msg {
		return loadedMsg{err: m.sess.LoadLatest(m.ctx, m.target, nil)}
	}
}

func (m Model) retryLatest() tea.Cmd {
	return func() tea.Msg {
		return loadedMsg{err: m.sess.RetryLatest(m.ctx)}
	}
}

func (m Model) loadOlder() tea.Cmd {
	return func() tea.Msg {
		return olderMsg{err: m.sess.LoadOlder(m.ctx)}
	}
}

func (m Model) clear() tea.Cmd {
	return func() tea.Msg {
		return clearedMsg{err: m.sess.Clear(m.ctx)}
	}
}

func (m Model) send(text string) tea.Cmd {
	return func() tea.Msg {
		return sentMsg{text: text, result: m.sess.Send(m.ctx, text)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case snapshotMsg:
		if s := session.Snapshot(msg); s.Version >= m.snap.Version {
			m.snap = s
			m.refresh()
		}
		return m, m.waitForSnapshot()

	case sentMsg:
		if msg.result.State == types.SendRejected {
			m.flash = msg.result.Error
			if m.input.Value() == "" {
				m.input.SetValue(msg.text)
			}
		}
		return m, nil

	case loadedMsg, olderMsg, clearedMsg:
		// Outcomes arrive as snapshots and notices.
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.MouseMsg:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd, m.scrolled())
		return m, tea.Batch(cmds...)

	case tea.KeyMsg:
		m.flash = ""
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Cancel):
			if m.snap.Sending {
				m.sess.CancelSend()
			} else {
				m.sess.DismissNotice()
			}
			return m, nil
		case key.Matches(msg, m.keys.Clear):
			return m, m.clear()
		case key.Matches(msg, m.keys.Retry):
			if m.snap.Notice != nil && m.snap.Notice.Retry {
				return m, m.retryLatest()
			}
			return m, nil
		case key.Matches(msg, m.keys.Older):
			return m, m.loadOlder()
		case key.Matches(msg, m.keys.Send):
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			if reason := m.sess.Validate(text); reason != "" {
				m.flash = reason
				return m, nil
			}
			m.input.Reset()
			return m, m.send(text)
		case isScrollKey(m.viewport.KeyMap, msg):
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			cmds = append(cmds, cmd, m.scrolled())
			return m, tea.Batch(cmds...)
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// scrolled reports the viewport position to the session and asks for older
// history once the top is near.
func (m Model) scrolled() tea.Cmd {
	if m.sess.Scrolled(m.viewport.YOffset) {
		return m.loadOlder()
	}
	return nil
}

func (m *Model) resize(width, height int) {
	m.width, m.height = width, height
	m.viewport.Width = width
	m.viewport.Height = max(height-chromeHeight, 1)
	m.input.Width = max(width-8, 10)
	m.render = newRenderer(width-2, m.opts.MarkdownStyle)
	m.ready = true
	m.sess.SetMeasurer(m.render)
	m.sess.SetViewport(m.viewport.Height)
	m.refresh()
}

// refresh redraws the transcript at the offset the session anchored.
func (m *Model) refresh() {
	m.viewport.SetContent(m.render.Render(m.snap.Messages))
	m.viewport.SetYOffset(m.snap.Offset)
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.noticeLine())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(inputStyle.Width(max(m.width-2, 10)).Render(m.input.View()))
	return b.String()
}

func (m Model) header() string {
	title := titleStyle.Render(fmt.Sprintf("Challenge %s", m.target))
	var info []string
	if m.snap.ThreadID != "" {
		info = append(info, "thread "+string(m.snap.ThreadID))
	}
	info = append(info, fmt.Sprintf("%d messages", len(m.snap.Messages)))
	if m.snap.Page == session.PageExhausted {
		info = append(info, "start of conversation")
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", statusStyle.Render(strings.Join(info, " · ")))
}

func (m Model) noticeLine() string {
	switch {
	case m.flash != "":
		return errorStyle.Render(m.flash)
	case m.snap.Notice != nil:
		text := m.snap.Notice.Text
		if m.snap.Notice.Retry {
			text += " (ctrl+r to retry)"
		}
		return noticeStyle.Render(text)
	default:
		return ""
	}
}

func (m Model) statusLine() string {
	var activity string
	switch {
	case m.snap.Loading:
		activity = "Loading conversation…"
	case m.snap.LoadingOlder:
		activity = "Loading earlier messages…"
	case m.snap.Clearing:
		activity = "Clearing…"
	case m.snap.Sending:
		activity = "Waiting for the coach… (esc to cancel)"
	}
	if activity != "" {
		return m.spinner.View() + " " + statusStyle.Render(activity)
	}
	var help []string
	for _, k := range []key.Binding{m.keys.Send, m.keys.Older, m.keys.Clear, m.keys.Quit} {
		h := k.Help()
		help = append(help, h.Key+" "+h.Desc)
	}
	return statusStyle.Render(strings.Join(help, "  "))
}
