// Package tui is the terminal front end of the conversation viewer.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chat-archive/pkg/chatlog"
	"github.com/go-go-golems/chat-archive/pkg/viewer"
)

type focus int

const (
	focusInput focus = iota
	focusResults
	focusChat
)

type resultItem struct {
	msg chatlog.Message
}

func (i resultItem) Title() string       { return i.msg.Line() }
func (i resultItem) FilterValue() string { return i.msg.Line() }
func (i resultItem) Description() string {
	if i.msg.CreatedAt == 0 {
		return i.msg.ID
	}
	return i.msg.Time().Format(time.DateTime)
}

// liveMsg carries one message from the live feed. ok is false once the
// feed is closed.
type liveMsg struct {
	msg chatlog.Message
	ok  bool
}

type copiedMsg struct {
	text string
	err  error
}

type Options struct {
	// HighlightAnchor renders the opened message in the anchor style.
	// Off by default: the anchor reads like every other line.
	HighlightAnchor bool
}

type Model struct {
	ctx    context.Context
	viewer *viewer.Viewer
	live   <-chan chatlog.Message
	copyTo func(string) error
	opts   Options

	input   textinput.Model
	results list.Model
	chat    viewport.Model

	focus  focus
	width  int
	height int
	ready  bool
	// lines holds the rendered height of each chat message, in chat order.
	lines  []int
	notice string
}

// New builds the model. live may be nil when no feed is attached.
func New(ctx context.Context, v *viewer.Viewer, live <-chan chatlog.Message, opts Options) Model {
	ti := textinput.New()
	ti.Placeholder = "search messages"
	ti.Prompt = "/ "
	ti.Cursor.SetMode(cursor.CursorStatic)
	ti.Focus()

	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Results"
	l.Styles.Title = titleStyle
	l.Styles.PaginationStyle = paginationStyle
	l.SetShowHelp(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.KeyMap.Quit.SetEnabled(false)

	return Model{
		ctx:     ctx,
		viewer:  v,
		live:    live,
		copyTo:  clipboard.WriteAll,
		opts:    opts,
		input:   ti,
		results: l,
		chat:    viewport.New(0, 0),
	}
}

func (m Model) Init() tea.Cmd {
	return waitForLive(m.live)
}

func waitForLive(ch <-chan chatlog.Message) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		return liveMsg{msg: msg, ok: ok}
	}
}

func (m Model) run(t viewer.Task) tea.Cmd {
	if t == nil {
		return nil
	}
	ctx := m.ctx
	return func() tea.Msg { return t(ctx) }
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.ready = true
		m.renderChat()
		return m, nil

	case viewer.Msg:
		m.notice = ""
		change := m.viewer.Apply(msg)
		m.applyChange(change)
		return m, nil

	case liveMsg:
		if !msg.ok {
			log.Debug().Msg("live feed closed")
			return m, nil
		}
		follow := m.chat.AtBottom()
		if m.viewer.Live(msg.msg) {
			m.renderChat()
			if follow {
				m.chat.GotoBottom()
			}
		}
		return m, waitForLive(m.live)

	case copiedMsg:
		if msg.err != nil {
			m.notice = "copy failed: " + msg.err.Error()
		} else {
			m.notice = "copied " + msg.text
		}
		return m, nil

	case tea.MouseMsg:
		if m.focus != focusChat {
			return m, nil
		}
		var cmd tea.Cmd
		m.chat, cmd = m.chat.Update(msg)
		switch msg.Button {
		case tea.MouseButtonWheelUp:
			return m, tea.Batch(cmd, m.edgeTrigger(viewer.Backward))
		case tea.MouseButtonWheelDown:
			return m, tea.Batch(cmd, m.edgeTrigger(viewer.Forward))
		}
		return m, cmd

	case tea.KeyMsg:
		return m.updateKey(msg)
	}
	return m, nil
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit
	case "tab":
		m.setFocus((m.focus + 1) % 3)
		return m, nil
	case "shift+tab":
		m.setFocus((m.focus + 2) % 3)
		return m, nil
	}

	switch m.focus {
	case focusInput:
		if msg.Type == tea.KeyEnter {
			return m, m.run(m.viewer.Search(m.input.Value()))
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case focusResults:
		if msg.Type == tea.KeyEnter {
			item, ok := m.results.SelectedItem().(resultItem)
			if !ok {
				return m, nil
			}
			return m, m.run(m.viewer.Open(item.msg.ID))
		}
		var cmd tea.Cmd
		m.results, cmd = m.results.Update(msg)
		return m, cmd

	default:
		if msg.String() == "y" {
			return m, m.copySelected()
		}
		var cmd tea.Cmd
		m.chat, cmd = m.chat.Update(msg)
		switch msg.String() {
		case "up", "k", "pgup", "b", "ctrl+u", "u":
			return m, tea.Batch(cmd, m.edgeTrigger(viewer.Backward))
		case "down", "j", "pgdown", "f", " ", "ctrl+d", "d":
			return m, tea.Batch(cmd, m.edgeTrigger(viewer.Forward))
		}
		return m, cmd
	}
}

// edgeTrigger pages when a scroll in dir left the viewport at that edge.
func (m Model) edgeTrigger(dir viewer.Direction) tea.Cmd {
	if dir == viewer.Backward && m.chat.AtTop() {
		return m.run(m.viewer.PageBackward())
	}
	if dir == viewer.Forward && m.chat.AtBottom() {
		return m.run(m.viewer.PageForward())
	}
	return nil
}

func (m Model) copySelected() tea.Cmd {
	var line string
	for _, msg := range m.viewer.Chat {
		if msg.ID == m.viewer.Selected {
			line = msg.Line()
			break
		}
	}
	if line == "" {
		return nil
	}
	copyFn := m.copyTo
	return func() tea.Msg {
		return copiedMsg{text: line, err: copyFn(line)}
	}
}

func (m *Model) setFocus(f focus) {
	m.focus = f
	if f == focusInput {
		m.input.Focus()
	} else {
		m.input.Blur()
	}
}

func (m *Model) applyChange(change viewer.Change) {
	switch change.Kind {
	case viewer.ResultsReplaced:
		items := make([]list.Item, 0, len(m.viewer.Results))
		for _, r := range m.viewer.Results {
			items = append(items, resultItem{msg: r})
		}
		m.results.SetItems(items)
		m.results.Select(0)
		if len(items) > 0 && m.focus == focusInput {
			m.setFocus(focusResults)
		}
	case viewer.ChatReplaced:
		m.renderChat()
		m.chat.SetYOffset(m.linesBefore(m.anchorIndex()))
		m.setFocus(focusChat)
	case viewer.Prepended:
		offset := m.chat.YOffset
		m.renderChat()
		m.chat.SetYOffset(offset + m.linesBefore(change.Count))
	case viewer.Appended:
		m.renderChat()
	}
}

func (m Model) anchorIndex() int {
	for i, msg := range m.viewer.Chat {
		if msg.ID == m.viewer.Selected {
			return i
		}
	}
	return 0
}

func (m Model) linesBefore(n int) int {
	total := 0
	for i := 0; i < n && i < len(m.lines); i++ {
		total += m.lines[i]
	}
	return total
}

func (m *Model) renderChat() {
	width := m.chat.Width
	if width <= 0 {
		width = 80
	}
	line := lipgloss.NewStyle().Width(width)
	var sb strings.Builder
	m.lines = m.lines[:0]
	for i, msg := range m.viewer.Chat {
		rendered := line.Render(m.messageText(msg))
		m.lines = append(m.lines, strings.Count(rendered, "\n")+1)
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(rendered)
	}
	m.chat.SetContent(sb.String())
}

func (m Model) messageText(msg chatlog.Message) string {
	if m.opts.HighlightAnchor && msg.ID == m.viewer.Selected {
		return anchorStyle.Render(msg.Name + ": " + msg.Text)
	}
	return nameStyle.Render(msg.Name+":") + " " + msg.Text
}

func (m *Model) layout() {
	resultsWidth := m.width * 2 / 5
	bodyHeight := m.height - 4
	if bodyHeight < 3 {
		bodyHeight = 3
	}
	m.input.Width = m.width - 4
	m.results.SetSize(resultsWidth-2, bodyHeight)
	m.chat.Width = m.width - resultsWidth - 4
	m.chat.Height = bodyHeight
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	resultsPane, chatPane := paneStyle, paneStyle
	switch m.focus {
	case focusResults:
		resultsPane = focusedPaneStyle
	case focusChat:
		chatPane = focusedPaneStyle
	}

	chat := m.chat.View()
	if !m.viewer.Visible {
		chat = emptyChatStyle.Width(m.chat.Width).Height(m.chat.Height).Render("Open a result to read the conversation")
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		resultsPane.Render(m.results.View()),
		chatPane.Render(chat),
	)
	return lipgloss.JoinVertical(lipgloss.Left, m.input.View(), body, m.statusLine())
}

func (m Model) statusLine() string {
	if m.viewer.Err != nil {
		return errorStyle.Render("error: " + m.viewer.Err.Error())
	}
	if m.notice != "" {
		return statusStyle.Render(m.notice)
	}
	parts := []string{fmt.Sprintf("%d results", len(m.viewer.Results))}
	if m.viewer.Visible {
		c := m.viewer.Cursor
		parts = append(parts, fmt.Sprintf("%d messages", len(m.viewer.Chat)))
		if c.PagingUp || c.PagingDown {
			parts = append(parts, "loading")
		}
		if c.AtStart {
			parts = append(parts, "start of history")
		}
		if c.AtEnd {
			parts = append(parts, "latest")
		}
	}
	parts = append(parts, "tab: focus  enter: search/open  y: copy  esc: quit")
	return statusStyle.Render(strings.Join(parts, " | "))
}

// Run starts the program full screen and blocks until the user quits.
func Run(ctx context.Context, v *viewer.Viewer, live <-chan chatlog.Message, opts Options) error {
	p := tea.NewProgram(New(ctx, v, live, opts), tea.WithAltScreen(), tea.WithMouseCellMotion(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}
