package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/notepid/portal_inbox/internal/app"
	"github.com/notepid/portal_inbox/internal/chat"
	"github.com/notepid/portal_inbox/internal/message"
)

type focus int

const (
	focusList focus = iota
	focusComposer
)

// inboxModel owns the sync loop for as long as the inbox is on screen.
type inboxModel struct {
	app *app.App

	width  int
	height int

	LoggedOut bool
	Quit      bool

	syncer *chat.Syncer
	broker *chat.Broker
	sub    *chat.Subscriber
	err    error

	view     chat.View
	list     list.Model
	thread   viewport.Model
	composer textinput.Model
	focus    focus

	selected *message.Conversation
	newChat  *newChatModel
	readSent map[int64]bool // ids already handed to MarkRead

	sendErr error
	sending int
}

type viewMsg chat.View

type viewClosedMsg struct{}

type sendResultMsg struct {
	err error
}

type convItem struct {
	conv message.Conversation
}

func (i convItem) Title() string {
	name := i.conv.Counterpart.DisplayName()
	if i.conv.Unread > 0 {
		name += " " + badgeStyle.Render(fmt.Sprint(i.conv.Unread))
	}
	return name
}

func (i convItem) Description() string {
	if i.conv.LastMessage == nil {
		return "new conversation"
	}
	last := i.conv.LastMessage
	preview := strings.ReplaceAll(last.Content, "\n", " ")
	if len([]rune(preview)) > 40 {
		preview = string([]rune(preview)[:40]) + "..."
	}
	return formatTime(last.Timestamp) + "  " + preview
}

func (i convItem) FilterValue() string { return i.conv.Counterpart.DisplayName() }

func newInboxModel(a *app.App) *inboxModel {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Messages"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.DisableQuitKeybindings()

	ti := textinput.New()
	ti.Placeholder = "Type a message"
	ti.CharLimit = 2000
	ti.Prompt = "> "

	m := &inboxModel{
		app:      a,
		list:     l,
		thread:   viewport.New(0, 0),
		composer: ti,
		focus:    focusList,
		readSent: make(map[int64]bool),
	}

	m.broker = chat.NewBroker(a.Logger)
	m.sub = m.broker.Subscribe("inbox")
	m.syncer, m.err = a.NewSyncer(m.broker)
	if m.err == nil {
		m.err = m.syncer.Start()
	}
	return m
}

func (m *inboxModel) Init() tea.Cmd {
	if m.err != nil {
		return nil
	}
	return waitForView(m.sub)
}

func waitForView(sub *chat.Subscriber) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-sub.Ch
		if !ok {
			return viewClosedMsg{}
		}
		return viewMsg(v)
	}
}

// Close stops the sync loop and releases the view subscription.
func (m *inboxModel) Close() {
	if m.syncer != nil {
		m.syncer.Stop()
	}
	m.broker.Close()
}

func (m *inboxModel) SetSize(w, h int) {
	m.width, m.height = w, h

	leftW := w / 3
	if leftW < 24 {
		leftW = min(24, w)
	}
	rightW := max(w-leftW, 0)
	bodyH := max(h-3, 0) // header and status lines plus one spare

	m.list.SetSize(max(leftW-2, 0), max(bodyH-2, 0))
	m.thread.Width = max(rightW-2, 0)
	m.thread.Height = max(bodyH-2-2, 0) // pane border and composer
	m.composer.Width = max(rightW-6, 0)
	m.renderThread()
}

func (m *inboxModel) self() int64 {
	if u := m.app.User(); u != nil {
		return u.ID
	}
	return 0
}

func (m *inboxModel) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case viewMsg:
		cmd := m.applyView(chat.View(msg))
		return tea.Batch(cmd, waitForView(m.sub))
	case viewClosedMsg:
		return nil
	case sendResultMsg:
		m.sending--
		m.sendErr = msg.err
		return nil
	}

	if m.err != nil {
		if k, ok := msg.(tea.KeyMsg); ok {
			switch k.String() {
			case "q", "esc":
				m.Quit = true
			case "ctrl+l":
				m.LoggedOut = true
			}
		}
		return nil
	}

	if m.newChat != nil {
		cmd := m.newChat.Update(msg)
		if m.newChat.Done {
			picked := m.newChat.Picked
			m.newChat = nil
			if picked != nil {
				return m.open(message.OpenConversation(m.view.Conversations, *picked))
			}
		}
		return cmd
	}

	k, ok := msg.(tea.KeyMsg)
	if !ok {
		return m.forward(msg)
	}

	switch k.String() {
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.thread, cmd = m.thread.Update(msg)
		return cmd
	case "ctrl+l":
		m.LoggedOut = true
		return nil
	}

	if m.focus == focusComposer {
		switch k.String() {
		case "enter":
			return m.send()
		case "esc", "tab":
			m.focus = focusList
			m.composer.Blur()
			return nil
		}
		var cmd tea.Cmd
		m.composer, cmd = m.composer.Update(msg)
		return cmd
	}

	switch k.String() {
	case "q":
		m.Quit = true
		return nil
	case "enter":
		if it, ok := m.list.SelectedItem().(convItem); ok {
			return m.open(it.conv)
		}
		return nil
	case "tab":
		if m.selected != nil {
			m.focus = focusComposer
			return m.composer.Focus()
		}
		return nil
	case "esc":
		m.selected = nil
		m.renderThread()
		return nil
	case "n":
		m.newChat = newNewChatModel(m.app, m.width)
		return m.newChat.Init()
	case "r":
		m.syncer.Refresh()
		return nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return cmd
}

func (m *inboxModel) forward(msg tea.Msg) tea.Cmd {
	var listCmd, inputCmd tea.Cmd
	m.list, listCmd = m.list.Update(msg)
	if m.focus == focusComposer {
		m.composer, inputCmd = m.composer.Update(msg)
	}
	return tea.Batch(listCmd, inputCmd)
}

// applyView replaces the displayed data, keeping the list cursor and the
// open conversation where they were.
func (m *inboxModel) applyView(v chat.View) tea.Cmd {
	m.view = v

	var cursorID int64
	if it, ok := m.list.SelectedItem().(convItem); ok {
		cursorID = it.conv.Counterpart.ID
	}

	items := make([]list.Item, 0, len(v.Conversations))
	cursor := 0
	for i, c := range v.Conversations {
		items = append(items, convItem{conv: c})
		if c.Counterpart.ID == cursorID {
			cursor = i
		}
	}
	cmd := m.list.SetItems(items)
	if len(items) > 0 {
		m.list.Select(cursor)
	}

	if m.selected != nil {
		if c, ok := message.FindConversation(v.Conversations, m.selected.Counterpart.ID); ok {
			m.selected = &c
			m.markRead(c)
		}
	}
	m.renderThread()
	return cmd
}

// open shows a conversation, possibly a placeholder for a new chat, and
// moves focus to the composer.
func (m *inboxModel) open(c message.Conversation) tea.Cmd {
	m.selected = &c
	m.sendErr = nil
	m.markRead(c)
	m.renderThread()
	m.focus = focusComposer
	return m.composer.Focus()
}

func (m *inboxModel) markRead(c message.Conversation) {
	if ids := m.unreadToMark(c); len(ids) > 0 {
		m.syncer.MarkRead(ids...)
	}
}

// unreadToMark returns the unread incoming ids of c not marked yet during
// this inbox session. A batch fetched before the server applied a mark
// still lists the message as unread; it is not marked twice.
func (m *inboxModel) unreadToMark(c message.Conversation) []int64 {
	self := m.self()
	var ids []int64
	for _, msg := range c.Messages {
		if msg.RecipientID != self || msg.Read || msg.ID == 0 || m.readSent[msg.ID] {
			continue
		}
		m.readSent[msg.ID] = true
		ids = append(ids, msg.ID)
	}
	return ids
}

func (m *inboxModel) send() tea.Cmd {
	if m.selected == nil {
		return nil
	}
	content := m.composer.Value()
	to := m.selected.Counterpart
	m.composer.Reset()
	m.sending++

	syncer := m.syncer
	return func() tea.Msg {
		_, err := syncer.Send(context.Background(), to, content)
		return sendResultMsg{err: err}
	}
}

func (m *inboxModel) renderThread() {
	if m.selected == nil {
		m.thread.SetContent(mutedStyle.Render("Select a conversation, or press n to start one."))
		return
	}

	self := m.self()
	width := m.thread.Width
	var b strings.Builder
	if len(m.selected.Messages) == 0 {
		b.WriteString(mutedStyle.Render("No messages yet. Say hello."))
	}
	for i, msg := range m.selected.Messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(renderMessage(msg, msg.SenderID == self, width))
	}
	m.thread.SetContent(b.String())
	m.thread.GotoBottom()
}

func renderMessage(msg message.Message, own bool, width int) string {
	bubbleW := max(width*2/3, 10)
	meta := formatTime(msg.Timestamp)
	switch msg.Status {
	case message.StatusPending:
		meta += " sending..."
	case message.StatusSent:
		meta += " sent"
	case message.StatusFailed:
		meta += " " + failedStyle.Render("failed: not delivered")
	}

	if own {
		bubble := ownBubble.MaxWidth(bubbleW).Render(msg.Content)
		block := lipgloss.JoinVertical(lipgloss.Right, bubble, mutedStyle.Render(meta))
		return lipgloss.PlaceHorizontal(width, lipgloss.Right, block)
	}
	bubble := theirBubble.MaxWidth(bubbleW).Render(msg.Content)
	return lipgloss.JoinVertical(lipgloss.Left, bubble, mutedStyle.Render(meta))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	local := t.Local()
	y, mo, d := local.Date()
	ny, nmo, nd := time.Now().Date()
	if y == ny && mo == nmo && d == nd {
		return local.Format("15:04")
	}
	return local.Format("Jan 2 15:04")
}

func (m *inboxModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Inbox error: %v\n\nPress q to quit or ctrl+l to sign out.", m.err)
	}
	if m.newChat != nil {
		return m.newChat.View()
	}

	header := titleStyle.Render("Portal Inbox")
	if u := m.app.User(); u != nil {
		header += mutedStyle.Render("  " + u.DisplayName())
	}

	leftStyle, rightStyle := paneStyle, paneStyle
	if m.focus == focusList {
		leftStyle = focusedPaneStyle
	} else {
		rightStyle = focusedPaneStyle
	}

	left := leftStyle.Render(m.list.View())

	title := mutedStyle.Render("No conversation selected")
	if m.selected != nil {
		title = titleStyle.Render(m.selected.Counterpart.DisplayName())
	}
	right := rightStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		title,
		m.thread.View(),
		m.composer.View(),
	))

	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	return lipgloss.JoinVertical(lipgloss.Left, header, body, m.statusLine())
}

func (m *inboxModel) statusLine() string {
	parts := []string{}
	if m.view.SyncedAt.IsZero() {
		parts = append(parts, "syncing...")
	} else {
		parts = append(parts, "synced "+m.view.SyncedAt.Local().Format("15:04:05"))
	}
	if m.view.Pending > 0 {
		parts = append(parts, fmt.Sprintf("%d unconfirmed", m.view.Pending))
	}
	if m.sending > 0 {
		parts = append(parts, "sending")
	}
	parts = append(parts, "enter open/send | tab focus | n new | r refresh | ctrl+l sign out | q quit")

	line := mutedStyle.Render(strings.Join(parts, " | "))
	if m.sendErr != nil {
		line = errStyle.Render("Send failed: ") + m.sendErr.Error() + "  " + line
	}
	return line
}
