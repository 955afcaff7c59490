package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/notepid/portal_inbox/internal/app"
)

type screen int

const (
	screenLoading screen = iota
	screenLogin
	screenInbox
)

type rootModel struct {
	app *app.App

	width  int
	height int

	active  screen
	spinner spinner.Model

	login *loginModel
	inbox *inboxModel
}

type resumeMsg struct {
	ok  bool
	err error
}

// NewRootModel returns the top-level model of the terminal client.
func NewRootModel(a *app.App) tea.Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return &rootModel{app: a, active: screenLoading, spinner: s}
}

func (m *rootModel) Init() tea.Cmd {
	a := m.app
	resume := func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		ok, err := a.Resume(ctx)
		return resumeMsg{ok: ok, err: err}
	}
	return tea.Batch(m.spinner.Tick, resume)
}

func (m *rootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		if m.login != nil {
			m.login.SetSize(msg.Width, msg.Height)
		}
		if m.inbox != nil {
			m.inbox.SetSize(msg.Width, msg.Height)
		}
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, m.quit()
		}
	case resumeMsg:
		if msg.ok {
			return m, m.openInbox()
		}
		notice := ""
		if msg.err != nil {
			notice = fmt.Sprintf("Could not restore session: %v", msg.err)
		}
		return m, m.openLogin(notice)
	}

	switch m.active {
	case screenLoading:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case screenLogin:
		cmd := m.login.Update(msg)
		if m.login.Quit {
			return m, m.quit()
		}
		if m.login.Done {
			m.login = nil
			return m, m.openInbox()
		}
		return m, cmd
	case screenInbox:
		cmd := m.inbox.Update(msg)
		if m.inbox.Quit {
			return m, m.quit()
		}
		if m.inbox.LoggedOut {
			m.inbox.Close()
			m.inbox = nil
			notice := ""
			if err := m.app.Logout(); err != nil {
				notice = err.Error()
			}
			return m, m.openLogin(notice)
		}
		return m, cmd
	default:
		return m, nil
	}
}

func (m *rootModel) openLogin(notice string) tea.Cmd {
	m.active = screenLogin
	m.login = newLoginModel(m.app, notice)
	m.login.SetSize(m.width, m.height)
	return m.login.Init()
}

func (m *rootModel) openInbox() tea.Cmd {
	m.active = screenInbox
	m.inbox = newInboxModel(m.app)
	m.inbox.SetSize(m.width, m.height)
	return m.inbox.Init()
}

// quit stops background sync before leaving the program.
func (m *rootModel) quit() tea.Cmd {
	if m.inbox != nil {
		m.inbox.Close()
	}
	return tea.Quit
}

func (m *rootModel) View() string {
	switch m.active {
	case screenLoading:
		return m.spinner.View() + " Checking saved session..."
	case screenLogin:
		if m.login == nil {
			return "Loading..."
		}
		return m.login.View()
	case screenInbox:
		if m.inbox == nil {
			return "Loading inbox..."
		}
		return m.inbox.View()
	default:
		return titleStyle.Render("Unknown screen") + "\n" + fmt.Sprint(m.active)
	}
}
